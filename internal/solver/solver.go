/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package solver implements the black box functions available to bytecode programs.
// All arithmetic happens in the bn254 scalar field.
//
// A Solver is an owned resource: a debug session creates one when it launches a program
// and closes it when the session ends. A closed Solver rejects further calls.
package solver

import (
	"errors"
	"fmt"
	"hash"
	"sync"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/holiman/uint256"
)

var (
	// ErrClosed is returned when a closed solver is asked to solve something.
	ErrClosed = errors.New("solver is closed")

	// ErrUnknownFunction is returned for black box function names the solver does not implement.
	ErrUnknownFunction = errors.New("unknown black box function")
)

const (
	FieldAdd     = "field_add"
	FieldMul     = "field_mul"
	FieldInverse = "field_inv"
	MiMC         = "mimc"
)

// arity is the number of inputs each function takes; -1 means one or more.
var arity = map[string]int{
	FieldAdd:     2,
	FieldMul:     2,
	FieldInverse: 1,
	MiMC:         -1,
}

type Solver struct {
	mu     sync.Mutex
	hasher hash.Hash
	closed bool
	calls  uint64
}

func New() *Solver {
	return &Solver{
		hasher: mimc.NewMiMC(),
	}
}

// Solve evaluates the named black box function.
func (s *Solver) Solve(function string, inputs []uint256.Int) (uint256.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return uint256.Int{}, ErrClosed
	}

	want, found := arity[function]
	if !found {
		return uint256.Int{}, fmt.Errorf("%w '%s'", ErrUnknownFunction, function)
	}
	if (want >= 0 && len(inputs) != want) || (want < 0 && len(inputs) == 0) {
		return uint256.Int{}, fmt.Errorf("black box function '%s' got %d inputs", function, len(inputs))
	}

	s.calls++

	elems := make([]fr.Element, len(inputs))
	for i := range inputs {
		elems[i] = toElement(&inputs[i])
	}

	var res fr.Element
	switch function {
	case FieldAdd:
		res.Add(&elems[0], &elems[1])
	case FieldMul:
		res.Mul(&elems[0], &elems[1])
	case FieldInverse:
		if elems[0].IsZero() {
			return uint256.Int{}, fmt.Errorf("black box function '%s': zero has no inverse", function)
		}
		res.Inverse(&elems[0])
	case MiMC:
		s.hasher.Reset()
		for i := range elems {
			b := elems[i].Bytes()
			if _, writeErr := s.hasher.Write(b[:]); writeErr != nil {
				return uint256.Int{}, fmt.Errorf("black box function '%s': %w", function, writeErr)
			}
		}
		res.SetBytes(s.hasher.Sum(nil))
	}

	return fromElement(&res), nil
}

// Calls returns how many black box functions were evaluated.
func (s *Solver) Calls() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Close releases the solver. It is safe to call Close more than once.
func (s *Solver) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.hasher = nil
	return nil
}

func (s *Solver) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// toElement reduces a 256-bit word modulo the field order.
func toElement(v *uint256.Int) fr.Element {
	var e fr.Element
	b := v.Bytes32()
	e.SetBytes(b[:])
	return e
}

func fromElement(e *fr.Element) uint256.Int {
	b := e.Bytes()
	var v uint256.Int
	v.SetBytes(b[:])
	return v
}
