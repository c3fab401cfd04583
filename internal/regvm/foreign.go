/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package regvm

import (
	"errors"
	"strings"

	"github.com/holiman/uint256"

	"github.com/microsoft/vmdbg/internal/vm"
)

// ForeignCallHandler resolves foreign functions that are not built in.
// It returns ErrUnknownForeignCall when it does not know the function.
type ForeignCallHandler func(function string, inputs []uint256.Int) (uint256.Int, error)

var ErrUnknownForeignCall = errors.New("unknown foreign call")

const (
	ForeignPrint    = "print"
	ForeignIdentity = "identity"
)

// resolveForeignCall completes the foreign call the machine is waiting on and
// moves past the foreign opcode.
func (m *Machine) resolveForeignCall() vm.Outcome {
	call := m.pending
	m.pending = nil

	var res uint256.Int
	switch call.function {
	case ForeignPrint:
		vals := make([]string, len(call.inputs))
		for i := range call.inputs {
			vals[i] = call.inputs[i].Dec()
		}
		m.output = append(m.output, strings.Join(vals, " "))

	case ForeignIdentity:
		if len(call.inputs) > 0 {
			res = call.inputs[0]
		}

	default:
		if m.foreign == nil {
			return m.fail("foreign call '%s': %v", call.function, ErrUnknownForeignCall)
		}
		var handlerErr error
		res, handlerErr = m.foreign(call.function, call.inputs)
		if handlerErr != nil {
			return m.fail("foreign call '%s': %v", call.function, handlerErr)
		}
	}

	if call.dst != NoRegister {
		m.registers[call.dst] = res
	}

	m.pc++
	return m.progress()
}
