/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package vm defines the boundary between the debugger and the virtual machine it drives.
package vm

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// Machine is a stepping engine for a compiled bytecode program.
// Implementations are not safe for concurrent use.
type Machine interface {
	// ProcessOpcode executes exactly one opcode and reports the resulting status.
	ProcessOpcode() Outcome

	// ProgramCounter returns the address of the next opcode to execute.
	ProgramCounter() uint64

	// Registers returns a copy of the register file.
	Registers() []uint256.Int

	// Memory returns a copy of the addressable memory.
	Memory() []uint256.Int
}

// ProgramSizer is implemented by machines that know how many opcodes their program holds.
type ProgramSizer interface {
	ProgramLen() int
}

// OutputSource is implemented by machines that collect program output (e.g. print foreign calls).
// DrainOutput returns the output collected since the last call.
type OutputSource interface {
	DrainOutput() []string
}

type OutcomeKind int

const (
	InProgress OutcomeKind = iota
	WaitingForeignCall
	Finished
	Failed
)

func (k OutcomeKind) String() string {
	switch k {
	case InProgress:
		return "in-progress"
	case WaitingForeignCall:
		return "waiting-foreign-call"
	case Finished:
		return "finished"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the status reported by a single execution step.
// Message is only set for Failed outcomes.
type Outcome struct {
	Kind    OutcomeKind
	Message string
}

func Progressing() Outcome {
	return Outcome{Kind: InProgress}
}

func AwaitingForeignCall() Outcome {
	return Outcome{Kind: WaitingForeignCall}
}

func Done() Outcome {
	return Outcome{Kind: Finished}
}

func Failure(format string, args ...any) Outcome {
	return Outcome{Kind: Failed, Message: fmt.Sprintf(format, args...)}
}

func (o Outcome) String() string {
	if o.Kind == Failed {
		return fmt.Sprintf("%s: %s", o.Kind, o.Message)
	}
	return o.Kind.String()
}

// Kind names a VM family a program can be launched on.
type Kind string

const (
	KindBrillig Kind = "brillig"
)

var supportedKinds = []Kind{KindBrillig}

// ParseKind validates a VM family name. Matching is case-insensitive.
func ParseKind(s string) (Kind, error) {
	for _, k := range supportedKinds {
		if strings.EqualFold(string(k), strings.TrimSpace(s)) {
			return k, nil
		}
	}
	return "", fmt.Errorf("unsupported vm kind '%s' (supported: %s)", s, KindBrillig)
}
