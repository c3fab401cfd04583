/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package debugger

import (
	"context"

	"github.com/google/go-dap"

	"github.com/microsoft/vmdbg/internal/vm"
)

// step executes exactly one opcode on behalf of a next, stepIn or stepOut request.
func (s *Session) step(rs *runningState, req *dap.Request) (State, []dap.Message, error) {
	outcome := rs.machine.ProcessOpcode()
	msgs := rs.drainOutput()

	switch outcome.Kind {
	case vm.InProgress:
		return rs, append(msgs, newAckResponse(req), rs.stop(StopReasonStep)), nil

	case vm.Finished:
		s.log.Info("Program finished", "pc", rs.machine.ProgramCounter())
		return exitedState{}, append(msgs, finishedMessages(req)...), nil

	case vm.Failed:
		return exitedState{}, msgs, s.executionError(rs, outcome)

	default:
		// A single step cannot wait for a foreign call to be answered.
		s.log.Info("Unsupported outcome while stepping, ending the session", "outcome", outcome.String())
		return exitedState{}, append(msgs, newAckResponse(req), NewTerminatedEvent()), nil
	}
}

// runToStop executes opcodes until a breakpoint is reached, the program ends,
// or the caller asks to handle another request.
func (s *Session) runToStop(ctx context.Context, rs *runningState, interrupted func() bool) (State, []dap.Message, error) {
	var msgs []dap.Message
	executed := 0

	for {
		if ctx.Err() != nil || (interrupted != nil && interrupted()) {
			s.log.V(1).Info("Continue interrupted", "pc", rs.machine.ProgramCounter(), "executed", executed)
			return rs, msgs, nil
		}

		outcome := rs.machine.ProcessOpcode()
		executed++
		msgs = append(msgs, rs.drainOutput()...)

		switch outcome.Kind {
		case vm.InProgress, vm.WaitingForeignCall:
		case vm.Finished:
			s.log.Info("Program finished", "pc", rs.machine.ProgramCounter(), "executed", executed)
			return exitedState{}, append(msgs, finishedMessages(&rs.continueRequest)...), nil
		case vm.Failed:
			return exitedState{}, msgs, s.executionError(rs, outcome)
		}

		if pc := rs.machine.ProgramCounter(); rs.breakpoints.Matches(pc) {
			s.log.V(1).Info("Breakpoint hit", "pc", pc, "executed", executed)
			return rs, append(msgs, rs.stop(StopReasonBreakpoint)), nil
		}
	}
}

// finishedMessages tells the client that the program ran to completion.
func finishedMessages(req *dap.Request) []dap.Message {
	return []dap.Message{
		newTerminateResponse(req),
		newExitedEvent(0),
		NewTerminatedEvent(),
	}
}

func (s *Session) executionError(rs *runningState, outcome vm.Outcome) error {
	vmErr := &VMExecutionError{ProgramCounter: rs.machine.ProgramCounter(), Message: outcome.Message}
	s.log.Error(vmErr, "Program failed")
	return vmErr
}

func (rs *runningState) drainOutput() []dap.Message {
	src, ok := rs.machine.(vm.OutputSource)
	if !ok {
		return nil
	}

	var msgs []dap.Message
	for _, line := range src.DrainOutput() {
		msgs = append(msgs, NewOutputEvent("stdout", line))
	}
	return msgs
}
