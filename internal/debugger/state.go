/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package debugger

import (
	"github.com/google/go-dap"

	"github.com/microsoft/vmdbg/internal/solver"
	"github.com/microsoft/vmdbg/internal/vm"
)

// State is the lifecycle state of a session.
// The implementations are uninitializedState, *runningState and exitedState.
type State interface {
	Name() string
	isState()
}

const (
	StateUninitialized = "uninitialized"
	StateRunning       = "running"
	StateExited        = "exited"
)

type uninitializedState struct{}

func (uninitializedState) Name() string { return StateUninitialized }
func (uninitializedState) isState()     {}

// runningState owns the machine, the solver it was built with, and the breakpoint table.
type runningState struct {
	args        LaunchArguments
	machine     vm.Machine
	solver      *solver.Solver
	breakpoints *BreakpointTable

	// continuing is set by a continue request and cleared by any stop.
	continuing bool

	// continueRequest is the continue request being served, the finish response is correlated to it.
	continueRequest dap.Request
}

func (*runningState) Name() string { return StateRunning }
func (*runningState) isState()     {}

func newRunningState(args LaunchArguments, machine vm.Machine, s *solver.Solver) *runningState {
	return &runningState{
		args:        args,
		machine:     machine,
		solver:      s,
		breakpoints: NewBreakpointTable(),
	}
}

// release closes the solver. It is safe to call more than once.
func (rs *runningState) release() error {
	if rs.solver == nil {
		return nil
	}
	return rs.solver.Close()
}

type exitedState struct{}

func (exitedState) Name() string { return StateExited }
func (exitedState) isState()     {}
