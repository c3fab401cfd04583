/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package debugger

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-dap"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/microsoft/vmdbg/internal/solver"
	"github.com/microsoft/vmdbg/internal/vm"
	"github.com/microsoft/vmdbg/pkg/testutil"
)

func testContext(t *testing.T) context.Context {
	ctx, cancel := testutil.GetTestContext(t, 20*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// scriptedMachine advances the program counter by one per opcode unless a scripted outcome says otherwise.
type scriptedMachine struct {
	pc        uint64
	length    int
	outcomes  map[uint64]vm.Outcome
	registers []uint256.Int
	memory    []uint256.Int
	executed  []uint64
	output    map[uint64]string
	pending   []string
}

func newScriptedMachine(length int, outcomes map[uint64]vm.Outcome) *scriptedMachine {
	return &scriptedMachine{
		length:    length,
		outcomes:  outcomes,
		registers: []uint256.Int{*uint256.NewInt(7), *uint256.NewInt(0), *uint256.NewInt(42)},
		memory:    []uint256.Int{*uint256.NewInt(1), *uint256.NewInt(2), *uint256.NewInt(3)},
	}
}

func (m *scriptedMachine) ProcessOpcode() vm.Outcome {
	m.executed = append(m.executed, m.pc)
	if line, found := m.output[m.pc]; found {
		m.pending = append(m.pending, line)
	}

	outcome, found := m.outcomes[m.pc]
	if !found {
		outcome = vm.Progressing()
	}
	if outcome.Kind == vm.InProgress || outcome.Kind == vm.WaitingForeignCall {
		m.pc++
	}
	return outcome
}

func (m *scriptedMachine) ProgramCounter() uint64 { return m.pc }
func (m *scriptedMachine) Registers() []uint256.Int {
	return append([]uint256.Int(nil), m.registers...)
}
func (m *scriptedMachine) Memory() []uint256.Int { return append([]uint256.Int(nil), m.memory...) }
func (m *scriptedMachine) ProgramLen() int       { return m.length }

func (m *scriptedMachine) DrainOutput() []string {
	out := m.pending
	m.pending = nil
	return out
}

// testSession wires a session to a fixed machine and records the solvers it creates.
type testSession struct {
	*Session
	machine *scriptedMachine
	solvers []*solver.Solver
	seq     int
}

func newTestSession(t *testing.T, m *scriptedMachine) *testSession {
	t.Helper()
	ts := &testSession{machine: m}
	ts.Session = NewSession(SessionConfig{
		Backend: BackendFunc(func(args LaunchArguments, s *solver.Solver) (vm.Machine, error) {
			return m, nil
		}),
		NewSolver: func() *solver.Solver {
			s := solver.New()
			ts.solvers = append(ts.solvers, s)
			return s
		},
		Logger: testutil.NewLogForTesting(t.Name()),
	})
	return ts
}

func (ts *testSession) request(command string) dap.Request {
	ts.seq++
	return dap.Request{
		ProtocolMessage: dap.ProtocolMessage{Seq: ts.seq, Type: "request"},
		Command:         command,
	}
}

func (ts *testSession) launchRequest(args string) *dap.LaunchRequest {
	return &dap.LaunchRequest{Request: ts.request("launch"), Arguments: json.RawMessage(args)}
}

const validLaunchArgs = `{"src_path": "program.bvm", "vm": "brillig"}`

// launch brings the session into the running state.
func (ts *testSession) launch(t *testing.T) {
	t.Helper()
	msgs, err := ts.Handle(testContext(t), ts.launchRequest(validLaunchArgs))
	require.NoError(t, err)
	require.Equal(t, []string{"response:launch", "event:initialized", "stopped:entry"}, describe(msgs))
	require.Equal(t, StateRunning, ts.State())
}

func (ts *testSession) handle(t *testing.T, req dap.RequestMessage) []string {
	t.Helper()
	msgs, err := ts.Handle(testContext(t), req)
	require.NoError(t, err)
	return describe(msgs)
}

func (ts *testSession) next() *dap.NextRequest {
	return &dap.NextRequest{Request: ts.request("next")}
}

func (ts *testSession) cont() *dap.ContinueRequest {
	return &dap.ContinueRequest{Request: ts.request("continue")}
}

func (ts *testSession) setBreakpoints(lines ...int) *dap.SetBreakpointsRequest {
	req := &dap.SetBreakpointsRequest{Request: ts.request("setBreakpoints")}
	req.Arguments.Source = dap.Source{Name: "program.bvm"}
	for _, l := range lines {
		req.Arguments.Breakpoints = append(req.Arguments.Breakpoints, dap.SourceBreakpoint{Line: l})
	}
	return req
}

// describe renders messages in a compact form that is easy to compare.
func describe(msgs []dap.Message) []string {
	out := []string{}
	for _, m := range msgs {
		switch msg := m.(type) {
		case *dap.StoppedEvent:
			out = append(out, "stopped:"+msg.Body.Reason)
		case *dap.OutputEvent:
			out = append(out, fmt.Sprintf("output:%s:%q", msg.Body.Category, msg.Body.Output))
		case *dap.ExitedEvent:
			out = append(out, fmt.Sprintf("event:exited:%d", msg.Body.ExitCode))
		case *dap.ErrorResponse:
			out = append(out, "error:"+msg.Command)
		case *dap.TerminateResponse:
			out = append(out, "terminate:"+msg.Command)
		case dap.EventMessage:
			out = append(out, "event:"+msg.GetEvent().Event)
		case dap.ResponseMessage:
			out = append(out, "response:"+msg.GetResponse().Command)
		default:
			out = append(out, fmt.Sprintf("unexpected:%T", m))
		}
	}
	return out
}
