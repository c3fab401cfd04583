/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package debugger

import (
	"fmt"
	"strings"

	"github.com/google/go-dap"

	"github.com/microsoft/vmdbg/internal/vm"
)

const (
	// localsReference is the variables reference of the only scope.
	localsReference = 1

	memorySeparator = "."
)

func threads(req *dap.Request) *dap.ThreadsResponse {
	return &dap.ThreadsResponse{
		Response: newResponse(req),
		Body: dap.ThreadsResponseBody{
			Threads: []dap.Thread{{Id: MainThreadID, Name: "main"}},
		},
	}
}

// scopes reports the register scope for frame 0. There are no other frames.
func (rs *runningState) scopes(req *dap.Request, frameID int) *dap.ScopesResponse {
	resp := &dap.ScopesResponse{
		Response: newResponse(req),
		Body:     dap.ScopesResponseBody{Scopes: []dap.Scope{}},
	}
	if frameID == 0 {
		resp.Body.Scopes = append(resp.Body.Scopes, dap.Scope{
			Name:               "Locals",
			PresentationHint:   "locals",
			VariablesReference: localsReference,
			Line:               int(rs.machine.ProgramCounter()),
		})
	}
	return resp
}

// variables lists every register by position, whatever reference was asked for.
func (rs *runningState) variables(req *dap.Request) *dap.VariablesResponse {
	registers := rs.machine.Registers()
	vars := make([]dap.Variable, len(registers))
	for i := range registers {
		vars[i] = dap.Variable{
			Name:  fmt.Sprintf("Register %d", i),
			Value: registers[i].Dec(),
		}
	}
	return &dap.VariablesResponse{
		Response: newResponse(req),
		Body:     dap.VariablesResponseBody{Variables: vars},
	}
}

// readMemory dumps the whole memory as decimal words joined by a separator.
func (rs *runningState) readMemory(req *dap.Request) *dap.ReadMemoryResponse {
	memory := rs.machine.Memory()
	words := make([]string, len(memory))
	for i := range memory {
		words[i] = memory[i].Dec()
	}
	return &dap.ReadMemoryResponse{
		Response: newResponse(req),
		Body: dap.ReadMemoryResponseBody{
			Address: "Memory",
			Data:    strings.Join(words, memorySeparator),
		},
	}
}

func (s *Session) setBreakpoints(rs *runningState, req *dap.SetBreakpointsRequest) *dap.SetBreakpointsResponse {
	lines := make([]int, 0, len(req.Arguments.Breakpoints))
	for _, sbp := range req.Arguments.Breakpoints {
		lines = append(lines, sbp.Line)
	}
	if len(req.Arguments.Breakpoints) == 0 {
		lines = append(lines, req.Arguments.Lines...)
	}

	armed := rs.breakpoints.Replace(lines)

	programLen := -1
	if sizer, ok := rs.machine.(vm.ProgramSizer); ok {
		programLen = sizer.ProgramLen()
	}

	source := req.Arguments.Source
	result := make([]dap.Breakpoint, len(lines))
	for i, line := range lines {
		bp := dap.Breakpoint{Line: line, Source: &source}
		switch {
		case !armed[i]:
			bp.Message = fmt.Sprintf("line %d does not name an instruction", line)
		case programLen >= 0 && line >= programLen:
			bp.Message = fmt.Sprintf("the program has no instruction at address %d", line)
		default:
			bp.Verified = true
		}
		result[i] = bp
	}

	s.log.V(1).Info("Breakpoints replaced", "addresses", rs.breakpoints.Addresses())
	return &dap.SetBreakpointsResponse{
		Response: newResponse(&req.Request),
		Body:     dap.SetBreakpointsResponseBody{Breakpoints: result},
	}
}
