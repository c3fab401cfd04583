/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package debugger

import (
	"strings"

	"github.com/google/go-dap"
)

// StopReason is attached to every stopped event.
type StopReason string

const (
	StopReasonEntry      StopReason = "entry"
	StopReasonStep       StopReason = "step"
	StopReasonBreakpoint StopReason = "breakpoint"
	StopReasonPause      StopReason = "pause"
)

// Description returns the human readable form shown by clients, e.g. "Breakpoint".
func (r StopReason) Description() string {
	if r == "" {
		return ""
	}
	return strings.ToUpper(string(r[:1])) + string(r[1:])
}

// MainThreadID is the id of the only thread a program has.
const MainThreadID = 0

// Outbound messages carry sequence number 0; the sender assigns the real one.

func newResponse(req *dap.Request) dap.Response {
	return dap.Response{
		ProtocolMessage: dap.ProtocolMessage{
			Type: "response",
		},
		Command:    req.Command,
		RequestSeq: req.Seq,
		Success:    true,
	}
}

func newEvent(event string) dap.Event {
	return dap.Event{
		ProtocolMessage: dap.ProtocolMessage{
			Type: "event",
		},
		Event: event,
	}
}

// NewErrorResponse creates a failed response to req.
func NewErrorResponse(req *dap.Request, code int, message string) *dap.ErrorResponse {
	resp := &dap.ErrorResponse{
		Response: newResponse(req),
		Body: dap.ErrorResponseBody{
			Error: &dap.ErrorMessage{
				Id:       code,
				Format:   message,
				ShowUser: true,
			},
		},
	}
	resp.Success = false
	resp.Message = message
	return resp
}

// newAckResponse creates an empty success response with the concrete type matching the request command.
func newAckResponse(req *dap.Request) dap.Message {
	resp := newResponse(req)
	switch req.Command {
	case "next":
		return &dap.NextResponse{Response: resp}
	case "stepIn":
		return &dap.StepInResponse{Response: resp}
	case "stepOut":
		return &dap.StepOutResponse{Response: resp}
	case "pause":
		return &dap.PauseResponse{Response: resp}
	case "disconnect":
		return &dap.DisconnectResponse{Response: resp}
	case "launch":
		return &dap.LaunchResponse{Response: resp}
	default:
		return &resp
	}
}

// newTerminateResponse answers req with a terminate body, signalling that the program finished.
func newTerminateResponse(req *dap.Request) *dap.TerminateResponse {
	return &dap.TerminateResponse{Response: newResponse(req)}
}

func newStoppedEvent(reason StopReason) *dap.StoppedEvent {
	return &dap.StoppedEvent{
		Event: newEvent("stopped"),
		Body: dap.StoppedEventBody{
			Reason:            string(reason),
			Description:       reason.Description(),
			ThreadId:          MainThreadID,
			AllThreadsStopped: false,
		},
	}
}

func newInitializedEvent() *dap.InitializedEvent {
	return &dap.InitializedEvent{Event: newEvent("initialized")}
}

// NewTerminatedEvent tells the client that debugging has ended.
func NewTerminatedEvent() *dap.TerminatedEvent {
	return &dap.TerminatedEvent{Event: newEvent("terminated")}
}

func newExitedEvent(exitCode int) *dap.ExitedEvent {
	return &dap.ExitedEvent{
		Event: newEvent("exited"),
		Body:  dap.ExitedEventBody{ExitCode: exitCode},
	}
}

// NewOutputEvent creates an output event; a trailing newline is added when missing.
func NewOutputEvent(category string, output string) *dap.OutputEvent {
	if !strings.HasSuffix(output, "\n") {
		output += "\n"
	}
	return &dap.OutputEvent{
		Event: newEvent("output"),
		Body: dap.OutputEventBody{
			Category: category,
			Output:   output,
		},
	}
}
