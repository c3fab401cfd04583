/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package debugger

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/google/go-dap"
	"github.com/google/uuid"

	"github.com/microsoft/vmdbg/internal/solver"
	"github.com/microsoft/vmdbg/pkg/logger"
)

// SessionConfig contains the collaborators of a session.
type SessionConfig struct {
	// Backend builds the machine on launch. Defaults to CompilerBackend.
	Backend Backend

	// NewSolver creates the black box solver owned by the session. Defaults to solver.New.
	NewSolver func() *solver.Solver

	// WorkDir is used to resolve relative source paths.
	WorkDir string

	Logger logr.Logger
}

// Session is a single debugging context. It is not safe for concurrent use;
// the caller serializes requests.
type Session struct {
	id     string
	config SessionConfig
	log    logr.Logger
	state  State
}

func NewSession(config SessionConfig) *Session {
	if config.Backend == nil {
		config.Backend = CompilerBackend{}
	}
	if config.NewSolver == nil {
		config.NewSolver = solver.New
	}
	log := config.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	id := uuid.NewString()
	return &Session{
		id:     id,
		config: config,
		log:    log.WithValues(logger.SESSION_LOG_STREAM_ID, id, "sessionId", id),
		state:  uninitializedState{},
	}
}

func (s *Session) ID() string {
	return s.id
}

// State returns the name of the current lifecycle state.
func (s *Session) State() string {
	return s.state.Name()
}

func (s *Session) Exited() bool {
	_, exited := s.state.(exitedState)
	return exited
}

// Continuing returns true if a continue request was accepted and execution has not stopped yet.
// The caller should call Resume.
func (s *Session) Continuing() bool {
	rs, running := s.state.(*runningState)
	return running && rs.continuing
}

// Handle processes a single request and returns the messages to send, in order.
// A *ProtocolViolation leaves the session unchanged. A *VMExecutionError means
// the session has exited; the returned messages should still be sent.
func (s *Session) Handle(ctx context.Context, req dap.RequestMessage) ([]dap.Message, error) {
	request := req.GetRequest()
	s.log.V(1).Info("Handling request", "command", request.Command, "seq", request.Seq, "state", s.state.Name())

	next, msgs, err := s.transition(ctx, s.state, req)
	s.advance(next)
	return msgs, err
}

// Resume runs the program after a continue request until it stops at a breakpoint,
// finishes, or fails. Between opcodes it checks ctx and the interrupted probe
// (which may be nil); if either asks to stop, Resume returns without a stopped event
// and the session keeps continuing.
func (s *Session) Resume(ctx context.Context, interrupted func() bool) ([]dap.Message, error) {
	rs, running := s.state.(*runningState)
	if !running || !rs.continuing {
		return nil, nil
	}

	next, msgs, err := s.runToStop(ctx, rs, interrupted)
	s.advance(next)
	return msgs, err
}

// Close ends the session and releases its resources.
func (s *Session) Close() error {
	if s.Exited() {
		return nil
	}
	return s.advance(exitedState{})
}

// advance moves the session to next. Leaving the running state releases the solver.
func (s *Session) advance(next State) error {
	prev := s.state
	if prev == next {
		return nil
	}
	s.state = next

	var releaseErr error
	if rs, wasRunning := prev.(*runningState); wasRunning {
		releaseErr = rs.release()
		if releaseErr != nil {
			s.log.Error(releaseErr, "Failed to release the black box solver")
		}
	}
	if prev.Name() != next.Name() {
		s.log.Info("Debug session state changed", "from", prev.Name(), "to", next.Name())
	}
	return releaseErr
}

// transition is the state machine: it maps the current state and a request to
// the next state and the messages to send.
func (s *Session) transition(ctx context.Context, st State, req dap.RequestMessage) (State, []dap.Message, error) {
	switch cur := st.(type) {
	case uninitializedState:
		return s.handleUninitialized(ctx, req)
	case *runningState:
		return s.handleRunning(ctx, cur, req)
	case exitedState:
		return cur, nil, s.violation(cur, req)
	default:
		panic(fmt.Sprintf("unknown debug session state %T", st))
	}
}

func (s *Session) violation(st State, req dap.RequestMessage) error {
	return &ProtocolViolation{State: st.Name(), Command: req.GetRequest().Command}
}

func (s *Session) handleUninitialized(ctx context.Context, req dap.RequestMessage) (State, []dap.Message, error) {
	switch r := req.(type) {
	case *dap.InitializeRequest:
		s.log.V(1).Info("Client connected", "clientId", r.Arguments.ClientID, "adapterId", r.Arguments.AdapterID)
		return uninitializedState{}, []dap.Message{newInitializeResponse(&r.Request)}, nil

	case *dap.LaunchRequest:
		return s.launch(ctx, r)

	default:
		return uninitializedState{}, nil, s.violation(uninitializedState{}, req)
	}
}

func newInitializeResponse(req *dap.Request) *dap.InitializeResponse {
	return &dap.InitializeResponse{
		Response: newResponse(req),
		Body: dap.Capabilities{
			SupportsStepBack:          false,
			SupportsRestartRequest:    false,
			SupportsReadMemoryRequest: true,
		},
	}
}

func (s *Session) launch(_ context.Context, req *dap.LaunchRequest) (State, []dap.Message, error) {
	args, argErr := parseLaunchArguments(req.Arguments, s.config.WorkDir)
	if argErr != nil {
		s.log.Info("Rejecting launch request", "reason", argErr.Error())
		return uninitializedState{}, []dap.Message{
			NewErrorResponse(&req.Request, ErrorCodeLaunchArguments, argErr.Error()),
		}, nil
	}

	slv := s.config.NewSolver()
	launched := false
	defer func() {
		// Also covers a backend that panics.
		if !launched {
			_ = slv.Close()
		}
	}()

	machine, buildErr := s.config.Backend.Build(args, slv)
	if buildErr != nil {
		s.log.Error(buildErr, "Could not launch the program", "path", args.SourcePath)

		var msgs []dap.Message
		var compileErr *CompileError
		if errors.As(buildErr, &compileErr) {
			for _, d := range compileErr.Diagnostics {
				msgs = append(msgs, NewOutputEvent("stderr", d.String()))
			}
		}
		msgs = append(msgs, NewErrorResponse(&req.Request, ErrorCodeLaunchFailed, buildErr.Error()))
		return uninitializedState{}, msgs, nil
	}

	launched = true
	s.log.Info("Program launched", "path", args.SourcePath, "vm", args.VM)
	rs := newRunningState(args, machine, slv)
	return rs, []dap.Message{
		newAckResponse(&req.Request),
		newInitializedEvent(),
		rs.stop(StopReasonEntry),
	}, nil
}

func (s *Session) handleRunning(ctx context.Context, rs *runningState, req dap.RequestMessage) (State, []dap.Message, error) {
	var msgs []dap.Message

	// A continuation that was interrupted may have stopped right on a breakpoint.
	if rs.continuing && rs.breakpoints.Matches(rs.machine.ProgramCounter()) {
		msgs = append(msgs, rs.stop(StopReasonBreakpoint))
	}

	next, out, err := s.dispatchRunning(ctx, rs, req)
	return next, append(msgs, out...), err
}

func (s *Session) dispatchRunning(ctx context.Context, rs *runningState, req dap.RequestMessage) (State, []dap.Message, error) {
	switch r := req.(type) {
	case *dap.NextRequest:
		return s.step(rs, &r.Request)
	case *dap.StepInRequest:
		return s.step(rs, &r.Request)
	case *dap.StepOutRequest:
		return s.step(rs, &r.Request)

	case *dap.ContinueRequest:
		rs.continuing = true
		rs.continueRequest = r.Request
		return rs, []dap.Message{&dap.ContinueResponse{
			Response: newResponse(&r.Request),
			Body:     dap.ContinueResponseBody{AllThreadsContinued: true},
		}}, nil

	case *dap.PauseRequest:
		rs.continuing = false
		return rs, []dap.Message{newAckResponse(&r.Request), rs.stop(StopReasonPause)}, nil

	case *dap.ThreadsRequest:
		return rs, []dap.Message{threads(&r.Request)}, nil
	case *dap.ScopesRequest:
		return rs, []dap.Message{rs.scopes(&r.Request, r.Arguments.FrameId)}, nil
	case *dap.VariablesRequest:
		return rs, []dap.Message{rs.variables(&r.Request)}, nil
	case *dap.ReadMemoryRequest:
		return rs, []dap.Message{rs.readMemory(&r.Request)}, nil

	case *dap.SetBreakpointsRequest:
		return rs, []dap.Message{s.setBreakpoints(rs, r)}, nil

	case *dap.SetExceptionBreakpointsRequest:
		// There are no exception breakpoints; the request is accepted and ignored.
		return rs, []dap.Message{&dap.SetExceptionBreakpointsResponse{Response: newResponse(&r.Request)}}, nil

	case *dap.DisconnectRequest:
		s.log.Info("Client disconnected")
		return exitedState{}, []dap.Message{newAckResponse(&r.Request)}, nil

	default:
		return rs, nil, s.violation(rs, req)
	}
}

// stop records that execution is paused and returns the stopped event to send.
func (rs *runningState) stop(reason StopReason) *dap.StoppedEvent {
	rs.continuing = false
	return newStoppedEvent(reason)
}
