/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/google/go-dap"
	"github.com/smallnest/chanx"

	"github.com/microsoft/vmdbg/internal/debugger"
	"github.com/microsoft/vmdbg/pkg/logger"
	"github.com/microsoft/vmdbg/pkg/resiliency"
)

// inboundQueueInitialCapacity is the initial capacity of the per-connection request queue.
const inboundQueueInitialCapacity = 16

// ServerConfig contains configuration for a DAP server.
type ServerConfig struct {
	// Session configures the debug session created for each connection.
	Session debugger.SessionConfig

	// Logger for server operations. If not set, a no-op logger is used.
	Logger logr.Logger

	// Handler is an optional message handler that sees every message
	// received from, and sent to, the client.
	Handler MessageHandler
}

func (c ServerConfig) getLogger() logr.Logger {
	if c.Logger.GetSink() == nil {
		return logr.Discard()
	}
	return c.Logger
}

// inbound is an item of the request queue: a message, or the error that prevented reading one.
type inbound struct {
	msg dap.Message
	err error
}

// Server serves a single debug session over a transport.
type Server struct {
	transport Transport
	session   *debugger.Session
	log       logr.Logger
	handler   MessageHandler
	seq       *sequenceCounter

	// interrupts counts queued requests that should cut a running continue short.
	interrupts atomic.Int32

	// readerDone is set once the reader stops; nobody is left to receive events.
	readerDone atomic.Bool
}

// NewServer creates a server for a new debug session on the given transport.
func NewServer(transport Transport, config ServerConfig) *Server {
	log := config.getLogger()
	if config.Session.Logger.GetSink() == nil {
		config.Session.Logger = log
	}
	session := debugger.NewSession(config.Session)

	return &Server{
		transport: transport,
		session:   session,
		log:       log.WithValues(logger.SESSION_LOG_STREAM_ID, session.ID(), "sessionId", session.ID()),
		handler:   ComposeHandlers(tracingHandler(log), config.Handler),
		seq:       newSequenceCounter(),
	}
}

// Session returns the debug session served by the server.
func (s *Server) Session() *debugger.Session {
	return s.session
}

// Run serves the session until the client disconnects, the program ends, or ctx is done.
// A fatal program failure is returned after it has been reported to the client.
// The transport and the session are closed when Run returns.
// A panic while serving ends only this session and is returned as a *resiliency.PanicError.
func (s *Server) Run(ctx context.Context) (err error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	defer func() {
		if panicErr := resiliency.MakePanicError(recover(), s.log); panicErr != nil {
			cancel()
			_ = s.transport.Close()
			_ = s.session.Close()
			logger.ReleaseSessionLog(s.session.ID())
			err = panicErr
		}
	}()

	queue := chanx.NewUnboundedChan[inbound](runCtx, inboundQueueInitialCapacity)
	go s.readLoop(runCtx, queue.In)

	runErr := s.serve(runCtx, queue.Out)

	cancel()
	// Closing the transport also unblocks the reader.
	closeErr := errors.Join(s.transport.Close(), s.session.Close())

	if closeErr != nil && !IsConnectionClosed(closeErr) {
		s.log.V(1).Info("Error while closing the debug session", "error", closeErr.Error())
	}

	s.log.Info("Debug session ended", "state", s.session.State())
	logger.ReleaseSessionLog(s.session.ID())
	return filterContextError(runErr, ctx, s.log)
}

func (s *Server) serve(ctx context.Context, queue <-chan inbound) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case item, isOpen := <-queue:
			if !isOpen {
				return nil
			}

			done, err := s.dispatch(ctx, item)
			if done || err != nil {
				return err
			}
		}
	}
}

// readLoop reads messages from the transport into the queue until the transport fails.
func (s *Server) readLoop(ctx context.Context, queue chan<- inbound) {
	defer close(queue)
	defer s.readerDone.Store(true)
	defer func() {
		if panicErr := resiliency.MakePanicError(recover(), s.log); panicErr != nil {
			s.enqueue(ctx, queue, inbound{err: panicErr})
		}
	}()

	for {
		msg, readErr := s.transport.ReadMessage()

		if readErr != nil && !errors.Is(readErr, ErrMalformedMessage) {
			if IsConnectionClosed(readErr) || ctx.Err() != nil {
				s.log.V(1).Info("Client connection closed")
				return
			}
			s.enqueue(ctx, queue, inbound{err: readErr})
			return
		}

		if readErr == nil && interrupts(msg) {
			s.interrupts.Add(1)
		}

		if !s.enqueue(ctx, queue, inbound{msg: msg, err: readErr}) {
			return
		}
	}
}

func (s *Server) enqueue(ctx context.Context, queue chan<- inbound, item inbound) bool {
	select {
	case queue <- item:
		return true
	case <-ctx.Done():
		return false
	}
}

// interrupts returns true for requests that stop a continue in progress.
func interrupts(msg dap.Message) bool {
	switch msg.(type) {
	case *dap.PauseRequest, *dap.DisconnectRequest:
		return true
	default:
		return false
	}
}

// dispatch handles one queued item. It returns done=true when serving should stop.
func (s *Server) dispatch(ctx context.Context, item inbound) (bool, error) {
	if item.err != nil {
		return s.handleReadError(item.err)
	}

	msg, forward := s.handler(item.msg, Inbound)
	if interrupts(item.msg) {
		s.interrupts.Add(-1)
	}
	if !forward {
		return false, nil
	}

	req, isRequest := msg.(dap.RequestMessage)
	if !isRequest {
		s.log.V(1).Info("Ignoring message that is not a request", describeMessage(msg)...)
		return false, nil
	}

	msgs, handleErr := s.session.Handle(ctx, req)

	var violation *debugger.ProtocolViolation
	var execErr *debugger.VMExecutionError
	switch {
	case handleErr == nil:

	case errors.As(handleErr, &violation):
		s.log.Info("Rejecting request", "command", violation.Command, "state", violation.State)
		msgs = append(msgs, debugger.NewErrorResponse(req.GetRequest(), debugger.ErrorCodeUnsupportedRequest, violation.Error()))

	case errors.As(handleErr, &execErr):
		msgs = append(msgs,
			debugger.NewErrorResponse(req.GetRequest(), debugger.ErrorCodeVMExecution, execErr.Error()),
			debugger.NewOutputEvent("stderr", execErr.Error()),
			debugger.NewTerminatedEvent(),
		)
		if writeErr := s.send(msgs...); writeErr != nil {
			return true, errors.Join(handleErr, writeErr)
		}
		return true, handleErr

	default:
		return true, fmt.Errorf("failed to handle '%s' request: %w", req.GetRequest().Command, handleErr)
	}

	if writeErr := s.send(msgs...); writeErr != nil {
		return true, writeErr
	}

	if s.session.Exited() {
		return true, nil
	}

	if s.session.Continuing() {
		return s.resume(ctx)
	}

	return false, nil
}

// resume runs a continue request until the program stops, a queued request interrupts it,
// or the client connection goes away.
func (s *Server) resume(ctx context.Context) (bool, error) {
	msgs, resumeErr := s.session.Resume(ctx, func() bool {
		return s.interrupts.Load() > 0 || s.readerDone.Load()
	})

	var execErr *debugger.VMExecutionError
	if errors.As(resumeErr, &execErr) {
		msgs = append(msgs,
			debugger.NewOutputEvent("stderr", execErr.Error()),
			debugger.NewTerminatedEvent(),
		)
	}

	if writeErr := s.send(msgs...); writeErr != nil {
		return true, errors.Join(resumeErr, writeErr)
	}
	if resumeErr != nil {
		return true, resumeErr
	}

	return s.session.Exited(), nil
}

func (s *Server) handleReadError(readErr error) (bool, error) {
	if !errors.Is(readErr, ErrMalformedMessage) {
		return true, readErr
	}

	req, answerable := undecodableRequest(readErr)
	if !answerable {
		s.log.Info("Dropping malformed message", "error", readErr.Error())
		return false, nil
	}

	s.log.Info("Rejecting request that could not be decoded", "command", req.Command, "error", readErr.Error())
	resp := debugger.NewErrorResponse(req, debugger.ErrorCodeMalformedRequest, readErr.Error())
	if writeErr := s.send(resp); writeErr != nil {
		return true, writeErr
	}
	return false, nil
}

// send stamps sequence numbers on the messages and writes them in order.
func (s *Server) send(msgs ...dap.Message) error {
	for _, msg := range msgs {
		setSeq(msg, s.seq.Next())

		out, forward := s.handler(msg, Outbound)
		if !forward {
			continue
		}

		if writeErr := s.transport.WriteMessage(out); writeErr != nil {
			return writeErr
		}
	}
	return nil
}

// ServeListener accepts connections from ln and serves a debug session on each of them
// until ctx is done. It waits for all sessions to end before returning.
func ServeListener(ctx context.Context, ln net.Listener, config ServerConfig) error {
	log := config.getLogger()
	var wg sync.WaitGroup
	defer wg.Wait()

	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})
	defer stop()

	log.Info("Listening for debug adapter clients", "address", ln.Addr().String())

	for {
		conn, acceptErr := ln.Accept()
		if acceptErr != nil {
			if ctx.Err() != nil || errors.Is(acceptErr, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("failed to accept a connection: %w", acceptErr)
		}

		log.V(1).Info("Client connected", "remoteAddr", conn.RemoteAddr().String())
		wg.Add(1)
		go func() {
			defer wg.Done()
			server := NewServer(NewTCPTransport(conn), config)
			if runErr := server.Run(ctx); runErr != nil {
				log.Error(runErr, "Debug session ended with an error", "remoteAddr", conn.RemoteAddr().String())
			}
		}()
	}
}
