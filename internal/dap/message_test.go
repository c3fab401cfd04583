/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/google/go-dap"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microsoft/vmdbg/internal/debugger"
)

func TestSequenceCounter(t *testing.T) {
	t.Parallel()

	counter := newSequenceCounter()

	assert.Equal(t, 0, counter.Current(), "initial value should be 0")

	assert.Equal(t, 1, counter.Next(), "first Next() should return 1")
	assert.Equal(t, 1, counter.Current(), "Current() should return 1 after first Next()")

	assert.Equal(t, 2, counter.Next(), "second Next() should return 2")
	assert.Equal(t, 3, counter.Next(), "third Next() should return 3")
	assert.Equal(t, 3, counter.Current(), "Current() should return 3")
}

func TestSetSeq(t *testing.T) {
	t.Parallel()

	req := &dap.Request{Command: "threads"}
	resp := debugger.NewErrorResponse(req, debugger.ErrorCodeUnsupportedRequest, "nope")
	evt := debugger.NewTerminatedEvent()

	setSeq(resp, 4)
	setSeq(evt, 5)

	assert.Equal(t, 4, resp.Seq)
	assert.Equal(t, 5, evt.Seq)
	assert.Equal(t, []any{"type", "event", "event", "terminated", "seq", 5}, describeMessage(evt))
}

func TestDirection_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "inbound", Inbound.String())
	assert.Equal(t, "outbound", Outbound.String())
	assert.Equal(t, "unknown", Direction(99).String())
}

func TestComposeHandlers(t *testing.T) {
	t.Parallel()

	callOrder := []string{}

	h1 := func(msg dap.Message, dir Direction) (dap.Message, bool) {
		callOrder = append(callOrder, "h1")
		return msg, true
	}

	h2 := func(msg dap.Message, dir Direction) (dap.Message, bool) {
		callOrder = append(callOrder, "h2")
		return msg, true
	}

	composed := ComposeHandlers(h1, nil, h2)
	msg := &dap.InitializeRequest{}

	_, forward := composed(msg, Inbound)

	assert.True(t, forward)
	assert.Equal(t, []string{"h1", "h2"}, callOrder)
}

func TestComposeHandlers_StopsOnForwardFalse(t *testing.T) {
	t.Parallel()

	callOrder := []string{}

	h1 := func(msg dap.Message, dir Direction) (dap.Message, bool) {
		callOrder = append(callOrder, "h1")
		return nil, false // Stop forwarding
	}

	h2 := func(msg dap.Message, dir Direction) (dap.Message, bool) {
		callOrder = append(callOrder, "h2")
		return msg, true
	}

	composed := ComposeHandlers(h1, h2)
	msg := &dap.InitializeRequest{}

	_, forward := composed(msg, Outbound)

	assert.False(t, forward)
	assert.Equal(t, []string{"h1"}, callOrder, "h2 should not be called")
}

func TestComposeHandlers_PassesModifiedMessage(t *testing.T) {
	t.Parallel()

	h1 := func(msg dap.Message, dir Direction) (dap.Message, bool) {
		return &dap.ContinueRequest{}, true
	}

	h2 := func(msg dap.Message, dir Direction) (dap.Message, bool) {
		_, ok := msg.(*dap.ContinueRequest)
		assert.True(t, ok, "h2 should receive modified message")
		return nil, true
	}

	composed := ComposeHandlers(h1, h2)
	msg := &dap.InitializeRequest{}

	result, forward := composed(msg, Inbound)

	assert.True(t, forward)
	_, ok := result.(*dap.ContinueRequest)
	assert.True(t, ok, "result should be modified message")
}

func TestIsConnectionClosed(t *testing.T) {
	t.Parallel()

	assert.True(t, IsConnectionClosed(fmt.Errorf("failed to read DAP message: %w", io.EOF)))
	assert.True(t, IsConnectionClosed(ErrTransportClosed))
	assert.True(t, IsConnectionClosed(fmt.Errorf("read: %w", &websocket.CloseError{Code: websocket.CloseNormalClosure})))
	assert.False(t, IsConnectionClosed(&websocket.CloseError{Code: websocket.CloseProtocolError}))
	assert.False(t, IsConnectionClosed(errors.New("boom")))
	assert.False(t, IsConnectionClosed(ErrMalformedMessage))
}

func TestUndecodableRequest(t *testing.T) {
	t.Parallel()

	_, decodeErr := dap.DecodeProtocolMessage([]byte(`{"seq": 3, "type": "request", "command": "frobnicate"}`))
	require.Error(t, decodeErr)

	req, answerable := undecodableRequest(fmt.Errorf("%w: %w", ErrMalformedMessage, decodeErr))
	require.True(t, answerable)
	assert.Equal(t, 3, req.Seq)
	assert.Equal(t, "frobnicate", req.Command)

	_, decodeErr = dap.DecodeProtocolMessage([]byte(`{"seq": 4, "type": "event", "event": "bogus"}`))
	require.Error(t, decodeErr)
	_, answerable = undecodableRequest(decodeErr)
	assert.False(t, answerable, "only requests can be answered")

	_, answerable = undecodableRequest(errors.New("boom"))
	assert.False(t, answerable)
}
