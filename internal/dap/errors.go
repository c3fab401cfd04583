/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/go-logr/logr"
	"github.com/google/go-dap"
	"github.com/gorilla/websocket"
)

var (
	// ErrTransportClosed is returned when attempting to use a closed transport.
	ErrTransportClosed = errors.New("transport is closed")

	// ErrMalformedMessage is returned when a complete message was read but could not be decoded.
	// The transport is still usable after this error.
	ErrMalformedMessage = errors.New("malformed DAP message")
)

// IsConnectionClosed returns true if the error means the other side went away.
func IsConnectionClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, ErrTransportClosed) ||
		isWebSocketClose(err)
}

func isWebSocketClose(err error) bool {
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		return false
	}
	return closeErr.Code == websocket.CloseNormalClosure ||
		closeErr.Code == websocket.CloseGoingAway ||
		closeErr.Code == websocket.CloseNoStatusReceived
}

// undecodableRequest returns the request a decode error refers to, if the error
// names one that can be answered.
func undecodableRequest(err error) (*dap.Request, bool) {
	var fieldErr *dap.DecodeProtocolMessageFieldError
	if !errors.As(err, &fieldErr) {
		return nil, false
	}
	if !strings.EqualFold(fieldErr.SubType, "request") || fieldErr.FieldName != "command" {
		return nil, false
	}

	return &dap.Request{
		ProtocolMessage: dap.ProtocolMessage{Seq: fieldErr.Seq, Type: "request"},
		Command:         fieldErr.FieldValue,
	}, true
}

// filterContextError filters out redundant context errors during shutdown.
// If the error is a context.Canceled or context.DeadlineExceeded and the
// context is already done, the error is logged at debug level and nil is returned.
// Otherwise, the original error is returned unchanged.
func filterContextError(err error, ctx context.Context, log logr.Logger) error {
	if err == nil {
		return nil
	}

	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		log.V(1).Info("Filtering redundant context error", "error", err)
		return nil
	}

	return err
}
