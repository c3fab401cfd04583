/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-dap"
	"github.com/gorilla/websocket"

	"github.com/microsoft/vmdbg/pkg/resiliency"
)

const (
	wsReadBuffer       = 1024
	wsWriteBuffer      = 1024
	wsReadLimit        = 32 * 1024 * 1024
	wsCloseWriteWindow = 100 * time.Millisecond
	wsHandshakeTimeout = 5 * time.Second
)

// wsTransport implements Transport over a WebSocket connection.
// Every DAP message travels in its own text frame, without the Content-Length header.
type wsTransport struct {
	conn *websocket.Conn

	// writeMu protects concurrent writes; gorilla connections allow only one writer.
	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// NewWebSocketTransport creates a new Transport backed by a WebSocket connection.
func NewWebSocketTransport(conn *websocket.Conn) Transport {
	conn.SetReadLimit(wsReadLimit)
	return &wsTransport{conn: conn}
}

// DialWebSocket connects to a DAP client listening on a WebSocket URL (ws:// or wss://).
// Failed attempts are retried with exponential backoff until the context is done
// or the timeout elapses.
func DialWebSocket(ctx context.Context, url string, timeout time.Duration) (Transport, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: wsHandshakeTimeout,
		ReadBufferSize:   wsReadBuffer,
		WriteBufferSize:  wsWriteBuffer,
	}

	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(dialInitialInterval),
		backoff.WithMaxInterval(dialMaxInterval),
		backoff.WithMaxElapsedTime(timeout),
	)

	conn, dialErr := resiliency.RetryGet(ctx, b, func() (*websocket.Conn, error) {
		c, resp, err := dialer.DialContext(ctx, url, nil)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil && resp != nil && resp.StatusCode >= http.StatusBadRequest {
			// The server is there but refused the upgrade; retrying will not help.
			return nil, resiliency.Permanent(fmt.Errorf("%w (HTTP status %s)", err, resp.Status))
		}
		return c, err
	})
	if dialErr != nil {
		return nil, fmt.Errorf("failed to dial WebSocket %s: %w", url, dialErr)
	}

	return NewWebSocketTransport(conn), nil
}

func (t *wsTransport) ReadMessage() (dap.Message, error) {
	for {
		msgType, data, readErr := t.conn.ReadMessage()
		if readErr != nil {
			return nil, fmt.Errorf("failed to read DAP message: %w", readErr)
		}

		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}

		msg, decodeErr := dap.DecodeProtocolMessage(data)
		if decodeErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, decodeErr)
		}

		return msg, nil
	}
}

func (t *wsTransport) WriteMessage(msg dap.Message) error {
	data, marshalErr := json.Marshal(msg)
	if marshalErr != nil {
		return fmt.Errorf("failed to encode DAP message: %w", marshalErr)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if writeErr := t.conn.WriteMessage(websocket.TextMessage, data); writeErr != nil {
		return fmt.Errorf("failed to write DAP message: %w", writeErr)
	}

	return nil
}

func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() {
		// The close frame is best effort; the peer may already be gone.
		_ = t.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(wsCloseWriteWindow),
		)
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}

// WebSocketHandler returns a handler that serves one debug session per WebSocket connection.
// Sessions end when their client goes away or when ctx is done.
//
// allowedOrigins lists the origins browsers may connect from; "*" allows any origin.
// Requests without an Origin header are always accepted.
func WebSocketHandler(ctx context.Context, config ServerConfig, allowedOrigins []string) http.Handler {
	log := config.getLogger()
	upgrader := websocket.Upgrader{
		ReadBufferSize:  wsReadBuffer,
		WriteBufferSize: wsWriteBuffer,
		CheckOrigin:     originValidator(allowedOrigins),
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, upgradeErr := upgrader.Upgrade(w, r, nil)
		if upgradeErr != nil {
			log.V(1).Info("WebSocket upgrade failed", "error", upgradeErr.Error(), "remoteAddr", r.RemoteAddr)
			return
		}

		server := NewServer(NewWebSocketTransport(conn), config)
		if runErr := server.Run(ctx); runErr != nil {
			log.Error(runErr, "Debug session ended with an error", "remoteAddr", r.RemoteAddr)
		}
	})
}

func originValidator(allowedOrigins []string) func(*http.Request) bool {
	origins := make([]string, 0, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o != "" {
			origins = append(origins, strings.ToLower(o))
		}
	}

	return func(r *http.Request) bool {
		origin, present := r.Header["Origin"]
		if !present || len(origin) == 0 {
			return true
		}
		return slices.Contains(origins, "*") || slices.Contains(origins, strings.ToLower(origin[0]))
	}
}
