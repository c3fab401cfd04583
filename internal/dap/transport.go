/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-dap"

	"github.com/microsoft/vmdbg/pkg/resiliency"
)

// Transport provides an abstraction for DAP message I/O over different connection types.
// Implementations must be safe for concurrent use by multiple goroutines for reading
// and writing, but individual reads and writes may not be concurrent with each other.
type Transport interface {
	// ReadMessage reads the next DAP protocol message from the transport.
	// This method blocks until a complete message is available.
	// A message that was read but could not be decoded is reported with an error
	// wrapping ErrMalformedMessage; the transport remains usable.
	ReadMessage() (dap.Message, error)

	// WriteMessage writes a DAP protocol message to the transport.
	WriteMessage(msg dap.Message) error

	// Close closes the transport, releasing any associated resources.
	// After Close is called, any blocked ReadMessage or WriteMessage calls
	// should return with an error.
	Close() error
}

// streamTransport implements Transport over a byte stream, framing messages
// with the Content-Length header.
type streamTransport struct {
	reader  *bufio.Reader
	writer  *bufio.Writer
	closers []io.Closer

	// writeMu protects concurrent writes to the stream
	writeMu sync.Mutex

	// closed indicates whether the transport has been closed
	closed bool
	mu     sync.Mutex
}

// NewTCPTransport creates a new Transport backed by a TCP connection.
func NewTCPTransport(conn net.Conn) Transport {
	return &streamTransport{
		reader:  bufio.NewReader(conn),
		writer:  bufio.NewWriter(conn),
		closers: []io.Closer{conn},
	}
}

// NewStdioTransport creates a new Transport backed by stdin and stdout streams.
// The caller is responsible for ensuring that stdin supports reading and stdout supports writing.
func NewStdioTransport(stdin io.ReadCloser, stdout io.WriteCloser) Transport {
	return &streamTransport{
		reader:  bufio.NewReader(stdin),
		writer:  bufio.NewWriter(stdout),
		closers: []io.Closer{stdin, stdout},
	}
}

const (
	dialInitialInterval = 100 * time.Millisecond
	dialMaxInterval     = 2 * time.Second
)

// DialTCP connects to a client that is waiting for the adapter to connect back.
// Failed attempts are retried with exponential backoff until the context is done
// or the timeout elapses.
func DialTCP(ctx context.Context, address string, timeout time.Duration) (Transport, error) {
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(dialInitialInterval),
		backoff.WithMaxInterval(dialMaxInterval),
		backoff.WithMaxElapsedTime(timeout),
	)

	conn, dialErr := resiliency.RetryGet(ctx, b, func() (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", address)
	})
	if dialErr != nil {
		return nil, fmt.Errorf("failed to dial TCP %s: %w", address, dialErr)
	}

	return NewTCPTransport(conn), nil
}

func (t *streamTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *streamTransport) ReadMessage() (dap.Message, error) {
	if t.isClosed() {
		return nil, ErrTransportClosed
	}

	content, readErr := dap.ReadBaseMessage(t.reader)
	if readErr != nil {
		return nil, fmt.Errorf("failed to read DAP message: %w", readErr)
	}

	msg, decodeErr := dap.DecodeProtocolMessage(content)
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, decodeErr)
	}

	return msg, nil
}

func (t *streamTransport) WriteMessage(msg dap.Message) error {
	if t.isClosed() {
		return ErrTransportClosed
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	writeErr := dap.WriteProtocolMessage(t.writer, msg)
	if writeErr != nil {
		return fmt.Errorf("failed to write DAP message: %w", writeErr)
	}

	flushErr := t.writer.Flush()
	if flushErr != nil {
		return fmt.Errorf("failed to flush DAP message: %w", flushErr)
	}

	return nil
}

func (t *streamTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}

	t.closed = true

	var errs []error
	for _, c := range t.closers {
		if closeErr := c.Close(); closeErr != nil {
			errs = append(errs, closeErr)
		}
	}

	return errors.Join(errs...)
}
