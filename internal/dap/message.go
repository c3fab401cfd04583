/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"sync"

	"github.com/google/go-dap"
)

// Direction indicates whether a message was received from, or sent to, the client.
type Direction int

const (
	// Inbound messages flow from the client to the server.
	Inbound Direction = iota
	// Outbound messages flow from the server to the client.
	Outbound
)

// String returns a human-readable representation of the direction.
func (d Direction) String() string {
	switch d {
	case Inbound:
		return "inbound"
	case Outbound:
		return "outbound"
	default:
		return "unknown"
	}
}

// sequenceCounter provides thread-safe sequence number generation.
type sequenceCounter struct {
	mu  sync.Mutex
	seq int
}

// newSequenceCounter creates a new sequence counter starting at 0.
func newSequenceCounter() *sequenceCounter {
	return &sequenceCounter{seq: 0}
}

// Next returns the next sequence number.
func (c *sequenceCounter) Next() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Current returns the current sequence number without incrementing.
func (c *sequenceCounter) Current() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// setSeq stamps a message with its sequence number.
func setSeq(msg dap.Message, seq int) {
	switch m := msg.(type) {
	case dap.ResponseMessage:
		m.GetResponse().Seq = seq
	case dap.EventMessage:
		m.GetEvent().Seq = seq
	case dap.RequestMessage:
		m.GetRequest().Seq = seq
	}
}

// describeMessage returns the key/value pairs used to log a message.
func describeMessage(msg dap.Message) []any {
	switch m := msg.(type) {
	case dap.RequestMessage:
		req := m.GetRequest()
		return []any{"type", "request", "command", req.Command, "seq", req.Seq}
	case dap.ResponseMessage:
		resp := m.GetResponse()
		return []any{"type", "response", "command", resp.Command, "seq", resp.Seq, "requestSeq", resp.RequestSeq, "success", resp.Success}
	case dap.EventMessage:
		evt := m.GetEvent()
		return []any{"type", "event", "event", evt.Event, "seq", evt.Seq}
	default:
		return []any{"type", "unknown", "seq", msg.GetSeq()}
	}
}
