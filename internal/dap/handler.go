/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"github.com/go-logr/logr"
	"github.com/google/go-dap"
)

// MessageHandler is a function that can inspect and modify DAP messages as they flow
// through the server. It receives the message and its flow direction, and returns:
//   - modified: the (possibly modified) message to process
//   - forward: whether to process the message (false to suppress)
//
// If the handler returns nil for modified but true for forward, the original message
// is processed unchanged. Outbound messages already carry their sequence number.
type MessageHandler func(msg dap.Message, direction Direction) (modified dap.Message, forward bool)

// ComposeHandlers combines multiple message handlers into a single handler.
// Handlers are called in order; if any handler returns forward=false, the chain stops.
// The modified message from each handler is passed to the next handler.
func ComposeHandlers(handlers ...MessageHandler) MessageHandler {
	return func(msg dap.Message, direction Direction) (dap.Message, bool) {
		current := msg
		for _, h := range handlers {
			if h == nil {
				continue
			}

			modified, forward := h(current, direction)
			if !forward {
				return nil, false
			}

			if modified != nil {
				current = modified
			}
		}

		return current, true
	}
}

// tracingHandler logs every message at debug verbosity.
func tracingHandler(log logr.Logger) MessageHandler {
	return func(msg dap.Message, direction Direction) (dap.Message, bool) {
		if traceLog := log.V(1); traceLog.Enabled() {
			traceLog.Info("DAP message", append([]any{"direction", direction.String()}, describeMessage(msg)...)...)
		}
		return msg, true
	}
}
