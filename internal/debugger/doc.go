/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package debugger implements a DAP debug session for register VM programs.
//
// A Session moves through three states: uninitialized, running and exited.
// Each request is handled by a single transition function that returns the next
// state together with the responses and events to send; the session never
// writes to a transport itself. This keeps the protocol plumbing (framing,
// sequence numbers, connection lifetime) in the dap package and makes the
// state machine testable without a client.
//
// Continue requests are split in two halves. Handle answers the request and
// marks the session as continuing; Resume then executes opcodes until a
// breakpoint is hit, the program ends or fails, or the caller reports that
// another request is waiting (for example a pause).
package debugger
