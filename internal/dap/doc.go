/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

/*
Package dap connects DAP clients (IDEs) to debug sessions for register VM programs.

# Architecture Overview

A Server owns one client connection (a Transport) and one debugger.Session.
Messages are read by a dedicated goroutine into an unbounded queue; the server
goroutine takes one request at a time, hands it to the session, and writes the
returned responses and events, assigning sequence numbers as it goes.

# Transports

  - stdio: the adapter is started by the IDE and talks over stdin/stdout
  - TCP: the adapter listens (one session per connection) or connects back to the IDE
  - WebSocket: each text frame carries one DAP message, without the Content-Length header

# Error Mapping

Session errors are turned into protocol messages:
  - requests that are not valid in the current state get an "unsupported request" error response
  - requests go-dap cannot decode get an error response, the connection stays up
  - a failure reported by the virtual machine gets an error response (or an output event
    when it happens during continue) and a terminated event; the server then stops

# Continue and Interruption

After a continue request is answered the server resumes the session, which runs the
program until something stops it. While it runs, the reader goroutine keeps queueing
requests; a queued pause or disconnect request interrupts the run so it can be handled.

# Usage

	server := dap.NewServer(dap.NewStdioTransport(os.Stdin, os.Stdout), dap.ServerConfig{
		Logger: log,
	})
	err := server.Run(ctx)
*/
package dap
