/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/require"

	"github.com/microsoft/vmdbg/pkg/osutil"
	"github.com/microsoft/vmdbg/pkg/testutil"
)

const defaultTestTimeout = 20 * time.Second

// testClient is a DAP client that sees every message the server sends, in order.
type testClient struct {
	t         *testing.T
	transport Transport
	seq       int

	// raw is the client end of the connection, for writing bytes the transport would not produce.
	raw net.Conn

	// messages receives everything read from the transport; it is closed when reading fails.
	messages chan dap.Message
}

func newTestClient(t *testing.T, transport Transport) *testClient {
	c := &testClient{
		t:         t,
		transport: transport,
		messages:  make(chan dap.Message, 256),
	}

	go func() {
		defer close(c.messages)
		for {
			msg, readErr := transport.ReadMessage()
			if readErr != nil {
				return
			}
			c.messages <- msg
		}
	}()

	t.Cleanup(func() {
		_ = transport.Close()
	})
	return c
}

func (c *testClient) request(command string) dap.Request {
	c.seq++
	return dap.Request{
		ProtocolMessage: dap.ProtocolMessage{Seq: c.seq, Type: "request"},
		Command:         command,
	}
}

func (c *testClient) send(req dap.RequestMessage) {
	c.t.Helper()
	require.NoError(c.t, c.transport.WriteMessage(req))
}

// receive returns the next message sent by the server.
func (c *testClient) receive(ctx context.Context) dap.Message {
	c.t.Helper()
	select {
	case msg, isOpen := <-c.messages:
		require.True(c.t, isOpen, "connection closed while waiting for a message")
		return msg
	case <-ctx.Done():
		require.FailNow(c.t, "timed out waiting for a message")
		return nil
	}
}

// expect reads the next n messages and returns their summaries.
func (c *testClient) expect(ctx context.Context, n int) []string {
	c.t.Helper()
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, summarize(c.receive(ctx)))
	}
	return out
}

// expectClosed waits for the server to close the connection.
func (c *testClient) expectClosed(ctx context.Context) {
	c.t.Helper()
	for {
		select {
		case msg, isOpen := <-c.messages:
			if !isOpen {
				return
			}
			require.FailNow(c.t, "unexpected message before the connection closed", summarize(msg))
		case <-ctx.Done():
			require.FailNow(c.t, "timed out waiting for the connection to close")
		}
	}
}

func (c *testClient) initialize() *dap.InitializeRequest {
	req := &dap.InitializeRequest{Request: c.request("initialize")}
	req.Arguments.ClientID = "test-client"
	req.Arguments.AdapterID = "vmdbg"
	return req
}

func (c *testClient) launch(srcPath string) *dap.LaunchRequest {
	args, marshalErr := json.Marshal(map[string]string{"src_path": srcPath, "vm": "brillig"})
	require.NoError(c.t, marshalErr)
	return &dap.LaunchRequest{Request: c.request("launch"), Arguments: args}
}

func (c *testClient) setBreakpoints(srcPath string, lines ...int) *dap.SetBreakpointsRequest {
	req := &dap.SetBreakpointsRequest{Request: c.request("setBreakpoints")}
	req.Arguments.Source = dap.Source{Path: srcPath}
	for _, l := range lines {
		req.Arguments.Breakpoints = append(req.Arguments.Breakpoints, dap.SourceBreakpoint{Line: l})
	}
	return req
}

func (c *testClient) next() *dap.NextRequest {
	return &dap.NextRequest{Request: c.request("next")}
}

func (c *testClient) cont() *dap.ContinueRequest {
	return &dap.ContinueRequest{Request: c.request("continue")}
}

func (c *testClient) pause() *dap.PauseRequest {
	return &dap.PauseRequest{Request: c.request("pause")}
}

func (c *testClient) variables() *dap.VariablesRequest {
	req := &dap.VariablesRequest{Request: c.request("variables")}
	req.Arguments.VariablesReference = 1
	return req
}

func (c *testClient) disconnect() *dap.DisconnectRequest {
	return &dap.DisconnectRequest{Request: c.request("disconnect")}
}

// launchProgram launches srcPath and consumes the launch messages.
func (c *testClient) launchProgram(ctx context.Context, srcPath string) {
	c.t.Helper()
	c.send(c.launch(srcPath))
	require.Equal(c.t, []string{"response:launch", "event:initialized", "stopped:entry"}, c.expect(ctx, 3))
}

// summarize renders a message in a compact form that is easy to compare.
func summarize(m dap.Message) string {
	switch msg := m.(type) {
	case *dap.StoppedEvent:
		return "stopped:" + msg.Body.Reason
	case *dap.OutputEvent:
		return fmt.Sprintf("output:%s:%q", msg.Body.Category, msg.Body.Output)
	case *dap.ExitedEvent:
		return fmt.Sprintf("event:exited:%d", msg.Body.ExitCode)
	case *dap.ErrorResponse:
		return fmt.Sprintf("error:%s:%d", msg.Command, msg.Body.Error.Id)
	case dap.EventMessage:
		return "event:" + msg.GetEvent().Event
	case dap.ResponseMessage:
		return "response:" + msg.GetResponse().Command
	case dap.RequestMessage:
		return "request:" + msg.GetRequest().Command
	default:
		return fmt.Sprintf("unexpected:%T", m)
	}
}

// startServer serves a debug session over an in-memory connection and returns the client side.
// The returned channel receives the result of Run.
func startServer(t *testing.T, ctx context.Context, config ServerConfig) (*testClient, <-chan error) {
	t.Helper()
	serverConn, clientConn := net.Pipe()

	if config.Logger.GetSink() == nil {
		config.Logger = testutil.NewLogForTesting(t.Name())
	}
	if config.Session.WorkDir == "" {
		config.Session.WorkDir = t.TempDir()
	}

	server := NewServer(NewTCPTransport(serverConn), config)
	result := make(chan error, 1)
	go func() {
		result <- server.Run(ctx)
	}()

	client := newTestClient(t, NewTCPTransport(clientConn))
	client.raw = clientConn
	return client, result
}

func waitForResult(t *testing.T, ctx context.Context, result <-chan error) error {
	t.Helper()
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		require.FailNow(t, "timed out waiting for the server to stop")
		return nil
	}
}

func writeProgram(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "program.bvm")
	require.NoError(t, os.WriteFile(path, []byte(src), osutil.PermissionOnlyOwnerReadWrite))
	return path
}
