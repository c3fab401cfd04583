/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"bytes"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-dap"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microsoft/vmdbg/internal/debugger"
	"github.com/microsoft/vmdbg/pkg/testutil"
)

func initializeRequest(seq int) *dap.InitializeRequest {
	return &dap.InitializeRequest{
		Request: dap.Request{
			ProtocolMessage: dap.ProtocolMessage{Seq: seq, Type: "request"},
			Command:         "initialize",
		},
	}
}

func TestTCPTransport(t *testing.T) {
	t.Parallel()

	listener, listenErr := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, listenErr)
	defer listener.Close()

	var serverConn net.Conn
	var acceptErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		serverConn, acceptErr = listener.Accept()
	}()

	ctx, cancel := testutil.GetTestContext(t, 5*time.Second)
	defer cancel()

	clientTransport, dialErr := DialTCP(ctx, listener.Addr().String(), time.Second)
	require.NoError(t, dialErr)

	wg.Wait()
	require.NoError(t, acceptErr)
	serverTransport := NewTCPTransport(serverConn)
	defer serverTransport.Close()

	t.Run("write and read message", func(t *testing.T) {
		require.NoError(t, clientTransport.WriteMessage(initializeRequest(1)))

		received, readErr := serverTransport.ReadMessage()
		require.NoError(t, readErr)

		initReq, ok := received.(*dap.InitializeRequest)
		require.True(t, ok)
		assert.Equal(t, 1, initReq.Seq)
		assert.Equal(t, "initialize", initReq.Command)
	})

	t.Run("close prevents further operations", func(t *testing.T) {
		assert.NoError(t, clientTransport.Close())

		writeErr := clientTransport.WriteMessage(initializeRequest(2))
		assert.ErrorIs(t, writeErr, ErrTransportClosed)

		// The server side sees the connection go away.
		_, readErr := serverTransport.ReadMessage()
		assert.True(t, IsConnectionClosed(readErr), "unexpected error %v", readErr)

		// Double close should not fail
		assert.NoError(t, clientTransport.Close())
	})
}

func TestDialTCPGivesUp(t *testing.T) {
	t.Parallel()

	listener, listenErr := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, listenErr)
	address := listener.Addr().String()
	require.NoError(t, listener.Close())

	ctx, cancel := testutil.GetTestContext(t, 5*time.Second)
	defer cancel()

	_, dialErr := DialTCP(ctx, address, 300*time.Millisecond)
	require.Error(t, dialErr)
	assert.Contains(t, dialErr.Error(), "failed to dial TCP "+address)
}

// mockReadWriteCloser implements io.ReadWriteCloser for testing
type mockReadWriteCloser struct {
	reader *bytes.Buffer
	writer *bytes.Buffer
	closed bool
	mu     sync.Mutex
}

func newMockReadWriteCloser(input string) *mockReadWriteCloser {
	return &mockReadWriteCloser{
		reader: bytes.NewBufferString(input),
		writer: bytes.NewBuffer(nil),
	}
}

func (m *mockReadWriteCloser) Read(p []byte) (n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, io.EOF
	}
	return m.reader.Read(p)
}

func (m *mockReadWriteCloser) Write(p []byte) (n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, io.ErrClosedPipe
	}
	return m.writer.Write(p)
}

func (m *mockReadWriteCloser) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockReadWriteCloser) written() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writer.String()
}

func framed(content string) string {
	var b bytes.Buffer
	if err := dap.WriteBaseMessage(&b, []byte(content)); err != nil {
		panic(err)
	}
	return b.String()
}

func TestStdioTransport(t *testing.T) {
	t.Parallel()

	t.Run("write and read message", func(t *testing.T) {
		serverRead, clientWrite := io.Pipe()
		clientRead, serverWrite := io.Pipe()

		clientTransport := NewStdioTransport(clientRead, clientWrite)
		serverTransport := NewStdioTransport(serverRead, serverWrite)

		defer clientTransport.Close()
		defer serverTransport.Close()

		var wg sync.WaitGroup
		wg.Add(1)

		var received dap.Message
		var readErr error

		go func() {
			defer wg.Done()
			received, readErr = serverTransport.ReadMessage()
		}()

		require.NoError(t, clientTransport.WriteMessage(initializeRequest(1)))

		wg.Wait()

		require.NoError(t, readErr)
		initReq, ok := received.(*dap.InitializeRequest)
		require.True(t, ok)
		assert.Equal(t, 1, initReq.Seq)
	})

	t.Run("malformed message leaves the transport usable", func(t *testing.T) {
		stdin := newMockReadWriteCloser(
			framed(`{"seq": 1, "type": "request", "command": "frobnicate"}`) +
				framed(`{"seq": 2, "type": "request", "command": "threads"}`),
		)
		stdout := newMockReadWriteCloser("")
		transport := NewStdioTransport(stdin, stdout)
		defer transport.Close()

		_, readErr := transport.ReadMessage()
		require.ErrorIs(t, readErr, ErrMalformedMessage)
		req, answerable := undecodableRequest(readErr)
		require.True(t, answerable)
		assert.Equal(t, 1, req.Seq)
		assert.Equal(t, "frobnicate", req.Command)

		msg, readErr := transport.ReadMessage()
		require.NoError(t, readErr)
		assert.IsType(t, &dap.ThreadsRequest{}, msg)

		_, readErr = transport.ReadMessage()
		assert.True(t, IsConnectionClosed(readErr), "unexpected error %v", readErr)
	})

	t.Run("messages are framed with a content length header", func(t *testing.T) {
		stdout := newMockReadWriteCloser("")
		transport := NewStdioTransport(newMockReadWriteCloser(""), stdout)
		defer transport.Close()

		require.NoError(t, transport.WriteMessage(debugger.NewTerminatedEvent()))
		assert.True(t, strings.HasPrefix(stdout.written(), "Content-Length: "), stdout.written())
		assert.Contains(t, stdout.written(), `"event":"terminated"`)
	})

	t.Run("close prevents further operations", func(t *testing.T) {
		stdin := newMockReadWriteCloser("")
		stdout := newMockReadWriteCloser("")
		transport := NewStdioTransport(stdin, stdout)

		assert.NoError(t, transport.Close())
		assert.True(t, stdin.closed)
		assert.True(t, stdout.closed)

		writeErr := transport.WriteMessage(initializeRequest(1))
		assert.ErrorIs(t, writeErr, ErrTransportClosed)
		_, readErr := transport.ReadMessage()
		assert.ErrorIs(t, readErr, ErrTransportClosed)

		// Double close should be safe
		assert.NoError(t, transport.Close())
	})
}

func webSocketURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketTransport(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, defaultTestTimeout)
	defer cancel()

	received := make(chan dap.Message, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, upgradeErr := upgrader.Upgrade(w, r, nil)
		if upgradeErr != nil {
			return
		}
		transport := NewWebSocketTransport(conn)
		defer transport.Close()

		msg, readErr := transport.ReadMessage()
		if readErr != nil {
			close(received)
			return
		}
		received <- msg
		_ = transport.WriteMessage(debugger.NewTerminatedEvent())
	}))
	defer srv.Close()

	transport, dialErr := DialWebSocket(ctx, webSocketURL(srv), time.Second)
	require.NoError(t, dialErr)
	defer transport.Close()

	require.NoError(t, transport.WriteMessage(initializeRequest(7)))
	select {
	case msg := <-received:
		initReq, ok := msg.(*dap.InitializeRequest)
		require.True(t, ok, "expected an initialize request, got %T", msg)
		assert.Equal(t, 7, initReq.Seq)
	case <-ctx.Done():
		require.FailNow(t, "timed out waiting for the server to read the message")
	}

	reply, readErr := transport.ReadMessage()
	require.NoError(t, readErr)
	assert.IsType(t, &dap.TerminatedEvent{}, reply)

	// The server closes the connection after replying.
	_, readErr = transport.ReadMessage()
	assert.True(t, IsConnectionClosed(readErr), "unexpected error %v", readErr)
}

func TestWebSocketHandlerServesSessions(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, defaultTestTimeout)
	defer cancel()

	config := ServerConfig{
		Logger:  testutil.NewLogForTesting(t.Name()),
		Session: debugger.SessionConfig{WorkDir: t.TempDir()},
	}
	srv := httptest.NewServer(WebSocketHandler(ctx, config, []string{"http://localhost"}))
	defer srv.Close()

	transport, dialErr := DialWebSocket(ctx, webSocketURL(srv), time.Second)
	require.NoError(t, dialErr)
	client := newTestClient(t, transport)

	client.send(client.initialize())
	require.Equal(t, []string{"response:initialize"}, client.expect(ctx, 1))
	client.launchProgram(ctx, writeProgram(t, addProgram))
	client.send(client.disconnect())
	require.Equal(t, []string{"response:disconnect"}, client.expect(ctx, 1))
	client.expectClosed(ctx)
}

func TestWebSocketOriginCheck(t *testing.T) {
	t.Parallel()

	check := originValidator([]string{"http://localhost", ""})
	request := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	assert.True(t, check(request("")), "requests without an origin are accepted")
	assert.True(t, check(request("http://LOCALHOST")))
	assert.False(t, check(request("http://evil.example")))
	assert.True(t, originValidator([]string{"*"})(request("http://evil.example")))
}

func TestWebSocketDialRejectedUpgradeIsPermanent(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, defaultTestTimeout)
	defer cancel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	start := time.Now()
	_, dialErr := DialWebSocket(ctx, webSocketURL(srv), 10*time.Second)
	require.Error(t, dialErr)
	assert.Contains(t, dialErr.Error(), "404")
	assert.Less(t, time.Since(start), 5*time.Second, "a rejected upgrade should not be retried")
}
