package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

// memTransport is one side of an in-memory duplex channel pair.
type memTransport struct {
	send chan []byte
	recv chan []byte

	once   sync.Once
	closed chan struct{}
}

func (t *memTransport) Send(ctx context.Context, payload []byte) error {
	select {
	case t.send <- payload:
		return nil
	case <-t.closed:
		return errors.New("transport closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *memTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-t.recv:
		return msg, nil
	case <-t.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *memTransport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}

// handlerFunc serves one method; returning a *rpcError produces an error
// response.
type handlerFunc func(params json.RawMessage) (any, *rpcError)

// fakeServer answers JSON-RPC requests arriving on the peer transport.
type fakeServer struct {
	transport *memTransport
	handlers  map[string]handlerFunc

	mu       sync.Mutex
	requests []string // methods, in arrival order
}

// newTestPair wires a fake server to a client-side transport and starts the
// serve loop.
func newTestPair(t *testing.T) (*memTransport, *fakeServer) {
	t.Helper()
	toServer := make(chan []byte, 8)
	toClient := make(chan []byte, 8)
	closed := make(chan struct{})

	clientSide := &memTransport{send: toServer, recv: toClient, closed: closed}
	serverSide := &memTransport{send: toClient, recv: toServer, closed: closed}

	srv := &fakeServer{
		transport: serverSide,
		handlers:  map[string]handlerFunc{},
	}
	srv.handle("initialize", func(json.RawMessage) (any, *rpcError) {
		return map[string]any{
			"protocolVersion": defaultProtocolVersion,
			"serverInfo":      map[string]string{"name": "mock-server", "version": "1.0.0"},
		}, nil
	})
	go srv.serve()
	t.Cleanup(func() { _ = clientSide.Close() })
	return clientSide, srv
}

func (s *fakeServer) handle(method string, fn handlerFunc) {
	s.handlers[method] = fn
}

func (s *fakeServer) seen(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.requests {
		if m == method {
			n++
		}
	}
	return n
}

// notify pushes a server-initiated notification at the client.
func (s *fakeServer) notify(method string) {
	msg, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "method": method})
	_ = s.transport.Send(context.Background(), msg)
}

func (s *fakeServer) serve() {
	ctx := context.Background()
	for {
		msg, err := s.transport.Receive(ctx)
		if err != nil {
			return
		}
		var req rpcRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			continue
		}
		s.mu.Lock()
		s.requests = append(s.requests, req.Method)
		s.mu.Unlock()

		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if fn, ok := s.handlers[req.Method]; ok {
			raw, _ := json.Marshal(req.Params)
			result, rpcErr := fn(raw)
			if rpcErr != nil {
				resp["error"] = rpcErr
			} else {
				resp["result"] = result
			}
		} else {
			resp["error"] = &rpcError{Code: -32601, Message: "method not found"}
		}
		payload, _ := json.Marshal(resp)
		if err := s.transport.Send(ctx, payload); err != nil {
			return
		}
	}
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestClientHandshake(t *testing.T) {
	transport, _ := newTestPair(t)
	client, err := NewClient(testCtx(t), transport, Options{})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	defer client.Close()

	if client.Server().Name != "mock-server" {
		t.Errorf("expected handshake server info, got %#v", client.Server())
	}
}

func TestListToolsFollowsPagination(t *testing.T) {
	transport, srv := newTestPair(t)
	pages := map[string][]ToolDescriptor{
		"": {
			{Name: "read_file", Description: "Reads a file"},
			{Name: "write_file", Description: "Writes a file"},
		},
		"page-2": {
			{Name: "list_dir", Description: "Lists a directory"},
		},
	}
	srv.handle("tools/list", func(params json.RawMessage) (any, *rpcError) {
		var p struct {
			Cursor string `json:"cursor"`
		}
		_ = json.Unmarshal(params, &p)
		result := map[string]any{"tools": pages[p.Cursor]}
		if p.Cursor == "" {
			result["nextCursor"] = "page-2"
		}
		return result, nil
	})

	client, err := NewClient(testCtx(t), transport, Options{})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	defer client.Close()

	tools, err := client.ListTools(testCtx(t))
	if err != nil {
		t.Fatalf("ListTools returned error: %v", err)
	}
	if len(tools) != 3 {
		t.Fatalf("expected 3 tools across pages, got %d", len(tools))
	}
	if tools[2].Name != "list_dir" {
		t.Errorf("expected the second page appended last, got %q", tools[2].Name)
	}
	if n := srv.seen("tools/list"); n != 2 {
		t.Errorf("expected 2 list requests, got %d", n)
	}
}

func TestCallToolJoinsTextContent(t *testing.T) {
	transport, srv := newTestPair(t)
	srv.handle("tools/call", func(params json.RawMessage) (any, *rpcError) {
		var p struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		}
		_ = json.Unmarshal(params, &p)
		if p.Name != "greet" || p.Arguments["who"] != "world" {
			return nil, &rpcError{Code: -32602, Message: "bad params"}
		}
		return map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": "hello"},
				{"type": "text", "text": "  world  "},
			},
		}, nil
	})

	client, err := NewClient(testCtx(t), transport, Options{})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	defer client.Close()

	out, err := client.CallTool(testCtx(t), "greet", map[string]any{"who": "world"})
	if err != nil {
		t.Fatalf("CallTool returned error: %v", err)
	}
	if out != "hello\nworld" {
		t.Errorf("expected joined trimmed text, got %q", out)
	}
}

func TestCallToolSurfacesToolFailure(t *testing.T) {
	transport, srv := newTestPair(t)
	srv.handle("tools/call", func(json.RawMessage) (any, *rpcError) {
		return map[string]any{
			"content": []map[string]any{{"type": "text", "text": "no such path"}},
			"isError": true,
		}, nil
	})

	client, err := NewClient(testCtx(t), transport, Options{})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	defer client.Close()

	_, err = client.CallTool(testCtx(t), "read_file", nil)
	if err == nil || !strings.Contains(err.Error(), "no such path") {
		t.Errorf("expected the tool's message in the error, got %v", err)
	}
}

func TestCallSkipsInterleavedNotifications(t *testing.T) {
	transport, srv := newTestPair(t)
	srv.handle("tools/call", func(json.RawMessage) (any, *rpcError) {
		// Sneak a notification onto the stream ahead of the response.
		srv.notify("notifications/progress")
		return map[string]any{
			"content": []map[string]any{{"type": "text", "text": "done"}},
		}, nil
	})

	client, err := NewClient(testCtx(t), transport, Options{})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	defer client.Close()

	out, err := client.CallTool(testCtx(t), "anything", nil)
	if err != nil {
		t.Fatalf("CallTool returned error: %v", err)
	}
	if out != "done" {
		t.Errorf("expected %q, got %q", "done", out)
	}
}

func TestRPCErrorIsReturned(t *testing.T) {
	transport, srv := newTestPair(t)
	srv.handle("tools/list", func(json.RawMessage) (any, *rpcError) {
		return nil, &rpcError{Code: -32000, Message: "server exploded"}
	})

	client, err := NewClient(testCtx(t), transport, Options{})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	defer client.Close()

	_, err = client.ListTools(testCtx(t))
	if err == nil || !strings.Contains(err.Error(), "server exploded") {
		t.Errorf("expected the rpc error message, got %v", err)
	}
}

func TestClosedClientRejectsCalls(t *testing.T) {
	transport, _ := newTestPair(t)
	client, err := NewClient(testCtx(t), transport, Options{})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second Close must be a no-op, got %v", err)
	}
	if _, err := client.ListTools(testCtx(t)); err == nil {
		t.Errorf("expected ListTools to fail on a closed client")
	}
	if _, err := client.CallTool(testCtx(t), "x", nil); err == nil {
		t.Errorf("expected CallTool to fail on a closed client")
	}
}

func TestStdioTransportFraming(t *testing.T) {
	clientRead, serverWrite := io.Pipe()
	serverRead, clientWrite := io.Pipe()

	client := NewStdioTransport(clientWrite, clientRead)
	server := NewStdioTransport(serverWrite, serverRead)
	defer client.Close()
	defer server.Close()

	payload := []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	go func() {
		_ = client.Send(context.Background(), payload)
	}()

	got, err := server.Receive(testCtx(t))
	if err != nil {
		t.Fatalf("Receive returned error: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("expected %s, got %s", payload, got)
	}
}
