// Package mcp is a minimal Model Context Protocol client covering the tool
// surface the orchestrator needs: the initialize handshake, tool listing with
// cursor pagination, and tool invocation, all over a Content-Length framed
// JSON-RPC 2.0 transport.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

const defaultProtocolVersion = "2024-11-05"

// ClientInfo identifies the calling application during the handshake.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerInfo is the server metadata captured during the handshake.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ToolDescriptor is the subset of the MCP tool schema the registry consumes.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// Options configure the handshake.
type Options struct {
	ClientInfo      ClientInfo
	ProtocolVersion string
}

// Client talks to one MCP server. Calls are serialized: the client is shared
// across sessions and the stream admits one request/response exchange at a
// time.
type Client struct {
	transport Transport

	nextID atomic.Uint64
	mu     sync.Mutex
	closed atomic.Bool

	serverInfo ServerInfo
}

// NewClient performs the initialize handshake over the given transport and
// closes it if the handshake fails.
func NewClient(ctx context.Context, transport Transport, opts Options) (*Client, error) {
	if transport == nil {
		return nil, errors.New("mcp: transport is nil")
	}

	info := opts.ClientInfo
	if info.Name == "" {
		info.Name = "sublimechain"
	}
	if info.Version == "" {
		info.Version = "dev"
	}
	proto := opts.ProtocolVersion
	if proto == "" {
		proto = defaultProtocolVersion
	}

	c := &Client{transport: transport}

	params := map[string]any{
		"protocolVersion": proto,
		"clientInfo":      info,
		"capabilities":    map[string]any{"tools": map[string]any{}},
	}
	var resp struct {
		ProtocolVersion string     `json:"protocolVersion"`
		ServerInfo      ServerInfo `json:"serverInfo"`
	}
	if err := c.call(ctx, "initialize", params, &resp); err != nil {
		transport.Close()
		return nil, fmt.Errorf("mcp: initialize: %w", err)
	}
	c.serverInfo = resp.ServerInfo
	return c, nil
}

// Server returns the handshake metadata.
func (c *Client) Server() ServerInfo { return c.serverInfo }

// ListTools fetches every tool the server exposes, following pagination
// cursors.
func (c *Client) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	if c.closed.Load() {
		return nil, errors.New("mcp: client is closed")
	}

	var (
		tools  []ToolDescriptor
		cursor string
	)
	for {
		params := map[string]any{}
		if cursor != "" {
			params["cursor"] = cursor
		}
		var resp struct {
			Tools      []ToolDescriptor `json:"tools"`
			NextCursor string           `json:"nextCursor,omitempty"`
		}
		if err := c.call(ctx, "tools/list", params, &resp); err != nil {
			return nil, fmt.Errorf("mcp: tools/list: %w", err)
		}
		tools = append(tools, resp.Tools...)
		cursor = resp.NextCursor
		if cursor == "" {
			return tools, nil
		}
	}
}

// CallTool invokes one tool and returns its textual output. A server-side
// tool failure (isError) is returned as an error carrying the tool's message.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	if c.closed.Load() {
		return "", errors.New("mcp: client is closed")
	}
	if name == "" {
		return "", errors.New("mcp: tool name is required")
	}

	params := map[string]any{"name": name}
	if len(args) > 0 {
		params["arguments"] = args
	}

	var resp struct {
		Content []struct {
			Type string          `json:"type"`
			Text string          `json:"text,omitempty"`
			Data json.RawMessage `json:"data,omitempty"`
		} `json:"content"`
		IsError bool `json:"isError,omitempty"`
	}
	if err := c.call(ctx, "tools/call", params, &resp); err != nil {
		return "", fmt.Errorf("mcp: tools/call %s: %w", name, err)
	}

	var parts []string
	for _, part := range resp.Content {
		switch {
		case part.Type == "text" && strings.TrimSpace(part.Text) != "":
			parts = append(parts, strings.TrimSpace(part.Text))
		case len(part.Data) > 0:
			parts = append(parts, string(part.Data))
		}
	}
	text := strings.Join(parts, "\n")

	if resp.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return "", fmt.Errorf("mcp: tool %s failed: %s", name, text)
	}
	return text, nil
}

// Shutdown tells the server the session is ending. Best effort.
func (c *Client) Shutdown(ctx context.Context) error {
	if c.closed.Load() {
		return nil
	}
	return c.call(ctx, "shutdown", map[string]any{}, nil)
}

// Close releases the transport. Idempotent.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.transport.Close()
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	Method  string          `json:"method,omitempty"` // set on notifications
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// call performs one request/response exchange, skipping any server
// notifications interleaved on the stream.
func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	id := c.nextID.Add(1)
	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if c.closed.Load() {
		return errors.New("client is closed")
	}
	if err := c.transport.Send(ctx, payload); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	for {
		msg, err := c.transport.Receive(ctx)
		if err != nil {
			return fmt.Errorf("receive: %w", err)
		}
		var resp rpcResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		if resp.Method != "" || resp.ID == nil || *resp.ID != id {
			continue
		}
		if resp.Error != nil {
			return resp.Error
		}
		if out != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, out); err != nil {
				return fmt.Errorf("decode result: %w", err)
			}
		}
		return nil
	}
}
