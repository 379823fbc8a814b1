// Package models wraps the supported inference providers behind one
// streaming interface: ordered message history plus tool descriptors in,
// incremental text/thinking/tool-call events out.
package models

import (
	"context"
	"fmt"
	"strings"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolDef describes one invocable capability advertised to the model.
type ToolDef struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ToolCall is a structured invocation request emitted by the model.
// Arguments carry the raw JSON text exactly as streamed; it may be truncated
// if the stream was cut off mid-arguments.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ThinkingBlock is one complete extended-thinking block from an assistant
// turn. The signature is opaque provider state; Anthropic rejects follow-up
// requests that replay a tool_use turn without its signed thinking blocks, so
// both fields must survive the round trip intact.
type ThinkingBlock struct {
	Thinking  string
	Signature string
}

// Message is one entry of the conversation history sent to a provider.
// Assistant messages may carry ToolCalls and Thinking blocks; tool messages
// carry the result of one call, correlated by ToolCallID.
type Message struct {
	Role       Role
	Content    string
	Thinking   []ThinkingBlock
	ToolCalls  []ToolCall
	ToolCallID string
	IsError    bool
}

// Request is a single streaming completion request.
type Request struct {
	Model          string
	System         string
	Messages       []Message
	Tools          []ToolDef
	MaxTokens      int
	ThinkingBudget int // 0 disables extended thinking
}

// StreamChunk is one incremental event from a provider stream. Exactly one of
// the payload fields is meaningful per chunk; the final chunk has Done set.
type StreamChunk struct {
	Delta         string         // text fragment
	Thinking      string         // reasoning fragment
	ThinkingBlock *ThinkingBlock // completed, signed reasoning block
	ToolCall      *ToolCall      // fully materialized invocation request
	Done          bool
	FullText      string // set on the Done chunk
	Err           error
}

// Provider streams completions for one inference backend. Safe for concurrent
// use; each Stream call is independent.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req Request) (<-chan StreamChunk, error)
}

// New returns a concrete Provider for the given backend name.
func New(provider string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "anthropic", "claude":
		return NewAnthropicProvider()
	case "openai":
		return NewOpenAIProvider()
	case "ollama":
		return NewOllamaProvider()
	case "dummy":
		return NewDummyProvider(nil), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
}
