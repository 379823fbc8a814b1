// Package sublimechain implements a streaming tool-injection orchestrator: it
// drives a model conversation, executes the tool calls the model emits
// mid-stream, and folds their results back into the same turn so the model's
// later reasoning can use them.
package sublimechain

import (
	"context"
	"encoding/json"
	"time"
)

// ToolSpec describes how a tool is presented to the model.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// ToolRequest captures an invocation request for a tool.
type ToolRequest struct {
	SessionID string
	Arguments map[string]any
}

// ToolResponse is the structured response returned by a tool.
type ToolResponse struct {
	Content  string
	Metadata map[string]string
}

// Tool exposes structured metadata and an invocation handler. Anything
// satisfying this contract is loadable into the registry, regardless of how it
// is implemented.
type Tool interface {
	Spec() ToolSpec
	Invoke(ctx context.Context, req ToolRequest) (ToolResponse, error)
}

// ToolServer is a session with one external tool-providing process. Instances
// are shared across sessions; implementations must make concurrent Call
// invocations safe.
type ToolServer interface {
	Name() string
	Tools(ctx context.Context) ([]ToolSpec, error)
	Call(ctx context.Context, tool string, args map[string]any) (string, error)
	Close() error
}

// ToolInvocation is one request emitted by the model mid-stream. Arguments
// hold the raw JSON exactly as streamed; repair and validation happen at
// dispatch time.
type ToolInvocation struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ResultStatus classifies the outcome of a dispatched invocation.
type ResultStatus string

const (
	StatusOK      ResultStatus = "ok"
	StatusError   ResultStatus = "error"
	StatusTimeout ResultStatus = "timeout"
)

// ToolResult is the outcome of one ToolInvocation. Created by the coordinator,
// consumed exactly once by the orchestrator when folding results back into
// history.
type ToolResult struct {
	InvocationID string
	Tool         string
	Status       ResultStatus
	Content      string
	Duration     time.Duration
}

// IsError reports whether the result should be presented to the model as a
// failure.
func (r ToolResult) IsError() bool {
	return r.Status != StatusOK
}
