// Package tools bundles the built-in local tools registered by default.
package tools

import (
	"context"
	"fmt"
	"strings"

	sublime "github.com/sublime-labs/sublimechain"
)

// EchoTool repeats the provided input. Useful for testing tool wiring.
type EchoTool struct{}

func (e *EchoTool) Spec() sublime.ToolSpec {
	return sublime.ToolSpec{
		Name:        "echo",
		Description: "Echoes the provided text back to the caller.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"input": map[string]any{
					"type":        "string",
					"description": "Text to echo back.",
				},
			},
			"required": []any{"input"},
		},
	}
}

func (e *EchoTool) Invoke(_ context.Context, req sublime.ToolRequest) (sublime.ToolResponse, error) {
	raw := req.Arguments["input"]
	if raw == nil {
		return sublime.ToolResponse{}, nil
	}
	return sublime.ToolResponse{Content: strings.TrimSpace(fmt.Sprint(raw))}, nil
}
