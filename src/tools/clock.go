package tools

import (
	"context"
	"fmt"
	"time"

	sublime "github.com/sublime-labs/sublimechain"
)

// ClockTool reports the current time, optionally in a named IANA zone.
type ClockTool struct {
	// Now is swappable for tests; defaults to time.Now.
	Now func() time.Time
}

func (c *ClockTool) Spec() sublime.ToolSpec {
	return sublime.ToolSpec{
		Name:        "clock",
		Description: "Returns the current date and time, optionally in a given IANA timezone.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"timezone": map[string]any{
					"type":        "string",
					"description": "IANA timezone name such as \"Europe/Berlin\". Defaults to UTC.",
				},
			},
		},
	}
}

func (c *ClockTool) Invoke(_ context.Context, req sublime.ToolRequest) (sublime.ToolResponse, error) {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}

	loc := time.UTC
	if name, ok := req.Arguments["timezone"].(string); ok && name != "" {
		parsed, err := time.LoadLocation(name)
		if err != nil {
			return sublime.ToolResponse{}, fmt.Errorf("unknown timezone %q", name)
		}
		loc = parsed
	}

	return sublime.ToolResponse{
		Content: now().In(loc).Format("Monday, 2 January 2006 15:04:05 MST"),
	}, nil
}
