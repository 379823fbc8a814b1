package models

import (
	"context"
	"strings"
	"sync"
)

// ScriptedResponse is one canned turn for the DummyProvider.
type ScriptedResponse struct {
	Text      string
	Thinking  []ThinkingBlock
	ToolCalls []ToolCall
	Err       error
}

// DummyProvider replays scripted responses, one per Stream call. When the
// script runs out it echoes the last user message in word-level chunks.
// Useful for local testing without API calls.
type DummyProvider struct {
	mu       sync.Mutex
	script   []ScriptedResponse
	next     int
	requests []Request
}

func NewDummyProvider(script []ScriptedResponse) *DummyProvider {
	return &DummyProvider{script: script}
}

func (d *DummyProvider) Name() string { return "dummy" }

// Requests returns a copy of every request received, in order.
func (d *DummyProvider) Requests() []Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Request, len(d.requests))
	copy(out, d.requests)
	return out
}

func (d *DummyProvider) Stream(_ context.Context, req Request) (<-chan StreamChunk, error) {
	d.mu.Lock()
	d.requests = append(d.requests, req)
	var resp ScriptedResponse
	if d.next < len(d.script) {
		resp = d.script[d.next]
		d.next++
	} else {
		resp = ScriptedResponse{Text: "Echo: " + lastUserContent(req.Messages)}
	}
	d.mu.Unlock()

	if resp.Err != nil {
		return nil, resp.Err
	}

	ch := make(chan StreamChunk, 16)
	go func() {
		defer close(ch)
		for i := range resp.Thinking {
			block := resp.Thinking[i]
			ch <- StreamChunk{Thinking: block.Thinking}
			ch <- StreamChunk{ThinkingBlock: &block}
		}
		var full strings.Builder
		for i, word := range strings.Fields(resp.Text) {
			if i > 0 {
				word = " " + word
			}
			full.WriteString(word)
			ch <- StreamChunk{Delta: word}
		}
		for i := range resp.ToolCalls {
			call := resp.ToolCalls[i]
			ch <- StreamChunk{ToolCall: &call}
		}
		ch <- StreamChunk{Done: true, FullText: full.String()}
	}()
	return ch, nil
}

func lastUserContent(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser && messages[i].Content != "" {
			return messages[i].Content
		}
	}
	return "<empty>"
}

var _ Provider = (*DummyProvider)(nil)
