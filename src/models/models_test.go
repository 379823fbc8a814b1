package models

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
)

func collect(t *testing.T, ch <-chan StreamChunk) []StreamChunk {
	t.Helper()
	var chunks []StreamChunk
	for chunk := range ch {
		chunks = append(chunks, chunk)
	}
	return chunks
}

func TestDummyProviderReplaysScript(t *testing.T) {
	provider := NewDummyProvider([]ScriptedResponse{
		{Text: "one two three"},
	})

	ch, err := provider.Stream(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Stream returned error: %v", err)
	}
	chunks := collect(t, ch)

	var text string
	for _, c := range chunks {
		text += c.Delta
	}
	if text != "one two three" {
		t.Errorf("expected reassembled %q, got %q", "one two three", text)
	}
	last := chunks[len(chunks)-1]
	if !last.Done || last.FullText != "one two three" {
		t.Errorf("expected terminal chunk with full text, got %#v", last)
	}

	// Script exhausted; the provider falls back to echoing.
	ch, err = provider.Stream(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "again"}},
	})
	if err != nil {
		t.Fatalf("Stream returned error: %v", err)
	}
	chunks = collect(t, ch)
	if got := chunks[len(chunks)-1].FullText; got != "Echo: again" {
		t.Errorf("expected echo fallback, got %q", got)
	}

	if n := len(provider.Requests()); n != 2 {
		t.Errorf("expected 2 recorded requests, got %d", n)
	}
}

func TestDummyProviderEmitsToolCallsAfterText(t *testing.T) {
	provider := NewDummyProvider([]ScriptedResponse{
		{
			Text: "checking",
			ToolCalls: []ToolCall{
				{ID: "c1", Name: "alpha", Arguments: `{}`},
				{ID: "c2", Name: "beta", Arguments: `{}`},
			},
		},
	})
	ch, err := provider.Stream(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Stream returned error: %v", err)
	}

	var names []string
	sawText := false
	for _, chunk := range collect(t, ch) {
		if chunk.Delta != "" {
			if len(names) > 0 {
				t.Errorf("text must stream before tool calls")
			}
			sawText = true
		}
		if chunk.ToolCall != nil {
			names = append(names, chunk.ToolCall.Name)
		}
	}
	if !sawText {
		t.Errorf("expected text deltas")
	}
	if len(names) != 2 || names[0] != "alpha" || names[1] != "beta" {
		t.Errorf("expected tool calls in order, got %v", names)
	}
}

func TestDummyProviderScriptedError(t *testing.T) {
	provider := NewDummyProvider([]ScriptedResponse{
		{Err: errors.New("boom")},
	})
	if _, err := provider.Stream(context.Background(), Request{}); err == nil {
		t.Fatalf("expected scripted error")
	}
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	if _, err := New("hal9000"); err == nil {
		t.Fatalf("expected an error for an unknown provider")
	}
	p, err := New("dummy")
	if err != nil {
		t.Fatalf("New(dummy) returned error: %v", err)
	}
	if p.Name() != "dummy" {
		t.Errorf("expected dummy provider, got %s", p.Name())
	}
}

func TestAnthropicMessagesMergesToolResults(t *testing.T) {
	msgs, err := anthropicMessages([]Message{
		{Role: RoleUser, Content: "question"},
		{Role: RoleAssistant, Content: "checking", ToolCalls: []ToolCall{
			{ID: "c1", Name: "alpha", Arguments: `{"x":1}`},
			{ID: "c2", Name: "beta", Arguments: `{}`},
		}},
		{Role: RoleTool, Content: "result one", ToolCallID: "c1"},
		{Role: RoleTool, Content: "result two", ToolCallID: "c2", IsError: true},
		{Role: RoleAssistant, Content: "answer"},
	})
	if err != nil {
		t.Fatalf("anthropicMessages returned error: %v", err)
	}

	// user, assistant, merged tool-result user message, assistant.
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	wantRoles := []string{"user", "assistant", "user", "assistant"}
	for i, want := range wantRoles {
		if string(msgs[i].Role) != want {
			t.Errorf("message %d: expected role %s, got %s", i, want, msgs[i].Role)
		}
	}
	if len(msgs[2].Content) != 2 {
		t.Errorf("expected both tool results merged into one message, got %d blocks", len(msgs[2].Content))
	}
	if len(msgs[1].Content) != 3 {
		t.Errorf("expected text plus two tool_use blocks, got %d", len(msgs[1].Content))
	}
}

func TestAnthropicMessagesReplaysThinkingBeforeToolUse(t *testing.T) {
	msgs, err := anthropicMessages([]Message{
		{Role: RoleUser, Content: "question"},
		{
			Role:     RoleAssistant,
			Content:  "checking",
			Thinking: []ThinkingBlock{{Thinking: "let me look that up", Signature: "sig-1"}},
			ToolCalls: []ToolCall{
				{ID: "c1", Name: "alpha", Arguments: `{"x":1}`},
			},
		},
		{Role: RoleTool, Content: "result one", ToolCallID: "c1"},
	})
	if err != nil {
		t.Fatalf("anthropicMessages returned error: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}

	// The assistant turn must lead with its signed thinking block; the API
	// rejects a tool_use turn replayed without it.
	assistant := msgs[1].Content
	if len(assistant) != 3 {
		t.Fatalf("expected thinking + text + tool_use blocks, got %d", len(assistant))
	}
	tb := assistant[0].OfThinking
	if tb == nil {
		t.Fatalf("first assistant block must be a thinking block, got %#v", assistant[0])
	}
	if tb.Thinking != "let me look that up" || tb.Signature != "sig-1" {
		t.Errorf("thinking block lost content or signature: %#v", tb)
	}
	if assistant[1].OfText == nil || assistant[2].OfToolUse == nil {
		t.Errorf("expected text then tool_use after thinking, got %#v", assistant)
	}
}

func TestAnthropicMessagesRejectsInvalidCallArguments(t *testing.T) {
	_, err := anthropicMessages([]Message{
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1", Name: "x", Arguments: `{broken`}}},
	})
	if err == nil {
		t.Fatalf("expected invalid argument JSON to be rejected")
	}
}

func TestOpenAIMessages(t *testing.T) {
	msgs := openaiMessages([]Message{
		{Role: RoleUser, Content: "question"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1", Name: "alpha", Arguments: `{}`}}},
		{Role: RoleTool, Content: "result", ToolCallID: "c1"},
	}, "system prompt")

	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	if msgs[0].Role != openai.ChatMessageRoleSystem || msgs[0].Content != "system prompt" {
		t.Errorf("expected the system message first, got %#v", msgs[0])
	}
	if len(msgs[2].ToolCalls) != 1 || msgs[2].ToolCalls[0].Function.Name != "alpha" {
		t.Errorf("assistant tool calls lost in conversion: %#v", msgs[2])
	}
	last := msgs[3]
	if last.Role != openai.ChatMessageRoleTool || last.ToolCallID != "c1" {
		t.Errorf("tool result must map to a tool-role message, got %#v", last)
	}
}

func TestOpenAITools(t *testing.T) {
	defs := openaiTools([]ToolDef{{
		Name:        "alpha",
		Description: "does alpha things",
		InputSchema: map[string]any{"type": "object"},
	}})
	if len(defs) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(defs))
	}
	fn := defs[0].Function
	if defs[0].Type != openai.ToolTypeFunction || fn == nil || fn.Name != "alpha" {
		t.Errorf("unexpected tool definition: %#v", defs[0])
	}
}
