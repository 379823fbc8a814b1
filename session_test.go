package sublimechain

import (
	"testing"

	"github.com/sublime-labs/sublimechain/src/models"
)

func TestSessionDefaults(t *testing.T) {
	sess := NewSession(Config{})
	cfg := sess.Config()
	if cfg.Provider != "anthropic" {
		t.Errorf("expected default provider anthropic, got %q", cfg.Provider)
	}
	if cfg.MaxToolRounds != 8 {
		t.Errorf("expected default round limit 8, got %d", cfg.MaxToolRounds)
	}
	if cfg.HistoryLimit != 20 {
		t.Errorf("expected default history limit 20, got %d", cfg.HistoryLimit)
	}
	if sess.ID() == "" {
		t.Errorf("expected a session id")
	}
}

func TestSessionUpdateConfigTakesEffect(t *testing.T) {
	sess := NewSession(Config{})
	sess.UpdateConfig(func(c *Config) { c.Model = "claude-opus-4" })
	if got := sess.Config().Model; got != "claude-opus-4" {
		t.Errorf("expected updated model, got %q", got)
	}
}

func TestSessionResetKeepsConfig(t *testing.T) {
	sess := NewSession(Config{Model: "m"})
	sess.appendUser("hello")
	sess.appendAssistant("hi", nil, nil)
	if sess.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", sess.Len())
	}

	sess.Reset()
	if sess.Len() != 0 {
		t.Errorf("expected empty history after reset, got %d entries", sess.Len())
	}
	if sess.Config().Model != "m" {
		t.Errorf("reset must not touch configuration")
	}
}

func TestMessagesMapsRolesAndToolResults(t *testing.T) {
	sess := NewSession(Config{})
	sess.appendUser("question")
	sess.appendAssistant("checking", nil, []models.ToolCall{{ID: "c1", Name: "echo", Arguments: `{}`}})
	sess.appendToolResult(ToolResult{InvocationID: "c1", Tool: "echo", Status: StatusError, Content: "nope"})
	sess.appendAssistant("answer", nil, nil)

	msgs := sess.Messages()
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	if msgs[0].Role != models.RoleUser || msgs[1].Role != models.RoleAssistant {
		t.Errorf("unexpected leading roles: %s, %s", msgs[0].Role, msgs[1].Role)
	}
	if len(msgs[1].ToolCalls) != 1 {
		t.Errorf("assistant tool requests must survive the mapping")
	}
	res := msgs[2]
	if res.Role != models.RoleTool || res.ToolCallID != "c1" || !res.IsError {
		t.Errorf("unexpected tool message: %#v", res)
	}
}

func TestMessagesTruncationRestartsAtUserEntry(t *testing.T) {
	sess := NewSession(Config{HistoryLimit: 3})
	// Old exchange that will fall outside the window.
	sess.appendUser("old question")
	sess.appendAssistant("old answer", nil, nil)
	// Recent exchange: the naive cut would land on the assistant tool
	// request, orphaning it from its user entry.
	sess.appendAssistant("checking", nil, []models.ToolCall{{ID: "c1", Name: "echo", Arguments: `{}`}})
	sess.appendToolResult(ToolResult{InvocationID: "c1", Tool: "echo", Status: StatusOK, Content: "ok"})
	sess.appendUser("new question")
	sess.appendAssistant("new answer", nil, nil)

	msgs := sess.Messages()
	if len(msgs) == 0 {
		t.Fatalf("expected the window to contain the latest exchange")
	}
	if msgs[0].Role != models.RoleUser {
		t.Fatalf("truncated view must begin with a user message, got %s", msgs[0].Role)
	}
	if msgs[0].Content != "new question" {
		t.Errorf("expected the window to restart at the next user entry, got %q", msgs[0].Content)
	}
	for _, msg := range msgs {
		if msg.Role == models.RoleTool {
			t.Errorf("orphaned tool result leaked into the window: %#v", msg)
		}
	}
}
