package sublimechain

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sublime-labs/sublimechain/src/models"
)

// EntryKind identifies one kind of conversation entry.
type EntryKind string

const (
	EntryUser       EntryKind = "user"
	EntryAssistant  EntryKind = "assistant"
	EntryToolResult EntryKind = "tool-result"
)

// Entry is one record of the conversation history.
type Entry struct {
	Kind      EntryKind
	Content   string
	Thinking  []models.ThinkingBlock // signed reasoning on assistant entries
	ToolCalls []models.ToolCall      // assistant entries that requested tools
	Result    *ToolResult            // tool-result entries
	At        time.Time
}

// Config is the live per-session configuration. It is read at turn open;
// changes apply to the next turn, never mid-turn.
type Config struct {
	Provider       string
	Model          string
	MaxTokens      int
	ThinkingBudget int
	MaxToolRounds  int
	CallTimeout    time.Duration
	Concurrency    int
	MemoryEnabled  bool
	// HistoryLimit is the number of most recent entries sent to the provider.
	// The canonical history is never truncated, only the request view.
	HistoryLimit int
}

func (c Config) withDefaults() Config {
	if c.Provider == "" {
		c.Provider = "anthropic"
	}
	if c.MaxToolRounds <= 0 {
		c.MaxToolRounds = 8
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 20
	}
	return c
}

// Session holds the ordered conversation history and live configuration for
// one conversational session. Entries are append-only with exactly one writer
// (the owning orchestrator); Reset is the only truncation.
type Session struct {
	id string

	mu      sync.RWMutex
	cfg     Config
	entries []Entry
}

func NewSession(cfg Config) *Session {
	return &Session{id: uuid.NewString(), cfg: cfg.withDefaults()}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// UpdateConfig applies fn to the configuration. The change takes effect the
// next time a turn opens.
func (s *Session) UpdateConfig(fn func(*Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.cfg)
	s.cfg = s.cfg.withDefaults()
}

// Entries returns a copy of the full history.
func (s *Session) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Reset clears the history. Configuration is kept.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
}

func (s *Session) append(e Entry) {
	e.At = time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
}

func (s *Session) appendUser(content string) {
	s.append(Entry{Kind: EntryUser, Content: content})
}

func (s *Session) appendAssistant(content string, thinking []models.ThinkingBlock, calls []models.ToolCall) {
	s.append(Entry{Kind: EntryAssistant, Content: content, Thinking: thinking, ToolCalls: calls})
}

func (s *Session) appendToolResult(res ToolResult) {
	s.append(Entry{Kind: EntryToolResult, Content: res.Content, Result: &res})
}

// Messages builds the provider view of the history, truncated to the last
// HistoryLimit entries. Truncation always restarts at a user entry so an
// assistant tool request is never separated from its results.
func (s *Session) Messages() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := 0
	if n := len(s.entries) - s.cfg.HistoryLimit; n > 0 {
		start = n
	}
	for start > 0 && start < len(s.entries) && s.entries[start].Kind != EntryUser {
		start++
	}

	out := make([]models.Message, 0, len(s.entries)-start)
	for _, e := range s.entries[start:] {
		switch e.Kind {
		case EntryUser:
			out = append(out, models.Message{Role: models.RoleUser, Content: e.Content})
		case EntryAssistant:
			out = append(out, models.Message{
				Role:      models.RoleAssistant,
				Content:   e.Content,
				Thinking:  e.Thinking,
				ToolCalls: e.ToolCalls,
			})
		case EntryToolResult:
			msg := models.Message{Role: models.RoleTool, Content: e.Content}
			if e.Result != nil {
				msg.ToolCallID = e.Result.InvocationID
				msg.IsError = e.Result.IsError()
			}
			out = append(out, msg)
		}
	}
	return out
}
