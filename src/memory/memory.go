package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// recallKeywords gate automatic recall: only queries that plausibly refer to
// prior context trigger a store lookup.
var recallKeywords = []string{
	"remember", "recall", "told you", "discussed",
	"my", "me", "i am", "name", "preference",
}

const defaultRecallCooldown = 30 * time.Second

// Manager ties an embedder to a vector store and applies the recall policy.
// Callers treat memory as optional; a broken backend must never fail a turn,
// so failures are returned for logging rather than escalated.
type Manager struct {
	store    VectorStore
	embedder Embedder
	logger   *slog.Logger
	cooldown time.Duration

	mu         sync.Mutex
	lastRecall time.Time
}

// NewManager constructs a memory manager. A nil embedder falls back to the
// dummy; a nil logger falls back to slog.Default().
func NewManager(store VectorStore, embedder Embedder, logger *slog.Logger) *Manager {
	if embedder == nil {
		embedder = DummyEmbedder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:    store,
		embedder: embedder,
		logger:   logger,
		cooldown: defaultRecallCooldown,
	}
}

// Recall returns records relevant to the query, subject to keyword gating and
// a cooldown so ordinary small talk does not hammer the store. A gated-out
// query returns (nil, nil).
func (m *Manager) Recall(ctx context.Context, query string, limit int) ([]Record, error) {
	if !m.shouldRecall(query) {
		return nil, nil
	}
	return m.ForceRecall(ctx, query, limit)
}

// ForceRecall searches unconditionally, bypassing gating and cooldown. Used
// by the explicit recall command.
func (m *Manager) ForceRecall(ctx context.Context, query string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 5
	}
	embedding, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("memory: embed query: %w", err)
	}
	records, err := m.store.Search(ctx, embedding, limit)
	if err != nil {
		return nil, fmt.Errorf("memory: search: %w", err)
	}
	return records, nil
}

// Learn stores one item of a finalized exchange.
func (m *Manager) Learn(ctx context.Context, sessionID, role, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	embedding, err := m.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("memory: embed: %w", err)
	}
	rec := Record{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.Add(ctx, rec, embedding); err != nil {
		return fmt.Errorf("memory: store: %w", err)
	}
	return nil
}

// LearnAsync stores in a background goroutine, logging failures. Never blocks
// the caller's turn.
func (m *Manager) LearnAsync(sessionID, role, content string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := m.Learn(ctx, sessionID, role, content); err != nil {
			m.logger.Warn("memory learn failed", "session", sessionID, "error", err)
		}
	}()
}

// Count reports how many records the backing store holds.
func (m *Manager) Count(ctx context.Context) (int, error) {
	return m.store.Count(ctx)
}

// Close releases the backing store.
func (m *Manager) Close(ctx context.Context) error {
	return m.store.Close(ctx)
}

func (m *Manager) shouldRecall(query string) bool {
	lower := strings.ToLower(query)
	matched := false
	for _, kw := range recallKeywords {
		if strings.Contains(lower, kw) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if time.Since(m.lastRecall) < m.cooldown {
		return false
	}
	m.lastRecall = time.Now()
	return true
}
