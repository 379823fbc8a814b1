// Package memory gives sessions long-term continuity: exchanges are embedded
// and stored after a turn, and relevant prior records are recalled before one.
package memory

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"
)

// Record is one remembered item.
type Record struct {
	ID        string
	SessionID string
	Role      string
	Content   string
	Score     float64
	CreatedAt time.Time
}

// VectorStore is the long-term backend contract.
type VectorStore interface {
	Add(ctx context.Context, rec Record, embedding []float32) error
	Search(ctx context.Context, embedding []float32, limit int) ([]Record, error)
	Count(ctx context.Context) (int, error)
	Close(ctx context.Context) error
}

// InMemoryStore keeps records in process. Default backend; also the test one.
type InMemoryStore struct {
	mu         sync.RWMutex
	records    []Record
	embeddings [][]float32
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Add(_ context.Context, rec Record, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	s.embeddings = append(s.embeddings, append([]float32(nil), embedding...))
	return nil
}

func (s *InMemoryStore) Search(_ context.Context, embedding []float32, limit int) ([]Record, error) {
	if limit <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	scored := make([]Record, len(s.records))
	for i, rec := range s.records {
		rec.Score = Cosine(embedding, s.embeddings[i])
		scored[i] = rec
	}
	s.mu.RUnlock()

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func (s *InMemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

func (s *InMemoryStore) Close(context.Context) error { return nil }

// Cosine computes cosine similarity; mismatched lengths compare over the
// shorter prefix.
func Cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
