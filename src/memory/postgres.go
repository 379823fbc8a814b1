package memory

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists records in Postgres with the pgvector extension.
// Similarity search is pushed down to the database via the `<->` distance
// operator.
type PostgresStore struct {
	pool *pgxpool.Pool
	dim  int
}

func NewPostgresStore(ctx context.Context, dsn string, dim int) (*PostgresStore, error) {
	if dim <= 0 {
		dim = 768
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	s := &PostgresStore{pool: pool, dim: dim}
	if err := s.createSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) createSchema(ctx context.Context) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS memory_bank (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.dim),
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Add(ctx context.Context, rec Record, embedding []float32) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO memory_bank (id, session_id, role, content, embedding, created_at)
		 VALUES ($1, $2, $3, $4, $5::vector, $6)`,
		rec.ID, rec.SessionID, rec.Role, rec.Content, vectorLiteral(embedding, s.dim), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres insert: %w", err)
	}
	return nil
}

func (s *PostgresStore) Search(ctx context.Context, embedding []float32, limit int) ([]Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, role, content, created_at,
		        1 - (embedding <=> $1::vector) AS score
		 FROM memory_bank
		 ORDER BY embedding <-> $1::vector
		 LIMIT $2`,
		vectorLiteral(embedding, s.dim), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres search: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Role, &rec.Content, &rec.CreatedAt, &rec.Score); err != nil {
			return nil, fmt.Errorf("postgres scan: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM memory_bank`).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres count: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) Close(context.Context) error {
	s.pool.Close()
	return nil
}

// vectorLiteral renders the pgvector text format, padding or truncating to
// the configured dimension.
func vectorLiteral(embedding []float32, dim int) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i := 0; i < dim; i++ {
		if i > 0 {
			sb.WriteByte(',')
		}
		var v float32
		if i < len(embedding) {
			v = embedding[i]
		}
		sb.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}
