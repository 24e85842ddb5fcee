// Package memory implements the case memory: an append-only,
// similarity-indexed store of labeled triage cases backed by SQLite.
// Similarity search is brute-force cosine over all stored embeddings,
// which is fine at learning-store scale (thousands of cases, one query
// per routing decision).
package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tsidihealth/intake/internal/triage"
)

// ErrEmpty is returned by Query when the store holds no cases. Callers
// must treat it as "zero similar cases", not as a failure.
var ErrEmpty = errors.New("case memory is empty")

// DimensionError reports an embedding whose length disagrees with the
// store's fixed dimensionality. It indicates an upstream contract
// violation; the offending add is rejected and the memory stays intact.
type DimensionError struct {
	Got, Want int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("embedding dimension %d, store expects %d", e.Got, e.Want)
}

// ScoredCase pairs a stored case with its cosine similarity to a query.
type ScoredCase struct {
	triage.Case
	Score float32
}

// Stats summarizes the memory contents for observability.
type Stats struct {
	Total  int                  `json:"total"`
	Routes map[triage.Route]int `json:"routes"`
}

// Store is the process-wide case memory. Adds are serialized and a
// concurrent Query observes either the full pre-add or full post-add
// state, never a partially written case.
type Store struct {
	mu  sync.RWMutex
	db  *sql.DB
	dim int
}

// New wraps an existing database (the cases table must exist via
// migrations) with the given fixed embedding dimensionality.
func New(db *sql.DB, dim int) *Store {
	return &Store{db: db, dim: dim}
}

// Dim returns the store's fixed embedding dimensionality.
func (s *Store) Dim() int {
	return s.dim
}

// Add appends a case and durably commits it. Fails with *DimensionError
// if the embedding length disagrees with the store dimensionality; there
// is no uniqueness constraint on content.
func (s *Store) Add(ctx context.Context, c triage.Case) error {
	if len(c.Embedding) != s.dim {
		return &DimensionError{Got: len(c.Embedding), Want: s.dim}
	}

	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cases (id, session_id, summary, embedding, route, origin, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SessionID, c.Summary, encodeFloat32s(c.Embedding),
		string(c.Route), string(c.Origin), createdAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("inserting case %s: %w", c.ID, err)
	}
	return nil
}

// Query returns the k stored cases most similar to the given embedding,
// ordered by descending cosine similarity. Ties keep insertion order
// (earlier case wins). Returns ErrEmpty when no cases exist.
func (s *Store) Query(ctx context.Context, embedding []float32, k int) ([]ScoredCase, error) {
	if len(embedding) != s.dim {
		return nil, &DimensionError{Got: len(embedding), Want: s.dim}
	}
	if k <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, summary, embedding, route, origin, created_at
		FROM cases ORDER BY rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying cases: %w", err)
	}
	defer rows.Close()

	queryNorm := norm(embedding)

	var scored []ScoredCase
	for rows.Next() {
		var c triage.Case
		var blob []byte
		var route, origin, createdAt string
		if err := rows.Scan(&c.ID, &c.SessionID, &c.Summary, &blob, &route, &origin, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning case: %w", err)
		}
		vec, err := decodeFloat32s(blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", c.ID, err)
		}
		c.Embedding = vec
		c.Route = triage.Route(route)
		c.Origin = triage.CaseOrigin(origin)
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at for %s: %w", c.ID, err)
		}
		c.CreatedAt = t

		scored = append(scored, ScoredCase{Case: c, Score: cosine(embedding, vec, queryNorm)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating cases: %w", err)
	}

	if len(scored) == 0 {
		return nil, ErrEmpty
	}

	// Stable sort keeps the rowid scan order for equal scores.
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// Stats returns the total case count and per-route histogram.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT route, COUNT(*) FROM cases GROUP BY route`)
	if err != nil {
		return Stats{}, fmt.Errorf("querying case stats: %w", err)
	}
	defer rows.Close()

	st := Stats{Routes: make(map[triage.Route]int)}
	for rows.Next() {
		var route string
		var n int
		if err := rows.Scan(&route, &n); err != nil {
			return Stats{}, err
		}
		st.Routes[triage.Route(route)] = n
		st.Total += n
	}
	return st, rows.Err()
}
