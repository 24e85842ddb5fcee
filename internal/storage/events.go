package storage

import (
	"fmt"
	"time"
)

// AppendEvent writes one entry to the append-only event log.
func (s *Store) AppendEvent(e Event) error {
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	payload := e.Payload
	if payload == "" {
		payload = "{}"
	}
	_, err := s.db.Exec(`
		INSERT INTO events (id, kind, session_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.Kind, e.SessionID, payload, createdAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("appending %s event: %w", e.Kind, err)
	}
	return nil
}

// ListEvents returns log entries, newest first, optionally filtered by kind.
func (s *Store) ListEvents(kind string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, kind, session_id, payload, created_at FROM events`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Kind, &e.SessionID, &e.Payload, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		e.CreatedAt = t
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountEvents returns the number of log entries of the given kind.
func (s *Store) CountEvents(kind string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM events WHERE kind = ?`, kind).Scan(&n)
	return n, err
}
