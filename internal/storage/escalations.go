package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrAlreadyResolved is returned when feedback arrives for an escalation
// that has already been resolved. Resolution is idempotent: the second
// caller gets this error and no new case is curated.
var ErrAlreadyResolved = errors.New("escalation already resolved")

// SaveEscalation records a pending escalation for a session. Saving twice
// for the same session keeps the first record.
func (s *Store) SaveEscalation(e Escalation) error {
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO escalations (session_id, predicted_route, reasoning, evidence, transcript, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.PredictedRoute, e.Reasoning, e.Evidence, e.Transcript,
		createdAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving escalation for %s: %w", e.SessionID, err)
	}
	return nil
}

// GetEscalation returns the escalation for a session.
func (s *Store) GetEscalation(sessionID string) (Escalation, error) {
	row := s.db.QueryRow(`
		SELECT session_id, predicted_route, reasoning, evidence, transcript, created_at, resolved, human_route, resolved_at
		FROM escalations WHERE session_id = ?`, sessionID)
	return scanEscalation(row)
}

// MarkResolved atomically flips the resolved flag and records the human
// route. Returns ErrNotFound if no escalation exists for the session and
// ErrAlreadyResolved if it was resolved before this call.
func (s *Store) MarkResolved(sessionID, humanRoute string) error {
	res, err := s.db.Exec(`
		UPDATE escalations SET resolved = 1, human_route = ?, resolved_at = ?
		WHERE session_id = ? AND resolved = 0`,
		humanRoute, time.Now().UTC().Format(time.RFC3339), sessionID)
	if err != nil {
		return fmt.Errorf("resolving escalation for %s: %w", sessionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, getErr := s.GetEscalation(sessionID); getErr != nil {
			return getErr
		}
		return ErrAlreadyResolved
	}
	return nil
}

// ReopenEscalation returns a resolved escalation to the pending list,
// clearing the human label, so the feedback can be submitted again.
// Reopening an already-pending escalation is a no-op; a missing session
// returns ErrNotFound.
func (s *Store) ReopenEscalation(sessionID string) error {
	res, err := s.db.Exec(`
		UPDATE escalations SET resolved = 0, human_route = NULL, resolved_at = NULL
		WHERE session_id = ? AND resolved = 1`, sessionID)
	if err != nil {
		return fmt.Errorf("reopening escalation for %s: %w", sessionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, getErr := s.GetEscalation(sessionID); getErr != nil {
			return getErr
		}
	}
	return nil
}

// ListPendingEscalations returns unresolved escalations, oldest first.
func (s *Store) ListPendingEscalations(limit int) ([]Escalation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT session_id, predicted_route, reasoning, evidence, transcript, created_at, resolved, human_route, resolved_at
		FROM escalations WHERE resolved = 0 ORDER BY created_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing pending escalations: %w", err)
	}
	defer rows.Close()

	var out []Escalation
	for rows.Next() {
		e, err := scanEscalation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEscalation(row rowScanner) (Escalation, error) {
	var e Escalation
	var createdAt string
	var resolved int
	var humanRoute, resolvedAt sql.NullString
	err := row.Scan(&e.SessionID, &e.PredictedRoute, &e.Reasoning, &e.Evidence,
		&e.Transcript, &createdAt, &resolved, &humanRoute, &resolvedAt)
	if err == sql.ErrNoRows {
		return Escalation{}, ErrNotFound
	}
	if err != nil {
		return Escalation{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Escalation{}, fmt.Errorf("parsing created_at: %w", err)
	}
	e.CreatedAt = t
	e.Resolved = resolved != 0
	e.HumanRoute = humanRoute.String
	if resolvedAt.Valid && resolvedAt.String != "" {
		rt, err := time.Parse(time.RFC3339, resolvedAt.String)
		if err != nil {
			return Escalation{}, fmt.Errorf("parsing resolved_at: %w", err)
		}
		e.ResolvedAt = rt
	}
	return e, nil
}
