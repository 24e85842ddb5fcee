// Package datalog is the append-only audit log: conversation turns,
// escalations, resolutions, and metrics snapshots. Every recorder is
// fire-and-forget: a full queue or a failed write is logged and dropped,
// and never blocks or fails the patient-facing flow.
package datalog

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tsidihealth/intake/internal/storage"
)

// Appender is the slice of the storage layer the log writes to.
type Appender interface {
	AppendEvent(e storage.Event) error
}

// Log buffers events on a channel and drains them on a background worker
// so conversation turns never wait on disk.
type Log struct {
	store Appender
	ch    chan storage.Event
}

// New creates a Log with the given buffer size (default 256 when <= 0).
func New(store Appender, buffer int) *Log {
	if buffer <= 0 {
		buffer = 256
	}
	return &Log{store: store, ch: make(chan storage.Event, buffer)}
}

// Run drains the event queue until ctx is cancelled, then flushes
// whatever is still buffered.
func (l *Log) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case e := <-l.ch:
					l.write(e)
				default:
					return
				}
			}
		case e := <-l.ch:
			l.write(e)
		}
	}
}

func (l *Log) write(e storage.Event) {
	if err := l.store.AppendEvent(e); err != nil {
		slog.Warn("event log write failed", "kind", e.Kind, "session", e.SessionID, "error", err)
	}
}

func (l *Log) enqueue(kind, sessionID string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("event payload marshal failed", "kind", kind, "error", err)
		return
	}
	e := storage.Event{
		ID:        uuid.New().String(),
		Kind:      kind,
		SessionID: sessionID,
		Payload:   string(data),
		CreatedAt: time.Now().UTC(),
	}
	select {
	case l.ch <- e:
	default:
		slog.Warn("event log queue full, dropping event", "kind", kind, "session", sessionID)
	}
}

// RecordTurn logs one conversation turn.
func (l *Log) RecordTurn(sessionID, role, content string) {
	l.enqueue(storage.EventTurn, sessionID, map[string]string{
		"role":    role,
		"content": content,
	})
}

// RecordEscalation logs a new pending escalation.
func (l *Log) RecordEscalation(sessionID, predictedRoute, reasoning string, similarCount int) {
	l.enqueue(storage.EventEscalation, sessionID, map[string]any{
		"predicted_route": predictedRoute,
		"reasoning":       reasoning,
		"similar_count":   similarCount,
	})
}

// RecordResolution logs human feedback resolving an escalation.
func (l *Log) RecordResolution(sessionID, humanRoute string, corrected bool) {
	l.enqueue(storage.EventResolution, sessionID, map[string]any{
		"human_route": humanRoute,
		"corrected":   corrected,
	})
}

// RecordTimeout logs a forced termination.
func (l *Log) RecordTimeout(sessionID, reason string) {
	l.enqueue(storage.EventTimeout, sessionID, map[string]string{
		"reason": reason,
	})
}

// SnapshotMetrics logs a rolling metrics snapshot for dashboards.
func (l *Log) SnapshotMetrics(snapshot any) {
	l.enqueue(storage.EventMetrics, "", snapshot)
}
