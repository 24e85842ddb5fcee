package storage

import "time"

// Escalation links a session to a pending human routing decision.
// One row per session; Resolved flips exactly once.
type Escalation struct {
	SessionID      string
	PredictedRoute string
	Reasoning      string
	Evidence       string // JSON array of {summary, route, score}
	Transcript     string
	CreatedAt      time.Time
	Resolved       bool
	HumanRoute     string
	ResolvedAt     time.Time
}

// Event is one append-only log entry: a conversation turn, an escalation,
// a resolution, or a metrics snapshot.
type Event struct {
	ID        string
	Kind      string
	SessionID string
	Payload   string // JSON
	CreatedAt time.Time
}

// Event kinds written by the data manager.
const (
	EventTurn       = "turn"
	EventEscalation = "escalation"
	EventResolution = "resolution"
	EventMetrics    = "metrics"
	EventTimeout    = "timeout"
)
