// Package judge is the curation pipeline: it turns finished conversations
// and resolved escalations into new labeled cases for the case memory,
// and maintains the learning metrics that measure whether routing is
// improving.
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tsidihealth/intake/internal/intake"
	"github.com/tsidihealth/intake/internal/llm"
	"github.com/tsidihealth/intake/internal/memory"
	"github.com/tsidihealth/intake/internal/router"
	"github.com/tsidihealth/intake/internal/storage"
	"github.com/tsidihealth/intake/internal/triage"
)

// CaseAdder is the slice of the case memory the judge writes to.
type CaseAdder interface {
	Add(ctx context.Context, c triage.Case) error
}

// EscalationStore persists pending escalations and their resolutions.
type EscalationStore interface {
	SaveEscalation(e storage.Escalation) error
	GetEscalation(sessionID string) (storage.Escalation, error)
	MarkResolved(sessionID, humanRoute string) error
	ReopenEscalation(sessionID string) error
}

// AuditLog is the slice of the data manager the judge uses.
type AuditLog interface {
	RecordEscalation(sessionID, predictedRoute, reasoning string, similarCount int)
	RecordResolution(sessionID, humanRoute string, corrected bool)
	RecordTimeout(sessionID, reason string)
	SnapshotMetrics(snapshot any)
}

// Judge curates cases and tracks learning metrics.
type Judge struct {
	completer llm.Completer
	embedder  llm.Embedder
	mem       CaseAdder
	store     EscalationStore
	audit     AuditLog
	metrics   *Metrics

	// curatePartial controls whether a timed-out or abandoned session
	// that already produced a routing prediction still becomes a
	// (lower-confidence) training case.
	curatePartial bool
}

// New wires the curation pipeline.
func New(completer llm.Completer, embedder llm.Embedder, mem CaseAdder, store EscalationStore, audit AuditLog, curatePartial bool) *Judge {
	return &Judge{
		completer:     completer,
		embedder:      embedder,
		mem:           mem,
		store:         store,
		audit:         audit,
		metrics:       &Metrics{},
		curatePartial: curatePartial,
	}
}

// Metrics returns the current learning metrics snapshot.
func (j *Judge) Metrics() MetricsSnapshot {
	return j.metrics.Snapshot()
}

// Summarize condenses a transcript into the case summary text. It fails
// soft: on service failure it returns a deterministic keyword/truncation
// fallback instead of aborting curation.
func (j *Judge) Summarize(ctx context.Context, transcript string) string {
	prompt := fmt.Sprintf(
		"Extract and summarize the key medical symptoms and reasons for visit from this patient conversation:\n\n"+
			"Conversation: %s\n\n"+
			"Provide a concise summary focusing on primary symptoms, severity indicators, duration, "+
			"and associated symptoms. Keep it under 100 words and focus on medical relevance.",
		transcript)

	summary, err := j.completer.Complete(ctx, []llm.Message{{Role: "user", Content: prompt}}, nil)
	if err != nil || summary == "" {
		slog.Warn("transcript summarization failed, using fallback", "error", err)
		return fallbackSummary(transcript)
	}
	return summary
}

// FinishDirect curates a conversation the system routed on its own.
// Every resolved conversation becomes training data, reviewed or not.
func (j *Judge) FinishDirect(ctx context.Context, s *intake.Session, d router.Decision) {
	j.metrics.ConversationFinished()
	if _, err := j.curate(ctx, s.ID, s.Transcript(), d.Route, triage.OriginDirect); err != nil {
		slog.Warn("curating direct case failed", "session", s.ID, "error", err)
	}
	j.audit.SnapshotMetrics(j.metrics.Snapshot())
}

// FinishEscalated persists the pending escalation; the case itself is
// curated only when human feedback resolves it.
func (j *Judge) FinishEscalated(ctx context.Context, s *intake.Session, d router.Decision) {
	j.metrics.ConversationFinished()
	j.metrics.EscalationOpened()

	e := storage.Escalation{
		SessionID:      s.ID,
		PredictedRoute: string(d.Route),
		Reasoning:      d.Reasoning,
		Evidence:       encodeEvidence(d.Evidence),
		Transcript:     s.Transcript(),
		CreatedAt:      time.Now().UTC(),
	}
	if err := j.store.SaveEscalation(e); err != nil {
		slog.Error("persisting escalation failed", "session", s.ID, "error", err)
	}
	j.audit.RecordEscalation(s.ID, string(d.Route), d.Reasoning, d.SimilarCount)
	j.audit.SnapshotMetrics(j.metrics.Snapshot())
}

// FinishIncomplete handles timed-out or patient-abandoned sessions.
// By default incomplete data is discarded; the curate_partial policy
// keeps sessions that had already reached a prediction.
func (j *Judge) FinishIncomplete(ctx context.Context, s *intake.Session, reason string) {
	j.metrics.ConversationFinished()
	j.audit.RecordTimeout(s.ID, reason)

	if j.curatePartial && s.Decision != nil {
		if _, err := j.curate(ctx, s.ID, s.Transcript(), s.Decision.Route, triage.OriginDirect); err != nil {
			slog.Warn("curating partial case failed", "session", s.ID, "error", err)
		}
	}
	j.audit.SnapshotMetrics(j.metrics.Snapshot())
}

// Resolution reports what human feedback produced.
type Resolution struct {
	CaseAdded bool
	CaseID    string
	Corrected bool
}

// Resolve applies human feedback to a pending escalation. The human's
// label always takes precedence over the system's prediction. Resolution
// is idempotent: a second call returns storage.ErrAlreadyResolved and
// curates nothing. If curation fails (the embedding service is down) the
// escalation is reopened so the same feedback can be retried; nothing is
// counted as resolved until the case has actually been stored.
func (j *Judge) Resolve(ctx context.Context, sessionID string, humanRoute triage.Route) (Resolution, error) {
	if err := j.store.MarkResolved(sessionID, string(humanRoute)); err != nil {
		return Resolution{}, err
	}

	e, err := j.store.GetEscalation(sessionID)
	if err != nil {
		j.reopen(sessionID)
		return Resolution{}, fmt.Errorf("loading resolved escalation: %w", err)
	}

	corrected := e.PredictedRoute != string(humanRoute)
	origin := triage.OriginEscalationConfirmed
	if corrected {
		origin = triage.OriginEscalationCorrected
	}

	caseID, err := j.curate(ctx, sessionID, e.Transcript, humanRoute, origin)
	if err != nil {
		j.reopen(sessionID)
		return Resolution{Corrected: corrected}, fmt.Errorf("curating resolved case: %w", err)
	}

	j.metrics.EscalationResolved(!corrected)
	j.audit.RecordResolution(sessionID, string(humanRoute), corrected)
	j.audit.SnapshotMetrics(j.metrics.Snapshot())
	return Resolution{CaseAdded: true, CaseID: caseID, Corrected: corrected}, nil
}

func (j *Judge) reopen(sessionID string) {
	if err := j.store.ReopenEscalation(sessionID); err != nil {
		slog.Error("reopening escalation failed", "session", sessionID, "error", err)
	}
}

// curate builds and stores one labeled case from a transcript.
func (j *Judge) curate(ctx context.Context, sessionID, transcript string, route triage.Route, origin triage.CaseOrigin) (string, error) {
	summary := j.Summarize(ctx, transcript)

	vec, err := j.embedder.Embed(ctx, summary)
	if err != nil {
		return "", fmt.Errorf("embedding case summary: %w", err)
	}

	c := triage.Case{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Summary:   summary,
		Embedding: vec,
		Route:     route,
		Origin:    origin,
		CreatedAt: time.Now().UTC(),
	}
	if err := j.mem.Add(ctx, c); err != nil {
		return "", fmt.Errorf("adding case to memory: %w", err)
	}
	slog.Info("curated case", "session", sessionID, "route", route, "origin", origin)
	return c.ID, nil
}

// evidenceItem is the persisted shape of one similarity neighbor.
type evidenceItem struct {
	Summary string  `json:"summary"`
	Route   string  `json:"route"`
	Score   float32 `json:"score"`
}

func encodeEvidence(neighbors []memory.ScoredCase) string {
	items := make([]evidenceItem, len(neighbors))
	for i, n := range neighbors {
		items[i] = evidenceItem{Summary: n.Summary, Route: string(n.Route), Score: n.Score}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(data)
}
