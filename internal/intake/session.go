// Package intake drives a single patient conversation through its phased
// workflow: greeting, basic intake, detailed symptoms, and the routing
// gate. Each collected field is validated before the conversation may
// advance, and the routing phase delegates to the confidence router.
package intake

import (
	"fmt"
	"strings"
	"time"

	"github.com/tsidihealth/intake/internal/llm"
	"github.com/tsidihealth/intake/internal/router"
	"github.com/tsidihealth/intake/internal/triage"
)

// Phase is a workflow state. Escalation and termination are terminal:
// once reached, no further transitions or reasoning-service calls happen
// for the session.
type Phase string

const (
	PhaseGreeting         Phase = "greeting"
	PhaseBasicIntake      Phase = "basic_intake"
	PhaseDetailedSymptoms Phase = "detailed_symptoms"
	PhaseRouting          Phase = "routing"
	PhaseEscalation       Phase = "escalation"
	PhaseTermination      Phase = "termination"
)

// End reasons recorded on terminal sessions.
const (
	EndRouted       = "routed"
	EndEscalated    = "escalated"
	EndTimeout      = "timeout"
	EndPatientEnded = "patient_ended"
)

// Turn is one utterance in the conversation transcript.
type Turn struct {
	Role    string    `json:"role"` // "patient" or "agent"
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Session is one active intake conversation. It is exclusively owned by
// its registry entry; callers must serialize access per session. Session
// state is never shared across conversations.
type Session struct {
	ID           string
	Phase        Phase
	Record       triage.PatientRecord
	Turns        []Turn
	Messages     []llm.Message // chat history for the reasoning service
	Decision     *router.Decision
	EndReason    string
	CreatedAt    time.Time
	LastActivity time.Time
}

// NewSession creates a session in the greeting phase.
func NewSession(id string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:           id,
		Phase:        PhaseGreeting,
		CreatedAt:    now,
		LastActivity: now,
	}
}

// Terminal reports whether the session has reached a terminal phase.
func (s *Session) Terminal() bool {
	return s.Phase == PhaseEscalation || s.Phase == PhaseTermination
}

// TimedOut reports whether the inactivity window or the total session
// budget has been exceeded.
func (s *Session) TimedOut(now time.Time, inactivity, maxDuration time.Duration) bool {
	if s.Terminal() {
		return false
	}
	if inactivity > 0 && now.Sub(s.LastActivity) > inactivity {
		return true
	}
	if maxDuration > 0 && now.Sub(s.CreatedAt) > maxDuration {
		return true
	}
	return false
}

// Transcript returns the patient's side of the conversation, the text the
// curation pipeline summarizes and embeds.
func (s *Session) Transcript() string {
	var parts []string
	for _, t := range s.Turns {
		if t.Role == "patient" && strings.TrimSpace(t.Content) != "" {
			parts = append(parts, t.Content)
		}
	}
	return strings.Join(parts, " ")
}

// CaseDescription renders the collected record as the routing query text.
func (s *Session) CaseDescription() string {
	var b strings.Builder
	if len(s.Record.VisitReasons) > 0 {
		fmt.Fprintf(&b, "Reasons for visit: %s.", strings.Join(s.Record.VisitReasons, ", "))
	}
	for _, sym := range s.Record.Symptoms {
		fmt.Fprintf(&b, " %s, severity %d/10, duration %s", sym.Name, sym.Severity, sym.Duration)
		if len(sym.AssociatedSymptoms) > 0 {
			fmt.Fprintf(&b, ", associated with %s", strings.Join(sym.AssociatedSymptoms, ", "))
		}
		if sym.Triggers != "" {
			fmt.Fprintf(&b, ", triggers: %s", sym.Triggers)
		}
		b.WriteString(".")
	}
	if len(s.Record.Conditions) > 0 {
		fmt.Fprintf(&b, " Existing conditions: %s.", strings.Join(s.Record.Conditions, ", "))
	}
	if b.Len() == 0 {
		return s.Transcript()
	}
	return strings.TrimSpace(b.String())
}

// EnterRouting guards the routing gate: it may only be entered from
// detailed_symptoms with a complete basic record and recorded symptoms.
func (s *Session) EnterRouting() error {
	if s.Terminal() {
		return &StateError{Phase: s.Phase}
	}
	if s.Phase != PhaseDetailedSymptoms || !s.Record.BasicComplete() || !s.Record.HasSymptoms() {
		return &StateError{Phase: s.Phase}
	}
	s.Phase = PhaseRouting
	return nil
}
