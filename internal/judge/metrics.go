package judge

import "sync"

// MetricsSnapshot is the read-only view served to dashboards and logged
// to the event stream. Accuracy and escalation rate are derived, never
// stored as ground truth.
type MetricsSnapshot struct {
	Conversations      int     `json:"total_conversations"`
	Escalations        int     `json:"total_escalations"`
	ResolvedCases      int     `json:"resolved_cases"`
	CorrectPredictions int     `json:"correct_predictions"`
	Accuracy           float64 `json:"accuracy"`
	EscalationRate     float64 `json:"escalation_rate"`
}

// Metrics tracks running learning counters across concurrent sessions.
type Metrics struct {
	mu            sync.Mutex
	conversations int
	escalations   int
	resolved      int
	correct       int
}

// ConversationFinished counts one terminal conversation of any kind.
func (m *Metrics) ConversationFinished() {
	m.mu.Lock()
	m.conversations++
	m.mu.Unlock()
}

// EscalationOpened counts one new pending escalation.
func (m *Metrics) EscalationOpened() {
	m.mu.Lock()
	m.escalations++
	m.mu.Unlock()
}

// EscalationResolved counts one resolved escalation and whether the
// system's prediction matched the human label.
func (m *Metrics) EscalationResolved(correct bool) {
	m.mu.Lock()
	m.resolved++
	if correct {
		m.correct++
	}
	m.mu.Unlock()
}

// Snapshot returns the current counters with derived rates.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := MetricsSnapshot{
		Conversations:      m.conversations,
		Escalations:        m.escalations,
		ResolvedCases:      m.resolved,
		CorrectPredictions: m.correct,
	}
	if m.resolved > 0 {
		s.Accuracy = float64(m.correct) / float64(m.resolved)
	}
	if m.conversations > 0 {
		s.EscalationRate = float64(m.escalations) / float64(m.conversations)
	}
	return s
}
