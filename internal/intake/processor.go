package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tsidihealth/intake/internal/llm"
	"github.com/tsidihealth/intake/internal/router"
)

// Decider is the routing gate the processor delegates to once data
// collection is complete.
type Decider interface {
	Decide(ctx context.Context, description string) router.Decision
}

// Curator receives terminal sessions for post-hoc learning. Curation
// failures are logged by the implementation and never fed back into the
// conversation.
type Curator interface {
	FinishDirect(ctx context.Context, s *Session, d router.Decision)
	FinishEscalated(ctx context.Context, s *Session, d router.Decision)
	FinishIncomplete(ctx context.Context, s *Session, reason string)
}

// TurnRecorder appends conversation turns to the audit log,
// fire-and-forget.
type TurnRecorder interface {
	RecordTurn(sessionID, role, content string)
}

// EscalationNotice is the structured payload attached to a reply when the
// conversation ends in an escalation.
type EscalationNotice struct {
	PredictedRoute string `json:"predicted_route"`
	Reasoning      string `json:"reasoning"`
	SimilarCount   int    `json:"similar_count"`
}

// Reply is the structured outcome of one conversational turn.
type Reply struct {
	Text       string
	EndCall    bool
	Route      string
	Escalation *EscalationNotice
}

// Processor runs the conversation loop for sessions: it sends each
// patient turn to the reasoning service, applies the returned intake
// action through the state machine, and fires the routing decision when
// the workflow reaches the routing gate.
type Processor struct {
	completer   llm.Completer
	decider     Decider
	curator     Curator
	recorder    TurnRecorder
	turnTimeout time.Duration
}

// NewProcessor wires the conversation loop. A zero turnTimeout disables
// the per-turn deadline.
func NewProcessor(completer llm.Completer, decider Decider, curator Curator, recorder TurnRecorder, turnTimeout time.Duration) *Processor {
	return &Processor{
		completer:   completer,
		decider:     decider,
		curator:     curator,
		recorder:    recorder,
		turnTimeout: turnTimeout,
	}
}

const (
	terminalNotice  = "This conversation has ended. Please start a new session if you need further help."
	serviceReprompt = "I'm sorry, I'm having a little trouble right now. Could you say that again in a moment?"
	goodbyeReply    = "Thank you for calling Tsidi Health Services. Take care."
)

// Greet opens a fresh session with the agent's first line so the caller
// hears the agent before speaking.
func (p *Processor) Greet(s *Session) Reply {
	const greeting = "Hello! Thank you for calling Tsidi Health Services. My name is John and I'll be helping " +
		"you get ready for your visit. May I have your first and last name, please?"

	now := time.Now().UTC()
	s.LastActivity = now
	s.Turns = append(s.Turns, Turn{Role: "agent", Content: greeting, At: now})
	s.Messages = append(s.Messages, llm.Message{Role: "assistant", Content: greeting})
	p.recorder.RecordTurn(s.ID, "agent", greeting)
	return Reply{Text: greeting}
}

// HandleTurn processes one patient utterance. The caller must hold the
// session's lock. Service failures degrade to re-prompts; the patient
// never sees an error.
func (p *Processor) HandleTurn(ctx context.Context, s *Session, message string) Reply {
	if s.Terminal() {
		// Goodbye-loop guard: terminal sessions never re-enter the
		// conversation or the reasoning service.
		return Reply{Text: terminalNotice, EndCall: true, Route: p.finalRoute(s)}
	}

	now := time.Now().UTC()
	s.LastActivity = now
	s.Turns = append(s.Turns, Turn{Role: "patient", Content: message, At: now})
	p.recorder.RecordTurn(s.ID, "patient", message)

	if s.Phase == PhaseGreeting {
		s.Phase = PhaseBasicIntake
	}

	reply := p.converse(ctx, s, message)

	s.Turns = append(s.Turns, Turn{Role: "agent", Content: reply.Text, At: time.Now().UTC()})
	p.recorder.RecordTurn(s.ID, "agent", reply.Text)
	return reply
}

// turnResult is the structured completion output for one turn.
type turnResult struct {
	Reply  string          `json:"reply"`
	Action string          `json:"action"`
	Args   json.RawMessage `json:"args"`
}

func (p *Processor) converse(ctx context.Context, s *Session, message string) Reply {
	if p.turnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.turnTimeout)
		defer cancel()
	}

	s.Messages = append(s.Messages, llm.Message{Role: "user", Content: message})

	messages := make([]llm.Message, 0, len(s.Messages)+1)
	messages = append(messages, llm.Message{Role: "system", Content: systemPrompt(s.Phase)})
	messages = append(messages, s.Messages...)

	raw, err := p.completer.Complete(ctx, messages, turnSchema())
	if err != nil {
		slog.Warn("turn completion failed", "session", s.ID, "error", err)
		return Reply{Text: serviceReprompt}
	}

	var result turnResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		// Soft-fail: an unstructured response still carries a usable reply.
		slog.Warn("turn result not structured, using raw reply", "session", s.ID, "error", err)
		result = turnResult{Reply: strings.TrimSpace(raw), Action: string(ActionNone)}
	}
	if result.Reply == "" {
		result.Reply = serviceReprompt
	}
	s.Messages = append(s.Messages, llm.Message{Role: "assistant", Content: result.Reply})

	return p.applyTurn(ctx, s, result)
}

func (p *Processor) applyTurn(ctx context.Context, s *Session, result turnResult) Reply {
	action, err := DecodeAction(result.Action, result.Args)
	if err != nil {
		slog.Warn("discarding unknown action", "session", s.ID, "error", err)
		return Reply{Text: result.Reply}
	}

	if err := s.Apply(action); err != nil {
		var v *ValidationError
		if errors.As(err, &v) {
			slog.Debug("field validation failed, re-prompting", "session", s.ID, "field", v.Field, "reason", v.Reason)
			return Reply{Text: repromptText(v)}
		}
		slog.Warn("applying action failed", "session", s.ID, "error", err)
		return Reply{Text: result.Reply}
	}

	if action.Kind == ActionEndCall {
		s.Phase = PhaseTermination
		s.EndReason = EndPatientEnded
		p.curator.FinishIncomplete(ctx, s, EndPatientEnded)
		return Reply{Text: goodbyeReply, EndCall: true}
	}

	// Phase transitions after a successfully applied action.
	if s.Phase == PhaseBasicIntake && s.Record.BasicComplete() {
		s.Phase = PhaseDetailedSymptoms
	}

	routingRequested := action.Kind == ActionRequestRouting || (s.Phase == PhaseDetailedSymptoms && s.Record.HasSymptoms())
	if routingRequested {
		if err := s.EnterRouting(); err != nil {
			var st *StateError
			if errors.As(err, &st) {
				slog.Debug("routing requested too early", "session", s.ID, "phase", st.Phase)
				return Reply{Text: result.Reply}
			}
			slog.Warn("entering routing failed", "session", s.ID, "error", err)
			return Reply{Text: result.Reply}
		}
		return p.route(ctx, s)
	}

	return Reply{Text: result.Reply}
}

// route fires the confidence router exactly once and seals the session.
func (p *Processor) route(ctx context.Context, s *Session) Reply {
	decision := p.decider.Decide(ctx, s.CaseDescription())
	s.Decision = &decision

	if decision.Escalate {
		s.Phase = PhaseEscalation
		s.EndReason = EndEscalated
		p.curator.FinishEscalated(ctx, s, decision)
		text := fmt.Sprintf(
			"I've analyzed your symptoms and believe this may require %s care. "+
				"However, I'd like a human expert to review your case to make sure you get the best care. "+
				"Let me connect you with one of our specialists.", decision.Route)
		return Reply{
			Text:    text,
			EndCall: true,
			Route:   string(decision.Route),
			Escalation: &EscalationNotice{
				PredictedRoute: string(decision.Route),
				Reasoning:      decision.Reasoning,
				SimilarCount:   decision.SimilarCount,
			},
		}
	}

	s.Phase = PhaseTermination
	s.EndReason = EndRouted
	p.curator.FinishDirect(ctx, s, decision)
	text := fmt.Sprintf("Based on your symptoms, I recommend %s care. %s I'll connect you with the appropriate department now.",
		decision.Route, decision.Reasoning)
	return Reply{Text: text, EndCall: true, Route: string(decision.Route)}
}

// ForceTimeout transitions a stale session to termination with reason
// timeout, independent of phase-completion state.
func (p *Processor) ForceTimeout(ctx context.Context, s *Session) {
	if s.Terminal() {
		return
	}
	s.Phase = PhaseTermination
	s.EndReason = EndTimeout
	p.curator.FinishIncomplete(ctx, s, EndTimeout)
}

func (p *Processor) finalRoute(s *Session) string {
	if s.Decision == nil {
		return ""
	}
	return string(s.Decision.Route)
}
