package intake

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/tsidihealth/intake/internal/llm"
	"github.com/tsidihealth/intake/internal/router"
	"github.com/tsidihealth/intake/internal/triage"
)

// scriptedCompleter replays canned responses, one per Complete call.
type scriptedCompleter struct {
	responses []string
	err       error
	calls     int
}

func (c *scriptedCompleter) Complete(ctx context.Context, messages []llm.Message, schema *llm.Schema) (string, error) {
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	if len(c.responses) == 0 {
		return turnJSON("Go on.", "none", nil), nil
	}
	resp := c.responses[0]
	c.responses = c.responses[1:]
	return resp, nil
}

type fakeDecider struct {
	decision router.Decision
	calls    int
}

func (d *fakeDecider) Decide(ctx context.Context, description string) router.Decision {
	d.calls++
	return d.decision
}

type fakeCurator struct {
	direct     int
	escalated  int
	incomplete []string
}

func (c *fakeCurator) FinishDirect(ctx context.Context, s *Session, d router.Decision)    { c.direct++ }
func (c *fakeCurator) FinishEscalated(ctx context.Context, s *Session, d router.Decision) { c.escalated++ }
func (c *fakeCurator) FinishIncomplete(ctx context.Context, s *Session, reason string) {
	c.incomplete = append(c.incomplete, reason)
}

type fakeRecorder struct {
	turns int
}

func (r *fakeRecorder) RecordTurn(sessionID, role, content string) { r.turns++ }

func turnJSON(reply, action string, args any) string {
	m := map[string]any{"reply": reply, "action": action}
	if args != nil {
		m["args"] = args
	}
	b, _ := json.Marshal(m)
	return string(b)
}

// intakeScript is the completion sequence for a full successful intake.
func intakeScript() []string {
	return []string{
		turnJSON("Thanks Ada. What's your birth date?", "set_name",
			map[string]string{"first_name": "Ada", "last_name": "Lovelace"}),
		turnJSON("Got it. Any current prescriptions?", "set_birth_date",
			map[string]string{"birth_date": "1985-06-14"}),
		turnJSON("Noted. Any allergies?", "set_prescriptions",
			map[string]any{"prescriptions": []any{}}),
		turnJSON("Any medical conditions?", "set_allergies",
			map[string]any{"items": []string{}}),
		turnJSON("And the reason for your visit?", "set_conditions",
			map[string]any{"items": []string{}}),
		turnJSON("Tell me about your symptoms.", "set_visit_reasons",
			map[string]any{"items": []string{"persistent headaches"}}),
		turnJSON("Let me check the right care option for you.", "set_symptoms",
			map[string]any{"symptoms": []map[string]any{{
				"symptom": "headache", "severity": 6, "duration": "2 weeks",
			}}}),
	}
}

func driveIntake(t *testing.T, p *Processor, s *Session, script []string) Reply {
	t.Helper()
	var last Reply
	messages := []string{
		"Hi, I'm Ada Lovelace",
		"June 14th 1985",
		"no prescriptions",
		"no allergies",
		"no conditions",
		"I keep getting headaches",
		"about a six, for two weeks",
	}
	for i := range script {
		last = p.HandleTurn(context.Background(), s, messages[i])
	}
	return last
}

func TestHandleTurn_FullIntakeRoutesDirect(t *testing.T) {
	completer := &scriptedCompleter{responses: intakeScript()}
	decider := &fakeDecider{decision: router.Decision{
		Route:        triage.RouteRoutine,
		Reasoning:    "consistent with tension headaches",
		SimilarCount: 4,
	}}
	curator := &fakeCurator{}
	p := NewProcessor(completer, decider, curator, &fakeRecorder{}, 0)

	s := NewSession("s1")
	last := driveIntake(t, p, s, intakeScript())

	if decider.calls != 1 {
		t.Fatalf("Decide called %d times, want exactly 1", decider.calls)
	}
	if !last.EndCall {
		t.Error("final reply EndCall = false, want true")
	}
	if last.Route != string(triage.RouteRoutine) {
		t.Errorf("Route = %q, want routine", last.Route)
	}
	if last.Escalation != nil {
		t.Error("Escalation attached to a direct routing")
	}
	if !strings.Contains(last.Text, "routine") {
		t.Errorf("final reply does not name the route: %q", last.Text)
	}
	if s.Phase != PhaseTermination || s.EndReason != EndRouted {
		t.Errorf("session end = (%s, %s), want (termination, routed)", s.Phase, s.EndReason)
	}
	if curator.direct != 1 || curator.escalated != 0 {
		t.Errorf("curator calls = %+v, want exactly one direct", curator)
	}
}

func TestHandleTurn_LowEvidenceEscalates(t *testing.T) {
	completer := &scriptedCompleter{responses: intakeScript()}
	decider := &fakeDecider{decision: router.Decision{
		Route:        triage.RouteUrgent,
		Reasoning:    "only one similar case",
		Escalate:     true,
		SimilarCount: 1,
	}}
	curator := &fakeCurator{}
	p := NewProcessor(completer, decider, curator, &fakeRecorder{}, 0)

	s := NewSession("s1")
	last := driveIntake(t, p, s, intakeScript())

	if !last.EndCall {
		t.Error("EndCall = false on escalation")
	}
	if last.Escalation == nil {
		t.Fatal("no EscalationNotice on escalated reply")
	}
	if last.Escalation.PredictedRoute != string(triage.RouteUrgent) {
		t.Errorf("PredictedRoute = %q, want urgent", last.Escalation.PredictedRoute)
	}
	if !strings.Contains(last.Text, "human expert") {
		t.Errorf("escalation reply missing handoff wording: %q", last.Text)
	}
	if s.Phase != PhaseEscalation || s.EndReason != EndEscalated {
		t.Errorf("session end = (%s, %s), want (escalation, escalated)", s.Phase, s.EndReason)
	}
	if curator.escalated != 1 || curator.direct != 0 {
		t.Errorf("curator calls = %+v, want exactly one escalated", curator)
	}
}

func TestHandleTurn_TerminalSessionLatches(t *testing.T) {
	completer := &scriptedCompleter{responses: intakeScript()}
	decider := &fakeDecider{decision: router.Decision{Route: triage.RouteSelfCare}}
	p := NewProcessor(completer, decider, &fakeCurator{}, &fakeRecorder{}, 0)

	s := NewSession("s1")
	driveIntake(t, p, s, intakeScript())
	callsAfterRouting := completer.calls

	// Terminal sessions never reach the reasoning service again, however
	// many times the caller keeps talking.
	for i := 0; i < 3; i++ {
		reply := p.HandleTurn(context.Background(), s, "hello? are you still there?")
		if !reply.EndCall {
			t.Error("terminal reply EndCall = false")
		}
		if reply.Text != terminalNotice {
			t.Errorf("terminal reply = %q, want notice", reply.Text)
		}
	}
	if completer.calls != callsAfterRouting {
		t.Errorf("completer called %d more times after termination", completer.calls-callsAfterRouting)
	}
	if decider.calls != 1 {
		t.Errorf("Decide called %d times, want 1", decider.calls)
	}
}

func TestHandleTurn_ValidationFailureReprompts(t *testing.T) {
	completer := &scriptedCompleter{responses: []string{
		turnJSON("Thanks!", "set_birth_date", map[string]string{"birth_date": "June 14th"}),
	}}
	p := NewProcessor(completer, &fakeDecider{}, &fakeCurator{}, &fakeRecorder{}, 0)

	s := NewSession("s1")
	reply := p.HandleTurn(context.Background(), s, "June 14th")

	if !strings.Contains(reply.Text, "year-month-day") {
		t.Errorf("reply = %q, want birth date re-prompt", reply.Text)
	}
	if s.Record.BirthDate != "" {
		t.Errorf("BirthDate = %q stored despite validation failure", s.Record.BirthDate)
	}
	if reply.EndCall {
		t.Error("EndCall = true on re-prompt")
	}
}

func TestHandleTurn_UnknownActionDiscarded(t *testing.T) {
	completer := &scriptedCompleter{responses: []string{
		turnJSON("Let me just transfer you.", "transfer_call", map[string]string{"to": "billing"}),
	}}
	p := NewProcessor(completer, &fakeDecider{}, &fakeCurator{}, &fakeRecorder{}, 0)

	s := NewSession("s1")
	reply := p.HandleTurn(context.Background(), s, "can you transfer me?")

	if reply.Text != "Let me just transfer you." {
		t.Errorf("reply = %q, want the model reply with the action dropped", reply.Text)
	}
	if s.Terminal() {
		t.Error("unknown action changed session state")
	}
}

func TestHandleTurn_CompleterFailureReprompts(t *testing.T) {
	completer := &scriptedCompleter{err: errors.New("connection refused")}
	p := NewProcessor(completer, &fakeDecider{}, &fakeCurator{}, &fakeRecorder{}, 0)

	s := NewSession("s1")
	reply := p.HandleTurn(context.Background(), s, "hello")

	if reply.Text != serviceReprompt {
		t.Errorf("reply = %q, want service re-prompt", reply.Text)
	}
	if reply.EndCall {
		t.Error("EndCall = true on service failure")
	}
	if s.Terminal() {
		t.Error("service failure terminated the session")
	}
}

func TestHandleTurn_UnstructuredReplyUsedAsIs(t *testing.T) {
	completer := &scriptedCompleter{responses: []string{"Could you tell me your name?"}}
	p := NewProcessor(completer, &fakeDecider{}, &fakeCurator{}, &fakeRecorder{}, 0)

	s := NewSession("s1")
	reply := p.HandleTurn(context.Background(), s, "hi")

	if reply.Text != "Could you tell me your name?" {
		t.Errorf("reply = %q, want the raw unstructured text", reply.Text)
	}
}

func TestHandleTurn_PatientEndsCall(t *testing.T) {
	completer := &scriptedCompleter{responses: []string{
		turnJSON("Alright, take care.", "end_call", nil),
	}}
	curator := &fakeCurator{}
	p := NewProcessor(completer, &fakeDecider{}, curator, &fakeRecorder{}, 0)

	s := NewSession("s1")
	reply := p.HandleTurn(context.Background(), s, "actually I have to go, bye")

	if !reply.EndCall {
		t.Error("EndCall = false after end_call action")
	}
	if reply.Text != goodbyeReply {
		t.Errorf("reply = %q, want goodbye", reply.Text)
	}
	if s.Phase != PhaseTermination || s.EndReason != EndPatientEnded {
		t.Errorf("session end = (%s, %s), want (termination, patient_ended)", s.Phase, s.EndReason)
	}
	if len(curator.incomplete) != 1 || curator.incomplete[0] != EndPatientEnded {
		t.Errorf("incomplete curation calls = %v, want [patient_ended]", curator.incomplete)
	}
}

func TestHandleTurn_RoutingRequestBeforeDataIsIgnored(t *testing.T) {
	completer := &scriptedCompleter{responses: []string{
		turnJSON("I still need a few details first.", "request_routing", nil),
	}}
	decider := &fakeDecider{}
	p := NewProcessor(completer, decider, &fakeCurator{}, &fakeRecorder{}, 0)

	s := NewSession("s1")
	reply := p.HandleTurn(context.Background(), s, "just tell me where to go")

	if decider.calls != 0 {
		t.Errorf("Decide called %d times with incomplete record, want 0", decider.calls)
	}
	if reply.EndCall {
		t.Error("EndCall = true, want conversation to continue")
	}
	if s.Phase == PhaseRouting {
		t.Error("session entered routing with incomplete record")
	}
}

func TestForceTimeout(t *testing.T) {
	curator := &fakeCurator{}
	p := NewProcessor(&scriptedCompleter{}, &fakeDecider{}, curator, &fakeRecorder{}, 0)

	s := NewSession("s1")
	s.Phase = PhaseBasicIntake
	p.ForceTimeout(context.Background(), s)

	if s.Phase != PhaseTermination || s.EndReason != EndTimeout {
		t.Errorf("session end = (%s, %s), want (termination, timeout)", s.Phase, s.EndReason)
	}
	if len(curator.incomplete) != 1 || curator.incomplete[0] != EndTimeout {
		t.Errorf("incomplete curation calls = %v, want [timeout]", curator.incomplete)
	}

	// A second force is a no-op.
	p.ForceTimeout(context.Background(), s)
	if len(curator.incomplete) != 1 {
		t.Errorf("ForceTimeout on terminal session curated again: %v", curator.incomplete)
	}
}

func TestGreet(t *testing.T) {
	recorder := &fakeRecorder{}
	p := NewProcessor(&scriptedCompleter{}, &fakeDecider{}, &fakeCurator{}, recorder, 0)

	s := NewSession("s1")
	reply := p.Greet(s)

	if !strings.Contains(reply.Text, "Tsidi Health Services") {
		t.Errorf("greeting = %q, want service introduction", reply.Text)
	}
	if len(s.Turns) != 1 || s.Turns[0].Role != "agent" {
		t.Errorf("Turns = %+v, want one agent turn", s.Turns)
	}
	if recorder.turns != 1 {
		t.Errorf("recorded %d turns, want 1", recorder.turns)
	}
}
