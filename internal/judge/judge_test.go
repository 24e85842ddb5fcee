package judge

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/tsidihealth/intake/internal/intake"
	"github.com/tsidihealth/intake/internal/llm"
	"github.com/tsidihealth/intake/internal/router"
	"github.com/tsidihealth/intake/internal/storage"
	"github.com/tsidihealth/intake/internal/triage"
)

type fakeCompleter struct {
	response string
	err      error
}

func (f *fakeCompleter) Complete(ctx context.Context, messages []llm.Message, schema *llm.Schema) (string, error) {
	return f.response, f.err
}

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type fakeAdder struct {
	cases []triage.Case
	err   error
}

func (f *fakeAdder) Add(ctx context.Context, c triage.Case) error {
	if f.err != nil {
		return f.err
	}
	f.cases = append(f.cases, c)
	return nil
}

type fakeAudit struct {
	escalations int
	resolutions int
	timeouts    int
	snapshots   int
}

func (f *fakeAudit) RecordEscalation(sessionID, predictedRoute, reasoning string, similarCount int) {
	f.escalations++
}
func (f *fakeAudit) RecordResolution(sessionID, humanRoute string, corrected bool) {
	f.resolutions++
}
func (f *fakeAudit) RecordTimeout(sessionID, reason string) { f.timeouts++ }
func (f *fakeAudit) SnapshotMetrics(snapshot any)           { f.snapshots++ }

// newTestJudge wires a judge against an in-memory escalation store.
func newTestJudge(t *testing.T, curatePartial bool) (*Judge, *fakeAdder, *storage.Store, *fakeAudit) {
	t.Helper()
	st, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening test storage: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	adder := &fakeAdder{}
	audit := &fakeAudit{}
	j := New(&fakeCompleter{response: "Patient reports severe headaches."},
		&fakeEmbedder{}, adder, st, audit, curatePartial)
	return j, adder, st, audit
}

func sessionWithTurns(id string, patientText string) *intake.Session {
	s := intake.NewSession(id)
	s.Turns = []intake.Turn{{Role: "patient", Content: patientText}}
	return s
}

func TestSummarize_FallbackKeywords(t *testing.T) {
	j := &Judge{completer: &fakeCompleter{err: errors.New("model unavailable")}}

	got := j.Summarize(context.Background(), "I have chest pain and shortness of breath, feeling dizzy")
	if !strings.HasPrefix(got, "Patient reports: ") {
		t.Fatalf("fallback summary = %q, want keyword form", got)
	}
	for _, kw := range []string{"pain", "chest", "shortness", "breath", "dizzy"} {
		if !strings.Contains(got, kw) {
			t.Errorf("fallback summary missing keyword %q: %q", kw, got)
		}
	}
}

func TestSummarize_FallbackCapsKeywords(t *testing.T) {
	j := &Judge{completer: &fakeCompleter{err: errors.New("down")}}

	got := j.Summarize(context.Background(),
		"pain ache fever headache chest shortness breath dizzy nausea")
	if n := strings.Count(got, ","); n != maxFallbackKeywords-1 {
		t.Errorf("fallback lists %d keywords, want %d: %q", n+1, maxFallbackKeywords, got)
	}
}

func TestSummarize_FallbackTruncation(t *testing.T) {
	j := &Judge{completer: &fakeCompleter{err: errors.New("down")}}

	long := strings.Repeat("the weather was lovely today ", 20)
	got := j.Summarize(context.Background(), long)
	if len(got) > maxFallbackChars {
		t.Errorf("fallback length = %d, want <= %d", len(got), maxFallbackChars)
	}
}

func TestSummarize_UsesModelWhenAvailable(t *testing.T) {
	j := &Judge{completer: &fakeCompleter{response: "Severe migraine, two weeks."}}

	got := j.Summarize(context.Background(), "my head hurts all the time")
	if got != "Severe migraine, two weeks." {
		t.Errorf("summary = %q, want the model output", got)
	}
}

func TestFinishDirect_CuratesCase(t *testing.T) {
	j, adder, _, _ := newTestJudge(t, false)

	s := sessionWithTurns("s1", "I keep getting headaches")
	j.FinishDirect(context.Background(), s, router.Decision{Route: triage.RouteRoutine})

	if len(adder.cases) != 1 {
		t.Fatalf("curated %d cases, want 1", len(adder.cases))
	}
	c := adder.cases[0]
	if c.Route != triage.RouteRoutine {
		t.Errorf("Route = %q, want routine", c.Route)
	}
	if c.Origin != triage.OriginDirect {
		t.Errorf("Origin = %q, want direct", c.Origin)
	}
	if c.SessionID != "s1" {
		t.Errorf("SessionID = %q, want s1", c.SessionID)
	}

	m := j.Metrics()
	if m.Conversations != 1 || m.Escalations != 0 {
		t.Errorf("metrics = %+v, want 1 conversation, 0 escalations", m)
	}
}

func TestFinishEscalated_PersistsWithoutCurating(t *testing.T) {
	j, adder, st, audit := newTestJudge(t, false)

	s := sessionWithTurns("s1", "bad chest pain")
	j.FinishEscalated(context.Background(), s, router.Decision{
		Route:        triage.RouteUrgent,
		Reasoning:    "only one similar case",
		SimilarCount: 1,
	})

	if len(adder.cases) != 0 {
		t.Errorf("curated %d cases before resolution, want 0", len(adder.cases))
	}
	e, err := st.GetEscalation("s1")
	if err != nil {
		t.Fatalf("GetEscalation: %v", err)
	}
	if e.PredictedRoute != "urgent" || e.Resolved {
		t.Errorf("escalation = %+v, want pending urgent", e)
	}
	if audit.escalations != 1 {
		t.Errorf("audit escalations = %d, want 1", audit.escalations)
	}

	m := j.Metrics()
	if m.Escalations != 1 || m.EscalationRate != 1 {
		t.Errorf("metrics = %+v, want escalation rate 1", m)
	}
}

func TestResolve_CorrectedLabel(t *testing.T) {
	j, adder, _, audit := newTestJudge(t, false)

	s := sessionWithTurns("s1", "bad chest pain")
	j.FinishEscalated(context.Background(), s, router.Decision{Route: triage.RouteUrgent})

	res, err := j.Resolve(context.Background(), "s1", triage.RouteEmergency)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !res.CaseAdded || !res.Corrected {
		t.Errorf("resolution = %+v, want corrected case added", res)
	}
	if len(adder.cases) != 1 {
		t.Fatalf("curated %d cases, want 1", len(adder.cases))
	}
	c := adder.cases[0]
	if c.Route != triage.RouteEmergency {
		t.Errorf("Route = %q, want the human label emergency", c.Route)
	}
	if c.Origin != triage.OriginEscalationCorrected {
		t.Errorf("Origin = %q, want escalation_corrected", c.Origin)
	}
	if audit.resolutions != 1 {
		t.Errorf("audit resolutions = %d, want 1", audit.resolutions)
	}

	m := j.Metrics()
	if m.ResolvedCases != 1 || m.CorrectPredictions != 0 || m.Accuracy != 0 {
		t.Errorf("metrics = %+v, want one incorrect resolution", m)
	}
}

func TestResolve_ConfirmedLabel(t *testing.T) {
	j, adder, _, _ := newTestJudge(t, false)

	s := sessionWithTurns("s1", "bad chest pain")
	j.FinishEscalated(context.Background(), s, router.Decision{Route: triage.RouteUrgent})

	res, err := j.Resolve(context.Background(), "s1", triage.RouteUrgent)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Corrected {
		t.Error("Corrected = true for a matching label")
	}
	if adder.cases[0].Origin != triage.OriginEscalationConfirmed {
		t.Errorf("Origin = %q, want escalation_confirmed", adder.cases[0].Origin)
	}

	m := j.Metrics()
	if m.ResolvedCases != 1 || m.CorrectPredictions != 1 || m.Accuracy != 1 {
		t.Errorf("metrics = %+v, want one correct resolution", m)
	}
}

func TestResolve_Idempotent(t *testing.T) {
	j, adder, _, _ := newTestJudge(t, false)

	s := sessionWithTurns("s1", "bad chest pain")
	j.FinishEscalated(context.Background(), s, router.Decision{Route: triage.RouteUrgent})

	if _, err := j.Resolve(context.Background(), "s1", triage.RouteUrgent); err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	_, err := j.Resolve(context.Background(), "s1", triage.RouteEmergency)
	if !errors.Is(err, storage.ErrAlreadyResolved) {
		t.Fatalf("second Resolve = %v, want ErrAlreadyResolved", err)
	}
	if len(adder.cases) != 1 {
		t.Errorf("curated %d cases after double resolve, want 1", len(adder.cases))
	}
	if m := j.Metrics(); m.ResolvedCases != 1 {
		t.Errorf("ResolvedCases = %d after double resolve, want 1", m.ResolvedCases)
	}
}

func TestResolve_RetryAfterCurationFailure(t *testing.T) {
	j, adder, st, audit := newTestJudge(t, false)
	embedder := &fakeEmbedder{err: errors.New("embed service down")}
	j.embedder = embedder

	s := sessionWithTurns("s1", "bad chest pain")
	j.FinishEscalated(context.Background(), s, router.Decision{Route: triage.RouteUrgent})

	if _, err := j.Resolve(context.Background(), "s1", triage.RouteEmergency); err == nil {
		t.Fatal("Resolve with failing embedder returned no error")
	}
	if len(adder.cases) != 0 {
		t.Errorf("curated %d cases despite embed failure, want 0", len(adder.cases))
	}

	// The escalation must be back on the pending list, not consumed.
	e, err := st.GetEscalation("s1")
	if err != nil {
		t.Fatalf("GetEscalation: %v", err)
	}
	if e.Resolved {
		t.Error("escalation still resolved after failed curation")
	}
	if m := j.Metrics(); m.ResolvedCases != 0 {
		t.Errorf("ResolvedCases = %d after failed curation, want 0", m.ResolvedCases)
	}
	if audit.resolutions != 0 {
		t.Errorf("audit resolutions = %d after failed curation, want 0", audit.resolutions)
	}

	// The same feedback succeeds once the service recovers.
	embedder.err = nil
	res, err := j.Resolve(context.Background(), "s1", triage.RouteEmergency)
	if err != nil {
		t.Fatalf("Resolve retry: %v", err)
	}
	if !res.CaseAdded || !res.Corrected {
		t.Errorf("retry resolution = %+v, want corrected case added", res)
	}
	if len(adder.cases) != 1 {
		t.Errorf("curated %d cases after retry, want 1", len(adder.cases))
	}
	if m := j.Metrics(); m.ResolvedCases != 1 {
		t.Errorf("ResolvedCases = %d after retry, want 1", m.ResolvedCases)
	}
}

func TestResolve_UnknownSession(t *testing.T) {
	j, _, _, _ := newTestJudge(t, false)

	_, err := j.Resolve(context.Background(), "nope", triage.RouteUrgent)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Resolve unknown session = %v, want ErrNotFound", err)
	}
}

func TestFinishIncomplete_DiscardsByDefault(t *testing.T) {
	j, adder, _, audit := newTestJudge(t, false)

	s := sessionWithTurns("s1", "hello?")
	s.Decision = &router.Decision{Route: triage.RouteRoutine}
	j.FinishIncomplete(context.Background(), s, intake.EndTimeout)

	if len(adder.cases) != 0 {
		t.Errorf("curated %d cases with curate_partial off, want 0", len(adder.cases))
	}
	if audit.timeouts != 1 {
		t.Errorf("audit timeouts = %d, want 1", audit.timeouts)
	}
}

func TestFinishIncomplete_CuratePartialKeepsPredicted(t *testing.T) {
	j, adder, _, _ := newTestJudge(t, true)

	// Only sessions that already produced a prediction are kept.
	s := sessionWithTurns("s1", "hello?")
	j.FinishIncomplete(context.Background(), s, intake.EndTimeout)
	if len(adder.cases) != 0 {
		t.Errorf("curated a case with no decision, want 0")
	}

	s2 := sessionWithTurns("s2", "fever for three days")
	s2.Decision = &router.Decision{Route: triage.RouteUrgent}
	j.FinishIncomplete(context.Background(), s2, intake.EndTimeout)
	if len(adder.cases) != 1 {
		t.Errorf("curated %d cases with curate_partial on, want 1", len(adder.cases))
	}
}

func TestMetricsSnapshot_Rates(t *testing.T) {
	m := &Metrics{}
	for i := 0; i < 4; i++ {
		m.ConversationFinished()
	}
	m.EscalationOpened()
	m.EscalationResolved(true)
	m.EscalationResolved(false)

	s := m.Snapshot()
	if s.EscalationRate != 0.25 {
		t.Errorf("EscalationRate = %f, want 0.25", s.EscalationRate)
	}
	if s.Accuracy != 0.5 {
		t.Errorf("Accuracy = %f, want 0.5", s.Accuracy)
	}

	var zero Metrics
	z := zero.Snapshot()
	if z.Accuracy != 0 || z.EscalationRate != 0 {
		t.Errorf("zero snapshot rates = %+v, want zeros", z)
	}
}
