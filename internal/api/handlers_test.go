package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tsidihealth/intake/internal/intake"
	"github.com/tsidihealth/intake/internal/judge"
	"github.com/tsidihealth/intake/internal/llm"
	"github.com/tsidihealth/intake/internal/memory"
	"github.com/tsidihealth/intake/internal/router"
	"github.com/tsidihealth/intake/internal/storage"
	"github.com/tsidihealth/intake/internal/triage"
)

type fakeCompleter struct {
	reply string
}

func (f *fakeCompleter) Complete(ctx context.Context, messages []llm.Message, schema *llm.Schema) (string, error) {
	return f.reply, nil
}

type fakeDecider struct{}

func (fakeDecider) Decide(ctx context.Context, description string) router.Decision {
	return router.Decision{Route: triage.RouteRoutine}
}

type fakeCurator struct{}

func (fakeCurator) FinishDirect(ctx context.Context, s *intake.Session, d router.Decision)    {}
func (fakeCurator) FinishEscalated(ctx context.Context, s *intake.Session, d router.Decision) {}
func (fakeCurator) FinishIncomplete(ctx context.Context, s *intake.Session, reason string)    {}

type fakeRecorder struct{}

func (fakeRecorder) RecordTurn(sessionID, role, content string) {}

type fakeResolver struct {
	res judge.Resolution
	err error
}

func (f *fakeResolver) Resolve(ctx context.Context, sessionID string, humanRoute triage.Route) (judge.Resolution, error) {
	return f.res, f.err
}

func (f *fakeResolver) Metrics() judge.MetricsSnapshot {
	return judge.MetricsSnapshot{Conversations: 7, Escalations: 2}
}

type fakeMemory struct{}

func (fakeMemory) Stats(ctx context.Context) (memory.Stats, error) {
	return memory.Stats{Total: 3, Routes: map[triage.Route]int{triage.RouteUrgent: 3}}, nil
}

type fakeEscalations struct {
	pending []storage.Escalation
}

func (f *fakeEscalations) ListPendingEscalations(limit int) ([]storage.Escalation, error) {
	return f.pending, nil
}

func newTestHandler(t *testing.T, token string, resolver *fakeResolver) (http.Handler, *Registry) {
	t.Helper()
	proc := intake.NewProcessor(&fakeCompleter{reply: "How can I help you today?"},
		fakeDecider{}, fakeCurator{}, fakeRecorder{}, 0)
	registry := NewRegistry(proc, time.Minute, time.Hour)
	if resolver == nil {
		resolver = &fakeResolver{res: judge.Resolution{CaseAdded: true, CaseID: "case-1"}}
	}
	h := NewAppHandler(AppDeps{
		Registry:    registry,
		Processor:   proc,
		Resolver:    resolver,
		Memory:      fakeMemory{},
		Escalations: &fakeEscalations{},
		Token:       token,
	})
	return h, registry
}

func TestHealth_NoAuthRequired(t *testing.T) {
	h, _ := newTestHandler(t, "secret", nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", rec.Code)
	}
}

func TestBearerAuth(t *testing.T) {
	h, _ := newTestHandler(t, "secret", nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/sessions", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status without token = %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/sessions", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status with wrong token = %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/sessions", nil)
	req.Header.Set("Authorization", "Bearer secret")
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status with valid token = %d, want 200", rec.Code)
	}
}

func TestCreateSession(t *testing.T) {
	h, registry := newTestHandler(t, "", nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/sessions", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["id"] == "" {
		t.Error("no session id in response")
	}
	if !strings.Contains(resp["greeting"], "Tsidi Health Services") {
		t.Errorf("greeting = %q, want service introduction", resp["greeting"])
	}
	if _, ok := registry.Get(resp["id"]); !ok {
		t.Error("created session not in registry")
	}
}

func TestTurn(t *testing.T) {
	h, registry := newTestHandler(t, "", nil)
	e := registry.Create()

	body := strings.NewReader(`{"message": "hi, I'm Ada"}`)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/sessions/"+e.S.ID+"/turns", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp turnResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Reply != "How can I help you today?" {
		t.Errorf("reply = %q, want the agent reply", resp.Reply)
	}
	if resp.EndCall {
		t.Error("EndCall = true mid-conversation")
	}
}

func TestTurn_UnknownSession(t *testing.T) {
	h, _ := newTestHandler(t, "", nil)

	body := strings.NewReader(`{"message": "hello"}`)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/sessions/nope/turns", body))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestTurn_EmptyMessage(t *testing.T) {
	h, registry := newTestHandler(t, "", nil)
	e := registry.Create()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/sessions/"+e.S.ID+"/turns",
		strings.NewReader(`{}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGetSession(t *testing.T) {
	h, registry := newTestHandler(t, "", nil)
	e := registry.Create()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/sessions/"+e.S.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var status sessionStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if status.Phase != string(intake.PhaseGreeting) {
		t.Errorf("phase = %q, want greeting", status.Phase)
	}
}

func TestFeedback(t *testing.T) {
	tests := []struct {
		name     string
		route    string
		resolver *fakeResolver
		want     int
	}{
		{"resolved", "urgent", &fakeResolver{res: judge.Resolution{CaseAdded: true, CaseID: "c1", Corrected: true}}, http.StatusOK},
		{"invalid route", "asap", nil, http.StatusBadRequest},
		{"not found", "urgent", &fakeResolver{err: storage.ErrNotFound}, http.StatusNotFound},
		{"already resolved", "urgent", &fakeResolver{err: storage.ErrAlreadyResolved}, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestHandler(t, "", tt.resolver)

			body, _ := json.Marshal(map[string]string{"route": tt.route})
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest("POST", "/escalations/s1/feedback",
				strings.NewReader(string(body))))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
			if tt.want == http.StatusOK {
				var resp feedbackResponse
				if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
					t.Fatalf("decoding response: %v", err)
				}
				if resp.Status != "resolved" || !resp.Corrected {
					t.Errorf("response = %+v, want corrected resolution", resp)
				}
			}
		})
	}
}

func TestMemoryStatsAndMetrics(t *testing.T) {
	h, _ := newTestHandler(t, "", nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/memory/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("memory stats status = %d", rec.Code)
	}
	var stats memory.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decoding stats: %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("Total = %d, want 3", stats.Total)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	var snap judge.MetricsSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decoding metrics: %v", err)
	}
	if snap.Conversations != 7 {
		t.Errorf("Conversations = %d, want 7", snap.Conversations)
	}
}

func TestRegistrySweep(t *testing.T) {
	proc := intake.NewProcessor(&fakeCompleter{reply: "ok"},
		fakeDecider{}, fakeCurator{}, fakeRecorder{}, 0)
	registry := NewRegistry(proc, time.Minute, time.Hour)

	stale := registry.Create()
	stale.S.LastActivity = time.Now().UTC().Add(-5 * time.Minute)
	fresh := registry.Create()

	registry.Sweep(context.Background())

	if !stale.S.Terminal() || stale.S.EndReason != intake.EndTimeout {
		t.Errorf("stale session = (%s, %s), want timed out", stale.S.Phase, stale.S.EndReason)
	}
	if fresh.S.Terminal() {
		t.Error("fresh session was timed out")
	}

	// A later sweep removes quiet terminal sessions.
	stale.S.LastActivity = time.Now().UTC().Add(-5 * time.Minute)
	registry.Sweep(context.Background())
	if _, ok := registry.Get(stale.S.ID); ok {
		t.Error("terminal stale session still registered after sweep")
	}
	if _, ok := registry.Get(fresh.S.ID); !ok {
		t.Error("fresh session removed by sweep")
	}
}
