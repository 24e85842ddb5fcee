// Package api exposes the intake service over HTTP and MCP: the
// patient-facing conversation endpoints plus the reviewer surface for
// escalations, feedback, and learning metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tsidihealth/intake/internal/intake"
	"github.com/tsidihealth/intake/internal/judge"
	"github.com/tsidihealth/intake/internal/memory"
	"github.com/tsidihealth/intake/internal/storage"
	"github.com/tsidihealth/intake/internal/triage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Resolver applies human feedback and reports learning metrics.
type Resolver interface {
	Resolve(ctx context.Context, sessionID string, humanRoute triage.Route) (judge.Resolution, error)
	Metrics() judge.MetricsSnapshot
}

// MemoryReader is the read-only slice of the case memory the API serves.
type MemoryReader interface {
	Stats(ctx context.Context) (memory.Stats, error)
}

// EscalationLister lists unresolved escalations for the reviewer surface.
type EscalationLister interface {
	ListPendingEscalations(limit int) ([]storage.Escalation, error)
}

type AppDeps struct {
	Registry    *Registry
	Processor   *intake.Processor
	Resolver    Resolver
	Memory      MemoryReader
	Escalations EscalationLister
	Token       string // empty disables bearer auth
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}

		r.Post("/sessions", handleCreateSession(deps))
		r.Get("/sessions/{id}", handleGetSession(deps))
		r.Post("/sessions/{id}/turns", handleTurn(deps))

		r.Get("/escalations", handleListEscalations(deps))
		r.Post("/escalations/{sessionID}/feedback", handleFeedback(deps))

		r.Get("/memory/stats", handleMemoryStats(deps))
		r.Get("/metrics", handleMetrics(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleCreateSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e := deps.Registry.Create()
		e.Lock()
		reply := deps.Processor.Greet(e.S)
		id := e.S.ID
		e.Unlock()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"id":       id,
			"greeting": reply.Text,
		})
	}
}

type sessionStatus struct {
	ID        string `json:"id"`
	Phase     string `json:"phase"`
	EndReason string `json:"end_reason,omitempty"`
	Route     string `json:"route,omitempty"`
	Turns     int    `json:"turns"`
	CreatedAt string `json:"created_at"`
}

func handleGetSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		e, ok := deps.Registry.Get(id)
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}

		e.Lock()
		status := sessionStatus{
			ID:        e.S.ID,
			Phase:     string(e.S.Phase),
			EndReason: e.S.EndReason,
			Turns:     len(e.S.Turns),
			CreatedAt: e.S.CreatedAt.Format(time.RFC3339),
		}
		if e.S.Decision != nil {
			status.Route = string(e.S.Decision.Route)
		}
		e.Unlock()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(status)
	}
}

type turnRequest struct {
	Message string `json:"message"`
}

type turnResponse struct {
	Reply      string                   `json:"reply"`
	EndCall    bool                     `json:"end_call"`
	Route      string                   `json:"route,omitempty"`
	Escalation *intake.EscalationNotice `json:"escalation,omitempty"`
}

func handleTurn(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		e, ok := deps.Registry.Get(id)
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req turnRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Message == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
			return
		}

		e.Lock()
		reply := deps.Processor.HandleTurn(r.Context(), e.S, req.Message)
		e.Unlock()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(turnResponse{
			Reply:      reply.Text,
			EndCall:    reply.EndCall,
			Route:      reply.Route,
			Escalation: reply.Escalation,
		})
	}
}

type escalationView struct {
	SessionID      string `json:"session_id"`
	PredictedRoute string `json:"predicted_route"`
	Reasoning      string `json:"reasoning"`
	Evidence       string `json:"evidence"`
	Transcript     string `json:"transcript"`
	CreatedAt      string `json:"created_at"`
}

func handleListEscalations(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50, 200)

		escalations, err := deps.Escalations.ListPendingEscalations(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list escalations: %v", err)
			return
		}

		views := make([]escalationView, len(escalations))
		for i, e := range escalations {
			views[i] = escalationView{
				SessionID:      e.SessionID,
				PredictedRoute: e.PredictedRoute,
				Reasoning:      e.Reasoning,
				Evidence:       e.Evidence,
				Transcript:     e.Transcript,
				CreatedAt:      e.CreatedAt.Format(time.RFC3339),
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(views)
	}
}

type feedbackRequest struct {
	Route string `json:"route"`
}

type feedbackResponse struct {
	Status    string `json:"status"`
	CaseID    string `json:"case_id,omitempty"`
	Corrected bool   `json:"corrected"`
}

func handleFeedback(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionID")

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req feedbackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		route, err := triage.ParseRoute(req.Route)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		res, err := deps.Resolver.Resolve(r.Context(), sessionID, route)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "no escalation for session %s", sessionID)
			return
		}
		if errors.Is(err, storage.ErrAlreadyResolved) {
			httpError(w, http.StatusConflict, "conflict", "escalation for session %s already resolved", sessionID)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to resolve escalation: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(feedbackResponse{
			Status:    "resolved",
			CaseID:    res.CaseID,
			Corrected: res.Corrected,
		})
	}
}

func handleMemoryStats(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Memory.Stats(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read memory stats: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stats)
	}
}

func handleMetrics(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(deps.Resolver.Metrics())
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
