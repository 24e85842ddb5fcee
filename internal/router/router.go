// Package router makes the confidence-gated routing decision: a case
// description is embedded, the case memory is queried for precedent, and
// the decision either routes directly (enough similar cases) or escalates
// to a human reviewer (not enough evidence, regardless of how confident
// the reasoning service sounds).
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tsidihealth/intake/internal/llm"
	"github.com/tsidihealth/intake/internal/memory"
	"github.com/tsidihealth/intake/internal/triage"
)

// Config holds the decision thresholds. They are injected, never
// hard-coded in the decision path.
type Config struct {
	TopK                int     // neighbors fetched per query
	SimilarityThreshold float64 // cosine score for a neighbor to count as similar
	MinSimilar          int     // similar-case count required for a direct route
}

// DefaultConfig mirrors the production thresholds: top-5 neighbors,
// similarity >= 0.75, at least 3 similar cases for confidence.
func DefaultConfig() Config {
	return Config{TopK: 5, SimilarityThreshold: 0.75, MinSimilar: 3}
}

// CaseMemory is the slice of the case memory the router needs.
type CaseMemory interface {
	Query(ctx context.Context, embedding []float32, k int) ([]memory.ScoredCase, error)
}

// Decision is the outcome of one routing request.
type Decision struct {
	Route        triage.Route
	Reasoning    string
	Escalate     bool
	SimilarCount int
	Evidence     []memory.ScoredCase // the retrieved neighbors, score-ordered
}

// Router combines embedding, case memory retrieval, and the reasoning
// service into a single routing decision.
type Router struct {
	embedder  llm.Embedder
	mem       CaseMemory
	completer llm.Completer
	cfg       Config
}

// New creates a Router. Zero-value config fields fall back to defaults.
func New(embedder llm.Embedder, mem CaseMemory, completer llm.Completer, cfg Config) *Router {
	def := DefaultConfig()
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = def.SimilarityThreshold
	}
	if cfg.MinSimilar <= 0 {
		cfg.MinSimilar = def.MinSimilar
	}
	return &Router{embedder: embedder, mem: mem, completer: completer, cfg: cfg}
}

// Decide routes the given case description. It never returns an error for
// service failures: low or missing evidence always degrades to an
// escalation rather than aborting the session.
func (r *Router) Decide(ctx context.Context, description string) Decision {
	neighbors := r.retrieve(ctx, description)

	var similar []memory.ScoredCase
	for _, n := range neighbors {
		if float64(n.Score) >= r.cfg.SimilarityThreshold {
			similar = append(similar, n)
		}
	}
	confident := len(similar) >= r.cfg.MinSimilar

	route, reasoning, err := r.complete(ctx, description, similar)
	if err != nil {
		// The reasoning service is down. Without a trustworthy guess the
		// only safe outcome is a human review of an urgent-by-default
		// prediction.
		slog.Warn("routing completion failed, escalating", "error", err)
		return Decision{
			Route:        triage.RouteUrgent,
			Reasoning:    "Automated routing was unavailable; defaulting to urgent pending human review.",
			Escalate:     true,
			SimilarCount: len(similar),
			Evidence:     neighbors,
		}
	}

	return Decision{
		Route:        route,
		Reasoning:    reasoning,
		Escalate:     !confident,
		SimilarCount: len(similar),
		Evidence:     neighbors,
	}
}

// retrieve embeds the description and fetches the top-K neighbors.
// Any failure degrades to zero neighbors.
func (r *Router) retrieve(ctx context.Context, description string) []memory.ScoredCase {
	vec, err := r.embedder.Embed(ctx, description)
	if err != nil {
		slog.Warn("embedding case description failed", "error", err)
		return nil
	}

	neighbors, err := r.mem.Query(ctx, vec, r.cfg.TopK)
	if errors.Is(err, memory.ErrEmpty) {
		return nil
	}
	if err != nil {
		slog.Warn("case memory query failed", "error", err)
		return nil
	}
	return neighbors
}

// routingResult is the structured completion output.
type routingResult struct {
	Route     string `json:"route"`
	Reasoning string `json:"reasoning"`
}

func (r *Router) complete(ctx context.Context, description string, similar []memory.ScoredCase) (triage.Route, string, error) {
	raw, err := r.completer.Complete(ctx, routingMessages(description, similar), routingSchema())
	if err != nil {
		return "", "", err
	}

	var result routingResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return "", "", fmt.Errorf("unmarshaling routing result: %w", err)
	}
	route, err := triage.ParseRoute(result.Route)
	if err != nil {
		return "", "", fmt.Errorf("routing result: %w", err)
	}
	return route, result.Reasoning, nil
}

func routingSchema() *llm.Schema {
	routes := triage.Routes()
	names := make([]string, len(routes))
	for i, r := range routes {
		names[i] = string(r)
	}
	return &llm.Schema{
		Type: "object",
		Properties: map[string]llm.SchemaProperty{
			"route":     {Type: "string", Enum: names, Description: "The recommended care route"},
			"reasoning": {Type: "string", Description: "Brief explanation for the routing decision"},
		},
		Required: []string{"route", "reasoning"},
	}
}

func routingMessages(description string, similar []memory.ScoredCase) []llm.Message {
	var b strings.Builder
	b.WriteString("You are a triage assistant determining the appropriate care route for a patient.\n\n")

	if len(similar) > 0 {
		b.WriteString("Here are similar resolved cases for reference:\n")
		b.WriteString(FewShotExamples(similar))
		b.WriteString("\n\n")
	}

	b.WriteString("Routes:\n")
	b.WriteString("- emergency: life-threatening (severe chest pain, stroke signs, difficulty breathing)\n")
	b.WriteString("- urgent: serious but not life-threatening (high fever, severe pain)\n")
	b.WriteString("- routine: ongoing or non-urgent (mild symptoms, follow-ups)\n")
	b.WriteString("- self_care: minor issues (cold, mild headache)\n")
	b.WriteString("- information: questions about medication or prevention\n\n")
	b.WriteString("Patient case:\n")
	b.WriteString(description)

	return []llm.Message{{Role: "user", Content: b.String()}}
}

// FewShotExamples formats retrieved cases for few-shot prompting.
func FewShotExamples(cases []memory.ScoredCase) string {
	lines := make([]string, len(cases))
	for i, c := range cases {
		lines[i] = fmt.Sprintf("Case %d: %s -> Route: %s", i+1, c.Summary, c.Route)
	}
	return strings.Join(lines, "\n")
}
