package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tsidihealth/intake/internal/memory"
	"github.com/tsidihealth/intake/internal/triage"
)

// MCPEmbedder abstracts text embedding for the MCP layer.
type MCPEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// MCPMemory abstracts case memory search for the MCP layer.
type MCPMemory interface {
	Query(ctx context.Context, embedding []float32, k int) ([]memory.ScoredCase, error)
	Stats(ctx context.Context) (memory.Stats, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Memory      MCPMemory
	Embedder    MCPEmbedder
	Resolver    Resolver
	Escalations EscalationLister
}

// NewMCPServer creates an MCP server exposing the reviewer tools:
// escalation triage, feedback submission, and learning introspection.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"intake",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("intake care-routing review surface: pending escalations, human feedback, case memory, and learning metrics."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_pending_escalations",
			mcp.WithDescription("List conversations waiting for human routing review, oldest first."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of escalations to return (default 20)")),
		),
		mcpListPendingEscalations(deps),
	)

	s.AddTool(
		mcp.NewTool("submit_feedback",
			mcp.WithDescription("Resolve a pending escalation with the correct care route. The human label becomes a training case."),
			mcp.WithString("session_id", mcp.Description("Session whose escalation to resolve"), mcp.Required()),
			mcp.WithString("route", mcp.Description("Correct care route: emergency, urgent, routine, self_care, or information"), mcp.Required()),
		),
		mcpSubmitFeedback(deps),
	)

	s.AddTool(
		mcp.NewTool("find_similar_cases",
			mcp.WithDescription("Semantically search the case memory for past cases similar to a symptom description."),
			mcp.WithString("description", mcp.Description("Symptom or case description to search for"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of cases to return (default 5)")),
		),
		mcpFindSimilarCases(deps),
	)

	s.AddTool(
		mcp.NewTool("memory_stats",
			mcp.WithDescription("Return the case memory size and per-route case counts."),
		),
		mcpMemoryStats(deps),
	)

	s.AddTool(
		mcp.NewTool("learning_metrics",
			mcp.WithDescription("Return learning metrics: conversation count, escalation rate, and prediction accuracy on resolved cases."),
		),
		mcpLearningMetrics(deps),
	)

	return s
}

func mcpListPendingEscalations(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		if limit > 100 {
			limit = 100
		}

		escalations, err := deps.Escalations.ListPendingEscalations(limit)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list escalations: %v", err)), nil
		}

		if len(escalations) == 0 {
			return mcpText("[]"), nil
		}

		type escalationResult struct {
			SessionID      string `json:"session_id"`
			PredictedRoute string `json:"predicted_route"`
			Reasoning      string `json:"reasoning"`
			Transcript     string `json:"transcript"`
			CreatedAt      string `json:"created_at"`
		}

		results := make([]escalationResult, len(escalations))
		for i, e := range escalations {
			transcript := e.Transcript
			if utf8.RuneCountInString(transcript) > 500 {
				runes := []rune(transcript)
				transcript = string(runes[:500]) + "..."
			}
			results[i] = escalationResult{
				SessionID:      e.SessionID,
				PredictedRoute: e.PredictedRoute,
				Reasoning:      e.Reasoning,
				Transcript:     transcript,
				CreatedAt:      e.CreatedAt.Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSubmitFeedback(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}
		routeStr, err := req.RequireString("route")
		if err != nil {
			return mcpError("route is required"), nil
		}

		route, err := triage.ParseRoute(routeStr)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		res, err := deps.Resolver.Resolve(ctx, sessionID, route)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to resolve escalation: %v", err)), nil
		}

		if res.Corrected {
			return mcpText(fmt.Sprintf("Resolved %s as %s (prediction corrected); curated case %s", sessionID, route, res.CaseID)), nil
		}
		return mcpText(fmt.Sprintf("Resolved %s as %s (prediction confirmed); curated case %s", sessionID, route, res.CaseID)), nil
	}
}

func mcpFindSimilarCases(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		description, err := req.RequireString("description")
		if err != nil {
			return mcpError("description is required"), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		vec, err := deps.Embedder.Embed(ctx, description)
		if err != nil {
			return mcpError(fmt.Sprintf("embedding failed: %v", err)), nil
		}

		cases, err := deps.Memory.Query(ctx, vec, limit)
		if err != nil {
			if err == memory.ErrEmpty {
				return mcpText("[]"), nil
			}
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		type caseResult struct {
			ID      string  `json:"id"`
			Summary string  `json:"summary"`
			Route   string  `json:"route"`
			Origin  string  `json:"origin"`
			Score   float32 `json:"score"`
		}

		results := make([]caseResult, len(cases))
		for i, c := range cases {
			results[i] = caseResult{
				ID:      c.ID,
				Summary: c.Summary,
				Route:   string(c.Route),
				Origin:  string(c.Origin),
				Score:   c.Score,
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpMemoryStats(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		stats, err := deps.Memory.Stats(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to read memory stats: %v", err)), nil
		}
		b, err := json.Marshal(stats)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal stats: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpLearningMetrics(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		b, err := json.Marshal(deps.Resolver.Metrics())
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal metrics: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
