package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tsidihealth/intake/internal/config"
)

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show case memory and learning metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		ctx := cmd.Context()

		memResp, err := client.get(ctx, "/memory/stats")
		if err != nil {
			return err
		}
		var memStats struct {
			Total  int            `json:"total"`
			Routes map[string]int `json:"routes"`
		}
		if err := decodeJSON(memResp, &memStats); err != nil {
			return err
		}

		printStatus("Cases", "%d", memStats.Total)
		for route, n := range memStats.Routes {
			printStatus("  "+route, "%d", n)
		}

		metricsResp, err := client.get(ctx, "/metrics")
		if err != nil {
			return err
		}
		var metrics struct {
			Conversations      int     `json:"total_conversations"`
			Escalations        int     `json:"total_escalations"`
			ResolvedCases      int     `json:"resolved_cases"`
			CorrectPredictions int     `json:"correct_predictions"`
			Accuracy           float64 `json:"accuracy"`
			EscalationRate     float64 `json:"escalation_rate"`
		}
		if err := decodeJSON(metricsResp, &metrics); err != nil {
			return err
		}

		printStatus("Conversations", "%d", metrics.Conversations)
		printStatus("Escalations", "%d (rate %.2f)", metrics.Escalations, metrics.EscalationRate)
		printStatus("Resolved", "%d (accuracy %.2f)", metrics.ResolvedCases, metrics.Accuracy)
		return nil
	},
}

// --- escalations ---

var escalationsCmd = &cobra.Command{
	Use:   "escalations",
	Short: "List conversations waiting for human review",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/escalations?limit=%d", limit))
		if err != nil {
			return err
		}

		var escalations []struct {
			SessionID      string `json:"session_id"`
			PredictedRoute string `json:"predicted_route"`
			Reasoning      string `json:"reasoning"`
			CreatedAt      string `json:"created_at"`
		}
		if err := decodeJSON(resp, &escalations); err != nil {
			return err
		}

		if len(escalations) == 0 {
			fmt.Println("No pending escalations.")
			return nil
		}

		for _, e := range escalations {
			fmt.Printf("\n%s  %s  predicted: %s\n",
				colorize(colorCyan, e.SessionID[:8]),
				e.CreatedAt,
				colorize(colorBold, e.PredictedRoute),
			)
			reasoning := e.Reasoning
			if len(reasoning) > 200 {
				reasoning = reasoning[:200] + "..."
			}
			fmt.Printf("  %s\n", reasoning)
		}
		return nil
	},
}

// --- feedback ---

var feedbackCmd = &cobra.Command{
	Use:   "feedback <session-id> <route>",
	Short: "Resolve an escalation with the correct care route",
	Long: `Resolve an escalation with the correct care route.

The route must be one of: emergency, urgent, routine, self_care, information.

Example:
  intake feedback 7c9e6679-1b2d-4c55-a021-3f1c4e5ab901 urgent`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, route := args[0], args[1]

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(),
			fmt.Sprintf("/escalations/%s/feedback", sessionID),
			map[string]string{"route": route})
		if err != nil {
			return err
		}

		var result struct {
			Status    string `json:"status"`
			CaseID    string `json:"case_id"`
			Corrected bool   `json:"corrected"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result.Corrected {
			printSuccess("Resolved %s as %s (prediction corrected), case %s", sessionID, route, result.CaseID)
		} else {
			printSuccess("Resolved %s as %s (prediction confirmed), case %s", sessionID, route, result.CaseID)
		}
		return nil
	},
}

func init() {
	escalationsCmd.Flags().Int("limit", 50, "maximum number of escalations to list")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
