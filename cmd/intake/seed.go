package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tsidihealth/intake/internal/config"
	"github.com/tsidihealth/intake/internal/llm"
	"github.com/tsidihealth/intake/internal/memory"
	"github.com/tsidihealth/intake/internal/storage"
	"github.com/tsidihealth/intake/internal/triage"
)

var seedCmd = &cobra.Command{
	Use:   "seed <file>",
	Short: "Import labeled cases into the case memory",
	Long: `Import labeled cases into the case memory from a JSON file.

The file must contain an array of objects with "summary" and "route"
fields, where route is one of: emergency, urgent, routine, self_care,
information. Useful for bootstrapping an empty memory so the router has
evidence to draw on before any live conversations have been curated.

The server must be stopped while seeding.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSeed(cmd, args[0])
	},
}

type seedCase struct {
	Summary string `json:"summary"`
	Route   string `json:"route"`
}

func runSeed(cmd *cobra.Command, path string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		printError("intake is running; stop it before seeding")
		return fmt.Errorf("server running on port %d", cfg.Server.Port)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading seed file: %w", err)
	}
	var seeds []seedCase
	if err := json.Unmarshal(data, &seeds); err != nil {
		return fmt.Errorf("parsing seed file: %w", err)
	}
	if len(seeds) == 0 {
		printWarning("seed file contains no cases")
		return nil
	}

	routes := make([]triage.Route, len(seeds))
	texts := make([]string, len(seeds))
	for i, s := range seeds {
		if s.Summary == "" {
			return fmt.Errorf("case %d: summary is required", i)
		}
		r, err := triage.ParseRoute(s.Route)
		if err != nil {
			return fmt.Errorf("case %d: %w", i, err)
		}
		routes[i] = r
		texts[i] = s.Summary
	}

	ctx := cmd.Context()
	llmClient := llm.NewClient(cfg.Ollama.BaseURL)
	if !llmClient.IsRunning(ctx) {
		printError("inference service not reachable at %s", cfg.Ollama.BaseURL)
		return fmt.Errorf("embedding service unavailable")
	}
	embedder := llm.NewTextEmbedder(llmClient, cfg.Ollama.EmbedModel)

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()
	mem := memory.New(store.DB(), cfg.Ollama.EmbedDim)

	vectors, err := embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding seed cases: %w", err)
	}

	for i := range seeds {
		c := triage.Case{
			ID:        uuid.New().String(),
			Summary:   texts[i],
			Embedding: vectors[i],
			Route:     routes[i],
			Origin:    triage.OriginDirect,
			CreatedAt: time.Now().UTC(),
		}
		if err := mem.Add(ctx, c); err != nil {
			return fmt.Errorf("adding case %d: %w", i, err)
		}
	}

	printSuccess("Imported %d cases into the case memory", len(seeds))
	return nil
}
