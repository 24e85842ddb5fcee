package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/tsidihealth/intake/internal/api"
	"github.com/tsidihealth/intake/internal/config"
	"github.com/tsidihealth/intake/internal/datalog"
	"github.com/tsidihealth/intake/internal/intake"
	"github.com/tsidihealth/intake/internal/judge"
	"github.com/tsidihealth/intake/internal/llm"
	"github.com/tsidihealth/intake/internal/memory"
	"github.com/tsidihealth/intake/internal/router"
	"github.com/tsidihealth/intake/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the intake server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running intake server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show intake system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "intake.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "intake version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("intake is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("intake is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Check the local inference service. A miss is not fatal: every
	// downstream consumer degrades to escalation or fallback behavior.
	llmClient := llm.NewClient(cfg.Ollama.BaseURL)
	if !llmClient.IsRunning(ctx) {
		slog.Warn("inference service not reachable, conversations will escalate until it recovers",
			"base_url", cfg.Ollama.BaseURL)
	}

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Build the routing and learning pipeline.
	mem := memory.New(store.DB(), cfg.Ollama.EmbedDim)
	embedder := llm.NewTextEmbedder(llmClient, cfg.Ollama.EmbedModel)
	completer := llm.NewModelCompleter(llmClient, cfg.Ollama.ChatModel)

	dlog := datalog.New(store, 0)
	go dlog.Run(ctx)

	rtr := router.New(embedder, mem, completer, router.Config{
		TopK:                cfg.Routing.TopK,
		SimilarityThreshold: cfg.Routing.SimilarityThreshold,
		MinSimilar:          cfg.Routing.MinSimilar,
	})
	jdg := judge.New(completer, embedder, mem, store, dlog, cfg.Learning.CuratePartial)
	proc := intake.NewProcessor(completer, rtr, jdg, dlog, cfg.Session.TurnTimeout)

	registry := api.NewRegistry(proc, cfg.Session.InactivityTimeout, cfg.Session.MaxDuration)
	go registry.Run(ctx)

	// Build HTTP handler and server.
	appHandler := api.NewAppHandler(api.AppDeps{
		Registry:    registry,
		Processor:   proc,
		Resolver:    jdg,
		Memory:      mem,
		Escalations: store,
		Token:       cfg.API.AuthToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: appHandler,
	}

	// Build and start the MCP server: stdio for a directly attached
	// reviewer client, SSE on the MCP port for networked ones.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Memory:      mem,
		Embedder:    embedder,
		Resolver:    jdg,
		Escalations: store,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	sseSrv := server.NewSSEServer(mcpSrv)
	mcpAddr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.MCPPort)
	go func() {
		if err := sseSrv.Start(mcpAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("MCP SSE server error", "error", err)
		}
	}()
	slog.Info("MCP server started", "sse_addr", mcpAddr)

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "intake listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sseSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("MCP SSE shutdown", "error", err)
	}
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("intake is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop intake (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to intake (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	// Check server health.
	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	// Check the inference service.
	ollamaResp, err := client.Get(cfg.Ollama.BaseURL + "/api/version")
	if err != nil {
		printStatus("Ollama", "not running")
	} else {
		ollamaResp.Body.Close()
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	}

	printStatus("Chat model", "%s", cfg.Ollama.ChatModel)
	printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
