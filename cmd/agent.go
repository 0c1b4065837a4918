package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/CosmoTheDev/codeloop-agent/internal/config"
	"github.com/CosmoTheDev/codeloop-agent/internal/database"
	"github.com/CosmoTheDev/codeloop-agent/internal/executor"
	"github.com/CosmoTheDev/codeloop-agent/internal/gateway"
	"github.com/CosmoTheDev/codeloop-agent/internal/model"
	"github.com/CosmoTheDev/codeloop-agent/internal/queue"
	"github.com/CosmoTheDev/codeloop-agent/internal/repos"
	"github.com/CosmoTheDev/codeloop-agent/internal/reviewer"
	"github.com/CosmoTheDev/codeloop-agent/internal/store"
	"github.com/CosmoTheDev/codeloop-agent/internal/supervisor"
)

var (
	agentPort    int
	agentWorkers int
	agentLogDir  string
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the codeloop daemon",
	Long: `Starts the codeloop daemon: the persistent task queue, the primary
worker pool, the tireless reviewer pool and the control-plane HTTP API
(default: http://127.0.0.1:6090).

Tasks survive restarts: pending and running tasks are re-queued from the
database on startup. The daemon snapshots its state periodically and
pauses for a checkpoint on a configurable cadence.

Quick API reference:
  GET  /health                              liveness check
  GET  /api/status                          queue, workers, model, reviewer
  POST /api/task                            queue a task
  POST /api/task/with-repo                  queue a task against a repository
  POST /api/pause | /api/resume             pause / resume the workers
  GET  /api/logs                            recent events
  GET  /api/logs/stream                     SSE stream of live events
  GET  /api/repositories                    connected repositories
  GET  /api/tireless-reviewer/status        reviewer counters`,
	RunE: runAgent,
}

func init() {
	agentCmd.Flags().IntVar(&agentPort, "port", 0,
		"HTTP port to listen on (default 6090, overrides config)")
	agentCmd.Flags().IntVar(&agentWorkers, "workers", 0,
		"number of primary workers (overrides config)")
	agentCmd.Flags().StringVar(&agentLogDir, "log-dir", "",
		"directory to write daemon logs (default ~/.codeloop/logs)")
}

func runAgent(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		fmt.Println("\nShutting down gracefully...")
		cancel()
	}()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if agentPort > 0 {
		cfg.HTTP.Port = agentPort
	}
	if agentWorkers > 0 {
		cfg.Workers.Count = agentWorkers
	}

	logPath, closeLog, err := setupAgentLogger(cfg, agentLogDir)
	if err != nil {
		return fmt.Errorf("initialising logger: %w", err)
	}
	defer closeLog()

	db, err := database.New(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	st := store.New(db)
	q := queue.New(st)

	registry, err := model.New(cfg.Model, st)
	if err != nil {
		return fmt.Errorf("configuring model backends: %w", err)
	}

	repoRegistry, err := repos.New(cfg.Repos, cfg.Git, st, filepath.Join(config.Dir(), "workspace"))
	if err != nil {
		return fmt.Errorf("configuring repositories: %w", err)
	}

	pool := executor.New(cfg.Workers, q, st, registry, repoRegistry)
	rev := reviewer.New(cfg.Reviewer, st, q, registry, repoRegistry)
	sup := supervisor.New(*cfg, st, q, pool, rev, repoRegistry)
	gw := gateway.New(cfg, st, q, pool, registry, repoRegistry, rev, sup)

	fmt.Printf("codeloop daemon starting\n")
	fmt.Printf("  Workers  : %d\n", cfg.Workers.Count)
	fmt.Printf("  Database : %s (%s)\n", cfg.Database.Path, db.Driver())
	fmt.Printf("  API      : http://%s:%d\n", cfg.HTTP.Host, cfg.HTTP.Port)
	fmt.Printf("  Logs     : %s\n\n", logPath)
	fmt.Println("Press Ctrl+C to stop gracefully.")
	fmt.Println()

	go func() {
		if err := gw.Start(ctx); err != nil {
			slog.Error("agent: gateway failed", "error", err)
			cancel()
		}
	}()

	return sup.Run(ctx)
}

// setupAgentLogger tees slog output to stdout, a per-run file and a stable
// "latest" file.
func setupAgentLogger(cfg *config.Config, logDir string) (string, func(), error) {
	if logDir == "" {
		logDir = filepath.Join(config.Dir(), "logs")
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return "", nil, fmt.Errorf("creating log dir %s: %w", logDir, err)
	}

	ts := time.Now().UTC().Format("20060102-150405")
	runLogPath := filepath.Join(logDir, fmt.Sprintf("agent-%s.log", ts))
	runFile, err := os.OpenFile(runLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", nil, fmt.Errorf("opening run log file: %w", err)
	}

	latestPath := filepath.Join(logDir, "agent.log")
	latestFile, err := os.OpenFile(latestPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		_ = runFile.Close()
		return "", nil, fmt.Errorf("opening latest log file: %w", err)
	}

	level := cfg.SlogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(io.MultiWriter(os.Stdout, runFile, latestFile), &slog.HandlerOptions{
		Level:     level,
		AddSource: verbose,
	})
	slog.SetDefault(slog.New(handler))
	slog.SetLogLoggerLevel(level)

	cleanup := func() {
		_ = latestFile.Close()
		_ = runFile.Close()
	}
	return runLogPath, cleanup, nil
}
