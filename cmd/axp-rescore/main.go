// Command axp-rescore queues a fresh scoring cycle for every subject.
// Run it after changing category weights or baselines; the axpd workers
// consume the queued requests.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/agentic-exchange/axp/internal/backfill"
	"github.com/agentic-exchange/axp/internal/bus"
	"github.com/agentic-exchange/axp/internal/config"
	"github.com/agentic-exchange/axp/internal/store"
)

func main() {
	var (
		batchSize  = flag.Int("batch-size", 100, "subjects per page")
		windowDays = flag.Int("window-days", 0, "override the scoring window (0 = default)")
		dryRun     = flag.Bool("dry-run", false, "enumerate subjects without publishing")
		statePath  = flag.String("state", "", "state file path (default ~/.axp/rescore-state.json)")
	)
	flag.Parse()

	cfg := config.Load()
	handler := slog.NewJSONHandler(os.Stdout, nil)
	slog.SetDefault(slog.New(handler))

	ctx := context.Background()

	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	busClient, err := bus.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
	if err != nil {
		slog.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer busClient.Close()

	runner := backfill.NewRunner(backfill.Config{
		BatchSize:  *batchSize,
		WindowDays: *windowDays,
		DryRun:     *dryRun,
		StatePath:  *statePath,
	}, db, busClient, slog.Default())

	if err := runner.Run(ctx); err != nil {
		slog.Error("rescore failed", "error", err)
		os.Exit(1)
	}
}
