// Package backfill requests a fresh scoring cycle for every known subject.
// Used after reference-data changes (new category weights, baselines) when
// stored signals are stale across the board. Runs are resumable: progress
// persists to a state file and a restart continues after the last queued
// subject.
package backfill

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/agentic-exchange/axp/internal/bus"
	"github.com/agentic-exchange/axp/internal/store"
)

// Config holds the rescore command configuration.
type Config struct {
	BatchSize  int
	WindowDays int
	DryRun     bool   // enumerate without publishing
	StatePath  string // empty means the default location
}

// SubjectSource pages the subjects to rescore.
type SubjectSource interface {
	ListSubjects(ctx context.Context, after string, limit int) ([]store.Subject, error)
}

// Queue publishes ingest requests; satisfied by bus.Client.
type Queue interface {
	Publish(subject string, data any) error
}

// Runner orchestrates the rescore process.
type Runner struct {
	cfg      Config
	subjects SubjectSource
	queue    Queue
	logger   *slog.Logger
}

func NewRunner(cfg Config, subjects SubjectSource, queue Queue, logger *slog.Logger) *Runner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Runner{
		cfg:      cfg,
		subjects: subjects,
		queue:    queue,
		logger:   logger,
	}
}

// Run pages through all subjects and publishes one ingest request each,
// saving state after every batch.
func (r *Runner) Run(ctx context.Context) error {
	state, err := LoadState(r.cfg.StatePath)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	if state.Cursor != "" {
		r.logger.Info("resuming rescore", "cursor", state.Cursor, "already_queued", state.SubjectsQueued)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := r.subjects.ListSubjects(ctx, state.Cursor, r.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("list subjects after %q: %w", state.Cursor, err)
		}
		if len(batch) == 0 {
			break
		}

		for _, sub := range batch {
			if r.cfg.DryRun {
				r.logger.Info("would queue", "subject_id", sub.ID, "category", sub.Category)
				state.MarkQueued(sub.ID)
				continue
			}
			err := r.queue.Publish(bus.SubjectIngestBatch, bus.IngestRequest{
				SubjectID:  sub.ID,
				Category:   sub.Category,
				WindowDays: r.cfg.WindowDays,
				Sources:    sub.ReviewSources,
				Domain:     sub.Domain,
			})
			if err != nil {
				r.logger.Warn("failed to queue subject", "subject_id", sub.ID, "error", err)
				state.AddError(fmt.Sprintf("queue %s: %v", sub.ID, err))
				state.Cursor = sub.ID // skip on resume rather than loop forever
				continue
			}
			state.MarkQueued(sub.ID)
		}

		if err := state.Save(); err != nil {
			return fmt.Errorf("save state: %w", err)
		}
		r.logger.Info("batch queued", "queued_total", state.SubjectsQueued, "cursor", state.Cursor)
	}

	r.logger.Info("rescore complete",
		"subjects_queued", state.SubjectsQueued, "errors", len(state.Errors))
	return state.Save()
}
