package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"github.com/agentic-exchange/axp/internal/bus"
)

const defaultQueueDepth = 256

// Runner feeds a bounded worker pool from ingest requests. Backpressure is
// explicit: a full queue rejects the job rather than blocking the bus
// callback.
type Runner struct {
	pipeline *Pipeline
	jobs     chan Job
	workers  int
	logger   *slog.Logger
	wg       sync.WaitGroup
}

func NewRunner(p *Pipeline, workers int, logger *slog.Logger) *Runner {
	if workers <= 0 {
		workers = 4
	}
	return &Runner{
		pipeline: p,
		jobs:     make(chan Job, defaultQueueDepth),
		workers:  workers,
		logger:   logger,
	}
}

// Start launches the workers. They drain the queue until ctx is cancelled.
func (r *Runner) Start(ctx context.Context) {
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx)
	}
	r.logger.Info("scoring workers started", "workers", r.workers)
}

func (r *Runner) worker(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-r.jobs:
			if _, err := r.pipeline.Score(ctx, job); err != nil {
				r.logger.Error("scoring cycle failed",
					"subject_id", job.SubjectID, "error", err)
			}
		}
	}
}

// Submit enqueues a job, reporting false when the queue is full.
func (r *Runner) Submit(job Job) bool {
	select {
	case r.jobs <- job:
		return true
	default:
		r.logger.Warn("job queue full, dropping request", "subject_id", job.SubjectID)
		return false
	}
}

// HandleIngest adapts a bus ingest request into a job. Plug into
// bus.Client.SubscribeIngest.
func (r *Runner) HandleIngest(req bus.IngestRequest) {
	r.Submit(Job{
		SubjectID:  req.SubjectID,
		Category:   req.Category,
		WindowDays: req.WindowDays,
		Sources:    req.Sources,
		Domain:     req.Domain,
		Value:      req.Value,
	})
}

// Wait blocks until all workers have exited after cancellation.
func (r *Runner) Wait() {
	r.wg.Wait()
}
