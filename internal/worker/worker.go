// Package worker runs the poll-claim-execute loop. Each Worker is a single
// sequential loop; run several (or several processes) for throughput —
// coordination happens entirely through the queue's row locks.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/you/chartq/internal/domain"
	"github.com/you/chartq/internal/extern"
	"github.com/you/chartq/internal/fetch"
	"github.com/you/chartq/internal/queue"
	"github.com/you/chartq/internal/relay"
)

// Queue is the slice of the queue service the loop needs.
type Queue interface {
	ClaimNext(ctx context.Context, workerID string) (*domain.Job, error)
	Complete(ctx context.Context, jobID string) (*domain.Job, error)
	Fail(ctx context.Context, jobID, errorMessage string) (queue.FailResult, error)
	ReleaseStuck(ctx context.Context, threshold time.Duration) ([]domain.Job, error)
}

// ChartProjection is the chart-status writer. The worker loop is its only
// caller, and only from the two outcome paths.
type ChartProjection interface {
	MarkProcessing(ctx context.Context, chartID string) error
	MarkReady(ctx context.Context, chartID string, results domain.ChartResults) error
	MarkFailed(ctx context.Context, chartID, errorMessage string) error
	MarkRetryPending(ctx context.Context, chartID string, attempts int, errorMessage string) error
}

type Config struct {
	ID             string
	PollInterval   time.Duration
	ErrorBackoff   time.Duration
	StuckThreshold time.Duration
}

func (c *Config) fillDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = 10 * time.Second
	}
	if c.StuckThreshold <= 0 {
		c.StuckThreshold = 30 * time.Minute
	}
}

type Worker struct {
	cfg        Config
	queue      Queue
	charts     ChartProjection
	ocr        extern.OCRClient
	coder      extern.CodingClient
	summarizer extern.SummaryClient
	fetcher    fetch.Fetcher
	relay      relay.Publisher
	log        *zap.Logger
}

func New(cfg Config, q Queue, charts ChartProjection, ocr extern.OCRClient,
	coder extern.CodingClient, summarizer extern.SummaryClient,
	fetcher fetch.Fetcher, pub relay.Publisher, log *zap.Logger) *Worker {
	cfg.fillDefaults()
	return &Worker{
		cfg:        cfg,
		queue:      q,
		charts:     charts,
		ocr:        ocr,
		coder:      coder,
		summarizer: summarizer,
		fetcher:    fetcher,
		relay:      pub,
		log:        log.With(zap.String("worker_id", cfg.ID)),
	}
}

// Run blocks until ctx is cancelled. Cancellation stops new claims; a job
// already in flight runs to completion on a detached context.
func (w *Worker) Run(ctx context.Context) error {
	// crash-recovery sweep before the first claim
	if released, err := w.queue.ReleaseStuck(ctx, w.cfg.StuckThreshold); err != nil {
		w.log.Warn("startup stuck-job sweep failed", zap.Error(err))
	} else if len(released) > 0 {
		w.log.Info("startup sweep released jobs", zap.Int("count", len(released)))
	}

	w.log.Info("worker loop started", zap.Duration("poll_interval", w.cfg.PollInterval))

	for {
		if ctx.Err() != nil {
			w.log.Info("worker loop stopping")
			return ctx.Err()
		}

		job, err := w.queue.ClaimNext(ctx, w.cfg.ID)
		if err != nil {
			// store trouble is a transient poll-cycle failure, never a crash
			w.log.Error("claim failed", zap.Error(err))
			if !sleep(ctx, w.cfg.ErrorBackoff) {
				return ctx.Err()
			}
			continue
		}
		if job == nil {
			if !sleep(ctx, w.cfg.PollInterval) {
				return ctx.Err()
			}
			continue
		}

		w.process(context.WithoutCancel(ctx), job)
	}
}

// sleep waits for d or until ctx is done; reports false on cancellation.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (w *Worker) emit(ctx context.Context, job *domain.Job, phase domain.Phase, message string) {
	ev := domain.PhaseEvent{
		ChartID:   job.ChartID,
		JobID:     job.JobID,
		Phase:     phase,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
	if err := w.relay.Publish(ctx, ev); err != nil {
		w.log.Warn("phase event publish failed",
			zap.String("phase", string(phase)), zap.Error(err))
	}
}
