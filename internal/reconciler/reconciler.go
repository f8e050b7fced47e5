// Package reconciler republishes jobs that were recorded as QUEUED but whose
// task never reached the queue.
package reconciler

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/media-converter/internal/domain"
	"github.com/cuongbtq/media-converter/internal/metrics"
	"github.com/cuongbtq/media-converter/internal/queue"
)

// StaleLister finds jobs stuck in a status
type StaleLister interface {
	ListStale(ctx context.Context, status domain.Status, olderThan time.Time, limit int) ([]domain.Job, error)
}

// Config holds reconciler settings
type Config struct {
	Interval    time.Duration
	GracePeriod time.Duration
	BatchSize   int
}

// Reconciler periodically re-enqueues orphaned QUEUED jobs. Duplicates are
// harmless: the worker discards deliveries for jobs that already moved on.
type Reconciler struct {
	jobs      StaleLister
	publisher queue.Publisher
	config    Config
	logger    *slog.Logger
	now       func() time.Time

	// republished remembers recent republishes so a long backlog is not
	// flooded with copies of the same task on every tick
	republished map[string]time.Time
}

// New creates a new Reconciler instance
func New(jobs StaleLister, publisher queue.Publisher, config Config, logger *slog.Logger) *Reconciler {
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	return &Reconciler{
		jobs:        jobs,
		publisher:   publisher,
		config:      config,
		logger:      logger,
		now:         time.Now,
		republished: make(map[string]time.Time),
	}
}

// Run reconciles every Interval until ctx is cancelled
func (r *Reconciler) Run(ctx context.Context) error {
	r.logger.Info("Reconciler started",
		slog.Duration("interval", r.config.Interval),
		slog.Duration("grace_period", r.config.GracePeriod),
	)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil {
			r.logger.Error("Reconciliation pass failed", slog.Any("error", err))
		}

		select {
		case <-ctx.Done():
			r.logger.Info("Reconciler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce republishes one batch of stale QUEUED jobs and returns how many
// were republished.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	now := r.now()
	cutoff := now.Add(-r.config.GracePeriod)

	for id, at := range r.republished {
		if at.Before(cutoff) {
			delete(r.republished, id)
		}
	}

	jobs, err := r.jobs.ListStale(ctx, domain.StatusQueued, cutoff, r.config.BatchSize)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, job := range jobs {
		if _, recent := r.republished[job.ID]; recent {
			continue
		}

		task := domain.Task{JobID: job.ID, InputLocation: job.InputLocation}
		if err := r.publisher.Publish(ctx, task); err != nil {
			r.logger.Error("Failed to republish job",
				slog.String("job_id", job.ID),
				slog.Any("error", err),
			)
			continue
		}

		r.republished[job.ID] = now
		requeued++
		metrics.ReconcilerRequeuedTotal.Inc()

		r.logger.Info("Republished orphaned job",
			slog.String("job_id", job.ID),
			slog.Time("queued_at", job.CreatedAt),
		)
	}

	if requeued > 0 {
		r.logger.Info("Reconciliation complete", slog.Int("requeued", requeued))
	}

	return requeued, nil
}
