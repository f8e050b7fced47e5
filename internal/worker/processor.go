package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cuongbtq/media-converter/internal/converter"
	"github.com/cuongbtq/media-converter/internal/domain"
	"github.com/cuongbtq/media-converter/internal/metrics"
)

// Outcome tells the pool how to settle a delivery
type Outcome int

const (
	// OutcomeAck: the job reached a terminal state in this attempt
	OutcomeAck Outcome = iota
	// OutcomeDiscard: nothing to do (unknown, duplicate or anomalous job); ack without side effects
	OutcomeDiscard
	// OutcomeRequeue: state could not be committed; redeliver later
	OutcomeRequeue
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAck:
		return metrics.OutcomeAcked
	case OutcomeDiscard:
		return metrics.OutcomeDiscarded
	default:
		return metrics.OutcomeRequeued
	}
}

const defaultCommitTimeout = 10 * time.Second

// JobRepository is the part of the Job Record Store the worker uses
type JobRepository interface {
	Get(ctx context.Context, jobID string) (*domain.Job, error)
	Transition(ctx context.Context, jobID string, from, to domain.Status, patch domain.TransitionPatch) (bool, error)
}

// AuditRecorder appends lifecycle events
type AuditRecorder interface {
	Record(ctx context.Context, jobID string, event domain.AuditEvent, detail string) bool
}

// OutputStore places converted artifacts
type OutputStore interface {
	OutputLocation(jobID string) string
	TempOutputLocation(jobID string) string
	Promote(tmp, final string) error
	Remove(location string) error
}

// Processor runs one task to completion. It is safe to call concurrently and
// idempotent per job: a duplicate delivery never re-fires a transition that
// already happened.
type Processor struct {
	jobs          JobRepository
	audit         AuditRecorder
	converter     converter.Converter
	outputs       OutputStore
	logger        *slog.Logger
	commitTimeout time.Duration
}

// NewProcessor creates a new Processor instance
func NewProcessor(jobs JobRepository, audit AuditRecorder, conv converter.Converter, outputs OutputStore, logger *slog.Logger) *Processor {
	return &Processor{
		jobs:          jobs,
		audit:         audit,
		converter:     conv,
		outputs:       outputs,
		logger:        logger,
		commitTimeout: defaultCommitTimeout,
	}
}

// Process handles one task. The returned error is informational; the Outcome
// decides how the delivery is settled.
func (p *Processor) Process(ctx context.Context, task domain.Task, redelivered bool) (Outcome, error) {
	logger := p.logger.With(slog.String("job_id", task.JobID))

	job, err := p.jobs.Get(ctx, task.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("Job not found, discarding task")
			return OutcomeDiscard, nil
		}
		return OutcomeRequeue, err
	}

	job, outcome, err := p.claim(ctx, job, redelivered)
	if job == nil {
		return outcome, err
	}

	if task.InputLocation != "" && task.InputLocation != job.InputLocation {
		logger.Warn("Task input location differs from job record, using job record",
			slog.String("task_input", task.InputLocation),
			slog.String("job_input", job.InputLocation),
		)
	}

	return p.convert(ctx, job)
}

// claim moves a QUEUED job to PROCESSING or accepts a PROCESSING job left by
// a crashed attempt. Only a redelivery can resume PROCESSING; a fresh delivery
// for a PROCESSING job is a duplicate of a live attempt. It returns a nil job
// when there is nothing to convert.
func (p *Processor) claim(ctx context.Context, job *domain.Job, redelivered bool) (*domain.Job, Outcome, error) {
	logger := p.logger.With(slog.String("job_id", job.ID))

	// One reload is enough: a lost compare-and-set means another attempt
	// moved the job forward, never back to QUEUED.
	for reloads := 0; reloads < 2; reloads++ {
		switch job.Status {
		case domain.StatusCompleted, domain.StatusFailed:
			logger.Info("Job already terminal, discarding duplicate delivery",
				slog.String("status", job.Status.String()),
				slog.Bool("redelivered", redelivered),
			)
			return nil, OutcomeDiscard, nil

		case domain.StatusProcessing:
			if !redelivered {
				logger.Info("Job already processing, discarding duplicate delivery")
				return nil, OutcomeDiscard, nil
			}
			logger.Info("Resuming job left in processing")
			return job, OutcomeAck, nil

		case domain.StatusQueued:
			applied, err := p.jobs.Transition(ctx, job.ID, domain.StatusQueued, domain.StatusProcessing, domain.TransitionPatch{})
			if err != nil {
				return nil, OutcomeRequeue, err
			}
			if applied {
				p.audit.Record(ctx, job.ID, domain.AuditProcessing, "")
				job.Status = domain.StatusProcessing
				return job, OutcomeAck, nil
			}

			logger.Debug("Lost claim race, reloading job")
			job, err = p.jobs.Get(ctx, job.ID)
			if err != nil {
				return nil, OutcomeRequeue, err
			}

		default:
			p.anomaly(ctx, job.ID, job.Status, domain.StatusProcessing)
			return nil, OutcomeDiscard, nil
		}
	}

	return nil, OutcomeRequeue, errors.New("job status did not settle after reload")
}

// convert runs the converter into a per-attempt temp file, promotes it and
// commits the terminal state.
func (p *Processor) convert(ctx context.Context, job *domain.Job) (Outcome, error) {
	logger := p.logger.With(slog.String("job_id", job.ID))

	tmp := p.outputs.TempOutputLocation(job.ID)

	start := time.Now()
	metrics.JobsInFlight.Inc()
	err := p.converter.Convert(ctx, job.InputLocation, tmp)
	metrics.JobsInFlight.Dec()
	metrics.ConversionDurationSeconds.Observe(time.Since(start).Seconds())

	if err != nil {
		if rmErr := p.outputs.Remove(tmp); rmErr != nil {
			logger.Warn("Failed to remove partial output", slog.Any("error", rmErr))
		}

		// Shutdown: leave the job in PROCESSING for the next delivery
		if ctx.Err() != nil {
			return OutcomeRequeue, err
		}

		var convErr *domain.ConversionFailedError
		if !errors.As(err, &convErr) {
			return OutcomeRequeue, err
		}

		logger.Warn("Conversion failed", slog.String("detail", convErr.Detail))
		return p.finish(ctx, job, domain.StatusFailed, domain.TransitionPatch{ErrorDetail: convErr.Detail})
	}

	// Another attempt may have finished the job while this one converted;
	// its artifact must not be replaced.
	readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.commitTimeout)
	current, err := p.jobs.Get(readCtx, job.ID)
	cancel()
	if err != nil {
		_ = p.outputs.Remove(tmp)
		return OutcomeRequeue, err
	}
	if current.Status != domain.StatusProcessing {
		_ = p.outputs.Remove(tmp)
		logger.Info("Job finished by another attempt, dropping output",
			slog.String("status", current.Status.String()),
		)
		return OutcomeDiscard, nil
	}

	final := p.outputs.OutputLocation(job.ID)
	if err := p.outputs.Promote(tmp, final); err != nil {
		_ = p.outputs.Remove(tmp)
		return OutcomeRequeue, err
	}

	logger.Info("Conversion finished",
		slog.String("output", final),
		slog.Duration("duration", time.Since(start)),
	)
	return p.finish(ctx, job, domain.StatusCompleted, domain.TransitionPatch{OutputLocation: final})
}

// finish commits the terminal state and then audits it. The commit uses a
// context detached from cancellation so a finished conversion is not lost to
// a shutdown racing with it.
func (p *Processor) finish(ctx context.Context, job *domain.Job, to domain.Status, patch domain.TransitionPatch) (Outcome, error) {
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.commitTimeout)
	defer cancel()

	applied, err := p.jobs.Transition(commitCtx, job.ID, domain.StatusProcessing, to, patch)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			p.anomaly(commitCtx, job.ID, domain.StatusProcessing, to)
			return OutcomeDiscard, nil
		}
		return OutcomeRequeue, err
	}

	if !applied {
		p.logger.Info("Job already finished by another attempt",
			slog.String("job_id", job.ID),
			slog.String("attempted", to.String()),
		)
		return OutcomeDiscard, nil
	}

	p.audit.Record(commitCtx, job.ID, domain.AuditEventFor(to), patch.ErrorDetail)
	metrics.JobsFinishedTotal.WithLabelValues(to.String()).Inc()

	return OutcomeAck, nil
}

// anomaly logs and audits a transition the state machine does not allow
func (p *Processor) anomaly(ctx context.Context, jobID string, from, to domain.Status) {
	err := domain.ValidateTransition(from, to)
	if err == nil {
		err = &domain.TransitionError{From: from, To: to}
	}

	p.logger.Warn("Rejected invalid status transition",
		slog.String("job_id", jobID),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
	)
	p.audit.Record(ctx, jobID, domain.AuditAnomaly, err.Error())
}
