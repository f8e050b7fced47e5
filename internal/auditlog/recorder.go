package auditlog

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/media-converter/internal/domain"
)

// Recorder writes audit entries with bounded retry. A failed write is logged
// and swallowed: the job record has already committed and stays authoritative.
type Recorder struct {
	store    Store
	logger   *slog.Logger
	attempts int
	backoff  time.Duration
}

// NewRecorder creates a new Recorder instance
func NewRecorder(store Store, attempts int, backoff time.Duration, logger *slog.Logger) *Recorder {
	if attempts < 1 {
		attempts = 1
	}
	return &Recorder{
		store:    store,
		logger:   logger,
		attempts: attempts,
		backoff:  backoff,
	}
}

// Record appends an event for a job. It reports whether the write succeeded.
func (r *Recorder) Record(ctx context.Context, jobID string, event domain.AuditEvent, detail string) bool {
	entry := domain.AuditEntry{
		JobID:     jobID,
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}

	var err error
retry:
	for attempt := 1; attempt <= r.attempts; attempt++ {
		if err = r.store.Append(ctx, entry); err == nil {
			return true
		}

		if attempt == r.attempts {
			break
		}

		delay := r.backoff * time.Duration(1<<uint(attempt-1))
		select {
		case <-ctx.Done():
			break retry
		case <-time.After(delay):
		}
	}

	r.logger.Error("Failed to record audit entry",
		slog.String("job_id", jobID),
		slog.String("event", string(event)),
		slog.Int("attempts", r.attempts),
		slog.Any("error", err),
	)
	return false
}

// History returns the recorded entries for a job
func (r *Recorder) History(ctx context.Context, jobID string) ([]domain.AuditEntry, error) {
	return r.store.ListByJob(ctx, jobID)
}
