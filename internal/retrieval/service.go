// Package retrieval answers status, history and download queries. It only
// reads: current status always comes from the Job Record Store.
package retrieval

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/cuongbtq/media-converter/internal/domain"
	"github.com/cuongbtq/media-converter/internal/jobstore"
)

// JobReader is the read side of the Job Record Store
type JobReader interface {
	Get(ctx context.Context, jobID string) (*domain.Job, error)
	List(ctx context.Context, filter jobstore.Filter) ([]domain.Job, error)
}

// HistoryReader reads audit entries
type HistoryReader interface {
	ListByJob(ctx context.Context, jobID string) ([]domain.AuditEntry, error)
}

// ArtifactOpener opens stored artifacts
type ArtifactOpener interface {
	Open(location string) (io.ReadSeekCloser, int64, error)
}

// Artifact is a completed job's audio output
type Artifact struct {
	Job         *domain.Job
	Reader      io.ReadSeekCloser
	Size        int64
	Filename    string
	ContentType string
}

// Service is the Result Retrieval component
type Service struct {
	jobs        JobReader
	history     HistoryReader
	artifacts   ArtifactOpener
	contentType string
	logger      *slog.Logger
}

// NewService creates a new Service instance. contentType is the MIME type of
// converted artifacts.
func NewService(jobs JobReader, history HistoryReader, artifacts ArtifactOpener, contentType string, logger *slog.Logger) *Service {
	return &Service{
		jobs:        jobs,
		history:     history,
		artifacts:   artifacts,
		contentType: contentType,
		logger:      logger,
	}
}

// Status returns the current job record
func (s *Service) Status(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.jobs.Get(ctx, jobID)
}

// Download returns the audio output of a COMPLETED job. QUEUED and PROCESSING
// jobs are domain.ErrNotReady; FAILED jobs return the stored diagnostic.
func (s *Service) Download(ctx context.Context, jobID string) (*Artifact, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	switch job.Status {
	case domain.StatusQueued, domain.StatusProcessing:
		return nil, domain.ErrNotReady
	case domain.StatusFailed:
		return nil, &domain.ConversionFailedError{Detail: job.ErrorDetail}
	case domain.StatusCompleted:
	default:
		return nil, domain.NewTransientError("unexpected job status", &domain.TransitionError{From: job.Status, To: domain.StatusCompleted})
	}

	reader, size, err := s.artifacts.Open(job.OutputLocation)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.Error("Artifact missing for completed job",
				slog.String("job_id", job.ID),
				slog.String("output_location", job.OutputLocation),
			)
		}
		return nil, err
	}

	return &Artifact{
		Job:         job,
		Reader:      reader,
		Size:        size,
		Filename:    downloadName(job),
		ContentType: s.contentType,
	}, nil
}

// History returns the audit entries of an existing job
func (s *Service) History(ctx context.Context, jobID string) ([]domain.AuditEntry, error) {
	if _, err := s.jobs.Get(ctx, jobID); err != nil {
		return nil, err
	}
	return s.history.ListByJob(ctx, jobID)
}

// Page size bounds applied by List
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Page is one page of List results
type Page struct {
	Jobs []domain.Job
	Next *jobstore.Cursor
}

// List returns jobs newest first. A non-positive page size means
// DefaultPageSize; larger sizes are capped at MaxPageSize.
func (s *Service) List(ctx context.Context, filter jobstore.Filter) (*Page, error) {
	switch {
	case filter.PageSize <= 0:
		filter.PageSize = DefaultPageSize
	case filter.PageSize > MaxPageSize:
		filter.PageSize = MaxPageSize
	}

	jobs, err := s.jobs.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	page := &Page{Jobs: jobs}
	if len(jobs) > filter.PageSize {
		page.Jobs = jobs[:filter.PageSize]
		last := page.Jobs[len(page.Jobs)-1]
		page.Next = &jobstore.Cursor{CreatedAt: last.CreatedAt, JobID: last.ID}
	}

	return page, nil
}

// downloadName derives "<original name>.<artifact ext>"
func downloadName(job *domain.Job) string {
	ext := filepath.Ext(job.OutputLocation)
	base := strings.TrimSuffix(job.Filename, filepath.Ext(job.Filename))
	if base == "" {
		base = job.ID
	}
	return base + ext
}
