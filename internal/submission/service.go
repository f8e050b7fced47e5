// Package submission accepts uploads and turns them into queued conversion jobs.
package submission

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"

	"github.com/cuongbtq/media-converter/internal/domain"
	"github.com/cuongbtq/media-converter/internal/mediastore"
	"github.com/cuongbtq/media-converter/internal/metrics"
	"github.com/cuongbtq/media-converter/internal/queue"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

const (
	defaultOwner = "anonymous"
	sniffBytes   = 3072
)

// JobCreator inserts new job records
type JobCreator interface {
	Create(ctx context.Context, job *domain.Job) error
}

// MediaWriter persists uploaded bytes
type MediaWriter interface {
	SaveInput(jobID, ext string, r io.Reader, limit int64) (string, int64, error)
	Remove(location string) error
}

// AuditRecorder appends lifecycle events
type AuditRecorder interface {
	Record(ctx context.Context, jobID string, event domain.AuditEvent, detail string) bool
}

// Config holds submission limits
type Config struct {
	MaxUploadBytes      int64
	AllowedContentTypes []string
	MaxConcurrent       int64
}

// Upload is one incoming file
type Upload struct {
	Owner       string
	Filename    string
	ContentType string
	// Size is the declared size; 0 when unknown
	Size int64
	Body io.Reader
}

// Service is the Job Submission component
type Service struct {
	jobs      JobCreator
	media     MediaWriter
	audit     AuditRecorder
	publisher queue.Publisher
	sem       *semaphore.Weighted
	config    Config
	logger    *slog.Logger
}

// NewService creates a new Service instance
func NewService(jobs JobCreator, media MediaWriter, audit AuditRecorder, publisher queue.Publisher, config Config, logger *slog.Logger) *Service {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 16
	}
	return &Service{
		jobs:      jobs,
		media:     media,
		audit:     audit,
		publisher: publisher,
		sem:       semaphore.NewWeighted(config.MaxConcurrent),
		config:    config,
		logger:    logger,
	}
}

// Submit stores the upload, records a QUEUED job and enqueues it. It returns
// as soon as the task is enqueued and never waits for conversion.
//
// When the job record is committed but publishing fails, the job is returned
// together with a transient error; it stays QUEUED until reconciled.
func (s *Service) Submit(ctx context.Context, upload Upload) (*domain.Job, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, domain.NewTransientError("submission capacity unavailable", err)
	}
	defer s.sem.Release(1)

	job, err := s.submit(ctx, upload)
	switch {
	case err == nil:
		metrics.JobsSubmittedTotal.WithLabelValues("accepted").Inc()
	case errors.Is(err, domain.ErrInvalidInput):
		metrics.JobsSubmittedTotal.WithLabelValues("rejected").Inc()
	case job != nil:
		metrics.JobsSubmittedTotal.WithLabelValues("enqueue_failed").Inc()
	default:
		metrics.JobsSubmittedTotal.WithLabelValues("failed").Inc()
	}

	return job, err
}

func (s *Service) submit(ctx context.Context, upload Upload) (*domain.Job, error) {
	if upload.Body == nil {
		return nil, fmt.Errorf("%w: empty file", domain.ErrInvalidInput)
	}
	if s.config.MaxUploadBytes > 0 && upload.Size > s.config.MaxUploadBytes {
		return nil, mediastore.ErrTooLarge
	}

	// Sniff the first bytes: detects empty bodies and fills a missing content type
	head := make([]byte, sniffBytes)
	n, err := io.ReadFull(upload.Body, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, domain.NewTransientError("failed to read upload", err)
	}
	head = head[:n]
	if n == 0 {
		return nil, fmt.Errorf("%w: empty file", domain.ErrInvalidInput)
	}

	detected := mimetype.Detect(head)
	contentType := normalizeContentType(upload.ContentType)
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = normalizeContentType(detected.String())
	}
	if !s.allowed(contentType) {
		return nil, fmt.Errorf("%w: unsupported content type %s", domain.ErrInvalidInput, contentType)
	}

	owner := strings.TrimSpace(upload.Owner)
	if owner == "" {
		owner = defaultOwner
	}

	filename := filepath.Base(strings.TrimSpace(upload.Filename))
	if filename == "." || filename == string(filepath.Separator) {
		filename = ""
	}
	ext := filepath.Ext(filename)
	if ext == "" {
		ext = detected.Extension()
	}

	jobID := uuid.NewString()
	body := io.MultiReader(bytes.NewReader(head), upload.Body)

	location, size, err := s.media.SaveInput(jobID, ext, body, s.config.MaxUploadBytes)
	if err != nil {
		return nil, err
	}

	job := &domain.Job{
		ID:            jobID,
		UserID:        owner,
		Filename:      filename,
		ContentType:   contentType,
		SizeBytes:     size,
		Status:        domain.StatusQueued,
		InputLocation: location,
	}

	if err := s.jobs.Create(ctx, job); err != nil {
		if rmErr := s.media.Remove(location); rmErr != nil {
			s.logger.Warn("Failed to clean up upload",
				slog.String("job_id", jobID),
				slog.Any("error", rmErr),
			)
		}
		return nil, err
	}

	s.audit.Record(ctx, jobID, domain.AuditQueued, "")

	task := domain.Task{JobID: jobID, InputLocation: location}
	if err := s.publisher.Publish(ctx, task); err != nil {
		s.logger.Error("Failed to enqueue job, left queued for reconciliation",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		return job, domain.NewTransientError(fmt.Sprintf("failed to enqueue job %s", jobID), err)
	}

	s.logger.Info("Job submitted",
		slog.String("job_id", jobID),
		slog.String("user_id", owner),
		slog.String("content_type", contentType),
		slog.Int64("size_bytes", size),
	)

	return job, nil
}

// allowed reports whether the type matches an entry exactly or by "type/*"
func (s *Service) allowed(contentType string) bool {
	if len(s.config.AllowedContentTypes) == 0 {
		return true
	}

	for _, pattern := range s.config.AllowedContentTypes {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		if pattern == contentType {
			return true
		}
		if prefix, ok := strings.CutSuffix(pattern, "/*"); ok && strings.HasPrefix(contentType, prefix+"/") {
			return true
		}
	}

	return false
}

// normalizeContentType lowercases and strips parameters
func normalizeContentType(ct string) string {
	ct = strings.TrimSpace(ct)
	if ct == "" {
		return ""
	}
	if mediaType, _, err := mime.ParseMediaType(ct); err == nil {
		return mediaType
	}
	return strings.ToLower(ct)
}
