package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/media-converter/internal/domain"
	"github.com/cuongbtq/media-converter/internal/jobstore"
	"github.com/cuongbtq/media-converter/internal/retrieval"
	"github.com/cuongbtq/media-converter/internal/submission"
)

// Submitter is the Job Submission component
type Submitter interface {
	Submit(ctx context.Context, upload submission.Upload) (*domain.Job, error)
}

// Retriever is the Result Retrieval component
type Retriever interface {
	Status(ctx context.Context, jobID string) (*domain.Job, error)
	Download(ctx context.Context, jobID string) (*retrieval.Artifact, error)
	History(ctx context.Context, jobID string) ([]domain.AuditEntry, error)
	List(ctx context.Context, filter jobstore.Filter) (*retrieval.Page, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger         *slog.Logger
	Submitter      Submitter
	Retriever      Retriever
	MaxUploadBytes int64
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger         *slog.Logger
	submitter      Submitter
	retriever      Retriever
	maxUploadBytes int64
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:         deps.Logger,
		submitter:      deps.Submitter,
		retriever:      deps.Retriever,
		maxUploadBytes: deps.MaxUploadBytes,
	}
}
