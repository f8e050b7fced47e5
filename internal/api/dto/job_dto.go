package dto

import (
	"time"

	"github.com/cuongbtq/media-converter/internal/domain"
)

type ListJobsRequest struct {
	UserID   string `form:"user_id"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type SubmitJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID       string `json:"job_id"`
	UserID      string `json:"user_id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
	Status      string `json:"status"`
	ErrorDetail string `json:"error_detail,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

type JobEventDTO struct {
	EventID   string `json:"event_id"`
	Event     string `json:"event"`
	Detail    string `json:"detail,omitempty"`
	CreatedAt string `json:"created_at"`
}

type JobEventsResponse struct {
	JobID  string        `json:"job_id"`
	Events []JobEventDTO `json:"events"`
}

// ErrorResponse is the body of every failed request. Code is stable per error kind.
type ErrorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
	JobID  string `json:"job_id,omitempty"`
	Status string `json:"status,omitempty"`
}

// NewJobDTO converts a job record for the wire
func NewJobDTO(job *domain.Job) JobDTO {
	dto := JobDTO{
		JobID:       job.ID,
		UserID:      job.UserID,
		Filename:    job.Filename,
		ContentType: job.ContentType,
		SizeBytes:   job.SizeBytes,
		Status:      job.Status.String(),
		ErrorDetail: job.ErrorDetail,
		CreatedAt:   job.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:   job.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if job.Status == domain.StatusCompleted {
		dto.DownloadURL = "/api/v1/jobs/" + job.ID + "/download"
	}
	return dto
}

// NewJobEventDTO converts an audit entry for the wire
func NewJobEventDTO(entry domain.AuditEntry) JobEventDTO {
	return JobEventDTO{
		EventID:   entry.ID,
		Event:     string(entry.Event),
		Detail:    entry.Detail,
		CreatedAt: entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}
