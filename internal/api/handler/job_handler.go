package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"

	"github.com/cuongbtq/media-converter/internal/api/dto"
	"github.com/cuongbtq/media-converter/internal/domain"
	"github.com/cuongbtq/media-converter/internal/jobstore"
	"github.com/cuongbtq/media-converter/internal/mediastore"
	"github.com/cuongbtq/media-converter/internal/retrieval"
	"github.com/cuongbtq/media-converter/internal/submission"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultPageSize = retrieval.DefaultPageSize
	maxPageSize     = retrieval.MaxPageSize
	// multipartOverhead leaves room for form fields and boundaries
	multipartOverhead = 1 << 20
)

// CreateJob handles POST /api/v1/jobs
// Accepts a multipart upload (file, user_id) and returns 202 with the job id
func (h *JobHandler) CreateJob(c *gin.Context) {
	h.logger.Info("CreateJob called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
	)

	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+multipartOverhead)
	}

	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(c, mediastore.ErrTooLarge, "")
			return
		}
		h.logger.Warn("Invalid upload", slog.String("error", err.Error()))
		h.writeError(c, fmt.Errorf("%w: multipart field \"file\" is required", domain.ErrInvalidInput), "")
		return
	}

	file, err := header.Open()
	if err != nil {
		h.writeError(c, domain.NewTransientError("failed to open upload", err), "")
		return
	}
	defer file.Close()

	job, err := h.submitter.Submit(c.Request.Context(), submission.Upload{
		Owner:       c.PostForm("user_id"),
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		jobID := ""
		if job != nil {
			jobID = job.ID
		}
		h.writeError(c, err, jobID)
		return
	}

	c.Header("Location", "/api/v1/jobs/"+job.ID)
	c.JSON(http.StatusAccepted, dto.SubmitJobResponse{
		JobID:  job.ID,
		Status: job.Status.String(),
	})
}

// GetJob handles GET /api/v1/jobs/:job_id
// Returns the current job record
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, ok := h.jobID(c)
	if !ok {
		return
	}

	job, err := h.retriever.Status(c.Request.Context(), jobID)
	if err != nil {
		h.writeError(c, err, jobID)
		return
	}

	c.JSON(http.StatusOK, dto.NewJobDTO(job))
}

// GetJobEvents handles GET /api/v1/jobs/:job_id/events
// Returns the audit history of a job
func (h *JobHandler) GetJobEvents(c *gin.Context) {
	jobID, ok := h.jobID(c)
	if !ok {
		return
	}

	entries, err := h.retriever.History(c.Request.Context(), jobID)
	if err != nil {
		h.writeError(c, err, jobID)
		return
	}

	events := make([]dto.JobEventDTO, len(entries))
	for i, entry := range entries {
		events[i] = dto.NewJobEventDTO(entry)
	}

	c.JSON(http.StatusOK, dto.JobEventsResponse{JobID: jobID, Events: events})
}

// DownloadJob handles GET /api/v1/jobs/:job_id/download
// Streams the converted audio of a completed job
func (h *JobHandler) DownloadJob(c *gin.Context) {
	jobID, ok := h.jobID(c)
	if !ok {
		return
	}

	artifact, err := h.retriever.Download(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotReady) {
			if job, statusErr := h.retriever.Status(c.Request.Context(), jobID); statusErr == nil {
				c.AbortWithStatusJSON(http.StatusConflict, dto.ErrorResponse{
					Error:  err.Error(),
					Code:   CodeNotReady,
					JobID:  jobID,
					Status: job.Status.String(),
				})
				return
			}
		}
		h.writeError(c, err, jobID)
		return
	}
	defer artifact.Reader.Close()

	c.Header("Content-Type", artifact.ContentType)
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": artifact.Filename}))
	http.ServeContent(c.Writer, c.Request, artifact.Filename, artifact.Job.UpdatedAt, artifact.Reader)
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs newest first with optional filtering and cursor pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	h.logger.Info("ListJobs called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("query", c.Request.URL.RawQuery),
	)

	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.writeError(c, fmt.Errorf("%w: invalid query parameters", domain.ErrInvalidInput), "")
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	var status domain.Status
	if req.Status != "" {
		parsed, err := domain.ParseStatus(req.Status)
		if err != nil {
			h.writeError(c, err, "")
			return
		}
		status = parsed
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.writeError(c, fmt.Errorf("%w: invalid cursor", domain.ErrInvalidInput), "")
		return
	}

	page, err := h.retriever.List(c.Request.Context(), jobstore.Filter{
		UserID:   req.UserID,
		Status:   status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.writeError(c, err, "")
		return
	}

	jobs := make([]dto.JobDTO, len(page.Jobs))
	for i := range page.Jobs {
		jobs[i] = dto.NewJobDTO(&page.Jobs[i])
	}

	resp := dto.ListJobsResponse{Jobs: jobs}
	if page.Next != nil {
		resp.NextCursor = EncodeJobCursor(page.Next)
	}

	c.JSON(http.StatusOK, resp)
}

// jobID reads the :job_id path parameter. Ids that are not UUIDs cannot
// exist, so they are reported as not found.
func (h *JobHandler) jobID(c *gin.Context) (string, bool) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		h.writeError(c, domain.ErrNotFound, jobID)
		return "", false
	}
	return jobID, true
}
