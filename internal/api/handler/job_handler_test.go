package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cuongbtq/media-converter/internal/api/dto"
	"github.com/cuongbtq/media-converter/internal/domain"
	"github.com/cuongbtq/media-converter/internal/jobstore"
	"github.com/cuongbtq/media-converter/internal/mediastore"
	"github.com/cuongbtq/media-converter/internal/retrieval"
	"github.com/cuongbtq/media-converter/internal/submission"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSubmitter struct {
	got submission.Upload
	job *domain.Job
	err error
}

func (s *stubSubmitter) Submit(_ context.Context, upload submission.Upload) (*domain.Job, error) {
	s.got = upload
	if upload.Body != nil {
		data, _ := io.ReadAll(upload.Body)
		s.got.Body = bytes.NewReader(data)
	}
	return s.job, s.err
}

type stubRetriever struct {
	job      *domain.Job
	err      error
	artifact *retrieval.Artifact
	entries  []domain.AuditEntry
	page     *retrieval.Page
	filter   jobstore.Filter
}

func (s *stubRetriever) Status(context.Context, string) (*domain.Job, error) {
	return s.job, s.err
}

func (s *stubRetriever) Download(context.Context, string) (*retrieval.Artifact, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.artifact == nil {
		return nil, domain.ErrNotReady
	}
	return s.artifact, nil
}

func (s *stubRetriever) History(context.Context, string) ([]domain.AuditEntry, error) {
	return s.entries, s.err
}

func (s *stubRetriever) List(_ context.Context, filter jobstore.Filter) (*retrieval.Page, error) {
	s.filter = filter
	return s.page, s.err
}

type nopReadSeekCloser struct {
	*strings.Reader
}

func (nopReadSeekCloser) Close() error { return nil }

func newTestEngine(sub Submitter, ret Retriever) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewJobHandler(&Dependencies{
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		Submitter:      sub,
		Retriever:      ret,
		MaxUploadBytes: 1 << 20,
	})

	r := gin.New()
	r.POST("/api/v1/jobs", h.CreateJob)
	r.GET("/api/v1/jobs", h.ListJobs)
	r.GET("/api/v1/jobs/:job_id", h.GetJob)
	r.GET("/api/v1/jobs/:job_id/events", h.GetJobEvents)
	r.GET("/api/v1/jobs/:job_id/download", h.DownloadJob)
	return r
}

func multipartUpload(t *testing.T, field, filename, content, userID string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if userID != "" {
		require.NoError(t, w.WriteField("user_id", userID))
	}
	if field != "" {
		part, err := w.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &body, w.FormDataContentType()
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) dto.ErrorResponse {
	t.Helper()
	var resp dto.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestCreateJob_Accepted(t *testing.T) {
	jobID := uuid.NewString()
	sub := &stubSubmitter{job: &domain.Job{ID: jobID, Status: domain.StatusQueued}}
	r := newTestEngine(sub, &stubRetriever{})

	body, contentType := multipartUpload(t, "file", "clip.mp4", "video-bytes", "alice")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp dto.SubmitJobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, jobID, resp.JobID)
	assert.Equal(t, "QUEUED", resp.Status)
	assert.Equal(t, "/api/v1/jobs/"+jobID, rec.Header().Get("Location"))

	assert.Equal(t, "alice", sub.got.Owner)
	assert.Equal(t, "clip.mp4", sub.got.Filename)
	assert.Equal(t, int64(11), sub.got.Size)
	data, _ := io.ReadAll(sub.got.Body)
	assert.Equal(t, "video-bytes", string(data))
}

func TestCreateJob_Errors(t *testing.T) {
	jobID := uuid.NewString()

	tests := []struct {
		name       string
		field      string
		err        error
		job        *domain.Job
		wantStatus int
		wantCode   string
		wantJobID  string
	}{
		{name: "missing file", field: "", wantStatus: http.StatusBadRequest, wantCode: CodeInvalidInput},
		{name: "invalid input", field: "file", err: fmt.Errorf("%w: empty file", domain.ErrInvalidInput), wantStatus: http.StatusBadRequest, wantCode: CodeInvalidInput},
		{name: "too large", field: "file", err: mediastore.ErrTooLarge, wantStatus: http.StatusRequestEntityTooLarge, wantCode: CodeFileTooLarge},
		{name: "store down", field: "file", err: domain.NewTransientError("failed to create job", errors.New("refused")), wantStatus: http.StatusServiceUnavailable, wantCode: CodeUnavailable},
		{
			name:       "enqueue failed keeps job id",
			field:      "file",
			job:        &domain.Job{ID: jobID, Status: domain.StatusQueued},
			err:        domain.NewTransientError("failed to enqueue job "+jobID, errors.New("refused")),
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   CodeUnavailable,
			wantJobID:  jobID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestEngine(&stubSubmitter{job: tt.job, err: tt.err}, &stubRetriever{})

			body, contentType := multipartUpload(t, tt.field, "clip.mp4", "x", "")
			req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", body)
			req.Header.Set("Content-Type", contentType)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			resp := decodeError(t, rec)
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.Equal(t, tt.wantJobID, resp.JobID)
		})
	}
}

func TestGetJob(t *testing.T) {
	jobID := uuid.NewString()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		path       string
		ret        *stubRetriever
		wantStatus int
		wantCode   string
	}{
		{
			name:       "found",
			path:       jobID,
			ret:        &stubRetriever{job: &domain.Job{ID: jobID, Status: domain.StatusCompleted, CreatedAt: now, UpdatedAt: now}},
			wantStatus: http.StatusOK,
		},
		{name: "unknown", path: jobID, ret: &stubRetriever{err: domain.ErrNotFound}, wantStatus: http.StatusNotFound, wantCode: CodeNotFound},
		{name: "not a uuid", path: "abc", ret: &stubRetriever{}, wantStatus: http.StatusNotFound, wantCode: CodeNotFound},
		{name: "store down", path: jobID, ret: &stubRetriever{err: domain.NewTransientError("failed to get job", errors.New("x"))}, wantStatus: http.StatusServiceUnavailable, wantCode: CodeUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestEngine(&stubSubmitter{}, tt.ret)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+tt.path, nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, decodeError(t, rec).Code)
				return
			}

			var job dto.JobDTO
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
			assert.Equal(t, jobID, job.JobID)
			assert.Equal(t, "COMPLETED", job.Status)
			assert.Equal(t, "/api/v1/jobs/"+jobID+"/download", job.DownloadURL)
		})
	}
}

func TestDownloadJob(t *testing.T) {
	jobID := uuid.NewString()

	t.Run("completed", func(t *testing.T) {
		ret := &stubRetriever{artifact: &retrieval.Artifact{
			Job:         &domain.Job{ID: jobID, Status: domain.StatusCompleted, UpdatedAt: time.Now()},
			Reader:      nopReadSeekCloser{strings.NewReader("audio-bytes")},
			Size:        11,
			Filename:    "holiday.mp3",
			ContentType: "audio/mpeg",
		}}
		r := newTestEngine(&stubSubmitter{}, ret)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+jobID+"/download", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "audio-bytes", rec.Body.String())
		assert.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Header().Get("Content-Disposition"), "holiday.mp3")
	})

	t.Run("not ready reports status", func(t *testing.T) {
		ret := &stubRetriever{job: &domain.Job{ID: jobID, Status: domain.StatusProcessing}}
		r := newTestEngine(&stubSubmitter{}, ret)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+jobID+"/download", nil))

		require.Equal(t, http.StatusConflict, rec.Code)
		resp := decodeError(t, rec)
		assert.Equal(t, CodeNotReady, resp.Code)
		assert.Equal(t, "PROCESSING", resp.Status)
	})

	t.Run("conversion failed carries detail", func(t *testing.T) {
		ret := &stubRetriever{err: &domain.ConversionFailedError{Detail: "moov atom not found"}}
		r := newTestEngine(&stubSubmitter{}, ret)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+jobID+"/download", nil))

		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		resp := decodeError(t, rec)
		assert.Equal(t, CodeConversionFailed, resp.Code)
		assert.Equal(t, "moov atom not found", resp.Detail)
	})

	t.Run("unknown", func(t *testing.T) {
		r := newTestEngine(&stubSubmitter{}, &stubRetriever{err: domain.ErrNotFound})
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+jobID+"/download", nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestGetJobEvents(t *testing.T) {
	jobID := uuid.NewString()
	ret := &stubRetriever{entries: []domain.AuditEntry{
		{ID: "1", JobID: jobID, Event: domain.AuditQueued, CreatedAt: time.Now()},
		{ID: "2", JobID: jobID, Event: domain.AuditFailed, Detail: "boom", CreatedAt: time.Now()},
	}}
	r := newTestEngine(&stubSubmitter{}, ret)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+jobID+"/events", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp dto.JobEventsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Events, 2)
	assert.Equal(t, "QUEUED", resp.Events[0].Event)
	assert.Equal(t, "boom", resp.Events[1].Detail)
}

func TestListJobs(t *testing.T) {
	created := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	ret := &stubRetriever{page: &retrieval.Page{
		Jobs: []domain.Job{{ID: "job-2", Status: domain.StatusQueued, CreatedAt: created}},
		Next: &jobstore.Cursor{CreatedAt: created, JobID: "job-2"},
	}}
	r := newTestEngine(&stubSubmitter{}, ret)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs?user_id=alice&status=QUEUED&page_size=500", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", ret.filter.UserID)
	assert.Equal(t, domain.StatusQueued, ret.filter.Status)
	assert.Equal(t, maxPageSize, ret.filter.PageSize)

	var resp dto.ListJobsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Jobs, 1)
	require.NotEmpty(t, resp.NextCursor)

	cursor, err := DecodeJobCursor(resp.NextCursor)
	require.NoError(t, err)
	assert.Equal(t, "job-2", cursor.JobID)
	assert.True(t, created.Equal(cursor.CreatedAt))
}

func TestListJobs_BadInput(t *testing.T) {
	tests := []string{
		"/api/v1/jobs?status=DONE",
		"/api/v1/jobs?cursor=bm90LWEtY3Vyc29y",
		"/api/v1/jobs?page_size=abc",
	}

	for _, path := range tests {
		t.Run(path, func(t *testing.T) {
			r := newTestEngine(&stubSubmitter{}, &stubRetriever{})
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, CodeInvalidInput, decodeError(t, rec).Code)
		})
	}
}

func TestJobCursorRoundTrip(t *testing.T) {
	cursor := &jobstore.Cursor{CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 6000, time.UTC), JobID: "a|b"}

	decoded, err := DecodeJobCursor(EncodeJobCursor(cursor))
	require.NoError(t, err)
	assert.Equal(t, "a|b", decoded.JobID)
	assert.True(t, cursor.CreatedAt.Equal(decoded.CreatedAt))

	empty, err := DecodeJobCursor("")
	require.NoError(t, err)
	assert.Nil(t, empty)
}
