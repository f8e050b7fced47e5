package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/media-converter/internal/api/dto"
	"github.com/cuongbtq/media-converter/internal/domain"
	"github.com/cuongbtq/media-converter/internal/mediastore"
	"github.com/gin-gonic/gin"
)

// Error codes returned in dto.ErrorResponse
const (
	CodeInvalidInput     = "invalid_input"
	CodeFileTooLarge     = "file_too_large"
	CodeNotFound         = "not_found"
	CodeNotReady         = "not_ready"
	CodeConversionFailed = "conversion_failed"
	CodeUnavailable      = "unavailable"
	CodeInternal         = "internal_error"
)

// writeError maps the domain error taxonomy to an HTTP response
func (h *JobHandler) writeError(c *gin.Context, err error, jobID string) {
	resp := dto.ErrorResponse{Error: err.Error(), JobID: jobID}
	status := http.StatusInternalServerError

	var convErr *domain.ConversionFailedError
	switch {
	case errors.Is(err, mediastore.ErrTooLarge):
		status, resp.Code = http.StatusRequestEntityTooLarge, CodeFileTooLarge
	case errors.Is(err, domain.ErrInvalidInput):
		status, resp.Code = http.StatusBadRequest, CodeInvalidInput
	case errors.Is(err, domain.ErrNotFound):
		status, resp.Code = http.StatusNotFound, CodeNotFound
		resp.Error = domain.ErrNotFound.Error()
	case errors.Is(err, domain.ErrNotReady):
		status, resp.Code = http.StatusConflict, CodeNotReady
	case errors.As(err, &convErr):
		status, resp.Code = http.StatusUnprocessableEntity, CodeConversionFailed
		resp.Error = domain.ErrConversionFailed.Error()
		resp.Detail = convErr.Detail
	case errors.Is(err, domain.ErrTransientInfrastructure):
		status, resp.Code = http.StatusServiceUnavailable, CodeUnavailable
		resp.Error = "service temporarily unavailable, retry later"
		c.Header("Retry-After", "5")
	default:
		resp.Code = CodeInternal
		resp.Error = "internal server error"
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			slog.String("path", c.Request.URL.Path),
			slog.String("job_id", jobID),
			slog.Int("status", status),
			slog.Any("error", err),
		)
	}

	c.AbortWithStatusJSON(status, resp)
}
