package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/media-converter/internal/domain"
	"github.com/jmoiron/sqlx"
)

const jobColumns = `job_id, user_id, original_filename, content_type, size_bytes, status,
	input_location, output_location, error_detail, created_at, updated_at`

var schemas = map[string]string{
	"postgres": `
		CREATE TABLE IF NOT EXISTS conversion_jobs (
			job_id            VARCHAR(64) PRIMARY KEY,
			user_id           VARCHAR(255) NOT NULL,
			original_filename TEXT NOT NULL,
			content_type      VARCHAR(255) NOT NULL,
			size_bytes        BIGINT NOT NULL,
			status            VARCHAR(32) NOT NULL,
			input_location    TEXT NOT NULL,
			output_location   TEXT NOT NULL DEFAULT '',
			error_detail      TEXT NOT NULL DEFAULT '',
			created_at        TIMESTAMPTZ NOT NULL,
			updated_at        TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_conversion_jobs_status_created ON conversion_jobs (status, created_at);
		CREATE INDEX IF NOT EXISTS idx_conversion_jobs_user_created ON conversion_jobs (user_id, created_at DESC, job_id DESC);
	`,
	"sqlite3": `
		CREATE TABLE IF NOT EXISTS conversion_jobs (
			job_id            TEXT PRIMARY KEY,
			user_id           TEXT NOT NULL,
			original_filename TEXT NOT NULL,
			content_type      TEXT NOT NULL,
			size_bytes        INTEGER NOT NULL,
			status            TEXT NOT NULL,
			input_location    TEXT NOT NULL,
			output_location   TEXT NOT NULL DEFAULT '',
			error_detail      TEXT NOT NULL DEFAULT '',
			created_at        TIMESTAMP NOT NULL,
			updated_at        TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_conversion_jobs_status_created ON conversion_jobs (status, created_at);
		CREATE INDEX IF NOT EXISTS idx_conversion_jobs_user_created ON conversion_jobs (user_id, created_at, job_id);
	`,
}

// Store is the Job Record Store, the source of truth for job status
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates a new Store instance
func NewStore(db *sqlx.DB, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC().Round(time.Microsecond) },
	}
}

// Migrate creates the conversion_jobs table when missing
func (s *Store) Migrate(ctx context.Context) error {
	schema, ok := schemas[s.db.DriverName()]
	if !ok {
		return fmt.Errorf("job store does not support driver %s", s.db.DriverName())
	}

	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate job store: %w", err)
		}
	}

	return nil
}

// Create inserts a new job record. CreatedAt/UpdatedAt are filled when zero.
func (s *Store) Create(ctx context.Context, job *domain.Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now()
	}
	job.CreatedAt = job.CreatedAt.UTC().Round(time.Microsecond)
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}

	query := s.db.Rebind(`
		INSERT INTO conversion_jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	_, err := s.db.ExecContext(ctx, query,
		job.ID,
		job.UserID,
		job.Filename,
		job.ContentType,
		job.SizeBytes,
		job.Status,
		job.InputLocation,
		job.OutputLocation,
		job.ErrorDetail,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return domain.NewTransientError("failed to create job", err)
	}

	s.logger.Debug("Job record created",
		slog.String("job_id", job.ID),
		slog.String("status", job.Status.String()),
	)

	return nil
}

// Get retrieves a job by its ID
func (s *Store) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	query := s.db.Rebind(`SELECT ` + jobColumns + ` FROM conversion_jobs WHERE job_id = ?`)

	var job domain.Job
	if err := s.db.GetContext(ctx, &job, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.NewTransientError("failed to get job", err)
	}

	return &job, nil
}

// Transition moves a job from one status to another with a compare-and-set on
// the current status. It returns applied=false when the row was not in `from`,
// so a concurrent second writer no-ops instead of overwriting.
func (s *Store) Transition(ctx context.Context, jobID string, from, to domain.Status, patch domain.TransitionPatch) (bool, error) {
	if err := domain.ValidateTransition(from, to); err != nil {
		return false, err
	}

	query := s.db.Rebind(`
		UPDATE conversion_jobs
		SET status = ?,
			output_location = COALESCE(NULLIF(?, ''), output_location),
			error_detail = COALESCE(NULLIF(?, ''), error_detail),
			updated_at = ?
		WHERE job_id = ?
		  AND status = ?
	`)

	result, err := s.db.ExecContext(ctx, query,
		to,
		patch.OutputLocation,
		patch.ErrorDetail,
		s.now(),
		jobID,
		from,
	)
	if err != nil {
		return false, domain.NewTransientError("failed to update job status", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, domain.NewTransientError("failed to get rows affected", err)
	}

	if rows == 0 {
		s.logger.Debug("Job status compare-and-set not applied",
			slog.String("job_id", jobID),
			slog.String("from", from.String()),
			slog.String("to", to.String()),
		)
		return false, nil
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", jobID),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
	)

	return true, nil
}

// Filter narrows List results
type Filter struct {
	UserID   string
	Status   domain.Status
	PageSize int
	Cursor   *Cursor
}

// Cursor is a keyset position for newest-first pagination
type Cursor struct {
	CreatedAt time.Time
	JobID     string
}

// List returns jobs newest first. It fetches one row more than PageSize so the
// caller can tell whether another page exists.
func (s *Store) List(ctx context.Context, filter Filter) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM conversion_jobs WHERE 1=1`
	args := []interface{}{}

	if filter.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, filter.UserID)
	}

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}

	if filter.Cursor != nil {
		query += " AND (created_at < ? OR (created_at = ? AND job_id < ?))"
		createdAt := filter.Cursor.CreatedAt.UTC()
		args = append(args, createdAt, createdAt, filter.Cursor.JobID)
	}

	query += " ORDER BY created_at DESC, job_id DESC LIMIT ?"
	args = append(args, filter.PageSize+1)

	var jobs []domain.Job
	if err := s.db.SelectContext(ctx, &jobs, s.db.Rebind(query), args...); err != nil {
		return nil, domain.NewTransientError("failed to list jobs", err)
	}

	return jobs, nil
}

// ListStale returns jobs that have been in status since before olderThan, oldest first
func (s *Store) ListStale(ctx context.Context, status domain.Status, olderThan time.Time, limit int) ([]domain.Job, error) {
	query := s.db.Rebind(`
		SELECT ` + jobColumns + `
		FROM conversion_jobs
		WHERE status = ? AND updated_at < ?
		ORDER BY updated_at ASC
		LIMIT ?
	`)

	var jobs []domain.Job
	if err := s.db.SelectContext(ctx, &jobs, query, status, olderThan.UTC(), limit); err != nil {
		return nil, domain.NewTransientError("failed to list stale jobs", err)
	}

	return jobs, nil
}
