package auditlog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/media-converter/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var sqlSchemas = map[string]string{
	"postgres": `
		CREATE TABLE IF NOT EXISTS job_events (
			seq        BIGSERIAL PRIMARY KEY,
			event_id   VARCHAR(64) NOT NULL UNIQUE,
			job_id     VARCHAR(64) NOT NULL,
			event      VARCHAR(32) NOT NULL,
			detail     TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_job_events_job ON job_events (job_id, seq);
	`,
	"mysql": `
		CREATE TABLE IF NOT EXISTS job_events (
			seq        BIGINT AUTO_INCREMENT PRIMARY KEY,
			event_id   VARCHAR(64) NOT NULL UNIQUE,
			job_id     VARCHAR(64) NOT NULL,
			event      VARCHAR(32) NOT NULL,
			detail     TEXT NOT NULL,
			created_at DATETIME(6) NOT NULL,
			INDEX idx_job_events_job (job_id, seq)
		);
	`,
	"sqlite3": `
		CREATE TABLE IF NOT EXISTS job_events (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id   TEXT NOT NULL UNIQUE,
			job_id     TEXT NOT NULL,
			event      TEXT NOT NULL,
			detail     TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_job_events_job ON job_events (job_id, seq);
	`,
}

// SQLStore persists audit entries in the job_events table
type SQLStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewSQLStore creates a new SQLStore instance
func NewSQLStore(db *sqlx.DB, logger *slog.Logger) *SQLStore {
	return &SQLStore{db: db, logger: logger}
}

// Migrate creates the job_events table when missing
func (s *SQLStore) Migrate(ctx context.Context) error {
	schema, ok := sqlSchemas[s.db.DriverName()]
	if !ok {
		return fmt.Errorf("audit store does not support driver %s", s.db.DriverName())
	}

	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate audit store: %w", err)
		}
	}

	return nil
}

// Append inserts one entry. ID and CreatedAt are filled when empty.
func (s *SQLStore) Append(ctx context.Context, entry domain.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	query := s.db.Rebind(`
		INSERT INTO job_events (event_id, job_id, event, detail, created_at)
		VALUES (?, ?, ?, ?, ?)
	`)

	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		entry.JobID,
		entry.Event,
		entry.Detail,
		entry.CreatedAt.UTC().Round(time.Microsecond),
	)
	if err != nil {
		return domain.NewTransientError("failed to append audit entry", err)
	}

	return nil
}

// ListByJob returns a job's entries in append order
func (s *SQLStore) ListByJob(ctx context.Context, jobID string) ([]domain.AuditEntry, error) {
	query := s.db.Rebind(`
		SELECT event_id, job_id, event, detail, created_at
		FROM job_events
		WHERE job_id = ?
		ORDER BY seq ASC
	`)

	entries := []domain.AuditEntry{}
	if err := s.db.SelectContext(ctx, &entries, query, jobID); err != nil {
		return nil, domain.NewTransientError("failed to list audit entries", err)
	}

	return entries, nil
}

// Close closes the underlying connection pool
func (s *SQLStore) Close() error {
	return s.db.Close()
}
