// Package auditlog keeps the append-only history of job lifecycle events.
// It is a projection of the Job Record Store and is never consulted for
// current status.
package auditlog

import (
	"context"

	"github.com/cuongbtq/media-converter/internal/domain"
)

// Store appends and reads audit entries
type Store interface {
	Append(ctx context.Context, entry domain.AuditEntry) error
	ListByJob(ctx context.Context, jobID string) ([]domain.AuditEntry, error)
	Close() error
}
