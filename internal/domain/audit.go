package domain

import "time"

// AuditEvent names a lifecycle fact recorded in the audit log
type AuditEvent string

const (
	AuditQueued     AuditEvent = "QUEUED"
	AuditProcessing AuditEvent = "PROCESSING"
	AuditCompleted  AuditEvent = "COMPLETED"
	AuditFailed     AuditEvent = "FAILED"
	// AuditAnomaly records a rejected transition attempt
	AuditAnomaly AuditEvent = "ANOMALY"
)

// AuditEventFor maps a status to the event written when a job enters it
func AuditEventFor(s Status) AuditEvent {
	return AuditEvent(s)
}

// AuditEntry is an immutable lifecycle fact
type AuditEntry struct {
	ID        string     `db:"event_id" json:"event_id"`
	JobID     string     `db:"job_id" json:"job_id"`
	Event     AuditEvent `db:"event" json:"event"`
	Detail    string     `db:"detail" json:"detail,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}
