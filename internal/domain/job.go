package domain

import "time"

// Job is the authoritative record of one conversion
type Job struct {
	ID             string    `db:"job_id" json:"job_id"`
	UserID         string    `db:"user_id" json:"user_id"`
	Filename       string    `db:"original_filename" json:"filename"`
	ContentType    string    `db:"content_type" json:"content_type"`
	SizeBytes      int64     `db:"size_bytes" json:"size_bytes"`
	Status         Status    `db:"status" json:"status"`
	InputLocation  string    `db:"input_location" json:"input_location"`
	OutputLocation string    `db:"output_location" json:"output_location,omitempty"`
	ErrorDetail    string    `db:"error_detail" json:"error_detail,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// TransitionPatch carries the fields written together with a status change
type TransitionPatch struct {
	OutputLocation string
	ErrorDetail    string
}

// Task is the queue payload. It only references the job; the Job Record Store
// stays the single source of truth for status.
type Task struct {
	JobID         string `json:"job_id"`
	InputLocation string `json:"input_location"`
}
