package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is returned when an upload is rejected before any state is created
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound is returned for an unknown job
	ErrNotFound = errors.New("job not found")

	// ErrNotReady is returned when the job has not finished converting
	ErrNotReady = errors.New("job not ready")

	// ErrConversionFailed is returned when the job terminated in FAILED
	ErrConversionFailed = errors.New("conversion failed")

	// ErrTransientInfrastructure is returned when a store or the queue is unavailable
	ErrTransientInfrastructure = errors.New("transient infrastructure failure")

	// ErrInvalidTransition is returned when a status change violates the state machine
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ConversionFailedError carries the converter diagnostic
type ConversionFailedError struct {
	Detail string
}

func (e *ConversionFailedError) Error() string {
	return "conversion failed: " + e.Detail
}

func (e *ConversionFailedError) Is(target error) bool {
	return target == ErrConversionFailed
}

// NewConversionFailed creates a ConversionFailedError
func NewConversionFailed(format string, args ...any) error {
	return &ConversionFailedError{Detail: fmt.Sprintf(format, args...)}
}

// TransientError wraps store and queue errors that should be retried by redelivery
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

func (e *TransientError) Is(target error) bool {
	return target == ErrTransientInfrastructure
}

// NewTransientError wraps err as a transient infrastructure failure
func NewTransientError(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// TransitionError describes a rejected status change
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
