// Package queue carries conversion tasks from submission to the worker pool
// with at-least-once delivery.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cuongbtq/media-converter/internal/domain"
	"github.com/google/uuid"
)

// ErrMalformedTask marks a payload that can never be processed
var ErrMalformedTask = errors.New("malformed task payload")

// Publisher durably enqueues tasks
type Publisher interface {
	Publish(ctx context.Context, task domain.Task) error
}

// Consumer streams deliveries until ctx is cancelled
type Consumer interface {
	Consume(ctx context.Context, consumerTag string) (<-chan Delivery, error)
}

// Delivery is one leased message. It must be acked or nacked exactly once;
// an unsettled delivery becomes visible again after its lease.
type Delivery struct {
	Task        domain.Task
	Redelivered bool
	// Err is set when the payload could not be decoded
	Err  error
	Body []byte

	ack  func() error
	nack func(requeue bool) error
}

// Ack settles the delivery as done
func (d Delivery) Ack() error {
	if d.ack == nil {
		return nil
	}
	return d.ack()
}

// Nack returns the delivery to the queue (requeue) or dead-letters it
func (d Delivery) Nack(requeue bool) error {
	if d.nack == nil {
		return nil
	}
	return d.nack(requeue)
}

// EncodeTask serializes a task as JSON
func EncodeTask(task domain.Task) ([]byte, error) {
	body, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task: %w", err)
	}
	return body, nil
}

// DecodeTask parses and validates a task payload
func DecodeTask(body []byte) (domain.Task, error) {
	var task domain.Task
	if err := json.Unmarshal(body, &task); err != nil {
		return domain.Task{}, fmt.Errorf("%w: %v", ErrMalformedTask, err)
	}

	if _, err := uuid.Parse(task.JobID); err != nil {
		return domain.Task{}, fmt.Errorf("%w: invalid job_id %q", ErrMalformedTask, task.JobID)
	}

	return task, nil
}
