package worker

import (
	"context"
	"errors"
	"log/slog"

	"github.com/cuongbtq/media-converter/internal/metrics"
	"github.com/cuongbtq/media-converter/internal/queue"
)

// ErrDeliveriesClosed is returned when the queue stops delivering while the
// worker is still running
var ErrDeliveriesClosed = errors.New("delivery channel closed unexpectedly")

// startMessageDispatcher reads deliveries and hands them to the worker pool
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan queue.Delivery) error {
	w.logger.Info("Message dispatcher started",
		slog.String("worker_id", w.workerID),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return nil

		case <-w.stopChan:
			w.logger.Info("Message dispatcher stopped - stopChan closed")
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil || w.stopping() {
					w.logger.Info("Delivery channel closed during shutdown")
					return nil
				}
				w.logger.Error("Delivery channel closed")
				return ErrDeliveriesClosed
			}

			if delivery.Err != nil {
				w.logger.Error("Malformed task payload, dead-lettering",
					slog.Any("error", delivery.Err),
					slog.String("body", string(delivery.Body)),
				)
				// NACK without requeue - malformed messages go to the DLQ
				if err := delivery.Nack(false); err != nil {
					w.logger.Error("Failed to NACK malformed message",
						slog.Any("error", err),
					)
				}
				metrics.DeliveriesTotal.WithLabelValues(metrics.OutcomeDeadLettered).Inc()
				continue
			}

			select {
			case w.jobsChan <- delivery:
				w.logger.Debug("Job dispatched to worker pool",
					slog.String("job_id", delivery.Task.JobID),
				)
			case <-ctx.Done():
				w.logger.Info("Message dispatcher stopped while dispatching job")
				if err := delivery.Nack(true); err != nil {
					w.logger.Error("Failed to NACK message on shutdown",
						slog.Any("error", err),
					)
				}
				return nil
			case <-w.stopChan:
				if err := delivery.Nack(true); err != nil {
					w.logger.Error("Failed to NACK message on shutdown",
						slog.Any("error", err),
					)
				}
				return nil
			}
		}
	}
}

func (w *Worker) stopping() bool {
	select {
	case <-w.stopChan:
		return true
	default:
		return false
	}
}
