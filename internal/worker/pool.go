package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/media-converter/internal/metrics"
	"github.com/cuongbtq/media-converter/internal/queue"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop processes deliveries one at a time until jobsChan closes
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Debug("Worker goroutine started", slog.String("worker_name", workerName))

	for delivery := range w.jobsChan {
		w.handle(ctx, workerName, delivery)
	}

	w.logger.Debug("Worker goroutine stopping - jobsChan closed",
		slog.String("worker_name", workerName),
	)
}

// handle runs the processor and settles the delivery. The job state is
// always committed before the ack.
func (w *Worker) handle(ctx context.Context, workerName string, delivery queue.Delivery) {
	jobID := delivery.Task.JobID

	w.logger.Info("Worker received job",
		slog.String("worker_name", workerName),
		slog.String("job_id", jobID),
		slog.Bool("redelivered", delivery.Redelivered),
	)

	outcome, err := w.processor.Process(ctx, delivery.Task, delivery.Redelivered)
	if err != nil {
		w.logger.Error("Job processing failed",
			slog.String("worker_name", workerName),
			slog.String("job_id", jobID),
			slog.String("outcome", outcome.String()),
			slog.Any("error", err),
		)
	}

	var settleErr error
	if outcome == OutcomeRequeue {
		settleErr = delivery.Nack(true)
	} else {
		settleErr = delivery.Ack()
	}

	if settleErr != nil {
		// The broker will redeliver; the idempotency guard absorbs the duplicate
		w.logger.Error("Failed to settle delivery",
			slog.String("worker_name", workerName),
			slog.String("job_id", jobID),
			slog.String("outcome", outcome.String()),
			slog.Any("error", settleErr),
		)
		return
	}

	metrics.DeliveriesTotal.WithLabelValues(outcome.String()).Inc()
}
