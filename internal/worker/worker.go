package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/media-converter/internal/queue"
)

// Config holds worker configuration
type Config struct {
	Logger          *slog.Logger
	Consumer        queue.Consumer
	Processor       *Processor
	WorkerID        string
	Concurrency     int
	ShutdownTimeout time.Duration
}

// Worker is the Conversion Worker Pool: one dispatcher feeding N goroutines
type Worker struct {
	logger          *slog.Logger
	consumer        queue.Consumer
	processor       *Processor
	workerID        string
	concurrency     int
	shutdownTimeout time.Duration
	jobsChan        chan queue.Delivery
	wg              sync.WaitGroup
	stopChan        chan struct{}
	stopOnce        sync.Once
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	return &Worker{
		logger:          cfg.Logger,
		consumer:        cfg.Consumer,
		processor:       cfg.Processor,
		workerID:        cfg.WorkerID,
		concurrency:     concurrency,
		shutdownTimeout: cfg.ShutdownTimeout,
		jobsChan:        make(chan queue.Delivery),
		stopChan:        make(chan struct{}),
	}
}

// Start consumes deliveries and processes them until ctx is cancelled or Stop
// is called. It returns after every worker goroutine has exited, with
// ErrDeliveriesClosed if the queue stopped delivering first.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
	)

	deliveries, err := w.consumer.Consume(ctx, w.workerID)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	w.spawnWorkerPool(ctx)
	dispatchErr := w.startMessageDispatcher(ctx, deliveries)

	close(w.jobsChan)
	w.wg.Wait()

	if dispatchErr != nil {
		return fmt.Errorf("worker %s stopped: %w", w.workerID, dispatchErr)
	}

	w.logger.Info("Worker stopped", slog.String("worker_id", w.workerID))
	return nil
}

// Stop signals idle goroutines to exit and waits up to the shutdown timeout.
// In-flight tasks finish through context cancellation.
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	if w.shutdownTimeout <= 0 {
		<-done
		return
	}

	select {
	case <-done:
		w.logger.Info("Worker goroutines drained")
	case <-time.After(w.shutdownTimeout):
		w.logger.Warn("Worker shutdown timed out, unacked deliveries will be redelivered",
			slog.Duration("timeout", w.shutdownTimeout),
		)
	}
}
