package bootstrap

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/cuongbtq/media-converter/internal/config"
	"github.com/cuongbtq/media-converter/internal/mediastore"
	"github.com/cuongbtq/media-converter/internal/queue"
	"github.com/cuongbtq/media-converter/internal/worker"
	"github.com/google/uuid"
)

// NewWorker assembles the Conversion Worker Pool. The returned cleanup
// releases the converter.
func NewWorker(cfg *config.Config, stores *Stores, consumer queue.Consumer, media *mediastore.Store, logger *slog.Logger) (*worker.Worker, func() error, error) {
	conv, cleanup, err := NewConverter(&cfg.Converter, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize converter: %w", err)
	}

	workerID := WorkerID(cfg.Worker.ID)
	workerLogger := logger.With(slog.String("worker_id", workerID))

	processor := worker.NewProcessor(stores.Jobs, stores.Recorder, conv, media, workerLogger)

	return worker.NewWorker(&worker.Config{
		Logger:          workerLogger,
		Consumer:        consumer,
		Processor:       processor,
		WorkerID:        workerID,
		Concurrency:     cfg.Worker.Concurrency,
		ShutdownTimeout: cfg.Worker.ShutdownTimeout,
	}), cleanup, nil
}

// WorkerID returns id, or hostname plus a random suffix when id is empty
func WorkerID(id string) string {
	if id != "" {
		return id
	}

	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return host + "-" + uuid.NewString()[:8]
}
