package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/cuongbtq/media-converter/internal/bootstrap"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := bootstrap.LoadConfig("WORKER_SERVICE_CONFIG_PATH", "configs/worker-service/config.yaml")
	if err != nil {
		return err
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := bootstrap.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workQueue, err := bootstrap.OpenQueue(cfg, appLogger.Logger)
	if err != nil {
		return err
	}
	defer workQueue.Close()

	if workQueue.InProcess {
		return fmt.Errorf("queue driver %q cannot be shared across processes, run the api-service instead", cfg.Queue.Driver)
	}

	stores, err := bootstrap.OpenStores(ctx, cfg, appLogger.Logger)
	if err != nil {
		return err
	}
	defer stores.Close()

	media, err := bootstrap.OpenMedia(cfg, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize media store: %w", err)
	}

	workerInstance, cleanup, err := bootstrap.NewWorker(cfg, stores, workQueue.Consumer, media, appLogger.Logger)
	if err != nil {
		return err
	}
	defer cleanup()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// a closed queue ends the pool; bring the rest of the service down with it
		defer stop()
		return workerInstance.Start(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("Received shutdown signal, stopping worker gracefully")
		workerInstance.Stop()
		return nil
	})

	if cfg.Metrics.Enabled {
		g.Go(func() error {
			return bootstrap.ServeMetrics(gctx, cfg.Metrics.Port, appLogger.Logger)
		})
	}

	appLogger.Info("Worker service started successfully")

	if err := g.Wait(); err != nil {
		appLogger.Error("Worker error", slog.Any("error", err))
		return err
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}
