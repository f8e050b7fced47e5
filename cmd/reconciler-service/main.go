package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/cuongbtq/media-converter/internal/bootstrap"
	"github.com/cuongbtq/media-converter/internal/jobstore"
	"github.com/cuongbtq/media-converter/internal/reconciler"
	"github.com/cuongbtq/media-converter/shared/database"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := bootstrap.LoadConfig("RECONCILER_SERVICE_CONFIG_PATH", "configs/reconciler-service/config.yaml")
	if err != nil {
		return err
	}

	if err := cfg.ValidateReconcilerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting reconciler service",
		slog.String("app", cfg.App.Name),
		slog.Duration("interval", cfg.Reconciler.Interval),
		slog.Duration("grace_period", cfg.Reconciler.GracePeriod),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workQueue, err := bootstrap.OpenQueue(cfg, appLogger.Logger)
	if err != nil {
		return err
	}
	defer workQueue.Close()

	if workQueue.InProcess {
		return fmt.Errorf("queue driver %q cannot be shared across processes, enable reconciler in the api-service instead", cfg.Queue.Driver)
	}

	// Only the job store is needed; the reconciler writes no audit events
	dbClient, err := database.NewClient(bootstrap.DatabaseConfig(&cfg.Database), appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	jobs := jobstore.NewStore(dbClient.GetDB(), appLogger.Component("jobstore"))

	rec := reconciler.New(jobs, workQueue.Publisher, reconciler.Config{
		Interval:    cfg.Reconciler.Interval,
		GracePeriod: cfg.Reconciler.GracePeriod,
		BatchSize:   cfg.Reconciler.BatchSize,
	}, appLogger.Component("reconciler"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rec.Run(gctx) })

	if cfg.Metrics.Enabled {
		g.Go(func() error {
			return bootstrap.ServeMetrics(gctx, cfg.Metrics.Port, appLogger.Logger)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	appLogger.Info("Reconciler service shutdown complete")
	return nil
}
