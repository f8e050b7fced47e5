package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/cuongbtq/media-converter/internal/api/handler"
	"github.com/cuongbtq/media-converter/internal/api/router"
	"github.com/cuongbtq/media-converter/internal/bootstrap"
	"github.com/cuongbtq/media-converter/internal/config"
	"github.com/cuongbtq/media-converter/internal/reconciler"
	"github.com/cuongbtq/media-converter/internal/retrieval"
	"github.com/cuongbtq/media-converter/internal/submission"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := bootstrap.LoadConfig("API_SERVICE_CONFIG_PATH", "configs/api-service/config.yaml")
	if err != nil {
		return err
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := bootstrap.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, err := bootstrap.OpenStores(ctx, cfg, appLogger.Logger)
	if err != nil {
		return err
	}
	defer stores.Close()

	workQueue, err := bootstrap.OpenQueue(cfg, appLogger.Logger)
	if err != nil {
		return err
	}
	defer workQueue.Close()

	media, err := bootstrap.OpenMedia(cfg, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize media store: %w", err)
	}

	codec, err := bootstrap.Codec(&cfg.Converter)
	if err != nil {
		return err
	}

	submitter := submission.NewService(stores.Jobs, media, stores.Recorder, workQueue.Publisher, submission.Config{
		MaxUploadBytes:      cfg.Upload.MaxBytes,
		AllowedContentTypes: cfg.Upload.AllowedContentTypes,
		MaxConcurrent:       cfg.Upload.MaxConcurrent,
	}, appLogger.Component("submission"))

	retriever := retrieval.NewService(stores.Jobs, stores.Audit, media, codec.ContentType(), appLogger.Component("retrieval"))

	healthChecks := map[string]router.HealthCheck{"queue": workQueue.Health}
	for name, check := range stores.Health {
		healthChecks[name] = check
	}

	// Initialize router
	engine := initRouter(cfg, appLogger.Logger, submitter, retriever, healthChecks)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router.WithCORS(engine, cfg.Server.AllowedOrigins),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		appLogger.Info("Starting HTTP server",
			slog.String("address", addr),
			slog.Duration("read_timeout", cfg.Server.ReadTimeout),
			slog.Duration("write_timeout", cfg.Server.WriteTimeout),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("Server forced to shutdown", slog.Any("error", err))
			return err
		}
		return nil
	})

	// The memory queue only reaches consumers in this process, so the worker
	// pool and reconciler run alongside the HTTP server.
	if workQueue.InProcess {
		appLogger.Warn("Using in-process queue, running embedded worker pool")

		w, cleanup, err := bootstrap.NewWorker(cfg, stores, workQueue.Consumer, media, appLogger.Logger)
		if err != nil {
			return err
		}
		defer cleanup()

		g.Go(func() error {
			defer stop()
			return w.Start(gctx)
		})
		g.Go(func() error {
			<-gctx.Done()
			w.Stop()
			return nil
		})

		if cfg.Reconciler.Enabled {
			rec := reconciler.New(stores.Jobs, workQueue.Publisher, reconciler.Config{
				Interval:    cfg.Reconciler.Interval,
				GracePeriod: cfg.Reconciler.GracePeriod,
				BatchSize:   cfg.Reconciler.BatchSize,
			}, appLogger.Component("reconciler"))
			g.Go(func() error { return rec.Run(gctx) })
		}
	}

	appLogger.Info("API service is running", slog.String("address", addr))

	if err := g.Wait(); err != nil {
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, logger *slog.Logger, submitter handler.Submitter, retriever handler.Retriever, checks map[string]router.HealthCheck) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	var limiter *rate.Limiter
	if cfg.Upload.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Upload.RatePerSecond), cfg.Upload.Burst)
	}

	return router.SetupRouter(&handler.Dependencies{
		Logger:         logger,
		Submitter:      submitter,
		Retriever:      retriever,
		MaxUploadBytes: cfg.Upload.MaxBytes,
	}, router.Options{
		ServiceName:    cfg.App.Name,
		HealthChecks:   checks,
		UploadLimiter:  limiter,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MetricsEnabled: cfg.Metrics.Enabled,
	})
}
