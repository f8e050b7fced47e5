package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/media-converter/internal/api/router"
	"github.com/cuongbtq/media-converter/internal/auditlog"
	"github.com/cuongbtq/media-converter/internal/config"
	"github.com/cuongbtq/media-converter/internal/jobstore"
	"github.com/cuongbtq/media-converter/shared/database"
	sharedredis "github.com/cuongbtq/media-converter/shared/redis"
)

// Stores holds the Job Record Store and the Audit Log Store
type Stores struct {
	Jobs     *jobstore.Store
	Audit    auditlog.Store
	Recorder *auditlog.Recorder
	Health   map[string]router.HealthCheck

	closers []func() error
}

// OpenStores connects the job and audit stores, running migrations when enabled
func OpenStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Stores, error) {
	s := &Stores{Health: make(map[string]router.HealthCheck)}

	dbClient, err := database.NewClient(DatabaseConfig(&cfg.Database), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	s.closers = append(s.closers, dbClient.Close)
	s.Health["database"] = dbClient.HealthCheck

	s.Jobs = jobstore.NewStore(dbClient.GetDB(), logger.With(slog.String("component", "jobstore")))
	if cfg.Database.AutoMigrate {
		if err := s.Jobs.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
	}

	auditLogger := logger.With(slog.String("component", "auditlog"))

	switch cfg.Audit.Driver {
	case config.AuditDriverRedis:
		client, err := sharedredis.NewClient(ctx, &sharedredis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, logger)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to initialize audit store: %w", err)
		}
		s.Health["redis"] = sharedredis.HealthCheck(client)
		s.Audit = auditlog.NewRedisStore(client, cfg.Audit.StreamMaxLen, auditLogger)
		s.closers = append(s.closers, s.Audit.Close)
	default:
		// the audit table shares the job database unless audit.database is set
		auditDB := dbClient
		if cfg.Audit.Database.Driver != "" {
			auditDB, err = database.NewClient(DatabaseConfig(&cfg.Audit.Database), logger)
			if err != nil {
				s.Close()
				return nil, fmt.Errorf("failed to initialize audit database: %w", err)
			}
			s.closers = append(s.closers, auditDB.Close)
			s.Health["audit_database"] = auditDB.HealthCheck
		}

		sqlStore := auditlog.NewSQLStore(auditDB.GetDB(), auditLogger)
		if cfg.Database.AutoMigrate {
			if err := sqlStore.Migrate(ctx); err != nil {
				s.Close()
				return nil, err
			}
		}
		s.Audit = sqlStore
	}

	s.Recorder = auditlog.NewRecorder(s.Audit, cfg.Audit.RetryAttempts, cfg.Audit.RetryBackoff, auditLogger)

	return s, nil
}

// Close releases every connection in reverse order of opening
func (s *Stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// DatabaseConfig maps a database section onto the shared client configuration
func DatabaseConfig(cfg *config.DatabaseConfig) *database.Config {
	return &database.Config{
		Driver:          cfg.Driver,
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}
}
