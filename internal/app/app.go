// Package app provides application initialization and dependency wiring.
//
// App is the container that constructs the storage, recording, and
// read-side components in dependency order and owns their teardown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chronicle-bot/chronicle/db"
	"github.com/chronicle-bot/chronicle/internal/config"
	"github.com/chronicle-bot/chronicle/internal/log"
	"github.com/chronicle-bot/chronicle/internal/metrics"
	"github.com/chronicle-bot/chronicle/internal/reconcile"
	"github.com/chronicle-bot/chronicle/internal/recorder"
	"github.com/chronicle-bot/chronicle/internal/store"
	"github.com/chronicle-bot/chronicle/internal/view"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	DBPool     *pgxpool.Pool
	Store      *store.Store
	Recorder   *recorder.Recorder
	Reconciler *reconcile.Reconciler
	Scheduler  *reconcile.Scheduler
	Aggregator *view.Aggregator
}

// Setup creates and initializes the application.
// Returns an App with embedded cleanup — call Close() to release.
func Setup(ctx context.Context, cfg *config.Config) (_ *App, retErr error) {
	logger := log.New(log.Config{Level: log.ParseLevel(cfg.LogLevel), JSON: cfg.LogJSON})

	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	metrics.Init()

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool

	st, err := store.New(pool, logger)
	if err != nil {
		return nil, fmt.Errorf("creating store: %w", err)
	}
	a.Store = st

	a.Recorder = recorder.New(st, st, logger)

	a.Reconciler = reconcile.New(st, st, logger,
		reconcile.WithThresholds(cfg.IdleTimeout, cfg.EmptyTimeout))
	a.Scheduler = reconcile.NewSchedulerWithInterval(a.Reconciler, cfg.SweepInterval, logger)

	a.Aggregator = view.New(st, st, logger)

	return a, nil
}

// Close gracefully shuts down all resources.
func (a *App) Close() error {
	if a.Logger != nil {
		a.Logger.Info("shutting down application")
	}

	if a.DBPool != nil {
		a.DBPool.Close()
		if a.Logger != nil {
			a.Logger.Info("database pool closed")
		}
	}

	return nil
}

// provideDBPool creates a PostgreSQL connection pool and runs migrations.
// Pool is configured with sensible defaults for connection management.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	slog.Debug("database pool ready",
		"host", cfg.PostgresHost, "database", cfg.PostgresDBName)
	return pool, nil
}
