package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/calyxhealth/intake-engine/internal/config"
	"github.com/calyxhealth/intake-engine/internal/platform/postgres"
	"github.com/calyxhealth/intake-engine/internal/store"
	"github.com/calyxhealth/intake-engine/internal/task"
)

// application holds all the shared application dependencies to simplify
// management and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	// Stores (using interfaces for proper abstraction)
	taskStore   store.TaskStore
	workerStore store.WorkerStore

	// The orchestration engine and its sweep scheduler
	service *task.Service
	runner  *task.Runner
}

// newApplication creates a new application instance with all dependencies
// initialized. It accepts core dependencies like configuration, logger, and
// database connection that must be established before application
// initialization. The sweep runner is started here.
func newApplication(cfg *config.Config, logger *slog.Logger, db *sql.DB) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
		db:     db,
	}

	app.taskStore = postgres.NewPostgresTaskStore(db, logger)
	app.workerStore = postgres.NewPostgresWorkerStore(db, logger)

	txRunner := task.NewSQLTxRunner(db, app.taskStore, app.workerStore)

	app.service = task.NewService(app.taskStore, app.workerStore, txRunner, task.Config{
		MaxAttempts:    cfg.Queue.MaxAttempts,
		LivenessWindow: cfg.Queue.LivenessWindow,
		LeaseTimeout:   cfg.Queue.LeaseTimeout,
		SLAThreshold:   cfg.Queue.SLAThreshold,
		SweepBatchSize: cfg.Queue.SweepBatchSize,
	}, logger)

	app.runner = task.NewRunner(app.service, task.RunnerConfig{
		HeartbeatCheckInterval: cfg.Queue.HeartbeatCheckInterval,
		StuckSweepInterval:     cfg.Queue.StuckSweepInterval,
		SLASweepInterval:       cfg.Queue.SLASweepInterval,
	}, logger)
	app.runner.Start()

	logger.Info("Application initialized successfully",
		slog.Int("max_attempts", cfg.Queue.MaxAttempts),
		slog.Duration("liveness_window", cfg.Queue.LivenessWindow),
		slog.Duration("lease_timeout", cfg.Queue.LeaseTimeout))

	return app, nil
}

// Run starts the application server, handling lifecycle and cleanup.
// It returns an error if the server fails to start or encounters problems.
func (app *application) Run(ctx context.Context) error {
	router := app.setupRouter()

	if err := app.startHTTPServer(ctx, router); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// cleanup handles graceful shutdown of application resources. The sweep
// runner stops before the database closes so in-flight sweeps can finish
// their writes.
func (app *application) cleanup() {
	if app.runner != nil {
		app.runner.Stop()
	}

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("Error closing database connection", slog.Any("error", err))
		}
	}

	app.logger.Info("Application shutdown completed")
}
