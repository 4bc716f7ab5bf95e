package task

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RunnerConfig holds the schedules for the background sweeps.
type RunnerConfig struct {
	// HeartbeatCheckInterval is how often the heartbeat monitor runs.
	// If zero, defaults to 30 seconds.
	HeartbeatCheckInterval time.Duration

	// StuckSweepInterval is how often the stuck-task sweep runs.
	// If zero, defaults to 5 minutes.
	StuckSweepInterval time.Duration

	// SLASweepInterval is how often the SLA escalator runs.
	// If zero, defaults to 15 minutes.
	SLASweepInterval time.Duration
}

// DefaultRunnerConfig returns a RunnerConfig with reasonable defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		HeartbeatCheckInterval: 30 * time.Second,
		StuckSweepInterval:     5 * time.Minute,
		SLASweepInterval:       15 * time.Minute,
	}
}

// Runner drives the three recovery sweeps on independent schedules,
// concurrently with each other and with live claim/ACK/FAIL traffic. The
// sweeps are deliberately redundant: the heartbeat monitor reacts fast to
// silent workers, the stuck-task sweep backstops it from the task rows
// themselves, and the SLA escalator handles starvation independent of
// failures.
type Runner struct {
	service    *Service
	config     RunnerConfig
	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	logger     *slog.Logger
}

// NewRunner creates a Runner for the given engine.
// If logger is nil, a default logger will be used.
func NewRunner(service *Service, config RunnerConfig, logger *slog.Logger) *Runner {
	if config.HeartbeatCheckInterval == 0 {
		config.HeartbeatCheckInterval = 30 * time.Second
	}
	if config.StuckSweepInterval == 0 {
		config.StuckSweepInterval = 5 * time.Minute
	}
	if config.SLASweepInterval == 0 {
		config.SLASweepInterval = 15 * time.Minute
	}

	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Runner{
		service:    service,
		config:     config,
		ctx:        ctx,
		cancelFunc: cancel,
		logger:     logger.With(slog.String("component", "sweep_runner")),
	}
}

// Start launches the three sweep goroutines.
func (r *Runner) Start() {
	r.wg.Add(3)
	go r.loop("heartbeat_monitor", r.config.HeartbeatCheckInterval, func(ctx context.Context) {
		count, err := r.service.RecoverLostWorkers(ctx)
		if err != nil {
			r.logger.Error("heartbeat monitor sweep failed", "error", err)
			return
		}
		if count > 0 {
			r.logger.Info("recovered tasks from lost workers", "count", count)
		}
	})
	go r.loop("stuck_task_sweep", r.config.StuckSweepInterval, func(ctx context.Context) {
		count, err := r.service.SweepStuckTasks(ctx)
		if err != nil {
			r.logger.Error("stuck-task sweep failed", "error", err)
			return
		}
		if count > 0 {
			r.logger.Info("recovered stuck tasks", "count", count)
		}
	})
	go r.loop("sla_escalator", r.config.SLASweepInterval, func(ctx context.Context) {
		if _, err := r.service.EscalateAgedTasks(ctx); err != nil {
			r.logger.Error("SLA escalation sweep failed", "error", err)
		}
	})

	r.logger.Info("sweep runner started",
		"heartbeat_check_interval", r.config.HeartbeatCheckInterval.String(),
		"stuck_sweep_interval", r.config.StuckSweepInterval.String(),
		"sla_sweep_interval", r.config.SLASweepInterval.String())
}

// Stop gracefully shuts down the runner, waiting for in-flight sweeps to
// finish.
func (r *Runner) Stop() {
	r.cancelFunc()
	r.wg.Wait()
	r.logger.Info("sweep runner stopped")
}

// loop runs fn on every tick until the runner is stopped.
func (r *Runner) loop(name string, interval time.Duration, fn func(ctx context.Context)) {
	defer r.wg.Done()

	r.logger.Debug("starting sweep loop", "sweep", name, "interval", interval.String())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			r.logger.Debug("stopping sweep loop", "sweep", name)
			return
		case <-ticker.C:
			fn(r.ctx)
		}
	}
}
