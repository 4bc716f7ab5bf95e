package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Queue    QueueConfig    `mapstructure:"queue" validate:"required"`
}

// ServerConfig contains all HTTP server related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

// QueueConfig contains the orchestration engine's tunables. The engine's
// timers are deliberately configuration rather than constants; the defaults
// in Load are operational starting points, not contract.
type QueueConfig struct {
	// MaxAttempts is the retry budget: a task whose failure count reaches
	// this value is dead-lettered.
	MaxAttempts int `mapstructure:"max_attempts" validate:"required,gt=0"`

	// HeartbeatCheckInterval is how often the heartbeat monitor sweeps the
	// worker registry.
	HeartbeatCheckInterval time.Duration `mapstructure:"heartbeat_check_interval" validate:"required,gt=0"`

	// LivenessWindow is how long a worker may go silent before the tasks it
	// holds are considered lost.
	LivenessWindow time.Duration `mapstructure:"liveness_window" validate:"required,gt=0"`

	// StuckSweepInterval is how often the stuck-task sweep runs.
	StuckSweepInterval time.Duration `mapstructure:"stuck_sweep_interval" validate:"required,gt=0"`

	// LeaseTimeout is how long a claimed task may sit without any mutation
	// before the stuck-task sweep reclaims it. Must be strictly longer than
	// LivenessWindow: the sweep is the backstop for heartbeat losses the
	// monitor missed, so it must always fire later.
	LeaseTimeout time.Duration `mapstructure:"lease_timeout" validate:"required,gt=0"`

	// SLASweepInterval is how often the SLA escalator runs.
	SLASweepInterval time.Duration `mapstructure:"sla_sweep_interval" validate:"required,gt=0"`

	// SLAThreshold is how long an unclaimed task may age before its
	// priority is promoted to high.
	SLAThreshold time.Duration `mapstructure:"sla_threshold" validate:"required,gt=0"`

	// SweepBatchSize caps how many expired leases a single sweep pass
	// recovers.
	SweepBatchSize int `mapstructure:"sweep_batch_size" validate:"required,gt=0"`
}
