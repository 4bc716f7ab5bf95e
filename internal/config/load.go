package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// envPrefix is the prefix for configuration environment variables, e.g.
// INTAKE_SERVER_PORT or INTAKE_QUEUE_MAX_ATTEMPTS.
const envPrefix = "INTAKE"

// Load reads configuration from environment variables and an optional
// config.yaml in the working directory. Environment variables take
// precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; env vars and defaults cover it.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	// The lease timeout backstops heartbeat recovery, so it must fire
	// strictly later than the liveness window.
	if cfg.Queue.LeaseTimeout <= cfg.Queue.LivenessWindow {
		return nil, fmt.Errorf(
			"config validation failed: queue.lease_timeout (%s) must be longer than queue.liveness_window (%s)",
			cfg.Queue.LeaseTimeout, cfg.Queue.LivenessWindow,
		)
	}

	return &cfg, nil
}

// setDefaults registers the default value for every key so AutomaticEnv can
// resolve them without a config file present.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("database.url", "")

	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.heartbeat_check_interval", "30s")
	v.SetDefault("queue.liveness_window", "2m")
	v.SetDefault("queue.stuck_sweep_interval", "5m")
	v.SetDefault("queue.lease_timeout", "10m")
	v.SetDefault("queue.sla_sweep_interval", "15m")
	v.SetDefault("queue.sla_threshold", "30m")
	v.SetDefault("queue.sweep_batch_size", 100)
}
