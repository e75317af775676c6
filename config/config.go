package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// Config is the process configuration, loaded from the environment the same
// way the teacher loads it (caarlos0/env + go-playground/validator), but
// with a different failure discipline for the engine/executor tunables:
// spec.md §6 treats an out-of-range tunable as a configuration mistake to
// warn about and clamp, not a reason to refuse to start a scheduler that
// may already have tasks waiting to fire. Required fields (DatabaseURL,
// Env, LogLevel) keep the teacher's fail-fast validation — those have no
// sane default to snap to.
type Config struct {
	Env  string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`
	Port string `env:"PORT" envDefault:"8080" validate:"required"`

	DatabaseURL string `env:"DATABASE_URL,required" validate:"required"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info" validate:"required,oneof=debug info warn error"`

	// JWTSecret authenticates the operator HTTP surface (spec.md §9.6).
	JWTSecret string `env:"JWT_SECRET"`

	// Engine tunables (spec.md §4.4).
	SweepIntervalSec        int `env:"SWEEP_INTERVAL_SEC" envDefault:"60"`
	ExecutionToleranceSec   int `env:"EXECUTION_TOLERANCE_SEC" envDefault:"30"`
	HealthCheckIntervalSec  int `env:"HEALTH_CHECK_INTERVAL_SEC" envDefault:"300"`
	TimerCleanupIntervalSec int `env:"TIMER_CLEANUP_INTERVAL_SEC" envDefault:"600"`
	MaxTimerDriftSec        int `env:"MAX_TIMER_DRIFT_SEC" envDefault:"120"`
	MaxConcurrentExecutions int `env:"MAX_CONCURRENT_EXECUTIONS" envDefault:"5"`

	// Executor tunables (spec.md §4.5).
	MaxConcurrentTasks         int `env:"MAX_CONCURRENT_TASKS" envDefault:"3"`
	DefaultTimeoutSec          int `env:"DEFAULT_TIMEOUT_SEC" envDefault:"300"`
	MaxRetries                 int `env:"MAX_RETRIES" envDefault:"3"`
	RetryDelayBaseMillis       int `env:"RETRY_DELAY_BASE_MILLIS" envDefault:"1000"`
	RetryDelayMaxMillis        int `env:"RETRY_DELAY_MAX_MILLIS" envDefault:"30000"`
	QueueTimeoutSec            int `env:"QUEUE_TIMEOUT_SEC" envDefault:"600"`
	GracefulShutdownTimeoutSec int `env:"GRACEFUL_SHUTDOWN_TIMEOUT_SEC" envDefault:"30"`
}

// bound describes a tunable's allowed range and where to report a violation.
type bound struct {
	name     string
	value    *int
	min, max int
}

// Load parses and validates configuration, snapping any out-of-range
// tunable to its nearest bound and returning the list of warnings produced
// so the caller can log them (spec.md §6: "snap to the nearest bound and
// emit a warning, rather than refusing to start").
func Load() (*Config, []string, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	warnings := cfg.snapToBounds()
	return cfg, warnings, nil
}

func (c *Config) snapToBounds() []string {
	bounds := []bound{
		{"SWEEP_INTERVAL_SEC", &c.SweepIntervalSec, 1, 3600},
		{"EXECUTION_TOLERANCE_SEC", &c.ExecutionToleranceSec, 0, 600},
		{"HEALTH_CHECK_INTERVAL_SEC", &c.HealthCheckIntervalSec, 10, 3600},
		{"TIMER_CLEANUP_INTERVAL_SEC", &c.TimerCleanupIntervalSec, 10, 3600},
		{"MAX_TIMER_DRIFT_SEC", &c.MaxTimerDriftSec, 1, 3600},
		{"MAX_CONCURRENT_EXECUTIONS", &c.MaxConcurrentExecutions, 1, 1000},
		{"MAX_CONCURRENT_TASKS", &c.MaxConcurrentTasks, 1, 1000},
		{"DEFAULT_TIMEOUT_SEC", &c.DefaultTimeoutSec, 1, 3600},
		{"MAX_RETRIES", &c.MaxRetries, 0, 20},
		{"RETRY_DELAY_BASE_MILLIS", &c.RetryDelayBaseMillis, 10, 60000},
		{"RETRY_DELAY_MAX_MILLIS", &c.RetryDelayMaxMillis, 100, 600000},
		{"QUEUE_TIMEOUT_SEC", &c.QueueTimeoutSec, 1, 3600},
		{"GRACEFUL_SHUTDOWN_TIMEOUT_SEC", &c.GracefulShutdownTimeoutSec, 1, 600},
	}

	var warnings []string
	for _, b := range bounds {
		if *b.value < b.min {
			warnings = append(warnings, fmt.Sprintf("%s=%d below minimum %d, snapped to %d", b.name, *b.value, b.min, b.min))
			*b.value = b.min
		} else if *b.value > b.max {
			warnings = append(warnings, fmt.Sprintf("%s=%d above maximum %d, snapped to %d", b.name, *b.value, b.max, b.max))
			*b.value = b.max
		}
	}
	return warnings
}

// SlogLevel converts the LOG_LEVEL string to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSec) * time.Second
}

func (c *Config) ExecutionTolerance() time.Duration {
	return time.Duration(c.ExecutionToleranceSec) * time.Second
}

func (c *Config) HealthCheckInterval() time.Duration {
	return time.Duration(c.HealthCheckIntervalSec) * time.Second
}

func (c *Config) TimerCleanupInterval() time.Duration {
	return time.Duration(c.TimerCleanupIntervalSec) * time.Second
}

func (c *Config) MaxTimerDrift() time.Duration {
	return time.Duration(c.MaxTimerDriftSec) * time.Second
}

func (c *Config) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutSec) * time.Second
}

func (c *Config) RetryDelayBase() time.Duration {
	return time.Duration(c.RetryDelayBaseMillis) * time.Millisecond
}

func (c *Config) RetryDelayMax() time.Duration {
	return time.Duration(c.RetryDelayMaxMillis) * time.Millisecond
}

func (c *Config) QueueTimeout() time.Duration {
	return time.Duration(c.QueueTimeoutSec) * time.Second
}

func (c *Config) GracefulShutdownTimeout() time.Duration {
	return time.Duration(c.GracefulShutdownTimeoutSec) * time.Second
}
