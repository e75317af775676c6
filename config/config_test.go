package config_test

import (
	"strings"
	"testing"

	"github.com/ErlanBelekov/recurring-action-scheduler/config"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("ENV", "local")
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("LOG_LEVEL", "info")
}

func TestLoad_AppliesDefaults(t *testing.T) {
	setRequired(t)

	cfg, warnings, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("warnings = %v, want none for default values", warnings)
	}
	if cfg.MaxConcurrentTasks != 3 {
		t.Errorf("MaxConcurrentTasks = %d, want default 3", cfg.MaxConcurrentTasks)
	}
}

func TestLoad_MissingDatabaseURL_Fails(t *testing.T) {
	t.Setenv("ENV", "local")
	t.Setenv("LOG_LEVEL", "info")

	if _, _, err := config.Load(); err == nil {
		t.Fatal("expected an error when DATABASE_URL is missing")
	}
}

func TestLoad_OutOfRangeTunable_SnapsWithWarning(t *testing.T) {
	setRequired(t)
	t.Setenv("MAX_CONCURRENT_TASKS", "0")
	t.Setenv("MAX_RETRIES", "100")

	cfg, warnings, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxConcurrentTasks != 1 {
		t.Errorf("MaxConcurrentTasks = %d, want snapped to 1", cfg.MaxConcurrentTasks)
	}
	if cfg.MaxRetries != 20 {
		t.Errorf("MaxRetries = %d, want snapped to 20", cfg.MaxRetries)
	}
	if len(warnings) != 2 {
		t.Fatalf("warnings = %v, want 2", warnings)
	}
	if !strings.Contains(warnings[0], "MAX_CONCURRENT_TASKS") && !strings.Contains(warnings[1], "MAX_CONCURRENT_TASKS") {
		t.Errorf("expected a warning naming MAX_CONCURRENT_TASKS, got %v", warnings)
	}
}

func TestLoad_DurationHelpersConvertUnits(t *testing.T) {
	setRequired(t)
	t.Setenv("SWEEP_INTERVAL_SEC", "45")
	t.Setenv("RETRY_DELAY_BASE_MILLIS", "250")

	cfg, _, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SweepInterval().Seconds() != 45 {
		t.Errorf("SweepInterval() = %v, want 45s", cfg.SweepInterval())
	}
	if cfg.RetryDelayBase().Milliseconds() != 250 {
		t.Errorf("RetryDelayBase() = %v, want 250ms", cfg.RetryDelayBase())
	}
}
