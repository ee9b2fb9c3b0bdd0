package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Orchestrator.BatchSize != 5 || cfg.Orchestrator.Workers != 3 || cfg.Orchestrator.MaxRetries != 3 {
		t.Fatalf("unexpected orchestrator defaults: %+v", cfg.Orchestrator)
	}
	if cfg.Scheduler.Interval != time.Minute || cfg.Scheduler.RunOnce {
		t.Fatalf("unexpected scheduler defaults: %+v", cfg.Scheduler)
	}
	if cfg.Orchestrator.RefundOnFailure {
		t.Fatalf("refund on failure should be off by default")
	}
}

func TestLoadReadsEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("BATCH_SIZE=9\nSWEEP_INTERVAL=30s\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("BATCH_WORKERS", "7")
	// godotenv выставляет переменные процесса, чистим их после теста.
	t.Cleanup(func() {
		_ = os.Unsetenv("BATCH_SIZE")
		_ = os.Unsetenv("SWEEP_INTERVAL")
	})

	cfg, err := load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Orchestrator.BatchSize != 9 || cfg.Orchestrator.Workers != 7 || cfg.Scheduler.Interval != 30*time.Second {
		t.Fatalf("unexpected config: %+v %+v", cfg.Orchestrator, cfg.Scheduler)
	}
}
