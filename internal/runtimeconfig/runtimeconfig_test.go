package runtimeconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := Default()
	if cfg.Cache.Workers != 2 {
		t.Errorf("Cache.Workers = %d, want 2", cfg.Cache.Workers)
	}
	if cfg.Lock.PollInterval != 100*time.Millisecond {
		t.Errorf("Lock.PollInterval = %v, want 100ms", cfg.Lock.PollInterval)
	}
	if cfg.Breaker.FailureThreshold != 5 {
		t.Errorf("Breaker.FailureThreshold = %d, want 5", cfg.Breaker.FailureThreshold)
	}
	if cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = true, want false by default")
	}
	if cfg.Log.MaxLines != 5000 {
		t.Errorf("Log.MaxLines = %d, want 5000", cfg.Log.MaxLines)
	}
	if cfg.Log.MaxFiles != 20 {
		t.Errorf("Log.MaxFiles = %d, want 20", cfg.Log.MaxFiles)
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load failed for a missing file: %v", err)
	}
	if *cfg != *Default() {
		t.Errorf("Load(missing) = %+v, want Default()", cfg)
	}
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") failed: %v", err)
	}
	if *cfg != *Default() {
		t.Errorf("Load(\"\") = %+v, want Default()", cfg)
	}
}

func TestLoad_OverlaysOntoDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "runtime.yaml")
	body := `
cache:
  workers: 8
metrics:
  enabled: true
  address: 0.0.0.0:9999
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Cache.Workers != 8 {
		t.Errorf("Cache.Workers = %d, want 8", cfg.Cache.Workers)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Address != "0.0.0.0:9999" {
		t.Errorf("Metrics = %+v, want overridden values", cfg.Metrics)
	}
	if cfg.Lock.StaleAfter != 300*time.Second {
		t.Errorf("Lock.StaleAfter = %v, want the default to survive untouched", cfg.Lock.StaleAfter)
	}
	if cfg.Breaker.FailureThreshold != 5 {
		t.Errorf("Breaker.FailureThreshold = %d, want the default to survive untouched", cfg.Breaker.FailureThreshold)
	}
}

func TestLoad_MalformedYAMLErrors(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "runtime.yaml")
	if err := os.WriteFile(path, []byte("cache: [this is not a mapping"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for malformed YAML")
	}
}
