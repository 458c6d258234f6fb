// Package runtimeconfig loads the operator-facing tuning knobs that sit
// outside the per-project .ini contract: worker pool size, cache TTL, lock
// poll interval, circuit breaker thresholds, and run-log rotation. These
// are deployment concerns, not project data, so they are read from a
// single optional YAML file rather than the INI templates internal/project
// manages.
package runtimeconfig

import (
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Config holds the runtime tuning knobs for the cache worker pool, the
// lock manager, and the escalation circuit breaker.
type Config struct {
	Cache   CacheConfig   `yaml:"cache"`
	Lock    LockConfig    `yaml:"lock"`
	Breaker BreakerConfig `yaml:"breaker"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

// CacheConfig tunes the state cache and its worker pool.
type CacheConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	Workers       int           `yaml:"workers"`
	WatchInterval time.Duration `yaml:"watch_interval"`
}

// LockConfig tunes the lock manager's acquisition behavior.
type LockConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	StaleAfter   time.Duration `yaml:"stale_after"`
	DefaultWait  time.Duration `yaml:"default_wait"`
}

// BreakerConfig tunes the escalation circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

// MetricsConfig tunes the Prometheus collector.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// LogConfig tunes the run log's rotation under ~/.cccopy/log: a new
// timestamped file every MaxLines lines, with Dir pruned to MaxFiles.
type LogConfig struct {
	MaxLines int `yaml:"max_log_lines"`
	MaxFiles int `yaml:"max_log_files"`
}

// Default returns the built-in tuning values, matching the defaults named
// throughout the component design: 300s cache TTL, 2 cache workers, 5s
// watcher interval, 100ms lock poll, 300s stale threshold, breaker
// threshold 5.
func Default() *Config {
	return &Config{
		Cache: CacheConfig{
			TTL:           300 * time.Second,
			Workers:       2,
			WatchInterval: 5 * time.Second,
		},
		Lock: LockConfig{
			PollInterval: 100 * time.Millisecond,
			StaleAfter:   300 * time.Second,
			DefaultWait:  30 * time.Second,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			Cooldown:         60 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: "localhost:9090",
		},
		Log: LogConfig{
			MaxLines: 5000,
			MaxFiles: 20,
		},
	}
}

// Load reads path and overlays it onto Default(). A missing file is not an
// error: the defaults apply unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
