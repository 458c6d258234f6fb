// Package lock implements the directory-presence lock that guards
// Production during Download, Upload, and Export, and separately guards
// the global preference file (a second instantiation, not a second
// implementation).
package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cccopy/cccopy/internal/metrics"
	"github.com/cccopy/cccopy/pkg/errors"
	"github.com/cccopy/cccopy/pkg/types"
	"github.com/cccopy/cccopy/pkg/utils"
)

const lockOwnerFile = "owner.info"

// Config controls acquisition polling and staleness detection.
type Config struct {
	PollInterval time.Duration
	StaleAfter   time.Duration
}

// DefaultConfig returns the spec's defaults: 100ms poll, 300s staleness.
func DefaultConfig() Config {
	return Config{
		PollInterval: 100 * time.Millisecond,
		StaleAfter:   300 * time.Second,
	}
}

// Manager acquires and releases a single directory-presence lock at
// BasePath + ".lockdir". If Escalator is non-nil and a group is set,
// directory creation and removal run through it (for the Production lock);
// otherwise they run directly (for the Work-local preference-file lock).
type Manager struct {
	basePath  string
	config    Config
	escalator types.Escalator
	group     string
	logger    *utils.StructuredLogger
	collector *metrics.Collector

	held bool
	dir  string
}

// New creates a Manager guarding basePath. escalator and group may both be
// empty/nil for a lock that never needs privilege.
func New(basePath string, config Config, escalator types.Escalator, group string, logger *utils.StructuredLogger, collector *metrics.Collector) *Manager {
	return &Manager{
		basePath:  basePath,
		config:    config,
		escalator: escalator,
		group:     group,
		logger:    logger.WithComponent("lock"),
		collector: collector,
		dir:       basePath + ".lockdir",
	}
}

// Acquire blocks until the lock is held, the context is canceled, or
// timeout elapses attempting acquisition.
func (m *Manager) Acquire(ctx context.Context, timeout time.Duration) error {
	start := time.Now()
	deadline := start.Add(timeout)
	owner := ownerIdentity()

	for {
		ok, err := m.tryCreate(ctx, owner)
		if err != nil {
			return err
		}
		if ok {
			m.held = true
			m.recordWait(start, "acquired")
			m.logger.Debug("lock acquired", map[string]interface{}{"dir": m.dir})
			return nil
		}

		if stale, holder := m.staleHolder(); stale {
			m.logger.Warn("reclaiming stale lock", map[string]interface{}{"dir": m.dir, "holder": holder})
			if err := m.forceRemove(ctx); err != nil {
				m.logger.Warn("failed to reclaim stale lock", map[string]interface{}{"error": err.Error()})
			}
			m.recordWait(start, "stale_reclaim")
			continue
		}

		if time.Now().After(deadline) {
			holder := m.currentHolder()
			m.recordWait(start, "timeout")
			return errors.NewError(errors.ErrCodeLockTimeout,
				fmt.Sprintf("timed out waiting for lock %s, held by %s; if stale, remove with: rm -rf %s", m.dir, holder, m.dir)).
				WithContext("holder", holder).
				WithContext("break_command", "rm -rf "+m.dir)
		}

		select {
		case <-ctx.Done():
			m.recordWait(start, "canceled")
			return ctx.Err()
		case <-time.After(m.config.PollInterval):
		}
	}
}

// Release removes the lock directory if held. Safe to call unconditionally
// on every exit path, including after recover() from a panic.
func (m *Manager) Release() error {
	if !m.held {
		return nil
	}
	m.held = false

	ctx := context.Background()
	if m.escalator != nil && m.group != "" {
		_, err := m.escalator.Run(ctx, m.group, fmt.Sprintf("rm -rf %s", shellQuote(m.dir)), 10*time.Second, true, "release lock "+m.dir)
		return err
	}
	return os.RemoveAll(m.dir)
}

// IsHeld reports whether this Manager instance currently believes it holds
// the lock.
func (m *Manager) IsHeld() bool {
	return m.held
}

func (m *Manager) tryCreate(ctx context.Context, owner string) (bool, error) {
	if m.escalator != nil && m.group != "" {
		cmd := fmt.Sprintf("mkdir %s", shellQuote(m.dir))
		if _, err := m.escalator.Run(ctx, m.group, cmd, 5*time.Second, true, "acquire lock "+m.dir); err != nil {
			if dirExists(m.dir) {
				return false, nil
			}
			return false, errors.NewError(errors.ErrCodeLockAcquireFailed, "failed to create lock directory").WithCause(err)
		}
	} else {
		if err := os.Mkdir(m.dir, 0o755); err != nil {
			if os.IsExist(err) {
				return false, nil
			}
			return false, errors.NewError(errors.ErrCodeLockAcquireFailed, "failed to create lock directory").WithCause(err)
		}
	}

	record := fmt.Sprintf("%s\n%s\n", owner, time.Now().Format(time.RFC3339))
	ownerPath := filepath.Join(m.dir, lockOwnerFile)
	if err := os.WriteFile(ownerPath, []byte(record), 0o644); err != nil {
		return false, errors.NewError(errors.ErrCodeLockAcquireFailed, "failed to write lock owner file").WithCause(err)
	}
	return true, nil
}

func (m *Manager) staleHolder() (bool, string) {
	info, err := os.Stat(m.dir)
	if err != nil {
		return false, ""
	}
	if time.Since(info.ModTime()) <= m.config.StaleAfter {
		return false, ""
	}
	return true, m.currentHolder()
}

func (m *Manager) currentHolder() string {
	data, err := os.ReadFile(filepath.Join(m.dir, lockOwnerFile))
	if err != nil {
		return "unknown"
	}
	lines := strings.SplitN(string(data), "\n", 2)
	return lines[0]
}

func (m *Manager) forceRemove(ctx context.Context) error {
	if m.escalator != nil && m.group != "" {
		_, err := m.escalator.Run(ctx, m.group, fmt.Sprintf("rm -rf %s", shellQuote(m.dir)), 10*time.Second, true, "reclaim stale lock "+m.dir)
		return err
	}
	return os.RemoveAll(m.dir)
}

func (m *Manager) recordWait(start time.Time, outcome string) {
	if m.collector != nil {
		m.collector.RecordOperation("lock_wait_"+outcome, time.Since(start), 0, outcome == "acquired")
	}
}

func ownerIdentity() string {
	host, _ := os.Hostname()
	user := os.Getenv("USER")
	if user == "" {
		user = "unknown"
	}
	return fmt.Sprintf("%s@%s:%d:%d:%d", user, host, os.Getpid(), time.Now().UnixMicro(), time.Now().UnixNano()%1000)
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
