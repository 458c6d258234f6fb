package utils

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// RotationConfig governs the run log contract at ~/.cccopy/log: each
// invocation appends to a freshly timestamped file under Dir, rotating to
// a new file every MaxLines lines within a single run, and pruning Dir
// down to the MaxFiles most recently created files.
type RotationConfig struct {
	// Dir is the log directory, e.g. ~/.cccopy/log.
	Dir string

	// MaxLines is how many lines a file accumulates before the next
	// Write rotates to a new timestamped file (0 = never rotate).
	MaxLines int

	// MaxFiles is how many log files Dir retains after a rotation; the
	// oldest by name (and so by timestamp) are removed first (0 = retain
	// all).
	MaxFiles int
}

// LogRotator is an io.Writer over a directory of timestamped log files
// named <YYYYMMDDHHMMSS>.log, rotating by accumulated line count.
type LogRotator struct {
	mu sync.Mutex

	config *RotationConfig
	file   *os.File
	lines  int
}

// NewLogRotator opens the run's first timestamped log file under
// config.Dir, creating the directory if it doesn't already exist.
func NewLogRotator(config *RotationConfig) (*LogRotator, error) {
	if config == nil {
		return nil, fmt.Errorf("rotation config is required")
	}
	if config.Dir == "" {
		return nil, fmt.Errorf("log directory is required")
	}

	rotator := &LogRotator{config: config}
	if err := rotator.openFile(); err != nil {
		return nil, err
	}
	return rotator, nil
}

// Write implements io.Writer, rotating to a new timestamped file first if
// the current one has already reached MaxLines.
func (lr *LogRotator) Write(p []byte) (n int, err error) {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	if lr.config.MaxLines > 0 && lr.lines >= lr.config.MaxLines {
		if err := lr.rotate(); err != nil {
			return 0, fmt.Errorf("failed to rotate log: %w", err)
		}
	}

	n, err = lr.file.Write(p)
	lr.lines += bytes.Count(p[:n], []byte("\n"))
	return n, err
}

// Close closes the current log file.
func (lr *LogRotator) Close() error {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	if lr.file != nil {
		err := lr.file.Close()
		lr.file = nil
		return err
	}
	return nil
}

// Sync flushes the current log file.
func (lr *LogRotator) Sync() error {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	if lr.file != nil {
		return lr.file.Sync()
	}
	return nil
}

// ForceRotate closes the current file, opens a fresh timestamped one, and
// prunes Dir down to MaxFiles.
func (lr *LogRotator) ForceRotate() error {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	return lr.rotate()
}

// Rotate is a public alias for ForceRotate, for test harnesses that want
// to force a rotation without waiting for MaxLines.
func (lr *LogRotator) Rotate() error {
	return lr.ForceRotate()
}

func (lr *LogRotator) rotate() error {
	if lr.file != nil {
		if err := lr.file.Close(); err != nil {
			return fmt.Errorf("failed to close current log file: %w", err)
		}
		lr.file = nil
	}

	if err := lr.openFile(); err != nil {
		return err
	}
	return lr.pruneOldFiles()
}

func (lr *LogRotator) openFile() error {
	if err := os.MkdirAll(lr.config.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(lr.timestampedName(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	lr.file = file
	lr.lines = 0
	return nil
}

// timestampedName picks <Dir>/<YYYYMMDDHHMMSS>.log, stepping the second
// forward if a rotation earlier in the same run already claimed it.
func (lr *LogRotator) timestampedName() string {
	stamp := time.Now()
	for {
		name := filepath.Join(lr.config.Dir, stamp.Format("20060102150405")+".log")
		if _, err := os.Stat(name); os.IsNotExist(err) {
			return name
		}
		stamp = stamp.Add(time.Second)
	}
}

// pruneOldFiles removes the oldest *.log entries in Dir once there are
// more than MaxFiles of them. Filenames sort chronologically by
// construction, so a lexical sort suffices without touching mtimes.
func (lr *LogRotator) pruneOldFiles() error {
	if lr.config.MaxFiles <= 0 {
		return nil
	}

	entries, err := os.ReadDir(lr.config.Dir)
	if err != nil {
		return err
	}

	var logs []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".log") {
			logs = append(logs, e.Name())
		}
	}
	sort.Strings(logs)

	if len(logs) <= lr.config.MaxFiles {
		return nil
	}

	for _, name := range logs[:len(logs)-lr.config.MaxFiles] {
		path := filepath.Join(lr.config.Dir, name)
		if err := os.Remove(path); err != nil {
			fmt.Fprintf(os.Stderr, "failed to remove old log file %s: %v\n", path, err)
		}
	}
	return nil
}
