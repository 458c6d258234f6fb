package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLogRotator(t *testing.T) {
	logDir := filepath.Join(t.TempDir(), "log")

	config := &RotationConfig{
		Dir:      logDir,
		MaxLines: 5000,
		MaxFiles: 20,
	}

	rotator, err := NewLogRotator(config)
	if err != nil {
		t.Fatalf("Failed to create rotator: %v", err)
	}
	defer func() { _ = rotator.Close() }()

	entries, err := os.ReadDir(logDir)
	if err != nil {
		t.Fatalf("log directory was not created: %v", err)
	}
	if len(entries) != 1 || !strings.HasSuffix(entries[0].Name(), ".log") {
		t.Errorf("expected exactly one timestamped .log file, found %v", entries)
	}
}

func TestLogRotator_Write(t *testing.T) {
	logDir := filepath.Join(t.TempDir(), "log")

	config := &RotationConfig{Dir: logDir, MaxLines: 5000, MaxFiles: 20}
	rotator, err := NewLogRotator(config)
	if err != nil {
		t.Fatalf("Failed to create rotator: %v", err)
	}
	defer func() { _ = rotator.Close() }()

	message := "download started for project AAA\n"
	n, err := rotator.Write([]byte(message))
	if err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	if n != len(message) {
		t.Errorf("Expected to write %d bytes, wrote %d", len(message), n)
	}

	if err := rotator.Sync(); err != nil {
		t.Fatalf("Failed to sync: %v", err)
	}

	content, err := os.ReadFile(rotator.file.Name())
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if string(content) != message {
		t.Errorf("Expected content %q, got %q", message, string(content))
	}
}

func TestLogRotator_LineBasedRotation(t *testing.T) {
	logDir := filepath.Join(t.TempDir(), "log")

	config := &RotationConfig{Dir: logDir, MaxLines: 3, MaxFiles: 0}
	rotator, err := NewLogRotator(config)
	if err != nil {
		t.Fatalf("Failed to create rotator: %v", err)
	}
	defer func() { _ = rotator.Close() }()

	for i := 0; i < 3; i++ {
		if _, err := rotator.Write([]byte("line\n")); err != nil {
			t.Fatalf("write %d failed: %v", i, err)
		}
	}

	// The next write should cross MaxLines and rotate to a second file.
	if _, err := rotator.Write([]byte("trigger rotation\n")); err != nil {
		t.Fatalf("failed to write: %v", err)
	}

	entries, err := os.ReadDir(logDir)
	if err != nil {
		t.Fatalf("Failed to read dir: %v", err)
	}

	logFiles := 0
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".log") {
			logFiles++
		}
	}
	if logFiles < 2 {
		t.Errorf("expected at least 2 log files after crossing MaxLines, found %d", logFiles)
	}
}

func TestLogRotator_ForceRotate(t *testing.T) {
	logDir := filepath.Join(t.TempDir(), "log")

	config := &RotationConfig{Dir: logDir, MaxLines: 5000, MaxFiles: 0}
	rotator, err := NewLogRotator(config)
	if err != nil {
		t.Fatalf("Failed to create rotator: %v", err)
	}
	defer func() { _ = rotator.Close() }()

	first := "message before rotation\n"
	if _, err := rotator.Write([]byte(first)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	_ = rotator.Sync()
	firstName := rotator.file.Name()

	if err := rotator.ForceRotate(); err != nil {
		t.Fatalf("Failed to force rotate: %v", err)
	}
	if rotator.file.Name() == firstName {
		t.Error("expected ForceRotate to open a new file")
	}

	second := "message after rotation\n"
	if _, err := rotator.Write([]byte(second)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	_ = rotator.Sync()

	oldContent, err := os.ReadFile(firstName)
	if err != nil {
		t.Fatalf("failed to read original file: %v", err)
	}
	if string(oldContent) != first {
		t.Errorf("original file should be untouched by rotation, got %q", oldContent)
	}

	newContent, err := os.ReadFile(rotator.file.Name())
	if err != nil {
		t.Fatalf("failed to read new file: %v", err)
	}
	if string(newContent) != second {
		t.Errorf("expected new file to contain %q, got %q", second, newContent)
	}
}

func TestLogRotator_PruneOldFiles(t *testing.T) {
	logDir := filepath.Join(t.TempDir(), "log")

	config := &RotationConfig{Dir: logDir, MaxLines: 1, MaxFiles: 2}
	rotator, err := NewLogRotator(config)
	if err != nil {
		t.Fatalf("Failed to create rotator: %v", err)
	}
	defer func() { _ = rotator.Close() }()

	for i := 0; i < 5; i++ {
		if err := rotator.ForceRotate(); err != nil {
			t.Fatalf("rotate %d failed: %v", i, err)
		}
	}

	entries, err := os.ReadDir(logDir)
	if err != nil {
		t.Fatalf("Failed to read dir: %v", err)
	}

	logFiles := 0
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".log") {
			logFiles++
		}
	}
	if logFiles > config.MaxFiles {
		t.Errorf("expected at most %d log files, found %d", config.MaxFiles, logFiles)
	}
}

func TestLogRotator_DirectoryCreation(t *testing.T) {
	logDir := filepath.Join(t.TempDir(), "log", "nested")

	config := &RotationConfig{Dir: logDir, MaxLines: 5000, MaxFiles: 20}
	rotator, err := NewLogRotator(config)
	if err != nil {
		t.Fatalf("Failed to create rotator: %v", err)
	}
	defer func() { _ = rotator.Close() }()

	if _, err := os.Stat(logDir); os.IsNotExist(err) {
		t.Error("Log directory was not created")
	}
}

func TestLogRotator_Close(t *testing.T) {
	logDir := filepath.Join(t.TempDir(), "log")

	config := &RotationConfig{Dir: logDir, MaxLines: 5000, MaxFiles: 20}
	rotator, err := NewLogRotator(config)
	if err != nil {
		t.Fatalf("Failed to create rotator: %v", err)
	}

	if _, err := rotator.Write([]byte("run started\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if err := rotator.Close(); err != nil {
		t.Fatalf("Failed to close rotator: %v", err)
	}

	if _, err := rotator.Write([]byte("should fail\n")); err == nil {
		t.Error("Expected write after close to fail")
	}
}

func TestRotationConfig_Validation(t *testing.T) {
	if _, err := NewLogRotator(nil); err == nil {
		t.Error("Expected error with nil config")
	}

	if _, err := NewLogRotator(&RotationConfig{Dir: ""}); err == nil {
		t.Error("Expected error with empty directory")
	}
}

func TestLogRotator_Sync(t *testing.T) {
	logDir := filepath.Join(t.TempDir(), "log")

	config := &RotationConfig{Dir: logDir, MaxLines: 5000, MaxFiles: 20}
	rotator, err := NewLogRotator(config)
	if err != nil {
		t.Fatalf("Failed to create rotator: %v", err)
	}
	defer func() { _ = rotator.Close() }()

	if _, err := rotator.Write([]byte("upload completed\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := rotator.Sync(); err != nil {
		t.Fatalf("Failed to sync: %v", err)
	}

	content, err := os.ReadFile(rotator.file.Name())
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(content), "upload completed") {
		t.Error("Synced content not found in file")
	}
}

func TestLogRotator_TimestampedNameAvoidsCollision(t *testing.T) {
	logDir := filepath.Join(t.TempDir(), "log")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		t.Fatal(err)
	}

	config := &RotationConfig{Dir: logDir}
	rotator := &LogRotator{config: config}

	first := rotator.timestampedName()
	if err := os.WriteFile(first, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	second := rotator.timestampedName()
	if second == first {
		t.Error("timestampedName should not return a name that already exists")
	}
}

func TestLogRotator_PruneKeepsNewestByName(t *testing.T) {
	logDir := t.TempDir()

	names := []string{
		"20260101000000.log",
		"20260101000001.log",
		"20260101000002.log",
	}
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(logDir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	rotator := &LogRotator{config: &RotationConfig{Dir: logDir, MaxFiles: 2}}
	if err := rotator.pruneOldFiles(); err != nil {
		t.Fatalf("pruneOldFiles failed: %v", err)
	}

	entries, err := os.ReadDir(logDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 files remaining, found %d", len(entries))
	}
	for _, e := range entries {
		if e.Name() == "20260101000000.log" {
			t.Error("oldest file should have been pruned")
		}
	}
}
