package sync

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cccopy/cccopy/internal/classifier"
	"github.com/cccopy/cccopy/internal/lock"
	"github.com/cccopy/cccopy/internal/metrics"
	"github.com/cccopy/cccopy/internal/pattern"
	"github.com/cccopy/cccopy/internal/privilege"
	"github.com/cccopy/cccopy/internal/tagstore"
	"github.com/cccopy/cccopy/internal/vcs"
	"github.com/cccopy/cccopy/pkg/types"
	"github.com/cccopy/cccopy/pkg/utils"
)

type autoUI struct{}

func (autoUI) Confirm(ctx context.Context, prompt string) (bool, error)        { return true, nil }
func (autoUI) PromptMessage(ctx context.Context, prompt, d string) (string, error) { return d, nil }
func (autoUI) ReportProgress(ctx context.Context, phase string, current, total int) {}
func (autoUI) Notify(ctx context.Context, level, message string)                   {}

type noopMediator struct{ calls int }

func (m *noopMediator) Resolve(ctx context.Context, project *types.Project, relPath string) (types.ConflictDecision, error) {
	m.calls++
	return types.ConflictSkip, nil
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("GIT_CONFIG_NOSYSTEM", "1")
	t.Setenv("GIT_AUTHOR_NAME", "test user")
	t.Setenv("GIT_AUTHOR_EMAIL", "test@example.com")
	t.Setenv("GIT_COMMITTER_NAME", "test user")
	t.Setenv("GIT_COMMITTER_EMAIL", "test@example.com")

	loggerCfg := utils.DefaultStructuredLoggerConfig()
	loggerCfg.Output = io.Discard
	logger, err := utils.NewStructuredLogger(loggerCfg)
	if err != nil {
		t.Fatalf("logger: %v", err)
	}

	collector, err := metrics.NewCollector(&metrics.Config{Enabled: false})
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}

	escalator := privilege.New(nil, logger, collector)
	vcsAdapter := vcs.New("", nil, logger)
	tagStore := tagstore.New(t.TempDir(), vcsAdapter)

	return New(Config{
		VCS:        vcsAdapter,
		Escalator:  escalator,
		TagStore:   tagStore,
		Pattern:    func(sources, excludes []string) types.PatternMatcher { return pattern.New(sources, excludes, nil) },
		Classifier: classifier.New(vcsAdapter),
		Mediator:   &noopMediator{},
		UI:         autoUI{},
		Status:     nil,
		Metrics:    collector,
		Logger:     logger,
		LockConfig: lock.Config{PollInterval: 5 * time.Millisecond, StaleAfter: 10 * time.Second},
	})
}

func newTestProject(t *testing.T) *types.Project {
	t.Helper()
	return &types.Project{
		Name:          "demo",
		ProductionDir: t.TempDir(),
		WorkDir:       t.TempDir(),
		Sources:       []string{"**/*.txt"},
		BackupCount:   1,
	}
}

func TestEngine_Download_BootstrapsBothSides(t *testing.T) {
	e := newTestEngine(t)
	project := newTestProject(t)

	if err := os.WriteFile(filepath.Join(project.ProductionDir, "file.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := e.Download(context.Background(), project); err != nil {
		t.Fatalf("Download failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(project.WorkDir, "file.txt"))
	if err != nil {
		t.Fatalf("expected file.txt to exist in work: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("work file content = %q, want %q", data, "hello")
	}

	tag, present, err := e.tagStore.Read(context.Background(), project)
	if err != nil {
		t.Fatalf("tag read failed: %v", err)
	}
	if !present || !tag.Present() {
		t.Error("expected a tag to be written after Download")
	}
}

func TestEngine_Download_ThenUploadRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	project := newTestProject(t)

	if err := os.WriteFile(filepath.Join(project.ProductionDir, "file.txt"), []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := e.Download(context.Background(), project); err != nil {
		t.Fatalf("Download failed: %v", err)
	}

	workFile := filepath.Join(project.WorkDir, "file.txt")
	if err := os.WriteFile(workFile, []byte("v2 from work"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := e.Save(context.Background(), project, "work edit"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := e.Upload(context.Background(), project, "promote work edit"); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(project.ProductionDir, "file.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "v2 from work" {
		t.Errorf("production file content = %q, want work's promoted content", data)
	}
}

func TestEngine_Save_NothingToSave(t *testing.T) {
	e := newTestEngine(t)
	project := newTestProject(t)

	if err := os.WriteFile(filepath.Join(project.ProductionDir, "file.txt"), []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := e.Download(context.Background(), project); err != nil {
		t.Fatalf("Download failed: %v", err)
	}

	if err := e.Save(context.Background(), project, "no-op"); err != nil {
		t.Fatalf("Save with no changes should succeed as a no-op: %v", err)
	}
}

func TestEngine_Upload_WithoutDownloadFails(t *testing.T) {
	e := newTestEngine(t)
	project := newTestProject(t)

	err := e.Upload(context.Background(), project, "message")
	if err == nil {
		t.Fatal("expected Upload to fail when work is not yet a repository")
	}
}
