package conflict

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/cccopy/cccopy/internal/metrics"
	"github.com/cccopy/cccopy/internal/privilege"
	"github.com/cccopy/cccopy/pkg/types"
	"github.com/cccopy/cccopy/pkg/utils"
)

func testEscalator(t *testing.T) *privilege.Escalator {
	t.Helper()
	cfg := utils.DefaultStructuredLoggerConfig()
	cfg.Output = io.Discard
	logger, err := utils.NewStructuredLogger(cfg)
	if err != nil {
		t.Fatalf("failed to build logger: %v", err)
	}
	collector, err := metrics.NewCollector(&metrics.Config{Enabled: false})
	if err != nil {
		t.Fatalf("failed to build metrics collector: %v", err)
	}
	return privilege.New(nil, logger, collector)
}

type scriptedPrompt struct {
	decisions []types.ConflictDecision
	idx       int
}

func (s *scriptedPrompt) PromptConflictChoice(ctx context.Context, relPath string) (types.ConflictDecision, error) {
	d := s.decisions[s.idx]
	s.idx++
	return d, nil
}

type noopDiff struct{ calls int }

func (d *noopDiff) Launch(ctx context.Context, productionSnapshot, workFile string) error {
	d.calls++
	return nil
}

type fakeVCS struct {
	addedPaths []string
	commitMsg  string
	addErr     error
	commitErr  error
}

func (f *fakeVCS) Add(ctx context.Context, dir string, paths []string, priv types.Privilege) error {
	f.addedPaths = append(f.addedPaths, paths...)
	return f.addErr
}

func (f *fakeVCS) Commit(ctx context.Context, dir, message, author string, priv types.Privilege) error {
	f.commitMsg = message
	return f.commitErr
}

func setupProject(t *testing.T) *types.Project {
	t.Helper()
	prod := t.TempDir()
	work := t.TempDir()
	return &types.Project{Name: "demo", ProductionDir: prod, WorkDir: work}
}

func TestMediator_Resolve_Skip(t *testing.T) {
	t.Parallel()

	prompt := &scriptedPrompt{decisions: []types.ConflictDecision{types.ConflictSkip}}
	m := New(prompt, &noopDiff{}, &fakeVCS{}, testEscalator(t))

	decision, err := m.Resolve(context.Background(), setupProject(t), "file.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision != types.ConflictSkip {
		t.Errorf("decision = %v, want ConflictSkip", decision)
	}
}

func TestMediator_Resolve_DiffThenSkip(t *testing.T) {
	t.Parallel()

	diff := &noopDiff{}
	prompt := &scriptedPrompt{decisions: []types.ConflictDecision{types.ConflictDiff, types.ConflictSkip}}
	project := setupProject(t)
	if err := os.WriteFile(filepath.Join(project.ProductionDir, "file.txt"), []byte("prod"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := New(prompt, diff, &fakeVCS{}, testEscalator(t))

	decision, err := m.Resolve(context.Background(), project, "file.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision != types.ConflictSkip {
		t.Errorf("decision = %v, want ConflictSkip after the diff round", decision)
	}
	if diff.calls != 1 {
		t.Errorf("diff launched %d times, want 1", diff.calls)
	}
}

func TestMediator_Resolve_TakeTheirs(t *testing.T) {
	t.Parallel()

	project := setupProject(t)
	prodFile := filepath.Join(project.ProductionDir, "file.txt")
	workFile := filepath.Join(project.WorkDir, "file.txt")
	if err := os.WriteFile(prodFile, []byte("production content"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(workFile, []byte("work content"), 0o644); err != nil {
		t.Fatal(err)
	}

	prompt := &scriptedPrompt{decisions: []types.ConflictDecision{types.ConflictTakeTheirs}}
	m := New(prompt, &noopDiff{}, &fakeVCS{}, testEscalator(t))

	decision, err := m.Resolve(context.Background(), project, "file.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision != types.ConflictTakeTheirs {
		t.Errorf("decision = %v, want ConflictTakeTheirs", decision)
	}

	data, err := os.ReadFile(workFile)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "production content" {
		t.Errorf("work file content = %q, want production's content copied over", data)
	}
}

func TestMediator_Resolve_TakeMine(t *testing.T) {
	t.Parallel()

	project := setupProject(t)
	prodFile := filepath.Join(project.ProductionDir, "file.txt")
	workFile := filepath.Join(project.WorkDir, "file.txt")
	if err := os.WriteFile(prodFile, []byte("production content"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(workFile, []byte("work content"), 0o644); err != nil {
		t.Fatal(err)
	}

	prompt := &scriptedPrompt{decisions: []types.ConflictDecision{types.ConflictTakeMine}}
	vcs := &fakeVCS{}
	m := New(prompt, &noopDiff{}, vcs, testEscalator(t))

	decision, err := m.Resolve(context.Background(), project, "file.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision != types.ConflictTakeMine {
		t.Errorf("decision = %v, want ConflictTakeMine", decision)
	}

	data, err := os.ReadFile(prodFile)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "work content" {
		t.Errorf("production file content = %q, want work's content copied over", data)
	}

	if len(vcs.addedPaths) != 1 || vcs.addedPaths[0] != "file.txt" {
		t.Errorf("addedPaths = %v, want [file.txt]", vcs.addedPaths)
	}
	if vcs.commitMsg == "" {
		t.Error("expected a non-empty commit message")
	}
}

func TestMediator_Resolve_PromptError(t *testing.T) {
	t.Parallel()

	failingPrompt := errPrompt{}
	m := New(failingPrompt, &noopDiff{}, &fakeVCS{}, testEscalator(t))

	_, err := m.Resolve(context.Background(), setupProject(t), "file.txt")
	if err == nil {
		t.Fatal("expected an error to propagate from the prompt")
	}
}

type errPrompt struct{}

func (errPrompt) PromptConflictChoice(ctx context.Context, relPath string) (types.ConflictDecision, error) {
	return types.ConflictSkip, errors.New("prompt failed")
}

func TestSnapshotReadOnly(t *testing.T) {
	t.Parallel()

	src := filepath.Join(t.TempDir(), "orig.txt")
	if err := os.WriteFile(src, []byte("contents"), 0o644); err != nil {
		t.Fatal(err)
	}

	snapshot, err := snapshotReadOnly(src)
	if err != nil {
		t.Fatalf("snapshotReadOnly failed: %v", err)
	}
	defer os.Remove(snapshot)

	info, err := os.Stat(snapshot)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm()&0o222 != 0 {
		t.Errorf("snapshot mode = %v, want no write bits", info.Mode())
	}

	data, err := os.ReadFile(snapshot)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "contents" {
		t.Errorf("snapshot contents = %q, want %q", data, "contents")
	}
}
