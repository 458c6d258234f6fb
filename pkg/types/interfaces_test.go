package types

import (
	"context"
	"testing"
	"time"
)

// TestInterfaces verifies that our interfaces are properly structured.
func TestInterfaces(t *testing.T) {
	var (
		_ VCSAdapter       = (*mockVCSAdapter)(nil)
		_ Escalator        = (*mockEscalator)(nil)
		_ Locker           = (*mockLocker)(nil)
		_ TagStore         = (*mockTagStore)(nil)
		_ PatternMatcher   = (*mockPatternMatcher)(nil)
		_ Classifier       = (*mockClassifier)(nil)
		_ ConflictMediator = (*mockConflictMediator)(nil)
		_ DiffLauncher     = (*mockDiffLauncher)(nil)
		_ StatusTracker    = (*mockStatusTracker)(nil)
		_ MetricsCollector = (*mockMetricsCollector)(nil)
		_ UIHandler        = (*mockUIHandler)(nil)
	)
}

// Mock implementations for interface-compliance testing.

type mockVCSAdapter struct{}

func (m *mockVCSAdapter) IsRepo(dir string) bool                                     { return false }
func (m *mockVCSAdapter) Init(ctx context.Context, dir string, priv Privilege) error { return nil }
func (m *mockVCSAdapter) ConfigureIdentity(ctx context.Context, dir string, useDummy bool, priv Privilege) error {
	return nil
}
func (m *mockVCSAdapter) ConfigureSafeDirectory(ctx context.Context, dir string, priv Privilege) error {
	return nil
}
func (m *mockVCSAdapter) Add(ctx context.Context, dir string, paths []string, priv Privilege) error {
	return nil
}
func (m *mockVCSAdapter) RefreshIndex(ctx context.Context, dir string, priv Privilege) error {
	return nil
}
func (m *mockVCSAdapter) HasChanges(ctx context.Context, dir string) (bool, error) { return false, nil }
func (m *mockVCSAdapter) Commit(ctx context.Context, dir, message, author string, priv Privilege) error {
	return nil
}
func (m *mockVCSAdapter) Head(ctx context.Context, dir string) (string, error) { return "", nil }
func (m *mockVCSAdapter) BlobID(ctx context.Context, dir, path string) (BlobID, error) {
	return MissingBlob, nil
}
func (m *mockVCSAdapter) BlobIDInCommit(ctx context.Context, dir, commit, path string) (BlobID, error) {
	return MissingBlob, nil
}
func (m *mockVCSAdapter) Log(ctx context.Context, dir string, limit int) ([]LogEntry, error) {
	return nil, nil
}
func (m *mockVCSAdapter) FilesInCommit(ctx context.Context, dir, commit string) ([]FileStatusEntry, error) {
	return nil, nil
}
func (m *mockVCSAdapter) StatusShort(ctx context.Context, dir string) ([]FileStatusEntry, error) {
	return nil, nil
}
func (m *mockVCSAdapter) CheckoutHead(ctx context.Context, dir, path string) error { return nil }
func (m *mockVCSAdapter) RevertRange(ctx context.Context, dir, fromCommit, toHead string) error {
	return nil
}
func (m *mockVCSAdapter) ArchiveZip(ctx context.Context, dir, commit, outPath string) error {
	return nil
}

type mockEscalator struct{}

func (m *mockEscalator) Run(ctx context.Context, group, cmd string, timeout time.Duration, check bool, description string) (string, error) {
	return "", nil
}

type mockLocker struct{}

func (m *mockLocker) Acquire(ctx context.Context, timeout time.Duration) error { return nil }
func (m *mockLocker) Release() error                                          { return nil }
func (m *mockLocker) IsHeld() bool                                            { return false }

type mockTagStore struct{}

func (m *mockTagStore) Read(ctx context.Context, project *Project) (ProductionTag, bool, error) {
	return ProductionTag{}, false, nil
}
func (m *mockTagStore) Save(ctx context.Context, project *Project, includeHash bool) error {
	return nil
}

type mockPatternMatcher struct{}

func (m *mockPatternMatcher) Match(ctx context.Context, baseDir string, includeWorkOnly bool) ([]MatchedFile, error) {
	return nil, nil
}
func (m *mockPatternMatcher) Accepts(relPath string) bool { return false }

type mockClassifier struct{}

func (m *mockClassifier) Classify(ctx context.Context, project *Project, tag ProductionTag, relPath string) (FileState, error) {
	return StateSame, nil
}

type mockConflictMediator struct{}

func (m *mockConflictMediator) Resolve(ctx context.Context, project *Project, relPath string) (ConflictDecision, error) {
	return ConflictSkip, nil
}

type mockDiffLauncher struct{}

func (m *mockDiffLauncher) Launch(ctx context.Context, productionSnapshot, workFile string) error {
	return nil
}

type mockStatusTracker struct{}

func (m *mockStatusTracker) Start(project string, op OperationKind) string            { return "" }
func (m *mockStatusTracker) Finish(id string, outcome OperationOutcome, detail string) {}
func (m *mockStatusTracker) Get(project string) []OperationRecord                      { return nil }
func (m *mockStatusTracker) History(project string, limit int) []OperationRecord       { return nil }

type mockMetricsCollector struct{}

func (m *mockMetricsCollector) RecordOperation(operation string, duration time.Duration, size int64, success bool) {
}
func (m *mockMetricsCollector) RecordCacheHit(relPath string)          {}
func (m *mockMetricsCollector) RecordCacheMiss(relPath string)         {}
func (m *mockMetricsCollector) RecordConflict(resolution string)      {}
func (m *mockMetricsCollector) RecordError(operation string, err error) {}

type mockUIHandler struct{}

func (m *mockUIHandler) Confirm(ctx context.Context, prompt string) (bool, error) { return true, nil }
func (m *mockUIHandler) PromptMessage(ctx context.Context, prompt, defaultValue string) (string, error) {
	return defaultValue, nil
}
func (m *mockUIHandler) ReportProgress(ctx context.Context, phase string, current, total int) {}
func (m *mockUIHandler) Notify(ctx context.Context, level, message string)                    {}
