package types

import (
	"context"
	"time"
)

// Privilege is an opaque handle obtained from the Privilege Escalator that
// authorizes a write to Production. VCSAdapter methods that mutate
// Production accept one; read-only methods do not.
type Privilege interface {
	// Run executes cmd with the escalated credentials the handle carries
	// and returns captured stdout.
	Run(ctx context.Context, cmd string, timeout time.Duration) (string, error)
}

// VCSAdapter wraps the external version-control binary. Every write method
// takes an optional Privilege handle (nil for Work, non-nil for Production)
// and every invocation should be retried per the adapter's own budget for
// transient error codes.
type VCSAdapter interface {
	IsRepo(dir string) bool
	Init(ctx context.Context, dir string, priv Privilege) error
	ConfigureIdentity(ctx context.Context, dir string, useDummy bool, priv Privilege) error
	ConfigureSafeDirectory(ctx context.Context, dir string, priv Privilege) error
	Add(ctx context.Context, dir string, paths []string, priv Privilege) error
	// RefreshIndex drops every tracked path from the index and re-adds
	// everything under dir, so a just-changed .gitignore is re-evaluated
	// against paths that were staged under the old rules.
	RefreshIndex(ctx context.Context, dir string, priv Privilege) error
	HasChanges(ctx context.Context, dir string) (bool, error)
	Commit(ctx context.Context, dir, message, author string, priv Privilege) error
	Head(ctx context.Context, dir string) (string, error)
	BlobID(ctx context.Context, dir, path string) (BlobID, error)
	BlobIDInCommit(ctx context.Context, dir, commit, path string) (BlobID, error)
	Log(ctx context.Context, dir string, limit int) ([]LogEntry, error)
	FilesInCommit(ctx context.Context, dir, commit string) ([]FileStatusEntry, error)
	StatusShort(ctx context.Context, dir string) ([]FileStatusEntry, error)
	CheckoutHead(ctx context.Context, dir, path string) error
	RevertRange(ctx context.Context, dir, fromCommit, toHead string) error
	ArchiveZip(ctx context.Context, dir, commit, outPath string) error
}

// Escalator runs a command under a named POSIX group's effective
// credentials without altering the caller's own process credentials.
type Escalator interface {
	Run(ctx context.Context, group, cmd string, timeout time.Duration, check bool, description string) (string, error)
}

// Locker is a scoped acquisition primitive over a directory-presence lock.
// Release must be safe to call on every exit path, including after a panic.
type Locker interface {
	Acquire(ctx context.Context, timeout time.Duration) error
	Release() error
	IsHeld() bool
}

// TagStore reads and writes a project's Production tag.
type TagStore interface {
	Read(ctx context.Context, project *Project) (ProductionTag, bool, error)
	Save(ctx context.Context, project *Project, includeHash bool) error
}

// PatternMatcher enumerates the files a project's SOURCES/EXCLUDES patterns
// select under a base directory.
type PatternMatcher interface {
	Match(ctx context.Context, baseDir string, includeWorkOnly bool) ([]MatchedFile, error)
	Accepts(relPath string) bool
}

// Classifier computes the FileState for a path from its Work, Production,
// and tag-base blob identities. It is pure: it performs no writes.
type Classifier interface {
	Classify(ctx context.Context, project *Project, tag ProductionTag, relPath string) (FileState, error)
}

// ConflictMediator presents the conflict menu for one CONFLICTED path and
// carries out the user's decision.
type ConflictMediator interface {
	Resolve(ctx context.Context, project *Project, relPath string) (ConflictDecision, error)
}

// DiffLauncher runs an external diff tool against a read-only Production
// snapshot and the live Work file, blocking until the tool exits.
type DiffLauncher interface {
	Launch(ctx context.Context, productionSnapshot, workFile string) error
}

// StatusTracker records operation lifecycle events for the status HTTP
// server and the interactive UI's status pane.
type StatusTracker interface {
	Start(project string, op OperationKind) string
	Finish(id string, outcome OperationOutcome, detail string)
	Get(project string) []OperationRecord
	History(project string, limit int) []OperationRecord
}

// MetricsCollector records operation durations, cache hit/miss counts,
// lock wait times, and escalation outcomes.
type MetricsCollector interface {
	RecordOperation(operation string, duration time.Duration, size int64, success bool)
	RecordCacheHit(relPath string)
	RecordCacheMiss(relPath string)
	RecordConflict(resolution string)
	RecordError(operation string, err error)
}

// UIHandler abstracts the interactive front end so the engine can drive
// prompts, progress, and the conflict menu without depending on a specific
// terminal library.
type UIHandler interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
	PromptMessage(ctx context.Context, prompt, defaultValue string) (string, error)
	ReportProgress(ctx context.Context, phase string, current, total int)
	Notify(ctx context.Context, level, message string)
}
