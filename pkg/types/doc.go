/*
Package types provides the core interfaces and data structures shared by
cccopy's engine, UI, and status server.

This package is the contract layer between components: it defines the
Project/ProductionTag/FileState data model from the engine design and the
interfaces (VCSAdapter, Escalator, Locker, TagStore, PatternMatcher,
Classifier, ConflictMediator, DiffLauncher, StatusTracker,
MetricsCollector, UIHandler) that let internal/vcs, internal/privilege,
internal/lock, internal/project, internal/tagstore, internal/pattern,
internal/classifier, and internal/sync depend on each other through small
interfaces rather than concrete types.

# Data Model

Project names a Production root, a per-user Work root, and the SOURCES and
EXCLUDES glob lists that define the synced subset. ProductionTag records
the Production commit (and optionally a SOURCES hash) a project was last
synced against. FileState is the five-way classification
(SAME/MODIFIED/UPDATED/CONFLICTED/PENDING) the classifier assigns to a
path by comparing Work, Production, and tag-base blob identities.

# Interface Contracts

  - Every VCSAdapter write method takes a Privilege handle; nil means run
    with the caller's own credentials (Work), non-nil means run escalated
    (Production).
  - Classifier.Classify performs no writes: it reads the path's Work,
    Production, and tag-base blob identities through the VCS adapter and,
    given the same three identities, always returns the same FileState.
  - Locker.Release must be safe to call unconditionally on every exit path,
    including after a panic; IsHeld reports whether Release would do
    anything.
  - MetricsCollector and StatusTracker methods must never block the caller
    on a slow exporter; implementations are expected to use buffered
    channels or lock-free counters internally.
*/
package types
