// Package statecache implements the Incremental State Cache and its
// background watcher: a concurrent-safe classification cache keyed by
// relative path and populated lazily by a bounded worker pool, backing the
// interactive directory browser.
package statecache

import (
	"context"
	"sync"
	"time"

	"github.com/cccopy/cccopy/pkg/types"
)

const defaultTTL = 300 * time.Second
const defaultWorkers = 2

// Classifier is the subset of internal/classifier the cache needs.
type Classifier interface {
	Classify(ctx context.Context, project *types.Project, tag types.ProductionTag, relPath string) (types.FileState, error)
}

// task is one (relative path, mtime) submission to the worker pool, with
// the project and tag to classify it against.
type task struct {
	relPath string
	modTime time.Time
	project *types.Project
	tag     types.ProductionTag
}

// Cache is a concurrent-safe classification cache fed by a bounded worker
// pool. Every lookup, hit or miss, is reported to the metrics collector.
type Cache struct {
	ttl      time.Duration
	classify Classifier
	metrics  types.MetricsCollector

	mu      sync.RWMutex
	entries map[string]types.CacheEntry
	pending map[string]types.FileState

	tasks   chan task
	wg      sync.WaitGroup
	stopCh  chan struct{}
	stopped bool
}

// New builds a Cache with workers background classification goroutines
// (default 2 if workers <= 0) and the given TTL (default 300s if ttl <= 0).
func New(classify Classifier, metrics types.MetricsCollector, workers int, ttl time.Duration) *Cache {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}

	c := &Cache{
		ttl:      ttl,
		classify: classify,
		metrics:  metrics,
		entries:  make(map[string]types.CacheEntry),
		pending:  make(map[string]types.FileState),
		tasks:    make(chan task, workers*4),
		stopCh:   make(chan struct{}),
	}

	for i := 0; i < workers; i++ {
		c.wg.Add(1)
		go c.worker()
	}
	return c
}

// Lookup returns a cached classification iff an entry exists, it is
// younger than the TTL, and its stored mtime equals modTime. Every call
// reports a cache hit or miss to the metrics collector.
func (c *Cache) Lookup(relPath string, modTime time.Time) (types.FileState, bool) {
	c.mu.RLock()
	entry, ok := c.entries[relPath]
	c.mu.RUnlock()

	hit := ok && time.Since(entry.CapturedAt) < c.ttl && entry.ModTime.Equal(modTime)
	if c.metrics != nil {
		if hit {
			c.metrics.RecordCacheHit(relPath)
		} else {
			c.metrics.RecordCacheMiss(relPath)
		}
	}
	if !hit {
		return types.StatePending, false
	}
	return entry.State, true
}

// Submit enqueues relPath for background classification if the pool is not
// shut down. A full queue drops the submission silently; the next browser
// redraw will resubmit it.
func (c *Cache) Submit(project *types.Project, tag types.ProductionTag, relPath string, modTime time.Time) {
	c.mu.RLock()
	stopped := c.stopped
	c.mu.RUnlock()
	if stopped {
		return
	}

	select {
	case c.tasks <- task{relPath: relPath, modTime: modTime, project: project, tag: tag}:
	default:
	}
}

func (c *Cache) worker() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		case t := <-c.tasks:
			state, err := c.classify.Classify(context.Background(), t.project, t.tag, t.relPath)
			if err != nil {
				state = types.StateConflicted
			}

			c.mu.Lock()
			c.entries[t.relPath] = types.CacheEntry{State: state, ModTime: t.modTime, CapturedAt: time.Now()}
			c.pending[t.relPath] = state
			c.mu.Unlock()
		}
	}
}

// DrainPending returns and clears the entries classified since the last
// drain, for the UI to apply on its next redraw tick.
func (c *Cache) DrainPending() map[string]types.FileState {
	c.mu.Lock()
	defer c.mu.Unlock()
	drained := c.pending
	c.pending = make(map[string]types.FileState)
	return drained
}

// Invalidate removes a single cached entry, called by the Watcher when it
// detects an external change to relPath.
func (c *Cache) Invalidate(relPath string) {
	c.mu.Lock()
	delete(c.entries, relPath)
	c.mu.Unlock()
}

// FullRefresh clears every cached entry and every undrained result, so
// later lookups miss until the paths are submitted again. Used after
// operations that touch many files at once (Download, Upload, Save,
// Rollback). Workers keep running, Submit is still accepted, and no list
// of paths is returned.
func (c *Cache) FullRefresh() {
	c.mu.Lock()
	c.entries = make(map[string]types.CacheEntry)
	c.pending = make(map[string]types.FileState)
	c.mu.Unlock()
}

// Shutdown drains in-flight classifications and stops all workers. Further
// Submit calls are refused.
func (c *Cache) Shutdown() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.mu.Unlock()

	close(c.stopCh)
	c.wg.Wait()
}

// StatusSource is the subset of the VCS adapter the Watcher polls.
type StatusSource interface {
	StatusShort(ctx context.Context, dir string) ([]types.FileStatusEntry, error)
}

// Watcher polls Work's short status at a fixed interval and invalidates
// cache entries for paths whose status changed since the previous poll,
// restricted to the directory the UI is currently displaying.
type Watcher struct {
	vcs      StatusSource
	cache    *Cache
	interval time.Duration

	mu          sync.Mutex
	currentDir  string
	initialized bool
	lastStatus  map[string]string

	onChange func(changedRelPaths []string)

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewWatcher builds a Watcher over vcs and cache, polling every interval
// (default 5s if interval <= 0). onChange is invoked with the set of
// relative paths invalidated by a poll, to signal the UI to redraw.
func NewWatcher(vcs StatusSource, cache *Cache, interval time.Duration, onChange func([]string)) *Watcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Watcher{
		vcs:        vcs,
		cache:      cache,
		interval:   interval,
		lastStatus: make(map[string]string),
		onChange:   onChange,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// SetCurrentDir resets the watcher's snapshot to uninitialized so the
// browser navigating elsewhere never emits spurious diff events against
// the previous directory's status.
func (w *Watcher) SetCurrentDir(dir string) {
	w.mu.Lock()
	w.currentDir = dir
	w.initialized = false
	w.lastStatus = make(map[string]string)
	w.mu.Unlock()
}

// Run polls workDir until ctx is done or Stop is called.
func (w *Watcher) Run(ctx context.Context, workDir string) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.poll(ctx, workDir)
		}
	}
}

func (w *Watcher) poll(ctx context.Context, workDir string) {
	entries, err := w.vcs.StatusShort(ctx, workDir)
	if err != nil {
		return
	}

	current := make(map[string]string, len(entries))
	for _, e := range entries {
		current[e.Path] = e.Code
	}

	w.mu.Lock()
	dir := w.currentDir
	wasInit := w.initialized
	previous := w.lastStatus
	w.lastStatus = current
	w.initialized = true
	w.mu.Unlock()

	if !wasInit {
		return
	}

	var changed []string
	for path, code := range current {
		if dir != "" && !withinDir(path, dir) {
			continue
		}
		if previous[path] != code {
			changed = append(changed, path)
		}
	}
	for path := range previous {
		if _, stillPresent := current[path]; stillPresent {
			continue
		}
		if dir != "" && !withinDir(path, dir) {
			continue
		}
		changed = append(changed, path)
	}

	if len(changed) == 0 {
		return
	}
	for _, path := range changed {
		w.cache.Invalidate(path)
	}
	if w.onChange != nil {
		w.onChange(changed)
	}
}

// Stop signals Run to return and waits for it to do so.
func (w *Watcher) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

func withinDir(path, dir string) bool {
	if dir == "." || dir == "" {
		return true
	}
	if len(path) <= len(dir) {
		return path == dir
	}
	return path[:len(dir)] == dir && path[len(dir)] == '/'
}
