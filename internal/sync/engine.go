// Package sync implements the Synchronization Engine: Download, Upload,
// Save, Rollback, and Export, each driven by the VCS Adapter, Pattern
// Matcher, Classifier, Conflict Mediator, Lock Manager, and Tag Store.
package sync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cccopy/cccopy/internal/buffer"
	"github.com/cccopy/cccopy/internal/lock"
	"github.com/cccopy/cccopy/internal/metrics"
	"github.com/cccopy/cccopy/internal/privilege"
	"github.com/cccopy/cccopy/internal/tagstore"
	"github.com/cccopy/cccopy/pkg/errors"
	"github.com/cccopy/cccopy/pkg/types"
	"github.com/cccopy/cccopy/pkg/utils"
)

const internalStateDir = ".cccopy"
const lockAcquireTimeout = 5 * time.Minute

// Engine composes the components named in the component design into the
// five top-level operations the UI and the headless status server drive.
type Engine struct {
	vcs        types.VCSAdapter
	escalator  *privilege.Escalator
	tagStore   types.TagStore
	pattern    func(sources, excludes []string) types.PatternMatcher
	classifier types.Classifier
	mediator   types.ConflictMediator
	ui         types.UIHandler
	status     types.StatusTracker
	metrics    *metrics.Collector
	logger     *utils.StructuredLogger
	lockConfig lock.Config
	pool       *buffer.BytePool
}

// Config carries every dependency the engine composes.
type Config struct {
	VCS        types.VCSAdapter
	Escalator  *privilege.Escalator
	TagStore   types.TagStore
	Pattern    func(sources, excludes []string) types.PatternMatcher
	Classifier types.Classifier
	Mediator   types.ConflictMediator
	UI         types.UIHandler
	Status     types.StatusTracker
	Metrics    *metrics.Collector
	Logger     *utils.StructuredLogger
	LockConfig lock.Config
}

// New builds an Engine from cfg.
func New(cfg Config) *Engine {
	return &Engine{
		vcs:        cfg.VCS,
		escalator:  cfg.Escalator,
		tagStore:   cfg.TagStore,
		pattern:    cfg.Pattern,
		classifier: cfg.Classifier,
		mediator:   cfg.Mediator,
		ui:         cfg.UI,
		status:     cfg.Status,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger.WithComponent("sync"),
		lockConfig: cfg.LockConfig,
		pool:       buffer.NewBytePool(),
	}
}

func (e *Engine) lockerFor(project *types.Project) *lock.Manager {
	basePath := filepath.Join(project.ProductionDir, internalStateDir, "lock", "production_lock")
	return lock.New(basePath, e.lockConfig, e.escalator, project.Group, e.logger, e.metrics)
}

func (e *Engine) track(op types.OperationKind, project string) (id string, finish func(outcome types.OperationOutcome, detail string)) {
	start := time.Now()
	if e.status != nil {
		id = e.status.Start(project, op)
	}
	return id, func(outcome types.OperationOutcome, detail string) {
		if e.status != nil {
			e.status.Finish(id, outcome, detail)
		}
		if e.metrics != nil {
			e.metrics.RecordOperation(string(op), time.Since(start), 0, outcome == types.OutcomeSuccess)
		}
	}
}

// Download synchronizes Production's current state into Work, per §4.H.1.
func (e *Engine) Download(ctx context.Context, project *types.Project) (err error) {
	_, finish := e.track(types.OpDownload, project.Name)
	outcome := types.OutcomeFailed
	detail := ""
	defer func() {
		finish(outcome, detail)
	}()

	if err = ensureDir(project.WorkDir); err != nil {
		return err
	}

	locker := e.lockerFor(project)
	if err = locker.Acquire(ctx, lockAcquireTimeout); err != nil {
		return err
	}
	defer locker.Release()

	priv := e.escalator.Handle(project.Group)
	matcher := e.pattern(project.Sources, project.Excludes)

	tag, present, err := e.tagStore.Read(ctx, project)
	if err != nil {
		return err
	}

	if present && tag.SourcesHash != "" {
		currentHash := fmt.Sprintf("%08x", tagstore.SourcesHash(project.Sources))
		if currentHash != tag.SourcesHash {
			ok, confirmErr := e.ui.Confirm(ctx, "SOURCES patterns changed since the last sync; continue anyway?")
			if confirmErr != nil {
				return confirmErr
			}
			if !ok {
				detail = "canceled: sources changed"
				outcome = types.OutcomeFailed
				return errors.NewError(errors.ErrCodeOperationCanceled, "download canceled: sources-hash mismatch")
			}
		}
	}

	if !e.vcs.IsRepo(project.ProductionDir) {
		if err = e.bootstrapProduction(ctx, project, matcher, priv); err != nil {
			return err
		}
	}

	if err = e.autoCaptureDirectEdits(ctx, project, matcher, priv); err != nil {
		return err
	}

	firstDownload := !e.vcs.IsRepo(project.WorkDir)
	if firstDownload {
		if err = ensureDir(project.WorkDir); err != nil {
			return err
		}
		if err = e.vcs.Init(ctx, project.WorkDir, nil); err != nil {
			return err
		}
		if err = e.vcs.ConfigureIdentity(ctx, project.WorkDir, false, nil); err != nil {
			return err
		}
		if err = e.vcs.ConfigureSafeDirectory(ctx, project.WorkDir, nil); err != nil {
			return err
		}
	}

	gitignoreChanged, err := e.syncGitignore(ctx, project)
	if err != nil {
		return err
	}

	files, err := matcher.Match(ctx, project.ProductionDir, false)
	if err != nil {
		return err
	}

	var newlyAdded []string
	unresolved := false

	for _, f := range files {
		state, classifyErr := e.classifier.Classify(ctx, project, tag, f.RelPath)
		if classifyErr != nil {
			return classifyErr
		}

		switch state {
		case types.StateSame, types.StateModified:
			// nothing to do: local changes are uploaded separately.
		case types.StateUpdated:
			existed := fileExists(filepath.Join(project.WorkDir, f.RelPath))
			if err = copyFile(e.pool, f.AbsPath, filepath.Join(project.WorkDir, f.RelPath)); err != nil {
				return err
			}
			if !existed {
				newlyAdded = append(newlyAdded, f.RelPath)
			}
		case types.StateConflicted:
			decision, mediateErr := e.mediator.Resolve(ctx, project, f.RelPath)
			if mediateErr != nil {
				return mediateErr
			}
			switch decision {
			case types.ConflictSkip:
				unresolved = true
			case types.ConflictTakeTheirs:
				if err = e.vcs.Add(ctx, project.WorkDir, []string{f.RelPath}, nil); err != nil {
					return err
				}
			}
		}
	}

	if !unresolved {
		if err = e.tagStore.Save(ctx, project, true); err != nil {
			return err
		}
	}

	if gitignoreChanged {
		detail = "gitignore changed; work index refreshed, run Save to commit"
	} else if len(newlyAdded) > 0 {
		message := fmt.Sprintf("Added %d file(s) from production", len(newlyAdded))
		if firstDownload {
			message = "Initial download from production"
			if err = e.vcs.Add(ctx, project.WorkDir, []string{"."}, nil); err != nil {
				return err
			}
		} else if err = e.vcs.Add(ctx, project.WorkDir, newlyAdded, nil); err != nil {
			return err
		}
		if hasChanges, changesErr := e.vcs.HasChanges(ctx, project.WorkDir); changesErr == nil && hasChanges {
			if err = e.vcs.Commit(ctx, project.WorkDir, message, "", nil); err != nil {
				return err
			}
		}
	}

	if unresolved {
		outcome = types.OutcomeConflicted
		detail = "one or more conflicts were skipped; tag not updated"
	} else {
		outcome = types.OutcomeSuccess
	}
	return nil
}

// Upload synchronizes Work's changes into Production, per §4.H.2.
func (e *Engine) Upload(ctx context.Context, project *types.Project, message string) (err error) {
	_, finish := e.track(types.OpUpload, project.Name)
	outcome := types.OutcomeFailed
	detail := ""
	defer func() { finish(outcome, detail) }()

	if !e.vcs.IsRepo(project.WorkDir) {
		return errors.NewError(errors.ErrCodeVCSNotRepository, "work directory is not version-controlled; run Download first")
	}
	if !dirExists(project.ProductionDir) {
		return errors.NewError(errors.ErrCodePathInvalid, "production directory does not exist")
	}

	tag, present, err := e.tagStore.Read(ctx, project)
	if err != nil {
		return err
	}
	if present {
		head, headErr := e.vcs.Head(ctx, project.ProductionDir)
		if headErr == nil && head != tag.Commit {
			return errors.NewError(errors.ErrCodeVCSTagInvalid,
				"production has moved past your last sync point; run Download before uploading").
				WithContext("tag_commit", tag.Commit).WithContext("production_head", head)
		}
	}

	locker := e.lockerFor(project)
	if err = locker.Acquire(ctx, lockAcquireTimeout); err != nil {
		return err
	}
	defer locker.Release()

	priv := e.escalator.Handle(project.Group)
	matcher := e.pattern(project.Sources, project.Excludes)

	if err = e.autoCaptureDirectEdits(ctx, project, matcher, priv); err != nil {
		return err
	}

	candidates, err := matcher.Match(ctx, project.WorkDir, true)
	if err != nil {
		return err
	}

	var modified []types.MatchedFile
	var conflicted []string
	for _, f := range candidates {
		state, classifyErr := e.classifier.Classify(ctx, project, tag, f.RelPath)
		if classifyErr != nil {
			return classifyErr
		}
		switch state {
		case types.StateModified:
			modified = append(modified, f)
		case types.StateConflicted:
			conflicted = append(conflicted, f.RelPath)
		}
	}

	if len(conflicted) > 0 {
		sort.Strings(conflicted)
		return errors.NewError(errors.ErrCodeUnresolvedConflict, "upload aborted: conflicted paths must be resolved via download first").
			WithContext("paths", strings.Join(conflicted, ", "))
	}

	if len(modified) == 0 {
		detail = "nothing to upload"
		outcome = types.OutcomeSuccess
		return nil
	}

	if ok, confirmErr := e.ui.Confirm(ctx, fmt.Sprintf("Upload %d changed file(s) to production?", len(modified))); confirmErr != nil {
		return confirmErr
	} else if !ok {
		detail = "canceled by user"
		return errors.NewError(errors.ErrCodeOperationCanceled, "upload canceled")
	}

	if message == "" {
		message, err = e.ui.PromptMessage(ctx, "Commit message", "Work changes")
		if err != nil {
			return err
		}
	}

	var uploaded []string
	for _, f := range modified {
		prodPath := filepath.Join(project.ProductionDir, f.RelPath)
		if err = e.backupIfPresent(ctx, project, prodPath, priv); err != nil {
			return err
		}
		if err = e.escalatedCopy(ctx, f.AbsPath, prodPath, priv); err != nil {
			return err
		}
		uploaded = append(uploaded, f.RelPath)
	}

	if err = e.vcs.Add(ctx, project.ProductionDir, uploaded, priv); err != nil {
		return err
	}
	author := invokingUserAuthor()
	if err = e.vcs.Commit(ctx, project.ProductionDir, message, author, priv); err != nil {
		return err
	}

	if err = e.tagStore.Save(ctx, project, true); err != nil {
		return err
	}

	outcome = types.OutcomeSuccess
	detail = fmt.Sprintf("uploaded %d file(s)", len(uploaded))
	return nil
}

// Save commits Work's in-SOURCES changes, per §4.H.3.
func (e *Engine) Save(ctx context.Context, project *types.Project, message string) (err error) {
	_, finish := e.track(types.OpSave, project.Name)
	outcome := types.OutcomeFailed
	detail := ""
	defer func() { finish(outcome, detail) }()

	if !e.vcs.IsRepo(project.WorkDir) {
		return errors.NewError(errors.ErrCodeVCSNotRepository, "work directory is not version-controlled")
	}

	status, err := e.vcs.StatusShort(ctx, project.WorkDir)
	if err != nil {
		return err
	}

	matcher := e.pattern(project.Sources, project.Excludes)
	var inSources, outOfSources []string
	for _, s := range status {
		if matcher.Accepts(s.Path) {
			inSources = append(inSources, s.Path)
		} else {
			outOfSources = append(outOfSources, s.Path)
		}
	}

	if len(outOfSources) > 0 {
		e.logger.Warn("changed files outside sources will be left uncommitted", map[string]interface{}{
			"project": project.Name, "paths": strings.Join(outOfSources, ", "),
		})
	}

	if len(inSources) == 0 {
		detail = "nothing to save"
		outcome = types.OutcomeSuccess
		return nil
	}

	if message == "" {
		message, err = e.ui.PromptMessage(ctx, "Commit message", "Work changes")
		if err != nil {
			return err
		}
	}

	if err = e.vcs.Add(ctx, project.WorkDir, inSources, nil); err != nil {
		return err
	}
	if err = e.vcs.Commit(ctx, project.WorkDir, message, "", nil); err != nil {
		return err
	}

	outcome = types.OutcomeSuccess
	detail = fmt.Sprintf("saved %d file(s)", len(inSources))
	return nil
}

// Rollback discards uncommitted Work changes and optionally reverts to an
// earlier commit, per §4.H.4.
func (e *Engine) Rollback(ctx context.Context, project *types.Project, commit string) (err error) {
	_, finish := e.track(types.OpRollback, project.Name)
	outcome := types.OutcomeFailed
	defer func() { finish(outcome, "") }()

	if ok, confirmErr := e.ui.Confirm(ctx, "Uncommitted work will be discarded. Continue?"); confirmErr != nil {
		return confirmErr
	} else if !ok {
		return errors.NewError(errors.ErrCodeOperationCanceled, "rollback canceled")
	}

	if err = e.vcs.CheckoutHead(ctx, project.WorkDir, "."); err != nil {
		return err
	}

	head, err := e.vcs.Head(ctx, project.WorkDir)
	if err != nil {
		return err
	}

	if commit != "" && commit != head {
		if err = e.vcs.RevertRange(ctx, project.WorkDir, commit, head); err != nil {
			return err
		}
	}

	outcome = types.OutcomeSuccess
	return nil
}

// Export archives a Production commit to a zip file, per §4.H.4.
func (e *Engine) Export(ctx context.Context, project *types.Project, commit, destPath string) (err error) {
	_, finish := e.track(types.OpExport, project.Name)
	outcome := types.OutcomeFailed
	defer func() { finish(outcome, destPath) }()

	locker := e.lockerFor(project)
	if err = locker.Acquire(ctx, lockAcquireTimeout); err != nil {
		return err
	}
	defer locker.Release()

	if destPath == "" {
		shortID := commit
		if len(shortID) > 8 {
			shortID = shortID[:8]
		}
		destPath = filepath.Join(os.TempDir(), sanitizeFilename(project.Name)+"_"+shortID+".zip")
	} else if err = utils.ValidatePath(destPath, true); err != nil {
		return errors.NewError(errors.ErrCodePathInvalid, "export destination path is invalid").WithCause(err)
	}

	if err = e.vcs.ArchiveZip(ctx, project.ProductionDir, commit, destPath); err != nil {
		return err
	}

	outcome = types.OutcomeSuccess
	return nil
}

func (e *Engine) bootstrapProduction(ctx context.Context, project *types.Project, matcher types.PatternMatcher, priv types.Privilege) error {
	if err := e.vcs.Init(ctx, project.ProductionDir, priv); err != nil {
		return err
	}
	if err := e.vcs.ConfigureIdentity(ctx, project.ProductionDir, true, priv); err != nil {
		return err
	}
	if err := e.vcs.ConfigureSafeDirectory(ctx, project.ProductionDir, priv); err != nil {
		return err
	}
	if err := writeGitignore(project); err != nil {
		return err
	}

	files, err := matcher.Match(ctx, project.ProductionDir, false)
	if err != nil {
		return err
	}
	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.RelPath)
	}
	paths = append(paths, ".gitignore")

	if err := e.vcs.Add(ctx, project.ProductionDir, paths, priv); err != nil {
		return err
	}
	return e.vcs.Commit(ctx, project.ProductionDir, "Initial production repository", "", priv)
}

func (e *Engine) autoCaptureDirectEdits(ctx context.Context, project *types.Project, matcher types.PatternMatcher, priv types.Privilege) error {
	status, err := e.vcs.StatusShort(ctx, project.ProductionDir)
	if err != nil {
		return err
	}

	var inSources []string
	for _, s := range status {
		if matcher.Accepts(s.Path) {
			inSources = append(inSources, s.Path)
		}
	}
	if len(inSources) == 0 {
		return nil
	}

	if err := e.vcs.Add(ctx, project.ProductionDir, inSources, priv); err != nil {
		return err
	}
	return e.vcs.Commit(ctx, project.ProductionDir, "Auto-commit: Direct changes in production", "", priv)
}

// syncGitignore copies Production's .gitignore into Work whenever its
// content has changed, then refreshes Work's index so paths newly included
// or excluded by the updated rules are re-evaluated on the next status,
// instead of lingering under whichever rules they were staged under.
func (e *Engine) syncGitignore(ctx context.Context, project *types.Project) (changed bool, err error) {
	prodPath := filepath.Join(project.ProductionDir, ".gitignore")
	workPath := filepath.Join(project.WorkDir, ".gitignore")

	prodData, readErr := os.ReadFile(prodPath)
	if readErr != nil {
		return false, nil
	}
	workData, _ := os.ReadFile(workPath)
	if string(prodData) == string(workData) {
		return false, nil
	}

	if len(workData) > 0 {
		backupPath := workPath + ".bak." + time.Now().Format("20060102150405")
		if err := os.WriteFile(backupPath, workData, 0o644); err != nil {
			return false, errors.NewError(errors.ErrCodeBackupFailed, "failed to back up work .gitignore").WithCause(err)
		}
	}

	if err := os.WriteFile(workPath, prodData, 0o644); err != nil {
		return false, errors.NewError(errors.ErrCodeWriteFailed, "failed to sync .gitignore to work").WithCause(err)
	}

	if e.vcs.IsRepo(project.WorkDir) {
		if err := e.vcs.RefreshIndex(ctx, project.WorkDir, nil); err != nil {
			return true, errors.NewError(errors.ErrCodeVCSCommandFailed, "failed to refresh work index after gitignore change").WithCause(err)
		}
	}
	return true, nil
}

func (e *Engine) backupIfPresent(ctx context.Context, project *types.Project, prodPath string, priv types.Privilege) error {
	if !fileExists(prodPath) {
		return nil
	}

	backupDir := filepath.Join(filepath.Dir(prodPath), "backup")
	base := filepath.Base(prodPath)
	timestamp := time.Now().Format("0601021504")
	backupName := fmt.Sprintf("%s_cccopy_000000_%s", base, timestamp)
	backupPath := filepath.Join(backupDir, backupName)

	mkdirCmd := fmt.Sprintf("mkdir -p %s", shellQuote(backupDir))
	if _, err := priv.Run(ctx, mkdirCmd, 10*time.Second); err != nil {
		return errors.NewError(errors.ErrCodeBackupFailed, "failed to create backup directory").WithCause(err)
	}

	copyCmd := fmt.Sprintf("cp -p -- %s %s", shellQuote(prodPath), shellQuote(backupPath))
	if _, err := priv.Run(ctx, copyCmd, 30*time.Second); err != nil {
		return errors.NewError(errors.ErrCodeBackupFailed, "failed to back up production file").WithContext("path", prodPath).WithCause(err)
	}

	return e.enforceBackupRetention(ctx, backupDir, base, project.BackupCount, priv)
}

func (e *Engine) enforceBackupRetention(ctx context.Context, backupDir, base string, retain int, priv types.Privilege) error {
	entries, err := os.ReadDir(backupDir)
	if err != nil {
		return nil
	}

	prefix := base + "_cccopy_"
	var candidates []string
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), prefix) {
			candidates = append(candidates, entry.Name())
		}
	}
	sort.Strings(candidates)

	if retain < 0 {
		retain = 0
	}
	for len(candidates) > retain {
		oldest := candidates[0]
		candidates = candidates[1:]
		rmCmd := fmt.Sprintf("rm -f -- %s", shellQuote(filepath.Join(backupDir, oldest)))
		if _, err := priv.Run(ctx, rmCmd, 10*time.Second); err != nil {
			return errors.NewError(errors.ErrCodeBackupFailed, "failed to prune backup").WithContext("path", oldest).WithCause(err)
		}
	}
	return nil
}

func (e *Engine) escalatedCopy(ctx context.Context, src, dst string, priv types.Privilege) error {
	mkdirCmd := fmt.Sprintf("mkdir -p %s", shellQuote(filepath.Dir(dst)))
	if _, err := priv.Run(ctx, mkdirCmd, 10*time.Second); err != nil {
		return errors.NewError(errors.ErrCodeCopyFailed, "failed to create production parent directory").WithCause(err)
	}
	copyCmd := fmt.Sprintf("cp -p -- %s %s", shellQuote(src), shellQuote(dst))
	if _, err := priv.Run(ctx, copyCmd, 60*time.Second); err != nil {
		return errors.NewError(errors.ErrCodeCopyFailed, "failed to copy work file into production").WithContext("dst", dst).WithCause(err)
	}
	return nil
}

func writeGitignore(project *types.Project) error {
	lines := []string{internalStateDir + "/"}
	lines = append(lines, project.Excludes...)
	content := strings.Join(lines, "\n") + "\n"
	return os.WriteFile(filepath.Join(project.ProductionDir, ".gitignore"), []byte(content), 0o644)
}

func copyFile(pool *buffer.BytePool, src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.NewError(errors.ErrCodeCopyFailed, "failed to create destination directory").WithContext("dst", dst).WithCause(err)
	}

	in, err := os.Open(src)
	if err != nil {
		return errors.NewError(errors.ErrCodeCopyFailed, "failed to open source file").WithContext("src", src).WithCause(err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return errors.NewError(errors.ErrCodeCopyFailed, "failed to create destination file").WithContext("dst", dst).WithCause(err)
	}
	defer out.Close()

	buf := pool.GetBuffer(256 * 1024)
	defer pool.PutBuffer(buf)

	for {
		n, readErr := in.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				return errors.NewError(errors.ErrCodeCopyFailed, "failed to write destination file").WithContext("dst", dst).WithCause(writeErr)
			}
		}
		if readErr != nil {
			break
		}
	}

	if info, statErr := os.Stat(src); statErr == nil {
		_ = os.Chtimes(dst, time.Now(), info.ModTime())
	}
	return nil
}

func ensureDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return errors.NewError(errors.ErrCodeWriteFailed, "failed to create directory").WithContext("path", path).WithCause(err)
	}
	return nil
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer("/", "_", " ", "_", "\\", "_")
	return replacer.Replace(name)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// invokingUserAuthor builds a git --author string for the user performing
// an Upload. git rejects a bare username, so fall back to a host-qualified
// placeholder email when none is configured.
func invokingUserAuthor() string {
	name := os.Getenv("USER")
	if name == "" {
		name = "unknown"
	}
	if email := os.Getenv("EMAIL"); email != "" {
		return fmt.Sprintf("%s <%s>", name, email)
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("%s <%s@%s>", name, name, host)
}
