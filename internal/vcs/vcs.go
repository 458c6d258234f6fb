// Package vcs wraps the external git binary. Every write against
// Production must be routed through a types.Privilege handle; reads never
// require one. Every invocation is retried per a short, fixed budget for
// transient error codes and logged at DEBUG (success) or WARN (failure).
package vcs

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/cccopy/cccopy/pkg/errors"
	"github.com/cccopy/cccopy/pkg/retry"
	"github.com/cccopy/cccopy/pkg/types"
	"github.com/cccopy/cccopy/pkg/utils"
)

const dummyIdentityName = "cccopy"
const dummyIdentityEmail = "cccopy@localhost"
const safeDirectoryMinVersion = "2.35.2"

// Adapter wraps the git binary found at BinPath (default "git").
type Adapter struct {
	binPath string
	retryer *retry.Retryer
	logger  *utils.StructuredLogger

	versionOnce   bool
	versionCached string
}

// New builds an Adapter. binPath may be empty to use "git" from PATH.
func New(binPath string, retryer *retry.Retryer, logger *utils.StructuredLogger) *Adapter {
	if binPath == "" {
		binPath = "git"
	}
	return &Adapter{binPath: binPath, retryer: retryer, logger: logger.WithComponent("vcsadapter")}
}

// IsRepo reports whether dir contains a git repository.
func (a *Adapter) IsRepo(dir string) bool {
	_, err := a.run(context.Background(), dir, nil, "rev-parse", "--git-dir")
	return err == nil
}

// Init initializes a repository at dir.
func (a *Adapter) Init(ctx context.Context, dir string, priv types.Privilege) error {
	_, err := a.run(ctx, dir, priv, "init")
	return err
}

// ConfigureIdentity sets the local identity to a synthetic service
// identity (useDummy true, for Production) or leaves the invoking user's
// global identity in effect (useDummy false, for Work).
func (a *Adapter) ConfigureIdentity(ctx context.Context, dir string, useDummy bool, priv types.Privilege) error {
	if !useDummy {
		return nil
	}
	if _, err := a.run(ctx, dir, priv, "config", "user.name", dummyIdentityName); err != nil {
		return err
	}
	_, err := a.run(ctx, dir, priv, "config", "user.email", dummyIdentityEmail)
	return err
}

// ConfigureSafeDirectory registers dir as a trusted location for
// cross-ownership access, on git versions that support safe.directory. On
// older versions it is a silent no-op.
func (a *Adapter) ConfigureSafeDirectory(ctx context.Context, dir string, priv types.Privilege) error {
	if !a.supportsSafeDirectory(ctx) {
		return nil
	}
	_, err := a.run(ctx, "", priv, "config", "--global", "--add", "safe.directory", dir)
	return err
}

// Add stages the enumerated relative paths. Per-file failures are logged
// and skipped so the caller can still attempt the remaining files.
func (a *Adapter) Add(ctx context.Context, dir string, paths []string, priv types.Privilege) error {
	for _, p := range paths {
		if _, err := a.run(ctx, dir, priv, "add", "--", p); err != nil {
			a.logger.Warn("failed to stage path", map[string]interface{}{"dir": dir, "path": p, "error": err.Error()})
		}
	}
	return nil
}

// RefreshIndex drops every currently tracked path from the index (without
// touching the working tree) and re-adds everything under dir, so a
// .gitignore edit takes effect against paths staged under the prior rules
// instead of lingering until they're individually touched.
func (a *Adapter) RefreshIndex(ctx context.Context, dir string, priv types.Privilege) error {
	if _, err := a.run(ctx, dir, priv, "rm", "-r", "--cached", "--quiet", "."); err != nil {
		a.logger.Warn("failed to clear index for gitignore refresh", map[string]interface{}{"dir": dir, "error": err.Error()})
	}
	_, err := a.run(ctx, dir, priv, "add", ".")
	return err
}

// HasChanges reports whether the working tree is dirty.
func (a *Adapter) HasChanges(ctx context.Context, dir string) (bool, error) {
	out, err := a.run(ctx, dir, nil, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// Commit commits staged changes. When priv is set (Production), author is
// embedded as the commit author even though the committer is the
// synthetic identity, so audit trails remain correct.
func (a *Adapter) Commit(ctx context.Context, dir, message, author string, priv types.Privilege) error {
	args := []string{"commit", "-m", message}
	if author != "" {
		args = append(args, "--author", author)
	}
	_, err := a.run(ctx, dir, priv, args...)
	return err
}

// Head returns the current commit identity.
func (a *Adapter) Head(ctx context.Context, dir string) (string, error) {
	out, err := a.run(ctx, dir, nil, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// BlobID returns the content hash of the current working-tree file, or
// MissingBlob if absent.
func (a *Adapter) BlobID(ctx context.Context, dir, path string) (types.BlobID, error) {
	out, err := a.run(ctx, dir, nil, "hash-object", path)
	if err != nil {
		return types.MissingBlob, nil
	}
	return types.BlobID(strings.TrimSpace(out)), nil
}

// BlobIDInCommit returns the content hash of path as of commit, or
// MissingBlob if it did not exist then.
func (a *Adapter) BlobIDInCommit(ctx context.Context, dir, commit, path string) (types.BlobID, error) {
	out, err := a.run(ctx, dir, nil, "ls-tree", commit, "--", path)
	if err != nil || strings.TrimSpace(out) == "" {
		return types.MissingBlob, nil
	}
	fields := strings.Fields(out)
	if len(fields) < 3 {
		return types.MissingBlob, nil
	}
	return types.BlobID(fields[2]), nil
}

// Log returns up to limit log entries, most recent first.
func (a *Adapter) Log(ctx context.Context, dir string, limit int) ([]types.LogEntry, error) {
	args := []string{"log", "--date=iso-strict", "--pretty=format:%h|%an|%ad|%s"}
	if limit > 0 {
		args = append(args, "-n", strconv.Itoa(limit))
	}
	out, err := a.run(ctx, dir, nil, args...)
	if err != nil {
		return nil, err
	}

	var entries []types.LogEntry
	scanner := bufio.NewScanner(strings.NewReader(out))
	seq := 0
	for scanner.Scan() {
		line := scanner.Text()
		parts := strings.SplitN(line, "|", 4)
		if len(parts) != 4 {
			continue
		}
		date, _ := time.Parse(time.RFC3339, parts[2])
		entries = append(entries, types.LogEntry{
			Seq:     seq,
			ShortID: parts[0],
			Author:  parts[1],
			Date:    date,
			Subject: parts[3],
		})
		seq++
	}
	return entries, nil
}

// FilesInCommit lists the files changed by commit and their status codes.
func (a *Adapter) FilesInCommit(ctx context.Context, dir, commit string) ([]types.FileStatusEntry, error) {
	out, err := a.run(ctx, dir, nil, "diff-tree", "--no-commit-id", "--root", "--name-status", "-r", commit)
	if err != nil {
		return nil, err
	}
	return parseStatusLines(out, "\t"), nil
}

// StatusShort returns the working tree's short status entries.
func (a *Adapter) StatusShort(ctx context.Context, dir string) ([]types.FileStatusEntry, error) {
	out, err := a.run(ctx, dir, nil, "status", "--porcelain")
	if err != nil {
		return nil, err
	}

	var entries []types.FileStatusEntry
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) < 4 {
			continue
		}
		entries = append(entries, types.FileStatusEntry{Code: strings.TrimSpace(line[:2]), Path: line[3:]})
	}
	return entries, nil
}

// CheckoutHead discards working-tree changes to path.
func (a *Adapter) CheckoutHead(ctx context.Context, dir, path string) error {
	_, err := a.run(ctx, dir, nil, "checkout", "HEAD", "--", path)
	return err
}

// RevertRange reverts (fromCommit, toHead] without committing, leaving the
// result staged for the caller to commit.
func (a *Adapter) RevertRange(ctx context.Context, dir, fromCommit, toHead string) error {
	rangeSpec := fmt.Sprintf("%s..%s", fromCommit, toHead)
	_, err := a.run(ctx, dir, nil, "revert", "--no-commit", rangeSpec)
	return err
}

// ArchiveZip archives commit to outPath as a zip file.
func (a *Adapter) ArchiveZip(ctx context.Context, dir, commit, outPath string) error {
	_, err := a.run(ctx, dir, nil, "archive", "--format=zip", "-o", outPath, commit)
	return err
}

func (a *Adapter) supportsSafeDirectory(ctx context.Context) bool {
	if a.versionOnce {
		return versionAtLeast(a.versionCached, safeDirectoryMinVersion)
	}
	out, err := a.run(ctx, "", nil, "version")
	a.versionOnce = true
	if err != nil {
		return false
	}
	fields := strings.Fields(out)
	if len(fields) < 3 {
		return false
	}
	a.versionCached = fields[2]
	return versionAtLeast(a.versionCached, safeDirectoryMinVersion)
}

func versionAtLeast(version, min string) bool {
	v := parseVersion(version)
	m := parseVersion(min)
	for i := 0; i < len(m); i++ {
		if i >= len(v) {
			return false
		}
		if v[i] != m[i] {
			return v[i] > m[i]
		}
	}
	return true
}

func parseVersion(s string) []int {
	parts := strings.Split(s, ".")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimFunc(p, func(r rune) bool { return r < '0' || r > '9' }))
		if err != nil {
			break
		}
		out = append(out, n)
	}
	return out
}

func parseStatusLines(out, sep string) []types.FileStatusEntry {
	var entries []types.FileStatusEntry
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		parts := strings.SplitN(line, sep, 2)
		if len(parts) != 2 {
			continue
		}
		entries = append(entries, types.FileStatusEntry{Code: parts[0], Path: parts[1]})
	}
	return entries
}

// retryableGitSubstrings are the git error texts the adapter's own retry
// budget (3 attempts) applies to: transient NFS I/O, "text file busy", and
// lock contention on git's own index file. A malformed repository is never
// retried.
var retryableGitSubstrings = []string{
	"index.lock",
	"text file busy",
	"Input/output error",
	"Resource temporarily unavailable",
}

func (a *Adapter) run(ctx context.Context, dir string, priv types.Privilege, args ...string) (string, error) {
	start := time.Now()
	var stdout string
	var lastErr error

	op := func(ctx context.Context) error {
		out, err := a.invoke(ctx, dir, priv, args...)
		stdout = out
		lastErr = err
		if err != nil && isRetryableGitError(err) {
			return errors.NewError(errors.ErrCodeVCSCommandFailed, "transient git failure").WithCause(err)
		}
		return nil
	}

	if a.retryer != nil {
		_ = a.retryer.DoWithContext(ctx, op)
	} else {
		_ = op(ctx)
	}

	duration := time.Since(start)
	fields := map[string]interface{}{"dir": dir, "args": args, "duration_ms": duration.Milliseconds()}
	if lastErr != nil {
		a.logger.Warn("git invocation failed", mergeFields(fields, map[string]interface{}{"error": lastErr.Error()}))
		return stdout, lastErr
	}
	a.logger.Debug("git invocation succeeded", fields)
	return stdout, nil
}

func (a *Adapter) invoke(ctx context.Context, dir string, priv types.Privilege, args ...string) (string, error) {
	if priv != nil {
		quoted := make([]string, len(args))
		for i, arg := range args {
			quoted[i] = shellQuote(arg)
		}
		cmdStr := fmt.Sprintf("%s -C %s %s", a.binPath, shellQuote(dir), strings.Join(quoted, " "))
		return priv.Run(ctx, cmdStr, 60*time.Second)
	}

	cmdArgs := args
	if dir != "" {
		cmdArgs = append([]string{"-C", dir}, args...)
	}
	cmd := exec.CommandContext(ctx, a.binPath, cmdArgs...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.String(), errors.NewError(errors.ErrCodeVCSCommandFailed, "git command failed").
			WithContext("args", strings.Join(args, " ")).
			WithContext("stderr", stderr.String()).
			WithCause(err)
	}
	return stdout.String(), nil
}

func isRetryableGitError(err error) bool {
	msg := err.Error()
	for _, sub := range retryableGitSubstrings {
		if strings.Contains(msg, sub) {
			return true
		}
	}
	return false
}

func mergeFields(base, extra map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
