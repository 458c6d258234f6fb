// Package tagstore reads and writes the per-project Production tag: the
// small file recording the Production commit (and optionally a SOURCES
// hash) a project was last synced against.
package tagstore

import (
	"context"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cccopy/cccopy/pkg/errors"
	"github.com/cccopy/cccopy/pkg/types"
)

const tagFileName = "production.tag"

// VCSHead is the subset of the VCS adapter the tag store needs to resolve
// "Production's current head" when saving.
type VCSHead interface {
	Head(ctx context.Context, dir string) (string, error)
}

// Store reads and writes tags under a per-project private state directory.
type Store struct {
	stateDir string
	vcs      VCSHead
}

// New creates a Store that persists tags under stateDir, one file per
// project keyed by project name.
func New(stateDir string, vcs VCSHead) *Store {
	return &Store{stateDir: stateDir, vcs: vcs}
}

// Read returns the project's current tag. The second return value is false
// if no tag has ever been written.
func (s *Store) Read(ctx context.Context, project *types.Project) (types.ProductionTag, bool, error) {
	data, err := os.ReadFile(s.tagPath(project.Name))
	if err != nil {
		if os.IsNotExist(err) {
			return types.ProductionTag{}, false, nil
		}
		return types.ProductionTag{}, false, errors.NewError(errors.ErrCodeFileNotFound, "failed to read production tag").WithCause(err)
	}

	content := strings.TrimSpace(string(data))
	if content == "" {
		return types.ProductionTag{}, false, nil
	}

	parts := strings.SplitN(content, ":", 2)
	tag := types.ProductionTag{Commit: parts[0]}
	if len(parts) == 2 {
		tag.SourcesHash = parts[1]
	}
	return tag, true, nil
}

// Save queries the VCS adapter for Production's current head and
// atomically writes it as the project's new tag, optionally appending the
// CRC-32 of the sorted SOURCES pattern list.
func (s *Store) Save(ctx context.Context, project *types.Project, includeHash bool) error {
	head, err := s.vcs.Head(ctx, project.ProductionDir)
	if err != nil {
		return errors.NewError(errors.ErrCodeVCSCommandFailed, "failed to read production head").WithCause(err)
	}

	content := head
	if includeHash {
		content = fmt.Sprintf("%s:%08x", head, SourcesHash(project.Sources))
	}

	return atomicWrite(s.tagPath(project.Name), content)
}

// SourcesHash computes the CRC-32 of the SOURCES pattern list joined in
// lexicographic order, matching the hash embedded in the tag file.
func SourcesHash(sources []string) uint32 {
	sorted := append([]string(nil), sources...)
	sort.Strings(sorted)
	return crc32.ChecksumIEEE([]byte(strings.Join(sorted, "\n")))
}

func (s *Store) tagPath(projectName string) string {
	return filepath.Join(s.stateDir, projectName, tagFileName)
}

func atomicWrite(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.NewError(errors.ErrCodeWriteFailed, "failed to create tag directory").WithCause(err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return errors.NewError(errors.ErrCodeWriteFailed, "failed to write tag file").WithCause(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.NewError(errors.ErrCodeWriteFailed, "failed to finalize tag file").WithCause(err)
	}
	return nil
}
