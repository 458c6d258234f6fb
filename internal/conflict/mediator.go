// Package conflict implements the Conflict Mediator: the per-file
// interactive menu for a CONFLICTED path and the filesystem/VCS actions
// each of its four choices carries out.
package conflict

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cccopy/cccopy/internal/privilege"
	"github.com/cccopy/cccopy/pkg/errors"
	"github.com/cccopy/cccopy/pkg/types"
)

// MenuPrompt is the narrow interface a UI front end implements to present
// the four-choice conflict menu and return the user's selection.
type MenuPrompt interface {
	PromptConflictChoice(ctx context.Context, relPath string) (types.ConflictDecision, error)
}

// VCS is the subset of the VCS adapter the mediator needs to carry out
// "take mine"'s staged Production commit.
type VCS interface {
	Add(ctx context.Context, dir string, paths []string, priv types.Privilege) error
	Commit(ctx context.Context, dir, message, author string, priv types.Privilege) error
}

// Mediator drives the conflict menu and carries out the chosen resolution.
// "Take mine" requires a Privilege handle since it writes to Production.
type Mediator struct {
	prompt    MenuPrompt
	diff      types.DiffLauncher
	vcs       VCS
	escalator *privilege.Escalator
}

// New builds a Mediator.
func New(prompt MenuPrompt, diff types.DiffLauncher, vcs VCS, escalator *privilege.Escalator) *Mediator {
	return &Mediator{prompt: prompt, diff: diff, vcs: vcs, escalator: escalator}
}

// Resolve presents the conflict menu for relPath and carries out the
// chosen action, re-presenting the menu after "external diff" since no
// resolution is inferred from the diff tool's exit status. Matches
// types.ConflictMediator.
func (m *Mediator) Resolve(ctx context.Context, project *types.Project, relPath string) (types.ConflictDecision, error) {
	for {
		decision, err := m.prompt.PromptConflictChoice(ctx, relPath)
		if err != nil {
			return types.ConflictSkip, err
		}

		switch decision {
		case types.ConflictDiff:
			if err := m.launchDiff(ctx, project, relPath); err != nil {
				return types.ConflictSkip, err
			}
			continue

		case types.ConflictTakeTheirs:
			if err := m.takeTheirs(project, relPath); err != nil {
				return types.ConflictSkip, err
			}
			return types.ConflictTakeTheirs, nil

		case types.ConflictTakeMine:
			if err := m.takeMine(ctx, project, relPath); err != nil {
				return types.ConflictSkip, err
			}
			return types.ConflictTakeMine, nil

		case types.ConflictSkip:
			return types.ConflictSkip, nil

		default:
			return types.ConflictSkip, errors.NewError(errors.ErrCodeValidationFailed, "unknown conflict decision")
		}
	}
}

func (m *Mediator) launchDiff(ctx context.Context, project *types.Project, relPath string) error {
	prodFile := filepath.Join(project.ProductionDir, relPath)
	workFile := filepath.Join(project.WorkDir, relPath)

	snapshot, err := snapshotReadOnly(prodFile)
	if err != nil {
		return err
	}
	defer os.Remove(snapshot)

	// The menu is asked again however the tool exited, so its exit status
	// is not turned into an error here.
	_ = m.diff.Launch(ctx, snapshot, workFile)
	return nil
}

func (m *Mediator) takeTheirs(project *types.Project, relPath string) error {
	prodFile := filepath.Join(project.ProductionDir, relPath)
	workFile := filepath.Join(project.WorkDir, relPath)
	return copyFile(prodFile, workFile)
}

func (m *Mediator) takeMine(ctx context.Context, project *types.Project, relPath string) error {
	prodFile := filepath.Join(project.ProductionDir, relPath)
	workFile := filepath.Join(project.WorkDir, relPath)
	priv := m.escalator.Handle(project.Group)

	cmd := "cp -- " + shellQuote(workFile) + " " + shellQuote(prodFile)
	if _, err := priv.Run(ctx, cmd, 60*time.Second); err != nil {
		return errors.NewError(errors.ErrCodeCopyFailed, "failed to copy work version into production").
			WithContext("path", relPath).WithCause(err)
	}

	if err := m.vcs.Add(ctx, project.ProductionDir, []string{relPath}, priv); err != nil {
		return err
	}
	return m.vcs.Commit(ctx, project.ProductionDir, "Resolve conflict: Use work version", "", priv)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func snapshotReadOnly(path string) (string, error) {
	tmp, err := os.CreateTemp("", "cccopy-conflict-*"+filepath.Ext(path))
	if err != nil {
		return "", errors.NewError(errors.ErrCodeWriteFailed, "failed to create diff snapshot").WithCause(err)
	}
	defer tmp.Close()

	if err := copyFile(path, tmp.Name()); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Chmod(tmp.Name(), 0o400); err != nil {
		os.Remove(tmp.Name())
		return "", errors.NewError(errors.ErrCodeWriteFailed, "failed to mark diff snapshot read-only").WithCause(err)
	}
	return tmp.Name(), nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return errors.NewError(errors.ErrCodeCopyFailed, "failed to read source file").WithContext("src", src).WithCause(err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.NewError(errors.ErrCodeCopyFailed, "failed to create destination directory").WithContext("dst", dst).WithCause(err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return errors.NewError(errors.ErrCodeCopyFailed, "failed to write destination file").WithContext("dst", dst).WithCause(err)
	}
	return nil
}
