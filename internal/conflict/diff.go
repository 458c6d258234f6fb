package conflict

import (
	"context"
	"os"
	"os/exec"
	"time"

	"github.com/cccopy/cccopy/pkg/errors"
)

const defaultDiffTimeout = 30 * time.Minute

// VSCodeDiffLauncher shells out to an editor's diff mode (CCCOPY_VSCODE_PATH,
// default "code") and blocks until it exits. Only the exit status is
// consulted; no attempt is made to parse output or infer a resolution from
// it, since the Conflict Mediator always re-asks its menu regardless of
// how the tool exited.
type VSCodeDiffLauncher struct {
	binPath string
}

// NewVSCodeDiffLauncher builds a launcher using binPath, or "code" from
// PATH if binPath is empty.
func NewVSCodeDiffLauncher(binPath string) *VSCodeDiffLauncher {
	if binPath == "" {
		binPath = "code"
	}
	return &VSCodeDiffLauncher{binPath: binPath}
}

// Launch runs the diff tool against (productionSnapshot, workFile) and
// waits for it to exit.
func (l *VSCodeDiffLauncher) Launch(ctx context.Context, productionSnapshot, workFile string) error {
	runCtx, cancel := context.WithTimeout(ctx, defaultDiffTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, l.binPath, "--wait", "--diff", productionSnapshot, workFile)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin

	if err := cmd.Run(); err != nil {
		return errors.NewError(errors.ErrCodeDiffLaunchFailed, "failed to launch diff tool").
			WithContext("production_snapshot", productionSnapshot).
			WithContext("work_file", workFile).
			WithCause(err)
	}
	return nil
}
