// Package privilege implements the Privilege Escalator: running a shell
// command under a named POSIX group's effective credentials without
// altering the caller's own process credentials, guarded by a circuit
// breaker so a string of failures fails fast instead of spawning doomed
// subprocesses.
package privilege

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/cccopy/cccopy/internal/circuit"
	"github.com/cccopy/cccopy/internal/metrics"
	"github.com/cccopy/cccopy/pkg/errors"
	"github.com/cccopy/cccopy/pkg/utils"
)

// Escalator runs commands under sg(1) (or an equivalent group-run helper)
// for the named group, or directly when group is empty or unrecognized.
type Escalator struct {
	breaker     *circuit.CircuitBreaker
	logger      *utils.StructuredLogger
	collector   *metrics.Collector
	knownGroups map[string]bool
}

// New builds an Escalator. knownGroups is consulted so that an absent or
// unrecognized group name falls back to running with the caller's own
// credentials rather than failing.
func New(knownGroups map[string]bool, logger *utils.StructuredLogger, collector *metrics.Collector) *Escalator {
	breakerConfig := circuit.Config{
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts circuit.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}

	return &Escalator{
		breaker:     circuit.NewCircuitBreaker("privilege-escalation", breakerConfig),
		logger:      logger.WithComponent("privilege"),
		collector:   collector,
		knownGroups: knownGroups,
	}
}

// Run executes cmd, escalated to group's effective credentials if group is
// known and non-empty. On non-zero exit when check is true, returns a
// PrivilegeError carrying the command, captured stderr, and exit status.
func (e *Escalator) Run(ctx context.Context, group, cmd string, timeout time.Duration, check bool, description string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout string
	breakerErr := e.breaker.Execute(func() error {
		out, runErr := e.exec(runCtx, group, cmd, check)
		stdout = out
		return runErr
	})

	outcome := "success"
	if breakerErr != nil {
		outcome = "failure"
	}
	if e.collector != nil {
		e.collector.RecordOperation("privilege_escalation", 0, 0, outcome == "success")
	}

	if breakerErr == circuit.ErrOpenState {
		e.logger.Warn("escalation circuit open", map[string]interface{}{"description": description})
		return "", errors.NewError(errors.ErrCodeEscalationDenied,
			"circuit open: privilege escalation is failing repeatedly, check group membership and sg availability").
			WithContext("description", description)
	}

	if breakerErr != nil {
		e.logger.Warn("escalation failed", map[string]interface{}{"description": description, "error": breakerErr.Error()})
		return "", breakerErr
	}

	e.logger.Info("escalation succeeded", map[string]interface{}{"description": description})
	return stdout, nil
}

// Handle binds an Escalator to a fixed group, implementing types.Privilege
// so VCS adapter write methods can accept it without knowing about groups
// or the circuit breaker beneath them.
type Handle struct {
	escalator *Escalator
	group     string
}

// Handle returns a types.Privilege bound to group, for passing to
// VCSAdapter write methods and the Conflict Mediator's "take mine" action.
func (e *Escalator) Handle(group string) *Handle {
	return &Handle{escalator: e, group: group}
}

// Run implements types.Privilege.
func (h *Handle) Run(ctx context.Context, cmd string, timeout time.Duration) (string, error) {
	return h.escalator.Run(ctx, h.group, cmd, timeout, true, cmd)
}

func (e *Escalator) exec(ctx context.Context, group, cmdStr string, check bool) (string, error) {
	var cmd *exec.Cmd
	if group != "" && e.knownGroups[group] {
		cmd = exec.CommandContext(ctx, "sg", group, "-c", cmdStr)
	} else {
		cmd = exec.CommandContext(ctx, "sh", "-c", cmdStr)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil && check {
		return "", errors.NewError(errors.ErrCodeEscalationFailed, "escalated command failed").
			WithContext("command", cmdStr).
			WithContext("stderr", stderr.String()).
			WithCause(err)
	}

	return stdout.String(), nil
}
