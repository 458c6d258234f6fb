// Package textui implements the fallback text-mode front end
// (CCCOPY_FORCE_TEXT_MODE), satisfying types.UIHandler and the Conflict
// Mediator's MenuPrompt over stdin/stdout.
package textui

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/cccopy/cccopy/pkg/types"
)

// Handler is a blocking, line-oriented console UI.
type Handler struct {
	in  *bufio.Reader
	out *os.File
}

// New builds a Handler reading from stdin and writing to stdout.
func New() *Handler {
	return &Handler{in: bufio.NewReader(os.Stdin), out: os.Stdout}
}

// Confirm implements types.UIHandler.
func (h *Handler) Confirm(ctx context.Context, prompt string) (bool, error) {
	fmt.Fprintf(h.out, "%s [y/N]: ", prompt)
	line, err := h.in.ReadString('\n')
	if err != nil {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

// PromptMessage implements types.UIHandler.
func (h *Handler) PromptMessage(ctx context.Context, prompt, defaultValue string) (string, error) {
	fmt.Fprintf(h.out, "%s [%s]: ", prompt, defaultValue)
	line, err := h.in.ReadString('\n')
	if err != nil {
		return "", err
	}
	value := strings.TrimSpace(line)
	if value == "" {
		return defaultValue, nil
	}
	return value, nil
}

// ReportProgress implements types.UIHandler.
func (h *Handler) ReportProgress(ctx context.Context, phase string, current, total int) {
	fmt.Fprintf(h.out, "[%s] %d/%d\n", phase, current, total)
}

// Notify implements types.UIHandler.
func (h *Handler) Notify(ctx context.Context, level, message string) {
	fmt.Fprintf(h.out, "%s: %s\n", strings.ToUpper(level), message)
}

// PromptConflictChoice implements conflict.MenuPrompt.
func (h *Handler) PromptConflictChoice(ctx context.Context, relPath string) (types.ConflictDecision, error) {
	fmt.Fprintf(h.out, "\nConflict: %s\n  [d] diff  [t] take theirs (production)  [m] take mine (work)  [s] skip\nChoice: ", relPath)
	line, err := h.in.ReadString('\n')
	if err != nil {
		return types.ConflictSkip, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "d", "diff":
		return types.ConflictDiff, nil
	case "t", "theirs":
		return types.ConflictTakeTheirs, nil
	case "m", "mine":
		return types.ConflictTakeMine, nil
	default:
		return types.ConflictSkip, nil
	}
}
