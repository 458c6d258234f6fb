package textui

import (
	"bufio"
	"context"
	"os"
	"strings"
	"testing"

	"github.com/cccopy/cccopy/pkg/types"
)

func newTestHandler(t *testing.T, input string) (*Handler, *os.File) {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe failed: %v", err)
	}
	t.Cleanup(func() { r.Close() })

	outR, outW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe failed: %v", err)
	}
	t.Cleanup(func() { outR.Close(); outW.Close() })

	if _, err := w.WriteString(input); err != nil {
		t.Fatal(err)
	}
	w.Close()

	return &Handler{in: bufio.NewReader(r), out: outW}, outR
}

func TestHandler_Confirm(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"yes\n", true},
		{"Y\n", true},
		{"n\n", false},
		{"\n", false},
		{"anything\n", false},
	}
	for _, tt := range tests {
		h, _ := newTestHandler(t, tt.input)
		got, err := h.Confirm(context.Background(), "proceed?")
		if err != nil {
			t.Fatalf("Confirm(%q) error: %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("Confirm(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestHandler_PromptMessage(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandler(t, "custom message\n")
	got, err := h.PromptMessage(context.Background(), "commit message", "default msg")
	if err != nil {
		t.Fatalf("PromptMessage failed: %v", err)
	}
	if got != "custom message" {
		t.Errorf("PromptMessage = %q, want %q", got, "custom message")
	}
}

func TestHandler_PromptMessage_EmptyUsesDefault(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandler(t, "\n")
	got, err := h.PromptMessage(context.Background(), "commit message", "default msg")
	if err != nil {
		t.Fatalf("PromptMessage failed: %v", err)
	}
	if got != "default msg" {
		t.Errorf("PromptMessage = %q, want default %q", got, "default msg")
	}
}

func TestHandler_PromptConflictChoice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  types.ConflictDecision
	}{
		{"d\n", types.ConflictDiff},
		{"diff\n", types.ConflictDiff},
		{"t\n", types.ConflictTakeTheirs},
		{"theirs\n", types.ConflictTakeTheirs},
		{"m\n", types.ConflictTakeMine},
		{"mine\n", types.ConflictTakeMine},
		{"s\n", types.ConflictSkip},
		{"garbage\n", types.ConflictSkip},
	}
	for _, tt := range tests {
		h, _ := newTestHandler(t, tt.input)
		got, err := h.PromptConflictChoice(context.Background(), "file.txt")
		if err != nil {
			t.Fatalf("PromptConflictChoice(%q) error: %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("PromptConflictChoice(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestHandler_ReportProgress_And_Notify(t *testing.T) {
	t.Parallel()

	h, outR := newTestHandler(t, "")
	h.ReportProgress(context.Background(), "upload", 3, 10)
	h.Notify(context.Background(), "warn", "something happened")
	h.out.Close()

	buf := make([]byte, 4096)
	n, _ := outR.Read(buf)
	out := string(buf[:n])

	if !strings.Contains(out, "[upload] 3/10") {
		t.Errorf("output = %q, want it to contain progress line", out)
	}
	if !strings.Contains(out, "WARN: something happened") {
		t.Errorf("output = %q, want it to contain the notify line", out)
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	h := New()
	if h == nil {
		t.Fatal("New returned nil")
	}
}
