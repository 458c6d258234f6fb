package pattern

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func TestMatcher_Accepts(t *testing.T) {
	t.Parallel()

	m := New(
		[]string{"docs/**", "src/*", "**/README.md"},
		[]string{"docs/private/**"},
		nil,
	)

	tests := []struct {
		name string
		path string
		want bool
	}{
		{"nested under docs", "docs/guide/intro.md", true},
		{"direct child of src", "src/main.go", true},
		{"nested under src not matched by single-star", "src/pkg/main.go", false},
		{"README anywhere", "a/b/README.md", true},
		{"excluded despite docs match", "docs/private/secret.md", false},
		{"outside all sources", "other/file.txt", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.Accepts(tt.path); got != tt.want {
				t.Errorf("Accepts(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestMatcher_Accepts_TrailingSlashExcludesAnyDepth(t *testing.T) {
	t.Parallel()

	m := New([]string{"AAA/**"}, []string{"**/backup/"}, nil)

	if m.Accepts(filepath.Join("AAA", "backup", "x")) {
		t.Error("expected a file nested under any backup/ directory to be excluded")
	}
	if m.Accepts(filepath.Join("AAA", "nested", "backup", "y")) {
		t.Error("expected backup/ exclusion to apply regardless of nesting depth")
	}
	if !m.Accepts(filepath.Join("AAA", "backup-plan.txt")) {
		t.Error("a file merely named like the pattern, not inside a backup/ directory, must still match")
	}
}

func TestMatcher_Accepts_Gitignore(t *testing.T) {
	t.Parallel()

	m := New([]string{"**/*.go"}, nil, []string{"vendor/**"})

	if m.Accepts("vendor/pkg/file.go") {
		t.Error("expected vendor/ to be dropped by the gitignore list")
	}
	if !m.Accepts("internal/pkg/file.go") {
		t.Error("expected a non-vendor go file to match")
	}
}

func TestMatcher_Match_WalksAndFilters(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	mustWriteFile(t, filepath.Join(dir, "docs", "guide.md"), "x")
	mustWriteFile(t, filepath.Join(dir, "docs", "private", "secret.md"), "x")
	mustWriteFile(t, filepath.Join(dir, "other", "skip.txt"), "x")

	m := New([]string{"docs/**"}, []string{"docs/private/**"}, nil)

	matched, err := m.Match(context.Background(), dir, false)
	if err != nil {
		t.Fatalf("Match returned error: %v", err)
	}

	var rels []string
	for _, f := range matched {
		rels = append(rels, f.RelPath)
	}
	sort.Strings(rels)

	want := []string{filepath.Join("docs", "guide.md")}
	if len(rels) != len(want) || rels[0] != want[0] {
		t.Errorf("Match() relpaths = %v, want %v", rels, want)
	}
}

func mustWriteFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
}
