// Package pattern implements the SOURCES/EXCLUDES glob matcher that
// decides which files under a project root participate in sync.
package pattern

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/cccopy/cccopy/pkg/errors"
	"github.com/cccopy/cccopy/pkg/types"
)

// Matcher enumerates files selected by a project's SOURCES patterns, minus
// anything matched by EXCLUDES or, if provided, a .gitignore-style list.
// It performs no I/O beyond directory enumeration: no stat, no hash.
type Matcher struct {
	sources   []string
	excludes  []string
	gitignore []string
}

// New builds a Matcher from a project's SOURCES and EXCLUDES pattern
// lists, and an optional third gitignore-style list (the SUPPLEMENTED
// .gitignore-aware filtering).
func New(sources, excludes, gitignore []string) *Matcher {
	return &Matcher{sources: sources, excludes: excludes, gitignore: gitignore}
}

// Match walks baseDir and yields every file selected by SOURCES and not
// dropped by EXCLUDES or the gitignore list. When includeWorkOnly is true,
// files present only under baseDir (i.e. this is being called against
// Work, per Upload step 3) are still yielded as long as their relative
// path matches a SOURCES pattern; the flag exists so callers can document
// intent, since Match always walks whatever baseDir actually contains.
func (m *Matcher) Match(ctx context.Context, baseDir string, includeWorkOnly bool) ([]types.MatchedFile, error) {
	var out []types.MatchedFile

	err := filepath.Walk(baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(baseDir, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}

		if info.IsDir() {
			if !m.dirMayContainMatch(rel) {
				return filepath.SkipDir
			}
			return nil
		}

		if m.Accepts(rel) {
			out = append(out, types.MatchedFile{AbsPath: path, RelPath: rel})
		}
		return nil
	})
	if err != nil {
		return nil, errors.NewError(errors.ErrCodePathInvalid, "failed to enumerate project files").WithCause(err)
	}

	return out, nil
}

// Accepts reports whether relPath is selected by SOURCES and not dropped
// by EXCLUDES or the gitignore list.
func (m *Matcher) Accepts(relPath string) bool {
	if !matchesAny(m.sources, relPath, false) {
		return false
	}
	if matchesAny(m.excludes, relPath, false) {
		return false
	}
	if len(m.gitignore) > 0 && matchesAny(m.gitignore, relPath, false) {
		return false
	}
	return true
}

// dirMayContainMatch reports whether any SOURCES pattern could plausibly
// match a descendant of rel, so the browser view can collapse deep empty
// branches instead of walking them.
func (m *Matcher) dirMayContainMatch(rel string) bool {
	for _, pat := range m.sources {
		if patternMayDescend(pat, rel) {
			return true
		}
	}
	return false
}

func patternMayDescend(pattern, dir string) bool {
	pattern = strings.TrimSuffix(pattern, "/")
	first := strings.Split(pattern, "/")[0]
	if first == "**" || strings.Contains(pattern, "**") {
		return true
	}
	dirFirst := strings.SplitN(dir, string(filepath.Separator), 2)[0]
	ok, _ := filepath.Match(first, dirFirst)
	return ok || first == dirFirst
}

func matchesAny(patterns []string, relPath string, dirOnly bool) bool {
	for _, pat := range patterns {
		if matchOne(pat, relPath) {
			return true
		}
	}
	return false
}

// matchOne implements the pattern semantics named in the component design:
// "AAA/**" matches anything whose first segment is AAA; "AAA/*" matches
// direct children of AAA that are files; "**/NAME" matches anything ending
// in NAME at any depth; plain glob characters follow POSIX glob semantics.
// A trailing "/" marks the pattern as matching a directory by name rather
// than a file: "**/backup/" must exclude every file beneath any ancestor
// directory named "backup" (e.g. "AAA/backup/x"), not just a file literally
// named "backup", so that case walks every ancestor segment of relPath
// instead of just its base name.
func matchOne(pattern, relPath string) bool {
	relPath = filepath.ToSlash(relPath)
	pattern = filepath.ToSlash(pattern)
	dirOnly := strings.HasSuffix(pattern, "/")
	pattern = strings.TrimSuffix(pattern, "/")

	switch {
	case strings.HasSuffix(pattern, "/**"):
		prefix := strings.TrimSuffix(pattern, "/**")
		return relPath == prefix || strings.HasPrefix(relPath, prefix+"/")

	case strings.HasSuffix(pattern, "/*"):
		prefix := strings.TrimSuffix(pattern, "/*")
		dir := filepath.Dir(relPath)
		return dir == prefix

	case strings.HasPrefix(pattern, "**/"):
		name := strings.TrimPrefix(pattern, "**/")
		if dirOnly {
			segments := strings.Split(relPath, "/")
			for _, seg := range segments[:len(segments)-1] {
				if ok, _ := filepath.Match(name, seg); ok {
					return true
				}
			}
			return false
		}
		base := filepath.Base(relPath)
		ok, _ := filepath.Match(name, base)
		return ok

	default:
		ok, _ := filepath.Match(pattern, relPath)
		return ok
	}
}
