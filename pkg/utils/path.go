package utils

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidatePath checks a path for directory-traversal sequences and,
// optionally, rejects absolute paths. It's meant for values that flow into
// a filesystem join without first passing through filepath.Walk (which
// can never itself produce a ".." component) — a project ID read from
// ~/.cccopy/project/config.ini's LAST_PROJECT entry, or an Export
// destination path supplied on the command line.
//
// Returns an error if the path contains:
//   - ".." directory traversal sequences
//   - An absolute path when allowAbsolute is false
func ValidatePath(path string, allowAbsolute bool) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	cleanPath := filepath.Clean(path)

	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("path contains directory traversal: %s", path)
	}

	if !allowAbsolute && filepath.IsAbs(cleanPath) {
		return fmt.Errorf("absolute paths not allowed: %s", path)
	}

	return nil
}

// ValidatePathWithinBase confirms that path, once joined onto base, still
// resolves inside base. Used to confirm a per-user project override
// directory (~/.cccopy/project/<id>) can't be walked outside the project
// state directory by a crafted id.
func ValidatePathWithinBase(base, path string) error {
	if base == "" {
		return fmt.Errorf("base path cannot be empty")
	}
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	cleanBase := filepath.Clean(base)
	cleanPath := filepath.Clean(path)

	if filepath.IsAbs(cleanPath) {
		if !strings.HasPrefix(cleanPath, cleanBase+string(filepath.Separator)) &&
			cleanPath != cleanBase {
			return fmt.Errorf("path %s is outside base directory %s", path, base)
		}
		return nil
	}

	fullPath := filepath.Join(cleanBase, cleanPath)

	if !strings.HasPrefix(fullPath, cleanBase+string(filepath.Separator)) &&
		fullPath != cleanBase {
		return fmt.Errorf("path %s escapes base directory %s", path, base)
	}

	return nil
}

// SecureJoin joins elements onto base the way filepath.Join does, but
// rejects the result if it escapes base. internal/project uses this to
// build a project override's directory from a user-supplied project ID
// without trusting that ID to be free of "../" segments.
func SecureJoin(base string, elements ...string) (string, error) {
	if base == "" {
		return "", fmt.Errorf("base path cannot be empty")
	}

	cleanBase := filepath.Clean(base)

	fullPath := filepath.Join(append([]string{cleanBase}, elements...)...)

	if !strings.HasPrefix(fullPath, cleanBase+string(filepath.Separator)) &&
		fullPath != cleanBase {
		return "", fmt.Errorf("path escapes base directory")
	}

	return fullPath, nil
}
