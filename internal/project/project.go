// Package project resolves the effective project configuration: a
// template config overlaid with a per-user override. SOURCES and EXCLUDES
// sections are replaced wholesale by the override when present; every
// other section is merged key by key.
package project

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/cccopy/cccopy/pkg/errors"
	"github.com/cccopy/cccopy/pkg/types"
	"github.com/cccopy/cccopy/pkg/utils"
)

// Record is a per-user project override together with its assigned
// numeric identifier (the directory name under ~/.cccopy/project/<NNNN>).
type Record struct {
	ID      string
	Project types.Project
}

// Resolver loads template definitions from a directory and per-user
// overrides from another, producing resolved types.Project values.
type Resolver struct {
	templateDir string
	stateDir    string
}

// New builds a Resolver. templateDir holds one *.ini file per template
// project (CCCOPY_PROJECT_TEMPLATE_DIR, or "<repo-root>/project" by
// default); stateDir is the per-user ~/.cccopy/project directory holding
// numbered override subdirectories.
func New(templateDir, stateDir string) *Resolver {
	return &Resolver{templateDir: templateDir, stateDir: stateDir}
}

// Templates loads every template file in templateDir, keyed by
// PROJECT_NAME. A duplicate PROJECT_NAME across files is a startup fatal
// error, per the template directory's documented invariant.
func (r *Resolver) Templates() (map[string]types.Project, error) {
	matches, err := filepath.Glob(filepath.Join(r.templateDir, "*.ini"))
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "failed to list project templates").WithCause(err)
	}

	templates := make(map[string]types.Project, len(matches))
	for _, path := range matches {
		tpl, err := loadTemplate(path)
		if err != nil {
			return nil, err
		}
		if _, dup := templates[tpl.Name]; dup {
			return nil, errors.NewError(errors.ErrCodeInvalidConfig, "duplicate PROJECT_NAME across templates").
				WithContext("project_name", tpl.Name).WithContext("file", path)
		}
		templates[tpl.Name] = tpl
	}
	return templates, nil
}

// LastProject reads ~/.cccopy/project/config.ini's LAST_PROJECT entry, the
// numeric ID of the most recently used override, or "" if none is set.
func (r *Resolver) LastProject() (string, error) {
	path := filepath.Join(r.stateDir, "config.ini")
	f, err := ini.Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", errors.NewError(errors.ErrCodeInvalidConfig, "failed to read project state config").WithCause(err)
	}
	return f.Section("CONFIG").Key("LAST_PROJECT").String(), nil
}

// SetLastProject records id as the most recently used override.
func (r *Resolver) SetLastProject(id string) error {
	path := filepath.Join(r.stateDir, "config.ini")
	f := ini.Empty()
	if existing, err := ini.Load(path); err == nil {
		f = existing
	}
	f.Section("CONFIG").Key("LAST_PROJECT").SetValue(id)

	if err := os.MkdirAll(r.stateDir, 0o755); err != nil {
		return errors.NewError(errors.ErrCodeWriteFailed, "failed to create project state directory").WithCause(err)
	}
	if err := f.SaveTo(path); err != nil {
		return errors.NewError(errors.ErrCodeWriteFailed, "failed to save project state config").WithCause(err)
	}
	return nil
}

// Resolve overlays the override at ~/.cccopy/project/<id>/config.ini onto
// the named template, producing the effective project configuration.
func (r *Resolver) Resolve(id string) (types.Project, error) {
	templates, err := r.Templates()
	if err != nil {
		return types.Project{}, err
	}

	overrideDir, err := utils.SecureJoin(r.stateDir, id)
	if err != nil {
		return types.Project{}, errors.NewError(errors.ErrCodeInvalidConfig, "project id escapes state directory").
			WithContext("id", id).WithCause(err)
	}
	overridePath := filepath.Join(overrideDir, "config.ini")
	override, err := ini.Load(overridePath)
	if err != nil {
		return types.Project{}, errors.NewError(errors.ErrCodeMissingConfig, "project override not found").
			WithContext("id", id).WithCause(err)
	}

	name := override.Section("INFO").Key("PROJECT_NAME").String()
	tpl, ok := templates[name]
	if !ok {
		return types.Project{}, errors.NewError(errors.ErrCodeInvalidConfig, "override names unknown template project").
			WithContext("project_name", name)
	}

	resolved := tpl
	if workDir := override.Section("CONFIG").Key("WORKING_BASE_DIR").String(); workDir != "" {
		resolved.WorkDir = expandPath(workDir)
	}

	if sec, err := override.GetSection("SOURCES"); err == nil && len(sec.KeyStrings()) > 0 {
		resolved.Sources = sectionPatterns(sec)
	}
	if sec, err := override.GetSection("EXCLUDES"); err == nil && len(sec.KeyStrings()) > 0 {
		resolved.Excludes = sectionPatterns(sec)
	}

	if sec, err := override.GetSection("UPLOAD"); err == nil {
		if g := sec.Key("GROUP").String(); g != "" {
			resolved.Group = g
		}
		if bc := sec.Key("BACKUP_COUNT").String(); bc != "" {
			if n, convErr := strconv.Atoi(bc); convErr == nil {
				resolved.BackupCount = n
			}
		}
	}

	if err := Validate(resolved); err != nil {
		return types.Project{}, err
	}
	return resolved, nil
}

// Validate enforces the Project invariants: distinct Production/Work
// roots and a non-empty SOURCES list.
func Validate(p types.Project) error {
	if p.ProductionDir == "" || p.WorkDir == "" {
		return errors.NewError(errors.ErrCodeInvalidConfig, "project must set both production and work directories").
			WithContext("project_name", p.Name)
	}
	if filepath.Clean(p.ProductionDir) == filepath.Clean(p.WorkDir) {
		return errors.NewError(errors.ErrCodeInvalidConfig, "production and work directories must be distinct").
			WithContext("project_name", p.Name)
	}
	if len(p.Sources) == 0 {
		return errors.NewError(errors.ErrCodeInvalidConfig, "project must define at least one SOURCES pattern").
			WithContext("project_name", p.Name)
	}
	return nil
}

func loadTemplate(path string) (types.Project, error) {
	f, err := ini.Load(path)
	if err != nil {
		return types.Project{}, errors.NewError(errors.ErrCodeInvalidConfig, "failed to parse project template").
			WithContext("file", path).WithCause(err)
	}

	cfg := f.Section("CONFIG")
	p := types.Project{
		Name:          cfg.Key("PROJECT_NAME").String(),
		ProductionDir: expandPath(cfg.Key("PRODUCTION_DIR").String()),
		WorkDir:       expandPath(cfg.Key("WORKING_BASE_DIR").String()),
		BackupCount:   3,
	}
	if p.Name == "" {
		return types.Project{}, errors.NewError(errors.ErrCodeInvalidConfig, "template missing PROJECT_NAME").WithContext("file", path)
	}

	if sec, err := f.GetSection("SOURCES"); err == nil {
		p.Sources = sectionPatterns(sec)
	}
	if sec, err := f.GetSection("EXCLUDES"); err == nil {
		p.Excludes = sectionPatterns(sec)
	}
	if sec, err := f.GetSection("UPLOAD"); err == nil {
		p.Group = sec.Key("GROUP").String()
		if bc := sec.Key("BACKUP_COUNT").String(); bc != "" {
			if n, convErr := strconv.Atoi(bc); convErr == nil {
				p.BackupCount = n
			}
		}
	}

	return p, nil
}

// sectionPatterns returns a section's keys as an ordered pattern list; the
// teacher's INI templates express list sections as bare keys (one pattern
// per key name, value ignored) rather than a single delimited value.
func sectionPatterns(sec *ini.Section) []string {
	keys := sec.KeyStrings()
	patterns := make([]string, 0, len(keys))
	for _, k := range keys {
		patterns = append(patterns, k)
	}
	return patterns
}

func expandPath(p string) string {
	if p == "" {
		return p
	}
	if strings.HasPrefix(p, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return os.ExpandEnv(p)
}

// TemplateDir resolves the template directory: CCCOPY_PROJECT_TEMPLATE_DIR
// if set, otherwise "<repoRoot>/project".
func TemplateDir(repoRoot string) string {
	if env := os.Getenv("CCCOPY_PROJECT_TEMPLATE_DIR"); env != "" {
		return env
	}
	return filepath.Join(repoRoot, "project")
}

// DefaultStateDir returns ~/.cccopy/project.
func DefaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".cccopy", "project"), nil
}
