// Package module models one extension module: a directory under the
// module collection containing a backend source package (the first
// child directory with the package marker file), an optional UI source
// directory, and an artifact output directory. It also implements the
// staleness relation that drives conditional builds.
package module

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"modforge/internal/config"
	"modforge/internal/pipeline"
)

// Module is one extension module on disk. Identity is the directory name.
type Module struct {
	// Name is the module directory name.
	Name string

	// Dir is the absolute module directory.
	Dir string

	// PackageDir is the backend source package directory.
	PackageDir string

	// UIDir is the UI source directory; empty when the module has none.
	UIDir string

	// DistDir is the artifact output directory. It may not exist yet.
	DistDir string

	layout config.ModuleConfig
}

// Find locates a module by name under the configured module collection
// directory. A missing module or a module without a package marker is a
// precondition failure, not a tool failure.
func Find(cfg *config.Config, name string) (*Module, error) {
	dir := filepath.Join(cfg.ModulesPath(), name)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, pipeline.Preconditionf(
			"run 'modforge scaffold' to create it, or check the modules_dir setting",
			"module %q not found at %s", name, dir)
	}

	pkgDir, err := findPackageDir(dir, cfg.Module.PackageMarker)
	if err != nil {
		return nil, err
	}

	m := &Module{
		Name:       name,
		Dir:        dir,
		PackageDir: pkgDir,
		DistDir:    filepath.Join(dir, cfg.Module.DistDir),
		layout:     cfg.Module,
	}

	uiDir := filepath.Join(dir, cfg.Module.UIDir)
	if info, err := os.Stat(uiDir); err == nil && info.IsDir() {
		m.UIDir = uiDir
	}

	return m, nil
}

// findPackageDir returns the first child directory (in name order)
// containing the package marker file.
func findPackageDir(dir, marker string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("reading module dir %s: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		candidate := filepath.Join(dir, entry.Name())
		if _, err := os.Stat(filepath.Join(candidate, marker)); err == nil {
			return candidate, nil
		}
	}
	return "", pipeline.Preconditionf(
		fmt.Sprintf("the backend package is identified by a %s file in a child directory", marker),
		"no package directory found in %s", dir)
}

// HasIntegrationTests reports whether the module carries an integration
// test package.
func (m *Module) HasIntegrationTests(integrationDir string) bool {
	info, err := os.Stat(filepath.Join(m.PackageDir, integrationDir))
	return err == nil && info.IsDir()
}

// IntegrationPackagePath returns the dotted package path of the
// integration tests, relative to the host runtime's import root
// (e.g. "widget_a.integration").
func (m *Module) IntegrationPackagePath(integrationDir string) string {
	return filepath.Base(m.PackageDir) + "." + integrationDir
}

// UnitTestDir returns the fast-test directory: the unit subdirectory of
// the package when it exists, otherwise the package dir itself (legacy
// flat layout).
func (m *Module) UnitTestDir(unitDir string) string {
	candidate := filepath.Join(m.PackageDir, unitDir)
	if info, err := os.Stat(candidate); err == nil && info.IsDir() {
		return candidate
	}
	return m.PackageDir
}

// Walk visits every tracked source file (matched by extension, with
// excluded directories pruned) under the module directory.
func (m *Module) Walk(visit func(path string, info fs.FileInfo) error) error {
	excluded := make(map[string]bool, len(m.layout.ExcludeDirs))
	for _, d := range m.layout.ExcludeDirs {
		excluded[d] = true
	}
	tracked := make(map[string]bool, len(m.layout.SourceExtensions))
	for _, ext := range m.layout.SourceExtensions {
		tracked[ext] = true
	}

	return filepath.WalkDir(m.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != m.Dir && excluded[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !tracked[filepath.Ext(path)] {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return visit(path, info)
	})
}

// SourceDirs returns the directories the watch command should observe:
// every non-excluded directory under the module.
func (m *Module) SourceDirs() ([]string, error) {
	excluded := make(map[string]bool, len(m.layout.ExcludeDirs))
	for _, d := range m.layout.ExcludeDirs {
		excluded[d] = true
	}

	var dirs []string
	err := filepath.WalkDir(m.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != m.Dir && excluded[d.Name()] {
			return filepath.SkipDir
		}
		dirs = append(dirs, path)
		return nil
	})
	return dirs, err
}
