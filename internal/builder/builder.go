// Package builder produces a module's installable artifacts: the UI
// bundle (when the module has a UI source directory) and the backend
// source archive. It delegates the actual work to the configured
// external tools and decides when that work can be skipped.
package builder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"modforge/internal/config"
	"modforge/internal/logging"
	"modforge/internal/module"
	"modforge/internal/pipeline"
	"modforge/internal/run"
)

// Options controls a build.
type Options struct {
	// SkipUI omits the UI bundling step even when a UI dir exists.
	SkipUI bool

	// Clean empties the dist directory before building.
	Clean bool
}

// Outcome describes a completed (or skipped) build.
type Outcome struct {
	// Skipped is true when a conditional build found nothing stale.
	Skipped bool

	// UIBuilt is true when the UI bundling step ran.
	UIBuilt bool

	// Archive is the backend archive produced (or found) in dist.
	Archive module.Artifact
}

// Builder runs build pipelines for modules.
type Builder struct {
	cfg    *config.Config
	runner run.Runner
}

func New(cfg *config.Config, runner run.Runner) *Builder {
	return &Builder{cfg: cfg, runner: runner}
}

// Build unconditionally rebuilds the module's artifacts: UI bundle
// first (unless skipped or absent), then the backend archive. The first
// failing tool aborts the build.
func (b *Builder) Build(ctx context.Context, mod *module.Module, opts Options) (*Outcome, error) {
	timer := logging.StartTimer(logging.CategoryBuild, fmt.Sprintf("build %s", mod.Name))
	defer timer.StopWithInfo()

	if opts.Clean {
		if err := cleanDist(mod.DistDir); err != nil {
			return nil, fmt.Errorf("cleaning %s: %w", mod.DistDir, err)
		}
		logging.Build("cleaned dist dir for %s", mod.Name)
	}

	outcome := &Outcome{}

	if mod.UIDir != "" && !opts.SkipUI {
		if err := b.buildUI(ctx, mod); err != nil {
			return nil, err
		}
		outcome.UIBuilt = true
	}

	if err := b.buildPackage(ctx, mod); err != nil {
		return nil, err
	}

	archive, err := mod.BackendArchive()
	if err != nil {
		return nil, fmt.Errorf("locating built archive: %w", err)
	}
	if archive.Path == "" {
		return nil, &pipeline.ToolError{
			Step: "package",
			Tool: b.cfg.Build.PackageCommand[0],
			Output: fmt.Sprintf("package command exited 0 but produced no archive in %s",
				mod.DistDir),
		}
	}
	outcome.Archive = archive

	logging.Build("built %s: %s", mod.Name, filepath.Base(archive.Path))
	logging.Audit().Stage(logging.AuditBuild, mod.Name, archive.Path, true, "")
	return outcome, nil
}

// BuildIfStale rebuilds only when the staleness check says a tracked
// source file is newer than the newest artifact (or no artifact exists).
// The check is recomputed from the filesystem on every call.
func (b *Builder) BuildIfStale(ctx context.Context, mod *module.Module, opts Options) (*Outcome, error) {
	stale, err := mod.IsStale()
	if err != nil {
		return nil, fmt.Errorf("staleness check for %s: %w", mod.Name, err)
	}
	if !stale {
		archive, err := mod.BackendArchive()
		if err != nil {
			return nil, err
		}
		logging.Build("%s is up to date, skipping build", mod.Name)
		return &Outcome{Skipped: true, Archive: archive}, nil
	}
	return b.Build(ctx, mod, opts)
}

func (b *Builder) buildUI(ctx context.Context, mod *module.Module) error {
	cmdline := b.cfg.Build.UICommand
	logging.Build("ui build for %s: %s", mod.Name, cmdline)

	result, err := b.runner.Run(ctx, run.Command{
		Binary: cmdline[0],
		Args:   cmdline[1:],
		Dir:    mod.UIDir,
	})
	if err != nil {
		return fmt.Errorf("ui build: %w", err)
	}
	if result.ExitCode != 0 {
		return &pipeline.ToolError{
			Step:     "ui-build",
			Tool:     cmdline[0],
			ExitCode: result.ExitCode,
			Output:   result.Output(),
		}
	}
	return nil
}

func (b *Builder) buildPackage(ctx context.Context, mod *module.Module) error {
	cmdline := b.cfg.Build.PackageCommand
	logging.Build("package build for %s: %s", mod.Name, cmdline)

	result, err := b.runner.Run(ctx, run.Command{
		Binary: cmdline[0],
		Args:   cmdline[1:],
		Dir:    mod.Dir,
	})
	if err != nil {
		return fmt.Errorf("package build: %w", err)
	}
	if result.ExitCode != 0 {
		return &pipeline.ToolError{
			Step:     "package",
			Tool:     cmdline[0],
			ExitCode: result.ExitCode,
			Output:   result.Output(),
		}
	}
	return nil
}

// cleanDist removes the contents of the dist directory, keeping the
// directory itself. A missing dist dir is fine.
func cleanDist(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}
