// Package envlink establishes the environment link that makes a module
// discoverable inside a host-runtime checkout: a directory link from
// the runtime's plugin directory into the module's source tree, plus an
// editable install of the module's package into the runtime's venv.
package envlink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"modforge/internal/config"
	"modforge/internal/logging"
	"modforge/internal/module"
	"modforge/internal/pipeline"
	"modforge/internal/run"
)

// SetupMarker is the completion record written by the host runtime's
// own one-time setup step. Its presence is the precondition for every
// linking and integration-test operation.
type SetupMarker struct {
	CompletedAt time.Time `yaml:"completed_at"`
	Checkout    string    `yaml:"checkout"`
}

// ReadSetupMarker loads and validates the marker inside the checkout.
// A missing or unreadable marker is a precondition failure, never a
// tool failure: nothing has been attempted yet.
func ReadSetupMarker(checkout, markerName string) (*SetupMarker, error) {
	path := filepath.Join(checkout, markerName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pipeline.Preconditionf(
			"run the host runtime's setup step first, then retry",
			"host runtime at %s has not completed setup (missing %s)", checkout, markerName)
	}
	var marker SetupMarker
	if err := yaml.Unmarshal(data, &marker); err != nil {
		return nil, pipeline.Preconditionf(
			"re-run the host runtime's setup step to rewrite it",
			"setup marker %s is malformed: %v", path, err)
	}
	return &marker, nil
}

// Options controls Ensure.
type Options struct {
	// Force removes a mismatched link and recreates it pointing at the
	// requested module.
	Force bool
}

// Status reports what Ensure did.
type Status struct {
	// AlreadyLinked is true when a correct link was already in place
	// and nothing was mutated.
	AlreadyLinked bool

	// Link is the link now in place.
	Link DirectoryLink

	// InstallWarning carries the editable-install failure output when
	// that step failed. The link is still considered established, but
	// discovery can silently fail later, so the caller must surface it.
	InstallWarning string
}

// Linker ensures environment links.
type Linker struct {
	cfg    *config.Config
	runner run.Runner
}

func New(cfg *config.Config, runner run.Runner) *Linker {
	return &Linker{cfg: cfg, runner: runner}
}

// LinkPath returns where the module's link lives inside the checkout.
func (l *Linker) LinkPath(mod *module.Module) string {
	return filepath.Join(l.cfg.Runtime.Checkout, l.cfg.Runtime.PluginDir, mod.Name)
}

// Ensure makes the environment link exist and point at the module.
//
// An existing correct link is a no-op. An existing link pointing at a
// different module fails unless Force is set. A path occupied by a real
// file or directory always fails, Force included: removing it could
// destroy content modforge does not own.
func (l *Linker) Ensure(ctx context.Context, mod *module.Module, opts Options) (*Status, error) {
	checkout := l.cfg.Runtime.Checkout
	if checkout == "" {
		return nil, pipeline.Preconditionf(
			"set runtime.checkout in .modforge/config.yml or MODFORGE_RUNTIME_CHECKOUT",
			"no host runtime checkout configured")
	}
	if _, err := ReadSetupMarker(checkout, l.cfg.Runtime.SetupMarker); err != nil {
		return nil, err
	}

	linkPath := l.LinkPath(mod)
	existing, err := ReadLink(linkPath)
	if err != nil {
		return nil, err
	}

	switch {
	case existing == nil:
		// Nothing there yet; create below.

	case existing.PointsAt(mod.Dir):
		logging.Link("%s already linked (%s)", mod.Name, existing.Kind)
		return &Status{AlreadyLinked: true, Link: *existing}, nil

	case !opts.Force:
		return nil, pipeline.Preconditionf(
			"re-run with --force to relink it to "+mod.Name,
			"link %s points at %s, not %s", linkPath, existing.Target, mod.Dir)

	default:
		logging.LinkWarn("removing mismatched link %s -> %s", linkPath, existing.Target)
		if err := os.Remove(linkPath); err != nil {
			return nil, fmt.Errorf("removing mismatched link: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(linkPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating plugin dir: %w", err)
	}

	link, err := l.create(ctx, linkPath, mod.Dir)
	if err != nil {
		return nil, err
	}
	logging.Link("linked %s -> %s (%s)", linkPath, mod.Dir, link.Kind)
	logging.Audit().Stage(logging.AuditLink, mod.Name, linkPath, true, string(link.Kind))

	status := &Status{Link: *link}
	if warn := l.editableInstall(ctx, mod); warn != "" {
		status.InstallWarning = warn
	}
	return status, nil
}

// create attempts a symbolic link first and falls back to a junction
// when symlink creation is not permitted.
func (l *Linker) create(ctx context.Context, path, target string) (*DirectoryLink, error) {
	symErr := os.Symlink(target, path)
	if symErr == nil {
		return &DirectoryLink{Kind: Symbolic, Target: target}, nil
	}

	logging.LinkDebug("symlink failed (%v), trying junction", symErr)
	if jErr := createJunction(ctx, l.runner, path, target); jErr != nil {
		return nil, fmt.Errorf("creating link %s: symlink: %v, junction: %w", path, symErr, jErr)
	}
	return &DirectoryLink{Kind: Junction, Target: target}, nil
}

// editableInstall registers the module's entry points in the checkout
// venv. Failure is a warning, not fatal: the link itself is in place.
func (l *Linker) editableInstall(ctx context.Context, mod *module.Module) string {
	pip := filepath.Join(l.cfg.Runtime.Checkout, l.cfg.Runtime.Pip)
	result, err := l.runner.Run(ctx, run.Command{
		Binary: pip,
		Args:   []string{"install", "-e", mod.Dir},
		Dir:    l.cfg.Runtime.Checkout,
	})
	if err != nil {
		logging.LinkWarn("editable install of %s could not run: %v", mod.Name, err)
		return fmt.Sprintf("editable install could not run: %v", err)
	}
	if result.ExitCode != 0 {
		logging.LinkWarn("editable install of %s exited %d", mod.Name, result.ExitCode)
		return fmt.Sprintf("editable install exited %d; extension discovery may silently fail:\n%s",
			result.ExitCode, result.Output())
	}
	logging.Link("editable install of %s completed", mod.Name)
	return ""
}

// Check reports the current link state without mutating anything. A nil
// link means nothing is in place.
func (l *Linker) Check(mod *module.Module) (*DirectoryLink, error) {
	return ReadLink(l.LinkPath(mod))
}
