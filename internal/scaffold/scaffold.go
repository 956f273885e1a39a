// Package scaffold creates new modules by driving an external
// interactive generator, then repairs the result.
//
// The generator's exit code is unreliable: it is known to exit non-zero
// even on nominal completion. Success is therefore decided by a
// post-hoc filesystem check (did a new module directory appear?), and
// the exit code is only recorded for the log. The generator's own
// repository initialization is equally unreliable, so a missing .git is
// repaired with an init/add/commit sequence afterwards.
package scaffold

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"modforge/internal/config"
	"modforge/internal/logging"
	"modforge/internal/pipeline"
	"modforge/internal/run"
)

// Generator invokes the external module generator interactively in the
// output directory and returns its exit code.
type Generator interface {
	Invoke(ctx context.Context, outDir string) (int, error)
}

// commandGenerator runs the configured generator command with stdio
// inherited, since it prompts the developer for module details.
type commandGenerator struct {
	cmdline []string
	runner  run.Runner
}

func (g *commandGenerator) Invoke(ctx context.Context, outDir string) (int, error) {
	return g.runner.Interactive(ctx, run.Command{
		Binary: g.cmdline[0],
		Args:   g.cmdline[1:],
		Dir:    outDir,
	})
}

// Result reports a completed scaffold.
type Result struct {
	// Dir is the newly created module directory.
	Dir string

	// GeneratorExit is the generator's (unreliable) exit code.
	GeneratorExit int

	// RepairedGit is true when the missing repository was initialized
	// after the fact.
	RepairedGit bool
}

// Scaffolder creates modules.
type Scaffolder struct {
	cfg    *config.Config
	runner run.Runner

	// Gen is the generator implementation. Tests substitute fakes.
	Gen Generator
}

func New(cfg *config.Config, runner run.Runner) *Scaffolder {
	return &Scaffolder{
		cfg:    cfg,
		runner: runner,
		Gen:    &commandGenerator{cmdline: cfg.Scaffold.Command, runner: runner},
	}
}

// Create runs the generator against outDir (the module collection
// directory when empty) and repairs the new module's git state.
func (s *Scaffolder) Create(ctx context.Context, outDir string) (*Result, error) {
	if outDir == "" {
		outDir = s.cfg.ModulesPath()
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output dir: %w", err)
	}

	before, err := snapshotDirs(outDir)
	if err != nil {
		return nil, err
	}

	logging.Scaffold("invoking generator in %s", outDir)
	exitCode, err := s.Gen.Invoke(ctx, outDir)
	if err != nil {
		return nil, fmt.Errorf("generator: %w", err)
	}
	logging.Scaffold("generator exited %d", exitCode)

	created, err := newestNewDir(outDir, before)
	if err != nil {
		return nil, err
	}
	if created == "" {
		// Only now does the exit code matter: nothing appeared, so the
		// non-zero exit was a real failure rather than the usual noise.
		return nil, &pipeline.ToolError{
			Step:     "scaffold",
			Tool:     s.cfg.Scaffold.Command[0],
			ExitCode: exitCode,
			Output:   fmt.Sprintf("generator created no module directory in %s", outDir),
		}
	}

	result := &Result{Dir: created, GeneratorExit: exitCode}

	if _, err := os.Stat(filepath.Join(created, ".git")); os.IsNotExist(err) {
		if err := s.repairGit(ctx, created); err != nil {
			return nil, err
		}
		result.RepairedGit = true
	}

	logging.Scaffold("created %s (git repaired: %v)", created, result.RepairedGit)
	logging.Audit().Stage(logging.AuditScaffold, filepath.Base(created), created, true, "")
	return result, nil
}

// repairGit initializes the repository the generator was supposed to.
func (s *Scaffolder) repairGit(ctx context.Context, dir string) error {
	steps := [][]string{
		{"init"},
		{"add", "-A"},
		{"commit", "-m", "Initial module scaffold"},
	}
	for _, args := range steps {
		result, err := s.runner.Run(ctx, run.Command{Binary: "git", Args: args, Dir: dir})
		if err != nil {
			return fmt.Errorf("git %s: %w", args[0], err)
		}
		if result.ExitCode != 0 {
			return &pipeline.ToolError{
				Step:     "git-repair",
				Tool:     "git",
				ExitCode: result.ExitCode,
				Output:   result.Output(),
			}
		}
	}
	return nil
}

// snapshotDirs records the child directories present before the
// generator ran.
func snapshotDirs(dir string) (map[string]bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			seen[entry.Name()] = true
		}
	}
	return seen, nil
}

// newestNewDir returns the most recently modified child directory that
// was not present in the before snapshot, or "" when none appeared.
func newestNewDir(dir string, before map[string]bool) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	var (
		newest     string
		newestTime int64
	)
	for _, entry := range entries {
		if !entry.IsDir() || before[entry.Name()] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return "", err
		}
		if newest == "" || info.ModTime().UnixNano() > newestTime {
			newest = filepath.Join(dir, entry.Name())
			newestTime = info.ModTime().UnixNano()
		}
	}
	return newest, nil
}
