package scaffold

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modforge/internal/config"
	"modforge/internal/pipeline"
	"modforge/internal/run"
)

// fakeGenerator simulates the external generator: it creates the given
// directories and exits with the given code.
type fakeGenerator struct {
	creates  []string
	withGit  bool
	exitCode int
	invoked  string
}

func (g *fakeGenerator) Invoke(ctx context.Context, outDir string) (int, error) {
	g.invoked = outDir
	for _, name := range g.creates {
		dir := filepath.Join(outDir, name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, err
		}
		if g.withGit {
			if err := os.MkdirAll(filepath.Join(dir, ".git"), 0o755); err != nil {
				return 0, err
			}
		}
	}
	return g.exitCode, nil
}

func newScaffolder(t *testing.T, gen Generator) (*Scaffolder, *run.Fake, *config.Config) {
	t.Helper()
	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)

	fake := &run.Fake{}
	s := New(cfg, fake)
	s.Gen = gen
	return s, fake, cfg
}

func TestCreateRepairsMissingGit(t *testing.T) {
	gen := &fakeGenerator{creates: []string{"widget-b"}}
	s, fake, cfg := newScaffolder(t, gen)

	result, err := s.Create(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, cfg.ModulesPath(), gen.invoked)
	assert.Equal(t, filepath.Join(cfg.ModulesPath(), "widget-b"), result.Dir)
	assert.True(t, result.RepairedGit)

	assert.Equal(t, []string{
		"git init",
		"git add -A",
		"git commit -m Initial module scaffold",
	}, fake.CommandLines())
	for _, cmd := range fake.Calls {
		assert.Equal(t, result.Dir, cmd.Dir)
	}
}

func TestCreateLeavesExistingGitAlone(t *testing.T) {
	gen := &fakeGenerator{creates: []string{"widget-b"}, withGit: true}
	s, fake, _ := newScaffolder(t, gen)

	result, err := s.Create(context.Background(), "")
	require.NoError(t, err)

	assert.False(t, result.RepairedGit)
	assert.Empty(t, fake.Calls)
}

func TestCreateToleratesNonZeroExitWhenDirAppears(t *testing.T) {
	gen := &fakeGenerator{creates: []string{"widget-b"}, exitCode: 1}
	s, _, _ := newScaffolder(t, gen)

	result, err := s.Create(context.Background(), "")
	require.NoError(t, err, "a non-zero generator exit with a created dir is nominal")
	assert.Equal(t, 1, result.GeneratorExit)
}

func TestCreateFailsWhenNothingAppears(t *testing.T) {
	gen := &fakeGenerator{exitCode: 2}
	s, _, _ := newScaffolder(t, gen)

	_, err := s.Create(context.Background(), "")
	var tool *pipeline.ToolError
	require.ErrorAs(t, err, &tool)
	assert.Equal(t, "scaffold", tool.Step)
	assert.Equal(t, 2, tool.ExitCode)
}

func TestCreateIgnoresPreexistingDirs(t *testing.T) {
	gen := &fakeGenerator{creates: []string{"widget-b"}}
	s, _, cfg := newScaffolder(t, gen)

	// A module that already existed must not be mistaken for new.
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.ModulesPath(), "widget-a"), 0o755))

	result, err := s.Create(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.ModulesPath(), "widget-b"), result.Dir)
}

func TestCreateCustomOutDir(t *testing.T) {
	gen := &fakeGenerator{creates: []string{"widget-c"}}
	s, _, _ := newScaffolder(t, gen)

	out := filepath.Join(t.TempDir(), "elsewhere")
	result, err := s.Create(context.Background(), out)
	require.NoError(t, err)
	assert.Equal(t, out, gen.invoked)
	assert.Equal(t, filepath.Join(out, "widget-c"), result.Dir)
}

func TestCreateGitRepairFailureIsFatal(t *testing.T) {
	gen := &fakeGenerator{creates: []string{"widget-b"}}
	s, fake, _ := newScaffolder(t, gen)
	fake.Handler = func(cmd run.Command) (*run.Result, error) {
		if cmd.Args[0] == "commit" {
			return &run.Result{ExitCode: 1, Stderr: "author identity unknown"}, nil
		}
		return &run.Result{ExitCode: 0}, nil
	}

	_, err := s.Create(context.Background(), "")
	var tool *pipeline.ToolError
	require.ErrorAs(t, err, &tool)
	assert.Equal(t, "git-repair", tool.Step)
	assert.Contains(t, tool.Output, "author identity unknown")
}
