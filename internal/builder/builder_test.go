package builder

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modforge/internal/config"
	"modforge/internal/module"
	"modforge/internal/pipeline"
	"modforge/internal/run"
)

// fixture is a workspace with one module and a fake runner whose
// package step drops an archive into dist, the way the real tool would.
type fixture struct {
	cfg  *config.Config
	mod  *module.Module
	fake *run.Fake
}

func newFixture(t *testing.T, withUI bool) *fixture {
	t.Helper()
	ws := t.TempDir()
	cfg, err := config.Load(ws)
	require.NoError(t, err)

	dir := filepath.Join(cfg.ModulesPath(), "widget-a")
	pkg := filepath.Join(dir, "widget_a")
	require.NoError(t, os.MkdirAll(pkg, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pkg, "__init__.py"), nil, 0o644))
	if withUI {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "frontend"), 0o755))
	}

	mod, err := module.Find(cfg, "widget-a")
	require.NoError(t, err)

	fake := &run.Fake{
		Handler: func(cmd run.Command) (*run.Result, error) {
			if cmd.Binary == cfg.Build.PackageCommand[0] && cmd.Dir == mod.Dir {
				require.NoError(t, os.MkdirAll(mod.DistDir, 0o755))
				archive := filepath.Join(mod.DistDir, "widget_a-1.0.tar.gz")
				require.NoError(t, os.WriteFile(archive, []byte("pkg"), 0o644))
			}
			return &run.Result{ExitCode: 0}, nil
		},
	}
	return &fixture{cfg: cfg, mod: mod, fake: fake}
}

func TestBuildRunsUIThenPackage(t *testing.T) {
	f := newFixture(t, true)
	b := New(f.cfg, f.fake)

	outcome, err := b.Build(context.Background(), f.mod, Options{})
	require.NoError(t, err)

	assert.True(t, outcome.UIBuilt)
	assert.Equal(t, filepath.Join(f.mod.DistDir, "widget_a-1.0.tar.gz"), outcome.Archive.Path)

	require.Len(t, f.fake.Calls, 2)
	assert.Equal(t, f.cfg.Build.UICommand[0], f.fake.Calls[0].Binary)
	assert.Equal(t, f.mod.UIDir, f.fake.Calls[0].Dir)
	assert.Equal(t, f.cfg.Build.PackageCommand[0], f.fake.Calls[1].Binary)
	assert.Equal(t, f.mod.Dir, f.fake.Calls[1].Dir)
}

func TestBuildSkipUI(t *testing.T) {
	f := newFixture(t, true)
	b := New(f.cfg, f.fake)

	outcome, err := b.Build(context.Background(), f.mod, Options{SkipUI: true})
	require.NoError(t, err)

	assert.False(t, outcome.UIBuilt)
	require.Len(t, f.fake.Calls, 1)
	assert.Equal(t, f.cfg.Build.PackageCommand[0], f.fake.Calls[0].Binary)
}

func TestBuildWithoutUIDir(t *testing.T) {
	f := newFixture(t, false)
	b := New(f.cfg, f.fake)

	outcome, err := b.Build(context.Background(), f.mod, Options{})
	require.NoError(t, err)

	assert.False(t, outcome.UIBuilt)
	require.Len(t, f.fake.Calls, 1)
}

func TestBuildUIFailureAborts(t *testing.T) {
	f := newFixture(t, true)
	f.fake.Handler = func(cmd run.Command) (*run.Result, error) {
		return &run.Result{ExitCode: 1, Stderr: "bundler exploded"}, nil
	}
	b := New(f.cfg, f.fake)

	_, err := b.Build(context.Background(), f.mod, Options{})
	var tool *pipeline.ToolError
	require.ErrorAs(t, err, &tool)
	assert.Equal(t, "ui-build", tool.Step)
	assert.Contains(t, tool.Output, "bundler exploded")

	// The package step never ran.
	require.Len(t, f.fake.Calls, 1)
}

func TestBuildPackageFailurePropagatesExitCode(t *testing.T) {
	f := newFixture(t, false)
	f.fake.Handler = func(cmd run.Command) (*run.Result, error) {
		return &run.Result{ExitCode: 2, Stderr: "sdist failed"}, nil
	}
	b := New(f.cfg, f.fake)

	_, err := b.Build(context.Background(), f.mod, Options{})
	var tool *pipeline.ToolError
	require.ErrorAs(t, err, &tool)
	assert.Equal(t, "package", tool.Step)
	assert.Equal(t, 2, tool.ExitCode)
}

func TestBuildPackageProducesNoArchive(t *testing.T) {
	f := newFixture(t, false)
	f.fake.Handler = func(cmd run.Command) (*run.Result, error) {
		return &run.Result{ExitCode: 0}, nil
	}
	b := New(f.cfg, f.fake)

	_, err := b.Build(context.Background(), f.mod, Options{})
	var tool *pipeline.ToolError
	require.ErrorAs(t, err, &tool)
	assert.Contains(t, tool.Output, "no archive")
}

func TestBuildCleanEmptiesDist(t *testing.T) {
	f := newFixture(t, false)
	stale := filepath.Join(f.mod.DistDir, "widget_a-0.9.tar.gz")
	require.NoError(t, os.MkdirAll(f.mod.DistDir, 0o755))
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))

	b := New(f.cfg, f.fake)
	outcome, err := b.Build(context.Background(), f.mod, Options{Clean: true})
	require.NoError(t, err)

	assert.NoFileExists(t, stale)
	assert.FileExists(t, outcome.Archive.Path)
}

func TestBuildIfStaleSkipsWhenFresh(t *testing.T) {
	f := newFixture(t, false)

	old := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	srcPath := filepath.Join(f.mod.PackageDir, "__init__.py")
	require.NoError(t, os.Chtimes(srcPath, old, old))

	require.NoError(t, os.MkdirAll(f.mod.DistDir, 0o755))
	archive := filepath.Join(f.mod.DistDir, "widget_a-1.0.tar.gz")
	require.NoError(t, os.WriteFile(archive, []byte("pkg"), 0o644))
	require.NoError(t, os.Chtimes(archive, old.Add(time.Hour), old.Add(time.Hour)))

	b := New(f.cfg, f.fake)
	outcome, err := b.BuildIfStale(context.Background(), f.mod, Options{})
	require.NoError(t, err)

	assert.True(t, outcome.Skipped)
	assert.Equal(t, archive, outcome.Archive.Path)
	assert.Empty(t, f.fake.Calls, "no tool runs when nothing is stale")
}

func TestBuildIfStaleRebuildsWhenSourceNewer(t *testing.T) {
	f := newFixture(t, false)

	artifactTime := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	sourceTime := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

	require.NoError(t, os.MkdirAll(f.mod.DistDir, 0o755))
	archive := filepath.Join(f.mod.DistDir, "widget_a-1.0.tar.gz")
	require.NoError(t, os.WriteFile(archive, []byte("pkg"), 0o644))
	require.NoError(t, os.Chtimes(archive, artifactTime, artifactTime))

	srcPath := filepath.Join(f.mod.PackageDir, "__init__.py")
	require.NoError(t, os.Chtimes(srcPath, sourceTime, sourceTime))

	b := New(f.cfg, f.fake)
	outcome, err := b.BuildIfStale(context.Background(), f.mod, Options{})
	require.NoError(t, err)

	assert.False(t, outcome.Skipped)
	require.Len(t, f.fake.Calls, 1)
}
