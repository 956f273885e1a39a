package deploy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modforge/internal/config"
	"modforge/internal/module"
	"modforge/internal/pipeline"
	"modforge/internal/run"
)

type deployFixture struct {
	cfg  *config.Config
	mod  *module.Module
	fake *run.Fake
}

// newDeployFixture builds a workspace with a fresh (non-stale) artifact
// and staging/production targets, plus a fake runner whose remote
// commands all succeed. The first configured deploy root exists.
func newDeployFixture(t *testing.T) *deployFixture {
	t.Helper()
	ws := t.TempDir()

	cfgYAML := `
targets:
  staging:
    host: deploy@staging.example.com
    container: hostapp
  production:
    host: deploy@prod.example.com
    port: 2222
    container: hostapp
    production: true
`
	require.NoError(t, os.MkdirAll(filepath.Join(ws, ".modforge"), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(ws, ".modforge", "config.yml"), []byte(cfgYAML), 0o644))

	cfg, err := config.Load(ws)
	require.NoError(t, err)

	dir := filepath.Join(cfg.ModulesPath(), "widget-a")
	pkg := filepath.Join(dir, "widget_a")
	require.NoError(t, os.MkdirAll(pkg, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pkg, "__init__.py"), nil, 0o644))

	old := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(filepath.Join(pkg, "__init__.py"), old, old))

	distDir := filepath.Join(dir, "dist")
	require.NoError(t, os.MkdirAll(distDir, 0o755))
	archive := filepath.Join(distDir, "widget_a-1.0.tar.gz")
	require.NoError(t, os.WriteFile(archive, []byte("pkg"), 0o644))
	require.NoError(t, os.Chtimes(archive, old.Add(time.Hour), old.Add(time.Hour)))

	mod, err := module.Find(cfg, "widget-a")
	require.NoError(t, err)

	return &deployFixture{cfg: cfg, mod: mod, fake: &run.Fake{}}
}

// declinePrompt fails the test if the prompter is ever invoked.
func declinePrompt(t *testing.T) Prompter {
	return func(prompt string) (string, error) {
		t.Fatal("prompt requested unexpectedly")
		return "", nil
	}
}

func TestDeployStagingFullSequence(t *testing.T) {
	f := newDeployFixture(t)
	d := New(f.cfg, f.fake)
	d.Prompt = declinePrompt(t)

	summary, err := d.Deploy(context.Background(), f.mod, "staging", Options{})
	require.NoError(t, err)

	assert.False(t, summary.Built, "fresh artifact means the build step is skipped")
	assert.Equal(t, "/srv/hostapp", summary.DeployRoot)
	assert.Empty(t, summary.StaticWarning)

	lines := f.fake.CommandLines()
	require.Len(t, lines, 6)
	assert.Equal(t, "ssh deploy@staging.example.com test -d /srv/hostapp", lines[0])
	assert.Equal(t, "scp "+summary.Artifact+
		" deploy@staging.example.com:/srv/hostapp/data/widget_a-1.0.tar.gz", lines[1])
	assert.Equal(t, "ssh deploy@staging.example.com docker exec hostapp"+
		" pip install --force-reinstall /home/app/data/widget_a-1.0.tar.gz", lines[2])
	assert.Contains(t, lines[3], "collectstatic")
	assert.Equal(t, "ssh deploy@staging.example.com rm -f /srv/hostapp/data/widget_a-1.0.tar.gz", lines[4])
	assert.Equal(t, "ssh deploy@staging.example.com docker restart hostapp", lines[5])
}

func TestDeploySummaryCarriesStepOutputs(t *testing.T) {
	f := newDeployFixture(t)
	f.fake.Handler = func(cmd run.Command) (*run.Result, error) {
		switch {
		case cmd.Binary == "ssh" && contains(cmd.Args, "pip"):
			return &run.Result{ExitCode: 0, Stdout: "Successfully installed widget-a-1.0"}, nil
		case cmd.Binary == "ssh" && contains(cmd.Args, "restart"):
			return &run.Result{ExitCode: 0, Stdout: "hostapp"}, nil
		}
		return &run.Result{ExitCode: 0}, nil
	}
	d := New(f.cfg, f.fake)
	d.Prompt = declinePrompt(t)

	summary, err := d.Deploy(context.Background(), f.mod, "staging", Options{})
	require.NoError(t, err)

	// Remote output passes through unmodified; silent steps are omitted.
	require.Len(t, summary.StepOutputs, 2)
	assert.Equal(t, StepOutput{Step: "install", Output: "Successfully installed widget-a-1.0"},
		summary.StepOutputs[0])
	assert.Equal(t, StepOutput{Step: "restart", Output: "hostapp"}, summary.StepOutputs[1])
}

func TestDeployProbesRootsInOrder(t *testing.T) {
	f := newDeployFixture(t)
	f.fake.Handler = func(cmd run.Command) (*run.Result, error) {
		// Only the second candidate exists.
		if cmd.Binary == "ssh" && contains(cmd.Args, "test") {
			if contains(cmd.Args, "/opt/hostapp") {
				return &run.Result{ExitCode: 0}, nil
			}
			return &run.Result{ExitCode: 1}, nil
		}
		return &run.Result{ExitCode: 0}, nil
	}
	d := New(f.cfg, f.fake)
	d.Prompt = declinePrompt(t)

	summary, err := d.Deploy(context.Background(), f.mod, "staging", Options{})
	require.NoError(t, err)
	assert.Equal(t, "/opt/hostapp", summary.DeployRoot)
}

func TestDeployNoRootIsFatal(t *testing.T) {
	f := newDeployFixture(t)
	f.fake.Handler = func(cmd run.Command) (*run.Result, error) {
		return &run.Result{ExitCode: 1}, nil
	}
	d := New(f.cfg, f.fake)
	d.Prompt = declinePrompt(t)

	_, err := d.Deploy(context.Background(), f.mod, "staging", Options{})
	var pre *pipeline.PreconditionError
	require.ErrorAs(t, err, &pre)
	assert.Contains(t, pre.Reason, "no deployment root")

	// Only the three probes ran; nothing was uploaded.
	assert.Len(t, f.fake.Calls, 3)
}

func TestDeployUploadFailureStopsPipeline(t *testing.T) {
	f := newDeployFixture(t)
	f.fake.Handler = func(cmd run.Command) (*run.Result, error) {
		if cmd.Binary == "scp" {
			return &run.Result{ExitCode: 1, Stderr: "connection reset"}, nil
		}
		return &run.Result{ExitCode: 0}, nil
	}
	d := New(f.cfg, f.fake)
	d.Prompt = declinePrompt(t)

	_, err := d.Deploy(context.Background(), f.mod, "staging", Options{})
	var tool *pipeline.ToolError
	require.ErrorAs(t, err, &tool)
	assert.Equal(t, "upload", tool.Step)
	assert.Contains(t, tool.Output, "connection reset")

	// No remote mutation after the failed upload: no pip, no rm, no restart.
	for _, line := range f.fake.CommandLines() {
		assert.NotContains(t, line, "pip install")
		assert.NotContains(t, line, "rm -f")
		assert.NotContains(t, line, "docker restart")
	}
}

func TestDeployInstallFailureKeepsUpload(t *testing.T) {
	f := newDeployFixture(t)
	f.fake.Handler = func(cmd run.Command) (*run.Result, error) {
		if contains(cmd.Args, "pip") {
			return &run.Result{ExitCode: 1, Stderr: "broken wheel"}, nil
		}
		return &run.Result{ExitCode: 0}, nil
	}
	d := New(f.cfg, f.fake)
	d.Prompt = declinePrompt(t)

	_, err := d.Deploy(context.Background(), f.mod, "staging", Options{})
	var tool *pipeline.ToolError
	require.ErrorAs(t, err, &tool)
	assert.Equal(t, "install", tool.Step)
	assert.Contains(t, tool.Output, "left in place")

	// The uploaded temporary was not removed on this failure path.
	for _, line := range f.fake.CommandLines() {
		assert.NotContains(t, line, "rm -f")
	}
}

func TestDeployStaticFailureIsWarning(t *testing.T) {
	f := newDeployFixture(t)
	f.fake.Handler = func(cmd run.Command) (*run.Result, error) {
		if contains(cmd.Args, "collectstatic") {
			return &run.Result{ExitCode: 1, Stderr: "permission denied"}, nil
		}
		return &run.Result{ExitCode: 0}, nil
	}
	d := New(f.cfg, f.fake)
	d.Prompt = declinePrompt(t)

	summary, err := d.Deploy(context.Background(), f.mod, "staging", Options{})
	require.NoError(t, err, "static refresh failure must not abort the deploy")
	assert.Contains(t, summary.StaticWarning, "permission denied")

	// Cleanup and restart still happened.
	lines := f.fake.CommandLines()
	assert.Contains(t, lines[len(lines)-1], "docker restart")
}

func TestDeployRestartFailureIsDistinct(t *testing.T) {
	f := newDeployFixture(t)
	f.fake.Handler = func(cmd run.Command) (*run.Result, error) {
		if contains(cmd.Args, "restart") {
			return &run.Result{ExitCode: 1, Stderr: "no such container"}, nil
		}
		return &run.Result{ExitCode: 0}, nil
	}
	d := New(f.cfg, f.fake)
	d.Prompt = declinePrompt(t)

	_, err := d.Deploy(context.Background(), f.mod, "staging", Options{})
	var tool *pipeline.ToolError
	require.ErrorAs(t, err, &tool)
	assert.Equal(t, "restart", tool.Step)
	assert.Contains(t, tool.Output, "installed but the service was not restarted")
}

func TestDeployProductionRequiresTypedTargetName(t *testing.T) {
	f := newDeployFixture(t)
	d := New(f.cfg, f.fake)
	d.Prompt = func(prompt string) (string, error) {
		assert.Contains(t, prompt, "production")
		return "yes", nil // not the target name
	}

	_, err := d.Deploy(context.Background(), f.mod, "production", Options{})
	require.ErrorIs(t, err, pipeline.ErrCancelled)
	assert.Equal(t, pipeline.ExitCancelled, pipeline.ExitCodeFor(err))

	// Declined before any remote contact.
	assert.Empty(t, f.fake.Calls)
}

func TestDeployProductionAcceptsToken(t *testing.T) {
	f := newDeployFixture(t)
	d := New(f.cfg, f.fake)
	d.Prompt = declinePrompt(t)

	summary, err := d.Deploy(context.Background(), f.mod, "production",
		Options{ConfirmToken: "production"})
	require.NoError(t, err)
	assert.Equal(t, "/srv/hostapp", summary.DeployRoot)

	// Port 2222 flows into both ssh and scp invocations.
	lines := f.fake.CommandLines()
	assert.True(t, strings.HasPrefix(lines[0], "ssh -p 2222 "), lines[0])
	found := false
	for _, line := range lines {
		if strings.HasPrefix(line, "scp -P 2222 ") {
			found = true
		}
	}
	assert.True(t, found, "scp did not carry the port: %v", lines)
}

func TestDeploySkipBuildWithoutArtifact(t *testing.T) {
	f := newDeployFixture(t)
	require.NoError(t, os.RemoveAll(f.mod.DistDir))
	d := New(f.cfg, f.fake)
	d.Prompt = declinePrompt(t)

	_, err := d.Deploy(context.Background(), f.mod, "staging", Options{SkipBuild: true})
	var pre *pipeline.PreconditionError
	require.ErrorAs(t, err, &pre)
	assert.Contains(t, pre.Reason, "--skip-build")
}

func TestDeployUnknownTarget(t *testing.T) {
	f := newDeployFixture(t)
	d := New(f.cfg, f.fake)

	_, err := d.Deploy(context.Background(), f.mod, "qa", Options{})
	var pre *pipeline.PreconditionError
	require.ErrorAs(t, err, &pre)
	assert.Contains(t, pre.Reason, "qa")
}

func contains(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}
