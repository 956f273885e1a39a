// Package deploy ships a module's built artifact to a named remote
// target and activates it: upload over scp, force-reinstall inside the
// running service container, refresh static assets, clean up, restart.
//
// The sequence is strict and sequential. No step is retried, and every
// step's remote output is surfaced verbatim so failures can be
// diagnosed without re-running.
package deploy

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"modforge/internal/builder"
	"modforge/internal/config"
	"modforge/internal/logging"
	"modforge/internal/module"
	"modforge/internal/pipeline"
	"modforge/internal/run"
)

// Options controls a deployment.
type Options struct {
	// SkipBuild deploys the existing artifact without the conditional
	// build step. Fails when no artifact exists.
	SkipBuild bool

	// ConfirmToken pre-supplies the production confirmation, for
	// non-interactive invocations. It must equal the target name.
	ConfirmToken string
}

// Summary reports what a successful deployment did.
type Summary struct {
	// Built is true when the conditional build step actually rebuilt.
	Built bool

	// Artifact is the archive that was shipped.
	Artifact string

	// DeployRoot is the remote root that won the probe.
	DeployRoot string

	// StaticWarning carries the static-asset refresh failure output.
	// The install succeeded; presentation assets may be stale.
	StaticWarning string

	// StepOutputs carries each remote step's output verbatim, in
	// execution order. Failing steps surface theirs in the error
	// instead; empty outputs are not recorded.
	StepOutputs []StepOutput
}

// StepOutput is one remote step's captured output.
type StepOutput struct {
	Step   string
	Output string
}

func (s *Summary) record(step string, output string) {
	if output == "" {
		return
	}
	s.StepOutputs = append(s.StepOutputs, StepOutput{Step: step, Output: output})
}

// Prompter asks the user for one line of input. Swapped out in tests.
type Prompter func(prompt string) (string, error)

func stdinPrompter(prompt string) (string, error) {
	fmt.Print(prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Deployer runs the deployment pipeline.
type Deployer struct {
	cfg     *config.Config
	runner  run.Runner
	builder *builder.Builder

	// Prompt collects the production confirmation. Defaults to stdin.
	Prompt Prompter
}

func New(cfg *config.Config, runner run.Runner) *Deployer {
	return &Deployer{
		cfg:     cfg,
		runner:  runner,
		builder: builder.New(cfg, runner),
		Prompt:  stdinPrompter,
	}
}

// Deploy runs the full pipeline against the named target.
func (d *Deployer) Deploy(ctx context.Context, mod *module.Module, targetName string, opts Options) (*Summary, error) {
	target, err := d.cfg.Target(targetName)
	if err != nil {
		return nil, pipeline.Preconditionf(
			"check the targets section of .modforge/config.yml", "%v", err)
	}

	timer := logging.StartTimer(logging.CategoryDeploy, fmt.Sprintf("deploy %s to %s", mod.Name, targetName))
	defer timer.StopWithInfo()

	summary := &Summary{}

	// Step 1: conditional build. Any build failure aborts everything.
	archive, built, err := d.ensureArtifact(ctx, mod, opts.SkipBuild)
	if err != nil {
		return nil, err
	}
	summary.Built = built
	summary.Artifact = archive.Path

	// Step 2: production confirmation, before any remote contact.
	if target.Production {
		if err := d.confirmProduction(targetName, opts.ConfirmToken); err != nil {
			return nil, err
		}
	}

	// Step 3: probe for the deployment root.
	root, err := d.findDeployRoot(ctx, target)
	if err != nil {
		return nil, err
	}
	summary.DeployRoot = root
	logging.Deploy("deploy root on %s: %s", target.Host, root)

	// Step 4: upload. Fails before any remote mutation.
	name := filepath.Base(archive.Path)
	remotePath := path.Join(root, target.DataDir, name)
	out, err := d.upload(ctx, target, archive.Path, remotePath)
	if err != nil {
		return nil, err
	}
	summary.record("upload", out)

	// Step 5: force-reinstall inside the container. On failure the
	// uploaded file stays on the host for manual inspection.
	containerPath := path.Join(target.ContainerDataDir, name)
	out, err = d.install(ctx, target, containerPath)
	if err != nil {
		return nil, err
	}
	summary.record("install", out)

	// Step 6: refresh static assets. A failure is a warning only.
	out, warn := d.refreshStatic(ctx, target)
	summary.StaticWarning = warn
	summary.record("static-refresh", out)

	// Step 7: remove the uploaded temporary.
	out, err = d.removeRemote(ctx, target, remotePath)
	if err != nil {
		return nil, err
	}
	summary.record("cleanup", out)

	// Step 8: restart the service. Failure here means the package is
	// installed but not yet active, so it is surfaced distinctly.
	out, err = d.restart(ctx, target)
	if err != nil {
		return nil, err
	}
	summary.record("restart", out)

	logging.Deploy("deployed %s (%s) to %s", mod.Name, name, targetName)
	logging.Audit().Stage(logging.AuditDeployStep, mod.Name, targetName, true, "pipeline complete")
	return summary, nil
}

func (d *Deployer) ensureArtifact(ctx context.Context, mod *module.Module, skipBuild bool) (module.Artifact, bool, error) {
	if skipBuild {
		archive, err := mod.BackendArchive()
		if err != nil {
			return module.Artifact{}, false, err
		}
		if archive.Path == "" {
			return module.Artifact{}, false, pipeline.Preconditionf(
				"run 'modforge build "+mod.Name+"' or drop --skip-build",
				"--skip-build set but %s has no artifact in %s", mod.Name, mod.DistDir)
		}
		return archive, false, nil
	}

	outcome, err := d.builder.BuildIfStale(ctx, mod, builder.Options{})
	if err != nil {
		return module.Artifact{}, false, err
	}
	return outcome.Archive, !outcome.Skipped, nil
}

// confirmProduction requires the user to type the target's name. Any
// other input aborts cleanly with no side effects.
func (d *Deployer) confirmProduction(targetName, token string) error {
	if token == "" {
		answer, err := d.Prompt(fmt.Sprintf(
			"⚠️  %s is a production target. Type %q to continue: ", targetName, targetName))
		if err != nil {
			return fmt.Errorf("reading confirmation: %w", err)
		}
		token = answer
	}
	if token != targetName {
		logging.Deploy("production deploy to %s declined", targetName)
		return pipeline.ErrCancelled
	}
	return nil
}

// findDeployRoot probes the candidate roots in order over ssh; the
// first existing directory wins.
func (d *Deployer) findDeployRoot(ctx context.Context, target config.Target) (string, error) {
	for _, root := range target.DeployRoots {
		result, err := d.ssh(ctx, target, "test", "-d", root)
		if err != nil {
			return "", fmt.Errorf("probing %s: %w", root, err)
		}
		if result.ExitCode == 0 {
			return root, nil
		}
	}
	return "", pipeline.Preconditionf(
		"set deploy_roots for this target in .modforge/config.yml",
		"no deployment root found on %s (probed %s)",
		target.Host, strings.Join(target.DeployRoots, ", "))
}

func (d *Deployer) upload(ctx context.Context, target config.Target, local, remote string) (string, error) {
	args := scpArgs(target)
	args = append(args, local, target.Host+":"+remote)

	result, err := d.runner.Run(ctx, run.Command{Binary: "scp", Args: args})
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	if result.ExitCode != 0 {
		return "", &pipeline.ToolError{
			Step:     "upload",
			Tool:     "scp",
			ExitCode: result.ExitCode,
			Output:   result.Output(),
		}
	}
	logging.Deploy("uploaded %s to %s:%s", filepath.Base(local), target.Host, remote)
	return result.Output(), nil
}

func (d *Deployer) install(ctx context.Context, target config.Target, containerPath string) (string, error) {
	result, err := d.ssh(ctx, target,
		"docker", "exec", target.Container,
		"pip", "install", "--force-reinstall", containerPath)
	if err != nil {
		return "", fmt.Errorf("install: %w", err)
	}
	if result.ExitCode != 0 {
		return "", &pipeline.ToolError{
			Step:     "install",
			Tool:     "pip",
			ExitCode: result.ExitCode,
			Output:   result.Output() + "\n(uploaded artifact left in place for inspection)",
		}
	}
	return result.Output(), nil
}

// refreshStatic returns the step's output and, on failure, a warning.
func (d *Deployer) refreshStatic(ctx context.Context, target config.Target) (string, string) {
	args := append([]string{"docker", "exec", target.Container}, target.StaticCommand...)
	result, err := d.ssh(ctx, target, args...)
	if err != nil {
		logging.DeployWarn("static refresh could not run: %v", err)
		return "", fmt.Sprintf("static refresh could not run: %v", err)
	}
	if result.ExitCode != 0 {
		logging.DeployWarn("static refresh exited %d", result.ExitCode)
		return result.Output(), fmt.Sprintf("static asset refresh exited %d; assets may be stale:\n%s",
			result.ExitCode, result.Output())
	}
	return result.Output(), ""
}

func (d *Deployer) removeRemote(ctx context.Context, target config.Target, remote string) (string, error) {
	result, err := d.ssh(ctx, target, "rm", "-f", remote)
	if err != nil {
		return "", fmt.Errorf("cleanup: %w", err)
	}
	if result.ExitCode != 0 {
		return "", &pipeline.ToolError{
			Step:     "cleanup",
			Tool:     "rm",
			ExitCode: result.ExitCode,
			Output:   result.Output(),
		}
	}
	return result.Output(), nil
}

func (d *Deployer) restart(ctx context.Context, target config.Target) (string, error) {
	result, err := d.ssh(ctx, target, "docker", "restart", target.Container)
	if err != nil {
		return "", fmt.Errorf("restart: %w", err)
	}
	if result.ExitCode != 0 {
		return "", &pipeline.ToolError{
			Step:     "restart",
			Tool:     "docker",
			ExitCode: result.ExitCode,
			Output: result.Output() +
				"\n(package is installed but the service was not restarted; restart it manually)",
		}
	}
	return result.Output(), nil
}

// ssh runs one remote command over the target's ssh connection.
func (d *Deployer) ssh(ctx context.Context, target config.Target, remoteCmd ...string) (*run.Result, error) {
	args := sshArgs(target)
	args = append(args, target.Host)
	args = append(args, remoteCmd...)
	return d.runner.Run(ctx, run.Command{Binary: "ssh", Args: args})
}

func sshArgs(target config.Target) []string {
	var args []string
	if target.Port != 0 {
		args = append(args, "-p", strconv.Itoa(target.Port))
	}
	if target.IdentityFile != "" {
		args = append(args, "-i", target.IdentityFile)
	}
	return args
}

func scpArgs(target config.Target) []string {
	var args []string
	if target.Port != 0 {
		args = append(args, "-P", strconv.Itoa(target.Port))
	}
	if target.IdentityFile != "" {
		args = append(args, "-i", target.IdentityFile)
	}
	return args
}
