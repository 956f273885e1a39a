// Package testrun executes a module's two test suites.
//
// The fast suite needs no host runtime: it runs the configured test
// command against the module's unit tests with every host-runtime
// environment variable scrubbed, so results cannot depend on ambient
// runtime state. The integration suite runs inside a linked host-runtime
// checkout through the runtime's own test entry point.
//
// Known boundary: extension-exposed network endpoints are registered
// during integration runs via the runtime's test-setup flag, but URL
// routing inside the runtime resolves only routes present at process
// start. Integration tests therefore exercise endpoint registration and
// handlers directly rather than through resolved URLs.
package testrun

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"modforge/internal/config"
	"modforge/internal/envlink"
	"modforge/internal/logging"
	"modforge/internal/module"
	"modforge/internal/pipeline"
	"modforge/internal/run"
)

// Scope selects which suites to run.
type Scope int

const (
	// ScopeAll runs the fast suite, then integration when available.
	// Unavailable integration degrades to a skip, not a failure.
	ScopeAll Scope = iota

	// ScopeFast runs only the no-runtime suite.
	ScopeFast

	// ScopeIntegration runs only the runtime suite. Because it was
	// requested explicitly and exclusively, missing prerequisites are
	// failures here, not skips.
	ScopeIntegration
)

func (s Scope) String() string {
	switch s {
	case ScopeFast:
		return "fast"
	case ScopeIntegration:
		return "integration"
	default:
		return "all"
	}
}

// Outcome is the result of one suite.
type Outcome string

const (
	Passed  Outcome = "passed"
	Failed  Outcome = "failed"
	Skipped Outcome = "skipped"
)

// SuiteResult is the per-suite report entry.
type SuiteResult struct {
	Suite      string // "fast" or "integration"
	Outcome    Outcome
	SkipReason string // set when Outcome == Skipped
	ExitCode   int
	Output     string
	Duration   time.Duration
}

// Report aggregates suite results for one invocation.
type Report struct {
	Suites []SuiteResult
}

// Failed reports whether any suite failed.
func (r *Report) Failed() bool {
	for _, s := range r.Suites {
		if s.Outcome == Failed {
			return true
		}
	}
	return false
}

// Err converts the first failed suite into the error the command layer
// exits on. The test runner's exit code passes through.
func (r *Report) Err() error {
	for _, s := range r.Suites {
		if s.Outcome == Failed {
			return &pipeline.ToolError{
				Step:     s.Suite + "-tests",
				Tool:     "test runner",
				ExitCode: s.ExitCode,
				Output:   s.Output,
			}
		}
	}
	return nil
}

// Runner executes test suites for modules.
type Runner struct {
	cfg    *config.Config
	exec   run.Runner
	linker *envlink.Linker
}

func New(cfg *config.Config, exec run.Runner) *Runner {
	return &Runner{cfg: cfg, exec: exec, linker: envlink.New(cfg, exec)}
}

// Options selects what Run executes.
type Options struct {
	Scope Scope

	// Path, when set, replaces suite discovery: the fast suite runs
	// the test command against this path (relative to the module dir)
	// and the integration suite passes it as the test label instead of
	// the module's integration package.
	Path string
}

// Run executes the suites selected by opts.
func (t *Runner) Run(ctx context.Context, mod *module.Module, opts Options) (*Report, error) {
	timer := logging.StartTimer(logging.CategoryTest, fmt.Sprintf("test %s (%s)", mod.Name, opts.Scope))
	defer timer.StopWithInfo()

	report := &Report{}
	scope := opts.Scope

	if scope == ScopeAll || scope == ScopeFast {
		result, err := t.runFast(ctx, mod, opts.Path)
		if err != nil {
			return nil, err
		}
		report.Suites = append(report.Suites, *result)
	}

	if scope == ScopeAll || scope == ScopeIntegration {
		result, err := t.runIntegration(ctx, mod, opts.Path, scope == ScopeIntegration)
		if err != nil {
			return nil, err
		}
		report.Suites = append(report.Suites, *result)
	}

	return report, nil
}

// runFast executes the no-runtime suite with host env scrubbed.
func (t *Runner) runFast(ctx context.Context, mod *module.Module, pathOverride string) (*SuiteResult, error) {
	dir := mod.UnitTestDir(t.cfg.Test.UnitDir)

	cmdline := t.cfg.Test.FastCommand
	args := cmdline[1:]
	if pathOverride != "" {
		// An explicit path is run as given; no discovery, no skip.
		dir = mod.Dir
		args = append(append([]string{}, args...), pathOverride)
	} else {
		matches, err := filepath.Glob(filepath.Join(dir, "test_*.py"))
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			logging.Test("%s: no fast tests under %s", mod.Name, dir)
			return &SuiteResult{
				Suite:      "fast",
				Outcome:    Skipped,
				SkipReason: fmt.Sprintf("no test files in %s", dir),
			}, nil
		}
	}

	env := run.WithoutEnvPrefix(
		run.BaseEnv(run.DefaultConfig().AllowedEnvironment),
		t.cfg.Test.HostEnvPrefix)

	result, err := t.exec.Run(ctx, run.Command{
		Binary: cmdline[0],
		Args:   args,
		Dir:    dir,
		Env:    env,
	})
	if err != nil {
		return nil, fmt.Errorf("fast tests: %w", err)
	}
	return t.suiteResult(mod, "fast", result), nil
}

// runIntegration executes the runtime suite. When exclusive is false
// (part of an "all" run) missing prerequisites degrade to skips with
// remediation; when true they are hard failures.
func (t *Runner) runIntegration(ctx context.Context, mod *module.Module, pathOverride string, exclusive bool) (*SuiteResult, error) {
	skip := func(reason, remediation string) (*SuiteResult, error) {
		if exclusive {
			return nil, pipeline.Preconditionf(remediation, "integration tests: %s", reason)
		}
		logging.Test("%s: integration skipped: %s", mod.Name, reason)
		return &SuiteResult{
			Suite:      "integration",
			Outcome:    Skipped,
			SkipReason: reason + " (" + remediation + ")",
		}, nil
	}

	if !mod.HasIntegrationTests(t.cfg.Test.IntegrationDir) {
		return skip(
			fmt.Sprintf("module %s has no %s package", mod.Name, t.cfg.Test.IntegrationDir),
			"add integration tests under the module's package")
	}

	checkout := t.cfg.Runtime.Checkout
	if checkout == "" {
		return skip("no host runtime checkout configured",
			"set runtime.checkout in .modforge/config.yml")
	}
	if _, err := envlink.ReadSetupMarker(checkout, t.cfg.Runtime.SetupMarker); err != nil {
		if exclusive {
			return nil, err
		}
		return skip("host runtime has not completed setup", "run its setup step, then 'modforge link'")
	}

	link, err := t.linker.Check(mod)
	if err != nil {
		return nil, err
	}
	if link == nil || !link.PointsAt(mod.Dir) {
		return skip(fmt.Sprintf("module %s is not linked into the host runtime", mod.Name),
			"run 'modforge link "+mod.Name+"' first")
	}

	flags := []string{
		t.cfg.Test.HostEnvPrefix + "PLUGINS_ENABLED=1",
		t.cfg.Test.HostEnvPrefix + "PLUGIN_TESTING_SETUP=1",
	}
	env := run.MergeEnv(run.BaseEnv(run.DefaultConfig().AllowedEnvironment), flags...)

	label := mod.IntegrationPackagePath(t.cfg.Test.IntegrationDir)
	if pathOverride != "" {
		label = pathOverride
	}
	entry := t.cfg.Runtime.TestEntry
	args := append(append([]string{}, entry...), label)

	result, err := t.exec.Run(ctx, run.Command{
		Binary: filepath.Join(checkout, t.cfg.Runtime.Python),
		Args:   args,
		Dir:    checkout,
		Env:    env,
	})
	if err != nil {
		return nil, fmt.Errorf("integration tests: %w", err)
	}
	return t.suiteResult(mod, "integration", result), nil
}

func (t *Runner) suiteResult(mod *module.Module, suite string, result *run.Result) *SuiteResult {
	outcome := Passed
	if result.ExitCode != 0 {
		outcome = Failed
	}
	logging.Audit().Stage(logging.AuditTestSuite, mod.Name, suite, outcome == Passed, string(outcome))
	return &SuiteResult{
		Suite:    suite,
		Outcome:  outcome,
		ExitCode: result.ExitCode,
		Output:   result.Output(),
		Duration: result.Duration,
	}
}
