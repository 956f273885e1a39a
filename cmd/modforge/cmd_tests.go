package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"modforge/internal/module"
	"modforge/internal/testrun"
)

var (
	testScopeFlag string
	testPathFlag  string
	testVerbose   bool
)

// testCmd runs a module's test suites
var testCmd = &cobra.Command{
	Use:   "test [module]",
	Short: "Run a module's fast and integration test suites",
	Long: `Runs the module's test suites.

The fast suite needs no host runtime and runs with all host-runtime
environment variables scrubbed. The integration suite runs inside the
linked host-runtime checkout ('modforge link' must have been run).

Default scope is both; when the module has no integration tests or no
link, integration is reported as a skip. Requesting --scope integration
explicitly turns those skips into failures.`,
	Args: cobra.ExactArgs(1),
	RunE: runTest,
}

func init() {
	testCmd.Flags().StringVar(&testScopeFlag, "scope", "all", "Test scope: fast, integration or all")
	testCmd.Flags().StringVar(&testPathFlag, "path", "", "Run an explicit test path or label instead of the discovered suites")
	testCmd.Flags().BoolVar(&testVerbose, "show-output", false, "Print each suite's full output even on success")
}

func runTest(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	mod, err := module.Find(cfg, args[0])
	if err != nil {
		return err
	}

	var scope testrun.Scope
	switch testScopeFlag {
	case "fast":
		scope = testrun.ScopeFast
	case "integration":
		scope = testrun.ScopeIntegration
	case "all", "":
		scope = testrun.ScopeAll
	default:
		return fmt.Errorf("unknown scope %q (expected fast, integration or all)", testScopeFlag)
	}

	logger.Info("Running tests",
		zap.String("module", mod.Name),
		zap.String("scope", scope.String()))

	report, err := testrun.New(cfg, executor).Run(ctx, mod, testrun.Options{Scope: scope, Path: testPathFlag})
	if err != nil {
		return err
	}

	for _, suite := range report.Suites {
		switch suite.Outcome {
		case testrun.Passed:
			fmt.Printf("✅ %s tests passed (%s)\n", suite.Suite, suite.Duration.Round(10*time.Millisecond))
			if testVerbose && suite.Output != "" {
				fmt.Println(indent(suite.Output))
			}
		case testrun.Skipped:
			fmt.Printf("⚠️  %s tests skipped: %s\n", suite.Suite, suite.SkipReason)
		case testrun.Failed:
			fmt.Printf("❌ %s tests failed (exit %d)\n", suite.Suite, suite.ExitCode)
			if suite.Output != "" {
				fmt.Println(indent(suite.Output))
			}
		}
	}

	return report.Err()
}

func indent(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, line := range lines {
		lines[i] = "  " + line
	}
	return strings.Join(lines, "\n")
}
