package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"modforge/internal/config"
	"modforge/internal/logging"
	"modforge/internal/pipeline"
	"modforge/internal/run"
)

var (
	// Global flags
	verbose   bool
	workspace string
	timeout   time.Duration

	logger   *zap.Logger
	cfg      *config.Config
	executor run.Runner
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "modforge",
	Short: "modforge - build, test, link and deploy host-application extension modules",
	Long: `modforge orchestrates the local development loop for extension modules:

  scaffold  create a new module with the external generator
  build     produce the UI bundle and backend archive (staleness-aware)
  link      make a module discoverable inside a host-runtime checkout
  test      run the fast and integration suites
  deploy    ship the artifact to a named remote target
  watch     rebuild automatically on source changes

Configuration lives in .modforge/config.yml at the workspace root.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if workspace == "" {
			wd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("resolving workspace: %w", err)
			}
			workspace = wd
		}

		// Initialize logger
		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if err := logging.Initialize(workspace); err != nil {
			logger.Warn("file logging unavailable", zap.Error(err))
		}
		if err := logging.InitAudit(); err != nil {
			logger.Warn("audit logging unavailable", zap.Error(err))
		}

		cfg, err = config.Load(workspace)
		if err != nil {
			return err
		}

		execCfg := run.DefaultConfig()
		execCfg.DefaultDir = workspace
		if timeout > 0 {
			execCfg.DefaultTimeout = timeout
		}
		executor = run.NewExecWithConfig(execCfg)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAudit()
		logging.CloseAll()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Minute, "Per-tool timeout")

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(linkCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(scaffoldCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
}

func main() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	if errors.Is(err, pipeline.ErrCancelled) {
		fmt.Fprintln(os.Stderr, "Cancelled, nothing was changed.")
	} else {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
	}
	os.Exit(pipeline.ExitCodeFor(err))
}
