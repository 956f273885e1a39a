package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"modforge/internal/builder"
	"modforge/internal/module"
)

var (
	buildSkipUI bool
	buildClean  bool
	buildForce  bool
)

// buildCmd produces a module's artifacts
var buildCmd = &cobra.Command{
	Use:   "build [module]",
	Short: "Build a module's UI bundle and backend archive",
	Long: `Builds the module's artifacts: the UI bundle (when the module has a
UI source directory) and the backend archive in the module's dist dir.

The build is conditional: it runs only when a tracked source file is
newer than the newest artifact. Use --force to rebuild regardless, and
--clean to empty the dist dir first (which implies a full rebuild).`,
	Args: cobra.ExactArgs(1),
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().BoolVar(&buildSkipUI, "skip-ui", false, "Skip the UI bundling step")
	buildCmd.Flags().BoolVar(&buildClean, "clean", false, "Empty the dist dir before building")
	buildCmd.Flags().BoolVar(&buildForce, "force", false, "Rebuild even when artifacts are up to date")
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	mod, err := module.Find(cfg, args[0])
	if err != nil {
		return err
	}
	logger.Info("Building module", zap.String("module", mod.Name))

	b := builder.New(cfg, executor)
	opts := builder.Options{SkipUI: buildSkipUI, Clean: buildClean}

	var outcome *builder.Outcome
	if buildForce || buildClean {
		outcome, err = b.Build(ctx, mod, opts)
	} else {
		outcome, err = b.BuildIfStale(ctx, mod, opts)
	}
	if err != nil {
		return err
	}

	if outcome.Skipped {
		fmt.Printf("✅ %s is up to date (%s), nothing to do\n",
			mod.Name, filepath.Base(outcome.Archive.Path))
		return nil
	}
	if outcome.UIBuilt {
		fmt.Println("✅ UI bundle built")
	}
	fmt.Printf("✅ Built %s\n", filepath.Base(outcome.Archive.Path))
	return nil
}
