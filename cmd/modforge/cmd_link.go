package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"modforge/internal/envlink"
	"modforge/internal/module"
)

var linkForce bool

// linkCmd establishes the environment link for a module
var linkCmd = &cobra.Command{
	Use:   "link [module]",
	Short: "Link a module into the host-runtime checkout for testing",
	Long: `Creates a directory link from the host runtime's plugin directory to
the module's source tree and registers the module's entry points in the
runtime's environment, so the runtime's discovery mechanism finds it.

The host runtime checkout (runtime.checkout in .modforge/config.yml)
must have completed its own setup step first.`,
	Args: cobra.ExactArgs(1),
	RunE: runLink,
}

func init() {
	linkCmd.Flags().BoolVar(&linkForce, "force", false, "Recreate the link if it points at a different module")
}

func runLink(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	mod, err := module.Find(cfg, args[0])
	if err != nil {
		return err
	}
	logger.Info("Linking module",
		zap.String("module", mod.Name),
		zap.String("checkout", cfg.Runtime.Checkout))

	linker := envlink.New(cfg, executor)
	status, err := linker.Ensure(ctx, mod, envlink.Options{Force: linkForce})
	if err != nil {
		return err
	}

	if status.AlreadyLinked {
		fmt.Printf("✅ %s already linked (%s)\n", mod.Name, status.Link.Kind)
		return nil
	}

	fmt.Printf("✅ Linked %s -> %s (%s)\n", linker.LinkPath(mod), mod.Dir, status.Link.Kind)
	if status.InstallWarning != "" {
		fmt.Printf("⚠️  %s\n", status.InstallWarning)
	} else {
		fmt.Println("✅ Editable install completed")
	}
	return nil
}
