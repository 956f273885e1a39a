package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"modforge/internal/deploy"
	"modforge/internal/module"
)

var (
	deploySkipBuild bool
	deployConfirm   string
)

// deployCmd ships a module to a remote target
var deployCmd = &cobra.Command{
	Use:   "deploy [module] [target]",
	Short: "Deploy a module's artifact to a named remote target",
	Long: `Deploys the module to one of the targets configured in
.modforge/config.yml: conditional build, upload over scp, force
reinstall inside the service container, static asset refresh, cleanup,
service restart. The steps run strictly in order and the first fatal
failure aborts the rest.

Production-class targets ask for confirmation: type the target's name
to proceed. Supply it non-interactively with --confirm.`,
	Args: cobra.ExactArgs(2),
	RunE: runDeploy,
}

func init() {
	deployCmd.Flags().BoolVar(&deploySkipBuild, "skip-build", false, "Deploy the existing artifact without building")
	deployCmd.Flags().StringVar(&deployConfirm, "confirm", "", "Pre-supplied confirmation token for production targets")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	mod, err := module.Find(cfg, args[0])
	if err != nil {
		return err
	}
	targetName := args[1]

	logger.Info("Deploying module",
		zap.String("module", mod.Name),
		zap.String("target", targetName))

	d := deploy.New(cfg, executor)
	summary, err := d.Deploy(ctx, mod, targetName, deploy.Options{
		SkipBuild:    deploySkipBuild,
		ConfirmToken: deployConfirm,
	})
	if err != nil {
		return err
	}

	if summary.Built {
		fmt.Printf("✅ Built %s\n", filepath.Base(summary.Artifact))
	} else {
		fmt.Printf("✅ Using existing artifact %s\n", filepath.Base(summary.Artifact))
	}
	fmt.Printf("✅ Installed into %s (root %s)\n", targetName, summary.DeployRoot)
	if summary.StaticWarning != "" {
		fmt.Printf("⚠️  %s\n", summary.StaticWarning)
	}
	fmt.Println("✅ Service restarted")

	if verbose {
		for _, step := range summary.StepOutputs {
			fmt.Printf("--- %s ---\n%s\n", step.Step, indent(step.Output))
		}
	}
	return nil
}
