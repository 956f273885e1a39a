package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"modforge/internal/envlink"
	"modforge/internal/module"
)

// statusCmd summarizes workspace state
var statusCmd = &cobra.Command{
	Use:   "status [module]",
	Short: "Show build, link and runtime status",
	Long: `Without arguments, lists every module in the collection with its
artifact freshness. With a module name, shows that module's full state:
artifact, staleness, link into the host runtime, test layout.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		return statusForModule(args[0])
	}
	return statusOverview()
}

func statusOverview() error {
	fmt.Println("🔧 modforge workspace status")
	fmt.Println(strings.Repeat("─", 60))
	fmt.Printf("Workspace:  %s\n", workspace)
	fmt.Printf("Modules:    %s\n", cfg.ModulesPath())

	if cfg.Runtime.Checkout == "" {
		fmt.Println("Runtime:    not configured")
	} else if _, err := envlink.ReadSetupMarker(cfg.Runtime.Checkout, cfg.Runtime.SetupMarker); err != nil {
		fmt.Printf("Runtime:    %s (setup NOT completed)\n", cfg.Runtime.Checkout)
	} else {
		fmt.Printf("Runtime:    %s\n", cfg.Runtime.Checkout)
	}

	names, err := listModules()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Println("\nNo modules found. Run 'modforge scaffold' to create one.")
		return nil
	}

	fmt.Println()
	for _, name := range names {
		mod, err := module.Find(cfg, name)
		if err != nil {
			fmt.Printf("  %-24s ⚠️  %v\n", name, err)
			continue
		}
		fmt.Printf("  %-24s %s\n", name, artifactSummary(mod))
	}
	return nil
}

func statusForModule(name string) error {
	mod, err := module.Find(cfg, name)
	if err != nil {
		return err
	}

	fmt.Printf("📦 %s\n", mod.Name)
	fmt.Println(strings.Repeat("─", 60))
	fmt.Printf("Package:     %s\n", mod.PackageDir)
	if mod.UIDir != "" {
		fmt.Printf("UI:          %s\n", mod.UIDir)
	} else {
		fmt.Println("UI:          none")
	}
	fmt.Printf("Artifact:    %s\n", artifactSummary(mod))

	if cfg.Runtime.Checkout != "" {
		linker := envlink.New(cfg, executor)
		link, err := linker.Check(mod)
		switch {
		case err != nil:
			fmt.Printf("Link:        ⚠️  %v\n", err)
		case link == nil:
			fmt.Println("Link:        not linked (run 'modforge link " + mod.Name + "')")
		case link.PointsAt(mod.Dir):
			fmt.Printf("Link:        ✅ %s (%s)\n", linker.LinkPath(mod), link.Kind)
		default:
			fmt.Printf("Link:        ❌ points at %s\n", link.Target)
		}
	}

	if mod.HasIntegrationTests(cfg.Test.IntegrationDir) {
		fmt.Printf("Tests:       fast + integration (%s)\n",
			mod.IntegrationPackagePath(cfg.Test.IntegrationDir))
	} else {
		fmt.Println("Tests:       fast only")
	}
	return nil
}

func artifactSummary(mod *module.Module) string {
	artifact, err := mod.NewestArtifact()
	if err != nil {
		return fmt.Sprintf("⚠️  %v", err)
	}
	if artifact.Path == "" {
		return "no artifact (never built)"
	}
	stale, err := mod.IsStale()
	if err != nil {
		return fmt.Sprintf("⚠️  %v", err)
	}
	age := time.Since(artifact.ModTime).Round(time.Minute)
	if stale {
		return fmt.Sprintf("❌ stale (%s, built %s ago)", filepath.Base(artifact.Path), age)
	}
	return fmt.Sprintf("✅ %s (built %s ago)", filepath.Base(artifact.Path), age)
}

func listModules() ([]string, error) {
	entries, err := os.ReadDir(cfg.ModulesPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
