package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"modforge/internal/builder"
	"modforge/internal/module"
	"modforge/internal/watch"
)

var watchSkipUI bool

// watchCmd rebuilds a module on source changes
var watchCmd = &cobra.Command{
	Use:   "watch [module]",
	Short: "Rebuild a module automatically when its sources change",
	Long: `Watches the module's source tree and runs a conditional build when
tracked files change. Rapid save bursts are debounced into one build.
Stops on Ctrl-C.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchSkipUI, "skip-ui", false, "Skip the UI bundling step on rebuilds")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mod, err := module.Find(cfg, args[0])
	if err != nil {
		return err
	}

	b := builder.New(cfg, executor)
	rebuild := func(ctx context.Context) error {
		outcome, err := b.BuildIfStale(ctx, mod, builder.Options{SkipUI: watchSkipUI})
		if err != nil {
			fmt.Printf("❌ %v\n", err)
			return err
		}
		if !outcome.Skipped {
			fmt.Printf("✅ Rebuilt %s\n", filepath.Base(outcome.Archive.Path))
		}
		return nil
	}

	w, err := watch.New(mod, cfg.Module.SourceExtensions, cfg.Module.ExcludeDirs, rebuild)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}

	logger.Info("Watching module", zap.String("module", mod.Name))
	fmt.Printf("👀 Watching %s (Ctrl-C to stop)\n", mod.Dir)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nStopping...")
	w.Stop()

	stats := w.GetStats()
	fmt.Printf("Handled %d changes, %d rebuilds, %d failures\n",
		stats.Events, stats.Triggers, stats.ActionErrors)
	return nil
}
