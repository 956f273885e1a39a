//go:build windows

package envlink

import (
	"context"
	"fmt"
	"os"

	"modforge/internal/run"
)

// createJunction creates an NTFS junction. Junctions do not require
// elevated privileges, unlike symlinks outside developer mode, which is
// why they are the fallback.
func createJunction(ctx context.Context, runner run.Runner, path, target string) error {
	result, err := runner.Run(ctx, run.Command{
		Binary: "cmd",
		Args:   []string{"/c", "mklink", "/J", path, target},
	})
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("mklink /J exited %d: %s", result.ExitCode, result.Output())
	}
	return nil
}

// readReparse recognizes junctions, which Lstat reports as irregular
// mount points rather than symlinks. os.Readlink resolves them.
func readReparse(path string, info os.FileInfo) (*DirectoryLink, bool) {
	if info.Mode()&os.ModeIrregular == 0 && !info.IsDir() {
		return nil, false
	}
	target, err := os.Readlink(path)
	if err != nil {
		return nil, false
	}
	return &DirectoryLink{Kind: Junction, Target: target}, true
}
