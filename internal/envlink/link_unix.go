//go:build !windows

package envlink

import (
	"context"
	"errors"
	"os"

	"modforge/internal/run"
)

// Junctions are a Windows construct; on Unix there is nothing to fall
// back to when symlink creation fails.
func createJunction(ctx context.Context, runner run.Runner, path, target string) error {
	return errors.ErrUnsupported
}

func readReparse(path string, info os.FileInfo) (*DirectoryLink, bool) {
	return nil, false
}
