package envlink

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// LinkKind distinguishes how a directory link was created. The two
// kinds are functionally identical once they exist; equality between
// links is defined on Target only, so callers never branch on kind.
type LinkKind string

const (
	Symbolic LinkKind = "symlink"
	Junction LinkKind = "junction"
)

// DirectoryLink is an existing directory link on disk.
type DirectoryLink struct {
	Kind   LinkKind
	Target string
}

// PointsAt reports whether the link resolves to the given directory.
func (l DirectoryLink) PointsAt(dir string) bool {
	return filepath.Clean(l.Target) == filepath.Clean(dir)
}

// ErrNotALink is returned by ReadLink when the path exists but is a
// regular file or directory rather than a link of either kind.
var ErrNotALink = errors.New("path exists but is not a directory link")

// ReadLink inspects the path and returns the link found there, or nil
// when the path does not exist. Both link kinds are accepted.
func ReadLink(path string) (*DirectoryLink, error) {
	info, err := os.Lstat(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(path)
		if err != nil {
			return nil, fmt.Errorf("reading link %s: %w", path, err)
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(path), target)
		}
		return &DirectoryLink{Kind: Symbolic, Target: target}, nil
	}

	// Reparse points that Lstat does not classify as symlinks
	// (junctions) are handled per platform.
	if link, ok := readReparse(path, info); ok {
		return link, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotALink, path)
}
