package module

import (
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Artifact is one built file in the dist directory.
type Artifact struct {
	Path    string
	ModTime time.Time
}

// NewestArtifact returns the most recently modified file in the dist
// directory. A missing or empty dist directory returns a zero Artifact
// and no error.
func (m *Module) NewestArtifact() (Artifact, error) {
	entries, err := os.ReadDir(m.DistDir)
	if os.IsNotExist(err) {
		return Artifact{}, nil
	}
	if err != nil {
		return Artifact{}, err
	}

	var newest Artifact
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return Artifact{}, err
		}
		if newest.Path == "" || info.ModTime().After(newest.ModTime) {
			newest = Artifact{
				Path:    filepath.Join(m.DistDir, entry.Name()),
				ModTime: info.ModTime(),
			}
		}
	}
	return newest, nil
}

// BackendArchive returns the newest source archive in dist, preferring
// recognized package archive extensions over other dist files.
func (m *Module) BackendArchive() (Artifact, error) {
	entries, err := os.ReadDir(m.DistDir)
	if os.IsNotExist(err) {
		return Artifact{}, nil
	}
	if err != nil {
		return Artifact{}, err
	}

	var newest Artifact
	for _, entry := range entries {
		if entry.IsDir() || !isArchive(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return Artifact{}, err
		}
		if newest.Path == "" || info.ModTime().After(newest.ModTime) {
			newest = Artifact{
				Path:    filepath.Join(m.DistDir, entry.Name()),
				ModTime: info.ModTime(),
			}
		}
	}
	return newest, nil
}

func isArchive(name string) bool {
	for _, suffix := range []string{".tar.gz", ".whl", ".zip"} {
		if len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix {
			return true
		}
	}
	return false
}

// NewestSource returns the most recently modified tracked source file.
// A module with no tracked sources returns a zero time and no error.
func (m *Module) NewestSource() (string, time.Time, error) {
	var (
		newestPath string
		newestTime time.Time
	)
	err := m.Walk(func(path string, info fs.FileInfo) error {
		if newestPath == "" || info.ModTime().After(newestTime) {
			newestPath = path
			newestTime = info.ModTime()
		}
		return nil
	})
	return newestPath, newestTime, err
}

// IsStale reports whether a rebuild is needed: no artifact exists, or
// some tracked source file is strictly newer than the newest artifact.
// The answer is recomputed from the filesystem on every call.
func (m *Module) IsStale() (bool, error) {
	artifact, err := m.NewestArtifact()
	if err != nil {
		return false, err
	}
	if artifact.Path == "" {
		return true, nil
	}
	_, newestSource, err := m.NewestSource()
	if err != nil {
		return false, err
	}
	return newestSource.After(artifact.ModTime), nil
}
