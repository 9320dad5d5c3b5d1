// Package daemon supervises the background dreaming process: runtime
// directory initialization, PID file management, the poll loop that
// schedules dreaming cycles, and the API control surface lifecycle.
package daemon

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/goodnight-ai/goodnight/defaults"
)

// RuntimeDirName is the per-user runtime directory under $HOME.
const RuntimeDirName = ".good-night"

// DefaultRuntimeDir returns ~/.good-night.
func DefaultRuntimeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, RuntimeDirName), nil
}

// InitRuntimeDir prepares the runtime directory and returns its path. An
// empty dir selects the default location. On first run the embedded
// defaults are copied in; the working subdirectories are ensured on every
// call.
func InitRuntimeDir(dir string) (string, error) {
	if dir == "" {
		var err error
		dir, err = DefaultRuntimeDir()
		if err != nil {
			return "", err
		}
	}

	firstRun := false
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		firstRun = true
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating runtime directory: %w", err)
	}
	if firstRun {
		if err := CopyDefaults(dir); err != nil {
			return "", err
		}
	}

	for _, sub := range []string{"logs", "resolutions", "dry-runs", "connectors", filepath.Join("output", "skills")} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return "", fmt.Errorf("creating %s directory: %w", sub, err)
		}
	}
	return dir, nil
}

// CopyDefaults writes the embedded default files into dir, overwriting
// existing ones. Used on first run and by config reset.
func CopyDefaults(dir string) error {
	return fs.WalkDir(defaults.FS(), ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		dest := filepath.Join(dir, filepath.FromSlash(path))
		if d.IsDir() {
			return os.MkdirAll(dest, 0o755)
		}
		data, err := fs.ReadFile(defaults.FS(), path)
		if err != nil {
			return fmt.Errorf("reading embedded default %s: %w", path, err)
		}
		if err := os.WriteFile(dest, data, 0o644); err != nil {
			return fmt.Errorf("writing default %s: %w", path, err)
		}
		return nil
	})
}
