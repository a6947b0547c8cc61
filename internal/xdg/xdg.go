// Package xdg provides XDG Base Directory paths for probekit.
package xdg

import (
	"fmt"
	"os"
	"path/filepath"
)

const appName = "probekit"

// ConfigDir returns the XDG config directory for probekit.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(base, appName)
}

// DefaultConfigPath returns the well-known config file location,
// ConfigDir()/probekit.yaml. Callers decide whether its absence matters.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "probekit.yaml")
}

// EnsureDir creates a directory and all parent directories if they don't exist.
// Directories are created with 0700 permissions.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}
