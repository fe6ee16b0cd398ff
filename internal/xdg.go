// Package rack holds host-level helpers shared by the rackcfg commands.
package rack

import (
	"fmt"
	"os"
	"path/filepath"
)

// ManifestEnv overrides the default manifest location.
const ManifestEnv = "RACKCFG_MANIFEST"

// XDGDirs holds the resolved XDG-compliant directory paths for rackcfg.
type XDGDirs struct {
	// Config is ~/.config/rackcfg  (XDG_CONFIG_HOME)
	Config string
	// State is ~/.local/state/rackcfg  (XDG_STATE_HOME)
	State string
}

// xdgBase returns the XDG base directory, falling back to the given default
// when the environment variable is unset or empty.
func xdgBase(envVar, fallback string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return fallback
	}
	return filepath.Join(home, fallback)
}

// DefaultXDGDirs returns the resolved XDG directory set for rackcfg using the
// current environment and home directory.
func DefaultXDGDirs() XDGDirs {
	return XDGDirs{
		Config: filepath.Join(xdgBase("XDG_CONFIG_HOME", ".config"), "rackcfg"),
		State:  filepath.Join(xdgBase("XDG_STATE_HOME", ".local/state"), "rackcfg"),
	}
}

// ManifestFile returns the default rack manifest path.
func (d XDGDirs) ManifestFile() string {
	return filepath.Join(d.Config, "rack.yaml")
}

// UnitHashFile returns where the install-time unit hash is kept.
func (d XDGDirs) UnitHashFile() string {
	return filepath.Join(d.State, "unit-file.sha256")
}

// ResolveManifest picks the manifest path: an explicit flag value wins,
// then RACKCFG_MANIFEST, then the XDG default.
func (d XDGDirs) ResolveManifest(flag string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(ManifestEnv); v != "" {
		return v
	}
	return d.ManifestFile()
}

// EnsureDirs creates all rackcfg XDG directories that do not yet exist.
// Directories are created with mode 0700 so that only the owning user can
// read them.
func (d XDGDirs) EnsureDirs() error {
	for _, dir := range []string{d.Config, d.State} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}
