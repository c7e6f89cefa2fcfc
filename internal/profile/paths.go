// Package profile resolves per-user data directories under ~/.glucolog.
// Each profile owns its own database, log files and lock, so several
// people can share a device without mixing clinical data.
package profile

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.glucolog.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".glucolog")
}

// Dir returns the profile-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "profiles", name)
}

// DBPath returns the local store path for a profile.
func DBPath(name string) string {
	return filepath.Join(Dir(name), "glucolog.db")
}

// LockPath returns the lock file path for a profile.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// LogDir returns the log directory for a profile.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "glucologd.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the profile directory tree with proper permissions.
func EnsureDir(name string) error {
	for _, d := range []string{Dir(name), LogDir(name)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
