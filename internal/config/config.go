package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// DefaultSyncIntervalSeconds is the daemon's full-sync cadence when the
// config does not set one.
const DefaultSyncIntervalSeconds = 300

// Config represents the global ~/.glucolog/config.toml.
//
// Offline is the single switch for offline-simulation mode; it is read once
// at engine construction and threaded through both sync phases, so the two
// can never disagree.
type Config struct {
	DefaultProfile      string `toml:"default_profile"`
	BackendURL          string `toml:"backend_url"`
	AuthToken           string `toml:"auth_token"`
	Offline             bool   `toml:"offline"`
	SyncIntervalSeconds int    `toml:"sync_interval_seconds"`
}

// Load reads config from the given path. Returns an error if the file is
// missing or malformed.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	if cfg.SyncIntervalSeconds <= 0 {
		cfg.SyncIntervalSeconds = DefaultSyncIntervalSeconds
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
// The file holds a bearer token, hence 0600.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
