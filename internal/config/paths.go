package config

import (
	"os"
	"path/filepath"
)

// HomePath returns the root directory for Abathur's on-disk state. It uses
// $ABATHUR_PATH if set, otherwise defaults to ~/.abathur.
func HomePath() string {
	if v := os.Getenv("ABATHUR_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".abathur")
	}
	return filepath.Join(home, ".abathur")
}

// ConfigPath returns the default path to the JSONC config file.
func ConfigPath() string {
	return filepath.Join(HomePath(), "config.jsonc")
}
