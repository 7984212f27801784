// Package config loads fitcheck's settings from viper and the environment.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandPath expands ~ and environment variables in a file path.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}

	switch {
	case path == "~":
		if home, err := os.UserHomeDir(); err == nil {
			path = home
		}
	case strings.HasPrefix(path, "~/"):
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}

	return os.ExpandEnv(path)
}

// DefaultDatabasePath is where the credit ledger lives unless configured.
const DefaultDatabasePath = "$HOME/.local/share/fitcheck/fitcheck.db"

// DefaultAudioDir is where synthesized critiques are written unless configured.
const DefaultAudioDir = "$HOME/.cache/fitcheck/audio"
