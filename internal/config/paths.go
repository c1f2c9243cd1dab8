package config

import (
	"os"
	"path/filepath"
)

// SwarmPath returns the root directory for swarm data.
// It uses $SWARM_PATH if set, otherwise defaults to ~/.swarm.
func SwarmPath() string {
	if v := os.Getenv("SWARM_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".swarm")
	}
	return filepath.Join(home, ".swarm")
}

// ConfigPath returns the path to the config file.
func ConfigPath() string {
	return filepath.Join(SwarmPath(), "config.jsonc")
}

// DotenvPath returns the path to the .env file.
func DotenvPath() string {
	return filepath.Join(SwarmPath(), ".env")
}
