package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSwarmPath(t *testing.T) {
	t.Setenv("SWARM_PATH", "")
	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatal(err)
	}
	if got, want := SwarmPath(), filepath.Join(home, ".swarm"); got != want {
		t.Errorf("SwarmPath() = %q, want %q", got, want)
	}

	t.Setenv("SWARM_PATH", "/tmp/custom-swarm")
	if got := SwarmPath(); got != "/tmp/custom-swarm" {
		t.Errorf("SwarmPath() = %q, want override", got)
	}
	if got := ConfigPath(); got != "/tmp/custom-swarm/config.jsonc" {
		t.Errorf("ConfigPath() = %q", got)
	}
	if got := DotenvPath(); got != "/tmp/custom-swarm/.env" {
		t.Errorf("DotenvPath() = %q", got)
	}
}
