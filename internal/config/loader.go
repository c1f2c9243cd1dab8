package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"time"

	"github.com/tailscale/hujson"
)

var envTemplateRe = regexp.MustCompile(`\$\{\{\s*\.Env\.(\w+)\s*\}\}`)

// Load reads a JSONC config file, expands ${{ .Env.VAR }} templates, applies
// environment overrides and defaults, then validates the result.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		expanded := expandEnvTemplates(string(data))
		std, err := hujson.Standardize([]byte(expanded))
		if err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
		if err := json.Unmarshal(std, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// expandEnvTemplates replaces ${{ .Env.VAR }} with the env var value.
func expandEnvTemplates(s string) string {
	return envTemplateRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envTemplateRe.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		return os.Getenv(parts[1])
	})
}

// applyEnv lets environment variables override file values.
func applyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	str("HOST", &cfg.Gateway.Host)
	str("DEFAULT_MODE", &cfg.Tasks.DefaultMode)
	str("STORAGE_DRIVER", &cfg.Storage.Driver)
	str("DATA_DIR", &cfg.Storage.DataDir)
	str("DB_PATH", &cfg.Storage.DBPath)
	str("WORKSPACES_DIR", &cfg.Storage.WorkspacesDir)
	str("SWARM_PROCESS_COMMAND", &cfg.Process.Command)
	str("SWARM_CONTAINER_IMAGE", &cfg.Container.Image)
	str("SWARM_AGENT_DRIVER", &cfg.Agent.Driver)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("KNOWLEDGE_DIR", &cfg.Knowledge.Dir)
	if v := os.Getenv("KNOWLEDGE_AUTO_LEARN"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("env KNOWLEDGE_AUTO_LEARN: %w", err)
		}
		cfg.Knowledge.AutoLearn = &b
	}

	num := func(key string) (int, bool, error) {
		v := os.Getenv(key)
		if v == "" {
			return 0, false, nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, false, fmt.Errorf("env %s: %w", key, err)
		}
		return n, true, nil
	}
	if n, ok, err := num("PORT"); err != nil {
		return err
	} else if ok {
		cfg.Gateway.Port = n
	}
	if n, ok, err := num("MAX_CONCURRENCY"); err != nil {
		return err
	} else if ok {
		cfg.Scheduler.MaxConcurrency = n
	}
	if n, ok, err := num("KNOWLEDGE_MAX_CONTEXT"); err != nil {
		return err
	} else if ok {
		cfg.Knowledge.MaxContext = n
	}
	if n, ok, err := num("DEFAULT_TIMEOUT"); err != nil {
		return err
	} else if ok {
		cfg.Tasks.DefaultTimeout = Duration(time.Duration(n) * time.Millisecond)
	}
	return nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = "0.0.0.0"
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 3030
	}
	if cfg.Scheduler.MaxConcurrency == 0 {
		cfg.Scheduler.MaxConcurrency = 3
	}
	if cfg.Tasks.DefaultMode == "" {
		cfg.Tasks.DefaultMode = "sdk"
	}
	if cfg.Tasks.DefaultTimeout == 0 {
		cfg.Tasks.DefaultTimeout = Duration(30 * time.Minute)
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = filepath.Join(SwarmPath(), "data")
	}
	if cfg.Storage.DBPath == "" {
		cfg.Storage.DBPath = filepath.Join(cfg.Storage.DataDir, "swarm.db")
	}
	if cfg.Storage.WorkspacesDir == "" {
		cfg.Storage.WorkspacesDir = filepath.Join(cfg.Storage.DataDir, "workspaces")
	}

	if cfg.Process.Command == "" {
		cfg.Process.Command = "claude"
	}
	if cfg.Process.KillGrace == 0 {
		cfg.Process.KillGrace = Duration(5 * time.Second)
	}
	if cfg.Container.Image == "" {
		cfg.Container.Image = "claude-swarm-runner:latest"
	}
	if cfg.Container.StopTimeout == 0 {
		cfg.Container.StopTimeout = Duration(5 * time.Second)
	}

	if cfg.Agent.Driver == "" {
		cfg.Agent.Driver = "cli"
	}
	if cfg.Agent.Command == "" {
		cfg.Agent.Command = "claude"
	}
	if cfg.Agent.Model == "" {
		cfg.Agent.Model = "claude-sonnet-4-5"
	}
	if cfg.Agent.MaxTokens == 0 {
		cfg.Agent.MaxTokens = 8192
	}

	if cfg.Knowledge.Dir == "" {
		cfg.Knowledge.Dir = filepath.Join(cfg.Storage.DataDir, "knowledge")
	}
	if cfg.Knowledge.MaxContext == 0 {
		cfg.Knowledge.MaxContext = 20
	}

	if cfg.Retention.Schedule == "" {
		cfg.Retention.Schedule = "@hourly"
	}

	if cfg.Events.BufferSize == 0 {
		cfg.Events.BufferSize = 1024
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Gateway.Port < 0 || c.Gateway.Port > 65535 {
		errs = append(errs, fmt.Errorf("gateway.port %d out of range", c.Gateway.Port))
	}
	if c.Scheduler.MaxConcurrency < 1 {
		errs = append(errs, fmt.Errorf("scheduler.max_concurrency must be >= 1, got %d", c.Scheduler.MaxConcurrency))
	}
	if !slices.Contains([]string{"process", "container", "sdk"}, c.Tasks.DefaultMode) {
		errs = append(errs, fmt.Errorf("tasks.default_mode %q is not a known mode", c.Tasks.DefaultMode))
	}
	if c.Tasks.DefaultTimeout < 0 {
		errs = append(errs, errors.New("tasks.default_timeout must be positive"))
	}
	if !slices.Contains([]string{"sqlite", "file"}, c.Storage.Driver) {
		errs = append(errs, fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver))
	}
	if !slices.Contains([]string{"cli", "api"}, c.Agent.Driver) {
		errs = append(errs, fmt.Errorf("agent.driver %q is not supported", c.Agent.Driver))
	}
	if c.Knowledge.MaxContext < 0 {
		errs = append(errs, fmt.Errorf("knowledge.max_context must be >= 0, got %d", c.Knowledge.MaxContext))
	}
	if c.Retention.MaxAge < 0 {
		errs = append(errs, errors.New("retention.max_age must be positive"))
	}
	if !slices.Contains([]string{"text", "json"}, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format %q is not supported", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
