package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for swarm.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Tasks     TasksConfig     `json:"tasks"`
	Storage   StorageConfig   `json:"storage"`
	Process   ProcessConfig   `json:"process"`
	Container ContainerConfig `json:"container"`
	Agent     AgentConfig     `json:"agent"`
	Events    EventsConfig    `json:"events"`
	Logs      LogsConfig      `json:"logs"`
	Knowledge KnowledgeConfig `json:"knowledge"`
	Retention RetentionConfig `json:"retention"`
	Log       LogConfig       `json:"log"`
}

// GatewayConfig holds the HTTP server settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Addr returns host:port.
func (g GatewayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

type SchedulerConfig struct {
	MaxConcurrency int `json:"max_concurrency"`
}

// TasksConfig holds per-task defaults.
type TasksConfig struct {
	DefaultMode    string   `json:"default_mode"`
	DefaultTimeout Duration `json:"default_timeout"`
	ArtifactIgnore []string `json:"artifact_ignore,omitempty"` // doublestar globs, replaces the built-in list
}

// StorageConfig selects and locates persistence.
type StorageConfig struct {
	Driver        string `json:"driver"` // "sqlite", "file"
	DataDir       string `json:"data_dir"`
	DBPath        string `json:"db_path"`
	WorkspacesDir string `json:"workspaces_dir"`
}

// ProcessConfig configures the subprocess executor.
type ProcessConfig struct {
	Command   string   `json:"command"`
	KillGrace Duration `json:"kill_grace"`
}

// ContainerConfig configures the container executor.
type ContainerConfig struct {
	Image       string   `json:"image"`
	StopTimeout Duration `json:"stop_timeout"`
	Host        string   `json:"host,omitempty"` // docker host, empty uses DOCKER_HOST
}

// AgentConfig configures the streaming-agent executor.
type AgentConfig struct {
	Driver    string `json:"driver"` // "cli", "api"
	Command   string `json:"command"`
	Model     string `json:"model"`
	MaxTokens int64  `json:"max_tokens"`
	BaseURL   string `json:"base_url,omitempty"`
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	BufferSize int `json:"buffer_size"`
}

// LogsConfig controls transcript archiving.
type LogsConfig struct {
	Archive *bool `json:"archive,omitempty"`
}

// ArchiveEnabled reports whether settled transcripts are written to disk.
func (l LogsConfig) ArchiveEnabled() bool {
	return l.Archive == nil || *l.Archive
}

// KnowledgeConfig controls the knowledge base injected into prompts.
type KnowledgeConfig struct {
	Enabled    *bool  `json:"enabled,omitempty"`
	Dir        string `json:"dir"`
	MaxContext int    `json:"max_context"`
	AutoLearn  *bool  `json:"auto_learn,omitempty"`
}

// On reports whether the knowledge base is wired into task creation.
func (k KnowledgeConfig) On() bool { return k.Enabled == nil || *k.Enabled }

// Learn reports whether tasks are asked to document reusable approaches.
func (k KnowledgeConfig) Learn() bool { return k.AutoLearn == nil || *k.AutoLearn }

// RetentionConfig schedules the purge of old task workspaces and logs.
// A zero MaxAge disables it.
type RetentionConfig struct {
	Schedule string   `json:"schedule"` // cron expression or @hourly style descriptor
	MaxAge   Duration `json:"max_age"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text, json
}

// Duration wraps time.Duration for JSON unmarshaling.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}
