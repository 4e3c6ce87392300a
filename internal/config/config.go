// Package config loads and validates the bridge's startup configuration:
// the configured project set, session/queue/cron limits, and the
// parameters used to invoke the assistant CLI.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Kind distinguishes configuration error categories.
type Kind string

const (
	KindMissingFile  Kind = "missing_file"
	KindParseFailure Kind = "parse_failure"
	KindInvalid      Kind = "invalid"
)

// Error is returned for any failure loading or validating configuration.
// Configuration errors are fatal to startup.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("config: %s", e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

const (
	defaultMaxSessions    = 10
	defaultIdleTimeout    = 60 * time.Minute
	defaultMaxTaskLen     = 32768
	defaultOutputBuffer   = 256
	defaultQueueHistory   = 100
	defaultQueueConcur    = 3
	defaultTaskTimeout    = 30 * time.Minute
	defaultStartupTimeout = 30 * time.Second
	defaultWriteTimeout   = 5 * time.Second
	defaultGraceWindow    = 10 * time.Second
	defaultIdleWindow     = 200 * time.Millisecond
	defaultReapInterval   = 5 * time.Minute
)

// ProjectDef names one project the session registry may open sessions for.
type ProjectDef struct {
	Name        string `yaml:"name"`
	Path        string `yaml:"path"`
	Description string `yaml:"description,omitempty"`
}

// AssistantCLI holds the parameters used to invoke the assistant CLI child
// process (see the assistant-CLI contract).
type AssistantCLI struct {
	Path          string        `yaml:"path"`
	DefaultArgs   []string      `yaml:"default_args,omitempty"`
	OutputFormat  string        `yaml:"output_format,omitempty"` // text|json|stream-json
	Model         string        `yaml:"model,omitempty"`
	StartupTotal  time.Duration `yaml:"startup_timeout,omitempty"`
	WriteTimeout  time.Duration `yaml:"write_timeout,omitempty"`
	IdleWindow    time.Duration `yaml:"idle_window,omitempty"`
	GraceWindow   time.Duration `yaml:"grace_window,omitempty"`
	ReadyMarkers  []string      `yaml:"ready_markers,omitempty"`
	MaxMessageLen int           `yaml:"max_message_len,omitempty"`
}

// Limits holds the resource caps described in the concurrency model.
type Limits struct {
	MaxSessions      int           `yaml:"max_sessions,omitempty"`
	IdleTimeout      time.Duration `yaml:"idle_timeout,omitempty"`
	ReapInterval     time.Duration `yaml:"reap_interval,omitempty"`
	OutputBufferSize int           `yaml:"output_buffer_size,omitempty"`
	QueueHistorySize int           `yaml:"queue_history_size,omitempty"`
	QueueConcurrency int           `yaml:"queue_concurrency,omitempty"`
	QueueCapacity    int           `yaml:"queue_capacity,omitempty"`
	TaskTimeout      time.Duration `yaml:"task_timeout,omitempty"`
}

// Config is the fully validated, defaulted configuration for one run of
// the bridge.
type Config struct {
	DataDir   string       `yaml:"data_dir"`
	Projects  []ProjectDef `yaml:"projects"`
	Assistant AssistantCLI `yaml:"assistant"`
	Limits    Limits       `yaml:"limits"`
}

// Load reads, parses, defaults, normalizes, and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, newError(KindMissingFile, fmt.Sprintf("%s does not exist", path), err)
		}
		return nil, newError(KindMissingFile, fmt.Sprintf("read %s", path), err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, newError(KindParseFailure, fmt.Sprintf("parse %s", path), err)
	}
	cfg.applyDefaults()
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, newError(KindInvalid, "invalid configuration", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Limits.MaxSessions == 0 {
		c.Limits.MaxSessions = defaultMaxSessions
	}
	if c.Limits.IdleTimeout == 0 {
		c.Limits.IdleTimeout = defaultIdleTimeout
	}
	if c.Limits.ReapInterval == 0 {
		c.Limits.ReapInterval = defaultReapInterval
	}
	if c.Limits.OutputBufferSize == 0 {
		c.Limits.OutputBufferSize = defaultOutputBuffer
	}
	if c.Limits.QueueHistorySize == 0 {
		c.Limits.QueueHistorySize = defaultQueueHistory
	}
	if c.Limits.QueueConcurrency == 0 {
		c.Limits.QueueConcurrency = defaultQueueConcur
	}
	if c.Limits.TaskTimeout == 0 {
		c.Limits.TaskTimeout = defaultTaskTimeout
	}
	if c.Assistant.OutputFormat == "" {
		c.Assistant.OutputFormat = "text"
	}
	if c.Assistant.StartupTotal == 0 {
		c.Assistant.StartupTotal = defaultStartupTimeout
	}
	if c.Assistant.WriteTimeout == 0 {
		c.Assistant.WriteTimeout = defaultWriteTimeout
	}
	if c.Assistant.IdleWindow == 0 {
		c.Assistant.IdleWindow = defaultIdleWindow
	}
	if c.Assistant.GraceWindow == 0 {
		c.Assistant.GraceWindow = defaultGraceWindow
	}
	if c.Assistant.MaxMessageLen == 0 {
		c.Assistant.MaxMessageLen = defaultMaxTaskLen
	}
	if len(c.Assistant.ReadyMarkers) == 0 {
		c.Assistant.ReadyMarkers = []string{">", "ready"}
	}
	if c.DataDir == "" {
		c.DataDir = "."
	}
}

func (c *Config) normalize() {
	c.DataDir = strings.TrimSpace(c.DataDir)
	for i := range c.Projects {
		c.Projects[i].Name = strings.TrimSpace(c.Projects[i].Name)
		c.Projects[i].Path = resolvePath(c.Projects[i].Path)
	}
	c.Assistant.Path = strings.TrimSpace(c.Assistant.Path)
	c.Assistant.OutputFormat = strings.ToLower(strings.TrimSpace(c.Assistant.OutputFormat))
}

func (c *Config) validate() error {
	if c.Assistant.Path == "" {
		return fmt.Errorf("assistant.path is required")
	}
	switch c.Assistant.OutputFormat {
	case "text", "json", "stream-json":
	default:
		return fmt.Errorf("assistant.output_format must be text, json, or stream-json")
	}
	seen := make(map[string]bool, len(c.Projects))
	for i, p := range c.Projects {
		if p.Name == "" {
			return fmt.Errorf("projects[%d]: name is required", i)
		}
		if p.Path == "" {
			return fmt.Errorf("projects[%d]: path is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("projects[%d]: duplicate project name %q", i, p.Name)
		}
		seen[p.Name] = true
	}
	if c.Limits.MaxSessions < 1 {
		return fmt.Errorf("limits.max_sessions must be >= 1")
	}
	return nil
}

// Project looks up a configured project by name.
func (c *Config) Project(name string) (ProjectDef, bool) {
	for _, p := range c.Projects {
		if p.Name == name {
			return p, true
		}
	}
	return ProjectDef{}, false
}

// HasProjectSet reports whether a project set has been configured at all;
// when false, the session registry accepts any existing directory.
func (c *Config) HasProjectSet() bool {
	return len(c.Projects) > 0
}

func resolvePath(candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return filepath.Clean(trimmed)
	}
	return abs
}
