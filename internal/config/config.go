// Package config loads parley.yaml and builds the process logger.
//
// Missing files are not an error: every field has a default, and flags
// override whatever the file sets.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFile is the config file read when --config is not given.
const DefaultFile = "parley.yaml"

const defaultConfigYAML = `# parley configuration
database: parley.db

log:
  level: info   # debug | info | warn | error
  format: text  # text | json

agent:
  id: default-agent
  # Sent when a session is created with a greeting and the customer has
  # not spoken yet. Empty disables it.
  greeting: ""

# How long session chat waits for the agent to reply. 0 waits forever.
wait_timeout: 30s
`

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AgentConfig describes the agent sessions are opened with.
type AgentConfig struct {
	ID       string `yaml:"id"`
	Greeting string `yaml:"greeting"`
}

// Config models parley.yaml.
type Config struct {
	Database    string        `yaml:"database"`
	Log         LogConfig     `yaml:"log"`
	Agent       AgentConfig   `yaml:"agent"`
	WaitTimeout time.Duration `yaml:"wait_timeout"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	var c Config
	if err := yaml.Unmarshal([]byte(defaultConfigYAML), &c); err != nil {
		panic(fmt.Sprintf("config: default config does not parse: %v", err))
	}
	return c
}

// DefaultYAML returns the commented default config file.
func DefaultYAML() string {
	return defaultConfigYAML
}

// Load reads path over the defaults. A missing file yields the defaults
// unless required is set.
func Load(path string, required bool) (Config, error) {
	c := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) && !required {
		return c, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return c, nil
}

// Validate checks field values.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Database) == "" {
		return errors.New("database must be set")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q: must be text or json", c.Log.Format)
	}
	if strings.TrimSpace(c.Agent.ID) == "" {
		return errors.New("agent.id must be set")
	}
	if c.WaitTimeout < 0 {
		return fmt.Errorf("wait_timeout must not be negative, got %s", c.WaitTimeout)
	}
	return nil
}

// NewLogger builds a logger writing to w per the log settings. verbose
// forces debug level.
func (c Config) NewLogger(w io.Writer, verbose bool) (*slog.Logger, error) {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if c.Log.Format == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h), nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: must be debug, info, warn or error", s)
	}
	return level, nil
}
