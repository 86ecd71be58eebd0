package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models liahona.yml.
type Config struct {
	SLA struct {
		PhaseDays     int   `yaml:"phase_days"`
		ExtensionDays []int `yaml:"extension_days"`
	} `yaml:"sla"`
	Sessions struct {
		Exclusive           bool `yaml:"exclusive"`
		DefaultTTLMinutes   int  `yaml:"default_ttl_minutes"`
		HeartbeatTTLMinutes int  `yaml:"heartbeat_ttl_minutes"`
	} `yaml:"sessions"`
	Sweeper struct {
		IntervalSeconds int `yaml:"interval_seconds"`
	} `yaml:"sweeper"`
	Realtime struct {
		QueueSize           int `yaml:"queue_size"`
		DispatchBuffer      int `yaml:"dispatch_buffer"`
		WriteTimeoutSeconds int `yaml:"write_timeout_seconds"`
	} `yaml:"realtime"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Projects       []string `yaml:"projects"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	cfg, err := FromFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config %s not found; create one with lh config init", path)
	}
	return cfg, err
}

// LoadOrDefault returns the workspace config, or the defaults when no file exists.
func LoadOrDefault(workspace string) (*Config, error) {
	cfg, err := LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return Default(), nil
	}
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.SLA.PhaseDays <= 0 {
		return fmt.Errorf("config.sla.phase_days must be positive")
	}
	if len(c.SLA.ExtensionDays) == 0 {
		return fmt.Errorf("config.sla.extension_days is required")
	}
	for _, d := range c.SLA.ExtensionDays {
		if d != 3 && d != 7 {
			return fmt.Errorf("config.sla.extension_days contains %d; allowed values are 3 and 7", d)
		}
	}
	if c.Sessions.DefaultTTLMinutes <= 0 {
		return fmt.Errorf("config.sessions.default_ttl_minutes must be positive")
	}
	if c.Sessions.HeartbeatTTLMinutes <= 0 {
		return fmt.Errorf("config.sessions.heartbeat_ttl_minutes must be positive")
	}
	if c.Sweeper.IntervalSeconds <= 0 {
		return fmt.Errorf("config.sweeper.interval_seconds must be positive")
	}
	if c.Realtime.QueueSize <= 0 {
		return fmt.Errorf("config.realtime.queue_size must be positive")
	}
	if c.Realtime.DispatchBuffer <= 0 {
		return fmt.Errorf("config.realtime.dispatch_buffer must be positive")
	}
	if c.Realtime.WriteTimeoutSeconds <= 0 {
		return fmt.Errorf("config.realtime.write_timeout_seconds must be positive")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// AllowsExtension reports whether days is one of the configured extension lengths.
func (c *Config) AllowsExtension(days int) bool {
	for _, d := range c.SLA.ExtensionDays {
		if d == days {
			return true
		}
	}
	return false
}

func (c *Config) PhaseDuration() time.Duration {
	return time.Duration(c.SLA.PhaseDays) * 24 * time.Hour
}

func (c *Config) DefaultTTL() time.Duration {
	return time.Duration(c.Sessions.DefaultTTLMinutes) * time.Minute
}

func (c *Config) HeartbeatTTL() time.Duration {
	return time.Duration(c.Sessions.HeartbeatTTLMinutes) * time.Minute
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Sweeper.IntervalSeconds) * time.Second
}

func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.Realtime.WriteTimeoutSeconds) * time.Second
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "liahona.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	cfg, err := FromFile(Path(workspace))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return cfg, err
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing from
// data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `sla:
  phase_days: 7
  extension_days: [3, 7]

sessions:
  exclusive: true
  default_ttl_minutes: 120
  heartbeat_ttl_minutes: 60

sweeper:
  interval_seconds: 60

realtime:
  queue_size: 100
  dispatch_buffer: 1024
  write_timeout_seconds: 10

webhooks: []
`
