// Package config loads server configuration from YAML with environment
// fallbacks for deployment-sensitive values.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration
type Config struct {
	// ListenAddr is the address the gateway listens on (host:port)
	ListenAddr string `yaml:"listen_addr"`

	// MetricsPort is the port for the metrics/health server
	MetricsPort int `yaml:"metrics_port"`

	// State configures room snapshot persistence
	State StateConfig `yaml:"state"`

	// History configures the durable log store
	History HistoryConfig `yaml:"history"`

	// Room configures per-room coordinator behavior
	Room RoomConfig `yaml:"room"`

	// SummarySchedule is a cron expression for the room summary job
	SummarySchedule string `yaml:"summary_schedule"`
}

// StateConfig selects and configures the snapshot store backend
type StateConfig struct {
	// Backend is "file" or "redis"
	Backend string `yaml:"backend"`
	// Dir is the base directory for the file backend
	Dir string `yaml:"dir"`
	// Redis configures the redis backend
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig holds redis connection settings
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// HistoryConfig holds durable log settings
type HistoryConfig struct {
	// Path is the SQLite database file
	Path string `yaml:"path"`
}

// RoomConfig holds per-room coordinator settings
type RoomConfig struct {
	// CommandBuffer is the coordinator inbound queue size
	CommandBuffer int `yaml:"command_buffer"`
	// SendBuffer is the per-connection outbound frame buffer size
	SendBuffer int `yaml:"send_buffer"`
	// RateLimit caps inbound frames per connection
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig holds token bucket parameters
type RateLimitConfig struct {
	FramesPerSecond float64 `yaml:"frames_per_second"`
	Burst           int     `yaml:"burst"`
}

// Load loads configuration from a YAML file. A missing path yields defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.MetricsPort == 0 {
		c.MetricsPort = 9090
	}
	if c.State.Backend == "" {
		c.State.Backend = "file"
	}
	if c.History.Path == "" {
		c.History.Path = "agentroom.db"
	}
	if c.Room.CommandBuffer == 0 {
		c.Room.CommandBuffer = 64
	}
	if c.Room.SendBuffer == 0 {
		c.Room.SendBuffer = 64
	}
	if c.Room.RateLimit.FramesPerSecond == 0 {
		c.Room.RateLimit.FramesPerSecond = 50
	}
	if c.Room.RateLimit.Burst == 0 {
		c.Room.RateLimit.Burst = 100
	}
	if c.SummarySchedule == "" {
		c.SummarySchedule = "@every 1m"
	}
}

func (c *Config) applyEnv() {
	if addr := os.Getenv("AGENTROOM_LISTEN_ADDR"); addr != "" {
		c.ListenAddr = addr
	}
	if port := os.Getenv("AGENTROOM_METRICS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.MetricsPort = p
		}
	}
	if addr := os.Getenv("AGENTROOM_REDIS_ADDR"); addr != "" {
		c.State.Redis.Addr = addr
	}
	if pw := os.Getenv("AGENTROOM_REDIS_PASSWORD"); pw != "" {
		c.State.Redis.Password = pw
	}
	if path := os.Getenv("AGENTROOM_HISTORY_PATH"); path != "" {
		c.History.Path = path
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.State.Backend {
	case "file":
	case "redis":
		if c.State.Redis.Addr == "" {
			return fmt.Errorf("state.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown state backend: %s", c.State.Backend)
	}

	if c.History.Path == "" {
		return fmt.Errorf("history.path is required")
	}
	if c.Room.RateLimit.FramesPerSecond < 0 {
		return fmt.Errorf("rate_limit.frames_per_second cannot be negative")
	}

	return nil
}
