package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file looked up when none is given.
const DefaultPath = "flowboard.yml"

// MaxInstanceNameLength keeps instance names usable as container name parts.
const MaxInstanceNameLength = 63

// InstanceNamePattern matches lowercase alphanumeric names with inner hyphens.
var InstanceNamePattern = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

// Config represents the top-level flowboard.yml configuration
type Config struct {
	Version  string        `yaml:"version"`
	Instance string        `yaml:"instance" env:"FLOWBOARD_INSTANCE"`
	Server   ServerConfig  `yaml:"server"`
	Redis    RedisConfig   `yaml:"redis"`
	Store    StoreConfig   `yaml:"store"`
	Cache    CacheConfig   `yaml:"cache"`
	Fanout   FanoutConfig  `yaml:"fanout"`
	Intake   IntakeConfig  `yaml:"intake"`
	Auth     AuthConfig    `yaml:"auth"`
	Webhook  WebhookConfig `yaml:"webhook"`
}

// ServerConfig configures the HTTP listener
type ServerConfig struct {
	Addr           string   `yaml:"addr" env:"FLOWBOARD_ADDR"`
	AllowedOrigins []string `yaml:"allowed_origins" env:"FLOWBOARD_ALLOWED_ORIGINS" envSeparator:","`
}

// RedisConfig locates the shared cache and change-event bus
type RedisConfig struct {
	URL string `yaml:"url" env:"REDIS_URL"`
}

// StoreConfig locates the SQLite database
type StoreConfig struct {
	Path string `yaml:"path" env:"FLOWBOARD_DB"`
}

// CacheConfig sizes the two cache tiers
type CacheConfig struct {
	LocalSize int           `yaml:"local_size"`
	LocalTTL  time.Duration `yaml:"local_ttl"`
	SharedTTL time.Duration `yaml:"shared_ttl"`
}

// FanoutConfig tunes live connections
type FanoutConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	SendBuffer        int           `yaml:"send_buffer"`
}

// IntakeConfig sizes the change-event worker pool
type IntakeConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// AuthConfig holds the token verification secret
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"FLOWBOARD_JWT_SECRET"`
	Issuer    string `yaml:"issuer"`
}

// WebhookConfig protects the change-event webhook. An empty secret disables the check.
type WebhookConfig struct {
	Secret string `yaml:"secret" env:"FLOWBOARD_WEBHOOK_SECRET"`
}

// Default returns a valid configuration for local development.
func Default() *Config {
	return &Config{
		Version:  "1.0",
		Instance: "local",
		Server: ServerConfig{
			Addr:           ":3001",
			AllowedOrigins: []string{"http://localhost:5173"},
		},
		Redis: RedisConfig{URL: "redis://localhost:6379"},
		Store: StoreConfig{Path: "flowboard.db"},
		Cache: CacheConfig{
			LocalSize: 100,
			LocalTTL:  time.Minute,
			SharedTTL: 5 * time.Minute,
		},
		Fanout: FanoutConfig{
			HeartbeatInterval: 30 * time.Second,
			SendBuffer:        32,
		},
		Intake: IntakeConfig{
			Workers:   4,
			QueueSize: 256,
		},
	}
}

// Validate performs strict validation on the configuration
func (c *Config) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if err := ValidateInstanceName(c.Instance); err != nil {
		return err
	}

	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("server.addr is required")
	}
	if len(c.Server.AllowedOrigins) == 0 {
		return fmt.Errorf("server.allowed_origins must list at least one origin")
	}

	if _, err := redis.ParseURL(c.Redis.URL); err != nil {
		return fmt.Errorf("invalid redis.url: %w", err)
	}

	if strings.TrimSpace(c.Store.Path) == "" {
		return fmt.Errorf("store.path is required")
	}

	if c.Cache.LocalSize < 1 {
		return fmt.Errorf("cache.local_size must be >= 1, got %d", c.Cache.LocalSize)
	}
	if c.Cache.LocalTTL <= 0 || c.Cache.SharedTTL <= 0 {
		return fmt.Errorf("cache.local_ttl and cache.shared_ttl must be positive")
	}

	if c.Fanout.HeartbeatInterval <= 0 {
		return fmt.Errorf("fanout.heartbeat_interval must be positive")
	}
	if c.Fanout.SendBuffer < 1 {
		return fmt.Errorf("fanout.send_buffer must be >= 1, got %d", c.Fanout.SendBuffer)
	}

	if c.Intake.Workers < 1 {
		return fmt.Errorf("intake.workers must be >= 1, got %d", c.Intake.Workers)
	}
	if c.Intake.QueueSize < 1 {
		return fmt.Errorf("intake.queue_size must be >= 1, got %d", c.Intake.QueueSize)
	}

	return nil
}

// ValidateInstanceName checks that name can namespace Redis keys and containers.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("instance name cannot be empty")
	}
	if len(name) > MaxInstanceNameLength {
		return fmt.Errorf("instance name too long: %d characters (max: %d)", len(name), MaxInstanceNameLength)
	}
	if !InstanceNamePattern.MatchString(name) {
		return fmt.Errorf("invalid instance name '%s': must be lowercase alphanumeric with hyphens (not at start/end)", name)
	}
	return nil
}

// ApplyEnv overrides fields from environment variables. Unset variables
// leave the current value in place.
func (c *Config) ApplyEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load builds the configuration from defaults, the YAML file at path and the
// environment, in that order, and validates the result. A missing file at
// DefaultPath is not an error; a missing file anywhere else is.
func Load(path string) (*Config, error) {
	config := Default()

	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && path == DefaultPath:
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := config.ApplyEnv(); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}
