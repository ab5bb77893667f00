package config

import (
	"fmt"
	"io"
	"time"

	"github.com/HMasataka/chathub/internal/logging"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig   `json:"server" mapstructure:"server" yaml:"server"`
	Hub     HubConfig      `json:"hub" mapstructure:"hub" yaml:"hub"`
	Store   StoreConfig    `json:"store" mapstructure:"store" yaml:"store"`
	Cache   CacheConfig    `json:"cache" mapstructure:"cache" yaml:"cache"`
	Auth    AuthConfig     `json:"auth" mapstructure:"auth" yaml:"auth"`
	Logging logging.Config `json:"logging" mapstructure:"logging" yaml:"logging"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host            string        `json:"host" mapstructure:"host" yaml:"host"`
	Port            int           `json:"port" mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `json:"read_timeout" mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout" mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `json:"allowed_origins" mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// HubConfig tunes connection handling and fan-out
type HubConfig struct {
	SendQueueSize  int             `json:"send_queue_size" mapstructure:"send_queue_size" yaml:"send_queue_size"`
	WriteTimeout   time.Duration   `json:"write_timeout" mapstructure:"write_timeout" yaml:"write_timeout"`
	ReadTimeout    time.Duration   `json:"read_timeout" mapstructure:"read_timeout" yaml:"read_timeout"`
	PingInterval   time.Duration   `json:"ping_interval" mapstructure:"ping_interval" yaml:"ping_interval"`
	MaxMessageSize int64           `json:"max_message_size" mapstructure:"max_message_size" yaml:"max_message_size"`
	TypingTimeout  time.Duration   `json:"typing_timeout" mapstructure:"typing_timeout" yaml:"typing_timeout"`
	DedupeWindow   int             `json:"dedupe_window" mapstructure:"dedupe_window" yaml:"dedupe_window"`
	HistoryLimit   int             `json:"history_limit" mapstructure:"history_limit" yaml:"history_limit"`
	RateLimit      RateLimitConfig `json:"rate_limit" mapstructure:"rate_limit" yaml:"rate_limit"`
	TypingLimit    RateLimitConfig `json:"typing_rate_limit" mapstructure:"typing_rate_limit" yaml:"typing_rate_limit"`
}

// RateLimitConfig defines a per-session token budget
type RateLimitConfig struct {
	Burst          int           `json:"burst" mapstructure:"burst" yaml:"burst"`
	RefillInterval time.Duration `json:"refill_interval" mapstructure:"refill_interval" yaml:"refill_interval"`
}

// StoreConfig selects the persistence backend
type StoreConfig struct {
	Driver      string `json:"driver" mapstructure:"driver" yaml:"driver"`
	DSN         string `json:"dsn" mapstructure:"dsn" yaml:"dsn"`
	AutoMigrate bool   `json:"auto_migrate" mapstructure:"auto_migrate" yaml:"auto_migrate"`
	SeedPath    string `json:"seed_path" mapstructure:"seed_path" yaml:"seed_path"`
}

// CacheConfig configures the redis user cache. An empty address disables it.
type CacheConfig struct {
	RedisAddr     string        `json:"redis_addr" mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword string        `json:"redis_password" mapstructure:"redis_password" yaml:"redis_password"`
	RedisDB       int           `json:"redis_db" mapstructure:"redis_db" yaml:"redis_db"`
	TTL           time.Duration `json:"ttl" mapstructure:"ttl" yaml:"ttl"`
}

// AuthConfig holds the shared secrets. Empty values disable the checks.
type AuthConfig struct {
	JWTSecret     string `json:"jwt_secret" mapstructure:"jwt_secret" yaml:"jwt_secret"`
	InternalToken string `json:"internal_token" mapstructure:"internal_token" yaml:"internal_token"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            3000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Hub: HubConfig{
			SendQueueSize:  256,
			WriteTimeout:   10 * time.Second,
			ReadTimeout:    60 * time.Second,
			PingInterval:   30 * time.Second,
			MaxMessageSize: 64 * 1024,
			TypingTimeout:  3 * time.Second,
			DedupeWindow:   256,
			HistoryLimit:   200,
			RateLimit: RateLimitConfig{
				Burst:          10,
				RefillInterval: time.Second,
			},
			TypingLimit: RateLimitConfig{
				Burst:          5,
				RefillInterval: time.Second,
			},
		},
		Store: StoreConfig{
			Driver:      "sqlite",
			DSN:         "chathub.db",
			AutoMigrate: true,
		},
		Cache: CacheConfig{
			TTL: 5 * time.Minute,
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return NewConfigError("server.port", "invalid port number")
	}

	if c.Server.ReadTimeout < 0 {
		return NewConfigError("server.read_timeout", "timeout cannot be negative")
	}

	if c.Server.WriteTimeout < 0 {
		return NewConfigError("server.write_timeout", "timeout cannot be negative")
	}

	if c.Hub.SendQueueSize <= 0 {
		return NewConfigError("hub.send_queue_size", "must be positive")
	}

	if c.Hub.PingInterval <= 0 || c.Hub.PingInterval >= c.Hub.ReadTimeout {
		return NewConfigError("hub.ping_interval", "must be positive and shorter than hub.read_timeout")
	}

	if c.Hub.TypingTimeout <= 0 {
		return NewConfigError("hub.typing_timeout", "must be positive")
	}

	if c.Hub.HistoryLimit <= 0 {
		return NewConfigError("hub.history_limit", "must be positive")
	}

	if c.Hub.RateLimit.Burst <= 0 || c.Hub.RateLimit.RefillInterval <= 0 {
		return NewConfigError("hub.rate_limit", "burst and refill_interval must be positive")
	}

	if c.Hub.TypingLimit.Burst <= 0 || c.Hub.TypingLimit.RefillInterval <= 0 {
		return NewConfigError("hub.typing_rate_limit", "burst and refill_interval must be positive")
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return NewConfigError("store.driver", "must be sqlite or postgres")
	}

	if c.Store.DSN == "" {
		return NewConfigError("store.dsn", "dsn is required")
	}

	return nil
}

// Dump writes the configuration as YAML
func (c *Config) Dump(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()

	return enc.Encode(c)
}
