package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. CHATHUB_SERVER_PORT
const EnvPrefix = "CHATHUB"

// LoadOptions represents options for loading configuration
type LoadOptions struct {
	Path string
}

// Load loads configuration from defaults, an optional file and the environment
func Load(opts ...LoadOptions) (*Config, error) {
	var options LoadOptions
	if len(opts) > 0 {
		options = opts[0]
	}

	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if options.Path != "" {
		v.SetConfigFile(options.Path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)

	v.SetDefault("hub.send_queue_size", d.Hub.SendQueueSize)
	v.SetDefault("hub.write_timeout", d.Hub.WriteTimeout)
	v.SetDefault("hub.read_timeout", d.Hub.ReadTimeout)
	v.SetDefault("hub.ping_interval", d.Hub.PingInterval)
	v.SetDefault("hub.max_message_size", d.Hub.MaxMessageSize)
	v.SetDefault("hub.typing_timeout", d.Hub.TypingTimeout)
	v.SetDefault("hub.dedupe_window", d.Hub.DedupeWindow)
	v.SetDefault("hub.history_limit", d.Hub.HistoryLimit)
	v.SetDefault("hub.rate_limit.burst", d.Hub.RateLimit.Burst)
	v.SetDefault("hub.rate_limit.refill_interval", d.Hub.RateLimit.RefillInterval)
	v.SetDefault("hub.typing_rate_limit.burst", d.Hub.TypingLimit.Burst)
	v.SetDefault("hub.typing_rate_limit.refill_interval", d.Hub.TypingLimit.RefillInterval)

	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.dsn", d.Store.DSN)
	v.SetDefault("store.auto_migrate", d.Store.AutoMigrate)
	v.SetDefault("store.seed_path", d.Store.SeedPath)

	v.SetDefault("cache.redis_addr", d.Cache.RedisAddr)
	v.SetDefault("cache.redis_password", d.Cache.RedisPassword)
	v.SetDefault("cache.redis_db", d.Cache.RedisDB)
	v.SetDefault("cache.ttl", d.Cache.TTL)

	v.SetDefault("auth.jwt_secret", d.Auth.JWTSecret)
	v.SetDefault("auth.internal_token", d.Auth.InternalToken)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

// NewConfigError creates a new configuration error
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{
		Field:   field,
		Message: message,
	}
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error in field '%s': %s", e.Field, e.Message)
}
