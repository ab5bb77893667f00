package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(c *Config){
		"server.port":           func(c *Config) { c.Server.Port = 0 },
		"hub.send_queue_size":   func(c *Config) { c.Hub.SendQueueSize = 0 },
		"hub.ping_interval":     func(c *Config) { c.Hub.PingInterval = c.Hub.ReadTimeout },
		"hub.typing_timeout":    func(c *Config) { c.Hub.TypingTimeout = 0 },
		"hub.rate_limit":        func(c *Config) { c.Hub.RateLimit.Burst = 0 },
		"hub.typing_rate_limit": func(c *Config) { c.Hub.TypingLimit.RefillInterval = 0 },
		"store.driver":          func(c *Config) { c.Store.Driver = "mysql" },
		"store.dsn":             func(c *Config) { c.Store.DSN = "" },
	}

	for field, mutate := range cases {
		t.Run(field, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)

			err := cfg.Validate()
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
			if cfgErr.Field != field {
				t.Fatalf("expected field %s, got %s", field, cfgErr.Field)
			}
		})
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chathub.yaml")
	content := `
server:
  port: 8081
hub:
  typing_timeout: 5s
  rate_limit:
    burst: 3
store:
  driver: sqlite
  dsn: "file::memory:"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CHATHUB_LOGGING_LEVEL", "debug")
	t.Setenv("CHATHUB_SERVER_HOST", "0.0.0.0")

	cfg, err := Load(LoadOptions{Path: path})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 8081 {
		t.Errorf("port = %d, want 8081", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("host = %q, want env override", cfg.Server.Host)
	}
	if cfg.Hub.TypingTimeout != 5*time.Second {
		t.Errorf("typing timeout = %v", cfg.Hub.TypingTimeout)
	}
	if cfg.Hub.RateLimit.Burst != 3 {
		t.Errorf("burst = %d", cfg.Hub.RateLimit.Burst)
	}
	if cfg.Hub.RateLimit.RefillInterval != time.Second {
		t.Errorf("refill interval should keep its default, got %v", cfg.Hub.RateLimit.RefillInterval)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("logging level = %q", cfg.Logging.Level)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(LoadOptions{Path: filepath.Join(t.TempDir(), "nope.yaml")}); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestDumpYAML(t *testing.T) {
	var buf bytes.Buffer
	if err := Default().Dump(&buf); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "send_queue_size: 256") {
		t.Fatalf("dump missing hub settings:\n%s", buf.String())
	}
}
