package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.HTTP.Port = 0 }},
		{"port too large", func(c *Config) { c.HTTP.Port = 70000 }},
		{"empty db path", func(c *Config) { c.Database.Path = "" }},
		{"zero countdown", func(c *Config) { c.Game.CountdownSeconds = 0 }},
		{"negative grace", func(c *Config) { c.Game.EvictionGrace = -time.Minute }},
		{"empty sweep spec", func(c *Config) { c.Game.SweepSpec = "" }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MATHDUEL_HTTP_PORT", "9090")
	t.Setenv("MATHDUEL_DB_PATH", "/tmp/env.db")
	t.Setenv("MATHDUEL_REDIS_ADDR", "localhost:6379")
	t.Setenv("MATHDUEL_COUNTDOWN_SECONDS", "10")
	t.Setenv("MATHDUEL_EVICTION_GRACE", "2m")
	t.Setenv("MATHDUEL_LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("load env: %v", err)
	}

	if cfg.HTTP.Port != 9090 {
		t.Fatalf("port = %d", cfg.HTTP.Port)
	}
	if cfg.Database.Path != "/tmp/env.db" {
		t.Fatalf("db path = %s", cfg.Database.Path)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Fatalf("redis addr = %s", cfg.Redis.Addr)
	}
	if cfg.Game.CountdownSeconds != 10 {
		t.Fatalf("countdown = %d", cfg.Game.CountdownSeconds)
	}
	if cfg.Game.EvictionGrace != 2*time.Minute {
		t.Fatalf("grace = %s", cfg.Game.EvictionGrace)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level = %s", cfg.LogLevel)
	}
}

func TestLoadFromEnvRejectsMalformedValues(t *testing.T) {
	t.Setenv("MATHDUEL_HTTP_PORT", "not-a-port")
	cfg := DefaultConfig()
	if err := cfg.LoadFromEnv(); err == nil {
		t.Fatal("expected error for malformed port")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"http": {"host": "127.0.0.1", "port": 9999}, "game": {"countdown_seconds": 7}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	if err := cfg.LoadFromFile(path); err != nil {
		t.Fatalf("load file: %v", err)
	}
	if cfg.HTTP.Host != "127.0.0.1" || cfg.HTTP.Port != 9999 {
		t.Fatalf("http = %+v", cfg.HTTP)
	}
	if cfg.Game.CountdownSeconds != 7 {
		t.Fatalf("countdown = %d", cfg.Game.CountdownSeconds)
	}
	// Untouched fields keep their defaults.
	if cfg.Database.Path != "mathduel.db" {
		t.Fatalf("db path = %s", cfg.Database.Path)
	}
}

func TestLoadPrecedenceEnvOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"http": {"port": 9999}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MATHDUEL_HTTP_PORT", "8888")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Port != 8888 {
		t.Fatalf("port = %d, want env value 8888", cfg.HTTP.Port)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.json"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
