package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the full runtime configuration. Values resolve with
// defaults < file < environment precedence.
type Config struct {
	HTTP      HTTPConfig      `json:"http"`
	WebSocket WebSocketConfig `json:"websocket"`
	Database  DatabaseConfig  `json:"database"`
	Redis     RedisConfig     `json:"redis"`
	Game      GameConfig      `json:"game"`
	LogLevel  string          `json:"log_level"`
}

type HTTPConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

type WebSocketConfig struct {
	ReadLimit      int64         `json:"read_limit"`
	SendBufferSize int           `json:"send_buffer_size"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	PongTimeout    time.Duration `json:"pong_timeout"`
}

type DatabaseConfig struct {
	Path           string `json:"path"`
	MaxConnections int    `json:"max_connections"`
}

// RedisConfig selects the transport-session cache backend. An empty
// Addr falls back to the in-process cache.
type RedisConfig struct {
	Addr       string        `json:"addr"`
	Password   string        `json:"password"`
	DB         int           `json:"db"`
	SessionTTL time.Duration `json:"session_ttl"`
}

type GameConfig struct {
	CountdownSeconds int           `json:"countdown_seconds"`
	EvictionGrace    time.Duration `json:"eviction_grace"`
	SweepSpec        string        `json:"sweep_spec"`
	ChallengeSeed    int64         `json:"challenge_seed"` // 0 means time-seeded
}

// DefaultConfig returns the settings used when nothing else overrides
// them.
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 10 * time.Second,
		},
		WebSocket: WebSocketConfig{
			ReadLimit:      64 * 1024,
			SendBufferSize: 100,
			WriteTimeout:   5 * time.Second,
			PongTimeout:    60 * time.Second,
		},
		Database: DatabaseConfig{
			Path:           "mathduel.db",
			MaxConnections: 10,
		},
		Redis: RedisConfig{
			SessionTTL: 24 * time.Hour,
		},
		Game: GameConfig{
			CountdownSeconds: 5,
			EvictionGrace:    5 * time.Minute,
			SweepSpec:        "@every 1m",
		},
		LogLevel: "info",
	}
}

// Validate rejects configurations the process cannot run with.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid http port: %d", c.HTTP.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Game.CountdownSeconds <= 0 {
		return fmt.Errorf("countdown seconds must be positive, got %d", c.Game.CountdownSeconds)
	}
	if c.Game.EvictionGrace <= 0 {
		return fmt.Errorf("eviction grace must be positive, got %s", c.Game.EvictionGrace)
	}
	if c.Game.SweepSpec == "" {
		return fmt.Errorf("sweep spec is required")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.LogLevel)
	}
	return nil
}

// LoadFromFile overlays JSON config from path onto c.
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// LoadFromEnv overlays MATHDUEL_* environment variables onto c.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("MATHDUEL_HTTP_HOST"); v != "" {
		c.HTTP.Host = v
	}
	if v := os.Getenv("MATHDUEL_HTTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MATHDUEL_HTTP_PORT: %w", err)
		}
		c.HTTP.Port = port
	}
	if v := os.Getenv("MATHDUEL_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("MATHDUEL_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("MATHDUEL_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("MATHDUEL_REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MATHDUEL_REDIS_DB: %w", err)
		}
		c.Redis.DB = db
	}
	if v := os.Getenv("MATHDUEL_COUNTDOWN_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MATHDUEL_COUNTDOWN_SECONDS: %w", err)
		}
		c.Game.CountdownSeconds = n
	}
	if v := os.Getenv("MATHDUEL_EVICTION_GRACE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid MATHDUEL_EVICTION_GRACE: %w", err)
		}
		c.Game.EvictionGrace = d
	}
	if v := os.Getenv("MATHDUEL_SWEEP_SPEC"); v != "" {
		c.Game.SweepSpec = v
	}
	if v := os.Getenv("MATHDUEL_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	return nil
}

// Load resolves configuration with defaults < optional file < env
// precedence and validates the result. configPath may be empty.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()
	if configPath != "" {
		if err := cfg.LoadFromFile(configPath); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
