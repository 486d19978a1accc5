package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Chat      ChatConfig      `yaml:"chat"`
	Auth      AuthConfig      `yaml:"auth"`
	Store     StoreConfig     `yaml:"store"`
	Cache     CacheConfig     `yaml:"cache"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type WebSocketConfig struct {
	SendBufferSize int             `yaml:"send_buffer_size"`
	MaxMessageSize int64           `yaml:"max_message_size"`
	WriteWait      time.Duration   `yaml:"write_wait"`
	PongWait       time.Duration   `yaml:"pong_wait"`
	PingPeriod     time.Duration   `yaml:"ping_period"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig allows Burst inbound frames per Interval on one connection.
type RateLimitConfig struct {
	Burst    int           `yaml:"burst"`
	Interval time.Duration `yaml:"interval"`
}

type ChatConfig struct {
	HistoryLimit int `yaml:"history_limit"`
}

type AuthConfig struct {
	Secret   string        `yaml:"secret"`
	Issuer   string        `yaml:"issuer"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

type StoreConfig struct {
	Driver  string        `yaml:"driver"` // sqlite, postgres or memory
	DSN     string        `yaml:"dsn"`
	Timeout time.Duration `yaml:"timeout"`
}

type CacheConfig struct {
	Enabled   bool          `yaml:"enabled"`
	RedisAddr string        `yaml:"redis_addr"`
	Prefix    string        `yaml:"prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			AllowedOrigins:  []string{"http://localhost:8080"},
			ShutdownTimeout: 30 * time.Second,
		},
		WebSocket: WebSocketConfig{
			SendBufferSize: 256,
			MaxMessageSize: 64 << 10,
			WriteWait:      10 * time.Second,
			PongWait:       60 * time.Second,
			PingPeriod:     54 * time.Second,
			// Zero burst disables the limit.
			RateLimit: RateLimitConfig{
				Interval: time.Second,
			},
		},
		Chat: ChatConfig{
			HistoryLimit: 10,
		},
		Auth: AuthConfig{
			Issuer:   "classnet",
			TokenTTL: 24 * time.Hour,
		},
		Store: StoreConfig{
			Driver:  "sqlite",
			DSN:     "classchat.db",
			Timeout: 5 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:   false,
			RedisAddr: "localhost:6379",
			Prefix:    "classchat:",
			TTL:       5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load config from yml
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides file settings with CLASSCHAT_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("CLASSCHAT_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("CLASSCHAT_ALLOWED_ORIGINS"); v != "" {
		parts := strings.Split(v, ",")
		origins := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				origins = append(origins, p)
			}
		}
		c.Server.AllowedOrigins = origins
	}
	if v := os.Getenv("CLASSCHAT_AUTH_SECRET"); v != "" {
		c.Auth.Secret = v
	}
	if v := os.Getenv("CLASSCHAT_STORE_DRIVER"); v != "" {
		c.Store.Driver = v
	}
	if v := os.Getenv("CLASSCHAT_STORE_DSN"); v != "" {
		c.Store.DSN = v
	}
	if v := os.Getenv("CLASSCHAT_REDIS_ADDR"); v != "" {
		c.Cache.RedisAddr = v
		c.Cache.Enabled = true
	}
}

// Validate reports every setting that would leave the server unusable.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Auth.Secret == "" {
		errs = append(errs, errors.New("auth.secret is required"))
	}
	if c.WebSocket.SendBufferSize <= 0 {
		errs = append(errs, errors.New("websocket.send_buffer_size must be positive"))
	}
	if c.WebSocket.PingPeriod >= c.WebSocket.PongWait {
		errs = append(errs, errors.New("websocket.ping_period must be shorter than websocket.pong_wait"))
	}
	if c.Chat.HistoryLimit < 0 {
		errs = append(errs, errors.New("chat.history_limit must not be negative"))
	}
	switch c.Store.Driver {
	case "sqlite", "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not one of sqlite, postgres, memory", c.Store.Driver))
	}
	if c.Cache.Enabled && c.Cache.RedisAddr == "" {
		errs = append(errs, errors.New("cache.redis_addr is required when the cache is enabled"))
	}
	return errors.Join(errs...)
}

// Debug reports whether verbose per-frame logging is enabled.
func (c LoggingConfig) Debug() bool {
	return strings.EqualFold(c.Level, "debug")
}
