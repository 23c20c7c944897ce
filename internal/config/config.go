package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type AppConfig struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	RedisURL      string `env:"REDIS_URL"`
	RedisChannel  string `env:"REDIS_CHANNEL" envDefault:"game_cache"`
	BrokerBackend string `env:"BROKER_BACKEND" envDefault:"redis"`
	NATSURL       string `env:"NATS_URL"`
	DatabaseURL   string `env:"DATABASE_URL"`

	JWTSecret    string `env:"JWT_SECRET"`
	JWTAlgorithm string `env:"JWT_ALGORITHM" envDefault:"HS256"`
	JWTIssuer    string `env:"JWT_ISSUER"`

	SessionTTL   time.Duration `env:"SESSION_TTL" envDefault:"24h"`
	AuthTimeout  time.Duration `env:"AUTH_TIMEOUT" envDefault:"10s"`
	PingInterval time.Duration `env:"PING_INTERVAL" envDefault:"30s"`
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"500ms"`

	MessagesDir    string   `env:"MESSAGES_DIR"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`

	Log LogConfig `envPrefix:"LOG_"`
}

type LogConfig struct {
	Level     string `env:"LEVEL" envDefault:"info"`
	Format    string `env:"FORMAT" envDefault:"legacy"`
	ToConsole bool   `env:"TO_CONSOLE" envDefault:"true"`
	ToFile    bool   `env:"TO_FILE" envDefault:"false"`
	File      string `env:"FILE" envDefault:"logs/tttd.log"`
	Caller    bool   `env:"CALLER" envDefault:"false"`
}

// Load reads .env when present, then the process environment.
func Load() (*AppConfig, error) {
	_ = godotenv.Load()
	cfg := &AppConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg.normalize()
}

// LoadFrom parses an explicit environment instead of the process one.
func LoadFrom(environ map[string]string) (*AppConfig, error) {
	cfg := &AppConfig{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg.normalize()
}

func (c *AppConfig) normalize() (*AppConfig, error) {
	c.RedisURL = strings.TrimSpace(c.RedisURL)
	c.BrokerBackend = strings.ToLower(strings.TrimSpace(c.BrokerBackend))
	c.JWTAlgorithm = strings.ToUpper(strings.TrimSpace(c.JWTAlgorithm))
	origins := c.AllowedOrigins[:0]
	for _, o := range c.AllowedOrigins {
		if s := strings.TrimSpace(o); s != "" {
			origins = append(origins, s)
		}
	}
	c.AllowedOrigins = origins
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate returns the first problem found.
func (c *AppConfig) Validate() error {
	if c.RedisURL == "" {
		return errors.New("REDIS_URL is required")
	}
	u, err := url.Parse(c.RedisURL)
	if err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") {
		return fmt.Errorf("REDIS_URL must be redis:// or rediss://, got %q", c.RedisURL)
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		return errors.New("JWT_SECRET is required")
	}
	switch c.JWTAlgorithm {
	case "HS256", "HS384", "HS512":
	default:
		return fmt.Errorf("JWT_ALGORITHM %q is not supported", c.JWTAlgorithm)
	}
	switch c.BrokerBackend {
	case "redis", "memory":
	case "nats":
		if strings.TrimSpace(c.NATSURL) == "" {
			return errors.New("NATS_URL is required when BROKER_BACKEND=nats")
		}
	default:
		return fmt.Errorf("BROKER_BACKEND %q is not one of redis, nats, memory", c.BrokerBackend)
	}
	if strings.TrimSpace(c.RedisChannel) == "" {
		return errors.New("REDIS_CHANNEL must not be empty")
	}
	if c.SessionTTL <= 0 || c.AuthTimeout <= 0 || c.PingInterval <= 0 || c.PollInterval <= 0 {
		return errors.New("SESSION_TTL, AUTH_TIMEOUT, PING_INTERVAL and POLL_INTERVAL must be positive")
	}
	return nil
}
