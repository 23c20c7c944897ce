package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func base() map[string]string {
	return map[string]string{
		"REDIS_URL":  "redis://localhost:6379/0",
		"JWT_SECRET": "s3cret",
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := LoadFrom(base())
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "game_cache", cfg.RedisChannel)
	assert.Equal(t, "redis", cfg.BrokerBackend)
	assert.Equal(t, "HS256", cfg.JWTAlgorithm)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 10*time.Second, cfg.AuthTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.Log.ToConsole)
	assert.False(t, cfg.Log.ToFile)
}

func TestOverrides(t *testing.T) {
	e := base()
	e["BROKER_BACKEND"] = "NATS"
	e["NATS_URL"] = "nats://127.0.0.1:4222"
	e["PING_INTERVAL"] = "5s"
	e["ALLOWED_ORIGINS"] = "example.com, , *.example.org"
	e["LOG_LEVEL"] = "debug"
	e["JWT_ALGORITHM"] = "hs512"

	cfg, err := LoadFrom(e)
	require.NoError(t, err)
	assert.Equal(t, "nats", cfg.BrokerBackend)
	assert.Equal(t, 5*time.Second, cfg.PingInterval)
	assert.Equal(t, []string{"example.com", "*.example.org"}, cfg.AllowedOrigins)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "HS512", cfg.JWTAlgorithm)
}

func TestValidation(t *testing.T) {
	cases := map[string]func(map[string]string){
		"missing redis":  func(e map[string]string) { delete(e, "REDIS_URL") },
		"bad scheme":     func(e map[string]string) { e["REDIS_URL"] = "http://localhost" },
		"missing secret": func(e map[string]string) { delete(e, "JWT_SECRET") },
		"bad algorithm":  func(e map[string]string) { e["JWT_ALGORITHM"] = "RS256" },
		"nats no url":    func(e map[string]string) { e["BROKER_BACKEND"] = "nats" },
		"bad backend":    func(e map[string]string) { e["BROKER_BACKEND"] = "kafka" },
		"zero ttl":       func(e map[string]string) { e["SESSION_TTL"] = "0s" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			e := base()
			mutate(e)
			_, err := LoadFrom(e)
			assert.Error(t, err)
		})
	}
}
