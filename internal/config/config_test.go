package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "")
	t.Setenv("APP_ENV", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.False(t, cfg.IsDevelopment(), "an unset APP_ENV runs as production")
	assert.Equal(t, 24*time.Hour, cfg.JWTTTL)
	assert.Equal(t, 30*time.Second, cfg.LockTTL)
	assert.Equal(t, time.Hour, cfg.TmpMaxAge)
	assert.Equal(t, "@every 15m", cfg.TmpSweepSchedule)
}

func TestLoad_DevelopmentIsExplicit(t *testing.T) {
	t.Setenv("APP_ENV", "development")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("JWT_TTL", "90m")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("LOCK_TTL", "2m")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.HTTPPort)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, 90*time.Minute, cfg.JWTTTL)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, 2*time.Minute, cfg.LockTTL)
	assert.False(t, cfg.IsDevelopment())
}

func TestValidate(t *testing.T) {
	valid := Config{
		AppEnv:           "production",
		DBDriver:         "postgres",
		JWTSecret:        "secret",
		JWTTTL:           time.Hour,
		LockTTL:          30 * time.Second,
		TmpMaxAge:        time.Hour,
		TmpSweepSchedule: "@every 15m",
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"unknown driver", func(c *Config) { c.DBDriver = "oracle" }},
		{"missing secret in production", func(c *Config) { c.JWTSecret = "" }},
		{"zero ttl", func(c *Config) { c.JWTTTL = 0 }},
		{"tiny lock ttl", func(c *Config) { c.LockTTL = time.Second }},
		{"zero tmp age", func(c *Config) { c.TmpMaxAge = 0 }},
		{"bad schedule", func(c *Config) { c.TmpSweepSchedule = "every now and then" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	dev := valid
	dev.AppEnv = "development"
	dev.JWTSecret = ""
	assert.NoError(t, dev.Validate())
}
