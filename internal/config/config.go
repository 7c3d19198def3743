package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Config holds server settings read from the environment
type Config struct {
	AppEnv           string        `mapstructure:"app_env"`
	HTTPPort         string        `mapstructure:"http_port"`
	DBDriver         string        `mapstructure:"db_driver"`
	DatabaseURL      string        `mapstructure:"database_url"`
	StoragePath      string        `mapstructure:"storage_path"`
	JWTSecret        string        `mapstructure:"jwt_secret"`
	JWTTTL           time.Duration `mapstructure:"jwt_ttl"`
	RedisAddr        string        `mapstructure:"redis_addr"`
	RedisPassword    string        `mapstructure:"redis_password"`
	LockTTL          time.Duration `mapstructure:"lock_ttl"`
	TmpMaxAge        time.Duration `mapstructure:"tmp_max_age"`
	TmpSweepSchedule string        `mapstructure:"tmp_sweep_schedule"`
	WebDistPath      string        `mapstructure:"web_dist_path"`
	LogLevel         string        `mapstructure:"log_level"`
	AdminUsername    string        `mapstructure:"admin_username"`
	AdminPassword    string        `mapstructure:"admin_password"`
}

var defaults = map[string]interface{}{
	"app_env":            "production",
	"http_port":          "8080",
	"db_driver":          "postgres",
	"database_url":       "host=localhost user=postgres password=postgres dbname=testtrack port=5432 sslmode=disable",
	"storage_path":       "./storage",
	"jwt_secret":         "",
	"jwt_ttl":            "24h",
	"redis_addr":         "",
	"redis_password":     "",
	"lock_ttl":           "30s",
	"tmp_max_age":        "1h",
	"tmp_sweep_schedule": "@every 15m",
	"web_dist_path":      "./web/dist",
	"log_level":          "info",
	"admin_username":     "admin",
	"admin_password":     "",
}

// Load reads .env if present, then the environment
func Load() (*Config, error) {
	// a missing .env is fine
	_ = godotenv.Load()

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// IsDevelopment reports whether detailed errors may be shown to clients
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// Validate checks settings that cannot be defaulted
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.JWTSecret == "" && !c.IsDevelopment() {
		return errors.New("JWT_SECRET is required outside development")
	}
	if c.JWTTTL <= 0 {
		return errors.New("JWT_TTL must be positive")
	}
	if c.LockTTL < 2*time.Second {
		return errors.New("LOCK_TTL must be at least 2s")
	}
	if c.TmpMaxAge <= 0 {
		return errors.New("TMP_MAX_AGE must be positive")
	}
	if _, err := cron.ParseStandard(c.TmpSweepSchedule); err != nil {
		return fmt.Errorf("invalid TMP_SWEEP_SCHEDULE: %w", err)
	}
	return nil
}
