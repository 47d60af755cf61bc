// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the PairBrowse relay.
package server

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the relay configuration. It is constructed once at startup and
// handed to the components that need it; there is no process-wide config state.
type Config struct {
	Env            string
	Port           string
	AllowedOrigins []string
	MaxMessageSize int64
	RateLimit      RateLimitConfig

	// RedisAddr enables the cross-instance event bus when non-empty.
	RedisAddr string
	RedisDB   int
}

// NewConfig returns a Config populated with defaults: port 3000 and
// unrestricted cross-origin access, matching the documented contract of the
// relay.
func NewConfig() *Config {
	return &Config{
		Env:            "dev",
		Port:           "3000",
		AllowedOrigins: []string{"*"},
		MaxMessageSize: 4096,
		RateLimit: RateLimitConfig{
			Burst:          20,
			RefillInterval: time.Second,
		},
	}
}

// NewConfigFromEnv creates a Config from environment variables, falling back
// to defaults for anything unset:
//
//	APP_ENV                     dev
//	PORT                        3000
//	ALLOWED_ORIGINS             * (comma-separated allowlist otherwise)
//	MAX_MESSAGE_SIZE            4096 bytes
//	RATE_LIMIT_BURST            20 messages
//	RATE_LIMIT_REFILL_INTERVAL  1 (seconds)
//	REDIS_ADDR                  empty (bus disabled)
//	REDIS_DB                    0
func NewConfigFromEnv() *Config {
	cfg := NewConfig()

	cfg.Env = getEnv("APP_ENV", cfg.Env)
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = splitCSV(origins)
	}

	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}

	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}

	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseRefillInterval(interval, cfg.RateLimit.RefillInterval)
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		cfg.RedisDB = parseIntValue(db, cfg.RedisDB)
	}

	return cfg
}

// Addr returns the listen address for the configured port.
func (c *Config) Addr() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseRefillInterval(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
