package server

import (
	"testing"
	"time"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	if cfg.Port != "3000" {
		t.Errorf("default port = %q, want 3000", cfg.Port)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Errorf("default origins = %v, want unrestricted", cfg.AllowedOrigins)
	}
	if cfg.MaxMessageSize != 4096 {
		t.Errorf("default max message size = %d, want 4096", cfg.MaxMessageSize)
	}
	if cfg.RedisAddr != "" {
		t.Errorf("event bus should be disabled by default, got addr %q", cfg.RedisAddr)
	}
}

func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("PORT", "9000")
	t.Setenv("ALLOWED_ORIGINS", "https://example.com, https://other.example.com")
	t.Setenv("MAX_MESSAGE_SIZE", "1024")
	t.Setenv("RATE_LIMIT_BURST", "50")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "2")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_DB", "3")

	cfg := NewConfigFromEnv()

	if cfg.Env != "prod" {
		t.Errorf("env = %q, want prod", cfg.Env)
	}
	if cfg.Port != "9000" {
		t.Errorf("port = %q, want 9000", cfg.Port)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[0] != "https://example.com" {
		t.Errorf("origins = %v, want two trimmed entries", cfg.AllowedOrigins)
	}
	if cfg.MaxMessageSize != 1024 {
		t.Errorf("max message size = %d, want 1024", cfg.MaxMessageSize)
	}
	if cfg.RateLimit.Burst != 50 {
		t.Errorf("burst = %d, want 50", cfg.RateLimit.Burst)
	}
	if cfg.RateLimit.RefillInterval != 2*time.Second {
		t.Errorf("refill interval = %v, want 2s", cfg.RateLimit.RefillInterval)
	}
	if cfg.RedisAddr != "localhost:6379" || cfg.RedisDB != 3 {
		t.Errorf("redis config = %q/%d, want localhost:6379/3", cfg.RedisAddr, cfg.RedisDB)
	}
}

func TestNewConfigFromEnvIgnoresInvalidValues(t *testing.T) {
	t.Setenv("MAX_MESSAGE_SIZE", "not-a-number")
	t.Setenv("RATE_LIMIT_BURST", "-5")

	cfg := NewConfigFromEnv()

	if cfg.MaxMessageSize != 4096 {
		t.Errorf("invalid MAX_MESSAGE_SIZE should fall back to default, got %d", cfg.MaxMessageSize)
	}
	if cfg.RateLimit.Burst != 20 {
		t.Errorf("invalid RATE_LIMIT_BURST should fall back to default, got %d", cfg.RateLimit.Burst)
	}
}

func TestConfigAddr(t *testing.T) {
	cfg := NewConfig()
	if cfg.Addr() != ":3000" {
		t.Errorf("Addr() = %q, want :3000", cfg.Addr())
	}

	cfg.Port = ":8080"
	if cfg.Addr() != ":8080" {
		t.Errorf("Addr() = %q, want :8080", cfg.Addr())
	}
}
