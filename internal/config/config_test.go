package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr != ":8787" {
		t.Fatalf("Addr = %q", cfg.Addr)
	}
	if cfg.TokenTTL != 24*time.Hour {
		t.Fatalf("TokenTTL = %v, want 24h", cfg.TokenTTL)
	}
	if cfg.RedisURL != "" || cfg.MeiliURL != "" || cfg.MinioEndpoint != "" {
		t.Fatalf("optional backends should default to empty: %+v", cfg)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("AGORA_TOKEN_TTL", "2h")
	t.Setenv("REDIS_URL", "redis://localhost:6379/1")
	t.Setenv("AGORA_MIGRATIONS", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.TokenTTL != 2*time.Hour {
		t.Fatalf("TokenTTL = %v", cfg.TokenTTL)
	}
	if cfg.RedisURL != "redis://localhost:6379/1" {
		t.Fatalf("RedisURL = %q", cfg.RedisURL)
	}
	if cfg.RunMigrations {
		t.Fatal("RunMigrations should be false")
	}
}

func TestValidateRejectsNonPositiveTTL(t *testing.T) {
	cfg := Config{JWTSecret: "s", DatabaseURL: "postgres://x", TokenTTL: 0}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero TTL")
	}
}
