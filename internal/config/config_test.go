package config

import (
	"testing"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_DSN", "host=localhost user=test password=test dbname=test port=5432 sslmode=disable")
	t.Setenv("MASTER_KEY", "unit-test-master-key")
	t.Setenv("ENCRYPTION_SALT", "unit-test-salt")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.APIPort != 8080 {
		t.Errorf("APIPort = %d, want 8080", cfg.APIPort)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %s, want info", cfg.LogLevel)
	}
	if cfg.RateLimitPerSec != 10 {
		t.Errorf("RateLimitPerSec = %d, want 10", cfg.RateLimitPerSec)
	}
	if cfg.PrimaryAccountName != "primary" {
		t.Errorf("PrimaryAccountName = %s, want primary", cfg.PrimaryAccountName)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("API_PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("RATE_LIMIT_PER_SEC", "25")
	t.Setenv("VENDOR_REST_URL", "http://localhost:8081")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.APIPort != 9090 {
		t.Errorf("APIPort = %d, want 9090", cfg.APIPort)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %s, want debug", cfg.LogLevel)
	}
	if cfg.RateLimitPerSec != 25 {
		t.Errorf("RateLimitPerSec = %d, want 25", cfg.RateLimitPerSec)
	}
	if cfg.VendorRestURL != "http://localhost:8081" {
		t.Errorf("VendorRestURL = %s, want custom value", cfg.VendorRestURL)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("DATABASE_DSN", "host=localhost")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for missing required env vars, got nil")
	}
}

func TestLoad_OptionalRedis(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.RedisURL != "" {
		t.Errorf("RedisURL = %s, want empty when unset", cfg.RedisURL)
	}
}
