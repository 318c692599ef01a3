package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWithNoFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.StallTimeout != 900*time.Second {
		t.Fatalf("expected default stall timeout of 900s, got %s", cfg.StallTimeout)
	}
	if cfg.CachedImagesLimit != 3 {
		t.Fatalf("expected default cached images limit of 3, got %d", cfg.CachedImagesLimit)
	}
}

func TestLoadYAMLOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kozmic.yaml")
	if err := os.WriteFile(path, []byte("redis_host: redis.internal\ncached_images_limit: 7\n"), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RedisHost != "redis.internal" {
		t.Fatalf("expected yaml overlay to set redis host, got %q", cfg.RedisHost)
	}
	if cfg.CachedImagesLimit != 7 {
		t.Fatalf("expected yaml overlay to set cached images limit, got %d", cfg.CachedImagesLimit)
	}
}

func TestEnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kozmic.yaml")
	if err := os.WriteFile(path, []byte("redis_host: redis.internal\n"), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	t.Setenv("REDIS_HOST", "redis.from-env")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RedisHost != "redis.from-env" {
		t.Fatalf("expected env var to win over yaml, got %q", cfg.RedisHost)
	}
}

func TestRedisAddr(t *testing.T) {
	cfg := Default()
	cfg.RedisHost = "example.com"
	cfg.RedisPort = 1234
	if got := cfg.RedisAddr(); got != "example.com:1234" {
		t.Fatalf("got %q", got)
	}
}
