package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Listen != ":8080" || cfg.GatewayListen != ":8081" {
		t.Errorf("listen defaults: %s / %s", cfg.Listen, cfg.GatewayListen)
	}
	if cfg.DefaultBackend != "instant" {
		t.Errorf("default backend = %s", cfg.DefaultBackend)
	}
	if cfg.Cache.MaxAge != 7*24*time.Hour {
		t.Errorf("max age = %v", cfg.Cache.MaxAge)
	}
	if cfg.Cache.FuzzyThreshold != 0.7 {
		t.Errorf("fuzzy threshold = %v", cfg.Cache.FuzzyThreshold)
	}
	if len(cfg.Backends) == 0 {
		t.Error("expected a default backend chain")
	}
	if cfg.Backends[0].ID != "instant" {
		t.Errorf("chain should start with the instant responder, got %s", cfg.Backends[0].ID)
	}
	if len(cfg.Assets.Patterns) == 0 {
		t.Error("expected default asset patterns")
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-test123")

	content := `
listen: ":9090"
db_path: /tmp/test.db
default_backend: Xenova/gpt2
cache:
  max_age: 48h
  fuzzy_threshold: 0.8
backends:
  - id: Xenova/gpt2
    name: GPT-2
    url: http://localhost:8000
    api_key: ${TEST_API_KEY}
    size_class: medium
`
	path := filepath.Join(t.TempDir(), "inferd.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":9090" {
		t.Errorf("listen = %s", cfg.Listen)
	}
	if cfg.DefaultBackend != "Xenova/gpt2" {
		t.Errorf("default backend = %s", cfg.DefaultBackend)
	}
	if cfg.Cache.MaxAge != 48*time.Hour {
		t.Errorf("max age = %v", cfg.Cache.MaxAge)
	}
	if cfg.Cache.FuzzyThreshold != 0.8 {
		t.Errorf("fuzzy threshold = %v", cfg.Cache.FuzzyThreshold)
	}
	if len(cfg.Backends) != 1 || cfg.Backends[0].APIKey != "sk-test123" {
		t.Errorf("backends: %+v", cfg.Backends)
	}
	// unset fields keep defaults
	if cfg.GatewayListen != ":8081" {
		t.Errorf("gateway listen = %s", cfg.GatewayListen)
	}
	if len(cfg.Assets.Patterns) == 0 {
		t.Error("asset patterns should default")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
