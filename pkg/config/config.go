package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all inferd configuration.
type Config struct {
	Listen         string          `yaml:"listen"`
	GatewayListen  string          `yaml:"gateway_listen"`
	DBPath         string          `yaml:"db_path"`
	DefaultBackend string          `yaml:"default_backend"`
	Cache          CacheConfig     `yaml:"cache"`
	Backends       []BackendConfig `yaml:"backends"`
	Assets         AssetsConfig    `yaml:"assets"`
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	Enabled        bool          `yaml:"enabled"`
	MaxAge         time.Duration `yaml:"max_age"`
	FuzzyThreshold float64       `yaml:"fuzzy_threshold"`
	FuzzyLimit     int           `yaml:"fuzzy_limit"`
}

// BackendConfig defines one inference backend in priority order.
// SizeClass is "small", "medium", "large" or "verylarge" and scales the
// load timeout budget. A backend with no URL is the built-in instant
// responder.
type BackendConfig struct {
	ID        string   `yaml:"id"`
	Name      string   `yaml:"name"`
	URL       string   `yaml:"url"`
	APIKey    string   `yaml:"api_key"`
	SizeClass string   `yaml:"size_class"`
	Weights   []string `yaml:"weights"`
}

// AssetsConfig controls the model-asset gateway. The gateway worker
// keeps its binary cache in its own database file so the two processes
// never contend on one sqlite handle; the record store and the asset
// store are conceptually the same durable cache.
type AssetsConfig struct {
	DBPath          string        `yaml:"db_path"`
	Patterns        []string      `yaml:"patterns"`
	UpstreamTimeout time.Duration `yaml:"upstream_timeout"`
}

// DefaultAssetPatterns match model weight files, tokenizer configs and
// model hub hostnames.
var DefaultAssetPatterns = []string{
	`/models/`,
	`huggingface\.co`,
	`\.bin$`,
	`\.json$`,
	`\.safetensors$`,
	`tokenizer`,
	`config\.json$`,
	`pytorch_model`,
	`onnx`,
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen:         ":8080",
		GatewayListen:  ":8081",
		DBPath:         "inferd.db",
		DefaultBackend: "instant",
		Cache: CacheConfig{
			Enabled:        true,
			MaxAge:         7 * 24 * time.Hour,
			FuzzyThreshold: 0.7,
			FuzzyLimit:     5,
		},
		Backends: []BackendConfig{
			{ID: "instant", Name: "Instant responder", SizeClass: "small"},
			{ID: "Xenova/distilgpt2", Name: "DistilGPT-2", SizeClass: "small"},
			{ID: "Xenova/gpt2", Name: "GPT-2", SizeClass: "medium"},
			{ID: "Xenova/TinyLlama-1.1B-Chat-v1.0", Name: "TinyLlama", SizeClass: "large"},
		},
		Assets: AssetsConfig{
			DBPath:          "inferd-assets.db",
			Patterns:        DefaultAssetPatterns,
			UpstreamTimeout: 10 * time.Minute,
		},
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if len(cfg.Assets.Patterns) == 0 {
		cfg.Assets.Patterns = DefaultAssetPatterns
	}

	return cfg, nil
}
