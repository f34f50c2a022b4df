package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Model.Provider != "openai" {
		t.Errorf("expected default provider openai, got %s", cfg.Model.Provider)
	}
	if cfg.Model.Model != "Qwen/Qwen2.5-72B-Instruct" {
		t.Errorf("unexpected default model %s", cfg.Model.Model)
	}
	if cfg.Model.Temperature != 0.7 {
		t.Errorf("expected default temperature 0.7, got %f", cfg.Model.Temperature)
	}
	if cfg.Pipeline.OverallTimeout.Duration() != 180*time.Second {
		t.Errorf("expected 180s overall timeout, got %v", cfg.Pipeline.OverallTimeout.Duration())
	}
	if cfg.Quality.MinScore != 60 {
		t.Errorf("expected min score 60, got %d", cfg.Quality.MinScore)
	}
	if cfg.NATS.Enabled {
		t.Error("NATS should be disabled by default")
	}
	if len(cfg.Services) != 3 {
		t.Fatalf("expected 3 default services, got %d", len(cfg.Services))
	}
	if cfg.Services[0].ID != "deepwiki" {
		t.Errorf("expected deepwiki first, got %s", cfg.Services[0].ID)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config must validate: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "bad log level",
			modify:  func(c *Config) { c.LogLevel = "verbose" },
			wantErr: true,
		},
		{
			name:    "missing model provider",
			modify:  func(c *Config) { c.Model.Provider = "" },
			wantErr: true,
		},
		{
			name:    "missing model base url",
			modify:  func(c *Config) { c.Model.BaseURL = "" },
			wantErr: true,
		},
		{
			name:    "temperature too high",
			modify:  func(c *Config) { c.Model.Temperature = 2.1 },
			wantErr: true,
		},
		{
			name:    "top_p too high",
			modify:  func(c *Config) { c.Model.TopP = 1.5 },
			wantErr: true,
		},
		{
			name:    "zero stage budget",
			modify:  func(c *Config) { c.Pipeline.Stages.Generating = 0 },
			wantErr: true,
		},
		{
			name:    "min score out of range",
			modify:  func(c *Config) { c.Quality.MinScore = 101 },
			wantErr: true,
		},
		{
			name:    "weights not summing to one",
			modify:  func(c *Config) { c.Quality.Weights.Links = 0.4 },
			wantErr: true,
		},
		{
			name: "nats enabled without url",
			modify: func(c *Config) {
				c.NATS.Enabled = true
				c.NATS.URL = ""
			},
			wantErr: true,
		},
		{
			name: "service with unknown capability",
			modify: func(c *Config) {
				c.Services = append(c.Services, ServiceConfig{ID: "x", Capability: "telepathy"})
			},
			wantErr: true,
		},
		{
			name:    "zero health threshold",
			modify:  func(c *Config) { c.Health.FailureThreshold = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `
log_level: debug
model:
  provider: ollama
  base_url: "http://test:11434/v1"
  model: "test-model"
  temperature: 0.5
  timeout: 10m
pipeline:
  overall_timeout: 2m
  stages:
    generating: 90s
quality:
  min_score: 70
nats:
  enabled: true
  url: "nats://test:4222"
services:
  - id: docs
    capability: deep-technical-doc
    endpoint: "https://docs.test"
    url_patterns: ["docs.test/**"]
    timeout: 5s
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("expected log_level debug, got %s", cfg.LogLevel)
	}
	if cfg.Model.Provider != "ollama" {
		t.Errorf("expected provider ollama, got %s", cfg.Model.Provider)
	}
	if cfg.Model.Timeout.Duration() != 10*time.Minute {
		t.Errorf("expected timeout 10m, got %v", cfg.Model.Timeout.Duration())
	}
	if cfg.Pipeline.OverallTimeout.Duration() != 2*time.Minute {
		t.Errorf("expected 2m overall timeout, got %v", cfg.Pipeline.OverallTimeout.Duration())
	}
	if cfg.Pipeline.Stages.Generating.Duration() != 90*time.Second {
		t.Errorf("expected 90s generating budget, got %v", cfg.Pipeline.Stages.Generating.Duration())
	}
	// Unset stages keep their defaults.
	if cfg.Pipeline.Stages.Knowledge.Duration() != 45*time.Second {
		t.Errorf("expected default 45s knowledge budget, got %v", cfg.Pipeline.Stages.Knowledge.Duration())
	}
	if cfg.Quality.MinScore != 70 {
		t.Errorf("expected min score 70, got %d", cfg.Quality.MinScore)
	}
	if !cfg.NATS.Enabled || cfg.NATS.URL != "nats://test:4222" {
		t.Errorf("unexpected NATS config: %+v", cfg.NATS)
	}
	if len(cfg.Services) != 1 || cfg.Services[0].ID != "docs" {
		t.Fatalf("expected the file's services table to replace the default, got %+v", cfg.Services)
	}
	if cfg.Services[0].Timeout.Duration() != 5*time.Second {
		t.Errorf("expected 5s service timeout, got %v", cfg.Services[0].Timeout.Duration())
	}
}

func TestLoadFromFileExpandsEnv(t *testing.T) {
	t.Setenv("PLANWRIGHT_TEST_MODEL", "env-model")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	content := "model:\n  model: \"${PLANWRIGHT_TEST_MODEL}\"\n"
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if cfg.Model.Model != "env-model" {
		t.Errorf("expected env expansion to env-model, got %s", cfg.Model.Model)
	}
}

func TestInvalidDurationRejected(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	content := "model:\n  timeout: banana\n"
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := LoadFromFile(configPath)
	if err == nil || !strings.Contains(err.Error(), "invalid duration") {
		t.Errorf("expected invalid duration error, got %v", err)
	}
}

func TestConfigMerge(t *testing.T) {
	base := DefaultConfig()
	override := &Config{
		LogLevel: "warn",
		Model: ModelConfig{
			Model: "override-model",
		},
		NATS: NATSConfig{
			Enabled: true,
		},
		Quality: QualityConfig{
			MinScore: 80,
		},
	}

	base.Merge(override)

	if base.LogLevel != "warn" {
		t.Errorf("expected log level warn, got %s", base.LogLevel)
	}
	if base.Model.Model != "override-model" {
		t.Errorf("expected model override-model, got %s", base.Model.Model)
	}
	// Provider should remain from base since override didn't set it
	if base.Model.Provider != "openai" {
		t.Errorf("expected provider to remain default, got %s", base.Model.Provider)
	}
	if !base.NATS.Enabled {
		t.Error("expected merge to enable NATS")
	}
	if base.NATS.URL != "nats://127.0.0.1:4222" {
		t.Errorf("expected NATS URL to remain default, got %s", base.NATS.URL)
	}
	if base.Quality.MinScore != 80 {
		t.Errorf("expected min score 80, got %d", base.Quality.MinScore)
	}
	if base.Quality.Weights.Sections != 0.5 {
		t.Errorf("expected weights to remain default, got %+v", base.Quality.Weights)
	}
}

func TestConfigSaveToFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "subdir", "config.yaml")

	cfg := DefaultConfig()
	cfg.Model.Model = "saved-model"

	if err := cfg.SaveToFile(configPath); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	// Durations round-trip through their string form.
	loaded, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("failed to load saved config: %v", err)
	}
	if loaded.Model.Model != "saved-model" {
		t.Errorf("expected model saved-model, got %s", loaded.Model.Model)
	}
	if loaded.Pipeline.Stages.Generating.Duration() != 2*time.Minute {
		t.Errorf("expected 2m generating budget after round trip, got %v", loaded.Pipeline.Stages.Generating.Duration())
	}
}

func TestCoordinatorConfigBridge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Quality.MinScore = 75
	cfg.Pipeline.Stages.Generating = Duration(time.Minute)

	pc := cfg.CoordinatorConfig()
	if pc.MinScore != 75 {
		t.Errorf("expected min score 75, got %d", pc.MinScore)
	}
	if pc.Stages.Generating != time.Minute {
		t.Errorf("expected 1m generating budget, got %v", pc.Stages.Generating)
	}
	if pc.OverallTimeout != 180*time.Second {
		t.Errorf("expected 180s overall, got %v", pc.OverallTimeout)
	}
}

func TestServiceConfigDescriptor(t *testing.T) {
	disabled := false
	sc := ServiceConfig{
		ID:         "docs",
		Capability: "deep-technical-doc",
		Timeout:    Duration(5 * time.Second),
		Enabled:    &disabled,
	}
	d := sc.Descriptor()
	if d.Enabled {
		t.Error("explicit enabled=false must carry through")
	}
	if d.Timeout != 5*time.Second {
		t.Errorf("expected 5s timeout, got %v", d.Timeout)
	}

	// Omitted enabled means enabled.
	sc.Enabled = nil
	if !sc.Descriptor().Enabled {
		t.Error("omitted enabled must default to true")
	}
}
