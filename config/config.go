// Package config provides configuration loading and management for Planwright.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/planwright/llm"
	"github.com/c360studio/planwright/pipeline"
	"github.com/c360studio/planwright/quality"
	"github.com/c360studio/planwright/service"
)

// Duration wraps time.Duration for YAML unmarshaling, so config files can
// say "45s" instead of nanosecond integers.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Config represents the complete Planwright configuration
type Config struct {
	// LogLevel is the minimum level logged (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	HTTP     HTTPConfig     `yaml:"http"`
	NATS     NATSConfig     `yaml:"nats"`
	Model    ModelConfig    `yaml:"model"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Health   HealthConfig   `yaml:"health"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Prompt   PromptConfig   `yaml:"prompt"`
	Quality  QualityConfig  `yaml:"quality"`

	// ServicesFile is an optional path to a standalone services table that
	// is hot-reloaded when it changes. It takes precedence over Services.
	ServicesFile string `yaml:"services_file"`

	// Services is the inline knowledge-service table.
	Services []ServiceConfig `yaml:"services"`
}

// HTTPConfig configures the HTTP API server
type HTTPConfig struct {
	// Addr is the listen address (host:port)
	Addr string `yaml:"addr"`
	// ReadHeaderTimeout bounds how long reading request headers may take
	ReadHeaderTimeout Duration `yaml:"read_header_timeout"`
	// ShutdownTimeout bounds graceful shutdown on exit
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// NATSConfig configures the optional NATS transport
type NATSConfig struct {
	// Enabled turns the NATS request consumer and publishers on
	Enabled bool `yaml:"enabled"`
	// URL is the NATS server URL
	URL string `yaml:"url"`
	// Stream is the JetStream stream holding plan subjects
	Stream string `yaml:"stream"`
	// RequestSubject is the subject generation requests arrive on
	RequestSubject string `yaml:"request_subject"`
}

// ModelConfig configures the language model client
type ModelConfig struct {
	// Provider selects the API dialect (openai, anthropic, ollama)
	Provider string `yaml:"provider"`
	// BaseURL is the API endpoint
	BaseURL string `yaml:"base_url"`
	// Model is the model identifier sent with every request
	Model string `yaml:"model"`
	// Temperature controls randomness (0-2)
	Temperature float64 `yaml:"temperature"`
	// TopP controls nucleus sampling (0-1)
	TopP float64 `yaml:"top_p"`
	// MaxTokens caps the response length
	MaxTokens int `yaml:"max_tokens"`
	// Timeout is the maximum time to wait for model responses
	Timeout Duration `yaml:"timeout"`
}

// ClientConfig converts to the model client's own config type.
func (m ModelConfig) ClientConfig() llm.Config {
	return llm.Config{
		Provider:    m.Provider,
		BaseURL:     m.BaseURL,
		Model:       m.Model,
		Temperature: m.Temperature,
		TopP:        m.TopP,
		MaxTokens:   m.MaxTokens,
		Timeout:     m.Timeout.Duration(),
	}
}

// PipelineConfig configures the generation coordinator
type PipelineConfig struct {
	// OverallTimeout bounds a whole session
	OverallTimeout Duration `yaml:"overall_timeout"`
	// Stages allots per-stage budgets under the overall timeout
	Stages StageBudgets `yaml:"stages"`
}

// StageBudgets is the per-stage share of the session deadline
type StageBudgets struct {
	Validating       Duration `yaml:"validating"`
	Knowledge        Duration `yaml:"knowledge"`
	Assembling       Duration `yaml:"assembling"`
	Generating       Duration `yaml:"generating"`
	OutputValidation Duration `yaml:"output_validation"`
	Finalizing       Duration `yaml:"finalizing"`
}

// CoordinatorConfig converts to the pipeline's own config type. The quality
// section contributes the acceptance threshold.
func (c *Config) CoordinatorConfig() pipeline.Config {
	return pipeline.Config{
		OverallTimeout: c.Pipeline.OverallTimeout.Duration(),
		Stages: pipeline.StageBudgets{
			Validating:       c.Pipeline.Stages.Validating.Duration(),
			Knowledge:        c.Pipeline.Stages.Knowledge.Duration(),
			Assembling:       c.Pipeline.Stages.Assembling.Duration(),
			Generating:       c.Pipeline.Stages.Generating.Duration(),
			OutputValidation: c.Pipeline.Stages.OutputValidation.Duration(),
			Finalizing:       c.Pipeline.Stages.Finalizing.Duration(),
		},
		MinScore: c.Quality.MinScore,
	}
}

// HealthConfig configures service degradation tracking
type HealthConfig struct {
	// FailureThreshold is the consecutive failures before degradation
	FailureThreshold int `yaml:"failure_threshold"`
	// Cooldown is how long degradation lasts without a success
	Cooldown Duration `yaml:"cooldown"`
}

// TrackerConfig converts to the service package's own config type.
func (h HealthConfig) TrackerConfig() service.HealthConfig {
	return service.HealthConfig{
		FailureThreshold: h.FailureThreshold,
		Cooldown:         h.Cooldown.Duration(),
	}
}

// FetchConfig configures knowledge fetching
type FetchConfig struct {
	// AggregateTimeout bounds the whole fan-out of one request
	AggregateTimeout Duration `yaml:"aggregate_timeout"`
	// MaxFragmentBytes caps one service's retrieved content
	MaxFragmentBytes int `yaml:"max_fragment_bytes"`
}

// PromptConfig configures prompt assembly
type PromptConfig struct {
	// MaxPromptBytes caps the assembled generation prompt
	MaxPromptBytes int `yaml:"max_prompt_bytes"`
}

// QualityConfig configures document scoring
type QualityConfig struct {
	// MinScore is the acceptance threshold (0-100); plans scoring below
	// it are returned with a degraded status
	MinScore int `yaml:"min_score"`
	// Weights splits the score across the three checked dimensions and
	// must sum to 1
	Weights WeightsConfig `yaml:"weights"`
}

// WeightsConfig holds the score dimension weights
type WeightsConfig struct {
	Sections float64 `yaml:"sections"`
	Diagrams float64 `yaml:"diagrams"`
	Links    float64 `yaml:"links"`
}

// ValidatorWeights converts to the quality package's own weights type.
func (w WeightsConfig) ValidatorWeights() quality.Weights {
	return quality.Weights{
		Sections: w.Sections,
		Diagrams: w.Diagrams,
		Links:    w.Links,
	}
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	pdef := pipeline.DefaultConfig()
	mdef := llm.DefaultConfig()
	hdef := service.DefaultHealthConfig()
	return &Config{
		LogLevel: "info",
		HTTP: HTTPConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: Duration(10 * time.Second),
			ShutdownTimeout:   Duration(10 * time.Second),
		},
		NATS: NATSConfig{
			Enabled:        false,
			URL:            "nats://127.0.0.1:4222",
			Stream:         "PLANS",
			RequestSubject: "plan.request",
		},
		Model: ModelConfig{
			Provider:    mdef.Provider,
			BaseURL:     mdef.BaseURL,
			Model:       mdef.Model,
			Temperature: mdef.Temperature,
			TopP:        mdef.TopP,
			MaxTokens:   mdef.MaxTokens,
			Timeout:     Duration(mdef.Timeout),
		},
		Pipeline: PipelineConfig{
			OverallTimeout: Duration(pdef.OverallTimeout),
			Stages: StageBudgets{
				Validating:       Duration(pdef.Stages.Validating),
				Knowledge:        Duration(pdef.Stages.Knowledge),
				Assembling:       Duration(pdef.Stages.Assembling),
				Generating:       Duration(pdef.Stages.Generating),
				OutputValidation: Duration(pdef.Stages.OutputValidation),
				Finalizing:       Duration(pdef.Stages.Finalizing),
			},
		},
		Health: HealthConfig{
			FailureThreshold: hdef.FailureThreshold,
			Cooldown:         Duration(hdef.Cooldown),
		},
		Fetch: FetchConfig{
			AggregateTimeout: Duration(45 * time.Second),
			MaxFragmentBytes: 16 * 1024,
		},
		Prompt: PromptConfig{
			MaxPromptBytes: 32 * 1024,
		},
		Quality: QualityConfig{
			MinScore: quality.DefaultMinScore,
			Weights: WeightsConfig{
				Sections: quality.DefaultWeights.Sections,
				Diagrams: quality.DefaultWeights.Diagrams,
				Links:    quality.DefaultWeights.Links,
			},
		},
		Services: DefaultServices(),
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error")
	}
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if c.NATS.Enabled {
		if c.NATS.URL == "" {
			return fmt.Errorf("nats.url is required when nats is enabled")
		}
		if c.NATS.Stream == "" {
			return fmt.Errorf("nats.stream is required when nats is enabled")
		}
		if c.NATS.RequestSubject == "" {
			return fmt.Errorf("nats.request_subject is required when nats is enabled")
		}
	}
	if c.Model.Provider == "" {
		return fmt.Errorf("model.provider is required")
	}
	if c.Model.BaseURL == "" {
		return fmt.Errorf("model.base_url is required")
	}
	if c.Model.Model == "" {
		return fmt.Errorf("model.model is required")
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		return fmt.Errorf("model.temperature must be between 0 and 2")
	}
	if c.Model.TopP < 0 || c.Model.TopP > 1 {
		return fmt.Errorf("model.top_p must be between 0 and 1")
	}
	if c.Model.MaxTokens <= 0 {
		return fmt.Errorf("model.max_tokens must be positive")
	}
	if c.Pipeline.OverallTimeout.Duration() <= 0 {
		return fmt.Errorf("pipeline.overall_timeout must be positive")
	}
	for name, d := range map[string]Duration{
		"validating":        c.Pipeline.Stages.Validating,
		"knowledge":         c.Pipeline.Stages.Knowledge,
		"assembling":        c.Pipeline.Stages.Assembling,
		"generating":        c.Pipeline.Stages.Generating,
		"output_validation": c.Pipeline.Stages.OutputValidation,
		"finalizing":        c.Pipeline.Stages.Finalizing,
	} {
		if d.Duration() <= 0 {
			return fmt.Errorf("pipeline.stages.%s must be positive", name)
		}
	}
	if c.Health.FailureThreshold < 1 {
		return fmt.Errorf("health.failure_threshold must be at least 1")
	}
	if c.Health.Cooldown.Duration() <= 0 {
		return fmt.Errorf("health.cooldown must be positive")
	}
	if c.Fetch.AggregateTimeout.Duration() <= 0 {
		return fmt.Errorf("fetch.aggregate_timeout must be positive")
	}
	if c.Fetch.MaxFragmentBytes <= 0 {
		return fmt.Errorf("fetch.max_fragment_bytes must be positive")
	}
	if c.Prompt.MaxPromptBytes <= 0 {
		return fmt.Errorf("prompt.max_prompt_bytes must be positive")
	}
	if c.Quality.MinScore < 0 || c.Quality.MinScore > 100 {
		return fmt.Errorf("quality.min_score must be between 0 and 100")
	}
	w := c.Quality.Weights
	if w.Sections < 0 || w.Diagrams < 0 || w.Links < 0 {
		return fmt.Errorf("quality.weights must not be negative")
	}
	if sum := w.Sections + w.Diagrams + w.Links; math.Abs(sum-1) > 0.01 {
		return fmt.Errorf("quality.weights must sum to 1, got %.2f", sum)
	}
	for i, s := range c.Services {
		if err := s.Descriptor().Validate(); err != nil {
			return fmt.Errorf("services[%d]: %w", i, err)
		}
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file. Environment variables
// referenced as ${VAR} or ${VAR:-default} are expanded before parsing.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration YAML over the defaults.
func LoadFromBytes(data []byte) (*Config, error) {
	config := DefaultConfig()
	expanded := expandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for
// non-zero values). NATS can be enabled by an overlay but not disabled.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}

	// HTTP
	if other.HTTP.Addr != "" {
		c.HTTP.Addr = other.HTTP.Addr
	}
	if other.HTTP.ReadHeaderTimeout != 0 {
		c.HTTP.ReadHeaderTimeout = other.HTTP.ReadHeaderTimeout
	}
	if other.HTTP.ShutdownTimeout != 0 {
		c.HTTP.ShutdownTimeout = other.HTTP.ShutdownTimeout
	}

	// NATS
	if other.NATS.Enabled {
		c.NATS.Enabled = true
	}
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.NATS.Stream != "" {
		c.NATS.Stream = other.NATS.Stream
	}
	if other.NATS.RequestSubject != "" {
		c.NATS.RequestSubject = other.NATS.RequestSubject
	}

	// Model
	if other.Model.Provider != "" {
		c.Model.Provider = other.Model.Provider
	}
	if other.Model.BaseURL != "" {
		c.Model.BaseURL = other.Model.BaseURL
	}
	if other.Model.Model != "" {
		c.Model.Model = other.Model.Model
	}
	if other.Model.Temperature != 0 {
		c.Model.Temperature = other.Model.Temperature
	}
	if other.Model.TopP != 0 {
		c.Model.TopP = other.Model.TopP
	}
	if other.Model.MaxTokens != 0 {
		c.Model.MaxTokens = other.Model.MaxTokens
	}
	if other.Model.Timeout != 0 {
		c.Model.Timeout = other.Model.Timeout
	}

	// Pipeline
	if other.Pipeline.OverallTimeout != 0 {
		c.Pipeline.OverallTimeout = other.Pipeline.OverallTimeout
	}
	if other.Pipeline.Stages.Validating != 0 {
		c.Pipeline.Stages.Validating = other.Pipeline.Stages.Validating
	}
	if other.Pipeline.Stages.Knowledge != 0 {
		c.Pipeline.Stages.Knowledge = other.Pipeline.Stages.Knowledge
	}
	if other.Pipeline.Stages.Assembling != 0 {
		c.Pipeline.Stages.Assembling = other.Pipeline.Stages.Assembling
	}
	if other.Pipeline.Stages.Generating != 0 {
		c.Pipeline.Stages.Generating = other.Pipeline.Stages.Generating
	}
	if other.Pipeline.Stages.OutputValidation != 0 {
		c.Pipeline.Stages.OutputValidation = other.Pipeline.Stages.OutputValidation
	}
	if other.Pipeline.Stages.Finalizing != 0 {
		c.Pipeline.Stages.Finalizing = other.Pipeline.Stages.Finalizing
	}

	// Health
	if other.Health.FailureThreshold != 0 {
		c.Health.FailureThreshold = other.Health.FailureThreshold
	}
	if other.Health.Cooldown != 0 {
		c.Health.Cooldown = other.Health.Cooldown
	}

	// Fetch
	if other.Fetch.AggregateTimeout != 0 {
		c.Fetch.AggregateTimeout = other.Fetch.AggregateTimeout
	}
	if other.Fetch.MaxFragmentBytes != 0 {
		c.Fetch.MaxFragmentBytes = other.Fetch.MaxFragmentBytes
	}

	// Prompt
	if other.Prompt.MaxPromptBytes != 0 {
		c.Prompt.MaxPromptBytes = other.Prompt.MaxPromptBytes
	}

	// Quality
	if other.Quality.MinScore != 0 {
		c.Quality.MinScore = other.Quality.MinScore
	}
	if w := other.Quality.Weights; w.Sections != 0 || w.Diagrams != 0 || w.Links != 0 {
		c.Quality.Weights = w
	}

	// Services
	if other.ServicesFile != "" {
		c.ServicesFile = other.ServicesFile
	}
	if len(other.Services) > 0 {
		c.Services = other.Services
	}
}
