// Package config provides configuration for the e2e runner.
package config

import "time"

// Default endpoints for a locally running stack.
const (
	DefaultServerURL        = "http://localhost:8080"
	DefaultMockLLMURL       = "http://localhost:11434"
	DefaultMockKnowledgeURL = "http://localhost:9090"
)

// Default timeouts.
const (
	// DefaultSessionTimeout bounds one full generation session as seen
	// from the outside, transport included.
	DefaultSessionTimeout = 60 * time.Second

	// DefaultStageTimeout bounds the small setup and verification calls.
	DefaultStageTimeout = 10 * time.Second
)

// FailingOwner is the repository owner prefix the mock knowledge server
// is started with (-fail /flaky-org). Links under it produce fetch
// failures, which is how degraded sessions are provoked.
const FailingOwner = "flaky-org"

// Config holds the e2e runner configuration.
type Config struct {
	ServerURL      string        `json:"server_url"`
	MockLLMURL     string        `json:"mock_llm_url"`
	SessionTimeout time.Duration `json:"session_timeout"`
	StageTimeout   time.Duration `json:"stage_timeout"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		ServerURL:      DefaultServerURL,
		MockLLMURL:     DefaultMockLLMURL,
		SessionTimeout: DefaultSessionTimeout,
		StageTimeout:   DefaultStageTimeout,
	}
}
