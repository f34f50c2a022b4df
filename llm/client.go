// Package llm provides a provider-agnostic language model client. The
// generation pipeline issues exactly one model call per session, so the
// client performs no retries; the error classification tells callers whether
// resubmitting could help.
package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/c360studio/planwright/metrics"
)

// maxResponseSize limits the model response body to prevent memory exhaustion.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`    // "system", "user", or "assistant"
	Content string `json:"content"` // Message content
}

// Request defines a completion request.
type Request struct {
	// Messages is the chat history to send to the model.
	Messages []Message

	// Temperature controls randomness. nil uses the configured default.
	Temperature *float64

	// TopP controls nucleus sampling. nil uses the configured default.
	TopP *float64

	// MaxTokens limits response length. 0 uses the configured default.
	MaxTokens int
}

// TokenUsage represents token consumption for a model call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response contains the completion result.
type Response struct {
	// Content is the generated text.
	Content string

	// Model is the actual model that was used.
	Model string

	// Usage contains token consumption metrics.
	Usage TokenUsage

	// FinishReason indicates why generation stopped.
	FinishReason string
}

// Completer is the model surface the generation pipeline depends on.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Config selects the provider, endpoint, and sampling defaults.
type Config struct {
	Provider    string        `json:"provider" yaml:"provider"`
	BaseURL     string        `json:"base_url" yaml:"base_url"`
	Model       string        `json:"model" yaml:"model"`
	Temperature float64       `json:"temperature" yaml:"temperature"`
	TopP        float64       `json:"top_p" yaml:"top_p"`
	MaxTokens   int           `json:"max_tokens" yaml:"max_tokens"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout"`
}

// DefaultConfig returns the stock model configuration: an OpenAI-compatible
// endpoint with sampling tuned for consistent structured output.
func DefaultConfig() Config {
	return Config{
		Provider:    "openai",
		BaseURL:     "https://api.siliconflow.cn/v1",
		Model:       "Qwen/Qwen2.5-72B-Instruct",
		Temperature: 0.7,
		TopP:        0.9,
		MaxTokens:   4000,
		Timeout:     120 * time.Second,
	}
}

// Client sends completion requests to one configured endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a client for the configured endpoint.
func NewClient(cfg Config, opts ...ClientOption) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete sends one completion request. There is no retry: a failed call
// surfaces immediately with its transient/fatal classification.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	if len(req.Messages) == 0 {
		return nil, NewFatalError(fmt.Errorf("at least one message is required"))
	}

	provider := GetProvider(c.cfg.Provider)
	if provider == nil {
		return nil, NewFatalError(fmt.Errorf("unknown provider: %s", c.cfg.Provider))
	}

	temperature := req.Temperature
	if temperature == nil && c.cfg.Temperature > 0 {
		t := c.cfg.Temperature
		temperature = &t
	}
	topP := req.TopP
	if topP == nil && c.cfg.TopP > 0 {
		p := c.cfg.TopP
		topP = &p
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}

	start := time.Now()
	resp, err := c.doRequest(ctx, provider, req.Messages, temperature, topP, maxTokens)

	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	metrics.ModelCalls.WithLabelValues(c.cfg.Provider, outcome).Inc()

	if err != nil {
		c.logger.Warn("Model call failed",
			"provider", c.cfg.Provider,
			"model", c.cfg.Model,
			"elapsed", time.Since(start).Round(time.Millisecond),
			"error", err)
		return nil, err
	}

	c.logger.Debug("Model call complete",
		"provider", c.cfg.Provider,
		"model", resp.Model,
		"tokens", resp.Usage.TotalTokens,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return resp, nil
}

// doRequest executes a single HTTP request to the model endpoint.
func (c *Client) doRequest(ctx context.Context, provider Provider, messages []Message, temperature, topP *float64, maxTokens int) (*Response, error) {
	url := provider.BuildURL(c.cfg.BaseURL)

	body, err := provider.BuildRequestBody(c.cfg.Model, messages, temperature, topP, maxTokens)
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("build request body: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("create HTTP request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	provider.SetHeaders(httpReq)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Network errors are transient
		return nil, NewTransientError(fmt.Errorf("HTTP request failed: %w", err))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("read response body: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(httpResp.StatusCode, respBody)
	}

	return provider.ParseResponse(respBody, c.cfg.Model)
}

// classifyHTTPError determines if an HTTP error is transient or fatal.
func classifyHTTPError(statusCode int, body []byte) error {
	bodyStr := string(body)
	if len(bodyStr) > 200 {
		bodyStr = bodyStr[:200] + "..."
	}

	err := fmt.Errorf("model API error (status %d): %s", statusCode, bodyStr)

	switch {
	case statusCode == http.StatusTooManyRequests:
		// Rate limiting is transient
		return NewTransientError(err)
	case statusCode >= 500:
		// Server errors are transient
		return NewTransientError(err)
	case statusCode == http.StatusUnauthorized,
		statusCode == http.StatusForbidden:
		// Auth errors are fatal
		return NewFatalError(err)
	case statusCode == http.StatusBadRequest:
		// Bad requests are fatal
		return NewFatalError(err)
	default:
		// Unknown errors default to fatal
		return NewFatalError(err)
	}
}
