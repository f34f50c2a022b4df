// Package client provides thin API clients for the e2e runner.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/c360studio/planwright/pipeline"
	"github.com/c360studio/planwright/server"
)

// PlanClient drives the plan generation API of a running server.
type PlanClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewPlanClient creates a client for the given server base URL. The
// client itself carries no timeout; callers bound requests with their
// context.
func NewPlanClient(baseURL string) *PlanClient {
	return &PlanClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

// planRequest mirrors the create-plan request body.
type planRequest struct {
	Idea string `json:"idea"`
	Link string `json:"link,omitempty"`
}

// Health reports whether the server answers its health endpoint.
func (c *PlanClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d from health endpoint", resp.StatusCode)
	}
	return nil
}

// CreatePlan posts one generation request and returns the terminal
// result. A non-200 answer is returned as an error carrying the error
// envelope.
func (c *PlanClient) CreatePlan(ctx context.Context, idea, link string) (*pipeline.Result, error) {
	body, err := json.Marshal(planRequest{Idea: idea, Link: link})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/plans", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var envelope server.ErrorResponse
		if json.Unmarshal(data, &envelope) == nil && envelope.Error != "" {
			return nil, fmt.Errorf("HTTP %d: %s: %s", resp.StatusCode, envelope.Error, envelope.Message)
		}
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(data))
	}

	var result pipeline.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	return &result, nil
}

// CreatePlanError posts a request expected to be rejected and returns
// the HTTP status with the error envelope.
func (c *PlanClient) CreatePlanError(ctx context.Context, idea, link string) (int, *server.ErrorResponse, error) {
	body, err := json.Marshal(planRequest{Idea: idea, Link: link})
	if err != nil {
		return 0, nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/plans", bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}

	var envelope server.ErrorResponse
	if err := json.Unmarshal(data, &envelope); err != nil {
		return resp.StatusCode, nil, fmt.Errorf("unmarshal error envelope: %w", err)
	}
	return resp.StatusCode, &envelope, nil
}

// StreamPlan posts a generation request over SSE and collects the
// progress events until the result event arrives.
func (c *PlanClient) StreamPlan(ctx context.Context, idea, link string) ([]pipeline.ProgressEvent, *pipeline.Result, error) {
	body, err := json.Marshal(planRequest{Idea: idea, Link: link})
	if err != nil {
		return nil, nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/plans", bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("HTTP %d from stream endpoint", resp.StatusCode)
	}

	var (
		progress  []pipeline.ProgressEvent
		eventType string
	)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			eventType = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data := strings.TrimPrefix(line, "data: ")
			switch eventType {
			case "progress":
				var ev pipeline.ProgressEvent
				if err := json.Unmarshal([]byte(data), &ev); err != nil {
					return nil, nil, fmt.Errorf("unmarshal progress event: %w", err)
				}
				progress = append(progress, ev)
			case "result":
				var r pipeline.Result
				if err := json.Unmarshal([]byte(data), &r); err != nil {
					return nil, nil, fmt.Errorf("unmarshal result event: %w", err)
				}
				return progress, &r, nil
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("read stream: %w", err)
	}
	return nil, nil, fmt.Errorf("stream ended without a result event")
}

// Services fetches the live services table with health attached.
func (c *PlanClient) Services(ctx context.Context) (*server.ServicesResponse, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/services", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d from services endpoint", resp.StatusCode)
	}

	var services server.ServicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&services); err != nil {
		return nil, fmt.Errorf("decode services response: %w", err)
	}
	return &services, nil
}

// MockLLMClient reads the bookkeeping endpoints of the mock model
// server, used to verify what the pipeline actually sent.
type MockLLMClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewMockLLMClient creates a client for the mock model server.
func NewMockLLMClient(baseURL string) *MockLLMClient {
	return &MockLLMClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// MockStats contains call statistics from the mock model server.
type MockStats struct {
	TotalCalls   int64            `json:"total_calls"`
	CallsByModel map[string]int64 `json:"calls_by_model"`
}

// Stats retrieves call statistics.
func (c *MockLLMClient) Stats(ctx context.Context) (*MockStats, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/stats", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	var stats MockStats
	if err := json.Unmarshal(body, &stats); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &stats, nil
}

// capturedMessage is one chat message of a captured request.
type capturedMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// capturedRequest is one request the mock model server recorded.
type capturedRequest struct {
	Model    string            `json:"model"`
	Messages []capturedMessage `json:"messages"`
}

// LastPrompt returns the concatenated message content of the most
// recent request captured for the model, empty if none was.
func (c *MockLLMClient) LastPrompt(ctx context.Context, model string) (string, error) {
	url := c.baseURL + "/requests"
	if model != "" {
		url += "?model=" + model
	}
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d from requests endpoint", resp.StatusCode)
	}

	var payload struct {
		RequestsByModel map[string][]capturedRequest `json:"requests_by_model"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode requests response: %w", err)
	}

	var last *capturedRequest
	for _, reqs := range payload.RequestsByModel {
		if len(reqs) > 0 {
			last = &reqs[len(reqs)-1]
		}
	}
	if last == nil {
		return "", nil
	}

	var b strings.Builder
	for _, m := range last.Messages {
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String(), nil
}
