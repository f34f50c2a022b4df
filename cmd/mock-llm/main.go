// Package main implements a mock model server for end-to-end testing.
// It serves OpenAI-compatible /v1/chat/completions responses from markdown
// fixture files, routing by the "model" field of the request. Plan
// generation against this server is fast, deterministic, and offline.
//
// Usage:
//
//	mock-llm -fixtures ./fixtures -port 11434 -delay 2s
//
// Fixture files are named by model: "planner.md" answers requests for
// model "planner", with the file content as the assistant message. An
// empty fixture yields an empty completion and an unknown model gets a
// 404, which is how the empty-output and model-error paths of the
// pipeline are exercised. -delay holds every completion long enough to
// trip the generation timeout.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// --- OpenAI-compatible types ---

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// --- Server ---

// capturedRequest stores the key fields of an incoming request so tests
// can verify what the assembled prompt contained.
type capturedRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	Timestamp int64         `json:"timestamp"`
}

type server struct {
	fixtures map[string]string // model name → plan document
	delay    time.Duration
	calls    atomic.Int64

	mu       sync.Mutex
	byModel  map[string]int64
	requests map[string][]capturedRequest
}

func newServer(fixtures map[string]string, delay time.Duration) *server {
	return &server{
		fixtures: fixtures,
		delay:    delay,
		byModel:  make(map[string]int64),
		requests: make(map[string][]capturedRequest),
	}
}

func main() {
	fixtureDir := flag.String("fixtures", "", "directory containing plan document fixtures")
	port := flag.Int("port", 11434, "port to listen on")
	delay := flag.Duration("delay", 0, "hold every completion this long")
	flag.Parse()

	// Allow env var override
	if envDir := os.Getenv("MOCK_LLM_FIXTURES"); envDir != "" && *fixtureDir == "" {
		*fixtureDir = envDir
	}
	if *fixtureDir == "" {
		*fixtureDir = "/fixtures"
	}

	fixtures, err := loadFixtures(*fixtureDir)
	if err != nil {
		log.Fatalf("Failed to load fixtures from %s: %v", *fixtureDir, err)
	}
	log.Printf("Loaded %d model(s) from %s", len(fixtures), *fixtureDir)
	for model, doc := range fixtures {
		log.Printf("  model: %s (%d bytes)", model, len(doc))
	}

	s := newServer(fixtures, *delay)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("/v1/models", s.handleModels)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/requests", s.handleRequests)

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("Mock model server listening on %s (delay %s)", addr, *delay)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	callNum := s.calls.Add(1)
	log.Printf("[call %d] model=%s messages=%d", callNum, req.Model, len(req.Messages))

	// Resolve fixture: try the exact model name, then the last path
	// segment ("mock/planner" finds "planner.md").
	content, ok := s.fixtures[req.Model]
	if !ok {
		if idx := strings.LastIndex(req.Model, "/"); idx >= 0 {
			content, ok = s.fixtures[req.Model[idx+1:]]
		}
	}
	if !ok {
		log.Printf("[call %d] WARNING: no fixture for model=%q, returning error", callNum, req.Model)
		http.Error(w, fmt.Sprintf("no fixture for model %q", req.Model), http.StatusNotFound)
		return
	}

	s.record(req.Model, req)

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-r.Context().Done():
			log.Printf("[call %d] client gave up during delay", callNum)
			return
		}
	}

	// Wrap in OpenAI response envelope
	resp := chatResponse{
		ID:      fmt.Sprintf("mock-%d", time.Now().UnixNano()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []chatChoice{
			{
				Index: 0,
				Message: chatMessage{
					Role:    "assistant",
					Content: content,
				},
				FinishReason: "stop",
			},
		},
		Usage: chatUsage{
			PromptTokens:     promptLen(req.Messages) / 4, // rough estimate
			CompletionTokens: len(content) / 4,
			TotalTokens:      (promptLen(req.Messages) + len(content)) / 4,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
	log.Printf("[call %d] responded with %d bytes for model=%s", callNum, len(content), req.Model)
}

// record bumps the per-model counter and keeps the request for /requests.
func (s *server) record(model string, req chatRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byModel[model]++
	s.requests[model] = append(s.requests[model], capturedRequest{
		Model:     model,
		Messages:  req.Messages,
		Timestamp: time.Now().UnixMilli(),
	})
}

func promptLen(messages []chatMessage) int {
	n := 0
	for _, m := range messages {
		n += len(m.Content)
	}
	return n
}

// handleModels returns the list of available mock models.
func (s *server) handleModels(w http.ResponseWriter, _ *http.Request) {
	type modelEntry struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		OwnedBy string `json:"owned_by"`
	}
	var models []modelEntry
	for name := range s.fixtures {
		models = append(models, modelEntry{
			ID:      name,
			Object:  "model",
			OwnedBy: "mock-llm",
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"object": "list",
		"data":   models,
	})
}

// handleStats returns call counts for test assertions.
func (s *server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	callsByModel := make(map[string]int64, len(s.byModel))
	for model, n := range s.byModel {
		callsByModel[model] = n
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"total_calls":    s.calls.Load(),
		"calls_by_model": callsByModel,
	})
}

// handleRequests returns captured request bodies for test assertions,
// optionally filtered by ?model=.
func (s *server) handleRequests(w http.ResponseWriter, r *http.Request) {
	modelFilter := r.URL.Query().Get("model")

	s.mu.Lock()
	result := make(map[string][]capturedRequest)
	for model, reqs := range s.requests {
		if modelFilter != "" && model != modelFilter {
			continue
		}
		result[model] = reqs
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"requests_by_model": result,
	})
}

// loadFixtures reads markdown files from dir and returns model→document.
// The model name is the file name without the .md suffix. An empty file
// is kept on purpose, it produces an empty completion.
func loadFixtures(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	fixtures := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", entry.Name(), err)
		}
		model := strings.TrimSuffix(entry.Name(), ".md")
		fixtures[model] = string(data)
	}

	if len(fixtures) == 0 {
		return nil, fmt.Errorf("no .md fixture files found in %s", dir)
	}
	return fixtures, nil
}
