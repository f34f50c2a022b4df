package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/c360studio/planwright/fetch"
	"github.com/c360studio/planwright/llm"
	"github.com/c360studio/planwright/llm/testutil"
	"github.com/c360studio/planwright/pipeline"
	"github.com/c360studio/planwright/service"
)

const planDoc = `# NoteSwift Development Plan

## Product Overview

NoteSwift turns meeting recordings into shareable summaries within minutes.

- **Upload and transcribe**: drop an audio file, get a transcript
- **Action item extraction**: summaries end with owned action items

## Technical Architecture

Go API in front of Postgres, with a transcription worker pulling from a queue.

` + "```mermaid" + `
graph TD
    A[Browser] --> B[API]
    B --> C[(Postgres)]
    B --> D[Worker]
` + "```" + `

## Development Schedule

Eight weeks in three milestones: ingestion, summarization, sharing.

` + "```mermaid" + `
gantt
    dateFormat YYYY-MM-DD
    section Ingestion
    Upload path :a1, 2026-02-02, 14d
` + "```" + `

## Deployment & Operations

Single region on Fly.io, managed Postgres, object storage for audio files.

## Growth Strategy

Integrate with calendar tools and let every shared summary carry a signup link.

## AI Coding Prompts

### 1. Upload and Transcribe

Implement the upload endpoint and the transcription worker.

### 2. Action Item Extraction

Extract owners and due dates from the summary text.
`

const testIdea = "Build a meeting notes summarizer for remote teams."

type fakeProvider struct{}

func (p *fakeProvider) Capability() service.Capability { return service.CapabilityGeneralWeb }
func (p *fakeProvider) Fetch(ctx context.Context, endpoint string, q fetch.Query) (string, error) {
	return "Reference material about " + q.Idea, nil
}

// newTestServer wires a server around a mock model and one general-web
// service. The health monitor is returned so tests can seed records.
func newTestServer(t *testing.T, completer llm.Completer) (*httptest.Server, *service.Health) {
	t.Helper()

	fetch.RegisterProvider(&fakeProvider{})
	logger := slog.New(slog.DiscardHandler)

	registry := service.NewRegistry()
	if err := registry.Set(service.Descriptor{
		ID:          "web",
		Capability:  service.CapabilityGeneralWeb,
		URLPatterns: []string{"**"},
		Timeout:     time.Second,
		Enabled:     true,
	}); err != nil {
		t.Fatalf("register service: %v", err)
	}
	health := service.NewHealth(service.HealthConfig{})
	router := service.NewRouter(registry, health, service.WithRouterLogger(logger))
	fetcher := fetch.NewFetcher(health,
		fetch.WithLogger(logger),
		fetch.WithAggregateTimeout(2*time.Second))

	coordinator := pipeline.NewCoordinator(router, fetcher, completer, pipeline.DefaultConfig(),
		pipeline.WithLogger(logger))

	srv := New(Config{}, coordinator, registry, health, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, health
}

func goodCompleter() *testutil.MockCompleter {
	return &testutil.MockCompleter{
		Responses: []*llm.Response{{Content: planDoc, Model: "test-model"}},
	}
}

func postPlan(t *testing.T, ts *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/plans", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/plans: %v", err)
	}
	return resp
}

func TestCreatePlan_JSON(t *testing.T) {
	ts, _ := newTestServer(t, goodCompleter())

	resp := postPlan(t, ts, fmt.Sprintf(`{"idea": %q}`, testIdea))
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result pipeline.Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Status != pipeline.StatusSuccess {
		t.Errorf("expected success, got %s (%s)", result.Status, result.Error)
	}
	if result.SessionID == "" {
		t.Error("expected a session id")
	}
	if len(result.Plan.Sections) == 0 {
		t.Error("expected plan sections")
	}
	if len(result.Prompts.Prompts) != 2 {
		t.Errorf("expected 2 prompts, got %d", len(result.Prompts.Prompts))
	}
}

func TestCreatePlan_ValidationError(t *testing.T) {
	ts, _ := newTestServer(t, goodCompleter())

	resp := postPlan(t, ts, `{"idea": "too short"}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}

	var envelope ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if envelope.Error != "validation" {
		t.Errorf("expected validation error code, got %q", envelope.Error)
	}
	if envelope.Message == "" {
		t.Error("expected a message in the envelope")
	}
}

func TestCreatePlan_BadBody(t *testing.T) {
	ts, _ := newTestServer(t, goodCompleter())

	resp := postPlan(t, ts, `{`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}

	var envelope ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if envelope.Error != "invalid_request" {
		t.Errorf("expected invalid_request, got %q", envelope.Error)
	}
}

func TestCreatePlan_MethodNotAllowed(t *testing.T) {
	ts, _ := newTestServer(t, goodCompleter())

	resp, err := http.Get(ts.URL + "/api/plans")
	if err != nil {
		t.Fatalf("GET /api/plans: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", resp.StatusCode)
	}
}

// sseEvent is one parsed server-sent event.
type sseEvent struct {
	Type string
	Data string
}

// readSSE parses an SSE body into events. The stream ends when the
// handler returns, so reading to EOF terminates.
func readSSE(t *testing.T, resp *http.Response) []sseEvent {
	t.Helper()
	var events []sseEvent
	var current sseEvent
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current.Type = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			current.Data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if current.Type != "" {
				events = append(events, current)
			}
			current = sseEvent{}
		}
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("read sse stream: %v", err)
	}
	return events
}

func TestCreatePlan_SSE(t *testing.T) {
	ts, _ := newTestServer(t, goodCompleter())

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/plans",
		strings.NewReader(fmt.Sprintf(`{"idea": %q}`, testIdea)))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /api/plans (sse): %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected event-stream content type, got %q", ct)
	}

	events := readSSE(t, resp)
	if len(events) < 2 {
		t.Fatalf("expected progress and result events, got %d", len(events))
	}

	first := events[0]
	if first.Type != sseEventProgress {
		t.Errorf("expected first event to be progress, got %s", first.Type)
	}
	var firstEv pipeline.ProgressEvent
	if err := json.Unmarshal([]byte(first.Data), &firstEv); err != nil {
		t.Fatalf("decode first progress event: %v", err)
	}
	if firstEv.Stage != pipeline.StageValidating {
		t.Errorf("expected validating first, got %s", firstEv.Stage)
	}

	last := events[len(events)-1]
	if last.Type != sseEventResult {
		t.Fatalf("expected final event to be result, got %s", last.Type)
	}
	var result pipeline.Result
	if err := json.Unmarshal([]byte(last.Data), &result); err != nil {
		t.Fatalf("decode result event: %v", err)
	}
	if result.Status != pipeline.StatusSuccess {
		t.Errorf("expected success, got %s (%s)", result.Status, result.Error)
	}

	// Every event before the result is a progress event with a
	// nondecreasing percent.
	lastPercent := -1
	for _, ev := range events[:len(events)-1] {
		if ev.Type != sseEventProgress {
			t.Fatalf("unexpected event type %s before result", ev.Type)
		}
		var pe pipeline.ProgressEvent
		if err := json.Unmarshal([]byte(ev.Data), &pe); err != nil {
			t.Fatalf("decode progress event: %v", err)
		}
		if pe.Percent < lastPercent {
			t.Errorf("percent went backwards: %d after %d", pe.Percent, lastPercent)
		}
		lastPercent = pe.Percent
	}
}

func TestServices_Endpoint(t *testing.T) {
	ts, health := newTestServer(t, goodCompleter())

	health.RecordResult("web", true, 40*time.Millisecond)
	health.RecordResult("web", false, 250*time.Millisecond)

	resp, err := http.Get(ts.URL + "/api/services")
	if err != nil {
		t.Fatalf("GET /api/services: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var services ServicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&services); err != nil {
		t.Fatalf("decode services: %v", err)
	}
	if services.Total != 1 || len(services.Services) != 1 {
		t.Fatalf("expected one service, got %+v", services)
	}

	svc := services.Services[0]
	if svc.ID != "web" {
		t.Errorf("expected service web, got %s", svc.ID)
	}
	if svc.Health.Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", svc.Health.Attempts)
	}
	if svc.Health.Successes != 1 {
		t.Errorf("expected 1 success, got %d", svc.Health.Successes)
	}
	if svc.Health.ConsecutiveFailures != 1 {
		t.Errorf("expected 1 consecutive failure, got %d", svc.Health.ConsecutiveFailures)
	}
}

func TestHealth_Endpoint(t *testing.T) {
	ts, _ := newTestServer(t, goodCompleter())

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var hr HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&hr); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if hr.Status != "ok" {
		t.Errorf("expected ok, got %s", hr.Status)
	}
}

func TestMetrics_Endpoint(t *testing.T) {
	ts, _ := newTestServer(t, goodCompleter())

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}
