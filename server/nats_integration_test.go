//go:build integration

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/c360studio/semstreams/natsclient"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/planwright/fetch"
	"github.com/c360studio/planwright/pipeline"
	"github.com/c360studio/planwright/service"
)

// newIntegrationCoordinator mirrors the HTTP test wiring without the
// HTTP server on top.
func newIntegrationCoordinator(t *testing.T) *pipeline.Coordinator {
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

	return pipeline.NewCoordinator(router, fetcher, goodCompleter(), pipeline.DefaultConfig(),
		pipeline.WithLogger(logger))
}

func TestNATSTransport_EndToEnd(t *testing.T) {
	tc := natsclient.NewTestClient(t, natsclient.WithJetStream())
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	tr := NewNATSTransport(tc.Client, newIntegrationCoordinator(t), NATSConfig{},
		slog.New(slog.DiscardHandler))
	if err := tr.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() {
		if err := tr.Stop(10 * time.Second); err != nil {
			t.Errorf("Stop() error = %v", err)
		}
	}()

	js, err := tc.Client.JetStream()
	if err != nil {
		t.Fatalf("jetstream: %v", err)
	}
	stream, err := js.Stream(ctx, "PLANS")
	if err != nil {
		t.Fatalf("get stream: %v", err)
	}

	// Subscribe to results and progress before publishing the request.
	results, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          "e2e-results",
		FilterSubject: resultSubjectPrefix + ">",
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		t.Fatalf("create results consumer: %v", err)
	}
	progress, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          "e2e-progress",
		FilterSubject: progressSubjectPrefix + ">",
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		t.Fatalf("create progress consumer: %v", err)
	}

	reqData := fmt.Sprintf(`{"request_id": "req-1", "idea": %q}`, testIdea)
	if err := tc.Client.PublishToStream(ctx, "plan.request", []byte(reqData)); err != nil {
		t.Fatalf("publish request: %v", err)
	}

	var result ResultMessage
	gotResult := false
	deadline := time.Now().Add(45 * time.Second)
	for time.Now().Before(deadline) && !gotResult {
		msgs, err := results.Fetch(1, jetstream.FetchMaxWait(2*time.Second))
		if err != nil {
			continue
		}
		for msg := range msgs.Messages() {
			if err := json.Unmarshal(msg.Data(), &result); err != nil {
				t.Fatalf("decode result message: %v", err)
			}
			_ = msg.Ack()
			gotResult = true
		}
	}
	if !gotResult {
		t.Fatal("no result message received")
	}

	if result.RequestID != "req-1" {
		t.Errorf("expected request id req-1, got %q", result.RequestID)
	}
	if result.Status != pipeline.StatusSuccess {
		t.Errorf("expected success, got %s (%s)", result.Status, result.Error)
	}
	if result.SessionID == "" {
		t.Error("expected a session id on the result")
	}
	if len(result.Prompts.Prompts) != 2 {
		t.Errorf("expected 2 prompts, got %d", len(result.Prompts.Prompts))
	}

	// The full stage history landed on the progress subject.
	var events []ProgressMessage
	for time.Now().Before(deadline) {
		msgs, err := progress.Fetch(10, jetstream.FetchMaxWait(2*time.Second))
		if err != nil {
			break
		}
		fetched := 0
		for msg := range msgs.Messages() {
			var pm ProgressMessage
			if err := json.Unmarshal(msg.Data(), &pm); err != nil {
				t.Fatalf("decode progress message: %v", err)
			}
			_ = msg.Ack()
			events = append(events, pm)
			fetched++
		}
		if fetched == 0 {
			break
		}
	}
	if len(events) < 2 {
		t.Fatalf("expected several progress events, got %d", len(events))
	}
	for _, ev := range events {
		if ev.RequestID != "req-1" {
			t.Errorf("progress event missing request id: %+v", ev)
		}
		if ev.SessionID != result.SessionID {
			t.Errorf("progress event for wrong session: %s != %s", ev.SessionID, result.SessionID)
		}
	}
	terminal := events[len(events)-1]
	if terminal.Stage != pipeline.StageDone || terminal.Percent != 100 {
		t.Errorf("expected terminal done event, got %+v", terminal)
	}
}

func TestNATSTransport_BadRequestNaked(t *testing.T) {
	tc := natsclient.NewTestClient(t, natsclient.WithJetStream())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tr := NewNATSTransport(tc.Client, newIntegrationCoordinator(t), NATSConfig{},
		slog.New(slog.DiscardHandler))
	if err := tr.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() { _ = tr.Stop(10 * time.Second) }()

	if err := tc.Client.PublishToStream(ctx, "plan.request", []byte("not json")); err != nil {
		t.Fatalf("publish request: %v", err)
	}

	// A malformed request is redelivered up to MaxDeliver and never
	// produces a result.
	js, err := tc.Client.JetStream()
	if err != nil {
		t.Fatalf("jetstream: %v", err)
	}
	stream, err := js.Stream(ctx, "PLANS")
	if err != nil {
		t.Fatalf("get stream: %v", err)
	}
	results, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          "e2e-bad-results",
		FilterSubject: resultSubjectPrefix + ">",
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		t.Fatalf("create results consumer: %v", err)
	}

	msgs, err := results.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
	if err == nil {
		for range msgs.Messages() {
			t.Fatal("malformed request must not produce a result")
		}
	}
}
