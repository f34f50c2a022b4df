package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	ssconfig "github.com/c360studio/semstreams/config"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/planwright/input"
	"github.com/c360studio/planwright/pipeline"
)

// Subjects for the messaging fabric. Progress and result subjects carry
// the session id as their last token; the request subject is consumed by
// a durable consumer. All of them must live under the stream's "plan.>"
// namespace.
const (
	progressSubjectPrefix = "plan.progress."
	resultSubjectPrefix   = "plan.result."
)

// consumerAckWait must exceed the pipeline's overall deadline so a
// session never outlives its ack window and gets redelivered mid-run.
const consumerAckWait = 240 * time.Second

// NATSConfig holds the JetStream transport settings.
type NATSConfig struct {
	Stream         string
	RequestSubject string
	ConsumerName   string
}

func (c NATSConfig) withDefaults() NATSConfig {
	if c.Stream == "" {
		c.Stream = "PLANS"
	}
	if c.RequestSubject == "" {
		c.RequestSubject = "plan.request"
	}
	if c.ConsumerName == "" {
		c.ConsumerName = "planwright-requests"
	}
	return c
}

// PlanRequest is the message consumed from the request subject.
// RequestID is the caller's correlation id; it is echoed on every
// progress and result message so subscribers on the wildcard subjects
// can pick out their session.
type PlanRequest struct {
	RequestID string `json:"request_id,omitempty"`
	Idea      string `json:"idea"`
	Link      string `json:"link,omitempty"`
}

// ProgressMessage is published to plan.progress.<session>.
type ProgressMessage struct {
	RequestID string `json:"request_id,omitempty"`
	pipeline.ProgressEvent
}

// ResultMessage is published to plan.result.<session>.
type ResultMessage struct {
	RequestID string `json:"request_id,omitempty"`
	pipeline.Result
}

// NATSTransport consumes plan requests from JetStream and publishes
// progress and results back to the stream. It is optional; the HTTP API
// works without it.
type NATSTransport struct {
	client      *natsclient.Client
	coordinator *pipeline.Coordinator
	cfg         NATSConfig
	logger      *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewNATSTransport creates the transport. Start must be called before it
// consumes anything.
func NewNATSTransport(client *natsclient.Client, coordinator *pipeline.Coordinator, cfg NATSConfig, logger *slog.Logger) *NATSTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSTransport{
		client:      client,
		coordinator: coordinator,
		cfg:         cfg.withDefaults(),
		logger:      logger,
	}
}

// Start provisions the stream and durable consumer, then consumes
// requests until the context is cancelled or Stop is called.
func (t *NATSTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return fmt.Errorf("transport already running")
	}
	if t.client == nil {
		t.mu.Unlock()
		return fmt.Errorf("NATS client required")
	}
	t.running = true
	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.mu.Unlock()

	if err := t.ensureStream(runCtx); err != nil {
		t.rollbackStart(cancel)
		return fmt.Errorf("ensure stream %s: %w", t.cfg.Stream, err)
	}

	js, err := t.client.JetStream()
	if err != nil {
		t.rollbackStart(cancel)
		return fmt.Errorf("get jetstream: %w", err)
	}

	stream, err := js.Stream(runCtx, t.cfg.Stream)
	if err != nil {
		t.rollbackStart(cancel)
		return fmt.Errorf("get stream %s: %w", t.cfg.Stream, err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(runCtx, jetstream.ConsumerConfig{
		Durable:       t.cfg.ConsumerName,
		FilterSubject: t.cfg.RequestSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       consumerAckWait,
		MaxDeliver:    3,
	})
	if err != nil {
		t.rollbackStart(cancel)
		return fmt.Errorf("create consumer: %w", err)
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.consumeLoop(runCtx, consumer)
	}()

	t.logger.Info("NATS transport started",
		"stream", t.cfg.Stream,
		"consumer", t.cfg.ConsumerName,
		"subject", t.cfg.RequestSubject)

	return nil
}

func (t *NATSTransport) rollbackStart(cancel context.CancelFunc) {
	t.mu.Lock()
	t.running = false
	t.cancel = nil
	t.mu.Unlock()
	cancel()
}

// ensureStream creates the stream if it does not exist yet. Results are
// kept on file storage so they survive a broker restart.
func (t *NATSTransport) ensureStream(ctx context.Context) error {
	manager := ssconfig.NewStreamsManager(t.client, t.logger)
	return manager.EnsureStreams(ctx, &ssconfig.Config{
		Streams: ssconfig.StreamConfigs{
			t.cfg.Stream: ssconfig.StreamConfig{
				Subjects: []string{"plan.>"},
				MaxAge:   "24h",
				Storage:  "file",
				Replicas: 1,
			},
		},
	})
}

// consumeLoop pulls requests one at a time. Each message runs a full
// session, so the fetch batch stays at one.
func (t *NATSTransport) consumeLoop(ctx context.Context, consumer jetstream.Consumer) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := consumer.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.logger.Debug("Fetch timeout or error", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			t.handleMessage(ctx, msg)
		}

		if msgs.Error() != nil && !errors.Is(msgs.Error(), context.DeadlineExceeded) {
			t.logger.Warn("Message fetch error", "error", msgs.Error())
		}
	}
}

// handleMessage runs one plan request end to end. Terminal outcomes,
// failed ones included, are published and acked: a failed generation is
// an answer, not a redeliverable condition. Only a shutdown that cuts a
// session short naks the message so a restart can redo it.
func (t *NATSTransport) handleMessage(ctx context.Context, msg jetstream.Msg) {
	if ctx.Err() != nil {
		if err := msg.Nak(); err != nil {
			t.logger.Warn("Failed to NAK message during shutdown", "error", err)
		}
		return
	}

	var req PlanRequest
	if err := json.Unmarshal(msg.Data(), &req); err != nil {
		t.logger.Warn("Failed to parse plan request", "error", err)
		if err := msg.Nak(); err != nil {
			t.logger.Warn("Failed to NAK message", "error", err)
		}
		return
	}

	t.logger.Info("Processing plan request",
		"request_id", req.RequestID,
		"has_link", req.Link != "")

	session := t.coordinator.Start(ctx, input.Request{Idea: req.Idea, Link: req.Link})

	for ev := range session.Events() {
		if ctx.Err() != nil {
			continue // Drain; the broker is going away with us.
		}
		t.publishProgress(ctx, req.RequestID, ev)
	}

	result := session.Result()

	if ctx.Err() != nil && result.Status == pipeline.StatusFailed {
		// Shutdown interrupted the session; let a restart redo it.
		if err := msg.Nak(); err != nil {
			t.logger.Warn("Failed to NAK interrupted session", "error", err)
		}
		return
	}

	if err := t.publishResult(ctx, req.RequestID, result); err != nil {
		t.logger.Error("Failed to publish result",
			"session_id", result.SessionID,
			"request_id", req.RequestID,
			"error", err)
		if err := msg.Nak(); err != nil {
			t.logger.Warn("Failed to NAK message", "error", err)
		}
		return
	}

	if err := msg.Ack(); err != nil {
		t.logger.Warn("Failed to ACK message", "session_id", result.SessionID, "error", err)
	}

	t.logger.Info("Plan request finished",
		"session_id", result.SessionID,
		"request_id", req.RequestID,
		"status", result.Status)
}

// publishProgress is best effort; a dropped progress event is not worth
// failing the session over.
func (t *NATSTransport) publishProgress(ctx context.Context, requestID string, ev pipeline.ProgressEvent) {
	data, err := json.Marshal(ProgressMessage{RequestID: requestID, ProgressEvent: ev})
	if err != nil {
		t.logger.Warn("Failed to marshal progress event", "session_id", ev.SessionID, "error", err)
		return
	}
	subject := progressSubjectPrefix + ev.SessionID
	if err := t.client.PublishToStream(ctx, subject, data); err != nil {
		t.logger.Warn("Failed to publish progress event",
			"subject", subject,
			"session_id", ev.SessionID,
			"error", err)
	}
}

func (t *NATSTransport) publishResult(ctx context.Context, requestID string, result pipeline.Result) error {
	data, err := json.Marshal(ResultMessage{RequestID: requestID, Result: result})
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	return t.client.PublishToStream(ctx, resultSubjectPrefix+result.SessionID, data)
}

// Stop cancels the consume loop and waits for an in-flight session to
// wind down within the given timeout.
func (t *NATSTransport) Stop(timeout time.Duration) error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	if t.cancel != nil {
		t.cancel()
	}
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = fmt.Errorf("stop timed out after %v", timeout)
	}

	t.mu.Lock()
	t.running = false
	t.mu.Unlock()

	t.logger.Info("NATS transport stopped")
	return err
}
