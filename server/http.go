// Package server exposes the plan generation pipeline over HTTP and,
// optionally, NATS JetStream.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/c360studio/planwright/input"
	"github.com/c360studio/planwright/metrics"
	"github.com/c360studio/planwright/pipeline"
	"github.com/c360studio/planwright/service"
)

// maxRequestBodySize limits POST body sizes to prevent DoS.
const maxRequestBodySize = 1 << 20 // 1 MB

// sse heartbeat interval, keeps proxies from closing the connection
// while the model call is in flight.
const heartbeatInterval = 15 * time.Second

// Config holds the HTTP listener settings.
type Config struct {
	Addr              string
	ReadHeaderTimeout time.Duration
}

// Server hosts the plan generation API.
type Server struct {
	coordinator *pipeline.Coordinator
	registry    *service.Registry
	health      *service.Health
	logger      *slog.Logger
	startTime   time.Time
	httpServer  *http.Server
}

// New creates the API server. The registry and health monitor back the
// services endpoint; a nil logger falls back to slog.Default.
func New(cfg Config, coordinator *pipeline.Coordinator, registry *service.Registry, health *service.Health, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}

	s := &Server{
		coordinator: coordinator,
		registry:    registry,
		health:      health,
		logger:      logger,
		startTime:   time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/plans", s.handleCreatePlan)
	mux.HandleFunc("GET /api/services", s.handleServices)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	return s
}

// Handler returns the route table, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start runs the listener until Shutdown is called. http.ErrServerClosed
// is swallowed so a graceful stop reads as a clean return.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests
// within the given context's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ErrorResponse is the standard JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// handleCreatePlan handles POST /api/plans. The body carries the idea
// and optional link. With "Accept: text/event-stream" the response is an
// SSE stream of progress events ending in a result event; otherwise the
// request blocks and the final result is returned as JSON.
func (s *Server) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req input.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "Failed to parse request body: "+err.Error())
		return
	}

	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		s.streamPlan(w, r, req)
		return
	}

	result := s.coordinator.Run(r.Context(), req)

	var verr *input.ValidationError
	if errors.As(result.Err(), &verr) {
		writeJSONError(w, http.StatusBadRequest, "validation", verr.Error())
		return
	}

	// Failed sessions are still results: the status and reason fields
	// are the contract, not the HTTP status code.
	writeJSON(w, http.StatusOK, result)
}

// SSE event types emitted by streamPlan.
const (
	sseEventProgress  = "progress"
	sseEventResult    = "result"
	sseEventHeartbeat = "heartbeat"
)

// streamPlan runs a session and relays its progress events as SSE,
// finishing with a result event. A client disconnect cancels the
// session through the request context.
func (s *Server) streamPlan(w http.ResponseWriter, r *http.Request, req input.Request) {
	ctx := r.Context()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming_unsupported", "streaming not supported")
		return
	}
	flusher.Flush()

	session := s.coordinator.Start(ctx, req)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-heartbeat.C:
			if err := sendSSEEvent(w, flusher, sseEventHeartbeat, map[string]any{}); err != nil {
				s.logger.Debug("Client disconnected during heartbeat", "session_id", session.ID, "error", err)
				return
			}

		case ev, ok := <-session.Events():
			if !ok {
				// Channel closed: the session is terminal and the
				// result is immediately available.
				if err := sendSSEEvent(w, flusher, sseEventResult, session.Result()); err != nil {
					s.logger.Debug("Client disconnected during result", "session_id", session.ID, "error", err)
				}
				return
			}
			if err := sendSSEEvent(w, flusher, sseEventProgress, ev); err != nil {
				s.logger.Debug("Client disconnected during event", "session_id", session.ID, "error", err)
				return
			}
		}
	}
}

// ServiceStatus pairs a registered service with its health record.
type ServiceStatus struct {
	service.Descriptor
	Health service.Record `json:"health"`
}

// ServicesResponse is the response for GET /api/services.
type ServicesResponse struct {
	Services []ServiceStatus `json:"services"`
	Total    int             `json:"total"`
}

// handleServices returns the registry with per-service health and
// rolling stats. The snapshot is fresh on every call.
func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	descs := s.registry.List()
	records := s.health.Snapshot()

	statuses := make([]ServiceStatus, 0, len(descs))
	for _, d := range descs {
		statuses = append(statuses, ServiceStatus{
			Descriptor: d,
			Health:     records[d.ID],
		})
	}

	writeJSON(w, http.StatusOK, ServicesResponse{
		Services: statuses,
		Total:    len(statuses),
	})
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Uptime: time.Since(s.startTime).Round(time.Second).String(),
	})
}

// sendSSEEvent writes one SSE event and flushes it. Returns an error
// when the write fails, which usually means the client went away.
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) error {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal sse data: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return fmt.Errorf("write event type: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", dataBytes); err != nil {
		return fmt.Errorf("write event data: %w", err)
	}
	flusher.Flush()
	return nil
}

// writeJSON marshals v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Response is already partially written; nothing to recover.
		_ = err
	}
}

// writeJSONError writes the standard error envelope.
func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}
