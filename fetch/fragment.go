// Package fetch issues concurrent, timeout-bounded calls to the knowledge
// services selected by the router and collects their results as fragments.
// A failing service never aborts its siblings and never fails the request;
// the pipeline continues with whatever was retrieved.
package fetch

import "time"

// Query carries what a knowledge service needs to retrieve content.
type Query struct {
	// Link is the reference URL supplied with the request.
	Link string `json:"link"`

	// Idea is the idea text, available to providers that search rather
	// than dereference the link.
	Idea string `json:"idea"`
}

// Fragment is one service's retrieved content for a request, tagged with
// the outcome of its attempt sequence.
type Fragment struct {
	// ServiceID identifies the originating service.
	ServiceID string `json:"service_id"`

	// Content is the retrieved text (markdown), empty on failure.
	Content string `json:"content,omitempty"`

	// Success marks whether the attempt sequence produced usable content.
	Success bool `json:"success"`

	// LatencyMs is the wall time of the whole attempt sequence in
	// milliseconds.
	LatencyMs int64 `json:"latency_ms"`

	// Err carries the failure reason when Success is false.
	Err string `json:"error,omitempty"`
}

// Latency returns the attempt-sequence duration.
func (f Fragment) Latency() time.Duration {
	return time.Duration(f.LatencyMs) * time.Millisecond
}
