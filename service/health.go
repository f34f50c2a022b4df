package service

import (
	"sync"
	"time"
)

// HealthConfig configures degradation tracking.
type HealthConfig struct {
	// FailureThreshold is the number of consecutive failures before a
	// service is marked degraded.
	FailureThreshold int

	// Cooldown is how long a degraded service stays excluded from primary
	// routing before it is considered healthy again without a success.
	Cooldown time.Duration
}

// DefaultHealthConfig returns sensible defaults for degradation tracking.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		FailureThreshold: 3,
		Cooldown:         30 * time.Second,
	}
}

// Record is a point-in-time view of one service's health, safe to marshal
// for the services API.
type Record struct {
	Degraded            bool      `json:"degraded"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastSuccess         time.Time `json:"last_success,omitempty"`
	LastFailure         time.Time `json:"last_failure,omitempty"`
	DegradedSince       time.Time `json:"degraded_since,omitempty"`

	// Rolling totals since process start.
	Attempts     int64 `json:"attempts"`
	Successes    int64 `json:"successes"`
	AvgLatencyMs int64 `json:"avg_latency_ms"`
}

// serviceRecord is the mutable health state for one service. Each record
// carries its own lock so concurrent fetch completions for different
// services never serialize on each other.
type serviceRecord struct {
	mu sync.Mutex

	consecutiveFailures int
	degraded            bool
	degradedSince       time.Time
	lastSuccess         time.Time
	lastFailure         time.Time

	attempts     int64
	successes    int64
	totalLatency time.Duration
}

// Health tracks per-service success/failure history shared by all sessions
// in the process. The outer map is guarded only for record lookup and
// insertion; all counter updates take the record's own lock.
type Health struct {
	cfg HealthConfig

	mu      sync.RWMutex
	records map[string]*serviceRecord

	// onTransition, when set, is called outside the record lock whenever a
	// service crosses into or out of degradation.
	onTransition func(serviceID string, degraded bool)
}

// HealthOption configures a Health tracker.
type HealthOption func(*Health)

// WithTransitionHook registers a callback invoked on every degradation
// transition (true = degraded, false = recovered).
func WithTransitionHook(fn func(serviceID string, degraded bool)) HealthOption {
	return func(h *Health) {
		h.onTransition = fn
	}
}

// NewHealth creates a health tracker. Zero-value fields of cfg fall back to
// defaults.
func NewHealth(cfg HealthConfig, opts ...HealthOption) *Health {
	def := DefaultHealthConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	h := &Health{
		cfg:     cfg,
		records: make(map[string]*serviceRecord),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// getOrCreate returns the record for a service, creating it if needed.
func (h *Health) getOrCreate(serviceID string) *serviceRecord {
	h.mu.RLock()
	rec, ok := h.records[serviceID]
	h.mu.RUnlock()
	if ok {
		return rec
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if rec, ok := h.records[serviceID]; ok {
		return rec
	}
	rec = &serviceRecord{}
	h.records[serviceID] = rec
	return rec
}

// RecordResult records the outcome of one attempt sequence against a
// service. A success clears degradation immediately; the Nth consecutive
// failure marks the service degraded.
func (h *Health) RecordResult(serviceID string, success bool, latency time.Duration) {
	rec := h.getOrCreate(serviceID)

	rec.mu.Lock()
	now := time.Now()
	rec.attempts++
	if latency > 0 {
		rec.totalLatency += latency
	}

	var transitioned bool
	var nowDegraded bool
	if success {
		rec.successes++
		rec.lastSuccess = now
		rec.consecutiveFailures = 0
		if rec.degraded {
			rec.degraded = false
			rec.degradedSince = time.Time{}
			transitioned = true
		}
	} else {
		rec.lastFailure = now
		rec.consecutiveFailures++
		if !rec.degraded && rec.consecutiveFailures >= h.cfg.FailureThreshold {
			rec.degraded = true
			rec.degradedSince = now
			transitioned = true
			nowDegraded = true
		}
	}
	rec.mu.Unlock()

	if transitioned && h.onTransition != nil {
		h.onTransition(serviceID, nowDegraded)
	}
}

// IsDegraded reports whether a service is currently excluded from primary
// routing. A degraded service whose cool-down has elapsed is restored to
// healthy with a fresh failure budget.
func (h *Health) IsDegraded(serviceID string) bool {
	h.mu.RLock()
	rec, ok := h.records[serviceID]
	h.mu.RUnlock()
	if !ok {
		return false
	}

	rec.mu.Lock()
	if !rec.degraded {
		rec.mu.Unlock()
		return false
	}
	if time.Since(rec.degradedSince) >= h.cfg.Cooldown {
		rec.degraded = false
		rec.degradedSince = time.Time{}
		rec.consecutiveFailures = 0
		rec.mu.Unlock()
		if h.onTransition != nil {
			h.onTransition(serviceID, false)
		}
		return false
	}
	rec.mu.Unlock()
	return true
}

// Get returns a copy of one service's record. The second return is false
// when the service has never been recorded.
func (h *Health) Get(serviceID string) (Record, bool) {
	h.mu.RLock()
	rec, ok := h.records[serviceID]
	h.mu.RUnlock()
	if !ok {
		return Record{}, false
	}
	return rec.view(), true
}

// Snapshot returns a copy of every known record keyed by service ID.
func (h *Health) Snapshot() map[string]Record {
	h.mu.RLock()
	ids := make([]string, 0, len(h.records))
	recs := make([]*serviceRecord, 0, len(h.records))
	for id, rec := range h.records {
		ids = append(ids, id)
		recs = append(recs, rec)
	}
	h.mu.RUnlock()

	out := make(map[string]Record, len(ids))
	for i, rec := range recs {
		out[ids[i]] = rec.view()
	}
	return out
}

// Reset clears the record for a service.
func (h *Health) Reset(serviceID string) {
	h.mu.Lock()
	delete(h.records, serviceID)
	h.mu.Unlock()
}

func (r *serviceRecord) view() Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	v := Record{
		Degraded:            r.degraded,
		ConsecutiveFailures: r.consecutiveFailures,
		LastSuccess:         r.lastSuccess,
		LastFailure:         r.lastFailure,
		DegradedSince:       r.degradedSince,
		Attempts:            r.attempts,
		Successes:           r.successes,
	}
	if r.attempts > 0 {
		v.AvgLatencyMs = (r.totalLatency / time.Duration(r.attempts)).Milliseconds()
	}
	return v
}
