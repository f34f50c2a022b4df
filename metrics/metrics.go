// Package metrics exposes prometheus collectors for the generation pipeline.
// Collectors register on the default registry at package load; the server
// serves them through Handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// FetchAttempts counts knowledge fetch attempt sequences by service
	// and outcome (success, failure).
	FetchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "planwright",
		Subsystem: "fetch",
		Name:      "attempts_total",
		Help:      "Knowledge fetch attempt sequences by service and outcome.",
	}, []string{"service", "outcome"})

	// FetchDuration observes the wall time of a whole attempt sequence
	// (first try plus retry) per service.
	FetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "planwright",
		Subsystem: "fetch",
		Name:      "duration_seconds",
		Help:      "Knowledge fetch attempt-sequence duration.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"service"})

	// ServiceDegraded tracks the degraded flag per service (1 degraded,
	// 0 healthy).
	ServiceDegraded = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "planwright",
		Subsystem: "service",
		Name:      "degraded",
		Help:      "Whether a knowledge service is currently degraded.",
	}, []string{"service"})

	// Sessions counts completed generation sessions by terminal status.
	Sessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "planwright",
		Subsystem: "pipeline",
		Name:      "sessions_total",
		Help:      "Completed generation sessions by terminal status.",
	}, []string{"status"})

	// StageDuration observes time spent per pipeline stage.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "planwright",
		Subsystem: "pipeline",
		Name:      "stage_duration_seconds",
		Help:      "Time spent in each pipeline stage.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 180},
	}, []string{"stage"})

	// ModelCalls counts language model calls by provider and outcome.
	ModelCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "planwright",
		Subsystem: "llm",
		Name:      "calls_total",
		Help:      "Language model calls by provider and outcome.",
	}, []string{"provider", "outcome"})

	// QualityScore observes the score distribution of returned plans.
	QualityScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "planwright",
		Subsystem: "quality",
		Name:      "score",
		Help:      "Quality score distribution of returned plans.",
		Buckets:   prometheus.LinearBuckets(0, 10, 11),
	})
)

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DegradationHook returns a health transition hook that keeps the degraded
// gauge current.
func DegradationHook() func(serviceID string, degraded bool) {
	return func(serviceID string, degraded bool) {
		v := 0.0
		if degraded {
			v = 1
		}
		ServiceDegraded.WithLabelValues(serviceID).Set(v)
	}
}
