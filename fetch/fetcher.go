package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/c360studio/planwright/metrics"
	"github.com/c360studio/planwright/service"
)

const (
	// DefaultAggregateTimeout bounds the whole fetch phase, independent of
	// per-call timeouts.
	DefaultAggregateTimeout = 45 * time.Second

	// DefaultMaxFragmentBytes caps one fragment's content.
	DefaultMaxFragmentBytes = 16 * 1024
)

// Fetcher calls selected services concurrently and reports every outcome to
// the health tracker, exactly once per service per attempt sequence.
type Fetcher struct {
	health           *service.Health
	logger           *slog.Logger
	aggregateTimeout time.Duration
	maxFragmentBytes int
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithLogger sets the fetcher's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// WithAggregateTimeout sets the outer bound on the whole fetch phase.
func WithAggregateTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.aggregateTimeout = d
		}
	}
}

// WithMaxFragmentBytes caps the content size kept per fragment.
func WithMaxFragmentBytes(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxFragmentBytes = n
		}
	}
}

// NewFetcher creates a fetcher that records outcomes on health.
func NewFetcher(health *service.Health, opts ...Option) *Fetcher {
	f := &Fetcher{
		health:           health,
		logger:           slog.Default(),
		aggregateTimeout: DefaultAggregateTimeout,
		maxFragmentBytes: DefaultMaxFragmentBytes,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchAll fans out one goroutine per service and collects fragments in
// routing order. The phase is bounded by the aggregate timeout; services
// still outstanding when it fires are cancelled and reported as failed
// fragments. A failure in one service never disturbs the others.
func (f *Fetcher) FetchAll(ctx context.Context, services []service.Descriptor, q Query) []Fragment {
	if len(services) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, f.aggregateTimeout)
	defer cancel()

	start := time.Now()
	results := make(chan Fragment, len(services))
	for _, d := range services {
		go func(d service.Descriptor) {
			results <- f.fetchOne(ctx, d, q)
		}(d)
	}

	collected := make(map[string]Fragment, len(services))
collect:
	for range services {
		select {
		case frag := <-results:
			collected[frag.ServiceID] = frag
		case <-ctx.Done():
			break collect
		}
	}

	// Assemble in routing order; services that never reported are treated
	// as failed. Their goroutines still record health on their own once
	// the cancelled call returns.
	fragments := make([]Fragment, 0, len(services))
	for _, d := range services {
		if frag, ok := collected[d.ID]; ok {
			fragments = append(fragments, frag)
			continue
		}
		fragments = append(fragments, Fragment{
			ServiceID: d.ID,
			Success:   false,
			LatencyMs: time.Since(start).Milliseconds(),
			Err:       "abandoned: aggregate fetch timeout",
		})
	}

	ok := 0
	for _, frag := range fragments {
		if frag.Success {
			ok++
		}
	}
	f.logger.Info("Knowledge fetch complete",
		"services", len(services),
		"succeeded", ok,
		"elapsed", time.Since(start).Round(time.Millisecond))

	return fragments
}

// fetchOne runs the attempt sequence for a single service: one call plus
// exactly one retry on a retryable failure. Health is updated once for the
// whole sequence.
func (f *Fetcher) fetchOne(ctx context.Context, d service.Descriptor, q Query) (frag Fragment) {
	start := time.Now()

	record := func(success bool, content, reason string) Fragment {
		latency := time.Since(start)
		f.health.RecordResult(d.ID, success, latency)

		outcome := "success"
		if !success {
			outcome = "failure"
		}
		metrics.FetchAttempts.WithLabelValues(d.ID, outcome).Inc()
		metrics.FetchDuration.WithLabelValues(d.ID).Observe(latency.Seconds())

		return Fragment{
			ServiceID: d.ID,
			Content:   content,
			Success:   success,
			LatencyMs: latency.Milliseconds(),
			Err:       reason,
		}
	}

	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("Knowledge provider panic",
				"service", d.ID, "panic", fmt.Sprintf("%v", r))
			frag = record(false, "", fmt.Sprintf("provider panic: %v", r))
		}
	}()

	prov := GetProvider(d.Capability)
	if prov == nil {
		return record(false, "", fmt.Sprintf("no provider for capability %q", d.Capability))
	}

	var content string
	var err error
	for attempt := 1; attempt <= 2; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, d.CallTimeout())
		content, err = prov.Fetch(callCtx, d.Endpoint, q)
		cancel()

		if err == nil && strings.TrimSpace(content) == "" {
			err = errors.New("empty content")
		}
		if err == nil {
			break
		}
		if IsFatal(err) || ctx.Err() != nil {
			break
		}
		if attempt == 1 {
			f.logger.Debug("Retrying knowledge service",
				"service", d.ID, "error", err)
		}
	}

	if err != nil {
		return record(false, "", err.Error())
	}
	return record(true, truncate(content, f.maxFragmentBytes), "")
}

// truncate cuts s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := s[:max]
	for len(cut) > 0 {
		r, size := utf8.DecodeLastRuneInString(cut)
		if r == utf8.RuneError && size == 1 {
			cut = cut[:len(cut)-1]
			continue
		}
		break
	}
	return cut
}
