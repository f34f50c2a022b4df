package service

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/c360studio/planwright/weburl"
)

// Router maps a reference link (and optionally the idea text) to an ordered
// chain of candidate services. Ordering:
//
//  1. services whose URL patterns match the link, most specific
//     capability first
//  2. services pulled in by idea keywords
//  3. the generic web fallback
//
// Degraded services are skipped unless nothing healthy remains, in which
// case the full chain is returned: a knowledge-less generation is worse
// than trying a shaky service.
type Router struct {
	registry *Registry
	health   *Health
	logger   *slog.Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithRouterLogger sets the logger used for routing decisions.
func WithRouterLogger(logger *slog.Logger) RouterOption {
	return func(rt *Router) {
		rt.logger = logger
	}
}

// NewRouter creates a router over a registry and health tracker.
func NewRouter(registry *Registry, health *Health, opts ...RouterOption) *Router {
	rt := &Router{
		registry: registry,
		health:   health,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// Route returns the ordered candidate chain for a link. A request without a
// link gets an empty chain and the pipeline proceeds idea-only.
func (rt *Router) Route(link, idea string) []Descriptor {
	if strings.TrimSpace(link) == "" {
		return nil
	}
	hostPath := weburl.HostPath(link)
	if hostPath == "" {
		return nil
	}

	var direct, keyword, generic []Descriptor
	for _, d := range rt.registry.Enabled() {
		if d.Capability == CapabilityGeneralWeb {
			generic = append(generic, d)
			continue
		}
		switch {
		case d.MatchesURL(hostPath):
			direct = append(direct, d)
		case d.MatchesKeywords(hostPath, idea):
			keyword = append(keyword, d)
		}
	}

	sort.SliceStable(direct, func(i, j int) bool {
		return direct[i].Capability.Specificity() > direct[j].Capability.Specificity()
	})

	candidates := make([]Descriptor, 0, len(direct)+len(keyword)+len(generic))
	candidates = append(candidates, direct...)
	candidates = append(candidates, keyword...)
	candidates = append(candidates, generic...)
	candidates = dedupByID(candidates)

	if len(candidates) == 0 {
		return nil
	}

	healthy := candidates[:0:0]
	var skipped []string
	for _, d := range candidates {
		if rt.health != nil && rt.health.IsDegraded(d.ID) {
			skipped = append(skipped, d.ID)
			continue
		}
		healthy = append(healthy, d)
	}

	if len(healthy) == 0 {
		// Fail open: every candidate is degraded, attempt them anyway.
		rt.logger.Warn("All candidate services degraded, attempting full chain",
			"link_host", weburl.ExtractDomain(link),
			"candidates", len(candidates))
		return candidates
	}

	if len(skipped) > 0 {
		rt.logger.Debug("Skipped degraded services",
			"skipped", strings.Join(skipped, ","),
			"selected", len(healthy))
	}
	return healthy
}

func dedupByID(descs []Descriptor) []Descriptor {
	seen := make(map[string]bool, len(descs))
	out := descs[:0:0]
	for _, d := range descs {
		if seen[d.ID] {
			continue
		}
		seen[d.ID] = true
		out = append(out, d)
	}
	return out
}
