package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultTimeout is the per-call budget applied when a descriptor does not
// set its own.
const DefaultTimeout = 30 * time.Second

// Descriptor defines a knowledge service known to the registry. Descriptors
// are read-only during a session; the registry replaces them wholesale when
// configuration changes.
type Descriptor struct {
	// ID uniquely identifies the service (used in health records,
	// fragments, and metrics labels).
	ID string `json:"id" yaml:"id"`

	// Capability tags the kind of knowledge this service retrieves.
	Capability Capability `json:"capability" yaml:"capability"`

	// Endpoint is the base URL the service's provider talks to, when the
	// provider needs one (the general web provider fetches the link itself).
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`

	// URLPatterns are doublestar globs matched against the link's
	// "host/path" form. A match makes this service a direct candidate.
	URLPatterns []string `json:"url_patterns,omitempty" yaml:"url_patterns,omitempty"`

	// KeywordPatterns are globs that only apply when one of IdeaKeywords
	// also appears in the idea text. This routes repository links to the
	// deep-doc service only when the idea asks about internals.
	KeywordPatterns []string `json:"keyword_patterns,omitempty" yaml:"keyword_patterns,omitempty"`

	// IdeaKeywords activate KeywordPatterns when found in the idea text.
	IdeaKeywords []string `json:"idea_keywords,omitempty" yaml:"idea_keywords,omitempty"`

	// Timeout bounds a single fetch call to this service.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Enabled gates the service in and out of routing without removing it.
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// CallTimeout returns the per-call budget for this service.
func (d Descriptor) CallTimeout() time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return DefaultTimeout
}

// MatchesURL reports whether the link's host/path form matches one of the
// descriptor's URL patterns.
func (d Descriptor) MatchesURL(hostPath string) bool {
	return matchAny(d.URLPatterns, hostPath)
}

// MatchesKeywords reports whether the link matches a keyword pattern and the
// idea text contains one of the descriptor's keywords. Keyword matching is
// case-insensitive substring search.
func (d Descriptor) MatchesKeywords(hostPath, idea string) bool {
	if len(d.KeywordPatterns) == 0 || len(d.IdeaKeywords) == 0 {
		return false
	}
	if !matchAny(d.KeywordPatterns, hostPath) {
		return false
	}
	low := strings.ToLower(idea)
	for _, kw := range d.IdeaKeywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" && strings.Contains(low, kw) {
			return true
		}
	}
	return false
}

// Validate checks that the descriptor is well-formed.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("service id is required")
	}
	if !d.Capability.IsValid() {
		return fmt.Errorf("service %s: unknown capability %q", d.ID, string(d.Capability))
	}
	for _, p := range append(append([]string{}, d.URLPatterns...), d.KeywordPatterns...) {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("service %s: invalid pattern %q", d.ID, p)
		}
	}
	if d.Timeout < 0 {
		return fmt.Errorf("service %s: negative timeout", d.ID)
	}
	return nil
}

func matchAny(patterns []string, hostPath string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, hostPath); err == nil && ok {
			return true
		}
		// "host/**" should also cover the bare host.
		if trimmed, found := strings.CutSuffix(p, "/**"); found {
			if ok, err := doublestar.Match(trimmed, hostPath); err == nil && ok {
				return true
			}
		}
	}
	return false
}
