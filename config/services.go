package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/planwright/service"
)

// ServiceConfig is the YAML shape of one knowledge-service entry. It
// mirrors service.Descriptor with config-friendly field types.
type ServiceConfig struct {
	// ID uniquely identifies the service
	ID string `yaml:"id"`
	// Capability tags the kind of knowledge it retrieves
	Capability string `yaml:"capability"`
	// Endpoint is the base URL, when the provider needs one
	Endpoint string `yaml:"endpoint,omitempty"`
	// URLPatterns are globs matched against the link's host/path form
	URLPatterns []string `yaml:"url_patterns,omitempty"`
	// KeywordPatterns are globs that apply only when an idea keyword hits
	KeywordPatterns []string `yaml:"keyword_patterns,omitempty"`
	// IdeaKeywords activate KeywordPatterns when found in the idea text
	IdeaKeywords []string `yaml:"idea_keywords,omitempty"`
	// Timeout bounds a single fetch call
	Timeout Duration `yaml:"timeout,omitempty"`
	// Enabled gates the service; omitted means enabled
	Enabled *bool `yaml:"enabled,omitempty"`
}

// Descriptor converts to the service package's own descriptor type.
func (s ServiceConfig) Descriptor() service.Descriptor {
	enabled := true
	if s.Enabled != nil {
		enabled = *s.Enabled
	}
	return service.Descriptor{
		ID:              s.ID,
		Capability:      service.Capability(s.Capability),
		Endpoint:        s.Endpoint,
		URLPatterns:     s.URLPatterns,
		KeywordPatterns: s.KeywordPatterns,
		IdeaKeywords:    s.IdeaKeywords,
		Timeout:         s.Timeout.Duration(),
		Enabled:         enabled,
	}
}

// Descriptors converts the configured services table wholesale.
func Descriptors(services []ServiceConfig) []service.Descriptor {
	out := make([]service.Descriptor, 0, len(services))
	for _, s := range services {
		out = append(out, s.Descriptor())
	}
	return out
}

// DefaultServices returns the shipped knowledge-service table: the
// deepwiki documentation service, the repository README service, and the
// general web fetcher as fallback.
func DefaultServices() []ServiceConfig {
	return []ServiceConfig{
		{
			ID:              "deepwiki",
			Capability:      string(service.CapabilityDeepDoc),
			Endpoint:        "https://deepwiki.com",
			URLPatterns:     []string{"deepwiki.org/**", "deepwiki.com/**"},
			KeywordPatterns: []string{"github.com/**"},
			IdeaKeywords:    []string{"architecture", "internals", "how it works"},
			Timeout:         Duration(30 * time.Second),
		},
		{
			ID:          "github-readme",
			Capability:  string(service.CapabilityCodeRepo),
			Endpoint:    "https://raw.githubusercontent.com",
			URLPatterns: []string{"github.com/**"},
			Timeout:     Duration(30 * time.Second),
		},
		{
			ID:          "web-fetch",
			Capability:  string(service.CapabilityGeneralWeb),
			URLPatterns: []string{"**"},
			Timeout:     Duration(30 * time.Second),
		},
	}
}

// servicesDoc is the standalone services file shape.
type servicesDoc struct {
	Services []ServiceConfig `yaml:"services"`
}

// LoadServicesFile reads a standalone services table. Environment
// variables are expanded the same way as in the main config file. Every
// entry must validate; a bad file is rejected wholesale so a running
// registry is never replaced with a broken table.
func LoadServicesFile(path string) ([]service.Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read services file: %w", err)
	}

	var doc servicesDoc
	expanded := expandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &doc); err != nil {
		return nil, fmt.Errorf("failed to parse services file: %w", err)
	}

	descs := Descriptors(doc.Services)
	for i, d := range descs {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("services[%d]: %w", i, err)
		}
	}
	return descs, nil
}
