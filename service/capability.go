// Package service provides capability-based routing of reference links to
// knowledge services. Instead of hardcoding service names, the router matches
// a link against registered URL patterns and resolves an ordered candidate
// chain, with per-service health tracking deciding which candidates are
// currently worth calling.
package service

// Capability describes the kind of knowledge a service retrieves.
type Capability string

const (
	// CapabilityDeepDoc is for deep technical documentation about a
	// project or repository (architecture, internals).
	CapabilityDeepDoc Capability = "deep-technical-doc"

	// CapabilityCodeRepo is for source-repository artifacts such as a
	// project README.
	CapabilityCodeRepo Capability = "code-repository"

	// CapabilityGeneralWeb is the generic fallback that fetches and
	// converts arbitrary public web pages.
	CapabilityGeneralWeb Capability = "general-web"
)

// IsValid checks if a capability string is a known capability.
func (c Capability) IsValid() bool {
	switch c {
	case CapabilityDeepDoc, CapabilityCodeRepo, CapabilityGeneralWeb:
		return true
	}
	return false
}

// String returns the string representation of the capability.
func (c Capability) String() string {
	return string(c)
}

// Specificity ranks capabilities for routing order. Higher values are
// consulted first; the generic web fallback always ranks last.
func (c Capability) Specificity() int {
	switch c {
	case CapabilityCodeRepo:
		return 3
	case CapabilityDeepDoc:
		return 2
	case CapabilityGeneralWeb:
		return 1
	}
	return 0
}

// ParseCapability converts a string to a Capability, returning empty for invalid values.
func ParseCapability(s string) Capability {
	c := Capability(s)
	if c.IsValid() {
		return c
	}
	return ""
}
