package fetch

import (
	"context"
	"sync"

	"github.com/c360studio/planwright/service"
)

// Provider retrieves knowledge for one service capability. Implementations
// self-register in init and must be safe for concurrent use.
type Provider interface {
	// Capability returns the capability tag this provider serves.
	Capability() service.Capability

	// Fetch retrieves content for the query. endpoint is the service's
	// configured base URL, empty when the provider derives the target
	// from the query itself. Returned content should be markdown or
	// plain text. Wrap unrecoverable failures with NewFatalError so the
	// fetcher skips the retry.
	Fetch(ctx context.Context, endpoint string, q Query) (string, error)
}

// providerRegistry holds registered providers keyed by capability.
var (
	providerRegistry = make(map[service.Capability]Provider)
	providerMu       sync.RWMutex
)

// RegisterProvider adds a provider to the registry. The last registration
// for a capability wins.
func RegisterProvider(p Provider) {
	providerMu.Lock()
	defer providerMu.Unlock()
	providerRegistry[p.Capability()] = p
}

// GetProvider retrieves the provider for a capability, nil if none is
// registered.
func GetProvider(c service.Capability) Provider {
	providerMu.RLock()
	defer providerMu.RUnlock()
	return providerRegistry[c]
}

// ListProviders returns the capabilities with a registered provider.
func ListProviders() []service.Capability {
	providerMu.RLock()
	defer providerMu.RUnlock()

	caps := make([]service.Capability, 0, len(providerRegistry))
	for c := range providerRegistry {
		caps = append(caps, c)
	}
	return caps
}
