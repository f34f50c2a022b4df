package providers

import "github.com/c360studio/planwright/fetch"

func init() {
	RegisterAll(NewClient(defaultTimeout, defaultUserAgent, defaultMaxBodyBytes), NewConverter())
}

// RegisterAll installs the standard providers backed by the given client and
// converter. Registration is last-wins, so callers can swap in a differently
// configured client, such as one allowed to reach local mock services.
func RegisterAll(client *Client, converter *Converter) {
	fetch.RegisterProvider(NewWebpage(client, converter))
	fetch.RegisterProvider(NewDeepWiki(client, converter))
	fetch.RegisterProvider(NewGitHubReadme(client))
}
