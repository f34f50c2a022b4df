package providers

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/c360studio/planwright/fetch"
	"github.com/c360studio/planwright/service"
	"github.com/c360studio/planwright/weburl"
)

// Webpage fetches the reference link itself and converts the page to
// markdown. It backs the general-web capability, the fallback for links no
// richer service understands.
type Webpage struct {
	client    *Client
	converter *Converter
}

// NewWebpage creates the general web provider.
func NewWebpage(client *Client, converter *Converter) *Webpage {
	return &Webpage{client: client, converter: converter}
}

// Capability identifies the routing capability this provider serves.
func (p *Webpage) Capability() service.Capability {
	return service.CapabilityGeneralWeb
}

// Fetch retrieves the link and returns its content as markdown. The link
// is user supplied, so it is always validated before the request.
func (p *Webpage) Fetch(ctx context.Context, _ string, q fetch.Query) (string, error) {
	link := weburl.Normalize(q.Link)
	if err := weburl.ValidateURL(link); err != nil {
		return "", fetch.NewFatalError(err)
	}

	body, contentType, err := p.client.Get(ctx, link)
	if err != nil {
		return "", err
	}
	if !isHTML(contentType, body) {
		return string(body), nil
	}

	pageURL, err := url.Parse(link)
	if err != nil {
		return "", fetch.NewFatalError(fmt.Errorf("parse link: %w", err))
	}
	title, markdown, err := p.converter.Convert(body, pageURL)
	if err != nil {
		return "", fmt.Errorf("convert page: %w", err)
	}
	if title != "" && !strings.HasPrefix(markdown, "# ") {
		markdown = "# " + title + "\n\n" + markdown
	}
	return markdown, nil
}

// isHTML reports whether the response looks like an HTML document.
func isHTML(contentType string, body []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "html") {
		return true
	}
	head := bytes.ToLower(body[:min(len(body), 512)])
	return bytes.Contains(head, []byte("<html")) || bytes.Contains(head, []byte("<!doctype html"))
}
