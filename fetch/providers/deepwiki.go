package providers

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/c360studio/planwright/fetch"
	"github.com/c360studio/planwright/service"
	"github.com/c360studio/planwright/weburl"
)

// defaultDeepWikiBase is the public DeepWiki host.
const defaultDeepWikiBase = "https://deepwiki.com"

// DeepWiki serves the deep-technical-doc capability by reading the DeepWiki
// page generated for a repository. Links to github.com and deepwiki.com both
// map onto the same owner/repo page.
type DeepWiki struct {
	client    *Client
	converter *Converter
}

// NewDeepWiki creates the DeepWiki documentation provider.
func NewDeepWiki(client *Client, converter *Converter) *DeepWiki {
	return &DeepWiki{client: client, converter: converter}
}

// Capability identifies the routing capability this provider serves.
func (p *DeepWiki) Capability() service.Capability {
	return service.CapabilityDeepDoc
}

// Fetch resolves the link to a DeepWiki page and returns it as markdown.
// An explicitly configured endpoint is operator trusted; only the public
// default is re-validated before the request.
func (p *DeepWiki) Fetch(ctx context.Context, endpoint string, q fetch.Query) (string, error) {
	owner, repo, err := ownerRepoFromLink(q.Link)
	if err != nil {
		return "", fetch.NewFatalError(err)
	}

	base := strings.TrimSuffix(endpoint, "/")
	trusted := base != ""
	if base == "" {
		base = defaultDeepWikiBase
	}

	pageURL := fmt.Sprintf("%s/%s/%s", base, url.PathEscape(owner), url.PathEscape(repo))
	if !trusted {
		if err := weburl.ValidateURL(pageURL); err != nil {
			return "", fetch.NewFatalError(err)
		}
	}

	body, contentType, err := p.client.Get(ctx, pageURL)
	if err != nil {
		return "", err
	}
	if !isHTML(contentType, body) {
		return string(body), nil
	}

	parsed, err := url.Parse(pageURL)
	if err != nil {
		return "", fetch.NewFatalError(fmt.Errorf("parse page url: %w", err))
	}
	title, markdown, err := p.converter.Convert(body, parsed)
	if err != nil {
		return "", fmt.Errorf("convert page: %w", err)
	}
	if title != "" && !strings.HasPrefix(markdown, "# ") {
		markdown = "# " + title + "\n\n" + markdown
	}
	return markdown, nil
}
