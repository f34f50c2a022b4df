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

// defaultRawBase is the public raw content host for GitHub repositories.
const defaultRawBase = "https://raw.githubusercontent.com"

// GitHubReadme serves the code-repository capability by fetching the
// repository's readme from the raw content host. The readme is markdown
// already, so no conversion runs.
type GitHubReadme struct {
	client *Client
}

// NewGitHubReadme creates the repository readme provider.
func NewGitHubReadme(client *Client) *GitHubReadme {
	return &GitHubReadme{client: client}
}

// Capability identifies the routing capability this provider serves.
func (p *GitHubReadme) Capability() service.Capability {
	return service.CapabilityCodeRepo
}

// Fetch resolves the link to a readme URL and returns the file contents.
// An explicitly configured endpoint is operator trusted; only the public
// default is re-validated before the request.
func (p *GitHubReadme) Fetch(ctx context.Context, endpoint string, q fetch.Query) (string, error) {
	owner, repo, err := ownerRepoFromLink(q.Link)
	if err != nil {
		return "", fetch.NewFatalError(err)
	}

	base := strings.TrimSuffix(endpoint, "/")
	trusted := base != ""
	if base == "" {
		base = defaultRawBase
	}

	var lastErr error
	for _, name := range []string{"README.md", "readme.md"} {
		readmeURL := fmt.Sprintf("%s/%s/%s/HEAD/%s", base, url.PathEscape(owner), url.PathEscape(repo), name)
		if !trusted {
			if err := weburl.ValidateURL(readmeURL); err != nil {
				return "", fetch.NewFatalError(err)
			}
		}

		body, _, err := p.client.Get(ctx, readmeURL)
		if err == nil {
			return string(body), nil
		}
		lastErr = err
		if !fetch.IsFatal(err) {
			// Transient errors are for the caller's retry, not the
			// next filename.
			break
		}
	}
	return "", lastErr
}

// ownerRepoFromLink extracts the owner and repository segments from a
// repository page link.
func ownerRepoFromLink(link string) (string, string, error) {
	parsed, err := url.Parse(weburl.Normalize(link))
	if err != nil {
		return "", "", fmt.Errorf("parse link: %w", err)
	}

	parts := make([]string, 0, 3)
	for _, s := range strings.Split(strings.Trim(parsed.Path, "/"), "/") {
		if s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) < 2 {
		return "", "", fmt.Errorf("link %q has no owner/repository path", link)
	}

	owner := parts[0]
	repo := strings.TrimSuffix(parts[1], ".git")
	if owner == "" || repo == "" {
		return "", "", fmt.Errorf("link %q has no owner/repository path", link)
	}
	return owner, repo, nil
}
