// Package providers implements the knowledge service adapters behind each
// routing capability: direct web pages, DeepWiki documentation, and GitHub
// readme retrieval.
package providers

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/c360studio/planwright/fetch"
	"github.com/c360studio/planwright/weburl"
)

const (
	defaultUserAgent    = "planwright/1.0"
	defaultMaxBodyBytes = 2 * 1024 * 1024
	defaultTimeout      = 60 * time.Second
)

// Client fetches web content with security checks: resolved IPs are
// validated to block private address space, redirects are re-validated, and
// response bodies are size-capped.
type Client struct {
	client       *http.Client
	userAgent    string
	maxBodyBytes int64
}

// NewClient creates a hardened web client. The timeout is a backstop;
// callers bound individual requests with a context.
func NewClient(timeout time.Duration, userAgent string, maxBodyBytes int64) *Client {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	// Custom DialContext that validates resolved IPs to prevent DNS rebinding attacks
	safeDialContext := func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid address: %w", err)
		}

		ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("DNS lookup failed: %w", err)
		}

		for _, ipAddr := range ips {
			if weburl.IsPrivateIP(ipAddr.IP) {
				return nil, fmt.Errorf("connection to private IP %s is not allowed", ipAddr.IP)
			}
		}

		for _, ipAddr := range ips {
			connAddr := net.JoinHostPort(ipAddr.IP.String(), port)
			conn, err := dialer.DialContext(ctx, network, connAddr)
			if err == nil {
				return conn, nil
			}
		}

		return nil, fmt.Errorf("failed to connect to any resolved IP")
	}

	transport := &http.Transport{
		DialContext:           safeDialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}

	return &Client{
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fetch.NewFatalError(fmt.Errorf("too many redirects (max 5)"))
				}
				// Validate redirect target is not to private IP
				if err := weburl.ValidateURL(req.URL.String()); err != nil {
					return fetch.NewFatalError(fmt.Errorf("redirect blocked: %w", err))
				}
				return nil
			},
		},
		userAgent:    userAgent,
		maxBodyBytes: maxBodyBytes,
	}
}

// NewClientWith wraps an existing http.Client without the hardened
// transport. Used for trusted endpoints such as local mock services.
func NewClientWith(hc *http.Client, userAgent string, maxBodyBytes int64) *Client {
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	return &Client{client: hc, userAgent: userAgent, maxBodyBytes: maxBodyBytes}
}

// Get retrieves the URL and returns the body and content type. Client
// errors that a retry cannot fix are wrapped as fatal.
func (c *Client) Get(ctx context.Context, urlStr string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, "", fetch.NewFatalError(fmt.Errorf("create request: %w", err))
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
		if isFatalStatus(resp.StatusCode) {
			return nil, "", fetch.NewFatalError(err)
		}
		return nil, "", err
	}

	limitReader := io.LimitReader(resp.Body, c.maxBodyBytes+1)
	body, err := io.ReadAll(limitReader)
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}

	if int64(len(body)) > c.maxBodyBytes {
		return nil, "", fetch.NewFatalError(fmt.Errorf("content too large (exceeds %d bytes)", c.maxBodyBytes))
	}

	return body, resp.Header.Get("Content-Type"), nil
}

// isFatalStatus reports whether a status code is permanent for this URL.
// Rate limits and server errors stay retryable.
func isFatalStatus(code int) bool {
	switch code {
	case http.StatusBadRequest,
		http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusNotFound,
		http.StatusGone,
		http.StatusUnprocessableEntity:
		return true
	}
	return false
}
