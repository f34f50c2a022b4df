package providers

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/c360studio/planwright/fetch"
)

// stubTransport serves a canned response for any request. Link validation
// rejects loopback hosts, so the webpage provider cannot be pointed at an
// httptest server; the stub lets a public-looking URL resolve offline.
type stubTransport struct {
	contentType string
	body        string
	gotURL      string
}

func (s *stubTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	s.gotURL = req.URL.String()
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{s.contentType}},
		Body:       io.NopCloser(strings.NewReader(s.body)),
		Request:    req,
	}, nil
}

func webpageWith(st *stubTransport) *Webpage {
	return NewWebpage(NewClientWith(&http.Client{Transport: st}, "", 0), NewConverter())
}

func TestWebpageFetchConvertsHTML(t *testing.T) {
	st := &stubTransport{
		contentType: "text/html",
		body: `<html><head><title>Acme Widget</title></head><body>
<main><p>Widgets are assembled from a parts manifest and shipped in
batches once the paint line signs off.</p></main>
</body></html>`,
	}

	got, err := webpageWith(st).Fetch(context.Background(), "", fetch.Query{Link: "https://example.com/widget"})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if !strings.HasPrefix(got, "# Acme Widget") {
		t.Errorf("Fetch() missing title heading: %q", got)
	}
	if !strings.Contains(got, "parts manifest") {
		t.Errorf("Fetch() missing converted content: %q", got)
	}
	if strings.Contains(got, "<main>") {
		t.Errorf("Fetch() returned raw HTML: %q", got)
	}
}

func TestWebpageFetchNonHTMLPassthrough(t *testing.T) {
	st := &stubTransport{
		contentType: "text/markdown",
		body:        "## Notes\n\nAlready markdown, leave it alone.",
	}

	got, err := webpageWith(st).Fetch(context.Background(), "", fetch.Query{Link: "https://example.com/notes.md"})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if got != st.body {
		t.Errorf("Fetch() = %q, want passthrough", got)
	}
}

func TestWebpageFetchUpgradesHTTPLink(t *testing.T) {
	st := &stubTransport{contentType: "text/plain", body: "ok"}

	_, err := webpageWith(st).Fetch(context.Background(), "", fetch.Query{Link: "http://example.com/docs"})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if st.gotURL != "https://example.com/docs" {
		t.Errorf("requested URL = %q, want https upgrade", st.gotURL)
	}
}
