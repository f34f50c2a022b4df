// Package main implements a mock knowledge server for end-to-end testing.
// It stands in for the external hosts the knowledge providers call: the
// raw content host serving repository readmes and the documentation site
// serving per-repository pages. Point the endpoints in the services table
// at this server and the code-repo and deep-doc capabilities resolve
// offline and deterministically.
//
// Usage:
//
//	mock-knowledge -port 9090 -delay 500ms -fail /flaky-org
//
// Routes:
//
//	GET /health                          liveness
//	GET /stats                           hit counts by path
//	GET /{owner}/{repo}/HEAD/README.md   readme, markdown
//	GET /{owner}/{repo}                  documentation page, HTML
//
// Pages are generated from the owner and repo names, so tests can assert
// the fetched content reached the assembled prompt. Paths matching a
// -fail prefix return 503, which is how degraded sessions are exercised;
// -delay holds every response, which is how fetch timeouts are.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

type server struct {
	delay time.Duration
	fail  []string

	mu   sync.Mutex
	hits map[string]int64
}

func main() {
	port := flag.Int("port", 9090, "port to listen on")
	delay := flag.Duration("delay", 0, "hold every response this long")
	fail := flag.String("fail", "", "comma separated path prefixes that return 503")
	flag.Parse()

	s := &server{delay: *delay, hits: make(map[string]int64)}
	for _, p := range strings.Split(*fail, ",") {
		if p = strings.TrimSpace(p); p != "" {
			s.fail = append(s.fail, p)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/", s.handlePage)

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("Mock knowledge server listening on %s (delay %s, failing %v)", addr, *delay, s.fail)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	hits := make(map[string]int64, len(s.hits))
	for path, n := range s.hits {
		hits[path] = n
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"hits_by_path": hits})
}

func (s *server) handlePage(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	s.mu.Lock()
	s.hits[path]++
	s.mu.Unlock()
	log.Printf("GET %s", path)

	for _, prefix := range s.fail {
		if strings.HasPrefix(path, prefix) {
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
			return
		}
	}

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-r.Context().Done():
			log.Printf("client gave up waiting for %s", path)
			return
		}
	}

	var parts []string
	for _, p := range strings.Split(strings.Trim(path, "/"), "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}

	switch {
	case len(parts) == 4 && parts[2] == "HEAD" && strings.EqualFold(parts[3], "README.md"):
		s.serveReadme(w, parts[0], parts[1])
	case len(parts) == 2:
		s.serveDocPage(w, parts[0], parts[1])
	default:
		http.NotFound(w, r)
	}
}

// serveReadme answers the raw content host route with a plausible
// repository readme.
func (s *server) serveReadme(w http.ResponseWriter, owner, repo string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, `# %s

Reference implementation maintained by %s.

## Install

`+"```"+`
go install example.com/%s/%s@latest
`+"```"+`

## Usage

Run the binary against your own data set. Configuration lives in a
single YAML file; every flag has a matching environment variable.

## License

MIT
`, repo, owner, owner, repo)
}

// serveDocPage answers the documentation site route with an HTML page,
// so the HTML-to-markdown conversion path runs too.
func (s *server) serveDocPage(w http.ResponseWriter, owner, repo string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>%s/%s architecture</title></head>
<body>
<nav><a href="/">home</a></nav>
<main>
<h1>%s/%s architecture</h1>
<p>The system splits into an ingest path and a query path that share a
storage layer.</p>
<h2>Components</h2>
<ul>
<li>API gateway terminating client requests</li>
<li>Worker pool draining the ingest queue</li>
<li>Storage layer with a cache in front</li>
</ul>
<pre><code>client -&gt; gateway -&gt; queue -&gt; worker -&gt; store</code></pre>
</main>
<script>console.log("not part of the content")</script>
</body>
</html>
`, owner, repo, owner, repo)
}
