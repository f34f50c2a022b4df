package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/c360studio/planwright/fetch"
)

// testClient wraps an httptest server's client so requests reach the
// loopback listener without the hardened transport.
func testClient(srv *httptest.Server) *Client {
	return NewClientWith(srv.Client(), "test-agent", 1024)
}

func TestClientGet(t *testing.T) {
	var gotUA, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		w.Header().Set("Content-Type", "text/markdown")
		w.Write([]byte("# Hello"))
	}))
	defer srv.Close()

	body, contentType, err := testClient(srv).Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(body) != "# Hello" {
		t.Errorf("Get() body = %q", body)
	}
	if contentType != "text/markdown" {
		t.Errorf("Get() content type = %q", contentType)
	}
	if gotUA != "test-agent" {
		t.Errorf("User-Agent = %q, want %q", gotUA, "test-agent")
	}
	if !strings.Contains(gotAccept, "text/html") {
		t.Errorf("Accept = %q, want html preference", gotAccept)
	}
}

func TestClientGetStatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantFatal bool
	}{
		{"not found", http.StatusNotFound, true},
		{"forbidden", http.StatusForbidden, true},
		{"unauthorized", http.StatusUnauthorized, true},
		{"rate limited", http.StatusTooManyRequests, false},
		{"server error", http.StatusInternalServerError, false},
		{"bad gateway", http.StatusBadGateway, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, _, err := testClient(srv).Get(context.Background(), srv.URL)
			if err == nil {
				t.Fatal("Get() expected error")
			}
			if got := fetch.IsFatal(err); got != tt.wantFatal {
				t.Errorf("IsFatal(%v) = %v, want %v", err, got, tt.wantFatal)
			}
		})
	}
}

func TestClientGetBodyCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 2048)))
	}))
	defer srv.Close()

	_, _, err := testClient(srv).Get(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("Get() expected size error")
	}
	if !strings.Contains(err.Error(), "content too large") {
		t.Errorf("Get() error = %v, want size cap", err)
	}
	if !fetch.IsFatal(err) {
		t.Error("oversized content should not be retried")
	}
}

func TestClientGetContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := testClient(srv).Get(ctx, srv.URL)
	if err == nil {
		t.Fatal("Get() expected context error")
	}
}
