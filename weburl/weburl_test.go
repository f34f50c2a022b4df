package weburl

import (
	"net"
	"testing"
)

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{
			name:    "valid https URL",
			url:     "https://go.dev/doc/effective_go",
			wantErr: false,
		},
		{
			name:    "http URL rejected",
			url:     "http://example.com",
			wantErr: true,
		},
		{
			name:    "localhost rejected",
			url:     "https://localhost:8080",
			wantErr: true,
		},
		{
			name:    "127.0.0.1 rejected",
			url:     "https://127.0.0.1/path",
			wantErr: true,
		},
		{
			name:    ".local domain rejected",
			url:     "https://myserver.local/api",
			wantErr: true,
		},
		{
			name:    ".internal domain rejected",
			url:     "https://app.internal/api",
			wantErr: true,
		},
		{
			name:    "private IP 192.168.x.x rejected",
			url:     "https://192.168.1.1/path",
			wantErr: true,
		},
		{
			name:    "private IP 10.x.x.x rejected",
			url:     "https://10.0.0.1/path",
			wantErr: true,
		},
		{
			name:    "private IP 172.16.x.x rejected",
			url:     "https://172.16.0.1/path",
			wantErr: true,
		},
		{
			name:    "invalid URL",
			url:     "not-a-url",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		ip       string
		expected bool
	}{
		// IPv4 private ranges
		{"192.168.1.1", true},
		{"10.0.0.1", true},
		{"172.16.0.1", true},
		{"172.31.255.255", true},
		{"127.0.0.1", true},
		{"169.254.1.1", true}, // IPv4 link-local

		// IPv4 public
		{"8.8.8.8", false},
		{"1.1.1.1", false},

		// CGNAT
		{"100.64.0.1", true},
		{"100.127.255.255", true},

		// IPv6
		{"::1", true},                // IPv6 loopback
		{"::ffff:192.168.1.1", true}, // IPv6-mapped private IPv4
		{"::ffff:127.0.0.1", true},   // IPv6-mapped loopback
		{"::ffff:8.8.8.8", false},    // IPv6-mapped public IPv4
		{"fe80::1", true},            // IPv6 link-local
		{"fc00::1", true},            // IPv6 unique local
	}

	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			ip := net.ParseIP(tt.ip)
			if ip == nil {
				t.Fatalf("failed to parse IP: %s", tt.ip)
			}
			got := IsPrivateIP(ip)
			if got != tt.expected {
				t.Errorf("IsPrivateIP(%q) = %v, want %v", tt.ip, got, tt.expected)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"https unchanged", "https://github.com/nats-io/nats.go", "https://github.com/nats-io/nats.go"},
		{"http upgraded", "http://github.com/nats-io/nats.go", "https://github.com/nats-io/nats.go"},
		{"scheme-relative", "//docs.python.org/3/", "https://docs.python.org/3/"},
		{"whitespace trimmed", "  https://go.dev  ", "https://go.dev"},
		{"uppercase scheme upgraded", "HTTP://go.dev", "https://go.dev"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestHostPath(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{"host only", "https://deepwiki.org", "deepwiki.org"},
		{"host and path", "https://github.com/nats-io/nats.go", "github.com/nats-io/nats.go"},
		{"port stripped", "https://example.org:8443/docs", "example.org/docs"},
		{"query stripped", "https://en.wikipedia.org/wiki/Raft?action=edit", "en.wikipedia.org/wiki/Raft"},
		{"trailing slash trimmed", "https://go.dev/doc/", "go.dev/doc"},
		{"host lowercased", "https://GitHub.com/Owner/Repo", "github.com/Owner/Repo"},
		{"no host", "not-a-url", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HostPath(tt.url); got != tt.want {
				t.Errorf("HostPath(%q) = %q, want %q", tt.url, got, tt.want)
			}
		})
	}
}

func TestExtractDomain(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://deepwiki.org/owner/repo", "deepwiki.org"},
		{"https://raw.githubusercontent.com/o/r/HEAD/README.md", "raw.githubusercontent.com"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := ExtractDomain(tt.url); got != tt.want {
			t.Errorf("ExtractDomain(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}
