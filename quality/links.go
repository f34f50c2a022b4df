package quality

import (
	"net/url"
	"regexp"
	"strings"
)

// linkPattern matches inline markdown links and images.
var linkPattern = regexp.MustCompile(`!?\[([^\]]*)\]\(([^)]*)\)`)

var (
	placeholderDomains = []string{"example.com", "example.org", "example.net"}
	placeholderTLDs    = []string{".test", ".example", ".invalid", ".localhost"}
	placeholderMarkers = []string{"your-domain", "yourdomain", "placeholder"}
)

// cleanLinks unwraps malformed and placeholder-domain links to their text,
// recording each removal. Fenced code is left alone. Returns the updated
// document with the count of kept and total links.
func cleanLinks(doc string, rep *Report) (string, int, int) {
	good, total := 0, 0
	lines := strings.Split(doc, "\n")
	out := make([]string, 0, len(lines))
	inFence := false

	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			out = append(out, line)
			continue
		}
		if inFence {
			out = append(out, line)
			continue
		}
		out = append(out, linkPattern.ReplaceAllStringFunc(line, func(m string) string {
			sub := linkPattern.FindStringSubmatch(m)
			text, target := sub[1], sub[2]
			total++
			if reason := linkDefect(target); reason != "" {
				loc := strings.TrimSpace(target)
				if loc == "" {
					loc = "[" + text + "]"
				}
				rep.Repairs = append(rep.Repairs, Repair{
					Kind:     RepairLinkRemoved,
					Location: loc,
					Detail:   reason,
				})
				return text
			}
			good++
			return m
		}))
	}

	return strings.Join(out, "\n"), good, total
}

// linkDefect reports why a link target should be removed, or "" to keep it.
func linkDefect(target string) string {
	t := strings.TrimSpace(target)
	// Drop an optional markdown title and angle-bracket wrapping.
	if i := strings.IndexAny(t, " \t"); i > 0 {
		t = t[:i]
	}
	t = strings.Trim(t, "<>")

	if t == "" {
		return "empty link target"
	}
	if strings.HasPrefix(t, "#") {
		return ""
	}

	u, err := url.Parse(t)
	if err != nil {
		return "unparseable link target"
	}
	switch u.Scheme {
	case "http", "https", "":
	case "mailto":
		if i := strings.LastIndex(u.Opaque, "@"); i >= 0 && isPlaceholderHost(strings.ToLower(u.Opaque[i+1:])) {
			return "placeholder mail domain"
		}
		return ""
	default:
		return "unsupported link scheme " + u.Scheme
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		// Schemeless target such as www.example.com/docs.
		host = strings.ToLower(firstPathSegment(u.Path))
	}
	if isPlaceholderHost(host) {
		return "placeholder domain " + host
	}
	return ""
}

func firstPathSegment(p string) string {
	if i := strings.IndexByte(p, '/'); i >= 0 {
		return p[:i]
	}
	return p
}

func isPlaceholderHost(host string) bool {
	if host == "" {
		return false
	}
	if host == "localhost" {
		return true
	}
	for _, d := range placeholderDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	for _, s := range placeholderTLDs {
		if strings.HasSuffix(host, s) {
			return true
		}
	}
	for _, m := range placeholderMarkers {
		if strings.Contains(host, m) {
			return true
		}
	}
	return false
}
