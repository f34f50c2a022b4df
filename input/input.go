// Package input validates and normalizes plan generation requests before
// they enter the pipeline. Validation is purely syntactic; reachability and
// SSRF checks happen at fetch time.
package input

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

const (
	// MinIdeaLength is the shortest acceptable idea, in runes.
	MinIdeaLength = 10
	// MaxIdeaLength bounds the idea so pasted documents are rejected up
	// front instead of blowing the prompt budget.
	MaxIdeaLength = 4000
)

// Request is a plan generation request.
type Request struct {
	// Idea is the free-text product idea.
	Idea string `json:"idea"`
	// Link optionally points at reference material.
	Link string `json:"link,omitempty"`
}

// ValidationError reports why a request was rejected.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Normalize trims surrounding whitespace from the idea and whitespace plus
// wrapping quotes from the link. It never rejects.
func Normalize(req Request) Request {
	req.Idea = strings.TrimSpace(req.Idea)
	link := strings.TrimSpace(req.Link)
	link = strings.Trim(link, `"'`)
	req.Link = strings.TrimSpace(link)
	return req
}

// Validate checks a request. A nil return means the request may enter the
// pipeline; otherwise the error is a *ValidationError naming the field.
func Validate(req Request) error {
	idea := strings.TrimSpace(req.Idea)
	if idea == "" {
		return &ValidationError{Field: "idea", Reason: "must not be empty"}
	}
	n := utf8.RuneCountInString(idea)
	if n < MinIdeaLength {
		return &ValidationError{
			Field:  "idea",
			Reason: fmt.Sprintf("too short: %d characters, need at least %d", n, MinIdeaLength),
		}
	}
	if n > MaxIdeaLength {
		return &ValidationError{
			Field:  "idea",
			Reason: fmt.Sprintf("too long: %d characters, limit is %d", n, MaxIdeaLength),
		}
	}

	if req.Link == "" {
		return nil
	}
	u, err := url.Parse(req.Link)
	if err != nil {
		return &ValidationError{Field: "link", Reason: "not a valid URL"}
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return &ValidationError{Field: "link", Reason: "scheme must be http or https"}
	}
	if u.Host == "" {
		return &ValidationError{Field: "link", Reason: "missing host"}
	}
	return nil
}
