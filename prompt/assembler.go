// Package prompt assembles the generation request: the idea text, the
// successful knowledge fragments in routing order, and the fixed instruction
// template, merged deterministically under a size cap.
package prompt

import (
	"strings"
	"unicode/utf8"

	"github.com/c360studio/planwright/fetch"
)

// DefaultMaxPromptBytes caps the assembled prompt. The cap is enforced by
// trimming fragment content; the idea text and the template are never cut.
const DefaultMaxPromptBytes = 32 * 1024

const (
	ideaHeader      = "# Product Idea"
	knowledgeHeader = "# Reference Material"
	sourcePrefix    = "## Source: "
	truncatedMarker = "[content truncated]"
)

// Stats reports what assembly did with the fragments.
type Stats struct {
	FragmentsIncluded  int `json:"fragments_included"`
	FragmentsTruncated int `json:"fragments_truncated"`
	BytesTrimmed       int `json:"bytes_trimmed"`
	PromptBytes        int `json:"prompt_bytes"`
}

// Assembler merges idea, knowledge, and instruction template.
type Assembler struct {
	maxPromptBytes int
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithMaxPromptBytes overrides the prompt size cap.
func WithMaxPromptBytes(n int) Option {
	return func(a *Assembler) {
		if n > 0 {
			a.maxPromptBytes = n
		}
	}
}

// NewAssembler creates an assembler with the default cap.
func NewAssembler(opts ...Option) *Assembler {
	a := &Assembler{maxPromptBytes: DefaultMaxPromptBytes}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble produces the generation request. It is pure: the same idea and
// fragments always yield the same prompt. Failed fragments are skipped;
// successful ones appear in the given order, each under a provenance header.
// When the combined size would exceed the cap, fragment content is trimmed
// from the end of the knowledge block, never silently dropped: a trimmed
// fragment keeps its header and gains a truncation marker.
func (a *Assembler) Assemble(idea string, frags []fetch.Fragment) (string, Stats) {
	var stats Stats

	successes := make([]fetch.Fragment, 0, len(frags))
	for _, frag := range frags {
		if frag.Success && strings.TrimSpace(frag.Content) != "" {
			successes = append(successes, frag)
		}
	}

	var sb strings.Builder
	sb.WriteString(roleSection)
	sb.WriteString("\n\n")
	sb.WriteString(ideaHeader)
	sb.WriteString("\n")
	sb.WriteString(strings.TrimSpace(idea))
	sb.WriteString("\n\n")

	if len(successes) > 0 {
		// Everything except fragment content is fixed cost; fragments
		// share whatever the cap leaves over, first come first served,
		// so content disappears from the end of the block first.
		fixed := sb.Len() + len(knowledgeHeader) + 2 + len(taskSection)
		for _, frag := range successes {
			fixed += len(sourcePrefix) + len(frag.ServiceID) + 4
		}
		remaining := a.maxPromptBytes - fixed
		if remaining < 0 {
			remaining = 0
		}

		sb.WriteString(knowledgeHeader)
		sb.WriteString("\n\n")
		for _, frag := range successes {
			content := strings.TrimSpace(frag.Content)
			sb.WriteString(sourcePrefix)
			sb.WriteString(frag.ServiceID)
			sb.WriteString("\n\n")

			if len(content) > remaining {
				kept := cutAtRune(content, remaining-len(truncatedMarker)-1)
				stats.FragmentsTruncated++
				stats.BytesTrimmed += len(content) - len(kept)
				if kept != "" {
					sb.WriteString(kept)
					sb.WriteString("\n")
				}
				sb.WriteString(truncatedMarker)
				remaining -= len(kept) + len(truncatedMarker) + 1
			} else {
				sb.WriteString(content)
				remaining -= len(content)
			}
			sb.WriteString("\n\n")
			if remaining < 0 {
				remaining = 0
			}
			stats.FragmentsIncluded++
		}
	}

	sb.WriteString(taskSection)

	out := sb.String()
	stats.PromptBytes = len(out)
	return out, stats
}

// cutAtRune trims s to at most max bytes without splitting a rune.
func cutAtRune(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	for len(cut) > 0 {
		r, size := utf8.DecodeLastRuneInString(cut)
		if r == utf8.RuneError && size == 1 {
			cut = cut[:len(cut)-1]
			continue
		}
		break
	}
	return cut
}
