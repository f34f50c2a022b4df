// Package plan models the generated development plan as an ordered list of
// sections and derives the per-feature prompt set from it. Parsing and
// extraction are deterministic with no side effects.
package plan

import (
	"regexp"
	"strings"
	"unicode"
)

// Section is one H2-delimited part of the plan document.
type Section struct {
	// Heading is the section heading text without the ## marker.
	Heading string `json:"heading"`

	// Body is everything under the heading up to the next H2, including
	// any H3 subsections.
	Body string `json:"body"`
}

// Plan is the structured form of a generated plan document.
type Plan struct {
	// Title is the document's H1 heading, if present.
	Title string `json:"title,omitempty"`

	// Intro is any text between the title and the first section.
	Intro string `json:"intro,omitempty"`

	// Sections preserves document order.
	Sections []Section `json:"sections"`
}

var numberPrefixPattern = regexp.MustCompile(`^\d+[.)]\s*`)

// ParsePlan splits a markdown document into H2 sections, preserving order.
// Headings inside fenced code blocks are treated as content.
func ParsePlan(doc string) Plan {
	var p Plan
	var cur *Section
	var body []string
	inFence := false

	flush := func() {
		text := strings.TrimSpace(strings.Join(body, "\n"))
		if cur != nil {
			cur.Body = text
			p.Sections = append(p.Sections, *cur)
		} else {
			p.Intro = text
		}
		body = body[:0]
	}

	for _, line := range strings.Split(doc, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			body = append(body, line)
			continue
		}
		if !inFence {
			if heading, ok := headingText(trimmed, "## "); ok {
				flush()
				cur = &Section{Heading: heading}
				continue
			}
			if cur == nil && p.Title == "" {
				if heading, ok := headingText(trimmed, "# "); ok {
					p.Title = heading
					continue
				}
			}
		}
		body = append(body, line)
	}
	flush()

	return p
}

// headingText returns the heading text if the line starts with the given
// marker and is not a deeper heading.
func headingText(line, marker string) (string, bool) {
	if !strings.HasPrefix(line, marker) {
		return "", false
	}
	text := strings.TrimSpace(strings.TrimPrefix(line, marker))
	if text == "" || strings.HasPrefix(text, "#") {
		return "", false
	}
	return text, true
}

// Section returns the first section whose heading contains name, ignoring
// case, numbering, emphasis markers, and decorations.
func (p Plan) Section(name string) (Section, bool) {
	want := normalizeHeading(name)
	for _, s := range p.Sections {
		if strings.Contains(normalizeHeading(s.Heading), want) {
			return s, true
		}
	}
	return Section{}, false
}

// Markdown renders the plan back to a markdown document.
func (p Plan) Markdown() string {
	var sb strings.Builder
	if p.Title != "" {
		sb.WriteString("# " + p.Title + "\n")
	}
	if p.Intro != "" {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(p.Intro + "\n")
	}
	for _, s := range p.Sections {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("## " + s.Heading + "\n")
		if s.Body != "" {
			sb.WriteString("\n" + s.Body + "\n")
		}
	}
	return sb.String()
}

// normalizeHeading lowers a heading to a comparable form: emphasis markers,
// emoji, list numbering, and trailing colons are stripped.
func normalizeHeading(h string) string {
	h = strings.TrimSpace(h)
	h = strings.Trim(h, "*_` ")
	h = strings.TrimLeftFunc(h, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	h = numberPrefixPattern.ReplaceAllString(h, "")
	h = strings.TrimSuffix(strings.TrimSpace(h), ":")
	return strings.ToLower(strings.TrimSpace(h))
}
