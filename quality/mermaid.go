package quality

import (
	"fmt"
	"regexp"
	"strings"
)

// emptyLabelPatterns match node declarations with an empty label, e.g. A[]
// or B(). The label is filled from the node ID.
var emptyLabelPatterns = []struct {
	re          *regexp.Regexp
	open, close string
}{
	{regexp.MustCompile(`([A-Za-z][\w-]*)\[\s*\]`), "[", "]"},
	{regexp.MustCompile(`([A-Za-z][\w-]*)\(\s*\)`), "(", ")"},
	{regexp.MustCompile(`([A-Za-z][\w-]*)\{\s*\}`), "{", "}"},
}

// repairDiagrams scans mermaid fenced blocks, repairs what it safely can,
// and strips blocks that stay broken. Returns the updated document with the
// count of valid and total mermaid blocks.
func repairDiagrams(doc string, rep *Report) (string, int, int) {
	lines := strings.Split(doc, "\n")
	out := make([]string, 0, len(lines))
	valid, total := 0, 0
	inOtherFence := false

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		trimmed := strings.TrimSpace(line)

		if inOtherFence {
			out = append(out, line)
			if strings.HasPrefix(trimmed, "```") {
				inOtherFence = false
			}
			continue
		}
		if !strings.HasPrefix(trimmed, "```") {
			out = append(out, line)
			continue
		}
		if strings.TrimSpace(strings.TrimPrefix(trimmed, "```")) != "mermaid" {
			out = append(out, line)
			inOtherFence = true
			continue
		}

		total++
		end := -1
		for j := i + 1; j < len(lines); j++ {
			if strings.TrimSpace(lines[j]) == "```" {
				end = j
				break
			}
		}
		if end == -1 {
			// No closing fence; the block's extent is unknowable, so it
			// passes through untouched and counts as broken.
			rep.Issues = append(rep.Issues, Issue{
				Kind:     IssueBrokenDiagram,
				Location: diagramLoc(total),
				Detail:   "unterminated mermaid block",
			})
			out = append(out, lines[i:]...)
			return strings.Join(out, "\n"), valid, total
		}

		fixed, reason := repairMermaidBlock(lines[i+1:end], total, rep)
		if reason != "" {
			rep.Issues = append(rep.Issues, Issue{
				Kind:     IssueBrokenDiagram,
				Location: diagramLoc(total),
				Detail:   "removed unrepairable block: " + reason,
			})
			i = end
			continue
		}
		valid++
		out = append(out, line)
		out = append(out, fixed...)
		out = append(out, lines[end])
		i = end
	}

	return strings.Join(out, "\n"), valid, total
}

// repairMermaidBlock fixes empty labels and unbalanced brackets line by
// line. A non-empty reason means the block could not be repaired; repairs
// are only recorded when the whole block survives.
func repairMermaidBlock(block []string, n int, rep *Report) ([]string, string) {
	fixed := make([]string, 0, len(block))
	var repairs []Repair

	for _, line := range block {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "%%") {
			fixed = append(fixed, line)
			continue
		}

		balanced, repaired, ok := balanceBrackets(line)
		if !ok {
			return nil, fmt.Sprintf("unbalanced brackets in %q", trimmed)
		}
		if repaired {
			repairs = append(repairs, Repair{
				Kind:     RepairDiagramBracket,
				Location: diagramLoc(n),
				Detail:   fmt.Sprintf("closed %q", trimmed),
			})
		}

		// A bare opener like A[ is now A[], caught by the label fill.
		withLabels, filled := fillEmptyLabels(balanced)
		for _, id := range filled {
			repairs = append(repairs, Repair{
				Kind:     RepairDiagramLabel,
				Location: diagramLoc(n),
				Detail:   fmt.Sprintf("filled empty label on node %s", id),
			})
		}
		fixed = append(fixed, withLabels)
	}

	rep.Repairs = append(rep.Repairs, repairs...)
	return fixed, ""
}

func fillEmptyLabels(line string) (string, []string) {
	var filled []string
	for _, p := range emptyLabelPatterns {
		line = p.re.ReplaceAllStringFunc(line, func(m string) string {
			id := p.re.FindStringSubmatch(m)[1]
			filled = append(filled, id)
			return id + p.open + id + p.close
		})
	}
	return line, filled
}

// balanceBrackets closes any brackets left open at the end of the line.
// Stray or mismatched closers and unterminated quotes are not repairable.
// Brackets inside quoted labels are ignored.
func balanceBrackets(line string) (fixed string, repaired, ok bool) {
	var stack []byte
	inQuote := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		if c == '"' {
			inQuote = !inQuote
			continue
		}
		if inQuote {
			continue
		}
		switch c {
		case '[', '(', '{':
			stack = append(stack, c)
		case ']', ')', '}':
			if len(stack) == 0 || closerOf(stack[len(stack)-1]) != c {
				return line, false, false
			}
			stack = stack[:len(stack)-1]
		}
	}
	if inQuote {
		return line, false, false
	}
	if len(stack) == 0 {
		return line, false, true
	}

	tail := make([]byte, 0, len(stack))
	for i := len(stack) - 1; i >= 0; i-- {
		tail = append(tail, closerOf(stack[i]))
	}
	return line + string(tail), true, true
}

func closerOf(open byte) byte {
	switch open {
	case '[':
		return ']'
	case '(':
		return ')'
	default:
		return '}'
	}
}

func diagramLoc(n int) string {
	return fmt.Sprintf("mermaid block %d", n)
}
