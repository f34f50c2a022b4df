package plan

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Prompt is a ready-to-use coding prompt for one feature of the plan.
type Prompt struct {
	FeatureName string `json:"feature_name"`
	Text        string `json:"text"`
}

// PromptSet holds the per-feature prompts in plan order.
type PromptSet struct {
	Prompts []Prompt `json:"prompts"`
}

// maxContextBytes caps how much of the architecture section a fallback
// prompt embeds.
const maxContextBytes = 2048

const outputRequirements = `## Output Requirements
Respond with complete, production-ready code for this feature. Include every
file you create or change as a separate fenced code block labeled with its
path, note any new dependencies, and finish with the commands to run and
verify the result.`

// BuildPromptSet derives one prompt per feature from the plan. Features come
// from the H3 subsections of the coding-prompts section; when the plan has no
// such section, the top-level feature bullets of the overview section are
// used instead. The result is deterministic for a given plan.
func BuildPromptSet(p Plan) PromptSet {
	var ps PromptSet

	if sec, ok := p.Section("coding prompts"); ok {
		for _, f := range splitFeatures(sec.Body) {
			ps.Prompts = append(ps.Prompts, Prompt{
				FeatureName: f.name,
				Text:        buildPromptText(p, f.name, f.body),
			})
		}
	}
	if len(ps.Prompts) > 0 {
		return ps
	}

	over, ok := p.Section("overview")
	if !ok && len(p.Sections) > 0 {
		over = p.Sections[0]
		ok = true
	}
	if !ok {
		return ps
	}

	arch := ""
	if a, found := p.Section("architecture"); found {
		arch = truncateBytes(a.Body, maxContextBytes)
	}
	for _, bullet := range topLevelBullets(over.Body) {
		context := bullet
		if arch != "" {
			context += "\n\nArchitecture notes from the plan:\n" + arch
		}
		name := bulletFeatureName(bullet)
		ps.Prompts = append(ps.Prompts, Prompt{
			FeatureName: name,
			Text:        buildPromptText(p, name, context),
		})
	}
	return ps
}

type feature struct {
	name string
	body string
}

// splitFeatures breaks a coding-prompts section body into its H3 features.
func splitFeatures(body string) []feature {
	var feats []feature
	var cur *feature
	var lines []string
	inFence := false

	flush := func() {
		if cur == nil {
			lines = lines[:0]
			return
		}
		cur.body = strings.TrimSpace(strings.Join(lines, "\n"))
		feats = append(feats, *cur)
		cur = nil
		lines = lines[:0]
	}

	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			lines = append(lines, line)
			continue
		}
		if !inFence {
			if heading, ok := headingText(trimmed, "### "); ok {
				flush()
				cur = &feature{name: featureName(heading)}
				continue
			}
		}
		lines = append(lines, line)
	}
	flush()

	return feats
}

// topLevelBullets returns unindented list items, skipping fenced code.
func topLevelBullets(body string) []string {
	var bullets []string
	inFence := false
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* ") {
			if item := strings.TrimSpace(line[2:]); item != "" {
				bullets = append(bullets, item)
			}
		}
	}
	return bullets
}

// bulletFeatureName extracts the feature name from a list item. A leading
// bold or colon-terminated label wins over the full text.
func bulletFeatureName(bullet string) string {
	name := bullet
	for _, sep := range []string{":", "："} {
		if i := strings.Index(name, sep); i > 0 {
			name = name[:i]
			break
		}
	}
	return featureName(name)
}

// featureName strips numbering, emphasis, and trailing punctuation while
// keeping the original casing.
func featureName(h string) string {
	h = strings.TrimSpace(h)
	h = strings.Trim(h, "*_` ")
	h = numberPrefixPattern.ReplaceAllString(h, "")
	return strings.TrimSuffix(strings.TrimSpace(h), ":")
}

func buildPromptText(p Plan, name, context string) string {
	var sb strings.Builder
	if p.Title != "" {
		fmt.Fprintf(&sb, "You are implementing one feature of %q following its development plan.\n\n", p.Title)
	} else {
		sb.WriteString("You are implementing one feature of a planned product following its development plan.\n\n")
	}
	fmt.Fprintf(&sb, "## Feature\n%s\n\n", name)
	if context != "" {
		fmt.Fprintf(&sb, "## Plan Context\n%s\n\n", context)
	}
	sb.WriteString(outputRequirements)
	return sb.String()
}

// truncateBytes shortens s to at most max bytes without splitting a rune.
func truncateBytes(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
