// Package quality validates and repairs generated plan documents. It checks
// section presence against a requirements table, repairs what it safely can
// in mermaid diagrams, strips placeholder links, and scores the result. The
// repaired document becomes the structured plan; missing sections are flagged,
// never fabricated.
package quality

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/c360studio/planwright/plan"
)

// DefaultMinScore is the acceptance threshold used when none is configured.
const DefaultMinScore = 60

// nextHeadingPattern matches the start of the next H1/H2 section.
var nextHeadingPattern = regexp.MustCompile(`(?m)^#{1,2}\s+`)

// SectionRequirement defines one required section of a plan document.
type SectionRequirement struct {
	// Name is the human-readable section name reported on issues.
	Name string
	// Pattern matches the section heading line.
	Pattern *regexp.Regexp
	// MinContent is the minimum trimmed content length under the heading.
	MinContent int
	// Core sections escalate to a generation failure when missing.
	Core bool
}

// Weights distributes the score across the three scored dimensions.
type Weights struct {
	Sections float64 `json:"sections"`
	Diagrams float64 `json:"diagrams"`
	Links    float64 `json:"links"`
}

// DefaultWeights favors section completeness over diagram and link health.
var DefaultWeights = Weights{Sections: 0.5, Diagrams: 0.3, Links: 0.2}

// Validator validates generated plan documents.
type Validator struct {
	// Required lists the sections every plan must carry.
	Required []SectionRequirement
	// Weights control the score composition.
	Weights Weights
}

// NewValidator creates a validator with the canonical plan section set and
// default weights.
func NewValidator() *Validator {
	return &Validator{
		Required: []SectionRequirement{
			{
				Name:       "Product Overview",
				Pattern:    regexp.MustCompile(`(?mi)^##[^#\n]*\b(?:product )?overview\b`),
				MinContent: 50,
				Core:       true,
			},
			{
				Name:       "Technical Architecture",
				Pattern:    regexp.MustCompile(`(?mi)^##[^#\n]*\barchitecture\b`),
				MinContent: 50,
				Core:       true,
			},
			{
				Name:       "Development Schedule",
				Pattern:    regexp.MustCompile(`(?mi)^##[^#\n]*\bschedule\b`),
				MinContent: 40,
				Core:       true,
			},
			{
				Name:       "Deployment & Operations",
				Pattern:    regexp.MustCompile(`(?mi)^##[^#\n]*\bdeployment\b`),
				MinContent: 40,
				Core:       true,
			},
			{
				Name:       "Growth Strategy",
				Pattern:    regexp.MustCompile(`(?mi)^##[^#\n]*\bgrowth\b`),
				MinContent: 40,
				Core:       true,
			},
			{
				Name:       "AI Coding Prompts",
				Pattern:    regexp.MustCompile(`(?mi)^##[^#\n]*\bcoding prompts\b`),
				MinContent: 30,
				Core:       false,
			},
		},
		Weights: DefaultWeights,
	}
}

// Validate repairs and scores a raw generated document. Diagram and link
// repair run first so the section check and the returned plan both see the
// repaired text.
func (v *Validator) Validate(raw string) (plan.Plan, Report) {
	var rep Report

	doc, validDiagrams, totalDiagrams := repairDiagrams(raw, &rep)
	doc, goodLinks, totalLinks := cleanLinks(doc, &rep)
	sectionScore := v.checkSections(doc, &rep)

	diagramScore := 0.0
	switch {
	case totalDiagrams > 0:
		diagramScore = float64(validDiagrams) / float64(totalDiagrams)
	default:
		rep.Issues = append(rep.Issues, Issue{
			Kind:     IssueMissingDiagram,
			Location: "document",
			Detail:   "no mermaid diagrams found",
		})
	}

	linkScore := 1.0
	if totalLinks > 0 {
		linkScore = float64(goodLinks) / float64(totalLinks)
	}

	w := v.Weights
	rep.Score = int(math.Round(100 * (w.Sections*sectionScore + w.Diagrams*diagramScore + w.Links*linkScore)))

	return plan.ParsePlan(doc), rep
}

// checkSections returns the fraction of required sections present with
// enough content. Missing and thin sections are flagged; only a wholly
// absent core section is recorded for CoreSectionsMissing, a thin one
// just costs score.
func (v *Validator) checkSections(doc string, rep *Report) float64 {
	if len(v.Required) == 0 {
		return 1
	}

	present := 0
	for _, req := range v.Required {
		loc := req.Pattern.FindStringIndex(doc)
		if loc == nil {
			v.flagSection(rep, req, "section heading not found")
			if req.Core {
				rep.missingCore = append(rep.missingCore, req.Name)
			}
			continue
		}
		if req.MinContent > 0 {
			content := strings.TrimSpace(sectionContent(doc[loc[1]:]))
			if len(content) < req.MinContent {
				v.flagSection(rep, req, fmt.Sprintf("section content below %d characters", req.MinContent))
				continue
			}
		}
		present++
	}
	return float64(present) / float64(len(v.Required))
}

func (v *Validator) flagSection(rep *Report, req SectionRequirement, detail string) {
	rep.Issues = append(rep.Issues, Issue{
		Kind:     IssueMissingSection,
		Location: req.Name,
		Detail:   detail,
	})
}

// sectionContent returns the text up to the next H1/H2 heading.
func sectionContent(rest string) string {
	if loc := nextHeadingPattern.FindStringIndex(rest); loc != nil {
		return rest[:loc[0]]
	}
	return rest
}
