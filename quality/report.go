package quality

// IssueKind classifies a defect found in a generated document.
type IssueKind string

const (
	// IssueMissingSection marks a required section that is absent or
	// effectively empty.
	IssueMissingSection IssueKind = "missing_section"
	// IssueMissingDiagram marks a document with no mermaid diagrams at all.
	IssueMissingDiagram IssueKind = "missing_diagram"
	// IssueBrokenDiagram marks a mermaid block that could not be repaired.
	IssueBrokenDiagram IssueKind = "broken_diagram"
)

// RepairKind classifies a fix applied to a generated document.
type RepairKind string

const (
	// RepairDiagramBracket marks a balanced-bracket fix inside a mermaid block.
	RepairDiagramBracket RepairKind = "diagram_bracket"
	// RepairDiagramLabel marks an empty node label filled from the node ID.
	RepairDiagramLabel RepairKind = "diagram_label"
	// RepairLinkRemoved marks a malformed or placeholder link that was
	// unwrapped to plain text.
	RepairLinkRemoved RepairKind = "link_removed"
)

// Issue is a defect that remains noteworthy after validation.
type Issue struct {
	Kind     IssueKind `json:"kind"`
	Location string    `json:"location"`
	Detail   string    `json:"detail"`
}

// Repair is a fix that was applied to the document.
type Repair struct {
	Kind     RepairKind `json:"kind"`
	Location string     `json:"location"`
	Detail   string     `json:"detail"`
}

// Report is the outcome of validating one generated document.
type Report struct {
	// Score is 0-100, weighted across section presence, diagram health,
	// and link health.
	Score   int      `json:"score"`
	Issues  []Issue  `json:"issues,omitempty"`
	Repairs []Repair `json:"repairs,omitempty"`

	missingCore []string
}

// CoreSectionsMissing lists the names of required core sections whose
// heading never appears in the document. A non-empty result means the
// document does not meet the structural minimum and the generation should
// be treated as failed.
func (r Report) CoreSectionsMissing() []string {
	if len(r.missingCore) == 0 {
		return nil
	}
	out := make([]string, len(r.missingCore))
	copy(out, r.missingCore)
	return out
}
