// Package pipeline drives a generation request through its stages, from
// input validation to the final plan and prompt set. Each request runs as
// a session that reports progress events while it advances and ends in
// exactly one terminal status.
package pipeline

// Stage identifies one phase of a generation session.
type Stage string

const (
	StageValidating         Stage = "validating"
	StageAcquiringKnowledge Stage = "acquiring_knowledge"
	StageAssembling         Stage = "assembling"
	StageGenerating         Stage = "generating"
	StageValidatingOutput   Stage = "validating_output"
	StageFinalizing         Stage = "finalizing"
	StageDone               Stage = "done"
	StageFailed             Stage = "failed"
)

// percent is the progress floor reported when the stage is entered.
// A failed session reports the floor of the stage it died in.
func (s Stage) percent() int {
	switch s {
	case StageValidating:
		return 0
	case StageAcquiringKnowledge:
		return 10
	case StageAssembling:
		return 25
	case StageGenerating:
		return 40
	case StageValidatingOutput:
		return 75
	case StageFinalizing:
		return 90
	case StageDone:
		return 100
	default:
		return 0
	}
}

// message is the human-readable progress line for the stage.
func (s Stage) message() string {
	switch s {
	case StageValidating:
		return "Validating input"
	case StageAcquiringKnowledge:
		return "Gathering reference material"
	case StageAssembling:
		return "Assembling the generation prompt"
	case StageGenerating:
		return "Generating the development plan"
	case StageValidatingOutput:
		return "Checking and repairing the document"
	case StageFinalizing:
		return "Extracting sections and coding prompts"
	case StageDone:
		return "Plan ready"
	case StageFailed:
		return "Generation failed"
	default:
		return string(s)
	}
}
