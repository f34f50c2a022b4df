package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/planwright/fetch"
	"github.com/c360studio/planwright/plan"
	"github.com/c360studio/planwright/prompt"
	"github.com/c360studio/planwright/quality"
)

// Status is the terminal outcome of a session.
type Status string

const (
	// StatusSuccess means a plan was produced and nothing along the way
	// had to be given up.
	StatusSuccess Status = "success"

	// StatusDegraded means a plan was produced, but knowledge acquisition
	// partially failed or the quality score fell below the acceptance
	// threshold. The plan is still returned.
	StatusDegraded Status = "degraded"

	// StatusFailed means no usable plan was produced.
	StatusFailed Status = "failed"
)

// FailureReason classifies why a session failed.
type FailureReason string

const (
	ReasonValidation        FailureReason = "validation"
	ReasonGenerationTimeout FailureReason = "generation_timeout"
	ReasonModelError        FailureReason = "model_error"
	ReasonEmptyOutput       FailureReason = "empty_output"
	ReasonInvalidOutput     FailureReason = "invalid_output"
)

// ProgressEvent is emitted when a session enters a stage and once more
// when it reaches a terminal state. Status and Reason are only set on the
// terminal event.
type ProgressEvent struct {
	SessionID string        `json:"session_id"`
	Stage     Stage         `json:"stage"`
	Percent   int           `json:"percent"`
	Elapsed   time.Duration `json:"elapsed"`
	Message   string        `json:"message"`
	Status    Status        `json:"status,omitempty"`
	Reason    FailureReason `json:"reason,omitempty"`
}

// FetchOutcome summarizes one knowledge service call for the result
// payload, without carrying the fetched content itself.
type FetchOutcome struct {
	ServiceID string `json:"service_id"`
	Success   bool   `json:"success"`
	LatencyMs int64  `json:"latency_ms"`
	Bytes     int    `json:"bytes,omitempty"`
	Err       string `json:"error,omitempty"`
}

// summarizeFetches strips fragment content down to per-service outcomes.
func summarizeFetches(frags []fetch.Fragment) []FetchOutcome {
	if len(frags) == 0 {
		return nil
	}
	out := make([]FetchOutcome, 0, len(frags))
	for _, f := range frags {
		out = append(out, FetchOutcome{
			ServiceID: f.ServiceID,
			Success:   f.Success,
			LatencyMs: f.LatencyMs,
			Bytes:     len(f.Content),
			Err:       f.Err,
		})
	}
	return out
}

// Result is the terminal outcome of a session. On failure the document
// fields hold whatever was produced before the session died, which can
// still be useful for diagnosis; Reason says what went wrong.
type Result struct {
	SessionID string        `json:"session_id"`
	Status    Status        `json:"status"`
	Reason    FailureReason `json:"reason,omitempty"`
	Error     string        `json:"error,omitempty"`

	Plan     plan.Plan      `json:"plan"`
	Prompts  plan.PromptSet `json:"prompts"`
	Report   quality.Report `json:"report"`
	Markdown string         `json:"markdown,omitempty"`

	Fetches     []FetchOutcome `json:"fetches,omitempty"`
	PromptStats prompt.Stats   `json:"prompt_stats"`
	Model       string         `json:"model,omitempty"`
	Elapsed     time.Duration  `json:"elapsed"`

	err error
}

// Err returns the underlying error of a failed session, nil otherwise.
// Callers can inspect it with errors.As, for example to map a validation
// failure to a client error.
func (r Result) Err() error { return r.err }

// Session is one in-flight generation request. It is created by
// Coordinator.Start and owned by the coordinator goroutine; callers
// observe it through Events, Done, and Result.
type Session struct {
	ID    string
	start time.Time

	// stage and stageStart are only touched by the coordinator goroutine.
	stage      Stage
	stageStart time.Time

	events chan ProgressEvent
	done   chan struct{}
	result Result
}

// At most six stage entries plus one terminal event are ever emitted, so
// this buffer keeps emits non-blocking even when nobody is listening.
const eventBuffer = 8

func newSession() *Session {
	now := time.Now()
	return &Session{
		ID:         uuid.NewString(),
		start:      now,
		stageStart: now,
		events:     make(chan ProgressEvent, eventBuffer),
		done:       make(chan struct{}),
	}
}

// Events returns the progress stream. It is closed after the terminal
// event has been sent.
func (s *Session) Events() <-chan ProgressEvent { return s.events }

// Done is closed when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// Result blocks until the session is done and returns its outcome.
func (s *Session) Result() Result {
	<-s.done
	return s.result
}

func (s *Session) emit(ev ProgressEvent) {
	s.events <- ev
}

func (s *Session) elapsed() time.Duration {
	return time.Since(s.start)
}
