package scenarios

import (
	"context"
	"fmt"

	"github.com/c360studio/planwright/pipeline"
	"github.com/c360studio/planwright/test/e2e/client"
	"github.com/c360studio/planwright/test/e2e/config"
)

// PlanStreamScenario runs a session over SSE and checks the progress
// contract: ordered stages, nondecreasing percentages, a terminal event.
type PlanStreamScenario struct {
	name        string
	description string
	config      *config.Config
	plans       *client.PlanClient
}

// NewPlanStreamScenario creates the SSE progress scenario.
func NewPlanStreamScenario(cfg *config.Config) *PlanStreamScenario {
	return &PlanStreamScenario{
		name:        "plan-stream",
		description: "SSE progress events arrive in stage order and end with a result",
		config:      cfg,
		plans:       client.NewPlanClient(cfg.ServerURL),
	}
}

func (s *PlanStreamScenario) Name() string        { return s.name }
func (s *PlanStreamScenario) Description() string { return s.description }

func (s *PlanStreamScenario) Setup(ctx context.Context) error {
	setupCtx, cancel := context.WithTimeout(ctx, s.config.StageTimeout)
	defer cancel()
	return s.plans.Health(setupCtx)
}

func (s *PlanStreamScenario) Execute(ctx context.Context) (*Result, error) {
	result := NewResult(s.name)
	c := newChecker(result)
	defer c.finish()

	var (
		progress   []pipeline.ProgressEvent
		planResult *pipeline.Result
	)
	err := c.run("stream-plan", func() error {
		sessionCtx, cancel := context.WithTimeout(ctx, s.config.SessionTimeout)
		defer cancel()
		var err error
		progress, planResult, err = s.plans.StreamPlan(sessionCtx, ideaText, "")
		return err
	})
	if err != nil {
		return result, nil
	}

	result.SetMetric("progress_events", len(progress))

	_ = c.run("verify-progress-order", func() error {
		if len(progress) == 0 {
			return fmt.Errorf("no progress events before the result")
		}
		if progress[0].Stage != pipeline.StageValidating {
			return fmt.Errorf("first event is %s, not %s", progress[0].Stage, pipeline.StageValidating)
		}
		last := -1
		for _, ev := range progress {
			if ev.Percent < last {
				return fmt.Errorf("percent went backwards: %d after %d", ev.Percent, last)
			}
			last = ev.Percent
			if ev.SessionID == "" {
				return fmt.Errorf("progress event without a session id")
			}
		}
		return nil
	})

	_ = c.run("verify-terminal", func() error {
		terminal := progress[len(progress)-1]
		if terminal.Stage != pipeline.StageDone {
			return fmt.Errorf("last progress stage is %s, not %s", terminal.Stage, pipeline.StageDone)
		}
		if terminal.Percent != 100 {
			return fmt.Errorf("terminal percent is %d", terminal.Percent)
		}
		return nil
	})

	_ = c.run("verify-result", func() error {
		if planResult.Status != pipeline.StatusSuccess {
			return fmt.Errorf("expected status success, got %s (reason %s)", planResult.Status, planResult.Reason)
		}
		if planResult.SessionID != progress[0].SessionID {
			return fmt.Errorf("result session %s does not match stream session %s",
				planResult.SessionID, progress[0].SessionID)
		}
		return nil
	})

	return result, nil
}

func (s *PlanStreamScenario) Teardown(ctx context.Context) error { return nil }
