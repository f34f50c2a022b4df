package scenarios

import (
	"context"
	"fmt"
	"strings"

	"github.com/c360studio/planwright/pipeline"
	"github.com/c360studio/planwright/test/e2e/client"
	"github.com/c360studio/planwright/test/e2e/config"
)

// PlanSuccessScenario runs the happy path: one idea, no link, and a
// complete plan document back with prompts and a quality report.
type PlanSuccessScenario struct {
	name        string
	description string
	config      *config.Config
	plans       *client.PlanClient
}

// NewPlanSuccessScenario creates the happy path scenario.
func NewPlanSuccessScenario(cfg *config.Config) *PlanSuccessScenario {
	return &PlanSuccessScenario{
		name:        "plan-success",
		description: "Idea without link produces a success plan with prompts and a report",
		config:      cfg,
		plans:       client.NewPlanClient(cfg.ServerURL),
	}
}

func (s *PlanSuccessScenario) Name() string        { return s.name }
func (s *PlanSuccessScenario) Description() string { return s.description }

// Setup verifies the server answers before the scenario runs.
func (s *PlanSuccessScenario) Setup(ctx context.Context) error {
	setupCtx, cancel := context.WithTimeout(ctx, s.config.StageTimeout)
	defer cancel()
	return s.plans.Health(setupCtx)
}

func (s *PlanSuccessScenario) Execute(ctx context.Context) (*Result, error) {
	result := NewResult(s.name)
	c := newChecker(result)
	defer c.finish()

	var planResult *pipeline.Result
	err := c.run("create-plan", func() error {
		sessionCtx, cancel := context.WithTimeout(ctx, s.config.SessionTimeout)
		defer cancel()
		var err error
		planResult, err = s.plans.CreatePlan(sessionCtx, ideaText, "")
		return err
	})
	if err != nil {
		return result, nil
	}

	result.SetMetric("elapsed_ms", planResult.Elapsed.Milliseconds())
	result.SetDetail("session_id", planResult.SessionID)

	_ = c.run("verify-status", func() error {
		if planResult.Status != pipeline.StatusSuccess {
			return fmt.Errorf("expected status success, got %s (reason %s: %s)",
				planResult.Status, planResult.Reason, planResult.Error)
		}
		return nil
	})

	_ = c.run("verify-document", func() error {
		if planResult.Markdown == "" {
			return fmt.Errorf("result carries no document")
		}
		for _, heading := range []string{"## Product Overview", "## Technical Architecture"} {
			if !strings.Contains(planResult.Markdown, heading) {
				return fmt.Errorf("document is missing %q", heading)
			}
		}
		if len(planResult.Plan.Sections) == 0 {
			return fmt.Errorf("parsed plan has no sections")
		}
		return nil
	})

	_ = c.run("verify-prompts", func() error {
		if len(planResult.Prompts.Prompts) == 0 {
			return fmt.Errorf("no coding prompts were extracted")
		}
		for _, p := range planResult.Prompts.Prompts {
			if p.FeatureName == "" || p.Text == "" {
				return fmt.Errorf("prompt with empty feature name or text")
			}
		}
		result.SetMetric("prompt_count", len(planResult.Prompts.Prompts))
		return nil
	})

	_ = c.run("verify-report", func() error {
		if planResult.Report.Score <= 0 {
			return fmt.Errorf("report score is %d", planResult.Report.Score)
		}
		result.SetMetric("score", planResult.Report.Score)
		return nil
	})

	return result, nil
}

func (s *PlanSuccessScenario) Teardown(ctx context.Context) error { return nil }

// ideaText is the idea every scenario submits. Long enough to pass
// validation, short enough to keep logs readable.
const ideaText = "Build a meeting notes summarizer for remote teams " +
	"with action item extraction and weekly digests."
