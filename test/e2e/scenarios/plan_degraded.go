package scenarios

import (
	"context"
	"fmt"

	"github.com/c360studio/planwright/pipeline"
	"github.com/c360studio/planwright/test/e2e/client"
	"github.com/c360studio/planwright/test/e2e/config"
)

// PlanDegradedScenario points the reference link at the owner the mock
// knowledge server fails on and verifies the session degrades instead
// of failing: a plan still comes back, with the fetch failures recorded.
type PlanDegradedScenario struct {
	name        string
	description string
	config      *config.Config
	plans       *client.PlanClient
}

// NewPlanDegradedScenario creates the degraded knowledge scenario.
func NewPlanDegradedScenario(cfg *config.Config) *PlanDegradedScenario {
	return &PlanDegradedScenario{
		name:        "plan-degraded",
		description: "Failing knowledge services degrade the session, the plan survives",
		config:      cfg,
		plans:       client.NewPlanClient(cfg.ServerURL),
	}
}

func (s *PlanDegradedScenario) Name() string        { return s.name }
func (s *PlanDegradedScenario) Description() string { return s.description }

func (s *PlanDegradedScenario) Setup(ctx context.Context) error {
	setupCtx, cancel := context.WithTimeout(ctx, s.config.StageTimeout)
	defer cancel()
	return s.plans.Health(setupCtx)
}

func (s *PlanDegradedScenario) Execute(ctx context.Context) (*Result, error) {
	result := NewResult(s.name)
	c := newChecker(result)
	defer c.finish()

	link := fmt.Sprintf("https://github.com/%s/doomed", config.FailingOwner)

	var planResult *pipeline.Result
	err := c.run("create-plan-with-failing-link", func() error {
		sessionCtx, cancel := context.WithTimeout(ctx, s.config.SessionTimeout)
		defer cancel()
		var err error
		planResult, err = s.plans.CreatePlan(sessionCtx, ideaText, link)
		return err
	})
	if err != nil {
		return result, nil
	}

	_ = c.run("verify-degraded", func() error {
		if planResult.Status != pipeline.StatusDegraded {
			return fmt.Errorf("expected status degraded, got %s (reason %s: %s)",
				planResult.Status, planResult.Reason, planResult.Error)
		}
		return nil
	})

	_ = c.run("verify-plan-survived", func() error {
		if planResult.Markdown == "" {
			return fmt.Errorf("degraded session returned no document")
		}
		if len(planResult.Prompts.Prompts) == 0 {
			return fmt.Errorf("degraded session returned no prompts")
		}
		return nil
	})

	_ = c.run("verify-failures-recorded", func() error {
		if len(planResult.Fetches) == 0 {
			return fmt.Errorf("no fetch outcomes on the result")
		}
		for _, f := range planResult.Fetches {
			if !f.Success && f.Err == "" {
				return fmt.Errorf("failed fetch for %s carries no error text", f.ServiceID)
			}
		}
		return nil
	})

	_ = c.run("verify-health-tracked", func() error {
		stageCtx, cancel := context.WithTimeout(ctx, s.config.StageTimeout)
		defer cancel()
		services, err := s.plans.Services(stageCtx)
		if err != nil {
			return err
		}
		for _, svc := range services.Services {
			if svc.Health.Attempts > 0 {
				return nil
			}
		}
		return fmt.Errorf("no service recorded any attempt")
	})

	return result, nil
}

func (s *PlanDegradedScenario) Teardown(ctx context.Context) error { return nil }
