package scenarios

import (
	"context"
	"fmt"
	"strings"

	"github.com/c360studio/planwright/pipeline"
	"github.com/c360studio/planwright/test/e2e/client"
	"github.com/c360studio/planwright/test/e2e/config"
)

// knowledgeLink is a repository link the mock knowledge server answers
// for; the repo name is planted into the generated pages so it can be
// traced into the assembled prompt.
const knowledgeLink = "https://github.com/acme/todo-app"

// PlanKnowledgeScenario submits an idea with a reference link and
// verifies the fetched knowledge actually reached the model prompt.
type PlanKnowledgeScenario struct {
	name        string
	description string
	config      *config.Config
	plans       *client.PlanClient
	mockLLM     *client.MockLLMClient
}

// NewPlanKnowledgeScenario creates the knowledge acquisition scenario.
func NewPlanKnowledgeScenario(cfg *config.Config) *PlanKnowledgeScenario {
	return &PlanKnowledgeScenario{
		name:        "plan-knowledge",
		description: "Reference link is fetched and its content lands in the model prompt",
		config:      cfg,
		plans:       client.NewPlanClient(cfg.ServerURL),
		mockLLM:     client.NewMockLLMClient(cfg.MockLLMURL),
	}
}

func (s *PlanKnowledgeScenario) Name() string        { return s.name }
func (s *PlanKnowledgeScenario) Description() string { return s.description }

// Setup verifies both the server and the mock model server answer.
func (s *PlanKnowledgeScenario) Setup(ctx context.Context) error {
	setupCtx, cancel := context.WithTimeout(ctx, s.config.StageTimeout)
	defer cancel()
	if err := s.plans.Health(setupCtx); err != nil {
		return err
	}
	_, err := s.mockLLM.Stats(setupCtx)
	return err
}

func (s *PlanKnowledgeScenario) Execute(ctx context.Context) (*Result, error) {
	result := NewResult(s.name)
	c := newChecker(result)
	defer c.finish()

	var planResult *pipeline.Result
	err := c.run("create-plan-with-link", func() error {
		sessionCtx, cancel := context.WithTimeout(ctx, s.config.SessionTimeout)
		defer cancel()
		var err error
		planResult, err = s.plans.CreatePlan(sessionCtx, ideaText, knowledgeLink)
		return err
	})
	if err != nil {
		return result, nil
	}

	result.SetDetail("session_id", planResult.SessionID)

	_ = c.run("verify-status", func() error {
		if planResult.Status != pipeline.StatusSuccess {
			return fmt.Errorf("expected status success, got %s (reason %s: %s)",
				planResult.Status, planResult.Reason, planResult.Error)
		}
		return nil
	})

	_ = c.run("verify-fetches", func() error {
		if len(planResult.Fetches) == 0 {
			return fmt.Errorf("no knowledge fetches were recorded")
		}
		succeeded := 0
		for _, f := range planResult.Fetches {
			if f.Success {
				succeeded++
			}
		}
		if succeeded == 0 {
			return fmt.Errorf("all %d knowledge fetches failed", len(planResult.Fetches))
		}
		result.SetMetric("fetches_succeeded", succeeded)
		return nil
	})

	_ = c.run("verify-prompt-content", func() error {
		stageCtx, cancel := context.WithTimeout(ctx, s.config.StageTimeout)
		defer cancel()
		prompt, err := s.mockLLM.LastPrompt(stageCtx, "")
		if err != nil {
			return err
		}
		if prompt == "" {
			return fmt.Errorf("mock model server captured no request")
		}
		// The mock pages embed the repo name, so its presence proves the
		// fetched content was assembled into the prompt.
		if !strings.Contains(prompt, "todo-app") {
			return fmt.Errorf("prompt does not contain the fetched repository content")
		}
		if !strings.Contains(prompt, ideaText) {
			return fmt.Errorf("prompt does not contain the idea text")
		}
		return nil
	})

	return result, nil
}

func (s *PlanKnowledgeScenario) Teardown(ctx context.Context) error { return nil }
