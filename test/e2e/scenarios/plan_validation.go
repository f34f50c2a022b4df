package scenarios

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/c360studio/planwright/test/e2e/client"
	"github.com/c360studio/planwright/test/e2e/config"
)

// PlanValidationScenario submits requests the server must refuse and
// checks they are rejected up front, before a session is spent on them.
type PlanValidationScenario struct {
	name        string
	description string
	config      *config.Config
	plans       *client.PlanClient
}

// NewPlanValidationScenario creates the input validation scenario.
func NewPlanValidationScenario(cfg *config.Config) *PlanValidationScenario {
	return &PlanValidationScenario{
		name:        "plan-validation",
		description: "Invalid ideas and links are rejected with a 400 error envelope",
		config:      cfg,
		plans:       client.NewPlanClient(cfg.ServerURL),
	}
}

func (s *PlanValidationScenario) Name() string        { return s.name }
func (s *PlanValidationScenario) Description() string { return s.description }

func (s *PlanValidationScenario) Setup(ctx context.Context) error {
	setupCtx, cancel := context.WithTimeout(ctx, s.config.StageTimeout)
	defer cancel()
	return s.plans.Health(setupCtx)
}

func (s *PlanValidationScenario) Execute(ctx context.Context) (*Result, error) {
	result := NewResult(s.name)
	c := newChecker(result)
	defer c.finish()

	cases := []struct {
		stage string
		idea  string
		link  string
	}{
		{stage: "reject-short-idea", idea: "todo", link: ""},
		{stage: "reject-empty-idea", idea: "", link: ""},
		{stage: "reject-bad-link", idea: ideaText, link: "ftp://example.com/archive"},
	}

	for _, tc := range cases {
		_ = c.run(tc.stage, func() error {
			stageCtx, cancel := context.WithTimeout(ctx, s.config.StageTimeout)
			defer cancel()
			status, envelope, err := s.plans.CreatePlanError(stageCtx, tc.idea, tc.link)
			if err != nil {
				return err
			}
			if status != http.StatusBadRequest {
				return fmt.Errorf("expected HTTP 400, got %d", status)
			}
			if envelope.Error != "validation" {
				return fmt.Errorf("expected error %q, got %q", "validation", envelope.Error)
			}
			if strings.TrimSpace(envelope.Message) == "" {
				return fmt.Errorf("validation error carries no message")
			}
			return nil
		})
	}

	return result, nil
}

func (s *PlanValidationScenario) Teardown(ctx context.Context) error { return nil }
