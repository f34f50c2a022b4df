package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/c360studio/planwright/fetch"
	"github.com/c360studio/planwright/input"
	"github.com/c360studio/planwright/llm"
	"github.com/c360studio/planwright/metrics"
	"github.com/c360studio/planwright/plan"
	"github.com/c360studio/planwright/prompt"
	"github.com/c360studio/planwright/quality"
	"github.com/c360studio/planwright/service"
)

// StageBudgets allots each stage its share of the overall deadline. The
// two stages that block on the network, AcquiringKnowledge and Generating,
// are enforced with deadline contexts; the in-memory stages finish in
// microseconds and are bounded by the overall deadline alone.
type StageBudgets struct {
	Validating       time.Duration `json:"validating" yaml:"validating"`
	Knowledge        time.Duration `json:"knowledge" yaml:"knowledge"`
	Assembling       time.Duration `json:"assembling" yaml:"assembling"`
	Generating       time.Duration `json:"generating" yaml:"generating"`
	OutputValidation time.Duration `json:"output_validation" yaml:"output_validation"`
	Finalizing       time.Duration `json:"finalizing" yaml:"finalizing"`
}

// Config tunes the coordinator. Zero values fall back to the defaults.
type Config struct {
	// OverallTimeout bounds a whole session from start to terminal state.
	OverallTimeout time.Duration `json:"overall_timeout" yaml:"overall_timeout"`

	// Stages allots per-stage time budgets.
	Stages StageBudgets `json:"stages" yaml:"stages"`

	// MinScore is the quality acceptance threshold. A plan scoring below
	// it is still returned, with status degraded.
	MinScore int `json:"min_score" yaml:"min_score"`
}

// DefaultConfig returns the stock budgets: 180s overall, 45s knowledge
// acquisition, 120s generation.
func DefaultConfig() Config {
	return Config{
		OverallTimeout: 180 * time.Second,
		Stages: StageBudgets{
			Validating:       5 * time.Second,
			Knowledge:        45 * time.Second,
			Assembling:       5 * time.Second,
			Generating:       120 * time.Second,
			OutputValidation: 15 * time.Second,
			Finalizing:       10 * time.Second,
		},
		MinScore: quality.DefaultMinScore,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.OverallTimeout <= 0 {
		c.OverallTimeout = def.OverallTimeout
	}
	if c.Stages.Validating <= 0 {
		c.Stages.Validating = def.Stages.Validating
	}
	if c.Stages.Knowledge <= 0 {
		c.Stages.Knowledge = def.Stages.Knowledge
	}
	if c.Stages.Assembling <= 0 {
		c.Stages.Assembling = def.Stages.Assembling
	}
	if c.Stages.Generating <= 0 {
		c.Stages.Generating = def.Stages.Generating
	}
	if c.Stages.OutputValidation <= 0 {
		c.Stages.OutputValidation = def.Stages.OutputValidation
	}
	if c.Stages.Finalizing <= 0 {
		c.Stages.Finalizing = def.Stages.Finalizing
	}
	if c.MinScore <= 0 {
		c.MinScore = def.MinScore
	}
	return c
}

// Coordinator drives generation sessions through the pipeline stages.
// It is safe for concurrent use; every session carries its own state.
type Coordinator struct {
	router    *service.Router
	fetcher   *fetch.Fetcher
	completer llm.Completer
	assembler *prompt.Assembler
	validator *quality.Validator
	cfg       Config
	logger    *slog.Logger
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithLogger sets the coordinator logger.
func WithLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithAssembler replaces the default prompt assembler.
func WithAssembler(a *prompt.Assembler) CoordinatorOption {
	return func(c *Coordinator) {
		if a != nil {
			c.assembler = a
		}
	}
}

// WithValidator replaces the default quality validator.
func WithValidator(v *quality.Validator) CoordinatorOption {
	return func(c *Coordinator) {
		if v != nil {
			c.validator = v
		}
	}
}

// NewCoordinator wires the pipeline together. Router and fetcher may be
// nil when the deployment has no knowledge services; sessions then run
// on the idea alone.
func NewCoordinator(router *service.Router, fetcher *fetch.Fetcher, completer llm.Completer, cfg Config, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		router:    router,
		fetcher:   fetcher,
		completer: completer,
		assembler: prompt.NewAssembler(),
		validator: quality.NewValidator(),
		cfg:       cfg.withDefaults(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start begins a session and returns immediately. The caller consumes
// progress through Session.Events and the outcome through Session.Result.
func (c *Coordinator) Start(ctx context.Context, req input.Request) *Session {
	s := newSession()
	go c.run(ctx, req, s)
	return s
}

// Run executes a session to completion, discarding progress events.
func (c *Coordinator) Run(ctx context.Context, req input.Request) Result {
	s := c.Start(ctx, req)
	for range s.Events() {
	}
	return s.result
}

func (c *Coordinator) run(ctx context.Context, req input.Request, s *Session) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.OverallTimeout)
	defer cancel()

	logger := c.logger.With("session_id", s.ID)

	c.enterStage(s, StageValidating)
	req = input.Normalize(req)
	if err := input.Validate(req); err != nil {
		c.finish(s, logger, c.failure(s, ReasonValidation, err))
		return
	}
	logger.Info("Session started",
		"idea_runes", len([]rune(req.Idea)),
		"has_link", req.Link != "")

	c.enterStage(s, StageAcquiringKnowledge)
	frags := c.acquireKnowledge(ctx, req, logger)

	c.enterStage(s, StageAssembling)
	promptText, stats := c.assembler.Assemble(req.Idea, frags)

	c.enterStage(s, StageGenerating)
	gctx, gcancel := context.WithTimeout(ctx, c.cfg.Stages.Generating)
	resp, err := c.completer.Complete(gctx, llm.Request{
		Messages: []llm.Message{{Role: "user", Content: promptText}},
	})
	gcancel()
	if err != nil {
		reason := ReasonModelError
		if errors.Is(err, context.DeadlineExceeded) {
			reason = ReasonGenerationTimeout
		}
		res := c.failure(s, reason, err)
		res.Fetches = summarizeFetches(frags)
		res.PromptStats = stats
		c.finish(s, logger, res)
		return
	}
	if strings.TrimSpace(resp.Content) == "" {
		res := c.failure(s, ReasonEmptyOutput, errors.New("model returned empty output"))
		res.Fetches = summarizeFetches(frags)
		res.PromptStats = stats
		res.Model = resp.Model
		c.finish(s, logger, res)
		return
	}

	c.enterStage(s, StageValidatingOutput)
	p, report := c.validator.Validate(resp.Content)
	metrics.QualityScore.Observe(float64(report.Score))
	if missing := report.CoreSectionsMissing(); len(missing) > 0 {
		res := c.failure(s, ReasonInvalidOutput,
			fmt.Errorf("core sections missing: %s", strings.Join(missing, ", ")))
		res.Report = report
		res.Markdown = p.Markdown()
		res.Fetches = summarizeFetches(frags)
		res.PromptStats = stats
		res.Model = resp.Model
		c.finish(s, logger, res)
		return
	}

	c.enterStage(s, StageFinalizing)
	res := Result{
		SessionID:   s.ID,
		Status:      c.status(frags, report),
		Plan:        p,
		Prompts:     plan.BuildPromptSet(p),
		Report:      report,
		Markdown:    p.Markdown(),
		Fetches:     summarizeFetches(frags),
		PromptStats: stats,
		Model:       resp.Model,
	}
	c.finish(s, logger, res)
}

// acquireKnowledge routes the link and fans out to the selected services.
// Requests without a link, or deployments without routing, skip straight
// through with no fragments.
func (c *Coordinator) acquireKnowledge(ctx context.Context, req input.Request, logger *slog.Logger) []fetch.Fragment {
	if req.Link == "" || c.router == nil || c.fetcher == nil {
		return nil
	}
	selected := c.router.Route(req.Link, req.Idea)
	if len(selected) == 0 {
		return nil
	}
	fctx, fcancel := context.WithTimeout(ctx, c.cfg.Stages.Knowledge)
	defer fcancel()
	frags := c.fetcher.FetchAll(fctx, selected, fetch.Query{Link: req.Link, Idea: req.Idea})

	succeeded := 0
	for _, f := range frags {
		if f.Success {
			succeeded++
		}
	}
	logger.Info("Knowledge acquired",
		"services", len(selected),
		"succeeded", succeeded)
	return frags
}

// status decides between success and degraded for a completed session:
// degraded when any routed service failed to contribute or the quality
// score fell below the acceptance threshold.
func (c *Coordinator) status(frags []fetch.Fragment, report quality.Report) Status {
	if report.Score < c.cfg.MinScore {
		return StatusDegraded
	}
	for _, f := range frags {
		if !f.Success {
			return StatusDegraded
		}
	}
	return StatusSuccess
}

func (c *Coordinator) failure(s *Session, reason FailureReason, err error) Result {
	res := Result{
		SessionID: s.ID,
		Status:    StatusFailed,
		Reason:    reason,
	}
	if err != nil {
		res.Error = err.Error()
		res.err = err
	}
	return res
}

// enterStage records the previous stage's duration, advances the session,
// and emits the entry event.
func (c *Coordinator) enterStage(s *Session, st Stage) {
	c.observeStage(s)
	s.stage = st
	s.stageStart = time.Now()
	s.emit(ProgressEvent{
		SessionID: s.ID,
		Stage:     st,
		Percent:   st.percent(),
		Elapsed:   s.elapsed(),
		Message:   st.message(),
	})
}

func (c *Coordinator) observeStage(s *Session) {
	if s.stage == "" {
		return
	}
	metrics.StageDuration.WithLabelValues(string(s.stage)).
		Observe(time.Since(s.stageStart).Seconds())
}

// finish stores the result, emits the terminal event, and closes the
// session channels. A failed session reports the percent floor of the
// stage it died in rather than jumping to 100.
func (c *Coordinator) finish(s *Session, logger *slog.Logger, res Result) {
	c.observeStage(s)
	res.Elapsed = s.elapsed()
	s.result = res
	metrics.Sessions.WithLabelValues(string(res.Status)).Inc()

	ev := ProgressEvent{
		SessionID: s.ID,
		Stage:     StageDone,
		Percent:   StageDone.percent(),
		Elapsed:   res.Elapsed,
		Message:   StageDone.message(),
		Status:    res.Status,
		Reason:    res.Reason,
	}
	if res.Status == StatusFailed {
		ev.Stage = StageFailed
		ev.Percent = s.stage.percent()
		ev.Message = fmt.Sprintf("Generation failed: %s", res.Reason)
		logger.Warn("Session failed",
			"reason", res.Reason,
			"stage", s.stage,
			"error", res.Error,
			"elapsed", res.Elapsed)
	} else {
		logger.Info("Session finished",
			"status", res.Status,
			"score", res.Report.Score,
			"sections", len(res.Plan.Sections),
			"prompts", len(res.Prompts.Prompts),
			"elapsed", res.Elapsed)
	}
	s.stage = ev.Stage
	s.emit(ev)
	close(s.events)
	close(s.done)
}
