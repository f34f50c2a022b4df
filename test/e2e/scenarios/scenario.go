// Package scenarios defines the e2e scenarios and their contract.
package scenarios

import (
	"context"
	"sync"
	"time"
)

// Scenario is one end-to-end exercise of a running stack: a planwright
// server, the mock model server, and the mock knowledge server.
type Scenario interface {
	// Name returns the scenario name for identification and reporting.
	Name() string

	// Description says what the scenario proves.
	Description() string

	// Setup prepares the scenario environment before execution.
	Setup(ctx context.Context) error

	// Execute runs the scenario. Assertion failures land in the returned
	// Result; an error is reserved for the harness itself breaking.
	Execute(ctx context.Context) (*Result, error)

	// Teardown cleans up after the scenario execution.
	Teardown(ctx context.Context) error
}

// Result contains the outcome of a scenario execution.
// All methods are safe for concurrent use.
type Result struct {
	mu sync.Mutex `json:"-"`

	ScenarioName string        `json:"scenario_name"`
	StartTime    time.Time     `json:"start_time"`
	EndTime      time.Time     `json:"end_time"`
	Duration     time.Duration `json:"duration"`

	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`

	// Metrics contains timing and count metrics from the scenario.
	Metrics map[string]any `json:"metrics,omitempty"`

	// Details contains scenario-specific output data.
	Details map[string]any `json:"details,omitempty"`

	// Errors contains all errors encountered during execution.
	Errors []string `json:"errors,omitempty"`

	// Warnings contains non-fatal issues encountered.
	Warnings []string `json:"warnings,omitempty"`

	// Stages tracks completion of each stage in the scenario.
	Stages []StageResult `json:"stages,omitempty"`
}

// StageResult represents the outcome of a single stage in a scenario.
type StageResult struct {
	Name     string        `json:"name"`
	Success  bool          `json:"success"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// NewResult creates a new Result initialized for the given scenario.
func NewResult(scenarioName string) *Result {
	return &Result{
		ScenarioName: scenarioName,
		StartTime:    time.Now(),
		Metrics:      make(map[string]any),
		Details:      make(map[string]any),
	}
}

// Complete marks the result as complete, setting end time and duration.
func (r *Result) Complete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.EndTime = time.Now()
	r.Duration = r.EndTime.Sub(r.StartTime)
}

// AddError adds an error to the result.
func (r *Result) AddError(err string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Errors = append(r.Errors, err)
}

// AddWarning adds a warning to the result.
func (r *Result) AddWarning(warning string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Warnings = append(r.Warnings, warning)
}

// AddStage adds a completed stage to the result.
func (r *Result) AddStage(name string, success bool, duration time.Duration, err string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Stages = append(r.Stages, StageResult{
		Name:     name,
		Success:  success,
		Duration: duration,
		Error:    err,
	})
}

// SetMetric sets a metric value.
func (r *Result) SetMetric(key string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Metrics[key] = value
}

// SetDetail sets a detail value.
func (r *Result) SetDetail(key string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Details[key] = value
}

// checker runs named stages against one result, remembering whether
// every stage so far passed.
type checker struct {
	result *Result
	ok     bool
}

func newChecker(result *Result) *checker {
	return &checker{result: result, ok: true}
}

// run times fn and records it as a stage; a failure flips the checker
// and is also kept in the error list.
func (c *checker) run(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	if err != nil {
		c.ok = false
		c.result.AddStage(name, false, time.Since(start), err.Error())
		c.result.AddError(name + ": " + err.Error())
		return err
	}
	c.result.AddStage(name, true, time.Since(start), "")
	return nil
}

// finish folds the stage outcomes into the result's terminal fields.
func (c *checker) finish() {
	c.result.Success = c.ok
	if !c.ok && c.result.Error == "" && len(c.result.Errors) > 0 {
		c.result.Error = c.result.Errors[0]
	}
	c.result.Complete()
}
