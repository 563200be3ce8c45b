// Package plan models multi-step query plans for compound natural-language
// intents ("insert the user if not already present") and runs them with
// dependency-aware skipping.
//
// Steps execute strictly sequentially on one connection; later steps depend
// on the skip state and results of earlier ones, so there is no parallelism
// to exploit. Skip propagation is forward-only and looks exactly one step
// ahead of an existence check.
package plan

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mhollas/sqlward/internal/exec"
	"github.com/mhollas/sqlward/internal/sqlerr"
)

// SkipReasonExists is the reason recorded when an existence check finds the
// entity already present, the classic idempotent insert-if-not-exists
// pattern.
const SkipReasonExists = "Entity already exists"

// Step is one statement in a plan. Numbers are 1-based and contiguous.
type Step struct {
	Number            int    `json:"step"`
	SQL               string `json:"sql"`
	Explanation       string `json:"explanation"`
	DependsOnPrevious bool   `json:"depends_on_previous"`
	CheckExistence    bool   `json:"check_existence"`
	Skipped           bool   `json:"skipped"`
	SkipReason        string `json:"skip_reason,omitempty"`
}

// Plan is an ordered sequence of steps, created once per multi-step request
// and consumed entirely within that request.
type Plan struct {
	Steps                        []Step `json:"steps"`
	RequiresDependencyResolution bool   `json:"requires_dependency_resolution"`
}

// IsMultiStep reports whether the plan needs the runner at all; single-step
// plans execute through the ordinary pipeline.
func (p *Plan) IsMultiStep() bool {
	return len(p.Steps) > 1
}

// Validate checks structural invariants: at least one step, contiguous
// 1-based numbering, non-empty SQL.
func (p *Plan) Validate() error {
	if len(p.Steps) == 0 {
		return sqlerr.New(sqlerr.CodeValidation, "plan has no steps")
	}
	for i, step := range p.Steps {
		if step.Number != i+1 {
			return sqlerr.New(sqlerr.CodeValidation,
				"plan step numbering must be contiguous: step at index %d has number %d", i, step.Number)
		}
		if step.SQL == "" {
			return sqlerr.New(sqlerr.CodeValidation, "plan step %d has empty SQL", step.Number)
		}
	}
	return nil
}

// StatementExecutor validates and executes one SQL statement on the
// connection owned by the current plan run. The engine binds its validator
// and executor to a single rented connection and passes the result here.
type StatementExecutor interface {
	ExecuteStatement(ctx context.Context, sql string) (*exec.Result, error)
}

// StepOutcome pairs a step with its execution result. Result is nil for
// skipped steps.
type StepOutcome struct {
	Step   Step
	Result *exec.Result
}

// Outcome is the result of running a plan. FinalSQL and FinalResult are
// those of the last non-skipped step.
type Outcome struct {
	Steps       []StepOutcome
	FinalSQL    string
	FinalResult *exec.Result
}

// Runner drives plan execution.
type Runner struct {
	executor StatementExecutor
	logger   zerolog.Logger
}

// NewRunner creates a new Runner.
func NewRunner(executor StatementExecutor, logger zerolog.Logger) *Runner {
	return &Runner{executor: executor, logger: logger}
}

// Run executes the plan's steps in order:
//
//  1. If the previous step was skipped and this step depends on it, the
//     step is skipped with the same reason and its SQL never executes.
//  2. An existence-check step executes its COUNT probe and records the
//     result; when the probe finds the entity, the immediately following
//     step is marked skipped and its SQL never executes.
//  3. Anything else executes normally.
//
// A step failure aborts the run; already-executed steps are not rolled back
// here, the caller owns transaction scope.
func (r *Runner) Run(ctx context.Context, p *Plan) (*Outcome, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	outcome := &Outcome{Steps: make([]StepOutcome, 0, len(p.Steps))}
	prevSkipped := false
	prevReason := ""
	nextSkipReason := ""

	for i := range p.Steps {
		step := p.Steps[i]

		switch {
		case nextSkipReason != "":
			step.Skipped = true
			step.SkipReason = nextSkipReason
			nextSkipReason = ""
		case prevSkipped && step.DependsOnPrevious:
			step.Skipped = true
			step.SkipReason = prevReason
		}

		if step.Skipped {
			r.logger.Info().
				Int("step", step.Number).
				Str("reason", step.SkipReason).
				Msg("plan step skipped")
			outcome.Steps = append(outcome.Steps, StepOutcome{Step: step})
			prevSkipped = true
			prevReason = step.SkipReason
			continue
		}

		result, err := r.executor.ExecuteStatement(ctx, step.SQL)
		if err != nil {
			return nil, fmt.Errorf("plan step %d failed: %w", step.Number, err)
		}

		if step.CheckExistence {
			count, ok := result.FirstInt()
			if !ok {
				return nil, sqlerr.New(sqlerr.CodeExecution,
					"plan step %d is an existence check but returned no countable value", step.Number)
			}
			if count > 0 {
				nextSkipReason = SkipReasonExists
			}
			r.logger.Info().
				Int("step", step.Number).
				Int64("count", count).
				Bool("entity_exists", count > 0).
				Msg("existence check executed")
		}

		outcome.Steps = append(outcome.Steps, StepOutcome{Step: step, Result: result})
		outcome.FinalSQL = step.SQL
		outcome.FinalResult = result
		prevSkipped = false
		prevReason = ""
	}

	return outcome, nil
}
