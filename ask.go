package sqlward

import (
	"context"
	"regexp"
	"strings"

	"github.com/mhollas/sqlward/internal/plan"
	"github.com/mhollas/sqlward/internal/sqlerr"
)

// Ask answers a natural-language question: the collaborator generates SQL
// from the question and a schema summary, and the result passes the same
// guarded pipeline as hand-written SQL, plus an intent check against the
// question. Compound requests are expanded into a multi-step plan whose
// steps each validate and execute individually.
func (e *Engine) Ask(ctx context.Context, req AskRequest) (*QueryResponse, error) {
	gen, err := e.requireGenerator()
	if err != nil {
		return nil, err
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, sqlerr.New(sqlerr.CodeValidation, "question cannot be empty")
	}

	if err := e.acquireSlot(ctx, "Ask"); err != nil {
		return nil, err
	}
	defer e.releaseSlot()

	schemaContext, err := e.schemaSummary(ctx, defaultSummaryTables, defaultSummarySampleRows)
	if err != nil {
		return nil, err
	}

	if needsPlan(question) {
		queryPlan, err := gen.GeneratePlan(ctx, question, schemaContext)
		if err != nil {
			return nil, sqlerr.Wrap(sqlerr.CodeGeneration, err, "failed to generate query plan: %v", err)
		}
		if queryPlan.IsMultiStep() {
			return e.runPlan(ctx, question, queryPlan)
		}
		// The collaborator judged the request simple after all.
		if len(queryPlan.Steps) == 1 {
			resp, err := e.runValidated(ctx, queryPlan.Steps[0].SQL, e.validateOptions(question))
			if err != nil {
				return nil, err
			}
			resp.Explanation = queryPlan.Steps[0].Explanation
			return resp, nil
		}
	}

	generated, err := gen.GenerateSQL(ctx, question, schemaContext)
	if err != nil {
		return nil, sqlerr.Wrap(sqlerr.CodeGeneration, err, "failed to generate SQL: %v", err)
	}

	resp, err := e.runValidated(ctx, generated.SQL, e.validateOptions(question))
	if err != nil {
		return nil, err
	}
	resp.Explanation = generated.Explanation
	return resp, nil
}

// runPlan executes a multi-step plan. Steps re-validate individually, but
// without the intent check: a compound request legitimately mixes operations
// across steps. The plan rents one connection and every step runs on it, so
// a step observes the effects of the steps before it even under pool churn.
func (e *Engine) runPlan(ctx context.Context, question string, queryPlan *QueryPlan) (*QueryResponse, error) {
	e.logger.Info().
		Int("steps", len(queryPlan.Steps)).
		Str("question", question).
		Msg("executing multi-step plan")

	conn, err := e.pool.Acquire(ctx)
	if err != nil {
		return nil, e.guidance.Annotate(sqlerr.Wrap(sqlerr.CodeExecution, err, "failed to acquire connection: %v", err))
	}

	runner := plan.NewRunner(statementRunner{engine: e, conn: conn, opts: e.validateOptions("")}, e.logger)
	outcome, err := runner.Run(ctx, queryPlan)
	if err != nil {
		// Same cleanup as the single-statement path: a timed-out
		// connection leaves the pool instead of going back in.
		if sqlerr.CodeOf(err) == sqlerr.CodeTimeout {
			conn.Hijack().Close(ctx)
		} else {
			conn.Release()
		}
		return nil, err
	}
	conn.Release()

	steps := make([]PlanStep, len(outcome.Steps))
	for i, so := range outcome.Steps {
		steps[i] = PlanStep{
			Step:        so.Step.Number,
			SQL:         so.Step.SQL,
			Explanation: so.Step.Explanation,
			Skipped:     so.Step.Skipped,
			SkipReason:  so.Step.SkipReason,
		}
	}

	resp := &QueryResponse{
		SQL:    outcome.FinalSQL,
		Result: outcome.FinalResult,
		Steps:  steps,
	}
	e.truncateIfNeeded(resp)
	return resp, nil
}

var (
	sequenceWords = regexp.MustCompile(`(?i)\b(and then|then|after that|followed by)\b`)
	actionWords   = regexp.MustCompile(`(?i)\b(add|create|insert|register|update|change|set|modify|delete|remove)\b`)
)

// needsPlan reports whether a question likely describes a compound request:
// an explicit sequencing word, or several mutating actions joined together.
func needsPlan(question string) bool {
	if sequenceWords.MatchString(question) {
		return true
	}
	actions := actionWords.FindAllString(question, -1)
	return len(actions) >= 2 && strings.Contains(strings.ToLower(question), " and ")
}
