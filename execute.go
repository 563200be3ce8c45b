package sqlward

import (
	"context"
	"encoding/json"
	"unicode/utf8"

	"github.com/mhollas/sqlward/internal/exec"
	"github.com/mhollas/sqlward/internal/sqlerr"
	"github.com/mhollas/sqlward/internal/validate"
)

// ExecuteSQL runs one SQL statement through the full guarded pipeline:
// length gate, lexical scan, parser-backed validation, limit enforcement,
// bounded execution. Errors carry stable codes and, where a guidance rule
// matches, an operator hint in the details.
func (e *Engine) ExecuteSQL(ctx context.Context, req SQLRequest) (*QueryResponse, error) {
	if err := e.acquireSlot(ctx, "ExecuteSQL"); err != nil {
		return nil, err
	}
	defer e.releaseSlot()

	return e.runValidated(ctx, req.SQL, e.validateOptions(""))
}

// validateOptions builds per-call validator options from engine config.
func (e *Engine) validateOptions(question string) validate.Options {
	return validate.Options{
		ReadOnly:     e.config.ReadOnly,
		Strict:       e.config.Query.StrictValidation,
		Question:     question,
		StrictIntent: e.config.Query.StrictIntentCheck,
	}
}

// runValidated is the slotless core pipeline shared by ExecuteSQL and Ask.
// Each call rents its own pooled connection; the caller must hold a
// semaphore slot.
func (e *Engine) runValidated(ctx context.Context, sql string, opts validate.Options) (*QueryResponse, error) {
	validated, err := e.checkAndValidate(sql, opts)
	if err != nil {
		return nil, err
	}

	conn, err := e.pool.Acquire(ctx)
	if err != nil {
		return nil, e.guidance.Annotate(sqlerr.Wrap(sqlerr.CodeExecution, err, "failed to acquire connection: %v", err))
	}

	resp, err := e.runStatement(ctx, conn, validated)
	if err != nil {
		// On timeout the connection's session state is indeterminate;
		// hijack it out of the pool and close it instead of releasing.
		if sqlerr.CodeOf(err) == sqlerr.CodeTimeout {
			conn.Hijack().Close(ctx)
		} else {
			conn.Release()
		}
		return nil, err
	}
	conn.Release()
	return resp, nil
}

// runOnConn runs the same pipeline on a caller-owned connection. The plan
// runner uses this so every step of a plan executes on the one connection
// rented for the plan's duration. Timeout cleanup stays with the owner.
func (e *Engine) runOnConn(ctx context.Context, conn exec.Querier, sql string, opts validate.Options) (*QueryResponse, error) {
	validated, err := e.checkAndValidate(sql, opts)
	if err != nil {
		return nil, err
	}
	return e.runStatement(ctx, conn, validated)
}

// checkAndValidate applies the length gate and the full validation pipeline.
func (e *Engine) checkAndValidate(sql string, opts validate.Options) (*validate.Result, error) {
	if len(sql) > e.config.Query.MaxSQLLength {
		return nil, sqlerr.New(sqlerr.CodeValidation,
			"SQL query too long: %d bytes exceeds maximum of %d bytes", len(sql), e.config.Query.MaxSQLLength)
	}
	validated, err := e.validator.Validate(sql, opts)
	if err != nil {
		return nil, e.guidance.Annotate(err)
	}
	return validated, nil
}

// runStatement executes a validated statement on conn with its resolved
// timeout budget and shapes the response.
func (e *Engine) runStatement(ctx context.Context, conn exec.Querier, validated *validate.Result) (*QueryResponse, error) {
	budget, rule := e.timeoutMgr.ResolveWithPattern(validated.SQL)

	result, err := e.executor.Run(ctx, conn, validated.Statement, budget)
	if err != nil {
		return nil, e.guidance.Annotate(err)
	}

	resp := &QueryResponse{
		SQL:      validated.SQL,
		Result:   result,
		Warnings: validated.Warnings,
	}
	if rule != "" {
		e.logger.Debug().Str("timeout_rule", rule).Msg("timeout rule applied")
	}
	e.truncateIfNeeded(resp)
	return resp, nil
}

// truncateIfNeeded drops result rows when their serialized form exceeds
// MaxResultLength characters, replacing them with a warning.
func (e *Engine) truncateIfNeeded(resp *QueryResponse) {
	if resp.Result == nil {
		return
	}
	jsonBytes, err := json.Marshal(resp.Result.Rows)
	if err != nil {
		return
	}
	if utf8.RuneCountInString(string(jsonBytes)) <= e.config.Query.MaxResultLength {
		return
	}
	resp.Result.Rows = nil
	resp.Result.RowCount = 0
	resp.Warnings = append(resp.Warnings,
		"result exceeds the configured maximum length and was dropped; add a tighter LIMIT to the query")
}

// statementRunner adapts the engine to the plan runner's executor interface.
// Each plan step passes the full validation pipeline on its own, but all
// steps share the connection rented by runPlan.
type statementRunner struct {
	engine *Engine
	conn   exec.Querier
	opts   validate.Options
}

func (r statementRunner) ExecuteStatement(ctx context.Context, sql string) (*exec.Result, error) {
	resp, err := r.engine.runOnConn(ctx, r.conn, sql, r.opts)
	if err != nil {
		return nil, err
	}
	return resp.Result, nil
}
