package sqlward

import (
	"github.com/mhollas/sqlward/internal/exec"
	"github.com/mhollas/sqlward/internal/plan"
	"github.com/mhollas/sqlward/internal/writeflow"
)

// SQLRequest is a direct SQL execution request.
type SQLRequest struct {
	SQL string `json:"sql"`
}

// AskRequest is a natural-language query request.
type AskRequest struct {
	Question string `json:"question"`
}

// PlanStep mirrors one executed (or skipped) step of a multi-step plan in
// the response.
type PlanStep struct {
	Step        int    `json:"step"`
	SQL         string `json:"sql"`
	Explanation string `json:"explanation,omitempty"`
	Skipped     bool   `json:"skipped"`
	SkipReason  string `json:"skip_reason,omitempty"`
}

// QueryResponse is the outcome of ExecuteSQL and Ask. For multi-step plans
// SQL and Result reflect the last non-skipped step and Steps carries the
// full trace.
type QueryResponse struct {
	SQL         string       `json:"sql"`
	Explanation string       `json:"explanation,omitempty"`
	Result      *exec.Result `json:"result"`
	Warnings    []string     `json:"warnings,omitempty"`
	Steps       []PlanStep   `json:"steps,omitempty"`
}

// WritePreviewRequest asks for a non-mutating preview of a destructive
// request against one table.
type WritePreviewRequest struct {
	Table   string `json:"table"`
	Request string `json:"request"`
}

// WriteExecuteRequest carries the explicit confirmation for a previewed
// destructive operation.
type WriteExecuteRequest struct {
	Table     string `json:"table"`
	TargetID  int64  `json:"target_id"`
	Confirmed bool   `json:"confirmed"`
}

// WritePreview re-exports the workflow preview.
type WritePreview = writeflow.Preview

// WriteResult re-exports the workflow execute result.
type WriteResult = writeflow.ExecuteResult

// GeneratedSQL is the collaborator's answer to a single-statement question.
type GeneratedSQL struct {
	SQL         string `json:"sql"`
	Explanation string `json:"explanation"`
}

// QueryPlan re-exports the multi-step plan consumed by Ask.
type QueryPlan = plan.Plan

// PlanStepInput re-exports one plan step as produced by the collaborator.
type PlanStepInput = plan.Step
