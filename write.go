package sqlward

import (
	"context"

	"github.com/mhollas/sqlward/internal/sqlerr"
	"github.com/mhollas/sqlward/internal/writeflow"
)

// maxPreviewColumns caps how many columns a candidate preview carries so the
// disambiguation payload stays readable.
const maxPreviewColumns = 8

// PreviewWrite resolves a natural-language destructive request against a
// table without deleting anything. The response phase tells the caller what
// to do next: show candidates for disambiguation, ask for confirmation with
// the cascade impact attached, or report that nothing matched.
func (e *Engine) PreviewWrite(ctx context.Context, req WritePreviewRequest) (*WritePreview, error) {
	gen, err := e.requireGenerator()
	if err != nil {
		return nil, err
	}
	if req.Table == "" {
		return nil, sqlerr.New(sqlerr.CodeValidation, "table must not be empty")
	}
	if req.Request == "" {
		return nil, sqlerr.New(sqlerr.CodeValidation, "request must not be empty")
	}

	if err := e.acquireSlot(ctx, "PreviewWrite"); err != nil {
		return nil, err
	}
	defer e.releaseSlot()

	desc, keyColumn, relations, err := e.writeTableShape(ctx, req.Table)
	if err != nil {
		return nil, err
	}

	workflow := e.writeWorkflow(req.Table, keyColumn, previewColumns(desc, keyColumn), gen)
	preview, err := workflow.Preview(ctx, e.pool, req.Request, formatTableSummary(desc), relations)
	if err != nil {
		return nil, e.guidance.Annotate(err)
	}

	e.logger.Info().
		Str("table", req.Table).
		Str("phase", string(preview.Phase)).
		Msg("write preview resolved")

	return preview, nil
}

// ExecuteWrite performs a previously previewed delete. The caller must set
// Confirmed; anything else is rejected before the database is touched. The
// audit insert and the delete run in one transaction, so the audit record
// exists exactly when the delete committed.
func (e *Engine) ExecuteWrite(ctx context.Context, req WriteExecuteRequest) (*WriteResult, error) {
	if req.Table == "" {
		return nil, sqlerr.New(sqlerr.CodeValidation, "table must not be empty")
	}

	if err := e.acquireSlot(ctx, "ExecuteWrite"); err != nil {
		return nil, err
	}
	defer e.releaseSlot()

	desc, keyColumn, relations, err := e.writeTableShape(ctx, req.Table)
	if err != nil {
		return nil, err
	}

	workflow := e.writeWorkflow(req.Table, keyColumn, previewColumns(desc, keyColumn), nil)

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return nil, sqlerr.Wrap(sqlerr.CodeExecution, err, "failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	result, err := workflow.Execute(ctx, tx, writeflow.ConfirmationRequest{
		TargetID:  req.TargetID,
		Operation: "delete",
		Confirmed: req.Confirmed,
	}, relations)
	if err != nil {
		return nil, e.guidance.Annotate(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, sqlerr.Wrap(sqlerr.CodeExecution, err, "failed to commit delete: %v", err)
	}

	e.logger.Info().
		Str("table", req.Table).
		Int64("target_id", result.TargetID).
		Str("audit_id", result.AuditID).
		Msg("confirmed delete committed")

	return result, nil
}

// writeTableShape introspects the target table once for both write
// operations: its description, single-column primary key, and the FK paths
// that feed impact counts.
func (e *Engine) writeTableShape(ctx context.Context, table string) (*TableDescription, string, []writeflow.Relation, error) {
	desc, err := e.describeTable(ctx, DescribeTableInput{Table: table})
	if err != nil {
		return nil, "", nil, err
	}
	if desc.Type != "table" && desc.Type != "partitioned_table" {
		return nil, "", nil, sqlerr.New(sqlerr.CodeValidation,
			"%s is a %s; destructive requests work on tables only", table, desc.Type)
	}
	keyColumn, err := primaryKeyColumn(desc)
	if err != nil {
		return nil, "", nil, err
	}

	queryCtx, cancel := e.schemaContext(ctx)
	defer cancel()
	relations, err := e.childRelations(queryCtx, desc.Schema, table)
	if err != nil {
		return nil, "", nil, err
	}
	return desc, keyColumn, relations, nil
}

// previewColumns selects the columns shown in candidate previews. The key
// column always leads, regardless of its position in the table, because
// target resolution reads the id out of the candidate rows.
func previewColumns(desc *TableDescription, keyColumn string) []string {
	cols := make([]string, 0, maxPreviewColumns)
	cols = append(cols, keyColumn)
	for _, col := range desc.Columns {
		if col.Name == keyColumn {
			continue
		}
		cols = append(cols, col.Name)
		if len(cols) == maxPreviewColumns {
			break
		}
	}
	return cols
}
