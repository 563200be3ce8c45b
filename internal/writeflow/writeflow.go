// Package writeflow implements the confirmation workflow for destructive
// requests phrased as "delete X by name". A request never mutates anything on
// first contact: the workflow resolves candidate rows, computes the cascade
// impact of deleting each one, and only executes after an explicit
// confirmation carrying the resolved target id.
//
// The execute phase runs inside a caller-owned transaction so the audit
// record and the delete commit or roll back together.
package writeflow

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pg_query "github.com/pganalyze/pg_query_go/v6"
	"github.com/rs/zerolog"

	"github.com/mhollas/sqlward/internal/exec"
	"github.com/mhollas/sqlward/internal/sanitize"
	"github.com/mhollas/sqlward/internal/sqlerr"
	"github.com/mhollas/sqlward/internal/validate"
)

// Phase is the workflow state reported to the caller.
type Phase string

const (
	PhaseMatching          Phase = "matching"
	PhaseError             Phase = "error"
	PhaseDisambiguation    Phase = "disambiguation"
	PhaseConfirmation      Phase = "confirmation"
	PhaseBatchConfirmation Phase = "batch_confirmation"
	PhaseCompleted         Phase = "completed"
)

// DB is the subset of command execution the workflow needs. *pgx.Conn,
// *pgxpool.Conn, and pgx.Tx all satisfy it; Execute must be handed a pgx.Tx
// so the audit insert and the delete share one transaction.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// WhereDeriver turns a natural-language target description into a WHERE
// clause fragment ("WHERE ..."). Implementations must emit standard SQL with
// no vendor extensions; the workflow re-checks the fragment before use and
// rejects anything it cannot verify.
type WhereDeriver interface {
	DeriveWhere(ctx context.Context, request, schemaContext string) (string, error)
}

// Relation is one foreign-key path from the target table whose rows go away
// when the target row is deleted. CountSQL must be a parameterized query
// taking the target id as $1 and returning a single count.
type Relation struct {
	Name     string
	CountSQL string
}

// RelationImpact is the per-relation slice of a cascade impact report.
type RelationImpact struct {
	Relation string `json:"relation"`
	Count    int64  `json:"count"`
}

// Impact reports what a delete would remove. TotalRecords is always the
// target row itself plus every counted child row.
type Impact struct {
	TargetID     int64            `json:"target_id"`
	Relations    []RelationImpact `json:"relations"`
	TotalRecords int64            `json:"total_records"`
}

// BatchImpact aggregates Impact across every target of a batch request.
type BatchImpact struct {
	TargetCount  int64            `json:"target_count"`
	Relations    []RelationImpact `json:"relations"`
	TotalRecords int64            `json:"total_records"`
	PerTarget    []Impact         `json:"per_target"`
}

// Preview is the response of the non-mutating phase. Exactly one of Impact
// and BatchImpact is set, and only when the phase requires confirmation.
type Preview struct {
	Phase         Phase                    `json:"phase"`
	Message       string                   `json:"message"`
	Candidates    []map[string]interface{} `json:"candidates,omitempty"`
	Impact        *Impact                  `json:"impact,omitempty"`
	BatchImpact   *BatchImpact             `json:"batch_impact,omitempty"`
	SafetyWarning string                   `json:"safety_warning,omitempty"`
	WhereClause   string                   `json:"-"`
}

// ConfirmationRequest carries the caller's explicit go-ahead for one target.
type ConfirmationRequest struct {
	TargetID  int64  `json:"target_id"`
	Operation string `json:"operation"`
	Confirmed bool   `json:"confirmed"`
}

// AuditRecord is the durable pre-image written in the same transaction as
// the delete it documents. Never updated after insert.
type AuditRecord struct {
	ID          string    `json:"id"`
	Operation   string    `json:"operation"`
	TableName   string    `json:"table_name"`
	RecordID    int64     `json:"record_id"`
	Snapshot    string    `json:"record_snapshot"`
	ImpactJSON  string    `json:"cascade_impact"`
	PerformedBy string    `json:"performed_by"`
	PerformedAt time.Time `json:"performed_at"`
}

// ExecuteResult is the outcome of a committed delete.
type ExecuteResult struct {
	Phase       Phase   `json:"phase"`
	TargetID    int64   `json:"target_id"`
	DeletedRows int64   `json:"deleted_rows"`
	Impact      *Impact `json:"impact"`
	AuditLogged bool    `json:"audit_logged"`
	AuditID     string  `json:"audit_id"`
	Message     string  `json:"message"`
}

// Config describes the table the workflow operates on. The relation set is
// passed per call because it comes from live FK introspection.
type Config struct {
	// Table is the target table name.
	Table string
	// KeyColumn is the primary key column, present in candidate rows.
	KeyColumn string
	// PreviewColumns are selected for candidate rows shown to the caller.
	PreviewColumns []string
	// MatchLimit bounds the candidate SELECT for single-target requests.
	MatchLimit int
	// AuditTable receives AuditRecords.
	AuditTable string
	// PerformedBy is recorded as the audit actor.
	PerformedBy string
}

// Workflow resolves, previews, and executes destructive requests against one
// table.
type Workflow struct {
	config  Config
	deriver WhereDeriver
	scanner *sanitize.Scanner
	logger  zerolog.Logger
}

var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// New creates a Workflow. Panics on a config that could never work.
func New(config Config, deriver WhereDeriver, logger zerolog.Logger) *Workflow {
	if !identRe.MatchString(config.Table) {
		panic(fmt.Sprintf("writeflow: invalid table name %q", config.Table))
	}
	if !identRe.MatchString(config.KeyColumn) {
		panic(fmt.Sprintf("writeflow: invalid key column %q", config.KeyColumn))
	}
	for _, col := range config.PreviewColumns {
		if !identRe.MatchString(col) {
			panic(fmt.Sprintf("writeflow: invalid preview column %q", col))
		}
	}
	if len(config.PreviewColumns) == 0 {
		config.PreviewColumns = []string{config.KeyColumn}
	}
	if config.MatchLimit <= 0 {
		config.MatchLimit = 10
	}
	if config.AuditTable == "" {
		config.AuditTable = "audit_log"
	}
	if !identRe.MatchString(config.AuditTable) {
		panic(fmt.Sprintf("writeflow: invalid audit table %q", config.AuditTable))
	}
	if config.PerformedBy == "" {
		config.PerformedBy = "api_user"
	}
	return &Workflow{
		config:  config,
		deriver: deriver,
		scanner: sanitize.NewScanner(),
		logger:  logger,
	}
}

var batchWords = regexp.MustCompile(`\b(all|every|batch|multiple|inactive)\b`)

// IsBatchRequest reports whether the request names multiple targets rather
// than one entity.
func IsBatchRequest(request string) bool {
	return batchWords.MatchString(strings.ToLower(request))
}

// Preview resolves candidates for a destructive request without mutating
// anything. Batch-flavored requests get the aggregated batch treatment, all
// others the single-target phases. Relations come from live FK introspection
// and feed the impact counts.
func (w *Workflow) Preview(ctx context.Context, db DB, request, schemaContext string, relations []Relation) (*Preview, error) {
	where, err := w.deriveWhere(ctx, request, schemaContext)
	if err != nil {
		return nil, err
	}

	if IsBatchRequest(request) {
		return w.previewBatch(ctx, db, where, relations)
	}
	return w.previewSingle(ctx, db, where, relations)
}

func (w *Workflow) previewSingle(ctx context.Context, db DB, where string, relations []Relation) (*Preview, error) {
	candidates, err := w.fetchCandidates(ctx, db, where, w.config.MatchLimit)
	if err != nil {
		return nil, err
	}

	switch len(candidates) {
	case 0:
		return &Preview{
			Phase:       PhaseError,
			Message:     fmt.Sprintf("No matching rows found in %s", w.config.Table),
			WhereClause: where,
		}, nil
	case 1:
		id, err := w.candidateID(candidates[0])
		if err != nil {
			return nil, err
		}
		impact, err := w.ComputeImpact(ctx, db, id, relations)
		if err != nil {
			return nil, err
		}
		return &Preview{
			Phase:       PhaseConfirmation,
			Message:     fmt.Sprintf("Found one match in %s. Deleting it removes %d record(s) in total. Confirm to proceed.", w.config.Table, impact.TotalRecords),
			Candidates:  candidates,
			Impact:      impact,
			WhereClause: where,
		}, nil
	default:
		return &Preview{
			Phase:       PhaseDisambiguation,
			Message:     fmt.Sprintf("Found %d matches in %s. Narrow the request to a single target.", len(candidates), w.config.Table),
			Candidates:  candidates,
			WhereClause: where,
		}, nil
	}
}

func (w *Workflow) previewBatch(ctx context.Context, db DB, where string, relations []Relation) (*Preview, error) {
	candidates, err := w.fetchCandidates(ctx, db, where, 0)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return &Preview{
			Phase:       PhaseError,
			Message:     fmt.Sprintf("No matching rows found in %s", w.config.Table),
			WhereClause: where,
		}, nil
	}

	batch := &BatchImpact{TargetCount: int64(len(candidates))}
	totals := make(map[string]int64)
	order := []string{}
	for _, candidate := range candidates {
		id, err := w.candidateID(candidate)
		if err != nil {
			return nil, err
		}
		impact, err := w.ComputeImpact(ctx, db, id, relations)
		if err != nil {
			return nil, err
		}
		batch.PerTarget = append(batch.PerTarget, *impact)
		batch.TotalRecords += impact.TotalRecords
		for _, rel := range impact.Relations {
			if _, seen := totals[rel.Relation]; !seen {
				order = append(order, rel.Relation)
			}
			totals[rel.Relation] += rel.Count
		}
	}
	for _, name := range order {
		batch.Relations = append(batch.Relations, RelationImpact{Relation: name, Count: totals[name]})
	}

	return &Preview{
		Phase:       PhaseBatchConfirmation,
		Message:     fmt.Sprintf("Batch request matches %d rows in %s, removing %d record(s) in total.", len(candidates), w.config.Table, batch.TotalRecords),
		Candidates:  candidates,
		BatchImpact: batch,
		SafetyWarning: fmt.Sprintf(
			"This is a batch destructive operation affecting %d target rows and cannot be undone. Review every candidate before confirming.",
			len(candidates)),
		WhereClause: where,
	}, nil
}

// ComputeImpact counts the rows a delete of targetID would remove across the
// given relations. The returned total is always 1 plus the sum of the per
// relation counts.
func (w *Workflow) ComputeImpact(ctx context.Context, db DB, targetID int64, relations []Relation) (*Impact, error) {
	impact := &Impact{TargetID: targetID, TotalRecords: 1}
	for _, rel := range relations {
		rows, err := db.Query(ctx, rel.CountSQL, targetID)
		if err != nil {
			return nil, sqlerr.Wrap(sqlerr.CodeExecution, err, "impact count for %s failed", rel.Name)
		}
		result, err := exec.CollectRows(rows, validate.StatementSelect)
		if err != nil {
			return nil, sqlerr.Wrap(sqlerr.CodeExecution, err, "impact count for %s failed", rel.Name)
		}
		count, ok := result.FirstInt()
		if !ok {
			return nil, sqlerr.New(sqlerr.CodeExecution, "impact count for %s returned no countable value", rel.Name)
		}
		impact.Relations = append(impact.Relations, RelationImpact{Relation: rel.Name, Count: count})
		impact.TotalRecords += count
	}
	return impact, nil
}

// Execute performs the confirmed delete inside tx. The caller owns the
// transaction and must roll it back when Execute returns an error. The audit
// record is inserted before the delete so both share the commit.
func (w *Workflow) Execute(ctx context.Context, tx DB, req ConfirmationRequest, relations []Relation) (*ExecuteResult, error) {
	if !req.Confirmed {
		return nil, sqlerr.New(sqlerr.CodeValidation, "destructive operation requires explicit confirmation")
	}
	if req.TargetID <= 0 {
		return nil, sqlerr.New(sqlerr.CodeValidation, "confirmation is missing a valid target id")
	}

	snapshot, err := w.fetchSnapshot(ctx, tx, req.TargetID)
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		return nil, sqlerr.New(sqlerr.CodeNotFound, "%s row %d no longer exists", w.config.Table, req.TargetID)
	}

	impact, err := w.ComputeImpact(ctx, tx, req.TargetID, relations)
	if err != nil {
		return nil, err
	}

	record, err := w.insertAudit(ctx, tx, req, snapshot, impact)
	if err != nil {
		return nil, err
	}

	deleteSQL := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", w.config.Table, w.config.KeyColumn)
	tag, err := tx.Exec(ctx, deleteSQL, req.TargetID)
	if err != nil {
		return nil, sqlerr.Wrap(sqlerr.CodeExecution, err, "delete failed: %v", err)
	}

	w.logger.Info().
		Str("table", w.config.Table).
		Int64("target_id", req.TargetID).
		Int64("deleted_rows", tag.RowsAffected()).
		Int64("total_records", impact.TotalRecords).
		Str("audit_id", record.ID).
		Msg("destructive operation executed")

	return &ExecuteResult{
		Phase:       PhaseCompleted,
		TargetID:    req.TargetID,
		DeletedRows: tag.RowsAffected(),
		Impact:      impact,
		AuditLogged: true,
		AuditID:     record.ID,
		Message:     fmt.Sprintf("Deleted %s row %d (%d record(s) including cascades)", w.config.Table, req.TargetID, impact.TotalRecords),
	}, nil
}

// deriveWhere obtains the WHERE fragment from the collaborator and verifies
// it lexically and syntactically before it gets anywhere near a query.
func (w *Workflow) deriveWhere(ctx context.Context, request, schemaContext string) (string, error) {
	if w.deriver == nil {
		return "", sqlerr.New(sqlerr.CodeConfiguration, "no matching-condition deriver configured")
	}
	fragment, err := w.deriver.DeriveWhere(ctx, request, schemaContext)
	if err != nil {
		return "", sqlerr.Wrap(sqlerr.CodeGeneration, err, "failed to derive matching condition: %v", err)
	}
	fragment = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(fragment), ";"))
	if !strings.HasPrefix(strings.ToUpper(fragment), "WHERE ") {
		return "", sqlerr.New(sqlerr.CodeGeneration, "derived matching condition is not a WHERE clause").
			WithDetail("fragment", fragment)
	}
	if err := w.scanner.Check(fragment, false, true); err != nil {
		return "", err
	}
	probe := fmt.Sprintf("SELECT 1 FROM %s %s", w.config.Table, fragment)
	parsed, err := pg_query.Parse(probe)
	if err != nil {
		return "", sqlerr.Wrap(sqlerr.CodeSyntax, err, "derived matching condition does not parse").
			WithDetail("fragment", fragment)
	}
	if len(parsed.Stmts) != 1 {
		return "", sqlerr.New(sqlerr.CodeInjection, "derived matching condition contains multiple statements").
			WithDetail("fragment", fragment)
	}
	return fragment, nil
}

// fetchCandidates runs the bounded (or, for batch, unbounded) matching
// SELECT and returns candidate rows.
func (w *Workflow) fetchCandidates(ctx context.Context, db DB, where string, limit int) ([]map[string]interface{}, error) {
	query := fmt.Sprintf("SELECT %s FROM %s %s ORDER BY %s",
		strings.Join(w.config.PreviewColumns, ", "), w.config.Table, where, w.config.KeyColumn)
	if limit > 0 {
		query = fmt.Sprintf("%s LIMIT %d", query, limit)
	}
	rows, err := db.Query(ctx, query)
	if err != nil {
		return nil, sqlerr.Wrap(sqlerr.CodeExecution, err, "candidate lookup failed: %v", err)
	}
	result, err := exec.CollectRows(rows, validate.StatementSelect)
	if err != nil {
		return nil, sqlerr.Wrap(sqlerr.CodeExecution, err, "candidate lookup failed: %v", err)
	}
	return result.Rows, nil
}

// fetchSnapshot returns the target row as a map, or nil when it is gone.
func (w *Workflow) fetchSnapshot(ctx context.Context, db DB, targetID int64) (map[string]interface{}, error) {
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s = $1", w.config.Table, w.config.KeyColumn)
	rows, err := db.Query(ctx, query, targetID)
	if err != nil {
		return nil, sqlerr.Wrap(sqlerr.CodeExecution, err, "snapshot fetch failed: %v", err)
	}
	result, err := exec.CollectRows(rows, validate.StatementSelect)
	if err != nil {
		return nil, sqlerr.Wrap(sqlerr.CodeExecution, err, "snapshot fetch failed: %v", err)
	}
	if len(result.Rows) == 0 {
		return nil, nil
	}
	return result.Rows[0], nil
}

func (w *Workflow) insertAudit(ctx context.Context, tx DB, req ConfirmationRequest, snapshot map[string]interface{}, impact *Impact) (*AuditRecord, error) {
	snapshotJSON, err := json.Marshal(snapshot)
	if err != nil {
		return nil, sqlerr.Wrap(sqlerr.CodeExecution, err, "failed to serialize pre-image snapshot")
	}
	impactJSON, err := json.Marshal(impact)
	if err != nil {
		return nil, sqlerr.Wrap(sqlerr.CodeExecution, err, "failed to serialize cascade impact")
	}

	operation := req.Operation
	if operation == "" {
		operation = "DELETE"
	}
	record := &AuditRecord{
		ID:          uuid.New().String(),
		Operation:   operation,
		TableName:   w.config.Table,
		RecordID:    req.TargetID,
		Snapshot:    string(snapshotJSON),
		ImpactJSON:  string(impactJSON),
		PerformedBy: w.config.PerformedBy,
		PerformedAt: time.Now().UTC(),
	}

	insertSQL := fmt.Sprintf(
		"INSERT INTO %s (id, operation_type, table_name, record_id, record_snapshot, cascade_impact, performed_by, performed_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
		w.config.AuditTable)
	if _, err := tx.Exec(ctx, insertSQL,
		record.ID, record.Operation, record.TableName, record.RecordID,
		record.Snapshot, record.ImpactJSON, record.PerformedBy, record.PerformedAt); err != nil {
		return nil, sqlerr.Wrap(sqlerr.CodeExecution, err, "audit insert failed")
	}
	return record, nil
}

// candidateID extracts the key column value from a candidate row.
func (w *Workflow) candidateID(candidate map[string]interface{}) (int64, error) {
	switch v := candidate[w.config.KeyColumn].(type) {
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	default:
		return 0, sqlerr.New(sqlerr.CodeExecution,
			"candidate row has no usable %s value", w.config.KeyColumn)
	}
}
