// Package validate parses candidate SQL with PostgreSQL's actual C parser
// (via pg_query) and enforces statement policy: exactly one statement,
// read-only mode, result limits, and operation-intent consistency against
// the originating natural-language request.
//
// The statement type is derived once from the AST here and carried as a tag;
// downstream stages never re-inspect raw text prefixes.
package validate

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"github.com/rs/zerolog"

	"github.com/mhollas/sqlward/internal/sanitize"
	"github.com/mhollas/sqlward/internal/sqlerr"
)

// StatementType is the closed classification of a parsed SQL unit.
type StatementType int

const (
	StatementSelect StatementType = iota
	StatementInsert
	StatementUpdate
	StatementDelete
	StatementDDL
	StatementOther
)

// String returns the SQL keyword for the statement type.
func (t StatementType) String() string {
	switch t {
	case StatementSelect:
		return "SELECT"
	case StatementInsert:
		return "INSERT"
	case StatementUpdate:
		return "UPDATE"
	case StatementDelete:
		return "DELETE"
	case StatementDDL:
		return "DDL"
	default:
		return "OTHER"
	}
}

// IsWrite reports whether the statement mutates rows.
func (t StatementType) IsWrite() bool {
	return t == StatementInsert || t == StatementUpdate || t == StatementDelete
}

// Statement is a parsed, classified SQL unit.
type Statement struct {
	Raw        string
	Normalized string
	Type       StatementType
}

// Config is the validator's own config type.
type Config struct {
	// MaxQueryResults is the hard ceiling for SELECT limits; existing
	// LIMIT values above it are clamped.
	MaxQueryResults int
	// DefaultQueryLimit is injected into SELECT statements without LIMIT.
	DefaultQueryLimit int
}

// Options controls a single validation call.
type Options struct {
	// ReadOnly permits only SELECT statements and runs the lexical
	// scanner in strict mode.
	ReadOnly bool
	// Strict runs the lexical scanner in strict mode even when writes are
	// allowed, turning the lenient patterns into blockers.
	Strict bool
	// Question is the originating natural-language request; when set, the
	// parsed statement type is checked against the operation the request
	// implies.
	Question string
	// StrictIntent surfaces non-fatal intent mismatches as warnings.
	// Fatal mismatches (Insert vs Delete) always block regardless.
	StrictIntent bool
}

// Result is a successful validation outcome: the normalized, limit-adjusted
// SQL plus any non-fatal warnings. Fatal cases are coded errors and can
// never be absorbed into the warnings list.
type Result struct {
	SQL       string
	Statement Statement
	Warnings  []string
}

// Validator validates candidate SQL before execution.
type Validator struct {
	config  Config
	scanner *sanitize.Scanner
	logger  zerolog.Logger
}

// NewValidator creates a new Validator. Panics on invalid config.
func NewValidator(config Config, logger zerolog.Logger) *Validator {
	if config.MaxQueryResults <= 0 {
		panic("validate: max_query_results must be > 0")
	}
	if config.DefaultQueryLimit <= 0 {
		panic("validate: default_query_limit must be > 0")
	}
	if config.DefaultQueryLimit > config.MaxQueryResults {
		panic("validate: default_query_limit must be <= max_query_results")
	}
	return &Validator{config: config, scanner: sanitize.NewScanner(), logger: logger}
}

// Validate runs the full pipeline: lexical scan, parse, single-statement and
// read-only policy, limit enforcement, intent check. The returned SQL is the
// only form that may reach the executor.
func (v *Validator) Validate(sql string, opts Options) (*Result, error) {
	sql = strings.TrimSpace(sql)
	if sql == "" {
		return nil, sqlerr.New(sqlerr.CodeValidation, "SQL query cannot be empty")
	}

	if err := v.scanner.Check(sql, !opts.ReadOnly, opts.ReadOnly || opts.Strict); err != nil {
		return nil, err
	}

	parsed, err := pg_query.Parse(sql)
	if err != nil {
		return nil, sqlerr.Wrap(sqlerr.CodeSyntax, err, "failed to parse SQL: %v", err)
	}
	if len(parsed.Stmts) == 0 {
		return nil, sqlerr.New(sqlerr.CodeSyntax, "invalid SQL syntax: no statement found")
	}
	if len(parsed.Stmts) > 1 {
		return nil, sqlerr.New(sqlerr.CodeValidation,
			"multiple SQL statements are not allowed: found %d statements", len(parsed.Stmts)).
			WithDetail("statement_count", len(parsed.Stmts))
	}

	stmtType := classify(parsed.Stmts[0].Stmt)

	if opts.ReadOnly && stmtType != StatementSelect {
		return nil, sqlerr.New(sqlerr.CodeReadOnly,
			"only SELECT queries are allowed in read-only mode, detected: %s", stmtType).
			WithDetail("detected_operation", stmtType.String())
	}
	if stmtType == StatementDDL {
		return nil, sqlerr.New(sqlerr.CodeValidation, "DDL statements are not allowed")
	}

	result := &Result{
		Statement: Statement{Raw: sql, Normalized: sql, Type: stmtType},
	}

	if opts.Question != "" {
		if err := v.checkIntent(opts.Question, stmtType, opts.StrictIntent, result); err != nil {
			return nil, err
		}
	}

	// Writes never receive automatic limit injection.
	if stmtType == StatementSelect {
		normalized, warning, err := v.enforceLimit(parsed)
		if err != nil {
			return nil, err
		}
		if warning != "" {
			result.Warnings = append(result.Warnings, warning)
		}
		result.Statement.Normalized = normalized
	} else {
		result.Statement.Normalized = strings.TrimSuffix(sql, ";")
	}
	result.SQL = result.Statement.Normalized

	v.logger.Debug().
		Str("type", stmtType.String()).
		Bool("read_only", opts.ReadOnly).
		Msg("query validated")

	return result, nil
}

// classify maps the root AST node to a statement type. A CTE whose terminal
// form is a SELECT parses as a SelectStmt and classifies as Select.
func classify(node *pg_query.Node) StatementType {
	if node == nil {
		return StatementOther
	}
	switch node.Node.(type) {
	case *pg_query.Node_SelectStmt:
		return StatementSelect
	case *pg_query.Node_InsertStmt:
		return StatementInsert
	case *pg_query.Node_UpdateStmt:
		return StatementUpdate
	case *pg_query.Node_DeleteStmt:
		return StatementDelete
	case *pg_query.Node_CreateStmt,
		*pg_query.Node_CreateTableAsStmt,
		*pg_query.Node_CreateSchemaStmt,
		*pg_query.Node_CreateSeqStmt,
		*pg_query.Node_ViewStmt,
		*pg_query.Node_IndexStmt,
		*pg_query.Node_DropStmt,
		*pg_query.Node_DropdbStmt,
		*pg_query.Node_AlterTableStmt,
		*pg_query.Node_AlterSeqStmt,
		*pg_query.Node_TruncateStmt,
		*pg_query.Node_RenameStmt:
		return StatementDDL
	default:
		return StatementOther
	}
}

// enforceLimit guarantees a LIMIT clause on the single SELECT in parsed:
// absent limits get the configured default, limits above the maximum are
// clamped, anything else is preserved. The statement is deparsed after
// mutation, so re-validating the output yields identical SQL.
func (v *Validator) enforceLimit(parsed *pg_query.ParseResult) (string, string, error) {
	warning := ""
	sel, ok := parsed.Stmts[0].Stmt.Node.(*pg_query.Node_SelectStmt)
	if ok {
		stmt := sel.SelectStmt
		switch {
		case stmt.LimitCount == nil:
			stmt.LimitCount = intConstNode(v.config.DefaultQueryLimit)
			stmt.LimitOption = pg_query.LimitOption_LIMIT_OPTION_COUNT
			v.logger.Debug().Int("limit", v.config.DefaultQueryLimit).Msg("limit added")
		default:
			if current, isConst := intConstValue(stmt.LimitCount); isConst && current > v.config.MaxQueryResults {
				stmt.LimitCount = intConstNode(v.config.MaxQueryResults)
				warning = fmt.Sprintf("requested LIMIT %d exceeds maximum, clamped to %d",
					current, v.config.MaxQueryResults)
				v.logger.Warn().
					Int("requested_limit", current).
					Int("max_limit", v.config.MaxQueryResults).
					Msg("limit exceeded, clamped")
			}
		}
	}
	out, err := pg_query.Deparse(parsed)
	if err != nil {
		return "", "", sqlerr.Wrap(sqlerr.CodeSyntax, err, "failed to deparse SQL: %v", err)
	}
	return out, warning, nil
}

func intConstNode(n int) *pg_query.Node {
	return &pg_query.Node{
		Node: &pg_query.Node_AConst{
			AConst: &pg_query.A_Const{
				Val: &pg_query.A_Const_Ival{
					Ival: &pg_query.Integer{Ival: int32(n)},
				},
			},
		},
	}
}

func intConstValue(node *pg_query.Node) (int, bool) {
	aconst, ok := node.Node.(*pg_query.Node_AConst)
	if !ok {
		return 0, false
	}
	ival, ok := aconst.AConst.Val.(*pg_query.A_Const_Ival)
	if !ok {
		return 0, false
	}
	return int(ival.Ival.Ival), true
}
