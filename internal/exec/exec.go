// Package exec runs one validated statement against a database connection
// under a wall-clock timeout and normalizes every scalar in the result to a
// portable representation.
//
// On timeout the connection's transactional state is indeterminate; callers
// must discard the connection instead of returning it to a pool.
package exec

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/netip"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"

	"github.com/mhollas/sqlward/internal/sqlerr"
	"github.com/mhollas/sqlward/internal/validate"
)

// Querier is the subset of pgx command execution the executor needs.
// *pgx.Conn, *pgxpool.Conn, and pgx.Tx all satisfy it.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Result is the outcome of one executed statement. For write statements the
// row set is a single synthetic summary row; for reads it is the full result
// with column order preserved in Columns.
type Result struct {
	Columns      []string                 `json:"columns"`
	Rows         []map[string]interface{} `json:"rows"`
	RowCount     int                      `json:"row_count"`
	AffectedRows int64                    `json:"affected_rows"`
	ElapsedMs    float64                  `json:"execution_time_ms"`
	IsWrite      bool                     `json:"is_write"`
}

// FirstInt returns the first column of the first row as an integer. Used for
// COUNT probes, where the single value decides whether an entity exists.
func (r *Result) FirstInt() (int64, bool) {
	if len(r.Rows) == 0 || len(r.Columns) == 0 {
		return 0, false
	}
	switch v := r.Rows[0][r.Columns[0]].(type) {
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

// Executor executes validated statements.
type Executor struct {
	defaultTimeout time.Duration
	logger         zerolog.Logger
}

// NewExecutor creates a new Executor. Panics on a non-positive default
// timeout.
func NewExecutor(defaultTimeout time.Duration, logger zerolog.Logger) *Executor {
	if defaultTimeout <= 0 {
		panic("exec: default timeout must be > 0")
	}
	return &Executor{defaultTimeout: defaultTimeout, logger: logger}
}

// Run executes stmt on db. A zero timeout uses the configured default. The
// statement must already have passed validation; Run trusts the type tag and
// never re-inspects the SQL text.
func (e *Executor) Run(ctx context.Context, db Querier, stmt validate.Statement, timeout time.Duration) (*Result, error) {
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	queryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	rows, err := db.Query(queryCtx, stmt.Normalized)
	if err != nil {
		return nil, e.classifyError(err, queryCtx, stmt, timeout, start)
	}

	result, err := CollectRows(rows, stmt.Type)
	if err != nil {
		return nil, e.classifyError(err, queryCtx, stmt, timeout, start)
	}
	result.ElapsedMs = float64(time.Since(start).Microseconds()) / 1000.0

	e.logger.Info().
		Str("sql", truncateForLog(stmt.Normalized, 200)).
		Str("type", stmt.Type.String()).
		Float64("execution_time_ms", result.ElapsedMs).
		Int("row_count", result.RowCount).
		Int64("affected_rows", result.AffectedRows).
		Msg("query executed")

	return result, nil
}

// classifyError maps driver failures into the coded taxonomy. Timeouts are
// distinguished so the caller knows the connection must be discarded.
func (e *Executor) classifyError(err error, queryCtx context.Context, stmt validate.Statement, timeout time.Duration, start time.Time) error {
	elapsed := time.Since(start)
	if errors.Is(queryCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		e.logger.Error().
			Dur("timeout", timeout).
			Dur("elapsed", elapsed).
			Str("sql", truncateForLog(stmt.Normalized, 200)).
			Msg("query timeout")
		return sqlerr.Wrap(sqlerr.CodeTimeout, err,
			"query execution exceeded timeout of %s", timeout).
			WithDetail("timeout_seconds", timeout.Seconds())
	}
	e.logger.Error().
		Err(err).
		Dur("elapsed", elapsed).
		Str("sql", truncateForLog(stmt.Normalized, 200)).
		Msg("query execution failed")
	return sqlerr.Wrap(sqlerr.CodeExecution, err, "query execution failed: %v", err)
}

// CollectRows drains rows and builds a Result with every value normalized.
// Write statements yield one synthetic summary row instead of raw rows.
func CollectRows(rows pgx.Rows, stmtType validate.StatementType) (*Result, error) {
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]string, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = fd.Name
	}

	resultRows := make([]map[string]interface{}, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			row[col] = convertValue(values[i])
		}
		resultRows = append(resultRows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	affected := rows.CommandTag().RowsAffected()

	if stmtType.IsWrite() {
		summary := map[string]interface{}{
			"operation":     "write",
			"affected_rows": affected,
			"message":       fmt.Sprintf("Successfully affected %d row(s)", affected),
		}
		return &Result{
			Columns:      []string{"operation", "affected_rows", "message"},
			Rows:         []map[string]interface{}{summary},
			RowCount:     1,
			AffectedRows: affected,
			IsWrite:      true,
		}, nil
	}

	return &Result{
		Columns:      columns,
		Rows:         resultRows,
		RowCount:     len(resultRows),
		AffectedRows: affected,
	}, nil
}

// convertValue normalizes a driver value to a portable representation:
// high-precision numerics to float64, date/time to ISO-8601 strings, binary
// to text with a hex fallback, nulls preserved.
func convertValue(v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return nil
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case float32:
		return normalizeFloat(float64(val))
	case float64:
		return normalizeFloat(val)
	case pgtype.Numeric:
		if !val.Valid {
			return nil
		}
		if val.NaN {
			return "NaN"
		}
		if val.InfinityModifier == pgtype.Infinity {
			return "Infinity"
		}
		if val.InfinityModifier == pgtype.NegativeInfinity {
			return "-Infinity"
		}
		f, err := val.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case pgtype.Time:
		if !val.Valid {
			return nil
		}
		return formatMicroseconds(val.Microseconds)
	case pgtype.Interval:
		if !val.Valid {
			return nil
		}
		return formatInterval(val)
	case netip.Prefix:
		return val.String()
	case net.HardwareAddr:
		return val.String()
	case [16]byte:
		// UUID
		return fmt.Sprintf("%x-%x-%x-%x-%x", val[0:4], val[4:6], val[6:8], val[8:10], val[10:16])
	case []byte:
		if utf8.Valid(val) {
			return string(val)
		}
		return fmt.Sprintf("\\x%x", val)
	case string:
		return val
	case map[string]interface{}:
		result := make(map[string]interface{}, len(val))
		for k, item := range val {
			result[k] = convertValue(item)
		}
		return result
	case []interface{}:
		result := make([]interface{}, len(val))
		for i, item := range val {
			result[i] = convertValue(item)
		}
		return result
	default:
		return val
	}
}

func normalizeFloat(f float64) interface{} {
	if math.IsNaN(f) {
		return "NaN"
	}
	if math.IsInf(f, 1) {
		return "Infinity"
	}
	if math.IsInf(f, -1) {
		return "-Infinity"
	}
	return f
}

func formatMicroseconds(us int64) string {
	hours := us / 3_600_000_000
	us -= hours * 3_600_000_000
	minutes := us / 60_000_000
	us -= minutes * 60_000_000
	seconds := us / 1_000_000
	us -= seconds * 1_000_000
	if us > 0 {
		return fmt.Sprintf("%02d:%02d:%02d.%06d", hours, minutes, seconds, us)
	}
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}

func formatInterval(val pgtype.Interval) string {
	parts := []string{}
	if val.Months != 0 {
		years := val.Months / 12
		months := val.Months % 12
		if years != 0 {
			parts = append(parts, fmt.Sprintf("%d year(s)", years))
		}
		if months != 0 {
			parts = append(parts, fmt.Sprintf("%d mon(s)", months))
		}
	}
	if val.Days != 0 {
		parts = append(parts, fmt.Sprintf("%d day(s)", val.Days))
	}
	if val.Microseconds != 0 {
		dur := time.Duration(val.Microseconds) * time.Microsecond
		parts = append(parts, dur.String())
	}
	if len(parts) == 0 {
		return "0"
	}
	return strings.Join(parts, " ")
}

// truncateForLog truncates a string for log output to avoid oversized log
// entries, keeping the cut on a rune boundary.
func truncateForLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	truncateAt := maxLen
	for truncateAt > 0 && !utf8.RuneStart(s[truncateAt]) {
		truncateAt--
	}
	return s[:truncateAt] + "...[truncated]"
}
