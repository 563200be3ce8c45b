package sqlward

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mhollas/sqlward/internal/exec"
	"github.com/mhollas/sqlward/internal/sqlerr"
	"github.com/mhollas/sqlward/internal/validate"
	"github.com/mhollas/sqlward/internal/writeflow"
)

const (
	defaultSummaryTables     = 20
	defaultSummarySampleRows = 3
)

// TableEntry represents a single table or view in the ListTables output.
type TableEntry struct {
	Schema string `json:"schema"`
	Name   string `json:"name"`
	Type   string `json:"type"` // "table", "view", "partitioned_table", ...
	Owner  string `json:"owner"`
}

// ListTablesOutput is the output of ListTables.
type ListTablesOutput struct {
	Tables []TableEntry `json:"tables"`
}

// DescribeTableInput selects the table to describe.
type DescribeTableInput struct {
	Table  string `json:"table"`
	Schema string `json:"schema"`
}

// ColumnInfo describes a single column.
type ColumnInfo struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	Nullable     bool   `json:"nullable"`
	Default      string `json:"default,omitempty"`
	IsPrimaryKey bool   `json:"is_primary_key"`
}

// IndexInfo describes a single index.
type IndexInfo struct {
	Name       string `json:"name"`
	Definition string `json:"definition"`
	IsUnique   bool   `json:"is_unique"`
	IsPrimary  bool   `json:"is_primary"`
}

// ForeignKeyInfo describes a single outgoing foreign key.
type ForeignKeyInfo struct {
	Name              string `json:"name"`
	Columns           string `json:"columns"`
	ReferencedTable   string `json:"referenced_table"`
	ReferencedColumns string `json:"referenced_columns"`
	OnDelete          string `json:"on_delete"`
}

// ChildRef describes an incoming foreign key: a child table whose rows
// reference this one. Feeds cascade impact analysis.
type ChildRef struct {
	Schema           string `json:"schema"`
	Table            string `json:"table"`
	Column           string `json:"column"`
	ReferencedColumn string `json:"referenced_column"`
}

// TableDescription is the output of DescribeTable.
type TableDescription struct {
	Schema      string           `json:"schema"`
	Name        string           `json:"name"`
	Type        string           `json:"type"`
	Columns     []ColumnInfo     `json:"columns"`
	Indexes     []IndexInfo      `json:"indexes"`
	ForeignKeys []ForeignKeyInfo `json:"foreign_keys"`
	Children    []ChildRef       `json:"children"`
}

const listTablesSQL = `
SELECT
    n.nspname AS schema,
    c.relname AS name,
    CASE c.relkind
        WHEN 'r' THEN 'table'
        WHEN 'v' THEN 'view'
        WHEN 'm' THEN 'materialized_view'
        WHEN 'f' THEN 'foreign_table'
        WHEN 'p' THEN 'partitioned_table'
    END AS type,
    pg_catalog.pg_get_userbyid(c.relowner) AS owner
FROM pg_catalog.pg_class c
LEFT JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE c.relkind IN ('r', 'v', 'm', 'f', 'p')
  AND n.nspname NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
  AND has_table_privilege(c.oid, 'SELECT')
ORDER BY n.nspname, c.relname;
`

const columnsSQL = `
SELECT
    c.column_name AS name,
    c.data_type AS type,
    CASE c.is_nullable WHEN 'YES' THEN true ELSE false END AS nullable,
    COALESCE(c.column_default, '') AS default_val,
    CASE WHEN pk.column_name IS NOT NULL THEN true ELSE false END AS is_primary_key
FROM information_schema.columns c
LEFT JOIN (
    SELECT kcu.column_name
    FROM information_schema.table_constraints tc
    JOIN information_schema.key_column_usage kcu
        ON tc.constraint_name = kcu.constraint_name
        AND tc.table_schema = kcu.table_schema
    WHERE tc.constraint_type = 'PRIMARY KEY'
        AND tc.table_schema = $1
        AND tc.table_name = $2
) pk ON pk.column_name = c.column_name
WHERE c.table_schema = $1
    AND c.table_name = $2
ORDER BY c.ordinal_position;
`

const indexesSQL = `
SELECT
    indexname AS name,
    indexdef AS definition,
    i.indisunique AS is_unique,
    i.indisprimary AS is_primary
FROM pg_catalog.pg_indexes pi
JOIN pg_catalog.pg_class c ON c.relname = pi.indexname AND c.relnamespace = (
    SELECT oid FROM pg_catalog.pg_namespace WHERE nspname = pi.schemaname
)
JOIN pg_catalog.pg_index i ON i.indexrelid = c.oid
WHERE pi.schemaname = $1
  AND pi.tablename = $2
ORDER BY pi.indexname;
`

const foreignKeysSQL = `
SELECT
    con.conname AS name,
    (
        SELECT string_agg(a.attname, ', ' ORDER BY array_position(con.conkey, a.attnum))
        FROM pg_catalog.pg_attribute a
        WHERE a.attrelid = con.conrelid AND a.attnum = ANY(con.conkey)
    ) AS columns,
    fc.relname AS referenced_table,
    (
        SELECT string_agg(a.attname, ', ' ORDER BY array_position(con.confkey, a.attnum))
        FROM pg_catalog.pg_attribute a
        WHERE a.attrelid = con.confrelid AND a.attnum = ANY(con.confkey)
    ) AS referenced_columns,
    CASE con.confdeltype
        WHEN 'a' THEN 'NO ACTION'
        WHEN 'r' THEN 'RESTRICT'
        WHEN 'c' THEN 'CASCADE'
        WHEN 'n' THEN 'SET NULL'
        WHEN 'd' THEN 'SET DEFAULT'
    END AS on_delete
FROM pg_catalog.pg_constraint con
JOIN pg_catalog.pg_class c ON c.oid = con.conrelid
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
JOIN pg_catalog.pg_class fc ON fc.oid = con.confrelid
WHERE con.contype = 'f'
  AND n.nspname = $1
  AND c.relname = $2
ORDER BY con.conname;
`

// Incoming single-column foreign keys: children whose rows reference the
// given table.
const childRefsSQL = `
SELECT
    n.nspname AS child_schema,
    c.relname AS child_table,
    a.attname AS fk_column,
    ra.attname AS referenced_column
FROM pg_catalog.pg_constraint con
JOIN pg_catalog.pg_class c ON c.oid = con.conrelid
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
JOIN pg_catalog.pg_attribute a ON a.attrelid = con.conrelid AND a.attnum = con.conkey[1]
JOIN pg_catalog.pg_attribute ra ON ra.attrelid = con.confrelid AND ra.attnum = con.confkey[1]
WHERE con.contype = 'f'
  AND array_length(con.conkey, 1) = 1
  AND con.confrelid = $1::regclass
ORDER BY c.relname;
`

// ListTables returns all tables and views accessible to the current user.
// Bypasses the query pipeline; the SQL here is fixed.
func (e *Engine) ListTables(ctx context.Context) (*ListTablesOutput, error) {
	startTime := time.Now()

	if err := e.acquireSlot(ctx, "ListTables"); err != nil {
		return nil, err
	}
	defer e.releaseSlot()

	queryCtx, cancel := e.schemaContext(ctx)
	defer cancel()

	rows, err := e.pool.Query(queryCtx, listTablesSQL)
	if err != nil {
		return nil, sqlerr.Wrap(sqlerr.CodeExecution, err, "ListTables query failed: %v", err)
	}
	defer rows.Close()

	tables := []TableEntry{}
	for rows.Next() {
		var entry TableEntry
		if err := rows.Scan(&entry.Schema, &entry.Name, &entry.Type, &entry.Owner); err != nil {
			return nil, sqlerr.Wrap(sqlerr.CodeExecution, err, "ListTables scan failed: %v", err)
		}
		tables = append(tables, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, sqlerr.Wrap(sqlerr.CodeExecution, err, "ListTables rows error: %v", err)
	}

	e.logger.Info().
		Dur("duration", time.Since(startTime)).
		Int("table_count", len(tables)).
		Msg("ListTables executed")

	return &ListTablesOutput{Tables: tables}, nil
}

// DescribeTable returns columns, indexes, and both directions of
// foreign-key relationships for one table.
func (e *Engine) DescribeTable(ctx context.Context, input DescribeTableInput) (*TableDescription, error) {
	if err := e.acquireSlot(ctx, "DescribeTable"); err != nil {
		return nil, err
	}
	defer e.releaseSlot()

	return e.describeTable(ctx, input)
}

// describeTable is the slotless variant used by callers already holding a
// semaphore slot.
func (e *Engine) describeTable(ctx context.Context, input DescribeTableInput) (*TableDescription, error) {
	startTime := time.Now()

	schema := input.Schema
	if schema == "" {
		schema = "public"
	}

	queryCtx, cancel := e.schemaContext(ctx)
	defer cancel()

	qualName := quoteIdent(schema) + "." + quoteIdent(input.Table)

	out := &TableDescription{
		Schema:      schema,
		Name:        input.Table,
		Columns:     []ColumnInfo{},
		Indexes:     []IndexInfo{},
		ForeignKeys: []ForeignKeyInfo{},
		Children:    []ChildRef{},
	}

	var relkind string
	err := e.pool.QueryRow(queryCtx,
		`SELECT c.relkind FROM pg_catalog.pg_class c WHERE c.oid = $1::regclass`, qualName).Scan(&relkind)
	if err != nil {
		return nil, sqlerr.Wrap(sqlerr.CodeNotFound, err, "table not found: %s.%s", schema, input.Table)
	}
	switch relkind {
	case "r":
		out.Type = "table"
	case "v":
		out.Type = "view"
	case "m":
		out.Type = "materialized_view"
	case "f":
		out.Type = "foreign_table"
	case "p":
		out.Type = "partitioned_table"
	default:
		out.Type = "unknown"
	}

	rows, err := e.pool.Query(queryCtx, columnsSQL, schema, input.Table)
	if err != nil {
		return nil, sqlerr.Wrap(sqlerr.CodeExecution, err, "failed to fetch columns: %v", err)
	}
	defer rows.Close()
	for rows.Next() {
		var col ColumnInfo
		if err := rows.Scan(&col.Name, &col.Type, &col.Nullable, &col.Default, &col.IsPrimaryKey); err != nil {
			return nil, sqlerr.Wrap(sqlerr.CodeExecution, err, "failed to scan column: %v", err)
		}
		out.Columns = append(out.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, sqlerr.Wrap(sqlerr.CodeExecution, err, "column rows error: %v", err)
	}

	if relkind == "r" || relkind == "p" {
		idxRows, err := e.pool.Query(queryCtx, indexesSQL, schema, input.Table)
		if err != nil {
			return nil, sqlerr.Wrap(sqlerr.CodeExecution, err, "failed to fetch indexes: %v", err)
		}
		defer idxRows.Close()
		for idxRows.Next() {
			var idx IndexInfo
			if err := idxRows.Scan(&idx.Name, &idx.Definition, &idx.IsUnique, &idx.IsPrimary); err != nil {
				return nil, sqlerr.Wrap(sqlerr.CodeExecution, err, "failed to scan index: %v", err)
			}
			out.Indexes = append(out.Indexes, idx)
		}
		if err := idxRows.Err(); err != nil {
			return nil, sqlerr.Wrap(sqlerr.CodeExecution, err, "index rows error: %v", err)
		}

		fkRows, err := e.pool.Query(queryCtx, foreignKeysSQL, schema, input.Table)
		if err != nil {
			return nil, sqlerr.Wrap(sqlerr.CodeExecution, err, "failed to fetch foreign keys: %v", err)
		}
		defer fkRows.Close()
		for fkRows.Next() {
			var fk ForeignKeyInfo
			if err := fkRows.Scan(&fk.Name, &fk.Columns, &fk.ReferencedTable, &fk.ReferencedColumns, &fk.OnDelete); err != nil {
				return nil, sqlerr.Wrap(sqlerr.CodeExecution, err, "failed to scan foreign key: %v", err)
			}
			out.ForeignKeys = append(out.ForeignKeys, fk)
		}
		if err := fkRows.Err(); err != nil {
			return nil, sqlerr.Wrap(sqlerr.CodeExecution, err, "foreign key rows error: %v", err)
		}

		children, err := e.childRefs(queryCtx, qualName)
		if err != nil {
			return nil, err
		}
		out.Children = children
	}

	e.logger.Info().
		Str("schema", schema).
		Str("table", input.Table).
		Dur("duration", time.Since(startTime)).
		Str("type", out.Type).
		Int("column_count", len(out.Columns)).
		Msg("DescribeTable executed")

	return out, nil
}

func (e *Engine) childRefs(ctx context.Context, qualName string) ([]ChildRef, error) {
	rows, err := e.pool.Query(ctx, childRefsSQL, qualName)
	if err != nil {
		return nil, sqlerr.Wrap(sqlerr.CodeExecution, err, "failed to fetch child references: %v", err)
	}
	defer rows.Close()

	children := []ChildRef{}
	for rows.Next() {
		var ref ChildRef
		if err := rows.Scan(&ref.Schema, &ref.Table, &ref.Column, &ref.ReferencedColumn); err != nil {
			return nil, sqlerr.Wrap(sqlerr.CodeExecution, err, "failed to scan child reference: %v", err)
		}
		children = append(children, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, sqlerr.Wrap(sqlerr.CodeExecution, err, "child reference rows error: %v", err)
	}
	return children, nil
}

// childRelations turns the FK graph around table into impact-count queries:
// one per direct child, plus one per grandchild through each child (one
// transitive hop). Count SQL is always schema-qualified so it never depends
// on search_path resolution.
func (e *Engine) childRelations(ctx context.Context, schema, table string) ([]writeflow.Relation, error) {
	qualName := quoteIdent(schema) + "." + quoteIdent(table)
	children, err := e.childRefs(ctx, qualName)
	if err != nil {
		return nil, err
	}

	var relations []writeflow.Relation
	for _, child := range children {
		relations = append(relations, writeflow.Relation{
			Name:     child.Table,
			CountSQL: childCountSQL(child),
		})

		grandchildren, err := e.childRefs(ctx, quoteIdent(child.Schema)+"."+quoteIdent(child.Table))
		if err != nil {
			return nil, err
		}
		for _, gc := range grandchildren {
			relations = append(relations, writeflow.Relation{
				Name:     gc.Table,
				CountSQL: grandchildCountSQL(child, gc),
			})
		}
	}
	return relations, nil
}

func childCountSQL(child ChildRef) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s.%s WHERE %s = $1",
		quoteIdent(child.Schema), quoteIdent(child.Table), quoteIdent(child.Column))
}

func grandchildCountSQL(child, gc ChildRef) string {
	return fmt.Sprintf(
		"SELECT COUNT(*) FROM %s.%s WHERE %s IN (SELECT %s FROM %s.%s WHERE %s = $1)",
		quoteIdent(gc.Schema), quoteIdent(gc.Table), quoteIdent(gc.Column),
		quoteIdent(gc.ReferencedColumn),
		quoteIdent(child.Schema), quoteIdent(child.Table), quoteIdent(child.Column))
}

// SchemaSummary renders a compact text description of the database for
// generator prompts: per table, its columns with types and key markers, and
// a few sample rows.
func (e *Engine) SchemaSummary(ctx context.Context, maxTables, sampleRows int) (string, error) {
	if err := e.acquireSlot(ctx, "SchemaSummary"); err != nil {
		return "", err
	}
	defer e.releaseSlot()

	return e.schemaSummary(ctx, maxTables, sampleRows)
}

func (e *Engine) schemaSummary(ctx context.Context, maxTables, sampleRows int) (string, error) {
	queryCtx, cancel := e.schemaContext(ctx)
	defer cancel()

	rows, err := e.pool.Query(queryCtx, listTablesSQL)
	if err != nil {
		return "", sqlerr.Wrap(sqlerr.CodeExecution, err, "schema summary query failed: %v", err)
	}
	var tables []TableEntry
	for rows.Next() {
		var entry TableEntry
		if err := rows.Scan(&entry.Schema, &entry.Name, &entry.Type, &entry.Owner); err != nil {
			rows.Close()
			return "", sqlerr.Wrap(sqlerr.CodeExecution, err, "schema summary scan failed: %v", err)
		}
		if entry.Type == "table" || entry.Type == "partitioned_table" {
			tables = append(tables, entry)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return "", sqlerr.Wrap(sqlerr.CodeExecution, err, "schema summary rows error: %v", err)
	}
	if len(tables) > maxTables {
		tables = tables[:maxTables]
	}

	var sb strings.Builder
	for _, t := range tables {
		desc, err := e.describeTable(ctx, DescribeTableInput{Table: t.Name, Schema: t.Schema})
		if err != nil {
			return "", err
		}
		sb.WriteString(formatTableSummary(desc))

		if sampleRows > 0 {
			sample, err := e.sampleTableRows(queryCtx, t.Schema, t.Name, sampleRows)
			if err == nil && sample != "" {
				sb.WriteString("  sample rows: ")
				sb.WriteString(sample)
				sb.WriteByte('\n')
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}

// formatTableSummary renders one table's structure as prompt text.
func formatTableSummary(desc *TableDescription) string {
	var sb strings.Builder
	sb.WriteString("TABLE ")
	if desc.Schema != "" && desc.Schema != "public" {
		sb.WriteString(desc.Schema)
		sb.WriteByte('.')
	}
	sb.WriteString(desc.Name)
	sb.WriteByte('\n')
	for _, col := range desc.Columns {
		sb.WriteString("  ")
		sb.WriteString(col.Name)
		sb.WriteByte(' ')
		sb.WriteString(col.Type)
		if col.IsPrimaryKey {
			sb.WriteString(" PRIMARY KEY")
		}
		if !col.Nullable {
			sb.WriteString(" NOT NULL")
		}
		sb.WriteByte('\n')
	}
	for _, fk := range desc.ForeignKeys {
		sb.WriteString(fmt.Sprintf("  FOREIGN KEY (%s) REFERENCES %s (%s) ON DELETE %s\n",
			fk.Columns, fk.ReferencedTable, fk.ReferencedColumns, fk.OnDelete))
	}
	return sb.String()
}

// sampleTableRows fetches a few rows and renders them as a JSON array.
func (e *Engine) sampleTableRows(ctx context.Context, schema, table string, n int) (string, error) {
	query := fmt.Sprintf("SELECT * FROM %s.%s LIMIT %d", quoteIdent(schema), quoteIdent(table), n)
	rows, err := e.pool.Query(ctx, query)
	if err != nil {
		return "", err
	}
	result, err := exec.CollectRows(rows, validate.StatementSelect)
	if err != nil {
		return "", err
	}
	if len(result.Rows) == 0 {
		return "", nil
	}
	b, err := json.Marshal(result.Rows)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// primaryKeyColumn returns the table's single-column primary key, needed to
// target rows in the write workflow.
func primaryKeyColumn(desc *TableDescription) (string, error) {
	var pk []string
	for _, col := range desc.Columns {
		if col.IsPrimaryKey {
			pk = append(pk, col.Name)
		}
	}
	switch len(pk) {
	case 1:
		return pk[0], nil
	case 0:
		return "", sqlerr.New(sqlerr.CodeValidation,
			"table %s has no primary key; destructive requests need one to target rows", desc.Name)
	default:
		return "", sqlerr.New(sqlerr.CodeValidation,
			"table %s has a composite primary key; destructive requests support single-column keys only", desc.Name)
	}
}

func (e *Engine) schemaContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, time.Duration(e.config.Query.SchemaTimeoutSeconds)*time.Second)
}

// quoteIdent escapes a SQL identifier. Doubles embedded double-quotes and
// wraps in double-quotes.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
