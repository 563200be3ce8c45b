// Package sanitize implements the lexical first line of defense against SQL
// injection. It scans raw SQL text against an ordered blacklist of dangerous
// patterns without parsing. Blacklists are inherently incomplete; the parser
// level checks in the validate package and least-privilege database
// credentials are the layers behind it.
package sanitize

import (
	"regexp"
	"strings"

	"github.com/mhollas/sqlward/internal/sqlerr"
)

// Category classifies a blocked pattern.
type Category string

const (
	CategoryDDL             Category = "DDL operation"
	CategorySystemCommand   Category = "System command"
	CategoryComment         Category = "SQL comment"
	CategoryMultiComment    Category = "Multi-line comment"
	CategoryMultiStatement  Category = "Multiple statements"
	CategoryUnionInjection  Category = "UNION injection"
	CategorySchemaAccess    Category = "Information schema access"
	CategoryPgDangerousFunc Category = "PostgreSQL dangerous function"
	CategoryMyDangerousFunc Category = "MySQL dangerous function"
	CategoryHexEncoding     Category = "Hex encoding"
	CategoryUnicodeEscape   Category = "Unicode encoding"
)

// Violation is a single matched blacklist entry.
type Violation struct {
	Category    Category
	Description string
}

// pattern is one blacklist entry. exempt, when non-nil, names a narrower
// form that is legitimate: the entry only fires when re matches and exempt
// does not. RE2 has no negative lookahead, so the UNION rule is expressed
// this way.
type pattern struct {
	re       *regexp.Regexp
	exempt   *regexp.Regexp
	category Category
	// lenient patterns are skipped outside strict mode, for users who
	// intentionally write literal SQL with comments or hex literals.
	lenient bool
	// writeSensitive patterns are skipped when writes are allowed.
	writeSensitive bool
}

var blocked = []pattern{
	{re: regexp.MustCompile(`\b(DROP|CREATE|ALTER|TRUNCATE|RENAME)\s+`), category: CategoryDDL},
	{re: regexp.MustCompile(`\b(EXECUTE|EXEC|XP_CMDSHELL|SP_EXECUTESQL)\s*\(`), category: CategorySystemCommand},
	{re: regexp.MustCompile(`--`), category: CategoryComment, lenient: true},
	{re: regexp.MustCompile(`/\*.*?\*/`), category: CategoryMultiComment, lenient: true},
	{re: regexp.MustCompile(`;\s*\w+`), category: CategoryMultiStatement},
	{
		re:       regexp.MustCompile(`UNION\s+(?:ALL\s+)?SELECT`),
		exempt:   regexp.MustCompile(`UNION\s+(?:ALL\s+)?SELECT\s+.*\s+FROM\s+\(`),
		category: CategoryUnionInjection,
	},
	{re: regexp.MustCompile(`\bINFORMATION_SCHEMA\b`), category: CategorySchemaAccess},
	{re: regexp.MustCompile(`\b(PG_READ_FILE|PG_LS_DIR|PG_SLEEP|LO_IMPORT|LO_EXPORT)\s*\(`), category: CategoryPgDangerousFunc},
	{re: regexp.MustCompile(`\b(LOAD_FILE|INTO\s+OUTFILE|INTO\s+DUMPFILE)\b`), category: CategoryMyDangerousFunc},
	{re: regexp.MustCompile(`0X[0-9A-F]+`), category: CategoryHexEncoding, lenient: true},
	{re: regexp.MustCompile(`\\U[0-9A-F]{4}`), category: CategoryUnicodeEscape, lenient: true},
}

// Scanner detects dangerous patterns in raw SQL text. Safe for concurrent
// use; it holds no mutable state.
type Scanner struct{}

// NewScanner creates a new Scanner.
func NewScanner() *Scanner {
	return &Scanner{}
}

// Scan checks sql against the blacklist and returns every violation found,
// in blacklist order. allowWrite skips write-sensitive patterns; DDL is
// blocked regardless. strict enables the lenient patterns (comments,
// hex/unicode literals) that are otherwise tolerated.
func (s *Scanner) Scan(sql string, allowWrite, strict bool) []Violation {
	normalized := strings.ToUpper(strings.Join(strings.Fields(sql), " "))

	var violations []Violation
	for _, p := range blocked {
		if p.writeSensitive && allowWrite {
			continue
		}
		if p.lenient && !strict {
			continue
		}
		if !p.re.MatchString(normalized) {
			continue
		}
		if p.exempt != nil && p.exempt.MatchString(normalized) {
			continue
		}
		violations = append(violations, Violation{
			Category:    p.category,
			Description: "Blocked pattern detected: " + string(p.category),
		})
	}
	return violations
}

// Check scans sql and returns a coded injection error carrying the first
// violation as primary if any pattern matches. Offending text is never
// stripped or rewritten.
func (s *Scanner) Check(sql string, allowWrite, strict bool) error {
	violations := s.Scan(sql, allowWrite, strict)
	if len(violations) == 0 {
		return nil
	}
	descs := make([]string, len(violations))
	for i, v := range violations {
		descs[i] = string(v.Category)
	}
	return sqlerr.New(sqlerr.CodeInjection, "SQL validation failed: %s", strings.Join(descs, ", ")).
		WithDetail("pattern", string(violations[0].Category))
}
