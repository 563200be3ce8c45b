package validate

import (
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/mhollas/sqlward/internal/sqlerr"
)

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	return NewValidator(Config{
		MaxQueryResults:   100,
		DefaultQueryLimit: 50,
	}, zerolog.Nop())
}

func codeOf(t *testing.T, err error) sqlerr.Code {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var coded *sqlerr.Error
	if !errors.As(err, &coded) {
		t.Fatalf("expected *sqlerr.Error, got %T: %v", err, err)
	}
	return coded.Code
}

func TestValidateEmptyInput(t *testing.T) {
	t.Parallel()
	v := newTestValidator(t)
	for _, sql := range []string{"", "   ", "\n\t"} {
		_, err := v.Validate(sql, Options{ReadOnly: true})
		if got := codeOf(t, err); got != sqlerr.CodeValidation {
			t.Fatalf("expected %s for %q, got %s", sqlerr.CodeValidation, sql, got)
		}
	}
}

func TestValidateSyntaxError(t *testing.T) {
	t.Parallel()
	v := newTestValidator(t)
	_, err := v.Validate("SELEC * FRM users", Options{ReadOnly: true})
	if got := codeOf(t, err); got != sqlerr.CodeSyntax {
		t.Fatalf("expected %s, got %s", sqlerr.CodeSyntax, got)
	}
}

func TestValidateMultiStatement(t *testing.T) {
	t.Parallel()
	v := newTestValidator(t)
	// The classic payload: a legitimate-looking statement followed by a
	// destructive one. Must be rejected before any execution.
	_, err := v.Validate("DELETE FROM users WHERE id=3; DROP TABLE users;", Options{})
	if err == nil {
		t.Fatal("expected rejection")
	}
	// The lexical scanner fires first on the DDL keyword; either way the
	// statement never validates.
	var coded *sqlerr.Error
	if !errors.As(err, &coded) {
		t.Fatalf("expected coded error, got %T", err)
	}
	if coded.Code != sqlerr.CodeInjection && coded.Code != sqlerr.CodeValidation {
		t.Fatalf("unexpected code %s", coded.Code)
	}
}

func TestValidateMultiStatementWithoutBlacklistHit(t *testing.T) {
	t.Parallel()
	v := newTestValidator(t)
	// No DDL keywords, so only the parse-level statement count catches it.
	// The lexical separator pattern also fires; accept either code but the
	// statement must not validate.
	_, err := v.Validate("SELECT 1; SELECT 2", Options{})
	if err == nil {
		t.Fatal("expected multi-statement rejection")
	}
}

func TestReadOnlyRejectsWrites(t *testing.T) {
	t.Parallel()
	v := newTestValidator(t)
	cases := []string{
		"INSERT INTO users (name) VALUES ('bob')",
		"UPDATE users SET name = 'bob' WHERE id = 1",
		"DELETE FROM users WHERE id = 1",
	}
	for _, sql := range cases {
		_, err := v.Validate(sql, Options{ReadOnly: true})
		if got := codeOf(t, err); got != sqlerr.CodeReadOnly {
			t.Fatalf("expected %s for %q, got %s", sqlerr.CodeReadOnly, sql, got)
		}
	}
}

func TestReadOnlyAllowsCTESelect(t *testing.T) {
	t.Parallel()
	v := newTestValidator(t)
	result, err := v.Validate(
		"WITH active AS (SELECT id FROM users WHERE is_active) SELECT * FROM active",
		Options{ReadOnly: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Statement.Type != StatementSelect {
		t.Fatalf("expected Select, got %s", result.Statement.Type)
	}
	if !strings.HasSuffix(result.SQL, "LIMIT 50") {
		t.Fatalf("expected default limit on CTE select, got %q", result.SQL)
	}
}

func TestLimitInjectedWhenAbsent(t *testing.T) {
	t.Parallel()
	v := newTestValidator(t)
	result, err := v.Validate("SELECT * FROM orders", Options{ReadOnly: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SQL != "SELECT * FROM orders LIMIT 50" {
		t.Fatalf("expected injected default limit, got %q", result.SQL)
	}
	if len(result.Warnings) != 0 {
		t.Fatalf("limit injection is not a warning, got %v", result.Warnings)
	}
}

func TestLimitClampedAboveMax(t *testing.T) {
	t.Parallel()
	v := newTestValidator(t)
	result, err := v.Validate("SELECT * FROM orders LIMIT 5000", Options{ReadOnly: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SQL != "SELECT * FROM orders LIMIT 100" {
		t.Fatalf("expected clamped limit, got %q", result.SQL)
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("expected clamp warning, got %v", result.Warnings)
	}
}

func TestLimitWithinMaxPreserved(t *testing.T) {
	t.Parallel()
	v := newTestValidator(t)
	result, err := v.Validate("SELECT * FROM orders LIMIT 10", Options{ReadOnly: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SQL != "SELECT * FROM orders LIMIT 10" {
		t.Fatalf("expected limit preserved, got %q", result.SQL)
	}
}

func TestLimitEnforcementIdempotent(t *testing.T) {
	t.Parallel()
	v := newTestValidator(t)
	first, err := v.Validate("SELECT * FROM orders LIMIT 5000", Options{ReadOnly: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := v.Validate(first.SQL, Options{ReadOnly: true})
	if err != nil {
		t.Fatalf("unexpected error revalidating: %v", err)
	}
	if second.SQL != first.SQL {
		t.Fatalf("revalidation changed SQL: %q != %q", second.SQL, first.SQL)
	}
	if strings.Count(second.SQL, "LIMIT") != 1 {
		t.Fatalf("expected exactly one LIMIT clause, got %q", second.SQL)
	}
}

func TestWritesNeverGetLimit(t *testing.T) {
	t.Parallel()
	v := newTestValidator(t)
	result, err := v.Validate("DELETE FROM users WHERE id = 3", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(result.SQL, "LIMIT") {
		t.Fatalf("write statement must not receive LIMIT, got %q", result.SQL)
	}
	if result.Statement.Type != StatementDelete {
		t.Fatalf("expected Delete, got %s", result.Statement.Type)
	}
}

func TestStatementClassification(t *testing.T) {
	t.Parallel()
	v := newTestValidator(t)
	cases := []struct {
		sql  string
		want StatementType
	}{
		{"SELECT 1", StatementSelect},
		{"INSERT INTO users (name) VALUES ('a')", StatementInsert},
		{"UPDATE users SET name = 'a' WHERE id = 1", StatementUpdate},
		{"DELETE FROM users WHERE id = 1", StatementDelete},
	}
	for _, tc := range cases {
		result, err := v.Validate(tc.sql, Options{})
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", tc.sql, err)
		}
		if result.Statement.Type != tc.want {
			t.Fatalf("expected %s for %q, got %s", tc.want, tc.sql, result.Statement.Type)
		}
	}
}

func TestIntentMismatchInsertVsDeleteIsFatal(t *testing.T) {
	t.Parallel()
	v := newTestValidator(t)
	_, err := v.Validate("DELETE FROM users WHERE username = 'bob'", Options{
		Question: "add a user bob",
	})
	if got := codeOf(t, err); got != sqlerr.CodeIntent {
		t.Fatalf("expected %s, got %s", sqlerr.CodeIntent, got)
	}
}

func TestIntentMismatchDeleteVsInsertIsFatal(t *testing.T) {
	t.Parallel()
	v := newTestValidator(t)
	_, err := v.Validate("INSERT INTO users (username) VALUES ('bob')", Options{
		Question: "remove the user bob",
	})
	if got := codeOf(t, err); got != sqlerr.CodeIntent {
		t.Fatalf("expected %s, got %s", sqlerr.CodeIntent, got)
	}
}

func TestIntentMatchPasses(t *testing.T) {
	t.Parallel()
	v := newTestValidator(t)
	result, err := v.Validate("INSERT INTO users (username) VALUES ('bob')", Options{
		Question: "add a user bob",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", result.Warnings)
	}
}

func TestIntentUpdateMismatchIsWarningOnlyWhenStrict(t *testing.T) {
	t.Parallel()
	v := newTestValidator(t)

	// Strict: warning surfaced, never blocking.
	result, err := v.Validate("DELETE FROM users WHERE username = 'bob'", Options{
		Question:     "change bob's email",
		StrictIntent: true,
	})
	if err != nil {
		t.Fatalf("update mismatch must not block: %v", err)
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("expected one warning under strict intent, got %v", result.Warnings)
	}

	// Non-strict: ignored entirely.
	result, err = v.Validate("DELETE FROM users WHERE username = 'bob'", Options{
		Question: "change bob's email",
	})
	if err != nil {
		t.Fatalf("update mismatch must not block: %v", err)
	}
	if len(result.Warnings) != 0 {
		t.Fatalf("expected no warnings without strict intent, got %v", result.Warnings)
	}
}

func TestIntentIgnoredForSelect(t *testing.T) {
	t.Parallel()
	v := newTestValidator(t)
	// The generator answered a "delete" request with a SELECT preview.
	// Not a fatal pair; passes.
	if _, err := v.Validate("SELECT * FROM users WHERE username = 'bob'", Options{
		Question: "delete the user bob",
		ReadOnly: true,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestImpliedOperation(t *testing.T) {
	t.Parallel()
	cases := []struct {
		question string
		want     StatementType
	}{
		{"add a user bob", StatementInsert},
		{"register new customer", StatementInsert},
		{"delete user alice brown", StatementDelete},
		{"remove old entries", StatementDelete},
		{"drop user charlie", StatementDelete},
		{"update bob's email", StatementUpdate},
		{"change the status to shipped", StatementUpdate},
		{"show me all users", StatementOther},
	}
	for _, tc := range cases {
		if got := impliedOperation(tc.question); got != tc.want {
			t.Fatalf("impliedOperation(%q) = %s, want %s", tc.question, got, tc.want)
		}
	}
}

func TestNewValidatorPanicsOnInvalidConfig(t *testing.T) {
	t.Parallel()
	cases := []Config{
		{MaxQueryResults: 0, DefaultQueryLimit: 50},
		{MaxQueryResults: 100, DefaultQueryLimit: 0},
		{MaxQueryResults: 10, DefaultQueryLimit: 50},
	}
	for _, cfg := range cases {
		func() {
			defer func() {
				if recover() == nil {
					t.Fatalf("expected panic for config %+v", cfg)
				}
			}()
			NewValidator(cfg, zerolog.Nop())
		}()
	}
}
