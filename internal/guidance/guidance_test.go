package guidance

import (
	"errors"
	"strings"
	"testing"

	"github.com/mhollas/sqlward/internal/sqlerr"
)

func TestMatchPermissionDenied(t *testing.T) {
	t.Parallel()
	m, err := NewMatcher([]Rule{
		{Pattern: `(?i)permission denied`, Message: "Check the grants for the configured connection user."},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := m.Match("permission denied for table users")
	if got != "Check the grants for the configured connection user." {
		t.Fatalf("unexpected message: %q", got)
	}
}

func TestNoMatch(t *testing.T) {
	t.Parallel()
	m, err := NewMatcher(DefaultRules())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := m.Match("some other error"); got != "" {
		t.Fatalf("expected empty string for non-matching error, got: %s", got)
	}
}

func TestMultipleMatchesJoined(t *testing.T) {
	t.Parallel()
	m, err := NewMatcher([]Rule{
		{Pattern: `(?i)permission denied`, Message: "Check your privileges."},
		{Pattern: `(?i)denied.*table`, Message: "Verify table access grants."},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := m.Match("permission denied for table users")
	expected := "Check your privileges.\nVerify table access grants."
	if got != expected {
		t.Fatalf("expected %q, got %q", expected, got)
	}
}

func TestMatchedPatterns(t *testing.T) {
	t.Parallel()
	m, err := NewMatcher(DefaultRules())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	patterns := m.MatchedPatterns(`relation "foo" does not exist`)
	if len(patterns) != 1 {
		t.Fatalf("expected one matched pattern, got %v", patterns)
	}
	if patterns := m.MatchedPatterns("all good"); patterns != nil {
		t.Fatalf("expected nil for no match, got %v", patterns)
	}
}

func TestNewMatcherInvalidRegex(t *testing.T) {
	t.Parallel()
	_, err := NewMatcher([]Rule{{Pattern: `[invalid`, Message: "broken"}})
	if err == nil {
		t.Fatal("expected error for invalid regex pattern")
	}
	if !strings.Contains(err.Error(), "[invalid") {
		t.Fatalf("expected error to name the invalid pattern, got: %s", err)
	}
}

func TestAnnotateAttachesGuidanceDetail(t *testing.T) {
	t.Parallel()
	m, err := NewMatcher(DefaultRules())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	coded := sqlerr.New(sqlerr.CodeExecution, `relation "foo" does not exist`)
	annotated := m.Annotate(coded)

	var out *sqlerr.Error
	if !errors.As(annotated, &out) {
		t.Fatalf("expected coded error, got %T", annotated)
	}
	if out.Details["guidance"] == nil {
		t.Fatal("expected guidance detail on annotated error")
	}
	if out.Code != sqlerr.CodeExecution {
		t.Fatalf("annotation must not change the code, got %s", out.Code)
	}
}

func TestAnnotatePassesThroughUnmatched(t *testing.T) {
	t.Parallel()
	m, err := NewMatcher(DefaultRules())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	plain := errors.New("permission denied for table users")
	if got := m.Annotate(plain); got != plain {
		t.Fatalf("non-coded errors must pass through unchanged, got %v", got)
	}

	coded := sqlerr.New(sqlerr.CodeTimeout, "query execution exceeded timeout")
	if got := m.Annotate(coded); got != error(coded) {
		t.Fatalf("unmatched coded errors must pass through unchanged, got %v", got)
	}
	if coded.Details != nil {
		t.Fatalf("no guidance detail expected, got %v", coded.Details)
	}

	if got := m.Annotate(nil); got != nil {
		t.Fatalf("nil must stay nil, got %v", got)
	}
}
