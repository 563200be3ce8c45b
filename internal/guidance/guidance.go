// Package guidance maps driver error text to operator guidance. Raw Postgres
// errors are often actionable only to someone who knows the catalog; a
// guidance rule turns "relation does not exist" into a hint about the schema
// endpoints. Matched guidance is attached to coded errors as a detail, never
// as a replacement for the original message.
package guidance

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/mhollas/sqlward/internal/sqlerr"
)

// Rule attaches Message to any error whose text matches Pattern.
type Rule struct {
	Pattern string
	Message string
}

type compiledRule struct {
	pattern *regexp.Regexp
	message string
}

// Matcher checks error messages against patterns and returns guidance.
type Matcher struct {
	rules []compiledRule
}

// DefaultRules covers the driver failures this system runs into most. Caller
// supplied rules are appended after these, so custom guidance can extend but
// not silence the defaults.
func DefaultRules() []Rule {
	return []Rule{
		{Pattern: `(?i)relation .* does not exist`, Message: "The table does not exist. List the available tables via the schema endpoint and check the spelling."},
		{Pattern: `(?i)column .* does not exist`, Message: "The column does not exist. Describe the table via the schema endpoint to see its columns."},
		{Pattern: `(?i)permission denied`, Message: "The database role lacks privileges for this statement. Check the grants for the configured connection user."},
		{Pattern: `(?i)violates foreign key constraint`, Message: "The row is referenced by other tables. Use the destructive-write workflow, which reports cascade impact before deleting."},
		{Pattern: `(?i)duplicate key value`, Message: "A row with this key already exists. Use an existence check before inserting."},
		{Pattern: `(?i)(too many clients|connection refused|connection reset)`, Message: "The database is unreachable or saturated. Check connectivity and the pool size configuration."},
	}
}

// NewMatcher creates a new Matcher. Returns an error on invalid regex
// patterns.
func NewMatcher(rules []Rule) (*Matcher, error) {
	compiled := make([]compiledRule, len(rules))
	for i, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("guidance: invalid regex pattern %q: %v", r.Pattern, err)
		}
		compiled[i] = compiledRule{pattern: re, message: r.Message}
	}
	return &Matcher{rules: compiled}, nil
}

// Match checks the error message against all rules (top to bottom).
// Returns all matching guidance messages joined with newline separators.
// Returns empty string if no match.
func (m *Matcher) Match(errMsg string) string {
	var matches []string
	for _, rule := range m.rules {
		if rule.pattern.MatchString(errMsg) {
			matches = append(matches, rule.message)
		}
	}
	return strings.Join(matches, "\n")
}

// MatchedPatterns returns the regex patterns that matched the given error
// message. Returns nil if no match.
func (m *Matcher) MatchedPatterns(errMsg string) []string {
	var patterns []string
	for _, rule := range m.rules {
		if rule.pattern.MatchString(errMsg) {
			patterns = append(patterns, rule.pattern.String())
		}
	}
	return patterns
}

// Annotate attaches matched guidance to err as a "guidance" detail. Errors
// outside the coded taxonomy and errors with no matching rule pass through
// unchanged.
func (m *Matcher) Annotate(err error) error {
	if err == nil {
		return nil
	}
	msg := m.Match(err.Error())
	if msg == "" {
		return err
	}
	var coded *sqlerr.Error
	if !errors.As(err, &coded) {
		return err
	}
	return coded.WithDetail("guidance", msg)
}
