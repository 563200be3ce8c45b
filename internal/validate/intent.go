package validate

import (
	"regexp"
	"strings"

	"github.com/mhollas/sqlward/internal/sqlerr"
)

// Keyword families mapping request phrasing to an implied operation.
// "drop user" implies a row delete, not DDL; bare "drop" stays unmapped so
// it cannot shadow legitimate phrasing about dropdown columns etc.
var (
	insertWords = regexp.MustCompile(`\b(add|create|insert|new|register)\b`)
	deleteWords = regexp.MustCompile(`\b(delete|remove|erase)\b|\bdrop\s+(the\s+)?user\b`)
	updateWords = regexp.MustCompile(`\b(update|change|modify|set|edit)\b`)
)

// impliedOperation derives the operation a natural-language request asks
// for. Returns StatementOther when no family matches.
func impliedOperation(question string) StatementType {
	q := strings.ToLower(question)
	switch {
	case insertWords.MatchString(q):
		return StatementInsert
	case deleteWords.MatchString(q):
		return StatementDelete
	case updateWords.MatchString(q):
		return StatementUpdate
	default:
		return StatementOther
	}
}

// checkIntent compares the operation implied by the request text against the
// parsed statement type. An Insert-vs-Delete mismatch in either direction is
// fatal: the system is about to do the opposite of what was asked. Update
// mismatched against Insert/Delete is only ever a warning, and only surfaced
// when strict intent checking is enabled.
func (v *Validator) checkIntent(question string, parsed StatementType, strict bool, result *Result) error {
	implied := impliedOperation(question)
	if implied == StatementOther || implied == parsed {
		return nil
	}

	fatal := (implied == StatementInsert && parsed == StatementDelete) ||
		(implied == StatementDelete && parsed == StatementInsert)
	if fatal {
		v.logger.Error().
			Str("implied", implied.String()).
			Str("parsed", parsed.String()).
			Str("question", truncate(question, 100)).
			Msg("fatal intent mismatch")
		return sqlerr.New(sqlerr.CodeIntent,
			"request implies %s but generated SQL is %s; refusing to execute", implied, parsed).
			WithDetail("implied_operation", implied.String()).
			WithDetail("detected_operation", parsed.String())
	}

	weak := implied == StatementUpdate && (parsed == StatementInsert || parsed == StatementDelete) ||
		(implied == StatementInsert || implied == StatementDelete) && parsed == StatementUpdate
	if weak && strict {
		warning := "request implies " + implied.String() + " but generated SQL is " + parsed.String()
		result.Warnings = append(result.Warnings, warning)
		v.logger.Warn().
			Str("implied", implied.String()).
			Str("parsed", parsed.String()).
			Msg("intent mismatch warning")
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
