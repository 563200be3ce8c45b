package sqlward

import "github.com/mhollas/sqlward/internal/sqlerr"

// Error re-exports the coded pipeline error so callers can branch on codes
// with errors.As without importing internal packages.
type Error = sqlerr.Error

// ErrorCode re-exports the code type.
type ErrorCode = sqlerr.Code

// Stable error codes carried by every pipeline failure.
const (
	ErrValidation    = sqlerr.CodeValidation
	ErrInjection     = sqlerr.CodeInjection
	ErrReadOnly      = sqlerr.CodeReadOnly
	ErrSyntax        = sqlerr.CodeSyntax
	ErrIntent        = sqlerr.CodeIntent
	ErrTimeout       = sqlerr.CodeTimeout
	ErrExecution     = sqlerr.CodeExecution
	ErrNotFound      = sqlerr.CodeNotFound
	ErrConfiguration = sqlerr.CodeConfiguration
	ErrGeneration    = sqlerr.CodeGeneration
)

// CodeOf extracts the ErrorCode from err, walking the wrap chain. Non-coded
// errors map to ErrExecution, nil to "".
func CodeOf(err error) ErrorCode {
	return sqlerr.CodeOf(err)
}

func newConfigError(format string, args ...interface{}) *Error {
	return sqlerr.New(sqlerr.CodeConfiguration, format, args...)
}
