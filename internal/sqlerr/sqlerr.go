// Package sqlerr defines the coded error taxonomy shared by every stage of
// the query pipeline. Each failure carries a stable machine-readable code and
// a human-readable message, so callers can branch on the code without parsing
// message text.
package sqlerr

import (
	"errors"
	"fmt"
)

// Code identifies a class of failure.
type Code string

const (
	CodeValidation    Code = "QUERY_VALIDATION_ERROR"
	CodeInjection     Code = "SQL_INJECTION_ATTEMPT"
	CodeReadOnly      Code = "READ_ONLY_VIOLATION"
	CodeSyntax        Code = "QUERY_SYNTAX_ERROR"
	CodeIntent        Code = "INTENT_MISMATCH"
	CodeTimeout       Code = "QUERY_TIMEOUT"
	CodeExecution     Code = "QUERY_EXECUTION_ERROR"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConfiguration Code = "CONFIGURATION_ERROR"
	CodeGeneration    Code = "AI_ERROR"
)

// Error is a coded pipeline error. Details holds structured context such as
// the offending pattern or the detected operation.
type Error struct {
	Code    Code                   `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	wrapped error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.wrapped
}

// New creates a coded error.
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a coded error wrapping an underlying cause.
func Wrap(code Code, err error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), wrapped: err}
}

// WithDetail attaches a structured detail and returns the same error.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// CodeOf extracts the Code from err, walking the wrap chain.
// Returns CodeExecution for non-coded errors, "" for nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return CodeExecution
}

// Is allows errors.Is(err, sqlerr.New(code, ...)) style comparisons by code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}
