// Package sqlward is a guarded SQL execution engine for PostgreSQL.
//
// Every statement, whether hand-written or generated from natural language
// by an LLM collaborator, runs through the same pipeline: a lexical
// sanitizer that rejects injection patterns, a parser-backed validator that
// classifies the statement and enforces read-only and row-limit policy, and
// a bounded executor that applies per-pattern timeouts and normalizes
// results.
//
// On top of the pipeline the engine offers natural-language querying with
// multi-step plan execution, and a confirmation workflow for destructive
// requests that previews matching rows, computes cascade impact through the
// foreign-key graph, and writes an audit record in the same transaction as
// the delete.
//
// The cmd/sqlward binary exposes the engine over an HTTP API and,
// optionally, as MCP tools for AI agents.
package sqlward
