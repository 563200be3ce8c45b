// Package ollama implements SQL generation against a locally hosted Ollama
// model. It satisfies the engine's Generator interface: single statements,
// multi-step plans, and WHERE-clause derivation for destructive requests.
//
// The raw model output is never trusted. Everything returned from here still
// passes through the engine's sanitizer and validator before touching the
// database.
package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/mhollas/sqlward"
	"github.com/mhollas/sqlward/internal/sqlerr"
)

var _ sqlward.Generator = (*Generator)(nil)

// Config selects the Ollama endpoint and model.
type Config struct {
	URL   string
	Model string
}

// Generator produces SQL from natural language using an Ollama model.
type Generator struct {
	llm    *ollama.LLM
	model  string
	logger zerolog.Logger
}

// New connects to the configured Ollama endpoint. Panics on empty config
// fields; network reachability is not checked until the first call.
func New(config Config, logger zerolog.Logger) (*Generator, error) {
	if config.Model == "" {
		panic("ollama: model must not be empty")
	}
	opts := []ollama.Option{ollama.WithModel(config.Model)}
	if config.URL != "" {
		opts = append(opts, ollama.WithServerURL(config.URL))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, sqlerr.Wrap(sqlerr.CodeGeneration, err, "failed to initialize ollama client: %v", err)
	}
	return &Generator{llm: llm, model: config.Model, logger: logger}, nil
}

const generateSQLPrompt = `You are a PostgreSQL expert. Given the database schema below, write a single SQL statement that answers the question.

Rules:
- Return exactly one SQL statement.
- Use only tables and columns that appear in the schema.
- Put the SQL inside a fenced code block marked sql.
- After the code block, add one short sentence explaining what the query does.

Schema:
%s

Question: %s`

// GenerateSQL turns a question into one SQL statement plus a one-line
// explanation.
func (g *Generator) GenerateSQL(ctx context.Context, question, schemaContext string) (*sqlward.GeneratedSQL, error) {
	prompt := fmt.Sprintf(generateSQLPrompt, schemaContext, question)
	completion, err := llms.GenerateFromSinglePrompt(ctx, g.llm, prompt)
	if err != nil {
		return nil, sqlerr.Wrap(sqlerr.CodeGeneration, err, "model call failed: %v", err)
	}

	sql, explanation, err := extractSQL(completion)
	if err != nil {
		return nil, err
	}

	g.logger.Debug().
		Str("model", g.model).
		Int("completion_chars", len(completion)).
		Msg("generated SQL")

	return &sqlward.GeneratedSQL{SQL: sql, Explanation: explanation}, nil
}

const generatePlanPrompt = `You are a PostgreSQL expert. Given the database schema below, break the request into an ordered plan of SQL steps.

Respond with JSON only, in this exact shape:
{"steps": [{"step": 1, "sql": "...", "explanation": "...", "depends_on_previous": false, "check_existence": false}], "requires_dependency_resolution": false}

Rules:
- Each step holds exactly one SQL statement.
- Number steps from 1 with no gaps.
- Set depends_on_previous on a step that must not run if the step before it was skipped.
- When the request says to create something only if it does not exist, emit a SELECT COUNT(*) probe step with check_existence true, immediately followed by the INSERT that depends on it.
- Set requires_dependency_resolution when a later step needs a value produced by an earlier one.

Schema:
%s

Request: %s`

// GeneratePlan turns a compound request into an ordered multi-step plan.
func (g *Generator) GeneratePlan(ctx context.Context, question, schemaContext string) (*sqlward.QueryPlan, error) {
	prompt := fmt.Sprintf(generatePlanPrompt, schemaContext, question)
	response, err := g.llm.GenerateContent(ctx,
		[]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)},
		llms.WithJSONMode())
	if err != nil {
		return nil, sqlerr.Wrap(sqlerr.CodeGeneration, err, "model call failed: %v", err)
	}
	if len(response.Choices) == 0 {
		return nil, sqlerr.New(sqlerr.CodeGeneration, "empty response from model")
	}

	var plan sqlward.QueryPlan
	raw := stripJSONFence(response.Choices[0].Content)
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return nil, sqlerr.Wrap(sqlerr.CodeGeneration, err, "model returned malformed plan JSON: %v", err).
			WithDetail("completion", truncate(raw, 500))
	}

	g.logger.Debug().
		Str("model", g.model).
		Int("steps", len(plan.Steps)).
		Msg("generated plan")

	return &plan, nil
}

const deriveWherePrompt = `You are a PostgreSQL expert. Given the table description below, translate the request into a SQL WHERE clause that matches the rows the request refers to.

Rules:
- Return only the WHERE clause, starting with the word WHERE.
- No semicolon, no explanation, no code fence.
- Use only columns that appear in the table description.

Table:
%s

Request: %s`

// DeriveWhere translates a row-matching request into a bare WHERE clause
// fragment. The caller re-validates the fragment before use.
func (g *Generator) DeriveWhere(ctx context.Context, request, schemaContext string) (string, error) {
	prompt := fmt.Sprintf(deriveWherePrompt, schemaContext, request)
	completion, err := llms.GenerateFromSinglePrompt(ctx, g.llm, prompt)
	if err != nil {
		return "", sqlerr.Wrap(sqlerr.CodeGeneration, err, "model call failed: %v", err)
	}
	return strings.TrimSpace(completion), nil
}

var sqlFenceRe = regexp.MustCompile("(?s)```(?:sql)?\\s*(.*?)```")

// extractSQL pulls the statement out of a fenced code block and treats the
// trailing prose as the explanation. A completion with no fence is used
// whole, as some models skip the fence for short answers.
func extractSQL(completion string) (sql, explanation string, err error) {
	m := sqlFenceRe.FindStringSubmatchIndex(completion)
	if m == nil {
		sql = strings.TrimSpace(completion)
		if sql == "" {
			return "", "", sqlerr.New(sqlerr.CodeGeneration, "model returned no SQL")
		}
		return sql, "", nil
	}
	sql = strings.TrimSpace(completion[m[2]:m[3]])
	if sql == "" {
		return "", "", sqlerr.New(sqlerr.CodeGeneration, "model returned an empty SQL block")
	}
	explanation = strings.TrimSpace(completion[m[1]:])
	return sql, explanation, nil
}

// stripJSONFence removes a markdown code fence if the model wrapped its JSON
// in one despite JSON mode.
func stripJSONFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
