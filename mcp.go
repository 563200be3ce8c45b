package sqlward

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mhollas/sqlward/internal/sqlerr"
)

// RegisterMCPTools registers the engine's operations as MCP tools: raw SQL
// execution, natural-language querying, the destructive-write workflow, and
// schema inspection.
func RegisterMCPTools(mcpServer *server.MCPServer, engine *Engine) {
	queryTool := mcp.NewTool("query",
		mcp.WithDescription("Execute a SQL statement against the PostgreSQL database after sanitization and validation. Returns results as JSON."),
		mcp.WithString("sql",
			mcp.Required(),
			mcp.Description("The SQL statement to execute"),
		),
	)

	mcpServer.AddTool(queryTool, engine.loggedToolHandler("query", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sql, err := req.RequireString("sql")
		if err != nil {
			return mcp.NewToolResultError("sql parameter is required"), nil
		}
		resp, err := engine.ExecuteSQL(ctx, SQLRequest{SQL: sql})
		if err != nil {
			return toolError(err), nil
		}
		return toolJSON(resp)
	}))

	askTool := mcp.NewTool("ask",
		mcp.WithDescription("Answer a natural-language question by generating SQL, validating it, and executing it. Compound requests run as a multi-step plan."),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("The question in plain language"),
		),
	)

	mcpServer.AddTool(askTool, engine.loggedToolHandler("ask", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcp.NewToolResultError("question parameter is required"), nil
		}
		resp, err := engine.Ask(ctx, AskRequest{Question: question})
		if err != nil {
			return toolError(err), nil
		}
		return toolJSON(resp)
	}))

	previewTool := mcp.NewTool("write_preview",
		mcp.WithDescription("Preview a destructive natural-language request without executing it. Returns matching rows, cascade impact counts, and the phase of the confirmation workflow."),
		mcp.WithString("table",
			mcp.Required(),
			mcp.Description("The table the request targets"),
		),
		mcp.WithString("request",
			mcp.Required(),
			mcp.Description("The destructive request in plain language"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	mcpServer.AddTool(previewTool, engine.loggedToolHandler("write_preview", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		table, err := req.RequireString("table")
		if err != nil {
			return mcp.NewToolResultError("table parameter is required"), nil
		}
		request, err := req.RequireString("request")
		if err != nil {
			return mcp.NewToolResultError("request parameter is required"), nil
		}
		preview, err := engine.PreviewWrite(ctx, WritePreviewRequest{Table: table, Request: request})
		if err != nil {
			return toolError(err), nil
		}
		return toolJSON(preview)
	}))

	executeTool := mcp.NewTool("write_execute",
		mcp.WithDescription("Execute a previously previewed delete. Requires the target id from the preview and an explicit confirmed flag. Writes an audit record in the same transaction."),
		mcp.WithString("table",
			mcp.Required(),
			mcp.Description("The table the delete targets"),
		),
		mcp.WithNumber("target_id",
			mcp.Required(),
			mcp.Description("Primary key of the row to delete, taken from the preview"),
		),
		mcp.WithBoolean("confirmed",
			mcp.Required(),
			mcp.Description("Must be true; the workflow refuses unconfirmed deletes"),
		),
	)

	mcpServer.AddTool(executeTool, engine.loggedToolHandler("write_execute", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		table, err := req.RequireString("table")
		if err != nil {
			return mcp.NewToolResultError("table parameter is required"), nil
		}
		targetID, err := req.RequireFloat("target_id")
		if err != nil {
			return mcp.NewToolResultError("target_id parameter is required"), nil
		}
		confirmed, err := req.RequireBool("confirmed")
		if err != nil {
			return mcp.NewToolResultError("confirmed parameter is required"), nil
		}
		result, err := engine.ExecuteWrite(ctx, WriteExecuteRequest{
			Table:     table,
			TargetID:  int64(targetID),
			Confirmed: confirmed,
		})
		if err != nil {
			return toolError(err), nil
		}
		return toolJSON(result)
	}))

	listTablesTool := mcp.NewTool("list_tables",
		mcp.WithDescription("List all tables, views, materialized views, and foreign tables in the database that are accessible to the current user."),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	mcpServer.AddTool(listTablesTool, engine.loggedToolHandler("list_tables", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		output, err := engine.ListTables(ctx)
		if err != nil {
			return toolError(err), nil
		}
		return toolJSON(output)
	}))

	describeTableTool := mcp.NewTool("describe_table",
		mcp.WithDescription("Describe the schema of a table including columns, types, indexes, foreign keys, and the child tables that reference it."),
		mcp.WithString("table",
			mcp.Required(),
			mcp.Description("The table name to describe"),
		),
		mcp.WithString("schema",
			mcp.Description("The schema name (defaults to 'public')"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	mcpServer.AddTool(describeTableTool, engine.loggedToolHandler("describe_table", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		table, err := req.RequireString("table")
		if err != nil {
			return mcp.NewToolResultError("table parameter is required"), nil
		}
		schema := req.GetString("schema", "")

		output, err := engine.DescribeTable(ctx, DescribeTableInput{Table: table, Schema: schema})
		if err != nil {
			return toolError(err), nil
		}
		return toolJSON(output)
	}))
}

// toolError renders a coded engine error for the MCP client, keeping the
// code and any guidance detail visible.
func toolError(err error) *mcp.CallToolResult {
	var coded *sqlerr.Error
	if errors.As(err, &coded) {
		b, marshalErr := json.Marshal(coded)
		if marshalErr == nil {
			return mcp.NewToolResultError(string(b))
		}
	}
	return mcp.NewToolResultError(err.Error())
}

func toolJSON(v interface{}) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError("failed to marshal tool result"), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}

// loggedToolHandler wraps a tool handler to log request and response lengths.
func (e *Engine) loggedToolHandler(tool string, handler server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		reqLen := requestLength(req)
		result, err := handler(ctx, req)
		respLen := resultLength(result)
		e.logger.Info().
			Str("tool", tool).
			Int("request_bytes", reqLen).
			Int("response_bytes", respLen).
			Msg("tool call")
		return result, err
	}
}

// requestLength returns the JSON-encoded byte length of the request arguments.
func requestLength(req mcp.CallToolRequest) int {
	args := req.GetArguments()
	if len(args) == 0 {
		return 0
	}
	b, err := json.Marshal(args)
	if err != nil {
		return 0
	}
	return len(b)
}

// resultLength returns the total byte length of text content in a CallToolResult.
func resultLength(result *mcp.CallToolResult) int {
	if result == nil {
		return 0
	}
	total := 0
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			total += len(tc.Text)
		}
	}
	return total
}
