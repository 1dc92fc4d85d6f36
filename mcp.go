package mssqlmcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rickchristie/mssql-mcp/internal/metrics"
)

// ServerInstructions is advertised to clients on initialize.
const ServerInstructions = "Use the connect tool first to establish a SQL Server connection, then query or browse schema."

// Failure labels prefixed to every error message, one per tool.
const (
	labelConnect       = "Connection failed"
	labelDisconnect    = "Disconnect failed"
	labelQuery         = "Query failed"
	labelInfo          = "Info failed"
	labelListDatabases = "List databases failed"
	labelListSchemas   = "List schemas failed"
	labelListTables    = "List tables failed"
)

// RegisterMCPTools registers connect, disconnect, query, info,
// list_databases, list_schemas and list_tables on the given MCP server.
// Every outcome, success or failure, is a single text content block.
func RegisterMCPTools(mcpServer *server.MCPServer, sm *SessionManager) {
	connectTool := mcp.NewTool("connect",
		mcp.WithDescription("Connect to a SQL Server instance. Replaces any existing connection."),
		mcp.WithString("server",
			mcp.Required(),
			mcp.Description(`SQL Server host or host\instance`),
		),
		mcp.WithNumber("port",
			mcp.Description("TCP port; default 1433"),
			mcp.Min(1),
			mcp.Max(65535),
		),
		mcp.WithString("user",
			mcp.Required(),
			mcp.Description("SQL login user"),
		),
		mcp.WithString("password",
			mcp.Required(),
			mcp.Description("SQL login password"),
		),
		mcp.WithString("database",
			mcp.Description("Database name; default master"),
		),
		mcp.WithBoolean("encrypt",
			mcp.Description("Enable TLS encryption with certificate verification; default true"),
		),
		mcp.WithBoolean("trust_server_certificate",
			mcp.Description("Skip server certificate verification; default false. Only set when the user explicitly accepts an unverified certificate."),
		),
	)
	mcpServer.AddTool(connectTool, sm.loggedToolHandler("connect", sm.handleConnect))

	disconnectTool := mcp.NewTool("disconnect",
		mcp.WithDescription("Close the current SQL Server connection, if any."),
		mcp.WithIdempotentHintAnnotation(true),
	)
	mcpServer.AddTool(disconnectTool, sm.loggedToolHandler("disconnect", sm.handleDisconnect))

	queryTool := mcp.NewTool("query",
		mcp.WithDescription("Execute T-SQL against the connected server. Returns {rowsAffected, recordset} as JSON. Pass caller-supplied values through parameters and reference them as @name in the SQL."),
		mcp.WithString("sql",
			mcp.Required(),
			mcp.Description("SQL text to execute"),
		),
		mcp.WithObject("parameters",
			mcp.Description("Named parameters, e.g. {\"id\": 42} for @id. Values must be strings, numbers, booleans or null."),
		),
	)
	mcpServer.AddTool(queryTool, sm.loggedToolHandler("query", sm.handleQuery))

	infoTool := mcp.NewTool("info",
		mcp.WithDescription("Return the SQL Server version string (@@VERSION)."),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	mcpServer.AddTool(infoTool, sm.loggedToolHandler("info", sm.handleInfo))

	listDatabasesTool := mcp.NewTool("list_databases",
		mcp.WithDescription("List database names on the server, sorted by name."),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	mcpServer.AddTool(listDatabasesTool, sm.loggedToolHandler("list_databases", sm.handleListDatabases))

	listSchemasTool := mcp.NewTool("list_schemas",
		mcp.WithDescription("List schema names in the current database, sorted by name."),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	mcpServer.AddTool(listSchemasTool, sm.loggedToolHandler("list_schemas", sm.handleListSchemas))

	listTablesTool := mcp.NewTool("list_tables",
		mcp.WithDescription("List user tables in the current database as {schema, name}, sorted by schema then name."),
		mcp.WithString("schema",
			mcp.Description("Optional schema filter"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	mcpServer.AddTool(listTablesTool, sm.loggedToolHandler("list_tables", sm.handleListTables))
}

func (m *SessionManager) handleConnect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	params, err := connectionParams(req.GetArguments())
	if err != nil {
		return m.failure(labelConnect, err), nil
	}
	if err := m.Connect(ctx, params); err != nil {
		return m.failure(labelConnect, err), nil
	}
	return mcp.NewToolResultText("Connected successfully"), nil
}

func (m *SessionManager) handleDisconnect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, err := newToolArgs("disconnect", req.GetArguments()); err != nil {
		return m.failure(labelDisconnect, err), nil
	}
	m.Disconnect()
	return mcp.NewToolResultText("Disconnected"), nil
}

func (m *SessionManager) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := queryInput(req.GetArguments())
	if err != nil {
		return m.failure(labelQuery, err), nil
	}
	output, err := m.Query(ctx, input)
	if err != nil {
		return m.failure(labelQuery, err), nil
	}
	return m.jsonResult(labelQuery, output), nil
}

func (m *SessionManager) handleInfo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, err := newToolArgs("info", req.GetArguments()); err != nil {
		return m.failure(labelInfo, err), nil
	}
	version, err := m.GetVersion(ctx)
	if err != nil {
		return m.failure(labelInfo, err), nil
	}
	return mcp.NewToolResultText(version), nil
}

func (m *SessionManager) handleListDatabases(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, err := newToolArgs("list_databases", req.GetArguments()); err != nil {
		return m.failure(labelListDatabases, err), nil
	}
	names, err := m.ListDatabases(ctx)
	if err != nil {
		return m.failure(labelListDatabases, err), nil
	}
	return m.jsonResult(labelListDatabases, names), nil
}

func (m *SessionManager) handleListSchemas(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, err := newToolArgs("list_schemas", req.GetArguments()); err != nil {
		return m.failure(labelListSchemas, err), nil
	}
	names, err := m.ListSchemas(ctx)
	if err != nil {
		return m.failure(labelListSchemas, err), nil
	}
	return m.jsonResult(labelListSchemas, names), nil
}

func (m *SessionManager) handleListTables(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := listTablesInput(req.GetArguments())
	if err != nil {
		return m.failure(labelListTables, err), nil
	}
	tables, err := m.ListTables(ctx, input)
	if err != nil {
		return m.failure(labelListTables, err), nil
	}
	return m.jsonResult(labelListTables, tables), nil
}

// failure renders err as "<label>: <message>", with error prompt guidance
// appended. The error kind only shows in the message text.
func (m *SessionManager) failure(label string, err error) *mcp.CallToolResult {
	msg := err.Error()
	var e *Error
	if errors.As(err, &e) {
		msg = e.Err.Error()
	}
	return mcp.NewToolResultError(label + ": " + m.errPrompts.Augment(msg))
}

// jsonResult pretty-prints v as the single text block of the result.
func (m *SessionManager) jsonResult(label string, v any) *mcp.CallToolResult {
	jsonBytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return m.failure(label, fmt.Errorf("failed to marshal result: %w", err))
	}
	return mcp.NewToolResultText(string(jsonBytes))
}

// loggedToolHandler wraps a tool handler to log request and response lengths,
// record metrics, and turn panics into failure results.
func (m *SessionManager) loggedToolHandler(tool string, handler server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (result *mcp.CallToolResult, err error) {
		startTime := time.Now()
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error().Str("tool", tool).Interface("panic", r).Msg("tool handler panicked")
				result, err = mcp.NewToolResultError(fmt.Sprintf("%s failed: internal error", tool)), nil
			}

			outcome := "ok"
			if result != nil && result.IsError {
				outcome = "error"
			}
			metrics.ToolCalls.WithLabelValues(tool, outcome).Inc()
			metrics.ToolDuration.WithLabelValues(tool).Observe(time.Since(startTime).Seconds())

			m.logger.Info().
				Str("tool", tool).
				Str("result", outcome).
				Int("request_bytes", requestLength(req)).
				Int("response_bytes", resultLength(result)).
				Dur("duration", time.Since(startTime)).
				Msg("tool call")
		}()
		return handler(ctx, req)
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
