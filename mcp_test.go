package mssqlmcp

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/mark3labs/mcp-go/mcp"
)

func TestRequestLength_WithArguments(t *testing.T) {
	t.Parallel()
	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      "query",
			Arguments: map[string]any{"sql": "SELECT 1"},
		},
	}
	length := requestLength(req)
	// {"sql":"SELECT 1"} = 18 bytes
	if length != 18 {
		t.Fatalf("expected request length 18, got %d", length)
	}
}

func TestRequestLength_NoArguments(t *testing.T) {
	t.Parallel()
	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name: "list_databases",
		},
	}
	if length := requestLength(req); length != 0 {
		t.Fatalf("expected request length 0 for no arguments, got %d", length)
	}
}

func TestResultLength_TextResult(t *testing.T) {
	t.Parallel()
	result := mcp.NewToolResultText(`{"rowsAffected":[],"recordset":[]}`)
	if length := resultLength(result); length != 34 {
		t.Fatalf("expected result length 34, got %d", length)
	}
}

func TestResultLength_ErrorResult(t *testing.T) {
	t.Parallel()
	result := mcp.NewToolResultError("something failed")
	if length := resultLength(result); length != 16 {
		t.Fatalf("expected result length 16, got %d", length)
	}
}

func TestResultLength_NilResult(t *testing.T) {
	t.Parallel()
	if length := resultLength(nil); length != 0 {
		t.Fatalf("expected result length 0 for nil, got %d", length)
	}
}

// callTool invokes a wrapped tool handler the way the MCP server does.
func callTool(t *testing.T, m *SessionManager, tool string, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) (string, bool) {
	t.Helper()
	req := mcp.CallToolRequest{Params: mcp.CallToolParams{Name: tool, Arguments: args}}
	result, err := m.loggedToolHandler(tool, handler)(context.Background(), req)
	if err != nil {
		t.Fatalf("%s: handler returned a protocol error: %v", tool, err)
	}
	if len(result.Content) != 1 {
		t.Fatalf("%s: expected exactly one content block, got %d", tool, len(result.Content))
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("%s: expected text content, got %T", tool, result.Content[0])
	}
	return text.Text, result.IsError
}

func TestHandlers_NotConnected(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, testConfig(), &mockOpener{})

	tests := []struct {
		tool    string
		handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)
		args    map[string]any
		want    string
	}{
		{"query", m.handleQuery, map[string]any{"sql": "SELECT 1"}, "Query failed: not connected to SQL Server"},
		{"info", m.handleInfo, nil, "Info failed: not connected to SQL Server"},
		{"list_databases", m.handleListDatabases, nil, "List databases failed: not connected to SQL Server"},
		{"list_schemas", m.handleListSchemas, nil, "List schemas failed: not connected to SQL Server"},
		{"list_tables", m.handleListTables, map[string]any{"schema": "dbo"}, "List tables failed: not connected to SQL Server"},
	}
	for _, tt := range tests {
		text, isError := callTool(t, m, tt.tool, tt.handler, tt.args)
		if !isError {
			t.Fatalf("%s: expected error result", tt.tool)
		}
		if !strings.HasPrefix(text, tt.want) {
			t.Fatalf("%s: expected %q, got %q", tt.tool, tt.want, text)
		}
	}
}

func TestHandlers_ConnectQueryDisconnect(t *testing.T) {
	t.Parallel()
	db, mock := newMockDB(t)
	m := newTestManager(t, testConfig(), &mockOpener{dbs: []*sql.DB{db}})

	text, isError := callTool(t, m, "connect", m.handleConnect, map[string]any{
		"server":   "db1",
		"user":     "u",
		"password": "p",
		"port":     1433.0,
	})
	if isError || text != "Connected successfully" {
		t.Fatalf("unexpected connect result %q (error=%v)", text, isError)
	}

	mock.ExpectQuery("SELECT 1 AS x").WillReturnRows(sqlmock.NewRows([]string{"x"}).AddRow(int64(1)))
	text, isError = callTool(t, m, "query", m.handleQuery, map[string]any{"sql": "SELECT 1 AS x"})
	if isError {
		t.Fatalf("unexpected query failure %q", text)
	}
	var out struct {
		RowsAffected []int64          `json:"rowsAffected"`
		Recordset    []map[string]any `json:"recordset"`
	}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		t.Fatalf("query result is not JSON: %v; text: %s", err, text)
	}
	if len(out.RowsAffected) != 1 || out.RowsAffected[0] != 1 || len(out.Recordset) != 1 || out.Recordset[0]["x"] != 1.0 {
		t.Fatalf("unexpected query result %s", text)
	}

	mock.ExpectClose()
	text, isError = callTool(t, m, "disconnect", m.handleDisconnect, nil)
	if isError || text != "Disconnected" {
		t.Fatalf("unexpected disconnect result %q (error=%v)", text, isError)
	}
	// Disconnect is idempotent.
	text, isError = callTool(t, m, "disconnect", m.handleDisconnect, nil)
	if isError || text != "Disconnected" {
		t.Fatalf("unexpected second disconnect result %q (error=%v)", text, isError)
	}

	text, isError = callTool(t, m, "query", m.handleQuery, map[string]any{"sql": "SELECT 1 AS x"})
	if !isError || text != "Query failed: not connected to SQL Server\n\nCall the connect tool first, then retry." {
		t.Fatalf("unexpected result after disconnect %q (error=%v)", text, isError)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestHandleConnect_ValidationFailure(t *testing.T) {
	t.Parallel()
	opener := &mockOpener{}
	m := newTestManager(t, testConfig(), opener)

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"missing password", map[string]any{"server": "db1", "user": "u"}, "Connection failed: password is required"},
		{"port out of range", map[string]any{"server": "db1", "user": "u", "password": "p", "port": 70000.0}, "Connection failed: port must be between 1 and 65535, got 70000"},
		{"unknown argument", map[string]any{"server": "db1", "user": "u", "password": "p", "pwd": "x"}, "Connection failed: unrecognized argument(s): pwd"},
	}
	for _, tt := range tests {
		text, isError := callTool(t, m, "connect", m.handleConnect, tt.args)
		if !isError || text != tt.want {
			t.Fatalf("%s: expected %q, got %q (error=%v)", tt.name, tt.want, text, isError)
		}
	}
	if opener.calls != 0 {
		t.Fatalf("expected no connection attempt, got %d", opener.calls)
	}
}

func TestHandleConnect_DriverFailure(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, testConfig(), &mockOpener{err: errors.New("Login failed for user 'u'.")})

	text, isError := callTool(t, m, "connect", m.handleConnect, map[string]any{"server": "db1", "user": "u", "password": "p"})
	if !isError {
		t.Fatal("expected error result")
	}
	if !strings.HasPrefix(text, "Connection failed: Login failed for user 'u'.") {
		t.Fatalf("unexpected message %q", text)
	}
}

func TestHandleQuery_ErrorPromptAppended(t *testing.T) {
	t.Parallel()
	config := testConfig()
	config.ErrorPrompts = []ErrorPromptRule{
		{Pattern: `(?i)deadlock`, Message: "Retry the statement."},
	}
	m, mock := newConnectedManager(t, config)
	mock.ExpectQuery("UPDATE t SET x = 1").WillReturnError(errors.New("Transaction was deadlocked on lock resources"))

	text, isError := callTool(t, m, "query", m.handleQuery, map[string]any{"sql": "UPDATE t SET x = 1"})
	if !isError {
		t.Fatal("expected error result")
	}
	if !strings.HasPrefix(text, "Query failed: Transaction was deadlocked on lock resources") {
		t.Fatalf("expected driver message first, got %q", text)
	}
	if !strings.Contains(text, "Retry the statement.") {
		t.Fatalf("expected error prompt appended, got %q", text)
	}
}

func TestHandleListTables_JSON(t *testing.T) {
	t.Parallel()
	m, mock := newConnectedManager(t, testConfig())
	mock.ExpectQuery(listTablesSQL+listTablesSchemaFilter+listTablesOrder).
		WillReturnRows(sqlmock.NewRows([]string{"schemaName", "tableName"}).AddRow("sales", "orders"))

	text, isError := callTool(t, m, "list_tables", m.handleListTables, map[string]any{"schema": "sales"})
	if isError {
		t.Fatalf("unexpected failure %q", text)
	}
	var tables []TableEntry
	if err := json.Unmarshal([]byte(text), &tables); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if len(tables) != 1 || tables[0] != (TableEntry{Schema: "sales", Name: "orders"}) {
		t.Fatalf("unexpected tables %v", tables)
	}
}

func TestHandleListDatabases_EmptyIsArray(t *testing.T) {
	t.Parallel()
	m, mock := newConnectedManager(t, testConfig())
	mock.ExpectQuery(listDatabasesSQL).WillReturnRows(sqlmock.NewRows([]string{"name"}))

	text, isError := callTool(t, m, "list_databases", m.handleListDatabases, nil)
	if isError || text != "[]" {
		t.Fatalf("expected empty JSON array, got %q (error=%v)", text, isError)
	}
}

func TestHandleInfo_RejectsArguments(t *testing.T) {
	t.Parallel()
	m, _ := newConnectedManager(t, testConfig())
	text, isError := callTool(t, m, "info", m.handleInfo, map[string]any{"verbose": true})
	if !isError || text != "Info failed: unrecognized argument(s): verbose" {
		t.Fatalf("unexpected result %q (error=%v)", text, isError)
	}
}

func TestLoggedToolHandler_RecoversPanic(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, testConfig(), &mockOpener{})
	panicky := func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		panic("boom")
	}
	text, isError := callTool(t, m, "query", panicky, nil)
	if !isError || text != "query failed: internal error" {
		t.Fatalf("unexpected result %q (error=%v)", text, isError)
	}
}
