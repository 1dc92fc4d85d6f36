// Package mssqlmcp gives AI agents controlled access to Microsoft SQL Server
// through the Model Context Protocol (MCP).
//
// A [SessionManager] owns at most one live SQL Server session. Agents open it
// at runtime with the connect tool, then run T-SQL with query and browse the
// server with info, list_databases, list_schemas and list_tables. Every
// statement other than connect fails fast with [ErrNotConnected] until a
// session exists.
//
// Caller-supplied values are bound as named parameters (@name) through
// go-mssqldb; SQL text is never assembled from tool input.
//
// # Library Usage
//
//	sm, err := mssqlmcp.New(mssqlmcp.DefaultConfig(), logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer sm.Disconnect()
//
//	err = sm.Connect(ctx, mssqlmcp.ConnectionParams{
//		Server:   "db.internal",
//		User:     "reporting",
//		Password: password,
//	})
//
//	out, err := sm.Query(ctx, mssqlmcp.QueryInput{
//		SQL:        "SELECT name FROM sys.tables WHERE schema_id = @id",
//		Parameters: map[string]any{"id": 1},
//	})
//
//	// Or register as MCP tools
//	mssqlmcp.RegisterMCPTools(mcpServer, sm)
//
// # Hooks
//
// BeforeQuery and AfterQuery hooks run as a middleware chain around the query
// tool. Implement [BeforeQueryHook] and [AfterQueryHook]:
//
//	type AuditHook struct{}
//
//	func (h *AuditHook) Run(ctx context.Context, query string) (string, error) {
//		log.Printf("query: %s", query)
//		return query, nil
//	}
//
// Metadata tools (info, list_*) bypass hooks and sanitization.
package mssqlmcp
