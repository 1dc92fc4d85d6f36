package mssqlmcp

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"
)

const (
	versionSQL       = `SELECT @@VERSION AS version`
	listDatabasesSQL = `SELECT name FROM sys.databases ORDER BY name`
	listSchemasSQL   = `SELECT name FROM sys.schemas ORDER BY name`

	listTablesSQL = `
SELECT s.name AS schemaName, t.name AS tableName
FROM sys.tables t
JOIN sys.schemas s ON t.schema_id = s.schema_id
`
	listTablesSchemaFilter = `WHERE s.name = @schema
`
	listTablesOrder = `ORDER BY s.name, t.name`
)

// GetVersion returns @@VERSION of the connected server.
func (m *SessionManager) GetVersion(ctx context.Context) (string, error) {
	result, err := m.run(ctx, "info", versionSQL)
	if err != nil {
		return "", err
	}
	if len(result.Recordset) == 0 {
		return "", nil
	}
	return stringColumn(result.Recordset[0], "version"), nil
}

// ListDatabases returns database names in ascending order.
func (m *SessionManager) ListDatabases(ctx context.Context) ([]string, error) {
	return m.listNames(ctx, "list_databases", listDatabasesSQL)
}

// ListSchemas returns schema names of the current database in ascending order.
func (m *SessionManager) ListSchemas(ctx context.Context) ([]string, error) {
	return m.listNames(ctx, "list_schemas", listSchemasSQL)
}

func (m *SessionManager) listNames(ctx context.Context, op string, query string) ([]string, error) {
	startTime := time.Now()
	result, err := m.run(ctx, op, query)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(result.Recordset))
	for _, row := range result.Recordset {
		names = append(names, stringColumn(row, "name"))
	}
	// The server orders by collation; re-sort so the order is ordinal
	// regardless of the database collation.
	slices.Sort(names)

	m.logger.Info().
		Str("op", op).
		Dur("duration", time.Since(startTime)).
		Int("count", len(names)).
		Msg("metadata listed")
	return names, nil
}

// ListTables returns user tables ordered by schema then name. A non-empty
// input.Schema is bound as the @schema parameter, never spliced into the SQL.
func (m *SessionManager) ListTables(ctx context.Context, input ListTablesInput) ([]TableEntry, error) {
	startTime := time.Now()

	query := listTablesSQL
	var args []any
	if input.Schema != "" {
		query += listTablesSchemaFilter
		args = append(args, sql.Named("schema", input.Schema))
	}
	query += listTablesOrder

	result, err := m.run(ctx, "list_tables", query, args...)
	if err != nil {
		return nil, err
	}

	tables := make([]TableEntry, 0, len(result.Recordset))
	for _, row := range result.Recordset {
		tables = append(tables, TableEntry{
			Schema: stringColumn(row, "schemaName"),
			Name:   stringColumn(row, "tableName"),
		})
	}
	slices.SortFunc(tables, func(a, b TableEntry) int {
		if c := cmp.Compare(a.Schema, b.Schema); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})

	m.logger.Info().
		Str("schema_filter", input.Schema).
		Dur("duration", time.Since(startTime)).
		Int("table_count", len(tables)).
		Msg("ListTables executed")
	return tables, nil
}

func stringColumn(row map[string]any, column string) string {
	switch v := row[column].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}
