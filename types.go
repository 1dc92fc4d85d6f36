package mssqlmcp

// QueryInput is the input for the query tool. Parameters are bound as
// named inputs (@name) and must hold scalar values only.
type QueryInput struct {
	SQL        string         `json:"sql"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// QueryOutput mirrors the driver result: one affected-row count per
// statement and the rows of the first result set. Recordsets is only set
// when the batch produced more than one result set.
type QueryOutput struct {
	RowsAffected []int64            `json:"rowsAffected"`
	Recordset    []map[string]any   `json:"recordset"`
	Recordsets   [][]map[string]any `json:"recordsets,omitempty"`
}

// ListTablesInput is the input for the list_tables tool.
type ListTablesInput struct {
	Schema string `json:"schema,omitempty"`
}

// TableEntry is a single (schema, table) pair.
type TableEntry struct {
	Schema string `json:"schema"`
	Name   string `json:"name"`
}

// SessionStatus is the state of the single session owned by SessionManager.
type SessionStatus int32

const (
	StatusDisconnected SessionStatus = iota
	StatusConnecting
	StatusConnected
	StatusFailed
)

func (s SessionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}
