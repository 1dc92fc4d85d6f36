package mssqlmcp

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang-sql/sqlexp"
	mssql "github.com/microsoft/go-mssqldb"

	"github.com/rickchristie/mssql-mcp/internal/metrics"
)

var parameterNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Query runs sql as-is against the connected session. Parameters are bound as
// named inputs (@name); this is the only supported way to embed
// caller-supplied values. A failed statement leaves the session connected.
func (m *SessionManager) Query(ctx context.Context, input QueryInput) (*QueryOutput, error) {
	const op = "query"
	startTime := time.Now()
	query := input.SQL

	if strings.TrimSpace(query) == "" {
		return nil, validationError(op, "sql must be non-empty")
	}
	if len(query) > m.config.Query.MaxSQLLength {
		return nil, validationError(op, "SQL query too long: %d bytes exceeds maximum of %d bytes", len(query), m.config.Query.MaxSQLLength)
	}
	args, err := bindParameters(input.Parameters)
	if err != nil {
		return nil, err
	}

	db, messageLoop, release, err := m.acquire(ctx, op)
	if err != nil {
		return nil, m.handleError(err)
	}
	defer release()

	var beforeHooks, afterHooks []string
	if len(m.config.BeforeQueryHooks) > 0 {
		query, err = m.runGoBeforeHooks(ctx, query)
		if err != nil {
			return nil, m.handleError(queryError(op, err))
		}
		for _, entry := range m.config.BeforeQueryHooks {
			beforeHooks = append(beforeHooks, entry.Name)
		}
	} else if m.cmdHooks != nil && m.cmdHooks.HasBeforeQueryHooks() {
		query, beforeHooks, err = m.cmdHooks.RunBeforeQuery(ctx, query)
		if err != nil {
			return nil, m.handleError(queryError(op, err))
		}
	}

	timeout, timeoutRule := m.timeoutMgr.GetTimeoutWithPattern(query)
	result, err := m.execute(ctx, db, messageLoop, timeout, query, args)
	if err != nil {
		return nil, m.handleError(queryError(op, err))
	}

	if len(m.config.AfterQueryHooks) > 0 {
		result, err = m.runGoAfterHooks(ctx, result)
		if err != nil {
			return nil, m.handleError(queryError(op, err))
		}
		for _, entry := range m.config.AfterQueryHooks {
			afterHooks = append(afterHooks, entry.Name)
		}
	} else if m.cmdHooks != nil && m.cmdHooks.HasAfterQueryHooks() {
		result, afterHooks, err = m.runCommandAfterHooks(ctx, result)
		if err != nil {
			return nil, m.handleError(queryError(op, err))
		}
	}

	sanitized := m.sanitizer.HasRules()
	for _, set := range result.Recordsets {
		m.sanitizer.SanitizeRows(set)
	}
	if len(result.Recordsets) == 0 {
		m.sanitizer.SanitizeRows(result.Recordset)
	}

	if err := m.checkResultLength(result); err != nil {
		return nil, m.handleError(queryError(op, err))
	}

	logEvent := m.logger.Info().
		Str("sql", truncateForLog(query, 200)).
		Int("parameter_count", len(args)).
		Dur("duration", time.Since(startTime)).
		Int("row_count", len(result.Recordset)).
		Ints64("rows_affected", result.RowsAffected)
	if len(beforeHooks) > 0 {
		logEvent = logEvent.Strs("before_hooks", beforeHooks)
	}
	if len(afterHooks) > 0 {
		logEvent = logEvent.Strs("after_hooks", afterHooks)
	}
	if timeoutRule != "" {
		logEvent = logEvent.Str("timeout_rule", timeoutRule)
	}
	if sanitized {
		logEvent = logEvent.Bool("sanitized", true)
	}
	logEvent.Msg("query executed")

	return result, nil
}

// run executes a fixed statement with the same precondition and error
// semantics as Query, without hooks or sanitization.
func (m *SessionManager) run(ctx context.Context, op string, query string, args ...any) (*QueryOutput, error) {
	db, messageLoop, release, err := m.acquire(ctx, op)
	if err != nil {
		return nil, m.handleError(err)
	}
	defer release()

	timeout := time.Duration(m.config.Query.MetadataTimeoutSeconds) * time.Second
	result, err := m.execute(ctx, db, messageLoop, timeout, query, args)
	if err != nil {
		return nil, m.handleError(queryError(op, err))
	}
	return result, nil
}

// execute runs sql with a bounded timeout and collects every result set.
func (m *SessionManager) execute(ctx context.Context, db *sql.DB, messageLoop bool, timeout time.Duration, query string, args []any) (*QueryOutput, error) {
	queryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		result *QueryOutput
		err    error
	)
	if messageLoop {
		result, err = m.executeMessageLoop(queryCtx, db, query, args)
	} else {
		result, err = executePlain(queryCtx, db, query, args)
	}
	if err != nil {
		if queryCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("query timed out after %s: %w", timeout, err)
		}
		return nil, err
	}
	return result, nil
}

// executeMessageLoop drives the go-mssqldb message queue, which reports one
// row count per statement in the batch, including statements that return
// no rows.
func (m *SessionManager) executeMessageLoop(ctx context.Context, db *sql.DB, query string, args []any) (*QueryOutput, error) {
	retmsg := &sqlexp.ReturnMessage{}
	rows, err := db.QueryContext(ctx, query, append(args, retmsg)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := &QueryOutput{RowsAffected: []int64{}}
	var sets [][]map[string]any
	var errs []error
	for active := true; active; {
		switch msg := retmsg.Message(ctx).(type) {
		case sqlexp.MsgNext:
			set, err := collectResultSet(rows)
			if err != nil {
				return nil, err
			}
			if set != nil {
				sets = append(sets, set)
			}
		case sqlexp.MsgNextResultSet:
			active = rows.NextResultSet()
		case sqlexp.MsgRowsAffected:
			result.RowsAffected = append(result.RowsAffected, msg.Count)
		case sqlexp.MsgError:
			errs = append(errs, msg.Error)
		case sqlexp.MsgNotice:
			m.logger.Debug().Interface("notice", msg.Message).Msg("server message")
		case nil:
			active = false
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result.setRecordsets(sets)
	return result, nil
}

// executePlain is used for drivers without a message queue. Each result set
// contributes its row count to RowsAffected.
func executePlain(ctx context.Context, db *sql.DB, query string, args []any) (*QueryOutput, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := &QueryOutput{RowsAffected: []int64{}}
	var sets [][]map[string]any
	for {
		set, err := collectResultSet(rows)
		if err != nil {
			return nil, err
		}
		if set != nil {
			sets = append(sets, set)
			result.RowsAffected = append(result.RowsAffected, int64(len(set)))
		}
		if !rows.NextResultSet() {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	result.setRecordsets(sets)
	return result, nil
}

func (o *QueryOutput) setRecordsets(sets [][]map[string]any) {
	o.Recordset = []map[string]any{}
	if len(sets) > 0 {
		o.Recordset = sets[0]
	}
	if len(sets) > 1 {
		o.Recordsets = sets
	}
}

// collectResultSet reads the current result set. Returns nil when the
// statement produced no columns.
func collectResultSet(rows *sql.Rows) ([]map[string]any, error) {
	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	if len(columnTypes) == 0 {
		return nil, nil
	}

	values := make([]any, len(columnTypes))
	ptrs := make([]any, len(columnTypes))
	for i := range values {
		ptrs[i] = &values[i]
	}

	set := make([]map[string]any, 0)
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(columnTypes))
		for i, ct := range columnTypes {
			row[ct.Name()] = convertValue(values[i], ct.DatabaseTypeName())
		}
		set = append(set, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return set, nil
}

// convertValue converts a driver value to a JSON-friendly Go type.
func convertValue(v any, dbType string) any {
	switch val := v.(type) {
	case nil:
		return nil
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return fmt.Sprint(val)
		}
		return val
	case []byte:
		switch dbType {
		case "UNIQUEIDENTIFIER":
			var id mssql.UniqueIdentifier
			if err := id.Scan(val); err != nil {
				return base64.StdEncoding.EncodeToString(val)
			}
			return id.String()
		case "DECIMAL", "NUMERIC", "MONEY", "SMALLMONEY":
			return string(val)
		default:
			return base64.StdEncoding.EncodeToString(val)
		}
	default:
		return val
	}
}

// bindParameters turns the parameter map into sql.NamedArg values, sorted
// by name. Names may carry a leading '@'. Only scalars are accepted; the
// SQL type is inferred from the Go kind of each value.
func bindParameters(params map[string]any) ([]any, error) {
	if len(params) == 0 {
		return nil, nil
	}
	names := make([]string, 0, len(params))
	byName := make(map[string]any, len(params))
	for raw, value := range params {
		name := strings.TrimPrefix(raw, "@")
		if !parameterNamePattern.MatchString(name) {
			return nil, validationError("query", "invalid parameter name %q: must start with a letter or underscore and contain only letters, digits and underscores", raw)
		}
		if _, dup := byName[name]; dup {
			return nil, validationError("query", "duplicate parameter %q", name)
		}
		scalar, err := scalarValue(value)
		if err != nil {
			return nil, validationError("query", "parameter %q: %v", name, err)
		}
		byName[name] = scalar
		names = append(names, name)
	}
	slices.Sort(names)

	args := make([]any, len(names))
	for i, name := range names {
		args[i] = sql.Named(name, byName[name])
	}
	return args, nil
}

// scalarValue normalizes a decoded JSON scalar. Integral numbers bind as
// bigint, other numbers as float.
func scalarValue(v any) (any, error) {
	switch val := v.(type) {
	case nil, string, bool, int64:
		return val, nil
	case int:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case float32:
		return scalarValue(float64(val))
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil, fmt.Errorf("number %v is not finite", val)
		}
		if val == math.Trunc(val) && math.Abs(val) < 1<<53 {
			return int64(val), nil
		}
		return val, nil
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", val.String())
		}
		return f, nil
	default:
		return nil, fmt.Errorf("unsupported value of type %T: only strings, numbers, booleans and null are allowed", v)
	}
}

// runGoBeforeHooks runs BeforeQuery hooks as a middleware chain.
func (m *SessionManager) runGoBeforeHooks(ctx context.Context, sql string) (string, error) {
	for _, entry := range m.config.BeforeQueryHooks {
		timeout := entry.Timeout
		if timeout == 0 {
			timeout = time.Duration(m.config.DefaultHookTimeoutSeconds) * time.Second
		}
		hookCtx, cancel := context.WithTimeout(ctx, timeout)

		modified, err := entry.Hook.Run(hookCtx, sql)
		cancel()
		if err != nil {
			if hookCtx.Err() == context.DeadlineExceeded {
				return "", fmt.Errorf("before_query hook error: hook timed out (name: %s, timeout: %s)", entry.Name, timeout)
			}
			return "", fmt.Errorf("before_query hook error: hook rejected query (name: %s): %w", entry.Name, err)
		}
		sql = modified
	}
	return sql, nil
}

// runGoAfterHooks runs AfterQuery hooks as a middleware chain.
func (m *SessionManager) runGoAfterHooks(ctx context.Context, result *QueryOutput) (*QueryOutput, error) {
	for _, entry := range m.config.AfterQueryHooks {
		timeout := entry.Timeout
		if timeout == 0 {
			timeout = time.Duration(m.config.DefaultHookTimeoutSeconds) * time.Second
		}
		hookCtx, cancel := context.WithTimeout(ctx, timeout)

		modified, err := entry.Hook.Run(hookCtx, result)
		cancel()
		if err != nil {
			if hookCtx.Err() == context.DeadlineExceeded {
				return nil, fmt.Errorf("after_query hook error: hook timed out (name: %s, timeout: %s)", entry.Name, timeout)
			}
			return nil, fmt.Errorf("after_query hook error: hook rejected result (name: %s): %w", entry.Name, err)
		}
		result = modified
	}
	return result, nil
}

// runCommandAfterHooks round-trips the result through JSON for the
// command hooks. A modified result comes back with numbers as json.Number.
func (m *SessionManager) runCommandAfterHooks(ctx context.Context, result *QueryOutput) (*QueryOutput, []string, error) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal query result: %w", err)
	}
	modifiedJSON, executed, err := m.cmdHooks.RunAfterQuery(ctx, string(resultJSON))
	if err != nil {
		return nil, executed, err
	}
	if modifiedJSON == string(resultJSON) {
		return result, executed, nil
	}

	modified := &QueryOutput{}
	dec := json.NewDecoder(strings.NewReader(modifiedJSON))
	dec.UseNumber()
	if err := dec.Decode(modified); err != nil {
		return nil, executed, fmt.Errorf("after_query hook returned an invalid result: %w", err)
	}
	if modified.RowsAffected == nil {
		modified.RowsAffected = []int64{}
	}
	if modified.Recordset == nil {
		modified.Recordset = []map[string]any{}
	}
	return modified, executed, nil
}

// handleError logs err with any matching error prompt patterns and counts it.
func (m *SessionManager) handleError(err error) error {
	kind := KindOf(err)
	metrics.QueryErrors.WithLabelValues(kind.String()).Inc()

	logEvent := m.logger.Error().Err(err).Str("kind", kind.String())
	if patterns := m.errPrompts.MatchedPatterns(err.Error()); len(patterns) > 0 {
		logEvent = logEvent.Strs("error_prompts", patterns)
	}
	logEvent.Msg("query error")
	return err
}

// checkResultLength rejects results whose JSON form exceeds MaxResultLength
// characters, returning a truncated preview in the error.
func (m *SessionManager) checkResultLength(result *QueryOutput) error {
	jsonBytes, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal query result: %w", err)
	}
	jsonStr := string(jsonBytes)
	limit := m.config.Query.MaxResultLength
	if utf8.RuneCountInString(jsonStr) <= limit {
		return nil
	}
	runes := []rune(jsonStr)
	return fmt.Errorf("result is too long (%d characters, maximum %d); add TOP or a WHERE clause to your query. Partial result: %s...[truncated]", len(runes), limit, string(runes[:limit]))
}

// truncateForLog truncates a string for log output to avoid oversized log entries.
func truncateForLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	truncateAt := maxLen
	for truncateAt > 0 && !utf8.RuneStart(s[truncateAt]) {
		truncateAt--
	}
	return s[:truncateAt] + "...[truncated]"
}
