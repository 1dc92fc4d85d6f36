package mssqlmcp

import (
	"encoding/json"
	"math"
	"slices"
	"strings"
)

// toolArgs is the loosely-typed argument bag of one tool call, restricted to
// the fields the tool declares.
type toolArgs struct {
	op     string
	values map[string]any
}

// newToolArgs rejects any argument the tool does not declare.
func newToolArgs(op string, raw map[string]any, recognized ...string) (toolArgs, error) {
	var unknown []string
	for key := range raw {
		if !slices.Contains(recognized, key) {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		slices.Sort(unknown)
		return toolArgs{}, validationError(op, "unrecognized argument(s): %s", strings.Join(unknown, ", "))
	}
	return toolArgs{op: op, values: raw}, nil
}

// lookup treats an explicit JSON null the same as an omitted field.
func (a toolArgs) lookup(key string) (any, bool) {
	v, ok := a.values[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func (a toolArgs) requiredString(key string) (string, error) {
	v, ok := a.lookup(key)
	if !ok {
		return "", validationError(a.op, "%s is required", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", validationError(a.op, "%s must be a string", key)
	}
	if strings.TrimSpace(s) == "" {
		return "", validationError(a.op, "%s must be non-empty", key)
	}
	return s, nil
}

func (a toolArgs) optionalString(key string) (*string, error) {
	v, ok := a.lookup(key)
	if !ok {
		return nil, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, validationError(a.op, "%s must be a string", key)
	}
	return &s, nil
}

func (a toolArgs) optionalInt(key string) (*int, error) {
	v, ok := a.lookup(key)
	if !ok {
		return nil, nil
	}
	var n int
	switch val := v.(type) {
	case float64:
		if val != math.Trunc(val) || math.IsInf(val, 0) || math.Abs(val) > math.MaxInt32 {
			return nil, validationError(a.op, "%s must be an integer", key)
		}
		n = int(val)
	case int:
		n = val
	case int64:
		n = int(val)
	case json.Number:
		i, err := val.Int64()
		if err != nil {
			return nil, validationError(a.op, "%s must be an integer", key)
		}
		n = int(i)
	default:
		return nil, validationError(a.op, "%s must be an integer", key)
	}
	return &n, nil
}

func (a toolArgs) optionalBool(key string) (*bool, error) {
	v, ok := a.lookup(key)
	if !ok {
		return nil, nil
	}
	b, ok := v.(bool)
	if !ok {
		return nil, validationError(a.op, "%s must be a boolean", key)
	}
	return &b, nil
}

func (a toolArgs) optionalObject(key string) (map[string]any, error) {
	v, ok := a.lookup(key)
	if !ok {
		return nil, nil
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, validationError(a.op, "%s must be an object mapping names to values", key)
	}
	return obj, nil
}

// connectionParams coerces the connect tool's arguments and validates them.
func connectionParams(raw map[string]any) (ConnectionParams, error) {
	args, err := newToolArgs("connect", raw, "server", "port", "user", "password", "database", "encrypt", "trust_server_certificate")
	if err != nil {
		return ConnectionParams{}, err
	}
	var p ConnectionParams
	if p.Server, err = args.requiredString("server"); err != nil {
		return ConnectionParams{}, err
	}
	if p.Port, err = args.optionalInt("port"); err != nil {
		return ConnectionParams{}, err
	}
	if p.User, err = args.requiredString("user"); err != nil {
		return ConnectionParams{}, err
	}
	if p.Password, err = args.requiredString("password"); err != nil {
		return ConnectionParams{}, err
	}
	if p.Database, err = args.optionalString("database"); err != nil {
		return ConnectionParams{}, err
	}
	if p.Encrypt, err = args.optionalBool("encrypt"); err != nil {
		return ConnectionParams{}, err
	}
	if p.TrustServerCertificate, err = args.optionalBool("trust_server_certificate"); err != nil {
		return ConnectionParams{}, err
	}
	return p, p.Validate()
}

// queryInput coerces the query tool's arguments. Parameter values are
// checked for scalar kinds here so that bad input never reaches the session.
func queryInput(raw map[string]any) (QueryInput, error) {
	args, err := newToolArgs("query", raw, "sql", "parameters")
	if err != nil {
		return QueryInput{}, err
	}
	var in QueryInput
	if in.SQL, err = args.requiredString("sql"); err != nil {
		return QueryInput{}, err
	}
	if in.Parameters, err = args.optionalObject("parameters"); err != nil {
		return QueryInput{}, err
	}
	if _, err := bindParameters(in.Parameters); err != nil {
		return QueryInput{}, err
	}
	return in, nil
}

func listTablesInput(raw map[string]any) (ListTablesInput, error) {
	args, err := newToolArgs("list_tables", raw, "schema")
	if err != nil {
		return ListTablesInput{}, err
	}
	schema, err := args.optionalString("schema")
	if err != nil || schema == nil {
		return ListTablesInput{}, err
	}
	return ListTablesInput{Schema: *schema}, nil
}
