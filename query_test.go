package mssqlmcp

import (
	"database/sql"
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"
)

func TestConvertValue(t *testing.T) {
	t.Parallel()
	ts := time.Date(2024, 3, 1, 12, 30, 0, 500, time.UTC)
	guid := []byte{0x67, 0x45, 0x23, 0x01, 0xAB, 0x89, 0xEF, 0xCD, 0x01, 0x23, 0x45, 0x67, 0x89, 0xAB, 0xCD, 0xEF}

	tests := []struct {
		name   string
		value  any
		dbType string
		want   any
	}{
		{"nil", nil, "INT", nil},
		{"int64", int64(42), "BIGINT", int64(42)},
		{"bool", true, "BIT", true},
		{"string", "héllo", "NVARCHAR", "héllo"},
		{"time", ts, "DATETIME2", "2024-03-01T12:30:00.0000005Z"},
		{"float", 1.5, "FLOAT", 1.5},
		{"nan", math.NaN(), "FLOAT", "NaN"},
		{"infinity", math.Inf(1), "FLOAT", "+Inf"},
		{"uniqueidentifier", guid, "UNIQUEIDENTIFIER", "01234567-89AB-CDEF-0123-456789ABCDEF"},
		{"short uniqueidentifier", []byte{1, 2, 3}, "UNIQUEIDENTIFIER", "AQID"},
		{"decimal", []byte("12.50"), "DECIMAL", "12.50"},
		{"money", []byte("-3.1400"), "MONEY", "-3.1400"},
		{"varbinary", []byte{1, 2, 3}, "VARBINARY", "AQID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := convertValue(tt.value, tt.dbType)
			if got != tt.want {
				t.Fatalf("convertValue(%v, %s) = %v (%T), want %v (%T)", tt.value, tt.dbType, got, got, tt.want, tt.want)
			}
		})
	}
}

func TestBindParameters(t *testing.T) {
	t.Parallel()
	args, err := bindParameters(map[string]any{
		"@b":    "x",
		"a":     2.0,
		"c_1":   2.5,
		"flag":  false,
		"empty": nil,
		"big":   json.Number("9007199254740993"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []sql.NamedArg{
		sql.Named("a", int64(2)),
		sql.Named("b", "x"),
		sql.Named("big", int64(9007199254740993)),
		sql.Named("c_1", 2.5),
		sql.Named("empty", nil),
		sql.Named("flag", false),
	}
	if len(args) != len(want) {
		t.Fatalf("expected %d args, got %d", len(want), len(args))
	}
	for i, arg := range args {
		named, ok := arg.(sql.NamedArg)
		if !ok {
			t.Fatalf("arg %d is %T, want sql.NamedArg", i, arg)
		}
		if named.Name != want[i].Name || named.Value != want[i].Value {
			t.Fatalf("arg %d = %s=%v (%T), want %s=%v (%T)", i, named.Name, named.Value, named.Value, want[i].Name, want[i].Value, want[i].Value)
		}
	}
}

func TestBindParameters_Empty(t *testing.T) {
	t.Parallel()
	args, err := bindParameters(nil)
	if err != nil || args != nil {
		t.Fatalf("expected no args, got %v %v", args, err)
	}
}

func TestBindParameters_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		params  map[string]any
		wantErr string
	}{
		{"leading digit", map[string]any{"1id": 1.0}, `invalid parameter name "1id"`},
		{"space", map[string]any{"user id": 1.0}, `invalid parameter name "user id"`},
		{"bare at", map[string]any{"@": 1.0}, `invalid parameter name "@"`},
		{"duplicate", map[string]any{"id": 1.0, "@id": 2.0}, `duplicate parameter "id"`},
		{"array", map[string]any{"ids": []any{1.0, 2.0}}, `parameter "ids": unsupported value of type []interface {}`},
		{"object", map[string]any{"o": map[string]any{"k": "v"}}, `parameter "o": unsupported value`},
		{"nan", map[string]any{"n": math.NaN()}, `parameter "n": number NaN is not finite`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := bindParameters(tt.params)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
			if KindOf(err) != KindValidation {
				t.Fatalf("expected validation kind, got %s", KindOf(err))
			}
		})
	}
}

func TestCheckResultLength(t *testing.T) {
	t.Parallel()
	m := &SessionManager{config: Config{Query: QueryConfig{MaxResultLength: 60}}}

	small := &QueryOutput{RowsAffected: []int64{1}, Recordset: []map[string]any{{"x": 1}}}
	if err := m.checkResultLength(small); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Multi-byte characters count once each.
	wide := &QueryOutput{RowsAffected: []int64{1}, Recordset: []map[string]any{{"x": strings.Repeat("é", 15)}}}
	if err := m.checkResultLength(wide); err != nil {
		t.Fatalf("expected characters, not bytes, to be counted: %v", err)
	}

	big := &QueryOutput{RowsAffected: []int64{1}, Recordset: []map[string]any{{"x": strings.Repeat("a", 100)}}}
	err := m.checkResultLength(big)
	if err == nil {
		t.Fatal("expected error for oversized result")
	}
	if !strings.HasPrefix(err.Error(), "result is too long (") || !strings.Contains(err.Error(), "maximum 60") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestTruncateForLog(t *testing.T) {
	t.Parallel()
	if got := truncateForLog("SELECT 1", 200); got != "SELECT 1" {
		t.Fatalf("expected unchanged, got %q", got)
	}
	if got := truncateForLog("abcdef", 3); got != "abc...[truncated]" {
		t.Fatalf("unexpected truncation %q", got)
	}
	// Never cut a multi-byte rune in half.
	if got := truncateForLog("aé", 2); got != "a...[truncated]" {
		t.Fatalf("unexpected truncation %q", got)
	}
}
