package mssqlmcp

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

// mockOpener hands out pre-built sqlmock handles in order and records the
// connection strings it was asked to open.
type mockOpener struct {
	mu    sync.Mutex
	dbs   []*sql.DB
	dsns  []string
	err   error
	calls int
}

func (o *mockOpener) open(_ context.Context, connString string) (*sql.DB, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	o.dsns = append(o.dsns, connString)
	if o.err != nil {
		return nil, o.err
	}
	if len(o.dbs) == 0 {
		panic("mockOpener: no handles left")
	}
	db := o.dbs[0]
	o.dbs = o.dbs[1:]
	return db, nil
}

func (o *mockOpener) lastDSN() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.dsns) == 0 {
		return ""
	}
	return o.dsns[len(o.dsns)-1]
}

// newMockDB returns a sqlmock handle matching SQL text exactly.
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return db, mock
}

func testConfig() Config {
	config := DefaultConfig()
	config.Query.DefaultTimeoutSeconds = 5
	config.Query.MetadataTimeoutSeconds = 5
	config.Query.ConnectTimeoutSeconds = 5
	return config
}

func newTestManager(t *testing.T, config Config, opener *mockOpener, opts ...Option) *SessionManager {
	t.Helper()
	opts = append([]Option{WithOpener(opener.open)}, opts...)
	m, err := New(config, testLogger(), opts...)
	if err != nil {
		t.Fatalf("failed to create SessionManager: %v", err)
	}
	t.Cleanup(m.Disconnect)
	return m
}

// newConnectedManager returns a manager connected to a fresh sqlmock handle.
func newConnectedManager(t *testing.T, config Config, opts ...Option) (*SessionManager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMockDB(t)
	m := newTestManager(t, config, &mockOpener{dbs: []*sql.DB{db}}, opts...)
	if err := m.Connect(context.Background(), validParams()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	return m, mock
}

func validParams() ConnectionParams {
	return ConnectionParams{Server: "db1", User: "u", Password: "p"}
}

func ptr[T any](v T) *T {
	return &v
}
