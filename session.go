package mssqlmcp

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/rs/zerolog"

	"github.com/rickchristie/mssql-mcp/internal/errprompt"
	"github.com/rickchristie/mssql-mcp/internal/hooks"
	"github.com/rickchristie/mssql-mcp/internal/metrics"
	"github.com/rickchristie/mssql-mcp/internal/sanitize"
	"github.com/rickchristie/mssql-mcp/internal/timeout"
)

// OpenFunc opens a database handle for a sqlserver:// connection string.
// It must not block on network I/O; SessionManager pings the handle itself.
type OpenFunc func(ctx context.Context, connString string) (*sql.DB, error)

// SessionManager owns at most one live SQL Server session and runs every
// statement against it. All exported methods are safe for concurrent use.
//
// Connect and Disconnect are serialized on the write side of mu. Statements
// hold the read side for their whole execution, so a Disconnect waits for
// in-flight statements and anything starting after it sees Disconnected.
type SessionManager struct {
	config Config
	logger zerolog.Logger
	open   OpenFunc

	mu          sync.RWMutex
	db          *sql.DB
	active      *EffectiveConfig
	messageLoop bool
	status      atomic.Int32

	semaphore       chan struct{}
	connMaxLifetime time.Duration
	connMaxIdleTime time.Duration
	sanitizer       *sanitize.Sanitizer
	errPrompts      *errprompt.Matcher
	timeoutMgr      *timeout.Manager
	cmdHooks        *hooks.Runner
	serverHooks     *ServerHooksConfig
}

// Option is a functional option for New().
type Option func(*SessionManager)

// WithOpener replaces the go-mssqldb connector used to open sessions.
func WithOpener(open OpenFunc) Option {
	return func(m *SessionManager) {
		m.open = open
	}
}

// WithServerHooks configures command-based hooks around the query tool.
// Mutually exclusive with Config.BeforeQueryHooks/AfterQueryHooks.
func WithServerHooks(h ServerHooksConfig) Option {
	return func(m *SessionManager) {
		m.serverHooks = &h
	}
}

// New creates a SessionManager in the Disconnected state. Zero numeric
// settings take the values of DefaultConfig. Panics on invalid config;
// returns an error for invalid regex rules.
func New(config Config, logger zerolog.Logger, opts ...Option) (*SessionManager, error) {
	config = applyDefaults(config)

	if config.Pool.MaxConns < 0 {
		panic("mssqlmcp: pool.max_conns must be > 0")
	}
	if config.Pool.MaxIdleConns < 0 {
		panic("mssqlmcp: pool.max_idle_conns must be >= 0")
	}
	if config.Query.ConnectTimeoutSeconds < 0 {
		panic("mssqlmcp: query.connect_timeout_seconds must be > 0")
	}
	if config.Query.DefaultTimeoutSeconds < 0 {
		panic("mssqlmcp: query.default_timeout_seconds must be > 0")
	}
	if config.Query.MetadataTimeoutSeconds < 0 {
		panic("mssqlmcp: query.metadata_timeout_seconds must be > 0")
	}
	if config.Query.MaxSQLLength < 0 {
		panic("mssqlmcp: query.max_sql_length must be > 0")
	}
	if config.Query.MaxResultLength < 0 {
		panic("mssqlmcp: query.max_result_length must be > 0")
	}
	hasGoHooks := len(config.BeforeQueryHooks) > 0 || len(config.AfterQueryHooks) > 0
	if hasGoHooks && config.DefaultHookTimeoutSeconds <= 0 {
		panic("mssqlmcp: default_hook_timeout_seconds must be > 0 when Go hooks are configured")
	}
	for _, entry := range config.BeforeQueryHooks {
		if entry.Timeout < 0 {
			panic(fmt.Sprintf("mssqlmcp: before_query hook %q has negative timeout", entry.Name))
		}
	}
	for _, entry := range config.AfterQueryHooks {
		if entry.Timeout < 0 {
			panic(fmt.Sprintf("mssqlmcp: after_query hook %q has negative timeout", entry.Name))
		}
	}

	m := &SessionManager{
		config:    config,
		logger:    logger,
		open:      openConnector,
		semaphore: make(chan struct{}, config.Pool.MaxConns),
	}
	m.connMaxLifetime = parsePoolDuration("pool.conn_max_lifetime", config.Pool.ConnMaxLifetime)
	m.connMaxIdleTime = parsePoolDuration("pool.conn_max_idle_time", config.Pool.ConnMaxIdleTime)

	var err error
	m.sanitizer, err = sanitize.NewSanitizer(mapSanitizationRules(config.Sanitization))
	if err != nil {
		return nil, err
	}
	m.errPrompts, err = errprompt.NewMatcher(append(append([]errprompt.Rule{}, errprompt.DefaultRules...), mapErrorPromptRules(config.ErrorPrompts)...))
	if err != nil {
		return nil, err
	}
	timeoutRules := make([]timeout.Rule, len(config.Query.TimeoutRules))
	for i, r := range config.Query.TimeoutRules {
		timeoutRules[i] = timeout.Rule{
			Pattern: r.Pattern,
			Timeout: time.Duration(r.TimeoutSeconds) * time.Second,
		}
	}
	m.timeoutMgr, err = timeout.NewManager(timeout.Config{
		DefaultTimeout: time.Duration(config.Query.DefaultTimeoutSeconds) * time.Second,
		Rules:          timeoutRules,
	})
	if err != nil {
		return nil, err
	}

	for _, opt := range opts {
		opt(m)
	}
	if m.serverHooks != nil && (len(m.serverHooks.BeforeQuery) > 0 || len(m.serverHooks.AfterQuery) > 0) {
		if hasGoHooks {
			panic("mssqlmcp: Go hooks (Config.BeforeQueryHooks/AfterQueryHooks) and command hooks (WithServerHooks) are mutually exclusive")
		}
		m.cmdHooks, err = hooks.NewRunner(hooks.Config{
			DefaultTimeout: time.Duration(config.DefaultHookTimeoutSeconds) * time.Second,
			BeforeQuery:    hookEntries(m.serverHooks.BeforeQuery),
			AfterQuery:     hookEntries(m.serverHooks.AfterQuery),
		}, logger)
		if err != nil {
			return nil, err
		}
	}
	m.setStatus(StatusDisconnected)
	return m, nil
}

func applyDefaults(config Config) Config {
	def := DefaultConfig()
	if config.Pool.MaxConns == 0 {
		config.Pool.MaxConns = def.Pool.MaxConns
	}
	if config.Pool.MaxIdleConns == 0 {
		config.Pool.MaxIdleConns = config.Pool.MaxConns
	}
	if config.Pool.ConnMaxIdleTime == "" {
		config.Pool.ConnMaxIdleTime = def.Pool.ConnMaxIdleTime
	}
	if config.Query.ConnectTimeoutSeconds == 0 {
		config.Query.ConnectTimeoutSeconds = def.Query.ConnectTimeoutSeconds
	}
	if config.Query.DefaultTimeoutSeconds == 0 {
		config.Query.DefaultTimeoutSeconds = def.Query.DefaultTimeoutSeconds
	}
	if config.Query.MetadataTimeoutSeconds == 0 {
		config.Query.MetadataTimeoutSeconds = def.Query.MetadataTimeoutSeconds
	}
	if config.Query.MaxSQLLength == 0 {
		config.Query.MaxSQLLength = def.Query.MaxSQLLength
	}
	if config.Query.MaxResultLength == 0 {
		config.Query.MaxResultLength = def.Query.MaxResultLength
	}
	if config.AppName == "" {
		config.AppName = def.AppName
	}
	return config
}

func parsePoolDuration(field, value string) time.Duration {
	if value == "" {
		return 0
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		panic(fmt.Sprintf("mssqlmcp: invalid %s %q: %v", field, value, err))
	}
	return d
}

// openConnector opens a pool backed by go-mssqldb. No connection is made
// until the pool is pinged.
func openConnector(ctx context.Context, connString string) (*sql.DB, error) {
	connector, err := mssql.NewConnector(connString)
	if err != nil {
		return nil, fmt.Errorf("invalid connection parameters: %w", err)
	}
	return sql.OpenDB(connector), nil
}

// Status returns the current session status.
func (m *SessionManager) Status() SessionStatus {
	return SessionStatus(m.status.Load())
}

// ActiveConfig returns the effective parameters of the current session with
// the password removed. ok is false when no session is connected.
func (m *SessionManager) ActiveConfig() (cfg EffectiveConfig, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == nil {
		return EffectiveConfig{}, false
	}
	return m.active.redacted(), true
}

func (m *SessionManager) setStatus(s SessionStatus) {
	m.status.Store(int32(s))
	metrics.SessionStatus.Set(float64(s))
}

// Connect validates params, releases any existing session and establishes a
// new one. Invalid params fail with KindValidation before any I/O and leave
// the current session untouched. A failed attempt leaves the manager in
// StatusFailed with no handle.
func (m *SessionManager) Connect(ctx context.Context, params ConnectionParams) error {
	if err := params.Validate(); err != nil {
		metrics.ConnectAttempts.WithLabelValues("invalid").Inc()
		return err
	}
	cfg := params.Effective()
	startTime := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.setStatus(StatusConnecting)
	m.releaseLocked()

	connectTimeout := time.Duration(m.config.Query.ConnectTimeoutSeconds) * time.Second
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	db, err := m.open(connectCtx, cfg.connString(m.config.AppName, m.config.Query.ConnectTimeoutSeconds))
	if err == nil {
		m.configurePool(db)
		if err = db.PingContext(connectCtx); err != nil {
			if closeErr := db.Close(); closeErr != nil {
				m.logger.Warn().Err(closeErr).Msg("failed to close handle after failed connect")
			}
			if connectCtx.Err() == context.DeadlineExceeded {
				err = fmt.Errorf("connect timed out after %s: %w", connectTimeout, err)
			}
		}
	}
	if err != nil {
		m.setStatus(StatusFailed)
		metrics.ConnectAttempts.WithLabelValues("error").Inc()
		m.logEvent(m.logger.Error().Err(err), cfg).
			Dur("duration", time.Since(startTime)).
			Msg("connect failed")
		return connectionError("connect", err)
	}

	m.db = db
	m.active = &cfg
	_, m.messageLoop = db.Driver().(*mssql.Driver)
	m.setStatus(StatusConnected)
	metrics.ConnectAttempts.WithLabelValues("ok").Inc()
	m.logEvent(m.logger.Info(), cfg).
		Dur("duration", time.Since(startTime)).
		Msg("connected")
	return nil
}

// Disconnect releases the session handle, if any, and resets the manager to
// StatusDisconnected. It never fails: release errors are logged.
func (m *SessionManager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	hadSession := m.db != nil
	m.releaseLocked()
	m.setStatus(StatusDisconnected)
	if hadSession {
		m.logger.Info().Msg("disconnected")
	}
}

// releaseLocked closes the current handle. Callers hold mu for writing.
func (m *SessionManager) releaseLocked() {
	if m.db != nil {
		if err := m.db.Close(); err != nil {
			metrics.ReleaseErrors.Inc()
			m.logger.Warn().Err(err).Msg("failed to release session handle")
		}
	}
	m.db = nil
	m.active = nil
}

func (m *SessionManager) configurePool(db *sql.DB) {
	db.SetMaxOpenConns(m.config.Pool.MaxConns)
	db.SetMaxIdleConns(m.config.Pool.MaxIdleConns)
	db.SetConnMaxLifetime(m.connMaxLifetime)
	db.SetConnMaxIdleTime(m.connMaxIdleTime)
}

func (m *SessionManager) logEvent(e *zerolog.Event, cfg EffectiveConfig) *zerolog.Event {
	return e.
		Str("server", cfg.Server).
		Int("port", cfg.Port).
		Str("database", cfg.Database).
		Str("user", cfg.User).
		Bool("encrypt", cfg.Encrypt).
		Bool("trust_server_certificate", cfg.TrustServerCertificate)
}

// acquire takes the read side of mu and a query slot. The returned release
// func must be called exactly once. Fails with KindPrecondition when no
// session is connected, without touching the driver.
func (m *SessionManager) acquire(ctx context.Context, op string) (db *sql.DB, messageLoop bool, release func(), err error) {
	m.mu.RLock()
	if m.db == nil || m.Status() != StatusConnected {
		m.mu.RUnlock()
		return nil, false, nil, preconditionError(op)
	}

	select {
	case m.semaphore <- struct{}{}:
	case <-ctx.Done():
		m.mu.RUnlock()
		return nil, false, nil, queryError(op, fmt.Errorf("failed to acquire query slot: all %d slots are in use, context cancelled while waiting: %w", cap(m.semaphore), ctx.Err()))
	}
	metrics.QuerySlotsInUse.Inc()

	return m.db, m.messageLoop, func() {
		metrics.QuerySlotsInUse.Dec()
		<-m.semaphore
		m.mu.RUnlock()
	}, nil
}

func hookEntries(entries []HookEntry) []hooks.HookEntry {
	result := make([]hooks.HookEntry, len(entries))
	for i, e := range entries {
		result[i] = hooks.HookEntry{
			Pattern: e.Pattern,
			Command: e.Command,
			Args:    e.Args,
			Timeout: time.Duration(e.TimeoutSeconds) * time.Second,
		}
	}
	return result
}

// mapSanitizationRules converts SanitizationRules to internal sanitize.Rules.
func mapSanitizationRules(rules []SanitizationRule) []sanitize.Rule {
	result := make([]sanitize.Rule, len(rules))
	for i, r := range rules {
		result[i] = sanitize.Rule{
			Pattern:     r.Pattern,
			Replacement: r.Replacement,
			Column:      r.Column,
		}
	}
	return result
}

// mapErrorPromptRules converts ErrorPromptRules to internal errprompt.Rules.
func mapErrorPromptRules(rules []ErrorPromptRule) []errprompt.Rule {
	result := make([]errprompt.Rule, len(rules))
	for i, r := range rules {
		result[i] = errprompt.Rule{
			Pattern: r.Pattern,
			Message: r.Message,
		}
	}
	return result
}
