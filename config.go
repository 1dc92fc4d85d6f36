package mssqlmcp

import (
	"context"
	"time"
)

// Config is the base configuration used by library mode via New().
type Config struct {
	Pool                      PoolConfig         `json:"pool" yaml:"pool"`
	Query                     QueryConfig        `json:"query" yaml:"query"`
	ErrorPrompts              []ErrorPromptRule  `json:"error_prompts" yaml:"error_prompts"`
	Sanitization              []SanitizationRule `json:"sanitization" yaml:"sanitization"`
	AppName                   string             `json:"app_name" yaml:"app_name"`
	DefaultHookTimeoutSeconds int                `json:"default_hook_timeout_seconds" yaml:"default_hook_timeout_seconds"`

	// Library mode: Go function hooks (not serializable).
	BeforeQueryHooks []BeforeQueryHookEntry `json:"-" yaml:"-"`
	AfterQueryHooks  []AfterQueryHookEntry  `json:"-" yaml:"-"`
}

// ServerConfig embeds Config and adds server-only fields for CLI mode.
type ServerConfig struct {
	Config      `yaml:",inline"`
	ServerHooks ServerHooksConfig `json:"server_hooks" yaml:"server_hooks"`
	Server      ServerSettings    `json:"server" yaml:"server"`
	Logging     LoggingConfig     `json:"logging" yaml:"logging"`
}

// PoolConfig holds connection pool settings applied to every session.
type PoolConfig struct {
	MaxConns        int    `json:"max_conns" yaml:"max_conns"`
	MaxIdleConns    int    `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime string `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime string `json:"conn_max_idle_time" yaml:"conn_max_idle_time"`
}

// ServerSettings holds transport settings for CLI mode.
type ServerSettings struct {
	Transport          string `json:"transport" yaml:"transport"` // stdio, http
	Port               int    `json:"port" yaml:"port"`
	HealthCheckEnabled bool   `json:"health_check_enabled" yaml:"health_check_enabled"`
	HealthCheckPath    string `json:"health_check_path" yaml:"health_check_path"`
	MetricsEnabled     bool   `json:"metrics_enabled" yaml:"metrics_enabled"`
}

// LoggingConfig holds logging settings for CLI mode.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, text
	Output string `json:"output" yaml:"output"` // stderr, stdout, or file path
}

// QueryConfig holds connect and query execution settings.
type QueryConfig struct {
	ConnectTimeoutSeconds  int           `json:"connect_timeout_seconds" yaml:"connect_timeout_seconds"`
	DefaultTimeoutSeconds  int           `json:"default_timeout_seconds" yaml:"default_timeout_seconds"`
	MetadataTimeoutSeconds int           `json:"metadata_timeout_seconds" yaml:"metadata_timeout_seconds"`
	MaxSQLLength           int           `json:"max_sql_length" yaml:"max_sql_length"`
	MaxResultLength        int           `json:"max_result_length" yaml:"max_result_length"`
	TimeoutRules           []TimeoutRule `json:"timeout_rules" yaml:"timeout_rules"`
}

// TimeoutRule maps a SQL pattern to a specific timeout duration.
type TimeoutRule struct {
	Pattern        string `json:"pattern" yaml:"pattern"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// ErrorPromptRule maps an error message pattern to a guidance message.
type ErrorPromptRule struct {
	Pattern string `json:"pattern" yaml:"pattern"`
	Message string `json:"message" yaml:"message"`
}

// SanitizationRule defines a regex-based field sanitization rule.
type SanitizationRule struct {
	Pattern     string `json:"pattern" yaml:"pattern"`
	Replacement string `json:"replacement" yaml:"replacement"`
	Column      string `json:"column" yaml:"column"` // optional column-name regex
	Description string `json:"description" yaml:"description"`
}

// ServerHooksConfig holds command-based hook configuration for CLI mode.
type ServerHooksConfig struct {
	BeforeQuery []HookEntry `json:"before_query" yaml:"before_query"`
	AfterQuery  []HookEntry `json:"after_query" yaml:"after_query"`
}

// HookEntry defines a single command-based hook. Before-query hooks read the
// SQL text on stdin, after-query hooks the result JSON; both answer with
// {"accept": bool, "modified": string, "message": string} on stdout.
type HookEntry struct {
	Pattern        string   `json:"pattern" yaml:"pattern"`
	Command        string   `json:"command" yaml:"command"`
	Args           []string `json:"args" yaml:"args"`
	TimeoutSeconds int      `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// BeforeQueryHook can inspect and modify queries before execution.
type BeforeQueryHook interface {
	Run(ctx context.Context, query string) (string, error)
}

// AfterQueryHook can inspect and modify results after execution.
type AfterQueryHook interface {
	Run(ctx context.Context, result *QueryOutput) (*QueryOutput, error)
}

// BeforeQueryHookEntry wraps a BeforeQueryHook with metadata.
type BeforeQueryHookEntry struct {
	Name    string
	Timeout time.Duration
	Hook    BeforeQueryHook
}

// AfterQueryHookEntry wraps an AfterQueryHook with metadata.
type AfterQueryHookEntry struct {
	Name    string
	Timeout time.Duration
	Hook    AfterQueryHook
}

// DefaultConfig returns the configuration used when no config file is present.
func DefaultConfig() Config {
	return Config{
		Pool: PoolConfig{
			MaxConns:        5,
			MaxIdleConns:    5,
			ConnMaxIdleTime: "30s",
		},
		Query: QueryConfig{
			ConnectTimeoutSeconds:  15,
			DefaultTimeoutSeconds:  30,
			MetadataTimeoutSeconds: 10,
			MaxSQLLength:           100000,
			MaxResultLength:        100000,
		},
		AppName:                   "gomssqlmcp",
		DefaultHookTimeoutSeconds: 10,
	}
}

// DefaultServerConfig returns DefaultConfig plus stdio transport and info logging.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Config: DefaultConfig(),
		Server: ServerSettings{
			Transport:       "stdio",
			Port:            8080,
			HealthCheckPath: "/health",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
	}
}
