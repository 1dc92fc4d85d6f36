// Package configure implements the interactive wizard behind
// "gomssqlmcp configure". It edits a ServerConfig file in place, JSON or
// YAML by extension, starting from the defaults when the file is missing.
package configure

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	mssqlmcp "github.com/rickchristie/mssql-mcp"
)

// Run runs the wizard on stdin, prompting on stderr.
func Run(configPath string) error {
	return run(configPath, os.Stdin, os.Stderr)
}

func run(configPath string, input io.Reader, output io.Writer) error {
	cfg, existed, err := load(configPath)
	if err != nil {
		return err
	}

	w := &wizard{scanner: bufio.NewScanner(input), out: output, label: "default"}
	if existed {
		w.label = "current"
	}

	fmt.Fprintf(output, "gomssqlmcp configuration wizard\n")
	fmt.Fprintf(output, "Config file: %s\n", configPath)
	fmt.Fprintf(output, "SQL Server credentials are not stored here; agents supply them to the connect tool.\n")

	w.section("Server")
	cfg.Server.Transport = ask(w, "server.transport", cfg.Server.Transport, oneOf("stdio", "http"))
	cfg.Server.Port = ask(w, "server.port", cfg.Server.Port, intBetween(1, 65535))
	cfg.Server.HealthCheckEnabled = ask(w, "server.health_check_enabled", cfg.Server.HealthCheckEnabled, boolean)
	cfg.Server.HealthCheckPath = ask(w, "server.health_check_path", cfg.Server.HealthCheckPath, urlPath)
	cfg.Server.MetricsEnabled = ask(w, "server.metrics_enabled", cfg.Server.MetricsEnabled, boolean)

	w.section("Logging")
	cfg.Logging.Level = ask(w, "logging.level", cfg.Logging.Level, oneOf("debug", "info", "warn", "error"))
	cfg.Logging.Format = ask(w, "logging.format", cfg.Logging.Format, oneOf("json", "text"))
	cfg.Logging.Output = ask(w, "logging.output [stderr, stdout or a file path]", cfg.Logging.Output, text)

	w.section("Pool")
	cfg.Pool.MaxConns = ask(w, "pool.max_conns", cfg.Pool.MaxConns, intBetween(1, 0))
	cfg.Pool.MaxIdleConns = ask(w, "pool.max_idle_conns", cfg.Pool.MaxIdleConns, intBetween(0, 0))
	cfg.Pool.ConnMaxLifetime = ask(w, "pool.conn_max_lifetime [Go duration, e.g. 1h]", cfg.Pool.ConnMaxLifetime, duration)
	cfg.Pool.ConnMaxIdleTime = ask(w, "pool.conn_max_idle_time [Go duration, e.g. 30s]", cfg.Pool.ConnMaxIdleTime, duration)

	w.section("Query")
	cfg.Query.ConnectTimeoutSeconds = ask(w, "query.connect_timeout_seconds", cfg.Query.ConnectTimeoutSeconds, intBetween(1, 0))
	cfg.Query.DefaultTimeoutSeconds = ask(w, "query.default_timeout_seconds", cfg.Query.DefaultTimeoutSeconds, intBetween(1, 0))
	cfg.Query.MetadataTimeoutSeconds = ask(w, "query.metadata_timeout_seconds", cfg.Query.MetadataTimeoutSeconds, intBetween(1, 0))
	cfg.Query.MaxSQLLength = ask(w, "query.max_sql_length [bytes]", cfg.Query.MaxSQLLength, intBetween(1, 0))
	cfg.Query.MaxResultLength = ask(w, "query.max_result_length [characters]", cfg.Query.MaxResultLength, intBetween(1, 0))

	w.section("General")
	cfg.AppName = ask(w, "app_name", cfg.AppName, text)
	cfg.DefaultHookTimeoutSeconds = ask(w, "default_hook_timeout_seconds", cfg.DefaultHookTimeoutSeconds, intBetween(0, 0))

	cfg.Query.TimeoutRules = editList(w, "Timeout Rules", cfg.Query.TimeoutRules,
		func(r mssqlmcp.TimeoutRule) string {
			return fmt.Sprintf("pattern=%q timeout_seconds=%d", r.Pattern, r.TimeoutSeconds)
		},
		func(w *wizard) (mssqlmcp.TimeoutRule, bool) {
			pattern, ok := requirePattern(w)
			if !ok {
				return mssqlmcp.TimeoutRule{}, false
			}
			return mssqlmcp.TimeoutRule{
				Pattern:        pattern,
				TimeoutSeconds: ask(w, "  timeout_seconds", 60, intBetween(1, 0)),
			}, true
		})

	cfg.ErrorPrompts = editList(w, "Error Prompts", cfg.ErrorPrompts,
		func(r mssqlmcp.ErrorPromptRule) string {
			return fmt.Sprintf("pattern=%q message=%q", r.Pattern, r.Message)
		},
		func(w *wizard) (mssqlmcp.ErrorPromptRule, bool) {
			pattern, ok := requirePattern(w)
			if !ok {
				return mssqlmcp.ErrorPromptRule{}, false
			}
			return mssqlmcp.ErrorPromptRule{
				Pattern: pattern,
				Message: ask(w, "  message", "", text),
			}, true
		})

	cfg.Sanitization = editList(w, "Sanitization Rules", cfg.Sanitization,
		func(r mssqlmcp.SanitizationRule) string {
			return fmt.Sprintf("pattern=%q replacement=%q column=%q description=%q", r.Pattern, r.Replacement, r.Column, r.Description)
		},
		func(w *wizard) (mssqlmcp.SanitizationRule, bool) {
			pattern, ok := requirePattern(w)
			if !ok {
				return mssqlmcp.SanitizationRule{}, false
			}
			return mssqlmcp.SanitizationRule{
				Pattern:     pattern,
				Replacement: ask(w, "  replacement", "", text),
				Column:      ask(w, "  column (regex, empty = all columns)", "", regex),
				Description: ask(w, "  description", "", text),
			}, true
		})

	cfg.ServerHooks.BeforeQuery = editList(w, "Server Hooks: Before Query", cfg.ServerHooks.BeforeQuery, describeHook, addHook)
	cfg.ServerHooks.AfterQuery = editList(w, "Server Hooks: After Query", cfg.ServerHooks.AfterQuery, describeHook, addHook)

	if err := save(configPath, cfg); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	fmt.Fprintf(output, "\nConfiguration saved to %s\n", configPath)
	return nil
}

// load decodes an existing file over the defaults. A missing file is not an
// error; a malformed one is, so the wizard never overwrites what it could
// not read.
func load(configPath string) (*mssqlmcp.ServerConfig, bool, error) {
	cfg := mssqlmcp.DefaultServerConfig()
	data, err := os.ReadFile(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		return &cfg, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}
	if isYAML(configPath) {
		err = yaml.Unmarshal(data, &cfg)
	} else {
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}
	return &cfg, true, nil
}

func save(configPath string, cfg *mssqlmcp.ServerConfig) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(configPath) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(configPath, data, 0644)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

type wizard struct {
	scanner *bufio.Scanner
	out     io.Writer
	label   string // "default" for a new file, "current" otherwise
}

// readLine returns false once input is exhausted.
func (w *wizard) readLine() (string, bool) {
	if !w.scanner.Scan() {
		return "", false
	}
	return strings.TrimSpace(w.scanner.Text()), true
}

func (w *wizard) section(title string) {
	fmt.Fprintf(w.out, "\n=== %s ===\n", title)
}

// ask prompts until parse accepts the input. Empty input, or end of input,
// keeps current.
func ask[T any](w *wizard, field string, current T, parse func(string) (T, error)) T {
	for {
		fmt.Fprintf(w.out, "%s (%s: %v): ", field, w.label, current)
		input, ok := w.readLine()
		if !ok || input == "" {
			return current
		}
		v, err := parse(input)
		if err != nil {
			fmt.Fprintf(w.out, "  %v, try again.\n", err)
			continue
		}
		return v
	}
}

// editList shows items and loops on add/remove until the user continues.
func editList[T any](w *wizard, title string, items []T, describe func(T) string, add func(*wizard) (T, bool)) []T {
	w.section(title)
	for {
		if len(items) == 0 {
			fmt.Fprintf(w.out, "  (no entries)\n")
		}
		for i, item := range items {
			fmt.Fprintf(w.out, "  [%d] %s\n", i, describe(item))
		}
		fmt.Fprintf(w.out, "[a]dd, [r]emove, [c]ontinue? ")
		choice, ok := w.readLine()
		if !ok {
			return items
		}
		switch strings.ToLower(choice) {
		case "a":
			if item, ok := add(w); ok {
				items = append(items, item)
			}
		case "r":
			items = removeAt(w, items)
		case "c", "":
			return items
		default:
			fmt.Fprintf(w.out, "  Unknown choice %q, try again.\n", choice)
		}
	}
}

func removeAt[T any](w *wizard, items []T) []T {
	if len(items) == 0 {
		fmt.Fprintf(w.out, "  Nothing to remove.\n")
		return items
	}
	fmt.Fprintf(w.out, "  Index to remove: ")
	input, _ := w.readLine()
	idx, err := strconv.Atoi(input)
	if err != nil || idx < 0 || idx >= len(items) {
		fmt.Fprintf(w.out, "  Invalid index %q.\n", input)
		return items
	}
	return append(items[:idx:idx], items[idx+1:]...)
}

func requirePattern(w *wizard) (string, bool) {
	pattern := ask(w, "  pattern (regex)", "", regex)
	if pattern == "" {
		fmt.Fprintf(w.out, "  pattern is required, entry discarded.\n")
		return "", false
	}
	return pattern, true
}

func describeHook(e mssqlmcp.HookEntry) string {
	return fmt.Sprintf("pattern=%q command=%q args=%v timeout_seconds=%d", e.Pattern, e.Command, e.Args, e.TimeoutSeconds)
}

func addHook(w *wizard) (mssqlmcp.HookEntry, bool) {
	pattern, ok := requirePattern(w)
	if !ok {
		return mssqlmcp.HookEntry{}, false
	}
	command := ask(w, "  command", "", text)
	if command == "" {
		fmt.Fprintf(w.out, "  command is required, entry discarded.\n")
		return mssqlmcp.HookEntry{}, false
	}
	return mssqlmcp.HookEntry{
		Pattern:        pattern,
		Command:        command,
		Args:           ask(w, "  args (comma-separated)", []string(nil), commaList),
		TimeoutSeconds: ask(w, "  timeout_seconds (0 = default_hook_timeout_seconds)", 0, intBetween(0, 0)),
	}, true
}

// Parsers for ask.

func text(s string) (string, error) { return s, nil }

func oneOf(allowed ...string) func(string) (string, error) {
	return func(s string) (string, error) {
		for _, v := range allowed {
			if s == v {
				return s, nil
			}
		}
		return "", fmt.Errorf("%q must be one of: %s", s, strings.Join(allowed, ", "))
	}
}

// intBetween accepts integers >= lo, and <= hi when hi > 0.
func intBetween(lo, hi int) func(string) (int, error) {
	return func(s string) (int, error) {
		v, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("invalid integer %q", s)
		}
		if v < lo {
			return 0, fmt.Errorf("value must be >= %d", lo)
		}
		if hi > 0 && v > hi {
			return 0, fmt.Errorf("value must be <= %d", hi)
		}
		return v, nil
	}
}

func boolean(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "true", "t", "yes", "y", "1":
		return true, nil
	case "false", "f", "no", "n", "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid value %q, use yes or no", s)
}

func duration(s string) (string, error) {
	if _, err := time.ParseDuration(s); err != nil {
		return "", fmt.Errorf("invalid Go duration %q", s)
	}
	return s, nil
}

func urlPath(s string) (string, error) {
	if !strings.HasPrefix(s, "/") {
		return "", fmt.Errorf("path %q must start with /", s)
	}
	return s, nil
}

func regex(s string) (string, error) {
	if _, err := regexp.Compile(s); err != nil {
		return "", fmt.Errorf("invalid regex %q: %v", s, err)
	}
	return s, nil
}

func commaList(s string) ([]string, error) {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out, nil
}
