// Package hooks runs external commands around the query tool. A hook reads
// its input on stdin and answers with a JSON verdict on stdout.
package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config is the hook runner's own config type.
type Config struct {
	DefaultTimeout time.Duration
	BeforeQuery    []HookEntry
	AfterQuery     []HookEntry
}

// HookEntry defines a single command-based hook. The hook only runs when
// Pattern matches its input (SQL text or result JSON).
type HookEntry struct {
	Pattern string
	Command string
	Args    []string
	Timeout time.Duration // 0 means use DefaultTimeout
}

// Verdict is the JSON a hook prints on stdout.
//
// Before-query hooks may set Modified to replace the SQL text; after-query
// hooks may set it to replace the result JSON.
type Verdict struct {
	Accept   bool   `json:"accept"`
	Modified string `json:"modified,omitempty"`
	Message  string `json:"message,omitempty"`
}

type compiledHook struct {
	pattern *regexp.Regexp
	command string
	args    []string
	timeout time.Duration
}

// Runner executes command-based hooks. It is safe for concurrent use.
type Runner struct {
	beforeQuery []compiledHook
	afterQuery  []compiledHook
	logger      zerolog.Logger
}

// NewRunner compiles the hook patterns. Returns an error on invalid regex or
// when hooks are configured without a usable timeout.
func NewRunner(config Config, logger zerolog.Logger) (*Runner, error) {
	if config.DefaultTimeout <= 0 && (len(config.BeforeQuery) > 0 || len(config.AfterQuery) > 0) {
		return nil, errors.New("hooks: default timeout must be > 0 when hooks are configured")
	}

	compile := func(stage string, entries []HookEntry) ([]compiledHook, error) {
		compiled := make([]compiledHook, 0, len(entries))
		for _, e := range entries {
			if e.Command == "" {
				return nil, fmt.Errorf("hooks: %s hook with pattern %q has no command", stage, e.Pattern)
			}
			re, err := regexp.Compile(e.Pattern)
			if err != nil {
				return nil, fmt.Errorf("hooks: invalid regex pattern %q: %v", e.Pattern, err)
			}
			timeout := e.Timeout
			if timeout <= 0 {
				timeout = config.DefaultTimeout
			}
			compiled = append(compiled, compiledHook{pattern: re, command: e.Command, args: e.Args, timeout: timeout})
		}
		return compiled, nil
	}

	before, err := compile("before_query", config.BeforeQuery)
	if err != nil {
		return nil, err
	}
	after, err := compile("after_query", config.AfterQuery)
	if err != nil {
		return nil, err
	}
	return &Runner{beforeQuery: before, afterQuery: after, logger: logger}, nil
}

// HasBeforeQueryHooks reports whether any before_query hooks are configured.
func (r *Runner) HasBeforeQueryHooks() bool {
	return len(r.beforeQuery) > 0
}

// HasAfterQueryHooks reports whether any after_query hooks are configured.
func (r *Runner) HasAfterQueryHooks() bool {
	return len(r.afterQuery) > 0
}

// RunBeforeQuery passes the SQL text through every matching hook in order.
// Returns the final SQL and the commands that ran.
func (r *Runner) RunBeforeQuery(ctx context.Context, query string) (string, []string, error) {
	return r.chain(ctx, "before_query", "query", r.beforeQuery, query)
}

// RunAfterQuery passes the result JSON through every matching hook in order.
// Returns the final JSON and the commands that ran.
func (r *Runner) RunAfterQuery(ctx context.Context, resultJSON string) (string, []string, error) {
	return r.chain(ctx, "after_query", "result", r.afterQuery, resultJSON)
}

func (r *Runner) chain(ctx context.Context, stage, subject string, hooks []compiledHook, input string) (string, []string, error) {
	current := input
	var executed []string
	for _, hook := range hooks {
		if !hook.pattern.MatchString(current) {
			continue
		}
		output, err := r.execute(ctx, hook, current)
		if err != nil {
			return "", executed, fmt.Errorf("%s hook error: %w", stage, err)
		}
		executed = append(executed, hook.command)

		var verdict Verdict
		if err := json.Unmarshal(output, &verdict); err != nil {
			return "", executed, fmt.Errorf("%s hook returned unparseable response (command: %s): %w", stage, hook.command, err)
		}
		if !verdict.Accept {
			msg := verdict.Message
			if msg == "" {
				msg = subject + " rejected by hook"
			}
			return "", executed, fmt.Errorf("%s hook rejected %s (command: %s): %s", stage, subject, hook.command, msg)
		}
		if verdict.Modified != "" {
			current = verdict.Modified
		}
	}
	return current, executed, nil
}

// execute runs the command directly, without a shell.
func (r *Runner) execute(ctx context.Context, hook compiledHook, input string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, hook.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, hook.command, hook.args...)
	cmd.Stdin = strings.NewReader(input)
	// Children of the hook may keep stdout open after the kill.
	cmd.WaitDelay = time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if stderr.Len() > 0 {
		r.logger.Debug().Str("command", hook.command).Str("stderr", stderr.String()).Msg("hook stderr output")
	}
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("hook timed out after %s (command: %s)", hook.timeout, hook.command)
		}
		return nil, fmt.Errorf("hook failed (command: %s): %w", hook.command, err)
	}
	return output, nil
}
