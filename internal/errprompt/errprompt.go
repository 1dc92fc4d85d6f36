// Package errprompt appends operator-configured guidance to SQL Server
// error messages so the calling agent can correct itself.
package errprompt

import (
	"fmt"
	"regexp"
	"strings"
)

// Rule is the error prompt matcher's own rule type.
type Rule struct {
	Pattern string
	Message string
}

type compiledRule struct {
	pattern *regexp.Regexp
	message string
}

// Matcher checks error messages against patterns and returns guidance prompts.
type Matcher struct {
	rules []compiledRule
}

// DefaultRules covers the SQL Server failures agents hit most often.
// Configured rules are evaluated after these.
var DefaultRules = []Rule{
	{Pattern: `(?i)not connected to SQL Server`, Message: "Call the connect tool first, then retry."},
	{Pattern: `(?i)Invalid object name`, Message: "The table or view does not exist. Use list_schemas and list_tables to find the right name, and qualify it with its schema."},
	{Pattern: `(?i)Must declare the scalar variable "@(\w+)"`, Message: "Every @name in the SQL text needs a matching entry in the parameters argument."},
	{Pattern: `(?i)Login failed for user`, Message: "Check the user and password, and that SQL Server authentication is enabled on the server."},
	{Pattern: `(?i)certificate`, Message: "The server certificate could not be verified. Use a trusted certificate, or pass trust_server_certificate=true only if the user accepts that risk."},
}

// NewMatcher creates a new Matcher. Returns an error on invalid regex patterns.
func NewMatcher(rules []Rule) (*Matcher, error) {
	compiled := make([]compiledRule, len(rules))
	for i, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("errprompt: invalid regex pattern %q: %v", r.Pattern, err)
		}
		compiled[i] = compiledRule{pattern: re, message: r.Message}
	}
	return &Matcher{rules: compiled}, nil
}

// Match returns all matching prompt messages joined with newlines, or "".
func (m *Matcher) Match(errMsg string) string {
	var matches []string
	for _, rule := range m.rules {
		if rule.pattern.MatchString(errMsg) {
			matches = append(matches, rule.message)
		}
	}
	return strings.Join(matches, "\n")
}

// MatchedPatterns returns the regex patterns that matched the given error message.
func (m *Matcher) MatchedPatterns(errMsg string) []string {
	var patterns []string
	for _, rule := range m.rules {
		if rule.pattern.MatchString(errMsg) {
			patterns = append(patterns, rule.pattern.String())
		}
	}
	return patterns
}

// Augment returns errMsg followed by a blank line and the matching prompts.
// errMsg is returned unchanged when nothing matches.
func (m *Matcher) Augment(errMsg string) string {
	prompt := m.Match(errMsg)
	if prompt == "" {
		return errMsg
	}
	return errMsg + "\n\n" + prompt
}
