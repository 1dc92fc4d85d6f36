// Package sanitize redacts values in query results before they leave the server.
package sanitize

import (
	"fmt"
	"regexp"
)

// Rule replaces every match of Pattern with Replacement. When Column is set,
// the rule only applies to columns whose name matches it.
type Rule struct {
	Pattern     string
	Replacement string
	Column      string
}

type compiledRule struct {
	pattern     *regexp.Regexp
	replacement string
	column      *regexp.Regexp
}

// Sanitizer applies regex-based sanitization to string values in result rows.
type Sanitizer struct {
	rules []compiledRule
}

// NewSanitizer creates a new Sanitizer. Returns an error on invalid regex patterns.
func NewSanitizer(rules []Rule) (*Sanitizer, error) {
	compiled := make([]compiledRule, len(rules))
	for i, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("sanitize: invalid regex pattern %q: %v", r.Pattern, err)
		}
		compiled[i] = compiledRule{pattern: re, replacement: r.Replacement}
		if r.Column != "" {
			col, err := regexp.Compile(r.Column)
			if err != nil {
				return nil, fmt.Errorf("sanitize: invalid column pattern %q: %v", r.Column, err)
			}
			compiled[i].column = col
		}
	}
	return &Sanitizer{rules: compiled}, nil
}

// HasRules returns true if the sanitizer has any rules configured.
func (s *Sanitizer) HasRules() bool {
	return len(s.rules) > 0
}

// SanitizeRows rewrites string values in place and returns rows.
// Numbers, booleans, timestamps and nulls pass through untouched.
func (s *Sanitizer) SanitizeRows(rows []map[string]any) []map[string]any {
	if len(s.rules) == 0 {
		return rows
	}
	for _, row := range rows {
		for col, v := range row {
			str, ok := v.(string)
			if !ok {
				continue
			}
			row[col] = s.sanitizeString(col, str)
		}
	}
	return rows
}

func (s *Sanitizer) sanitizeString(column, value string) string {
	for _, rule := range s.rules {
		if rule.column != nil && !rule.column.MatchString(column) {
			continue
		}
		value = rule.pattern.ReplaceAllString(value, rule.replacement)
	}
	return value
}
