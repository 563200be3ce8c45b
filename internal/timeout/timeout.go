// Package timeout resolves per-statement execution deadlines. Expensive
// query shapes (catalog scans, heavy joins) can be given their own budget via
// pattern rules; everything else falls back to the configured default.
package timeout

import (
	"fmt"
	"regexp"
	"time"
)

// Rule gives every statement matching Pattern the given budget.
type Rule struct {
	Pattern string
	Timeout time.Duration
}

// Config is the timeout manager's own config type.
type Config struct {
	DefaultTimeout time.Duration
	Rules          []Rule
}

type compiledRule struct {
	pattern *regexp.Regexp
	source  string
	timeout time.Duration
}

// Manager resolves statement timeouts based on SQL pattern matching.
type Manager struct {
	rules          []compiledRule
	defaultTimeout time.Duration
}

// NewManager creates a new Manager. Panics on invalid regex patterns or a
// non-positive default.
func NewManager(config Config) *Manager {
	if config.DefaultTimeout <= 0 {
		panic("timeout: default timeout must be > 0")
	}
	compiled := make([]compiledRule, len(config.Rules))
	for i, r := range config.Rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			panic(fmt.Sprintf("timeout: invalid regex pattern %q: %v", r.Pattern, err))
		}
		if r.Timeout <= 0 {
			panic(fmt.Sprintf("timeout: rule %q has non-positive timeout", r.Pattern))
		}
		compiled[i] = compiledRule{pattern: re, source: r.Pattern, timeout: r.Timeout}
	}
	return &Manager{rules: compiled, defaultTimeout: config.DefaultTimeout}
}

// Resolve returns the timeout for the given SQL.
// First matching rule wins. Falls back to default.
func (m *Manager) Resolve(sql string) time.Duration {
	d, _ := m.ResolveWithPattern(sql)
	return d
}

// ResolveWithPattern returns the timeout together with the rule pattern that
// selected it, or an empty pattern when the default applied. The pattern is
// meant for log fields.
func (m *Manager) ResolveWithPattern(sql string) (time.Duration, string) {
	for _, rule := range m.rules {
		if rule.pattern.MatchString(sql) {
			return rule.timeout, rule.source
		}
	}
	return m.defaultTimeout, ""
}
