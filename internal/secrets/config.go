package secrets

import (
	"fmt"
	"regexp"
)

// Config configures the scrubber.
type Config struct {
	Enabled         bool
	Rules           []Rule
	RedactionString string
	AllowList       []string

	compiledRules     []*compiledRule
	compiledAllowList []*regexp.Regexp
}

// Rule defines a secret detection rule.
type Rule struct {
	ID          string
	Description string
	Pattern     string
	// Keywords, when set, must appear (case-insensitive) for the rule to run.
	Keywords []string
	Severity string
}

type compiledRule struct {
	Rule
	pattern  *regexp.Regexp
	keywords []*regexp.Regexp
}

// DefaultConfig returns a configuration with the default rules.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		RedactionString: "[REDACTED]",
		Rules:           DefaultRules(),
	}
}

// Validate compiles rules and the allow list.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.RedactionString == "" {
		c.RedactionString = "[REDACTED]"
	}

	c.compiledRules = make([]*compiledRule, 0, len(c.Rules))
	for i, rule := range c.Rules {
		if rule.ID == "" {
			return fmt.Errorf("rule %d: ID is required", i)
		}
		pattern, err := regexp.Compile(rule.Pattern)
		if err != nil || rule.Pattern == "" {
			return fmt.Errorf("rule %s: invalid pattern: %v", rule.ID, err)
		}
		cr := &compiledRule{Rule: rule, pattern: pattern}
		for _, kw := range rule.Keywords {
			cr.keywords = append(cr.keywords, regexp.MustCompile("(?i)"+regexp.QuoteMeta(kw)))
		}
		c.compiledRules = append(c.compiledRules, cr)
	}

	c.compiledAllowList = make([]*regexp.Regexp, 0, len(c.AllowList))
	for i, p := range c.AllowList {
		re, err := regexp.Compile(p)
		if err != nil {
			return fmt.Errorf("allow_list %d: invalid pattern: %w", i, err)
		}
		c.compiledAllowList = append(c.compiledAllowList, re)
	}
	return nil
}
