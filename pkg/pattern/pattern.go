// Package pattern matches request URLs against configured rules.
//
// Rule syntax:
//
//   - Substring (no prefix, no *): case-insensitive substring match
//     Example: "doubleclick.net" matches "https://ad.doubleclick.net/x.js"
//
//   - Wildcard (*): case-insensitive, * matches any run of characters, anchored at both ends
//     Example: "*.woff2" matches "https://cdn.example.com/font.WOFF2"
//
//   - Regexp (~): case-sensitive regular expression
//     Example: "~^https?://[^/]+/ads/"
//
//   - Regexp (~*): case-insensitive regular expression
//     Example: "~*\.(gif|png)$"
package pattern

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind is the matching strategy of a compiled Pattern
type Kind int

const (
	KindSubstring Kind = iota
	KindWildcard
	KindRegexp
)

// String returns the kind name used in logs
func (k Kind) String() string {
	switch k {
	case KindSubstring:
		return "substring"
	case KindWildcard:
		return "wildcard"
	case KindRegexp:
		return "regexp"
	default:
		return "unknown"
	}
}

// Pattern is a compiled rule, safe for concurrent use
type Pattern struct {
	Original string
	Kind     Kind
	needle   string // lowercased for substring and wildcard
	re       *regexp.Regexp
}

// Compile parses a rule. Empty rules and invalid regexps are errors.
func Compile(rule string) (*Pattern, error) {
	rule = strings.TrimSpace(rule)
	if rule == "" {
		return nil, fmt.Errorf("pattern cannot be empty")
	}

	p := &Pattern{Original: rule}

	switch {
	case strings.HasPrefix(rule, "~*"):
		return p.compileRegexp("(?i)" + rule[2:])
	case strings.HasPrefix(rule, "~"):
		return p.compileRegexp(rule[1:])
	case strings.Contains(rule, "*"):
		p.Kind = KindWildcard
	default:
		p.Kind = KindSubstring
	}

	p.needle = strings.ToLower(rule)
	return p, nil
}

func (p *Pattern) compileRegexp(expr string) (*Pattern, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid regexp pattern '%s': %w", p.Original, err)
	}
	p.Kind = KindRegexp
	p.re = re
	return p, nil
}

// Match reports whether input satisfies the rule
func (p *Pattern) Match(input string) bool {
	if p == nil {
		return false
	}

	switch p.Kind {
	case KindRegexp:
		return p.re.MatchString(input)
	case KindWildcard:
		return MatchWildcard(strings.ToLower(input), p.needle)
	default:
		return strings.Contains(strings.ToLower(input), p.needle)
	}
}

// CompileAll compiles every rule, failing on the first invalid one
func CompileAll(rules []string) ([]*Pattern, error) {
	compiled := make([]*Pattern, 0, len(rules))
	for _, rule := range rules {
		p, err := Compile(rule)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, p)
	}
	return compiled, nil
}

// MatchAny returns the first pattern matching input, or nil
func MatchAny(patterns []*Pattern, input string) *Pattern {
	for _, p := range patterns {
		if p.Match(input) {
			return p
		}
	}
	return nil
}

// MatchWildcard matches text against a pattern where * spans any characters.
// Both arguments are compared as given.
//
// Examples:
//   - MatchWildcard("/blog/2024/post", "/blog/*") → true
//   - MatchWildcard("document.pdf", "*.pdf") → true
//   - MatchWildcard("anything", "*") → true
func MatchWildcard(text, pattern string) bool {
	if !strings.Contains(pattern, "*") {
		return text == pattern
	}

	parts := strings.Split(pattern, "*")

	if !strings.HasPrefix(text, parts[0]) {
		return false
	}
	text = text[len(parts[0]):]

	last := parts[len(parts)-1]
	if !strings.HasSuffix(text, last) {
		return false
	}
	text = text[:len(text)-len(last)]

	for _, part := range parts[1 : len(parts)-1] {
		if part == "" {
			continue
		}
		idx := strings.Index(text, part)
		if idx == -1 {
			return false
		}
		text = text[idx+len(part):]
	}

	return true
}
