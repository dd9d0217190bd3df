// Package redact scrubs sensitive substrings out of free-text event fields
// before they reach the search index, which makes message and command-line
// text broadly searchable and so should not carry secrets embedded in raw
// log text. A Pattern is a named regex plus a replacement string, applied
// by a Scrubber holding a single static pattern set.
package redact

import (
	"regexp"
)

// Pattern is a named regex-and-replacement masking rule.
type Pattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

// DefaultPatterns are compiled once and reused by every Scrubber built with
// NewDefault, covering the secret shapes most likely to appear in log
// messages and command lines.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{Name: "aws_access_key", Regex: regexp.MustCompile(`AKIA[0-9A-Z]{16}`), Replacement: "[REDACTED_AWS_KEY]"},
		{Name: "bearer_token", Regex: regexp.MustCompile(`(?i)bearer\s+[a-z0-9._-]{20,}`), Replacement: "Bearer [REDACTED_TOKEN]"},
		{Name: "private_key_block", Regex: regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`), Replacement: "[REDACTED_PRIVATE_KEY]"},
		{Name: "generic_password_flag", Regex: regexp.MustCompile(`(?i)(--password|--pwd|-p)[=\s]\S+`), Replacement: "$1=[REDACTED]"},
		{Name: "credit_card", Regex: regexp.MustCompile(`\b(?:\d[ -]*?){13,16}\b`), Replacement: "[REDACTED_CARD_NUMBER]"},
		{Name: "ssn", Regex: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), Replacement: "[REDACTED_SSN]"},
	}
}

// Scrubber applies a fixed set of patterns to text.
type Scrubber struct {
	patterns []Pattern
}

// NewDefault builds a Scrubber using DefaultPatterns.
func NewDefault() *Scrubber {
	return &Scrubber{patterns: DefaultPatterns()}
}

// New builds a Scrubber from a caller-supplied pattern set, for deployments
// that need to add or remove rules.
func New(patterns []Pattern) *Scrubber {
	return &Scrubber{patterns: patterns}
}

// Scrub applies every pattern to text in order and returns the result.
func (s *Scrubber) Scrub(text string) string {
	for _, p := range s.patterns {
		text = p.Regex.ReplaceAllString(text, p.Replacement)
	}
	return text
}
