// Package privacy scrubs post text before it leaves the process and masks
// secrets before they reach a log line.
package privacy

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	redactedPlaceholder = "[REDACTED]"
	maskVisible         = 5
	maskSuffix          = "***"
)

// Redactor replaces every match of its patterns with [REDACTED].
// The zero value and a nil *Redactor leave text unchanged.
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor compiles patterns. Any invalid pattern fails the whole set.
func NewRedactor(patterns []string) (*Redactor, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile redact pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return &Redactor{patterns: compiled}, nil
}

func (r *Redactor) Apply(text string) string {
	if r == nil {
		return text
	}
	for _, re := range r.patterns {
		text = re.ReplaceAllString(text, redactedPlaceholder)
	}
	return text
}

// Len is the number of compiled patterns.
func (r *Redactor) Len() int {
	if r == nil {
		return 0
	}
	return len(r.patterns)
}

// Mask keeps the first five characters of a secret and hides the rest.
// Short secrets are hidden entirely.
func Mask(secret string) string {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return ""
	}
	runes := []rune(secret)
	if len(runes) <= maskVisible {
		return maskSuffix
	}
	return string(runes[:maskVisible]) + maskSuffix
}
