package sanitize

import "strings"

// Sanitizer applies redaction patterns in order.
type Sanitizer struct {
	patterns []Pattern
	maxLen   int
}

// Option configures a Sanitizer.
type Option func(*Sanitizer)

// WithPatterns replaces the default patterns.
func WithPatterns(p []Pattern) Option {
	return func(s *Sanitizer) { s.patterns = p }
}

// WithMaxLength truncates sanitized text to n runes. Zero disables it.
func WithMaxLength(n int) Option {
	return func(s *Sanitizer) { s.maxLen = n }
}

// New creates a sanitizer with the default patterns.
func New(opts ...Option) *Sanitizer {
	s := &Sanitizer{patterns: DefaultPatterns()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sanitize returns input with every pattern match replaced.
func (s *Sanitizer) Sanitize(input string) string {
	if input == "" {
		return input
	}
	out := input
	for _, p := range s.patterns {
		out = p.Regex.ReplaceAllString(out, p.Replacement)
	}
	if s.maxLen > 0 {
		if r := []rune(out); len(r) > s.maxLen {
			out = strings.TrimSpace(string(r[:s.maxLen])) + "..."
		}
	}
	return out
}

// SanitizeAll sanitizes each element of inputs.
func (s *Sanitizer) SanitizeAll(inputs []string) []string {
	out := make([]string, len(inputs))
	for i, in := range inputs {
		out[i] = s.Sanitize(in)
	}
	return out
}

// Matches returns the names of the patterns that match input.
func (s *Sanitizer) Matches(input string) []string {
	var names []string
	for _, p := range s.patterns {
		if p.Regex.MatchString(input) {
			names = append(names, p.Name)
		}
	}
	return names
}

// Default is a sanitizer with the built-in patterns.
var Default = New()

// Sanitize uses the default sanitizer.
func Sanitize(input string) string {
	return Default.Sanitize(input)
}
