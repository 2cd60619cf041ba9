// Package sanitize redacts personal data and credentials from text before it
// leaves the process for a text-generation provider.
package sanitize

import "regexp"

// Pattern is a named redaction rule.
type Pattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

// Notes and titles entered by managers routinely carry contact details and
// pasted credentials.
var defaultPatterns = []Pattern{
	{
		Name:        "PEM Block",
		Regex:       regexp.MustCompile(`-----BEGIN [A-Z ]+-----[\s\S]+?-----END [A-Z ]+-----`),
		Replacement: "[PEM_BLOCK_REDACTED]",
	},
	{
		Name:        "JWT",
		Regex:       regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`),
		Replacement: "[JWT_REDACTED]",
	},
	{
		Name:        "Bearer Token",
		Regex:       regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._-]{20,}`),
		Replacement: "Bearer [TOKEN_REDACTED]",
	},
	{
		Name:        "Anthropic Key",
		Regex:       regexp.MustCompile(`sk-ant-[A-Za-z0-9_-]{20,}`),
		Replacement: "[API_KEY_REDACTED]",
	},
	{
		Name:        "Slack Token",
		Regex:       regexp.MustCompile(`xox[baprs]-[0-9a-zA-Z-]+`),
		Replacement: "[SLACK_TOKEN_REDACTED]",
	},
	{
		Name:        "Key Value Secret",
		Regex:       regexp.MustCompile(`(?i)(password|passwd|token|secret|api[_-]?key)\s*[=:]\s*\S+`),
		Replacement: "$1=[REDACTED]",
	},
	{
		Name:        "Email",
		Regex:       regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`),
		Replacement: "[EMAIL_REDACTED]",
	},
	{
		Name:        "Phone",
		Regex:       regexp.MustCompile(`(?:\+\d{1,3}[ .-]?)?\(?\d{3}\)?[ .-]?\d{3}[ .-]\d{4}\b`),
		Replacement: "[PHONE_REDACTED]",
	},
}

// DefaultPatterns returns a copy of the built-in redaction rules.
func DefaultPatterns() []Pattern {
	out := make([]Pattern, len(defaultPatterns))
	copy(out, defaultPatterns)
	return out
}
