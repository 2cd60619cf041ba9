package provider

import "strings"

// preamblePrefixes are lead-in lines models add before the answer.
var preamblePrefixes = []string{
	"Here is",
	"Here's",
	"Sure",
	"Certainly",
	"Rationale:",
}

// CleanProse normalizes generated text: it drops code fences, markdown
// headings and chatty preambles, and joins the remaining lines into a
// single paragraph.
func CleanProse(text string) string {
	var parts []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "```") || strings.HasPrefix(line, "#") {
			continue
		}
		if len(parts) == 0 && isPreamble(line) {
			continue
		}
		line = strings.TrimPrefix(line, "- ")
		line = strings.TrimPrefix(line, "* ")
		parts = append(parts, line)
	}
	return strings.Join(parts, " ")
}

func isPreamble(line string) bool {
	for _, p := range preamblePrefixes {
		if strings.HasPrefix(line, p) && strings.HasSuffix(line, ":") {
			return true
		}
	}
	return false
}
