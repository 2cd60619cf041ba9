package sanitize

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		removed []string
		kept    []string
	}{
		{
			name:    "email in note",
			input:   "reach alice at alice.smith@example.com before friday",
			removed: []string{"alice.smith@example.com"},
			kept:    []string{"reach alice at", "[EMAIL_REDACTED]"},
		},
		{
			name:    "phone number",
			input:   "call +1 (555) 123-4567 for access",
			removed: []string{"123-4567"},
			kept:    []string{"[PHONE_REDACTED]"},
		},
		{
			name:    "password assignment",
			input:   "db password=hunter2 is shared",
			removed: []string{"hunter2"},
			kept:    []string{"password=[REDACTED]"},
		},
		{
			name:    "anthropic key",
			input:   "use sk-ant-REDACTED",
			removed: []string{"abcdefghijklmnopqrstuvwxyz"},
		},
		{
			name:  "plain task title untouched",
			input: "Migrate billing service to new cluster",
			kept:  []string{"Migrate billing service to new cluster"},
		},
		{
			name:  "percentages are not phone numbers",
			input: "utilization 85.5% over 40 hours",
			kept:  []string{"85.5%", "40 hours"},
		},
		{
			name:  "deadlines are not phone numbers",
			input: "due 2026-03-01T12:00:00Z",
			kept:  []string{"2026-03-01T12:00:00Z"},
		},
	}

	s := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Sanitize(tt.input)
			for _, r := range tt.removed {
				assert.NotContains(t, got, r)
			}
			for _, k := range tt.kept {
				assert.Contains(t, got, k)
			}
		})
	}
}

func TestSanitize_Empty(t *testing.T) {
	assert.Equal(t, "", Sanitize(""))
}

func TestSanitize_MaxLength(t *testing.T) {
	s := New(WithMaxLength(10))
	got := s.Sanitize(strings.Repeat("a", 50))
	assert.Equal(t, strings.Repeat("a", 10)+"...", got)
}

func TestSanitize_CustomPatterns(t *testing.T) {
	s := New(WithPatterns([]Pattern{{
		Name:        "ticket",
		Regex:       regexp.MustCompile(`JIRA-\d+`),
		Replacement: "[TICKET]",
	}}))
	assert.Equal(t, "see [TICKET]", s.Sanitize("see JIRA-42"))
	assert.Equal(t, []string{"ticket"}, s.Matches("JIRA-1"))
}

func TestSanitizeAll(t *testing.T) {
	got := New().SanitizeAll([]string{"a@b.io", "ok"})
	assert.Equal(t, []string{"[EMAIL_REDACTED]", "ok"}, got)
}

func TestDefaultPatternsIsCopy(t *testing.T) {
	p := DefaultPatterns()
	p[0].Name = "mutated"
	assert.NotEqual(t, "mutated", DefaultPatterns()[0].Name)
}
