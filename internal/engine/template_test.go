package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderTemplate(t *testing.T) {
	vars := map[string]any{
		"task":   "audit the scanner",
		"count":  3,
		"report": "all clear",
	}

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "single substitution",
			input:    "Do this: {{task}}",
			expected: "Do this: audit the scanner",
		},
		{
			name:     "multiple substitutions",
			input:    "{{task}} found {{count}} issues",
			expected: "audit the scanner found 3 issues",
		},
		{
			name:     "repeated variable",
			input:    "{{count}} and {{count}}",
			expected: "3 and 3",
		},
		{
			name:     "unknown variable left verbatim",
			input:    "value is {{missing}}",
			expected: "value is {{missing}}",
		},
		{
			name:     "no placeholders",
			input:    "plain text",
			expected: "plain text",
		},
		{
			name:     "empty input",
			input:    "",
			expected: "",
		},
		{
			name:     "non-string value formatted",
			input:    "n={{count}}",
			expected: "n=3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, RenderTemplate(tt.input, vars))
		})
	}
}

func TestRenderTemplateNilVars(t *testing.T) {
	assert.Equal(t, "{{x}}", RenderTemplate("{{x}}", nil))
}
