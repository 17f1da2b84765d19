package engine

import (
	"regexp"
	"strings"

	"github.com/ohler55/ojg/oj"
)

// keyLinePattern matches output variable key lines: an uppercase/underscore
// key of at least two characters followed by a colon.
var keyLinePattern = regexp.MustCompile(`^([A-Z][A-Z_]+):\s*(.*)$`)

// ParseOutputVariables scans a response line by line for KEY: value blocks.
// A block's value spans all following lines up to the next recognized key
// line. Keys are stored lowercased. Values that look like JSON arrays or
// objects are parsed speculatively and kept as the raw string when the parse
// fails.
func ParseOutputVariables(text string) map[string]any {
	vars := make(map[string]any)

	var key string
	var valueLines []string
	flush := func() {
		if key == "" {
			return
		}
		value := strings.TrimSpace(strings.Join(valueLines, "\n"))
		vars[strings.ToLower(key)] = coerceValue(value)
	}

	for _, line := range strings.Split(text, "\n") {
		if m := keyLinePattern.FindStringSubmatch(line); m != nil {
			flush()
			key = m[1]
			valueLines = []string{m[2]}
		} else if key != "" {
			valueLines = append(valueLines, line)
		}
	}
	flush()

	return vars
}

func coerceValue(value string) any {
	if len(value) > 2 && (strings.HasPrefix(value, "[") || strings.HasPrefix(value, "{")) {
		if parsed, err := oj.ParseString(value); err == nil {
			return parsed
		}
	}
	return value
}
