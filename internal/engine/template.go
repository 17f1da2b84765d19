package engine

import (
	"fmt"
	"regexp"
	"strings"
)

// templatePattern matches {{variable}} placeholders in step inputs.
var templatePattern = regexp.MustCompile(`\{\{(\w+)\}\}`)

// RenderTemplate substitutes every {{name}} occurrence in input with the
// variable of that name. Unmatched names are left verbatim so downstream
// tooling can detect unresolved references.
func RenderTemplate(input string, vars map[string]any) string {
	if input == "" || !strings.Contains(input, "{{") {
		return input
	}
	return templatePattern.ReplaceAllStringFunc(input, func(match string) string {
		name := match[2 : len(match)-2]
		value, ok := vars[name]
		if !ok {
			return match
		}
		return fmt.Sprintf("%v", value)
	})
}
