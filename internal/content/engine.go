package content

import (
	"regexp"
	"strings"
)

// variable pattern for template substitution: {{variable_name}}
var varPattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// Engine compiles a template with recipient variables. The marked-up
// rendering rules live behind this port; the builder only needs
// substituted text back.
type Engine interface {
	Compile(template string, vars map[string]string) string
}

// SimpleEngine substitutes {{name}} placeholders, leaving unknown
// variables empty.
type SimpleEngine struct{}

// Compile replaces {{var}} occurrences with their values
func (SimpleEngine) Compile(template string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := strings.TrimSpace(varPattern.FindStringSubmatch(match)[1])
		return vars[name]
	})
}
