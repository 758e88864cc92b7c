package util

import (
	"regexp"
	"strings"
)

var templateField = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_.]*)\s*\}\}`)

// TemplateFields returns the distinct variable names referenced by a canned
// response template, in first-appearance order.
func TemplateFields(template string) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range templateField.FindAllStringSubmatch(template, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

// RenderTemplate substitutes "{{field}}" markers with the provided values.
// ok is false when the template references a field that has no value; the
// caller discards such candidates rather than emitting a broken reply.
func RenderTemplate(template string, fields map[string]string) (string, bool) {
	ok := true
	rendered := templateField.ReplaceAllStringFunc(template, func(m string) string {
		name := strings.TrimSpace(strings.Trim(m, "{}"))
		v, found := fields[name]
		if !found {
			ok = false
			return m
		}
		return v
	})
	return rendered, ok
}
