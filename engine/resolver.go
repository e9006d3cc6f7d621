package engine

import (
	"regexp"
	"strings"
)

// placeholderPattern matches {{name}} placeholders, tolerating inner
// whitespace.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// Resolve substitutes {{name}}-style placeholders in text using the
// conversation's variable map. Unknown variables resolve to the empty
// string; the surrounding text is kept as authored.
func Resolve(text string, vars map[string]string) string {
	if text == "" || !strings.Contains(text, "{{") {
		return text
	}
	return placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		return vars[name]
	})
}

// ResolveMap resolves every value of a parameter map.
func ResolveMap(params map[string]string, vars map[string]string) map[string]string {
	if len(params) == 0 {
		return nil
	}
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[k] = Resolve(v, vars)
	}
	return out
}
