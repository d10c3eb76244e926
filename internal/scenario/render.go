package scenario

import (
	"sort"
	"strings"
)

// Render substitutes {name} placeholders in tmpl with values from vars.
// Doubled braces render as literal braces, and placeholders with no matching
// variable are left untouched.
func Render(tmpl string, vars map[string]string) string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// Escapes come first so "{{name}}" stays literal.
	pairs := []string{"{{", "{", "}}", "}"}
	for _, k := range keys {
		pairs = append(pairs, "{"+k+"}", vars[k])
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// MergeVariables returns a new map holding base overlaid with extra.
func MergeVariables(base map[string]string, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
