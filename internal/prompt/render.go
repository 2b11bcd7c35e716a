package prompt

import (
	"regexp"
)

// placeholder matches {{name}} with optional inner spaces.
var placeholder = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)

// Render substitutes {{name}} placeholders in a system prompt body. Names
// missing from vars are left untouched.
func Render(body string, vars map[string]string) string {
	if len(vars) == 0 {
		return body
	}
	return placeholder.ReplaceAllStringFunc(body, func(match string) string {
		name := placeholder.FindStringSubmatch(match)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return match
	})
}

// MergeVariables overlays configured variables on the per-cycle ones. A
// configured name wins over a per-cycle name.
func MergeVariables(cycle, configured map[string]string) map[string]string {
	if len(cycle) == 0 && len(configured) == 0 {
		return nil
	}
	out := make(map[string]string, len(cycle)+len(configured))
	for k, v := range cycle {
		out[k] = v
	}
	for k, v := range configured {
		out[k] = v
	}
	return out
}
