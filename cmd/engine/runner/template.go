package runner

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([^}]+?)\s*\}\}`)

// Interpolate substitutes {{path}} placeholders in s with values looked up
// in scope. Paths use dotted gjson syntax, e.g. {{result.user.email}}.
// Unresolvable placeholders are left as-is.
func Interpolate(s string, scope map[string]any) string {
	if !strings.Contains(s, "{{") {
		return s
	}

	raw, err := json.Marshal(scope)
	if err != nil {
		return s
	}

	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		path := strings.TrimSpace(placeholderPattern.FindStringSubmatch(match)[1])
		value := gjson.GetBytes(raw, path)
		if !value.Exists() {
			return match
		}
		if value.Type == gjson.String {
			return value.String()
		}
		return value.Raw
	})
}

// Lookup resolves a dotted path against a payload map
func Lookup(scope map[string]any, path string) (any, bool) {
	raw, err := json.Marshal(scope)
	if err != nil {
		return nil, false
	}
	value := gjson.GetBytes(raw, path)
	if !value.Exists() {
		return nil, false
	}
	return value.Value(), true
}
