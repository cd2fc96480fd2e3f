// Package template substitutes ${name} placeholders from a run's variables.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
)

var placeholder = regexp.MustCompile(`\$\{(\w+)\}`)

// Render replaces every ${name} in input with the string form of vars[name].
// Missing names render empty. Substituted text is not re-scanned.
func Render(input string, vars map[string]any) string {
	return placeholder.ReplaceAllStringFunc(input, func(match string) string {
		name := placeholder.FindStringSubmatch(match)[1]

		value, ok := vars[name]
		if !ok {
			return ""
		}

		return Stringify(value)
	})
}

// RenderDeep renders strings found in maps and slices, returning a new value.
// Scalars other than strings are returned unchanged.
func RenderDeep(value any, vars map[string]any) any {
	switch v := value.(type) {
	case string:
		return Render(v, vars)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = RenderDeep(item, vars)
		}

		return out
	case map[string]string:
		out := make(map[string]string, len(v))
		for key, item := range v {
			out[key] = Render(item, vars)
		}

		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = RenderDeep(item, vars)
		}

		return out
	case []string:
		out := make([]string, len(v))
		for i, item := range v {
			out[i] = Render(item, vars)
		}

		return out
	default:
		return value
	}
}

// Stringify formats a variable the way it appears inside a rendered string.
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case json.Number:
		return v.String()
	case map[string]any, []any:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}

		return string(encoded)
	default:
		return fmt.Sprint(v)
	}
}
