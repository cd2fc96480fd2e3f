// Package extract reads dotted paths out of decoded JSON responses.
package extract

import (
	"strconv"
	"strings"

	"github.com/dukex/checkinhub/pkg/models"
)

// ExtractPath walks data along a dotted path such as "data.items.0.id".
// Digit-only segments index slices, other segments index maps. The second
// result is false when the path does not resolve. An empty path returns data.
func ExtractPath(data any, path string) (any, bool) {
	if path == "" {
		return data, true
	}

	current := data

	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case []any:
			index, err := strconv.Atoi(segment)
			if err != nil || !isDigits(segment) || index >= len(node) {
				return nil, false
			}

			current = node[index]
		case map[string]any:
			value, ok := node[segment]
			if !ok {
				return nil, false
			}

			current = value
		default:
			return nil, false
		}
	}

	return current, true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}

	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}

	return true
}

// ApplyRules assigns each json rule's extracted value into vars.
// Absent paths assign nil. Rules of other types are ignored.
func ApplyRules(data any, rules []models.ExtractRule, vars map[string]any) {
	for _, rule := range rules {
		if rule.Kind() != models.ExtractTypeJSON || rule.Var == "" {
			continue
		}

		value, _ := ExtractPath(data, rule.Path)
		vars[rule.Var] = value
	}
}
