package flow

import (
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"

	"github.com/dukex/checkinhub/pkg/extract"
	"github.com/dukex/checkinhub/pkg/models"
)

// validateExpect checks a response against an expectation. The bool is true
// when the failure is an authentication rejection.
func validateExpect(expect *models.Expect, statusCode int, body any) (bool, error) {
	if statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden {
		return true, fmt.Errorf("authentication failed: HTTP %d", statusCode)
	}

	if expect.Kind() != models.ExpectTypeJSON {
		return false, nil
	}

	actual, _ := extract.ExtractPath(body, expect.Path)

	if !jsonEqual(actual, expect.Equals) {
		return false, fmt.Errorf("json path %s expected %s, got %s", expect.Path, formatValue(expect.Equals), formatValue(actual))
	}

	return false, nil
}

// jsonEqual compares two values after a JSON round trip, so 1 and 1.0 match.
func jsonEqual(a, b any) bool {
	return reflect.DeepEqual(normalize(a), normalize(b))
}

func normalize(v any) any {
	encoded, err := json.Marshal(v)
	if err != nil {
		return v
	}

	var out any
	if err := json.Unmarshal(encoded, &out); err != nil {
		return v
	}

	return out
}

func formatValue(v any) string {
	encoded, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}

	return string(encoded)
}
