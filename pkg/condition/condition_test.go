package condition_test

import (
	"testing"

	"github.com/dukex/checkinhub/pkg/condition"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	vars := map[string]any{
		"count":  5,
		"score":  2.5,
		"status": "ok",
		"signed": true,
		"roles":  []any{"admin", "user"},
		"user":   map[string]any{"name": "alice"},
		"gone":   nil,
	}

	tests := []struct {
		expression string
		expected   bool
	}{
		{"", true},
		{"   ", true},
		{"count > 10", false},
		{"count <= 5", true},
		{"count + 1 == 6", true},
		{"score * 2 >= 5", true},
		{"status == 'ok'", true},
		{`status != "ok"`, false},
		{"signed and count > 1", true},
		{"not signed or count == 5", true},
		{"!signed || false", false},
		{"(count > 1 && count < 10) && status == 'ok'", true},
		{"'admin' in roles", true},
		{"'root' in roles", false},
		{"user.name == 'alice'", true},
		{"gone == nil", true},
		{"true", true},
	}

	for _, tt := range tests {
		t.Run(tt.expression, func(t *testing.T) {
			result, err := condition.Evaluate(tt.expression, vars)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestEvaluate_Errors(t *testing.T) {
	vars := map[string]any{"count": 5, "status": "ok"}

	tests := []struct {
		name       string
		expression string
	}{
		{"unknown name", "missing > 1"},
		{"syntax error", "count >"},
		{"function call", "len(status) > 0"},
		{"type mismatch", "status > 3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := condition.Evaluate(tt.expression, vars)
			require.Error(t, err)
			assert.False(t, result)
			assert.ErrorIs(t, err, condition.ErrCondition)
			assert.True(t, condition.IsConditionError(err))

			var condErr *condition.ConditionError
			require.ErrorAs(t, err, &condErr)
			assert.Equal(t, tt.expression, condErr.Expression)
		})
	}
}

func TestEvaluate_Truthiness(t *testing.T) {
	vars := map[string]any{
		"token":  "abc",
		"blank":  "",
		"userId": nil,
		"zero":   0,
		"count":  5,
		"ratio":  0.0,
		"items":  []any{},
		"roles":  []any{"admin"},
		"meta":   map[string]any{},
		"user":   map[string]any{"name": "alice"},
	}

	tests := []struct {
		expression string
		expected   bool
	}{
		{"token", true},
		{"blank", false},
		{"userId", false},
		{"zero", false},
		{"count", true},
		{"count - 5", false},
		{"ratio", false},
		{"items", false},
		{"roles", true},
		{"meta", false},
		{"user", true},
		{"user.name", true},
	}

	for _, tt := range tests {
		t.Run(tt.expression, func(t *testing.T) {
			result, err := condition.Evaluate(tt.expression, vars)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestTruthy(t *testing.T) {
	var nilMap map[string]any

	assert.False(t, condition.Truthy(nil))
	assert.False(t, condition.Truthy(false))
	assert.False(t, condition.Truthy(uint8(0)))
	assert.False(t, condition.Truthy(nilMap))
	assert.True(t, condition.Truthy(-1))
	assert.True(t, condition.Truthy(struct{}{}))
}

func TestEvaluate_NilVars(t *testing.T) {
	result, err := condition.Evaluate("1 < 2", nil)
	require.NoError(t, err)
	assert.True(t, result)
}
