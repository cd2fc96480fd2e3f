// Package condition evaluates the boolean guards attached to flow steps.
package condition

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/expr-lang/expr"
)

// ErrCondition is matched by every ConditionError.
var ErrCondition = errors.New("condition evaluation failed")

// ConditionError reports an expression that could not be compiled or evaluated.
type ConditionError struct {
	Expression string
	Err        error
}

func (e *ConditionError) Error() string {
	return fmt.Sprintf("condition %q: %v", e.Expression, e.Err)
}

func (e *ConditionError) Unwrap() error {
	return e.Err
}

func (e *ConditionError) Is(target error) bool {
	return target == ErrCondition
}

// IsConditionError checks if an error came from evaluating a condition.
func IsConditionError(err error) bool {
	return errors.Is(err, ErrCondition)
}

// Evaluate runs expression against vars and reports whether the result is
// truthy. Blank expressions are true.
//
// The language is literals, arithmetic, comparisons, and/or/not, in and
// parentheses. Names resolve only from vars and builtin functions are
// disabled, so an expression cannot reach anything outside the namespace.
// A name missing from vars is an error.
func Evaluate(expression string, vars map[string]any) (bool, error) {
	if strings.TrimSpace(expression) == "" {
		return true, nil
	}

	if vars == nil {
		vars = map[string]any{}
	}

	program, err := expr.Compile(expression,
		expr.Env(vars),
		expr.DisableAllBuiltins(),
	)
	if err != nil {
		return false, &ConditionError{Expression: expression, Err: err}
	}

	output, err := expr.Run(program, vars)
	if err != nil {
		return false, &ConditionError{Expression: expression, Err: err}
	}

	return Truthy(output), nil
}

// Truthy reports whether v counts as true: nil, false, numeric zero, the
// empty string and empty collections are false, everything else is true.
func Truthy(v any) bool {
	if v == nil {
		return false
	}

	value := reflect.ValueOf(v)

	switch value.Kind() {
	case reflect.Bool:
		return value.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return value.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return value.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return value.Float() != 0
	case reflect.String, reflect.Slice, reflect.Map, reflect.Array:
		return value.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !value.IsNil()
	default:
		return true
	}
}
