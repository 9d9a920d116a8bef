package condition

import (
	"fmt"
	"strings"

	"github.com/dukex/autoflow/pkg/models"
)

func evaluateStructured(p models.Predicate, input map[string]any) (bool, error) {
	actual, _ := Lookup(input, p.Field)

	switch p.Operator {
	case models.OperatorEquals:
		return equals(actual, p.Value), nil
	case models.OperatorNotEquals:
		return !equals(actual, p.Value), nil
	case models.OperatorGreaterThan:
		return compareNumbers(actual, p.Value, func(a, b float64) bool { return a > b }), nil
	case models.OperatorLessThan:
		return compareNumbers(actual, p.Value, func(a, b float64) bool { return a < b }), nil
	case models.OperatorGreaterThanOrEqual:
		return compareNumbers(actual, p.Value, func(a, b float64) bool { return a >= b }), nil
	case models.OperatorLessThanOrEqual:
		return compareNumbers(actual, p.Value, func(a, b float64) bool { return a <= b }), nil
	case models.OperatorContains:
		return contains(actual, p.Value), nil
	case models.OperatorNotContains:
		return !contains(actual, p.Value), nil
	case models.OperatorStartsWith:
		return actual != nil && strings.HasPrefix(toString(actual), toString(p.Value)), nil
	case models.OperatorEndsWith:
		return actual != nil && strings.HasSuffix(toString(actual), toString(p.Value)), nil
	case models.OperatorIsEmpty:
		return isEmpty(actual), nil
	case models.OperatorIsNotEmpty:
		return !isEmpty(actual), nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownOperator, p.Operator)
	}
}

func compareNumbers(a, b any, cmp func(a, b float64) bool) bool {
	x, ok := toNumber(a)
	if !ok {
		return false
	}

	y, ok := toNumber(b)
	if !ok {
		return false
	}

	return cmp(x, y)
}

// contains checks element membership for collections, key presence for maps
// and substring for everything else.
func contains(haystack, needle any) bool {
	switch h := haystack.(type) {
	case nil:
		return false
	case []any:
		for _, item := range h {
			if equals(item, needle) {
				return true
			}
		}

		return false
	case []string:
		for _, item := range h {
			if equals(item, needle) {
				return true
			}
		}

		return false
	case map[string]any:
		_, ok := h[toString(needle)]

		return ok
	default:
		return strings.Contains(toString(h), toString(needle))
	}
}
