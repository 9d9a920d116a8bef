package condition

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/ohler55/ojg/jp"
)

// Lookup resolves a field against input. An exact key wins; otherwise the
// field is read as a dotted path (user.age, items[0].name).
func Lookup(input map[string]any, field string) (any, bool) {
	if field == "" {
		return nil, false
	}

	if v, ok := input[field]; ok {
		return v, true
	}

	if !strings.ContainsAny(field, ".[") {
		return nil, false
	}

	path := "$." + field
	if strings.HasPrefix(field, "[") {
		path = "$" + field
	}

	x, err := jp.ParseString(path)
	if err != nil {
		return nil, false
	}

	results := x.Get(input)
	if len(results) == 0 {
		return nil, false
	}

	return results[0], true
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()

		return f, err == nil
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false
		}

		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}

		return f, true
	default:
		return 0, false
	}
}

func toString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprint(v)
	}
}

// equals compares numerically when both sides are numbers, otherwise by deep
// equality and finally by string form.
func equals(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	x, okA := toNumber(a)
	y, okB := toNumber(b)

	if okA && okB {
		return x == y
	}

	if reflect.DeepEqual(a, b) {
		return true
	}

	return toString(a) == toString(b)
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}

	if s, ok := v.(string); ok {
		return s == ""
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}
