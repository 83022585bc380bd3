package rules

import (
	"encoding/json"
	"reflect"
)

type operatorFunc func(fact, value any) bool

var operators = map[Operator]operatorFunc{
	OpEq:  equal,
	OpNeq: func(f, v any) bool { return !equal(f, v) },
	OpGt:  ordered(func(c int) bool { return c > 0 }),
	OpGte: ordered(func(c int) bool { return c >= 0 }),
	OpLt:  ordered(func(c int) bool { return c < 0 }),
	OpLte: ordered(func(c int) bool { return c <= 0 }),
	OpIn: func(f, v any) bool {
		items, ok := asSlice(v)
		if !ok {
			logf("[RuleEvaluator] Operator \"in\" expects a list, got %T", v)
			return false
		}
		return contains(items, f)
	},
	OpNotIn: func(f, v any) bool {
		items, ok := asSlice(v)
		if !ok {
			logf("[RuleEvaluator] Operator \"notIn\" expects a list, got %T", v)
			return false
		}
		return !contains(items, f)
	},
	OpBetween: func(f, v any) bool {
		bounds, ok := asSlice(v)
		if !ok || len(bounds) != 2 {
			logf("[RuleEvaluator] Operator \"between\" expects [min, max], got %v", v)
			return false
		}
		x, ok := toFloat(f)
		if !ok {
			return false
		}
		lo, okLo := toFloat(bounds[0])
		hi, okHi := toFloat(bounds[1])
		if !okLo || !okHi {
			return false
		}
		return x >= lo && x <= hi
	},
}

// equal compares numbers by value regardless of their Go type, so that an
// int fact matches a float64 decoded from JSON.
func equal(a, b any) bool {
	if x, ok := toFloat(a); ok {
		if y, ok := toFloat(b); ok {
			return x == y
		}
		return false
	}

	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case nil:
		return b == nil
	}

	return reflect.DeepEqual(a, b)
}

// ordered builds an ordering operator over numbers or strings. Mixed or
// unordered operands fail the condition.
func ordered(accept func(cmp int) bool) operatorFunc {
	return func(f, v any) bool {
		if x, ok := toFloat(f); ok {
			y, ok := toFloat(v)
			if !ok {
				return false
			}
			switch {
			case x < y:
				return accept(-1)
			case x > y:
				return accept(1)
			default:
				return accept(0)
			}
		}

		if x, ok := f.(string); ok {
			y, ok := v.(string)
			if !ok {
				return false
			}
			switch {
			case x < y:
				return accept(-1)
			case x > y:
				return accept(1)
			default:
				return accept(0)
			}
		}

		return false
	}
}

func contains(items []any, x any) bool {
	for _, item := range items {
		if equal(x, item) {
			return true
		}
	}
	return false
}

func asSlice(v any) ([]any, bool) {
	if items, ok := v.([]any); ok {
		return items, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
