package graph

import (
	"fmt"
	"strings"
	"time"
)

// dateLayouts are tried in order when interpreting a string as a date.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseDate attempts to interpret a string as a timestamp.
func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// asFloat normalizes numeric values. JSON decoding yields float64; typed
// callers may hand in ints.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// asString renders a scalar for substring predicates.
func asString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case time.Time:
		return s.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", s)
	}
}

// valuesEqual compares two decoded values, normalizing numbers so an int 5
// and a float64 5 compare equal.
func valuesEqual(a, b any) bool {
	if af, ok := asFloat(a); ok {
		if bf, ok := asFloat(b); ok {
			return af == bf
		}
	}
	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			return at.Equal(bt)
		}
	}
	return asString(a) == asString(b)
}

// compareOrdered evaluates gt/gte/lt/lte between a stored value and the
// query value. Numbers compare numerically. Strings are date-parsed on both
// sides first, falling back to lexicographic compare if either side fails to
// parse; date-valued string fields depend on this dual behavior.
func compareOrdered(stored, query any, op PropertyOp) bool {
	if sf, ok := asFloat(stored); ok {
		if qf, ok := asFloat(query); ok {
			return applyCmp(cmpFloat(sf, qf), op)
		}
	}

	st, stIsTime := stored.(time.Time)
	qt, qtIsTime := query.(time.Time)
	ss, qs := asString(stored), asString(query)
	if !stIsTime {
		st, stIsTime = parseDate(ss)
	}
	if !qtIsTime {
		qt, qtIsTime = parseDate(qs)
	}
	if stIsTime && qtIsTime {
		return applyCmp(cmpTime(st, qt), op)
	}

	return applyCmp(strings.Compare(ss, qs), op)
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpTime(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	default:
		return 0
	}
}

func applyCmp(cmp int, op PropertyOp) bool {
	switch op {
	case OpGt:
		return cmp > 0
	case OpGte:
		return cmp >= 0
	case OpLt:
		return cmp < 0
	case OpLte:
		return cmp <= 0
	default:
		return false
	}
}

// isEmptyValue reports whether a decoded value counts as "empty": nil,
// blank string, empty array, or an array whose elements are all empty.
func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		for _, elem := range t {
			if !isEmptyValue(elem) {
				return false
			}
		}
		return true
	case []string:
		for _, elem := range t {
			if strings.TrimSpace(elem) != "" {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// matchProperty applies one predicate to one stored value.
func matchProperty(stored any, op PropertyOp, query any) bool {
	switch op {
	case OpEq:
		return valuesEqual(stored, query)
	case OpNeq:
		return !valuesEqual(stored, query)
	case OpGt, OpGte, OpLt, OpLte:
		return compareOrdered(stored, query, op)
	case OpContains:
		return strings.Contains(asString(stored), asString(query))
	case OpStartsWith:
		return strings.HasPrefix(asString(stored), asString(query))
	case OpEndsWith:
		return strings.HasSuffix(asString(stored), asString(query))
	case OpIsEmpty:
		return isEmptyValue(stored)
	case OpIsNotEmpty:
		return !isEmptyValue(stored)
	default:
		return false
	}
}
