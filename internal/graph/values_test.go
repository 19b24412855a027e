package graph

import (
	"testing"
	"time"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		input string
		ok    bool
	}{
		{"2026-02-10", true},
		{"2026-02-10T09:30:00", true},
		{"2026-02-10 09:30:00", true},
		{"2026-02-10T09:30:00Z", true},
		{"2026-02-10T09:30:00.123456789Z", true},
		{"  2026-02-10  ", true},
		{"not a date", false},
		{"", false},
		{"2026", false},
	}
	for _, tt := range tests {
		if _, ok := parseDate(tt.input); ok != tt.ok {
			t.Errorf("parseDate(%q) ok = %v, want %v", tt.input, ok, tt.ok)
		}
	}
}

func TestValuesEqualNormalizesNumbers(t *testing.T) {
	tests := []struct {
		a, b any
		want bool
	}{
		{5, float64(5), true},
		{int64(7), 7, true},
		{float64(5), float64(6), false},
		{"x", "x", true},
		{"x", "y", false},
		{"5", float64(5), true}, // mixed types fall back to the string form
		{nil, "", true},
		{time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), true},
	}
	for _, tt := range tests {
		if got := valuesEqual(tt.a, tt.b); got != tt.want {
			t.Errorf("valuesEqual(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestCompareOrdered(t *testing.T) {
	tests := []struct {
		name   string
		stored any
		query  any
		op     PropertyOp
		want   bool
	}{
		{"numeric gt", float64(10), float64(5), OpGt, true},
		{"numeric gt equal", float64(5), float64(5), OpGt, false},
		{"numeric gte equal", float64(5), float64(5), OpGte, true},
		{"int vs float", 10, float64(5), OpGt, true},
		{"dates compare as dates", "2026-02-10", "2026-02-01", OpGt, true},
		{"dates lte", "2026-02-10", "2026-02-28", OpLte, true},
		{"mixed layouts", "2026-02-10T09:00:00Z", "2026-02-10", OpGt, true},
		{"non-dates fall back to lexicographic", "banana", "apple", OpGt, true},
		{"lexicographic lt", "apple", "banana", OpLt, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := compareOrdered(tt.stored, tt.query, tt.op); got != tt.want {
				t.Errorf("compareOrdered(%v, %v, %s) = %v, want %v",
					tt.stored, tt.query, tt.op, got, tt.want)
			}
		})
	}
}

func TestIsEmptyValue(t *testing.T) {
	tests := []struct {
		value any
		want  bool
	}{
		{nil, true},
		{"", true},
		{"   ", true},
		{"x", false},
		{[]any{}, true},
		{[]any{"", nil}, true},
		{[]any{"", "x"}, false},
		{[]string{"", " "}, true},
		{[]string{"a"}, false},
		{float64(0), false}, // zero is a value
		{false, false},
	}
	for _, tt := range tests {
		if got := isEmptyValue(tt.value); got != tt.want {
			t.Errorf("isEmptyValue(%v) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestMatchPropertySubstrings(t *testing.T) {
	tests := []struct {
		stored any
		op     PropertyOp
		query  any
		want   bool
	}{
		{"hello world", OpContains, "lo wo", true},
		{"hello world", OpContains, "xyz", false},
		{"hello", OpStartsWith, "he", true},
		{"hello", OpStartsWith, "lo", false},
		{"hello", OpEndsWith, "lo", true},
		{float64(1234), OpContains, "23", true}, // non-strings render via their string form
		{"x", PropertyOp("unknown"), "x", false},
	}
	for _, tt := range tests {
		if got := matchProperty(tt.stored, tt.op, tt.query); got != tt.want {
			t.Errorf("matchProperty(%v, %s, %v) = %v, want %v",
				tt.stored, tt.op, tt.query, got, tt.want)
		}
	}
}

func TestDecodeRawValueLegacyStrings(t *testing.T) {
	// Values written as JSON round-trip; bare legacy strings decode to
	// themselves.
	if got := decodeRawValue(`"open"`); got != "open" {
		t.Errorf(`decode("open" json) = %v`, got)
	}
	if got := decodeRawValue(`5`); got != float64(5) {
		t.Errorf("decode(5) = %v", got)
	}
	if got := decodeRawValue(`not json`); got != "not json" {
		t.Errorf("decode(legacy) = %v", got)
	}
}
