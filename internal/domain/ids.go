package domain

import (
	"encoding/json"
	"strconv"
	"strings"
)

// UniqueInt turns a loosely typed id list into unique positive integers,
// keeping the order of first occurrence. Anything it cannot read is dropped.
//
// Accepted shapes: []int64, []int, []string, []any, a comma separated string,
// a single number, json.RawMessage holding any of those.
func UniqueInt(v any) []int64 {
	seen := make(map[int64]struct{})
	out := []int64{}
	add := func(n int64) {
		if n <= 0 {
			return
		}
		if _, ok := seen[n]; ok {
			return
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	for _, item := range flatten(v) {
		if n, ok := toInt64(item); ok {
			add(n)
		}
	}
	return out
}

// ConvertFromString splits a comma separated string into trimmed, non-empty
// parts. Slices are passed through as strings.
func ConvertFromString(v any) []string {
	out := []string{}
	for _, item := range flatten(v) {
		var s string
		switch t := item.(type) {
		case string:
			s = t
		default:
			if n, ok := toInt64(t); ok {
				s = strconv.FormatInt(n, 10)
			}
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// flatten expands a value into its list items.
func flatten(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case json.RawMessage:
		var decoded any
		if err := json.Unmarshal(t, &decoded); err != nil {
			return nil
		}
		return flatten(decoded)
	case []any:
		var out []any
		for _, it := range t {
			// nested lists are not ids
			switch it.(type) {
			case []any, map[string]any:
				continue
			}
			out = append(out, it)
		}
		return out
	case []int64:
		out := make([]any, len(t))
		for i, n := range t {
			out[i] = n
		}
		return out
	case []int:
		out := make([]any, len(t))
		for i, n := range t {
			out[i] = n
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case string:
		parts := strings.Split(t, ",")
		out := make([]any, 0, len(parts))
		for _, p := range parts {
			out = append(out, p)
		}
		return out
	case map[string]any:
		return nil
	default:
		return []any{t}
	}
}

// toInt64 reads integers from numbers and numeric strings.
func toInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case float64:
		if t != float64(int64(t)) {
			return 0, false
		}
		return int64(t), true
	case json.Number:
		n, err := t.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return n, err == nil
	}
	return 0, false
}
