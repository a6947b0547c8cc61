// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Probekit Contributors

package eventwait

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// Predicate decides whether a journal entry satisfies a wait. Predicates
// must be pure: the journal may evaluate one against many entries.
type Predicate func(Entry) bool

// Type matches events with the exact event type.
func Type(t string) Predicate {
	return func(e Entry) bool { return e.Event.Type == t }
}

// TypeGlob matches event types against a glob pattern, e.g. "book.*".
// It panics on an invalid pattern; patterns are test constants.
func TypeGlob(pattern string) Predicate {
	g := glob.MustCompile(pattern)
	return func(e Entry) bool { return g.Match(e.Event.Type) }
}

// DataContains matches events whose raw data contains substr.
func DataContains(substr string) Predicate {
	return func(e Entry) bool { return strings.Contains(e.Event.Data, substr) }
}

// JSONField matches events whose data is JSON and carries want at the
// dot-separated path, e.g. JSONField("book.id", id). Numbers compare by
// value, everything else by string form.
func JSONField(path string, want any) Predicate {
	return func(e Entry) bool {
		got, ok := LookupJSON(e.Event.Data, path)
		if !ok {
			return false
		}
		return jsonValueEqual(got, want)
	}
}

// All matches entries satisfying every predicate.
func All(ps ...Predicate) Predicate {
	return func(e Entry) bool {
		for _, p := range ps {
			if !p(e) {
				return false
			}
		}
		return true
	}
}

// Any matches entries satisfying at least one predicate.
func Any(ps ...Predicate) Predicate {
	return func(e Entry) bool {
		for _, p := range ps {
			if p(e) {
				return true
			}
		}
		return false
	}
}

// Not inverts a predicate.
func Not(p Predicate) Predicate {
	return func(e Entry) bool { return !p(e) }
}

// LookupJSON resolves a dot-separated path in a JSON document. Array
// indices are plain decimal segments, e.g. "items.0.id".
func LookupJSON(data, path string) (any, bool) {
	var doc any
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, false
	}
	cur := doc
	if path == "" {
		return cur, true
	}
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			var idx int
			if _, err := fmt.Sscanf(seg, "%d", &idx); err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// jsonValueEqual compares a decoded JSON value against a Go literal.
func jsonValueEqual(got, want any) bool {
	switch w := want.(type) {
	case nil:
		return got == nil
	case bool:
		g, ok := got.(bool)
		return ok && g == w
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		g, ok := got.(float64)
		return ok && g == toFloat(w)
	default:
		return fmt.Sprintf("%v", got) == fmt.Sprintf("%v", want)
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int8:
		return float64(n)
	case int16:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint8:
		return float64(n)
	case uint16:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	default:
		return 0
	}
}
