// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Probekit Contributors

package scenario

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/samber/oops"
)

// interpPattern matches ${name.path} placeholders.
var interpPattern = regexp.MustCompile(`\$\{([A-Za-z0-9_][A-Za-z0-9_.]*)\}`)

// interpolate replaces ${name.path} placeholders in s with values from
// saved responses. An unresolvable placeholder is an error: it almost
// always means a save_as step was skipped or misspelled.
func interpolate(s string, saved map[string]any) (string, error) {
	var firstErr error
	out := interpPattern.ReplaceAllStringFunc(s, func(tok string) string {
		path := tok[2 : len(tok)-1]
		v, ok := lookupSaved(saved, path)
		if !ok {
			if firstErr == nil {
				firstErr = oops.Code("SCENARIO_UNRESOLVED_REF").
					With("placeholder", tok).
					Errorf("no saved value for %q", path)
			}
			return tok
		}
		return stringifyValue(v)
	})
	return out, firstErr
}

// interpolateBody walks a request body, interpolating string values. A
// string that is exactly one placeholder resolves to the raw saved value,
// preserving numbers and booleans.
func interpolateBody(v any, saved map[string]any) (any, error) {
	switch node := v.(type) {
	case string:
		if m := interpPattern.FindStringSubmatch(node); m != nil && m[0] == node {
			if raw, ok := lookupSaved(saved, m[1]); ok {
				return raw, nil
			}
			return nil, oops.Code("SCENARIO_UNRESOLVED_REF").
				With("placeholder", node).
				Errorf("no saved value for %q", m[1])
		}
		return interpolate(node, saved)
	case map[string]any:
		out := make(map[string]any, len(node))
		for k, val := range node {
			iv, err := interpolateBody(val, saved)
			if err != nil {
				return nil, err
			}
			out[k] = iv
		}
		return out, nil
	case []any:
		out := make([]any, len(node))
		for i, val := range node {
			iv, err := interpolateBody(val, saved)
			if err != nil {
				return nil, err
			}
			out[i] = iv
		}
		return out, nil
	default:
		return v, nil
	}
}

// lookupSaved resolves "name.path.to.field" against saved responses.
func lookupSaved(saved map[string]any, path string) (any, bool) {
	segs := strings.Split(path, ".")
	cur, ok := saved[segs[0]]
	if !ok {
		return nil, false
	}
	for _, seg := range segs[1:] {
		switch node := cur.(type) {
		case map[string]any:
			cur, ok = node[seg]
			if !ok {
				return nil, false
			}
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// stringifyValue renders a saved value for placeholder substitution.
// JSON numbers print without a trailing ".0" when integral.
func stringifyValue(v any) string {
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return fmt.Sprintf("%v", v)
}
