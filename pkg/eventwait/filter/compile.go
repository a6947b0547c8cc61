// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Probekit Contributors

package filter

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
	"github.com/samber/oops"

	"github.com/probekit/probekit/pkg/eventwait"
)

// matcher is a compiled expression node.
type matcher func(eventwait.Entry) bool

// Compile parses src and compiles it into a predicate. All static errors
// (syntax, unknown fields, invalid glob patterns, nesting depth) surface
// here; evaluation itself cannot fail.
func Compile(src string) (eventwait.Predicate, error) {
	ast, err := Parse(src)
	if err != nil {
		return nil, oops.Code("FILTER_PARSE_FAILED").With("expr", src).Wrap(err)
	}
	m, err := compileExpr(ast, 0)
	if err != nil {
		return nil, err
	}
	return eventwait.Predicate(m), nil
}

func compileExpr(e *Expr, depth int) (matcher, error) {
	if depth > MaxNestingDepth {
		return nil, oops.Code("FILTER_TOO_DEEP").
			Errorf("nesting depth exceeds maximum of %d", MaxNestingDepth)
	}
	terms := make([]matcher, 0, len(e.Or))
	for _, and := range e.Or {
		m, err := compileAnd(and, depth)
		if err != nil {
			return nil, err
		}
		terms = append(terms, m)
	}
	if len(terms) == 1 {
		return terms[0], nil
	}
	return func(entry eventwait.Entry) bool {
		for _, m := range terms {
			if m(entry) {
				return true
			}
		}
		return false
	}, nil
}

func compileAnd(a *AndExpr, depth int) (matcher, error) {
	terms := make([]matcher, 0, len(a.Terms))
	for _, t := range a.Terms {
		m, err := compileTerm(t, depth)
		if err != nil {
			return nil, err
		}
		terms = append(terms, m)
	}
	if len(terms) == 1 {
		return terms[0], nil
	}
	return func(entry eventwait.Entry) bool {
		for _, m := range terms {
			if !m(entry) {
				return false
			}
		}
		return true
	}, nil
}

func compileTerm(t *Term, depth int) (matcher, error) {
	switch {
	case t.Negated != nil:
		inner, err := compileTerm(t.Negated, depth+1)
		if err != nil {
			return nil, err
		}
		return func(entry eventwait.Entry) bool { return !inner(entry) }, nil
	case t.Paren != nil:
		return compileExpr(t.Paren, depth+1)
	case t.Has != nil:
		resolve, err := compileField(t.Has)
		if err != nil {
			return nil, err
		}
		return func(entry eventwait.Entry) bool {
			_, ok := resolve(entry)
			return ok
		}, nil
	case t.Cmp != nil:
		return compileComparison(t.Cmp)
	default:
		return nil, oops.Code("FILTER_EMPTY_TERM").
			With("position", t.Pos.String()).
			Errorf("empty term")
	}
}

func compileComparison(c *Comparison) (matcher, error) {
	resolve, err := compileField(c.Field)
	if err != nil {
		return nil, err
	}

	switch c.Op {
	case "==", "!=":
		want := literalValue(c.Value)
		negate := c.Op == "!="
		return func(entry eventwait.Entry) bool {
			got, ok := resolve(entry)
			if !ok {
				return negate
			}
			return valueEqual(got, want) != negate
		}, nil
	case "=~":
		if c.Value.Str == nil {
			return nil, oops.Code("FILTER_BAD_PATTERN").
				With("position", c.Value.Pos.String()).
				Errorf("=~ requires a string pattern")
		}
		g, err := glob.Compile(*c.Value.Str)
		if err != nil {
			return nil, oops.Code("FILTER_BAD_PATTERN").
				With("pattern", *c.Value.Str).
				Wrap(err)
		}
		return func(entry eventwait.Entry) bool {
			got, ok := resolve(entry)
			if !ok {
				return false
			}
			return g.Match(stringify(got))
		}, nil
	default:
		return nil, oops.Code("FILTER_BAD_OPERATOR").Errorf("unsupported operator %q", c.Op)
	}
}

// resolver extracts a field value from an entry. The boolean reports
// presence, which backs has().
type resolver func(eventwait.Entry) (any, bool)

func compileField(f *FieldRef) (resolver, error) {
	root := f.Parts[0]
	rest := f.Parts[1:]

	switch root {
	case "type":
		if len(rest) > 0 {
			return nil, fieldError(f)
		}
		return func(e eventwait.Entry) (any, bool) { return e.Event.Type, true }, nil
	case "id":
		if len(rest) > 0 {
			return nil, fieldError(f)
		}
		return func(e eventwait.Entry) (any, bool) { return e.Event.ID, e.Event.ID != "" }, nil
	case "gap":
		if len(rest) > 0 {
			return nil, fieldError(f)
		}
		return func(e eventwait.Entry) (any, bool) { return e.Gap, true }, nil
	case "data":
		path := strings.Join(rest, ".")
		return func(e eventwait.Entry) (any, bool) {
			return eventwait.LookupJSON(e.Event.Data, path)
		}, nil
	default:
		return nil, oops.Code("FILTER_UNKNOWN_FIELD").
			With("field", strings.Join(f.Parts, ".")).
			With("position", f.Pos.String()).
			Errorf("unknown field root %q (want type, id, gap, or data)", root)
	}
}

func fieldError(f *FieldRef) error {
	return oops.Code("FILTER_UNKNOWN_FIELD").
		With("field", strings.Join(f.Parts, ".")).
		With("position", f.Pos.String()).
		Errorf("field %q does not have sub-fields", f.Parts[0])
}

func literalValue(l *Literal) any {
	switch {
	case l.Str != nil:
		return *l.Str
	case l.Num != nil:
		return *l.Num
	case l.Bool != nil:
		return *l.Bool == "true"
	default:
		return nil
	}
}

func valueEqual(got, want any) bool {
	switch w := want.(type) {
	case float64:
		g, ok := got.(float64)
		return ok && g == w
	case bool:
		g, ok := got.(bool)
		return ok && g == w
	case string:
		return stringify(got) == w
	default:
		return false
	}
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
