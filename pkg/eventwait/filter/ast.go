// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Probekit Contributors

// Package filter provides a small boolean expression language for wait
// predicates, so declarative scenarios can express matches like
//
//	type == "book.created" && data.book.tenant == "acme"
//	type =~ "cart.*" || has(data.error)
//
// without Go code. Expressions compile to eventwait.Predicate values.
package filter

import (
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// MaxNestingDepth bounds parenthesis/negation nesting.
const MaxNestingDepth = 32

// filterLexer tokenizes the expression language. Multi-character
// operators are listed before their single-character prefixes.
var filterLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "String", Pattern: `"[^"]*"`},
	{Name: "Number", Pattern: `-?\d+(\.\d+)?`},
	{Name: "OpEq", Pattern: `==`},
	{Name: "OpNe", Pattern: `!=`},
	{Name: "OpMatch", Pattern: `=~`},
	{Name: "OpAnd", Pattern: `&&`},
	{Name: "OpOr", Pattern: `\|\|`},
	{Name: "Not", Pattern: `!`},
	{Name: "Dot", Pattern: `\.`},
	{Name: "Ident", Pattern: `[a-zA-Z_]\w*`},
	{Name: "Punct", Pattern: `[()]`},
	{Name: "whitespace", Pattern: `\s+`},
})

// Expr is the root: disjunction of conjunctions.
type Expr struct {
	Pos lexer.Position `parser:""`
	Or  []*AndExpr     `parser:"@@ (OpOr @@)*"`
}

// AndExpr is a conjunction of terms.
type AndExpr struct {
	Pos   lexer.Position `parser:""`
	Terms []*Term        `parser:"@@ (OpAnd @@)*"`
}

// Term is a negation, a parenthesized expression, a presence check, or a
// comparison.
type Term struct {
	Pos     lexer.Position `parser:""`
	Negated *Term          `parser:"  Not @@"`
	Paren   *Expr          `parser:"| '(' @@ ')'"`
	Has     *FieldRef      `parser:"| 'has' '(' @@ ')'"`
	Cmp     *Comparison    `parser:"| @@"`
}

// Comparison is field op literal.
type Comparison struct {
	Pos   lexer.Position `parser:""`
	Field *FieldRef      `parser:"@@"`
	Op    string         `parser:"@(OpEq | OpNe | OpMatch)"`
	Value *Literal       `parser:"@@"`
}

// FieldRef is a dotted field path rooted at one of the event fields:
// type, id, gap, or data followed by a JSON path.
type FieldRef struct {
	Pos   lexer.Position `parser:""`
	Parts []string       `parser:"@Ident (Dot @Ident)*"`
}

// Literal is a string, number, or boolean literal.
type Literal struct {
	Pos  lexer.Position `parser:""`
	Str  *string        `parser:"  @String"`
	Num  *float64       `parser:"| @Number"`
	Bool *string        `parser:"| @('true' | 'false')"`
}

// parser is the singleton participle parser instance.
var parser = participle.MustBuild[Expr](
	participle.Lexer(filterLexer),
	participle.Unquote("String"),
	participle.UseLookahead(2),
)

// Parse parses an expression into its AST with position-annotated errors.
func Parse(src string) (*Expr, error) {
	return parser.ParseString("", src)
}
