// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

package query

import (
	"fmt"
	"strings"
)

// Match is one atomic comparison produced while compiling an expression.
type Match struct {
	// Text is a SQL LIKE pattern (with backslash escaping), or the literal
	// phrase text when Exact is set.
	Text string
	// Exact requests whole-value case-insensitive equality instead of LIKE.
	Exact bool
}

// Target renders the per-atom predicate during compilation. Implementations
// exist for plain columns, JSON list columns, and correlated subqueries, so
// the same expression language works against every text filter of the API.
type Target interface {
	Predicate(m Match) (sql string, args []any)
}

// Column matches a single text column (or any SQL text expression).
func Column(expr string) Target {
	return columnTarget(expr)
}

type columnTarget string

func (c columnTarget) Predicate(m Match) (string, []any) {
	if m.Exact {
		return fmt.Sprintf("%s = ? COLLATE NOCASE", string(c)), []any{m.Text}
	}
	// SQLite's LIKE is case-insensitive for ASCII, which is the documented
	// matching rule of the mini-language.
	return fmt.Sprintf(`%s LIKE ? ESCAPE '\'`, string(c)), []any{m.Text}
}

// JSONList matches when any element of a JSON array column matches.
func JSONList(expr string) Target {
	return jsonListTarget(expr)
}

type jsonListTarget string

func (j jsonListTarget) Predicate(m Match) (string, []any) {
	inner, args := columnTarget("value").Predicate(m)
	return fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(%s) WHERE %s)", string(j), inner), args
}

// Exists scopes a target into a correlated subquery. The fromWhere fragment
// must contain the FROM clause and the correlation condition, e.g.
//
//	Exists("origins WHERE origins.bean_id = beans.id", Column("origins.farm"))
//
// Scoping happens per atom, so "!bourbon" against an origin column means
// "no origin matches bourbon" rather than "some origin does not match".
func Exists(fromWhere string, target Target) Target {
	return existsTarget{fromWhere, target}
}

type existsTarget struct {
	fromWhere string
	inner     Target
}

func (e existsTarget) Predicate(m Match) (string, []any) {
	inner, args := e.inner.Predicate(m)
	return fmt.Sprintf("EXISTS (SELECT 1 FROM %s AND (%s))", e.fromWhere, inner), args
}

// AnyOf matches when any of the wrapped targets matches. This implements the
// multi-branch filters: a variety search runs against both the original
// spelling and the canonical names, so both return the same beans.
func AnyOf(targets ...Target) Target {
	return anyOfTarget(targets)
}

type anyOfTarget []Target

func (a anyOfTarget) Predicate(m Match) (string, []any) {
	var (
		fragments []string
		args      []any
	)
	for _, target := range a {
		sql, targetArgs := target.Predicate(m)
		fragments = append(fragments, sql)
		args = append(args, targetArgs...)
	}
	if len(fragments) == 1 {
		return fragments[0], args
	}
	return "(" + strings.Join(fragments, " OR ") + ")", args
}

// Compile parses the expression and renders it against the target. The error
// is always a syntax error suitable for reporting to the API caller.
func Compile(input string, target Target) (sql string, args []any, err error) {
	expr, err := Parse(input)
	if err != nil {
		return "", nil, err
	}
	sql, args = expr.Compile(target)
	return sql, args, nil
}

// Compile implements the Expr interface.
func (e termExpr) Compile(target Target) (string, []any) {
	return target.Predicate(Match{Text: likePattern(e.text)})
}

// Compile implements the Expr interface.
func (e phraseExpr) Compile(target Target) (string, []any) {
	return target.Predicate(Match{Text: e.text, Exact: true})
}

// Compile implements the Expr interface.
func (e notExpr) Compile(target Target) (string, []any) {
	sql, args := e.operand.Compile(target)
	return "NOT (" + sql + ")", args
}

// Compile implements the Expr interface.
func (e andExpr) Compile(target Target) (string, []any) {
	return compileOperands(e.operands, " AND ", target)
}

// Compile implements the Expr interface.
func (e orExpr) Compile(target Target) (string, []any) {
	return compileOperands(e.operands, " OR ", target)
}

func compileOperands(operands []Expr, op string, target Target) (string, []any) {
	var (
		fragments []string
		args      []any
	)
	for _, operand := range operands {
		sql, operandArgs := operand.Compile(target)
		fragments = append(fragments, sql)
		args = append(args, operandArgs...)
	}
	return "(" + strings.Join(fragments, op) + ")", args
}

// likePattern translates a mini-language term into a SQL LIKE pattern:
// '*' becomes '%', '?' becomes '_', and literal LIKE metacharacters are
// escaped. A term without wildcards matches as a substring.
func likePattern(term string) string {
	var sb strings.Builder
	sb.Grow(len(term) + 2)
	for _, r := range term {
		switch r {
		case '*':
			sb.WriteByte('%')
		case '?':
			sb.WriteByte('_')
		case '%', '_', '\\':
			sb.WriteByte('\\')
			sb.WriteRune(r)
		default:
			sb.WriteRune(r)
		}
	}
	if strings.ContainsAny(term, "*?") {
		return sb.String()
	}
	return "%" + sb.String() + "%"
}
