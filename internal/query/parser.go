// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

// Package query implements the wildcard mini-language used by all text
// filters of the search API:
//
//	expr   := or
//	or     := and ('|' and)*
//	and    := not ('&' not)*     // implicit AND between adjacent atoms
//	not    := '!' not | atom
//	atom   := '(' expr ')' | '"' phrase '"' | term
//
// Terms may contain the wildcards '*' (any run) and '?' (any single
// character); a term without wildcards matches as a substring. Phrases match
// the whole column value, case-insensitively.
//
// Expressions compile to parameterized SQL fragments; the caller supplies a
// Target that renders the per-atom predicate, so the same language works
// against plain columns, JSON list columns, and canonicalized origin fields.
package query

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Expr is a parsed node of a search expression.
type Expr interface {
	// Compile renders the node as a parameterized SQL fragment.
	Compile(target Target) (sql string, args []any)
}

type andExpr struct{ operands []Expr }
type orExpr struct{ operands []Expr }
type notExpr struct{ operand Expr }
type termExpr struct{ text string }
type phraseExpr struct{ text string }

type tokenKind int

const (
	tokTerm tokenKind = iota
	tokPhrase
	tokAnd
	tokOr
	tokNot
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
}

func lex(input string) ([]token, error) {
	var tokens []token
	runes := []rune(input)
	pos := 0
	for pos < len(runes) {
		r := runes[pos]
		switch {
		case unicode.IsSpace(r):
			pos++
		case r == '(':
			tokens = append(tokens, token{kind: tokLParen})
			pos++
		case r == ')':
			tokens = append(tokens, token{kind: tokRParen})
			pos++
		case r == '&':
			tokens = append(tokens, token{kind: tokAnd})
			pos++
		case r == '|':
			tokens = append(tokens, token{kind: tokOr})
			pos++
		case r == '!':
			tokens = append(tokens, token{kind: tokNot})
			pos++
		case r == '"':
			end := pos + 1
			for end < len(runes) && runes[end] != '"' {
				end++
			}
			if end == len(runes) {
				return nil, errors.New("unterminated phrase")
			}
			tokens = append(tokens, token{kind: tokPhrase, text: string(runes[pos+1 : end])})
			pos = end + 1
		default:
			end := pos
			for end < len(runes) && !isTermBoundary(runes[end]) {
				end++
			}
			tokens = append(tokens, token{kind: tokTerm, text: string(runes[pos:end])})
			pos = end
		}
	}
	return tokens, nil
}

func isTermBoundary(r rune) bool {
	return unicode.IsSpace(r) || strings.ContainsRune(`()&|!"`, r)
}

type parser struct {
	tokens []token
	pos    int
}

// Parse parses a search expression. All returned errors are syntax errors
// suitable for reporting to the API caller.
func Parse(input string) (Expr, error) {
	tokens, err := lex(input)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, errors.New("empty expression")
	}
	p := &parser{tokens: tokens}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.tokens) {
		if p.tokens[p.pos].kind == tokRParen {
			return nil, errors.New("mismatched parentheses")
		}
		return nil, fmt.Errorf("unexpected %s", p.describe(p.tokens[p.pos]))
	}
	return expr, nil
}

func (p *parser) parseOr() (Expr, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	operands := []Expr{first}
	for p.peekIs(tokOr) {
		p.pos++
		operand, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		operands = append(operands, operand)
	}
	if len(operands) == 1 {
		return first, nil
	}
	return orExpr{operands}, nil
}

func (p *parser) parseAnd() (Expr, error) {
	first, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	operands := []Expr{first}
	for {
		if p.peekIs(tokAnd) {
			p.pos++
		} else if !p.peekStartsAtom() {
			break
		}
		// either an explicit '&' or an adjacent atom (implicit AND)
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		operands = append(operands, operand)
	}
	if len(operands) == 1 {
		return first, nil
	}
	return andExpr{operands}, nil
}

func (p *parser) parseNot() (Expr, error) {
	if p.peekIs(tokNot) {
		p.pos++
		if !p.peekStartsAtom() && !p.peekIs(tokNot) {
			return nil, errors.New("empty expression after '!'")
		}
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return notExpr{operand}, nil
	}
	return p.parseAtom()
}

func (p *parser) parseAtom() (Expr, error) {
	if p.pos == len(p.tokens) {
		return nil, errors.New("unexpected end of expression")
	}
	tok := p.tokens[p.pos]
	switch tok.kind {
	case tokLParen:
		p.pos++
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if !p.peekIs(tokRParen) {
			return nil, errors.New("mismatched parentheses")
		}
		p.pos++
		return expr, nil
	case tokPhrase:
		p.pos++
		return phraseExpr{tok.text}, nil
	case tokTerm:
		p.pos++
		return termExpr{tok.text}, nil
	default:
		return nil, fmt.Errorf("unexpected %s", p.describe(tok))
	}
}

func (p *parser) peekIs(kind tokenKind) bool {
	return p.pos < len(p.tokens) && p.tokens[p.pos].kind == kind
}

func (p *parser) peekStartsAtom() bool {
	if p.pos >= len(p.tokens) {
		return false
	}
	switch p.tokens[p.pos].kind {
	case tokTerm, tokPhrase, tokLParen, tokNot:
		return true
	default:
		return false
	}
}

func (p *parser) describe(tok token) string {
	switch tok.kind {
	case tokTerm:
		return fmt.Sprintf("term %q", tok.text)
	case tokPhrase:
		return fmt.Sprintf("phrase %q", tok.text)
	case tokAnd:
		return "'&'"
	case tokOr:
		return "'|'"
	case tokNot:
		return "'!'"
	case tokLParen:
		return "'('"
	default:
		return "')'"
	}
}
