/*
Copyright 2023 The Sunwet Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package query

import (
	"encoding/json"
	"fmt"
	"strconv"

	"sunwet.dev/sunwet/pkg/triple"
)

// ErrorKind names the four compile-time error categories.
type ErrorKind int

const (
	ErrSyntax ErrorKind = iota
	ErrEmptyChain
	ErrDuplicateBind
	ErrUnknownParameter
)

// CompileError reports a compile-time failure, tagged with its kind so
// callers (the HTTP API, the CLI) can render it distinctly.
type CompileError struct {
	Kind ErrorKind
	Pos  int
	Msg  string
}

func (e *CompileError) Error() string {
	if e.Pos >= 0 {
		return fmt.Sprintf("%s at position %d: %s", e.Kind, e.Pos, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (k ErrorKind) String() string {
	switch k {
	case ErrSyntax:
		return "syntax error"
	case ErrEmptyChain:
		return "empty chain"
	case ErrDuplicateBind:
		return "duplicate bind"
	case ErrUnknownParameter:
		return "unknown parameter"
	default:
		return "error"
	}
}

// Parse parses query-language source text into a Query.
func Parse(src string) (*Query, error) {
	p := &parser{lex: lex(src)}
	p.advance()

	chain, err := p.parseChain()
	if err != nil {
		return nil, err
	}

	sort := TopSort{}
	if p.tok.typ == tokenKwSort {
		p.advance()
		if p.tok.typ == tokenKwRandom {
			p.advance()
			sort.Shuffle = true
		} else {
			for {
				dir := SortAsc
				switch p.tok.typ {
				case tokenKwAsc:
					p.advance()
				case tokenKwDesc:
					dir = SortDesc
					p.advance()
				}
				if p.tok.typ != tokenIdent {
					return nil, p.errf(ErrSyntax, "expected a bound field name in sort clause")
				}
				field := p.tok.val
				p.advance()
				sort.Fields = append(sort.Fields, TopSortField{Dir: dir, Field: field})
				if p.tok.typ == tokenComma {
					p.advance()
					continue
				}
				break
			}
		}
	}
	if p.tok.typ != tokenEOF {
		return nil, p.errf(ErrSyntax, "unexpected trailing input %q", p.tok.val)
	}

	q := &Query{Chain: *chain, Sort: sort}
	if err := checkDuplicateBinds(&q.Chain, map[string]bool{}); err != nil {
		return nil, err
	}
	return q, nil
}

type parser struct {
	lex    *lexer
	tok    token
	buffer *token // one-token lookahead, filled by peekNext
}

func (p *parser) advance() {
	if p.buffer != nil {
		p.tok = *p.buffer
		p.buffer = nil
		return
	}
	p.tok = <-p.lex.tokens
}

// peekNext returns the token after p.tok without consuming it -- the
// one spot the grammar needs two tokens of lookahead is "&"/"|" inside
// a filter subchain, where "& {" starts a junction step but "& ?"
// belongs to the enclosing filter_expr.
func (p *parser) peekNext() token {
	if p.buffer == nil {
		t := <-p.lex.tokens
		p.buffer = &t
	}
	return *p.buffer
}

func (p *parser) errf(kind ErrorKind, format string, args ...interface{}) error {
	return &CompileError{Kind: kind, Pos: p.tok.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) expect(t tokenType, what string) error {
	if p.tok.typ != t {
		return p.errf(ErrSyntax, "expected %s, got %q", what, p.tok.val)
	}
	return nil
}

// parseChain parses `chain := head tail`.
func (p *parser) parseChain() (*Chain, error) {
	head, err := p.parseChainHead()
	if err != nil {
		return nil, err
	}
	if head.RootKind == RootNone && len(head.Steps) == 0 {
		return nil, &CompileError{Kind: ErrEmptyChain, Pos: p.tok.pos, Msg: "chain has no root and no steps"}
	}

	c := &Chain{Head: *head}
	if err := p.expect(tokenLBrace, `"{"`); err != nil {
		return nil, err
	}
	p.advance()
	for p.tok.typ != tokenRBrace {
		if p.tok.typ == tokenEOF {
			return nil, p.errf(ErrSyntax, `unterminated chain tail: missing "}"`)
		}
		if p.tok.typ == tokenFatArrow {
			p.advance()
			if err := p.expect(tokenIdent, "a bind name"); err != nil {
				return nil, err
			}
			if c.HasBind {
				return nil, &CompileError{Kind: ErrDuplicateBind, Pos: p.tok.pos, Msg: "a chain can only be bound to one name"}
			}
			c.HasBind = true
			c.Bind = p.tok.val
			p.advance()
			continue
		}
		sub, err := p.parseChain()
		if err != nil {
			return nil, err
		}
		c.Subchains = append(c.Subchains, *sub)
	}
	p.advance() // "}"
	return c, nil
}

// parseChainHead parses `head := root? step*`, stopping at the
// enclosing "{" (or, for subchains used as filter/recurse/junction
// bodies, at the enclosing "}").
func (p *parser) parseChainHead() (*ChainHead, error) {
	h := &ChainHead{}
	if root, ok, err := p.tryParseRoot(); err != nil {
		return nil, err
	} else if ok {
		*h = *root
	}
	for {
		switch p.tok.typ {
		case tokenAmp, tokenPipe:
			// "& {" / "| {" is a junction step; a bare "&"/"|" belongs
			// to an enclosing filter_expr and ends this head.
			if p.peekNext().typ != tokenLBrace {
				return h, nil
			}
			step, err := p.parseStep()
			if err != nil {
				return nil, err
			}
			h.Steps = append(h.Steps, *step)
		case tokenArrowFwd, tokenArrowBack, tokenRecurse:
			step, err := p.parseStep()
			if err != nil {
				return nil, err
			}
			h.Steps = append(h.Steps, *step)
		default:
			return h, nil
		}
	}
}

func (p *parser) tryParseRoot() (*ChainHead, bool, error) {
	switch p.tok.typ {
	case tokenString, tokenNumber, tokenTrue, tokenFalse, tokenNull, tokenParam:
		v, err := p.parseValue()
		if err != nil {
			return nil, false, err
		}
		return &ChainHead{RootKind: RootValue, RootValue: v}, true, nil
	case tokenIdent:
		if p.tok.val != "search" {
			return nil, false, p.errf(ErrSyntax, "unexpected identifier %q", p.tok.val)
		}
		p.advance()
		if err := p.expect(tokenLParen, `"("`); err != nil {
			return nil, false, err
		}
		p.advance()
		s, err := p.parseStrValue()
		if err != nil {
			return nil, false, err
		}
		if err := p.expect(tokenRParen, `")"`); err != nil {
			return nil, false, err
		}
		p.advance()
		return &ChainHead{RootKind: RootSearch, RootSearch: s}, true, nil
	default:
		return nil, false, nil
	}
}

func (p *parser) parseValue() (Value, error) {
	if p.tok.typ == tokenParam {
		name := p.tok.val[1:]
		p.advance()
		return Value{IsParameter: true, Parameter: name}, nil
	}
	node, err := p.parseJSONScalar()
	if err != nil {
		return Value{}, err
	}
	return Value{Literal: node}, nil
}

func (p *parser) parseStrValue() (StrValue, error) {
	if p.tok.typ == tokenParam {
		name := p.tok.val[1:]
		p.advance()
		return StrValue{IsParameter: true, Parameter: name}, nil
	}
	if p.tok.typ != tokenString {
		return StrValue{}, p.errf(ErrSyntax, "expected a string literal or $parameter, got %q", p.tok.val)
	}
	s, err := unquote(p.tok.val)
	if err != nil {
		return StrValue{}, p.errf(ErrSyntax, "invalid string literal: %v", err)
	}
	p.advance()
	return StrValue{Literal: s}, nil
}

func (p *parser) parseJSONScalar() (triple.Node, error) {
	switch p.tok.typ {
	case tokenString:
		s, err := unquote(p.tok.val)
		if err != nil {
			return triple.Node{}, p.errf(ErrSyntax, "invalid string literal: %v", err)
		}
		p.advance()
		return mustValue(s)
	case tokenNumber:
		f, err := strconv.ParseFloat(p.tok.val, 64)
		if err != nil {
			return triple.Node{}, p.errf(ErrSyntax, "invalid number literal %q", p.tok.val)
		}
		p.advance()
		return mustValue(f)
	case tokenTrue:
		p.advance()
		return mustValue(true)
	case tokenFalse:
		p.advance()
		return mustValue(false)
	default:
		return triple.Node{}, p.errf(ErrSyntax, "expected a JSON scalar, got %q", p.tok.val)
	}
}

func mustValue(v interface{}) (triple.Node, error) {
	n, err := triple.NewValue(v)
	if err != nil {
		return triple.Node{}, err
	}
	return n, nil
}

func unquote(raw string) (string, error) {
	var s string
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return "", err
	}
	return s, nil
}

// parseStep parses one `step := step_specific sort_step? "first"?`.
func (p *parser) parseStep() (*Step, error) {
	s := &Step{}
	switch p.tok.typ {
	case tokenArrowFwd, tokenArrowBack:
		dir := MoveForward
		if p.tok.typ == tokenArrowBack {
			dir = MoveBackward
		}
		p.advance()
		pred, err := p.parseStrValue()
		if err != nil {
			return nil, err
		}
		s.Kind = StepMove
		s.Dir = dir
		s.Predicate = pred
		if p.tok.typ == tokenLParen {
			p.advance()
			f, err := p.parseFilterExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expect(tokenRParen, `")"`); err != nil {
				return nil, err
			}
			p.advance()
			s.Filter = f
		}
	case tokenRecurse:
		p.advance()
		if err := p.expect(tokenLBrace, `"{"`); err != nil {
			return nil, err
		}
		p.advance()
		var steps []Step
		for p.tok.typ != tokenRBrace {
			st, err := p.parseStep()
			if err != nil {
				return nil, err
			}
			steps = append(steps, *st)
		}
		p.advance()
		s.Kind = StepRecurse
		s.RecurseSteps = steps
	case tokenAmp, tokenPipe:
		jt := JunctionAnd
		tt := tokenAmp
		if p.tok.typ == tokenPipe {
			jt = JunctionOr
			tt = tokenPipe
		}
		var chains []ChainHead
		for p.tok.typ == tt && p.peekNext().typ == tokenLBrace {
			p.advance()
			if err := p.expect(tokenLBrace, `"{"`); err != nil {
				return nil, err
			}
			p.advance()
			h, err := p.parseChainHead()
			if err != nil {
				return nil, err
			}
			if err := p.expect(tokenRBrace, `"}"`); err != nil {
				return nil, err
			}
			p.advance()
			chains = append(chains, *h)
		}
		if len(chains) < 2 {
			return nil, p.errf(ErrSyntax, "a junction needs at least two branches")
		}
		s.Kind = StepJunction
		s.JunctionType = jt
		s.JunctionChains = chains
	default:
		return nil, p.errf(ErrSyntax, "expected a step, got %q", p.tok.val)
	}

	switch p.tok.typ {
	case tokenKwAsc:
		s.Sort = SortAsc
		p.advance()
	case tokenKwDesc:
		s.Sort = SortDesc
		p.advance()
	}
	if p.tok.typ == tokenKwFirst {
		s.First = true
		p.advance()
	}
	return s, nil
}

// parseFilterExpr parses `filter_expr`, left-associating repeated "&"
// or "|" at the same level (the grammar doesn't mix them without
// parens, so the first operator seen fixes the junction type for the
// remainder of this level).
func (p *parser) parseFilterExpr() (*FilterExpr, error) {
	first, err := p.parseFilterAtom()
	if err != nil {
		return nil, err
	}
	if p.tok.typ != tokenAmp && p.tok.typ != tokenPipe {
		return first, nil
	}
	jt := JunctionAnd
	tt := p.tok.typ
	if tt == tokenPipe {
		jt = JunctionOr
	}
	exprs := []*FilterExpr{first}
	for p.tok.typ == tt {
		p.advance()
		next, err := p.parseFilterAtom()
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, next)
	}
	return &FilterExpr{Kind: FilterJunction, JunctionType: jt, Subexprs: exprs}, nil
}

func (p *parser) parseFilterAtom() (*FilterExpr, error) {
	var et ExistsType
	switch p.tok.typ {
	case tokenQuery:
		et = MustExist
	case tokenNotQuery:
		et = MustNotExist
	default:
		return nil, p.errf(ErrSyntax, "expected '?' or '!?', got %q", p.tok.val)
	}
	p.advance()
	sub, err := p.parseChainHead()
	if err != nil {
		return nil, err
	}
	if sub.RootKind == RootNone && len(sub.Steps) == 0 {
		return nil, &CompileError{Kind: ErrEmptyChain, Pos: p.tok.pos, Msg: "filter subchain has no root and no steps"}
	}

	var suffix *FilterSuffix
	switch p.tok.typ {
	case tokenEq, tokenNeq, tokenLt, tokenLte, tokenGt, tokenGte:
		op := map[tokenType]CompareOp{
			tokenEq: OpEq, tokenNeq: OpNeq, tokenLt: OpLt,
			tokenLte: OpLte, tokenGt: OpGt, tokenGte: OpGte,
		}[p.tok.typ]
		p.advance()
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		suffix = &FilterSuffix{HasCmp: true, CmpOp: op, CmpWith: v}
	case tokenTilde:
		p.advance()
		s, err := p.parseStrValue()
		if err != nil {
			return nil, err
		}
		suffix = &FilterSuffix{IsLike: true, Like: s}
	}

	return &FilterExpr{Kind: FilterExists, ExistsType: et, Subchain: *sub, Suffix: suffix}, nil
}

// checkDuplicateBinds walks the parsed chain tree enforcing
// DuplicateBind across the whole query, not just within one chain's
// immediate tail (a name bound twice anywhere in the query is still an
// ambiguous result-record key).
func checkDuplicateBinds(c *Chain, seen map[string]bool) error {
	if c.HasBind {
		if seen[c.Bind] {
			return &CompileError{Kind: ErrDuplicateBind, Pos: -1, Msg: fmt.Sprintf("bind name %q used more than once", c.Bind)}
		}
		seen[c.Bind] = true
	}
	for i := range c.Subchains {
		if err := checkDuplicateBinds(&c.Subchains[i], seen); err != nil {
			return err
		}
	}
	return nil
}
