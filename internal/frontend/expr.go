package frontend

import (
	"fmt"
	"strconv"
	"strings"
	"text/scanner"
	"unicode"

	"dsac/internal/ir"
)

// Scope resolves the names an expression refers to.
type Scope interface {
	Value(name string) (ir.Value, bool)
	Loop(name string) (*ir.Loop, bool)
}

// ParseExpr parses a closed-form expression in the notation ir.Expr prints:
//
//	expr    := term { ("+" | "-") term }
//	term    := unary { ("*" | "/s" | "/u" | "/^") unary }
//	unary   := "-" unary | primary
//	primary := int | "%" name | "(" expr ")" | "{" expr ",+," expr "}<" loop ">"
//
// A bare "/" divides signed.
func ParseExpr(src string, scope Scope) (ir.Expr, error) {
	p := &exprParser{src: src, scope: scope}
	p.s.Init(strings.NewReader(src))
	p.s.Mode = scanner.ScanIdents | scanner.ScanInts
	p.s.IsIdentRune = func(ch rune, i int) bool {
		return ch == '_' || unicode.IsLetter(ch) || i > 0 && (unicode.IsDigit(ch) || ch == '.')
	}
	p.s.Error = func(_ *scanner.Scanner, msg string) { p.fail(msg) }
	p.next()
	e := p.expr()
	if p.err == nil && p.tok != scanner.EOF {
		p.fail(fmt.Sprintf("unexpected %q", p.s.TokenText()))
	}
	if p.err != nil {
		return nil, p.err
	}
	return e, nil
}

type exprParser struct {
	src   string
	s     scanner.Scanner
	tok   rune
	scope Scope
	err   error
}

func (p *exprParser) next() { p.tok = p.s.Scan() }

func (p *exprParser) fail(msg string) {
	if p.err == nil {
		p.err = fmt.Errorf("expression %q column %d: %s", p.src, p.s.Position.Column, msg)
	}
}

func (p *exprParser) expect(tok rune) {
	if p.tok != tok {
		p.fail(fmt.Sprintf("expected %q, found %q", string(tok), p.s.TokenText()))
		return
	}
	p.next()
}

func (p *exprParser) expr() ir.Expr {
	e := p.term()
	for p.err == nil && (p.tok == '+' || p.tok == '-') {
		op := p.tok
		p.next()
		r := p.term()
		if op == '+' {
			e = ir.Add(e, r)
		} else {
			e = ir.Sub(e, r)
		}
	}
	return e
}

func (p *exprParser) term() ir.Expr {
	e := p.unary()
	for p.err == nil && (p.tok == '*' || p.tok == '/') {
		if p.tok == '*' {
			p.next()
			e = ir.Mul(e, p.unary())
			continue
		}
		p.next()
		div := ir.SDiv
		switch {
		case p.tok == '^':
			div = ir.CeilDiv
			p.next()
		case p.tok == scanner.Ident && p.s.TokenText() == "u":
			div = ir.UDiv
			p.next()
		case p.tok == scanner.Ident && p.s.TokenText() == "s":
			p.next()
		}
		e = div(e, p.unary())
	}
	return e
}

func (p *exprParser) unary() ir.Expr {
	if p.tok == '-' {
		p.next()
		return ir.Mul(ir.C(-1), p.unary())
	}
	return p.primary()
}

func (p *exprParser) primary() ir.Expr {
	switch p.tok {
	case scanner.Int:
		v, err := strconv.ParseInt(p.s.TokenText(), 0, 64)
		if err != nil {
			p.fail(err.Error())
		}
		p.next()
		return ir.C(v)
	case '%':
		p.next()
		name := p.name()
		v, ok := p.scope.Value(name)
		if !ok && p.err == nil {
			p.fail(fmt.Sprintf("unknown value %%%s", name))
		}
		return p.symbol(v)
	case '(':
		p.next()
		e := p.expr()
		p.expect(')')
		return e
	case '{':
		p.next()
		start := p.expr()
		p.expect(',')
		p.expect('+')
		p.expect(',')
		step := p.expr()
		p.expect('}')
		p.expect('<')
		name := p.name()
		p.expect('>')
		l, ok := p.scope.Loop(name)
		if !ok {
			p.fail(fmt.Sprintf("unknown loop %s", name))
			return ir.C(0)
		}
		return ir.AddRec(start, step, l)
	}
	p.fail(fmt.Sprintf("unexpected %q", p.s.TokenText()))
	return ir.C(0)
}

// symbol folds integer constants so printed literals parse back equal.
func (p *exprParser) symbol(v ir.Value) ir.Expr {
	if v == nil {
		return ir.C(0)
	}
	if c, ok := v.(*ir.Const); ok && c.Ty.Kind == ir.Int {
		return ir.C(c.Int)
	}
	return ir.Sym(v)
}

func (p *exprParser) name() string {
	if p.tok != scanner.Ident {
		p.fail(fmt.Sprintf("expected a name, found %q", p.s.TokenText()))
		return ""
	}
	name := p.s.TokenText()
	p.next()
	return name
}
