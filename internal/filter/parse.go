package filter

import (
	"fmt"
	"strconv"
	"strings"
	"text/scanner"
)

// Grammar, keywords case-insensitive:
//
//	or      = and { "OR" and }
//	and     = unary { "AND" unary }
//	unary   = "NOT" unary | "(" or ")" | operand op operand
//	op      = "==" | "!=" | "<" | "<=" | ">" | ">=" | "contains" | "matches"
//	operand = field | string | integer | "true" | "false"
//
// Fields are dotted paths such as node.phy_id; integers may be hex.
type parser struct {
	s    scanner.Scanner
	tok  rune
	text string
	err  error // first error reported by the scanner
}

func compile(src string) (expr, error) {
	p := &parser{}
	p.s.Init(strings.NewReader(src))
	p.s.Mode = scanner.ScanIdents | scanner.ScanInts | scanner.ScanStrings | scanner.ScanRawStrings
	p.s.Error = func(s *scanner.Scanner, msg string) {
		if p.err == nil {
			p.err = fmt.Errorf("col %d: %s", s.Pos().Column, msg)
		}
	}
	p.next()

	x, err := p.or()
	if err != nil {
		return nil, err
	}
	if p.tok != scanner.EOF {
		return nil, p.errorf("unexpected %q after expression", p.text)
	}
	if p.err != nil {
		return nil, p.err
	}
	return x, nil
}

func (p *parser) next() {
	p.tok = p.s.Scan()
	p.text = p.s.TokenText()
	switch p.tok {
	case '=', '!', '<', '>':
		if p.s.Peek() == '=' {
			p.s.Next()
			p.text += "="
		}
	}
}

func (p *parser) keyword(kw string) bool {
	return p.tok == scanner.Ident && strings.EqualFold(p.text, kw)
}

// errorf prefers a pending scanner error, which is usually the cause.
func (p *parser) errorf(format string, args ...any) error {
	if p.err != nil {
		return p.err
	}
	return fmt.Errorf("col %d: %s", p.s.Position.Column, fmt.Sprintf(format, args...))
}

func (p *parser) or() (expr, error) {
	x, err := p.and()
	for err == nil && p.keyword("or") {
		p.next()
		var y expr
		if y, err = p.and(); err == nil {
			x = or{x, y}
		}
	}
	return x, err
}

func (p *parser) and() (expr, error) {
	x, err := p.unary()
	for err == nil && p.keyword("and") {
		p.next()
		var y expr
		if y, err = p.unary(); err == nil {
			x = and{x, y}
		}
	}
	return x, err
}

func (p *parser) unary() (expr, error) {
	switch {
	case p.keyword("not"):
		p.next()
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		return not{x}, nil
	case p.tok == '(':
		p.next()
		x, err := p.or()
		if err != nil {
			return nil, err
		}
		if p.tok != ')' {
			return nil, p.errorf("missing closing parenthesis")
		}
		p.next()
		return x, nil
	}
	return p.comparison()
}

func (p *parser) comparison() (expr, error) {
	l, err := p.operand()
	if err != nil {
		return nil, err
	}

	var op string
	switch {
	case p.keyword("contains"), p.keyword("matches"):
		op = strings.ToLower(p.text)
	case p.tok == '=' || p.tok == '!':
		if len(p.text) == 2 {
			op = p.text
		}
	case p.tok == '<' || p.tok == '>':
		op = p.text
	}
	if op == "" {
		return nil, p.errorf("expected comparison operator, got %q", p.text)
	}
	col := p.s.Position.Column
	p.next()

	r, err := p.operand()
	if err != nil {
		return nil, err
	}
	c, err := newComparison(op, l, r)
	if err != nil {
		return nil, fmt.Errorf("col %d: %w", col, err)
	}
	return c, nil
}

func (p *parser) operand() (operand, error) {
	switch {
	case p.tok == scanner.String || p.tok == scanner.RawString:
		s, err := strconv.Unquote(p.text)
		if err != nil {
			return nil, p.errorf("bad string %s", p.text)
		}
		p.next()
		return literal(str(s)), nil

	case p.tok == scanner.Int || p.tok == '-':
		sign := int64(1)
		if p.tok == '-' {
			sign = -1
			p.next()
			if p.tok != scanner.Int {
				return nil, p.errorf("expected integer after -")
			}
		}
		n, err := strconv.ParseInt(p.text, 0, 64)
		if err != nil {
			return nil, p.errorf("bad integer %s", p.text)
		}
		p.next()
		return literal(num(sign * n)), nil

	case p.keyword("true"), p.keyword("false"):
		b := p.keyword("true")
		p.next()
		return literal(boolean(b)), nil

	case p.tok == scanner.Ident:
		name := p.text
		p.next()
		for p.tok == '.' {
			p.next()
			if p.tok != scanner.Ident {
				return nil, p.errorf("expected field name after %q", name+".")
			}
			name += "." + p.text
			p.next()
		}
		f, ok := fields[name]
		if !ok {
			return nil, p.errorf("unknown field %q", name)
		}
		return fieldRef{name: name, f: f}, nil
	}
	return nil, p.errorf("expected operand, got %q", p.text)
}
