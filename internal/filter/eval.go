package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gyaneshwarpardhi/fwtopo/internal/event"
)

// expr is a compiled boolean expression. ok is false when a field it had
// to read is not set on ev.
type expr interface {
	eval(ev *event.Event) (match, ok bool)
}

type and struct{ l, r expr }

func (x and) eval(ev *event.Event) (bool, bool) {
	m, ok := x.l.eval(ev)
	if !ok || !m {
		return false, ok
	}
	return x.r.eval(ev)
}

type or struct{ l, r expr }

func (x or) eval(ev *event.Event) (bool, bool) {
	m, ok := x.l.eval(ev)
	if !ok || m {
		return m, ok
	}
	return x.r.eval(ev)
}

type not struct{ x expr }

func (x not) eval(ev *event.Event) (bool, bool) {
	m, ok := x.x.eval(ev)
	return !m, ok
}

// operand is a literal or an event field of a known kind.
type operand interface {
	kind() valueKind
	resolve(ev *event.Event) (value, bool)
}

type literal value

func (l literal) kind() valueKind                    { return l.typ }
func (l literal) resolve(*event.Event) (value, bool) { return value(l), true }

type fieldRef struct {
	name string
	f    field
}

func (r fieldRef) kind() valueKind                       { return r.f.typ }
func (r fieldRef) resolve(ev *event.Event) (value, bool) { return r.f.get(ev) }

type comparison struct {
	l, r operand
	test func(a, b value) bool
}

func (c *comparison) eval(ev *event.Event) (bool, bool) {
	a, ok := c.l.resolve(ev)
	if !ok {
		return false, false
	}
	b, ok := c.r.resolve(ev)
	if !ok {
		return false, false
	}
	return c.test(a, b), true
}

var ordered = map[string]func(a, b value) bool{
	"<":  func(a, b value) bool { return a.n < b.n },
	"<=": func(a, b value) bool { return a.n <= b.n },
	">":  func(a, b value) bool { return a.n > b.n },
	">=": func(a, b value) bool { return a.n >= b.n },
}

// newComparison type-checks l op r and picks the test to run.
func newComparison(op string, l, r operand) (*comparison, error) {
	if l.kind() != r.kind() {
		return nil, fmt.Errorf("%s: cannot compare %s with %s", op, l.kind(), r.kind())
	}
	c := &comparison{l: l, r: r}
	switch op {
	case "==":
		c.test = func(a, b value) bool { return a == b }
	case "!=":
		c.test = func(a, b value) bool { return a != b }
	case "<", "<=", ">", ">=":
		if l.kind() != intValue {
			return nil, fmt.Errorf("%s needs integers, got %s", op, l.kind())
		}
		c.test = ordered[op]
	case "contains":
		if l.kind() != stringValue {
			return nil, fmt.Errorf("contains needs strings, got %s", l.kind())
		}
		c.test = func(a, b value) bool { return strings.Contains(a.s, b.s) }
	case "matches":
		pattern, ok := r.(literal)
		if !ok || pattern.typ != stringValue {
			return nil, fmt.Errorf("matches needs a string pattern")
		}
		re, err := regexp.Compile(pattern.s)
		if err != nil {
			return nil, fmt.Errorf("matches: %w", err)
		}
		c.test = func(a, _ value) bool { return re.MatchString(a.s) }
	default:
		return nil, fmt.Errorf("unknown operator %q", op)
	}
	return c, nil
}
