// Package filter selects node lifecycle events with small boolean
// expressions such as `kind == "created" AND node.link_on == true`.
//
// Field references and operand types are checked when a filter is
// parsed, so matching an event cannot fail.
package filter

import (
	"fmt"
	"strings"

	"github.com/gyaneshwarpardhi/fwtopo/internal/event"
)

// Filter is a compiled event filter. The zero value and nil match every
// event.
type Filter struct {
	src string
	x   expr
}

// Parse compiles src. An empty or blank src matches everything.
func Parse(src string) (*Filter, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return &Filter{}, nil
	}
	x, err := compile(src)
	if err != nil {
		return nil, fmt.Errorf("filter %q: %w", src, err)
	}
	return &Filter{src: src, x: x}, nil
}

// Match reports whether ev passes the filter. An event lacking a field the
// expression reads, such as parent fields on an updated event, does not
// match.
func (f *Filter) Match(ev *event.Event) bool {
	if f == nil || f.x == nil {
		return true
	}
	m, ok := f.x.eval(ev)
	return m && ok
}

func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.src
}
