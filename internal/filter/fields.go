package filter

import (
	"github.com/gyaneshwarpardhi/fwtopo/internal/event"
)

// valueKind is the static type of an operand, checked when a filter is
// parsed.
type valueKind uint8

const (
	intValue valueKind = iota
	stringValue
	boolValue
)

func (k valueKind) String() string {
	return [...]string{"integer", "string", "bool"}[k]
}

// value is one operand value; only the member for typ is set, so values
// of the same kind compare with ==.
type value struct {
	typ valueKind
	n   int64
	s   string
	b   bool
}

func num(n int64) value    { return value{typ: intValue, n: n} }
func str(s string) value   { return value{typ: stringValue, s: s} }
func boolean(b bool) value { return value{typ: boolValue, b: b} }

// field reads one event attribute. get reports false when the event has
// no value for it.
type field struct {
	typ valueKind
	get func(ev *event.Event) (value, bool)
}

func onEvent(typ valueKind, get func(ev *event.Event) value) field {
	return field{typ, func(ev *event.Event) (value, bool) { return get(ev), true }}
}

func onNode(typ valueKind, get func(n *event.NodeInfo) value) field {
	return field{typ, func(ev *event.Event) (value, bool) { return get(&ev.Node), true }}
}

// onParent fields are only set on created events below the walk origin.
func onParent(typ valueKind, get func(n *event.NodeInfo) value) field {
	return field{typ, func(ev *event.Event) (value, bool) {
		if ev.Parent == nil {
			return value{}, false
		}
		return get(ev.Parent), true
	}}
}

var fields = map[string]field{
	"kind":       onEvent(stringValue, func(ev *event.Event) value { return str(string(ev.Kind)) }),
	"generation": onEvent(intValue, func(ev *event.Event) value { return num(int64(ev.Generation)) }),

	"node.handle":          onNode(stringValue, func(n *event.NodeInfo) value { return str(n.Handle.String()) }),
	"node.id":              onNode(intValue, func(n *event.NodeInfo) value { return num(int64(n.NodeID)) }),
	"node.phy_id":          onNode(intValue, func(n *event.NodeInfo) value { return num(int64(n.PhyID)) }),
	"node.link_on":         onNode(boolValue, func(n *event.NodeInfo) value { return boolean(n.LinkOn) }),
	"node.speed":           onNode(stringValue, func(n *event.NodeInfo) value { return str(n.MaxSpeed.String()) }),
	"node.beta_path":       onNode(boolValue, func(n *event.NodeInfo) value { return boolean(n.BetaPath) }),
	"node.contender":       onNode(boolValue, func(n *event.NodeInfo) value { return boolean(n.Contender) }),
	"node.initiated_reset": onNode(boolValue, func(n *event.NodeInfo) value { return boolean(n.InitiatedReset) }),

	"parent.handle": onParent(stringValue, func(n *event.NodeInfo) value { return str(n.Handle.String()) }),
	"parent.phy_id": onParent(intValue, func(n *event.NodeInfo) value { return num(int64(n.PhyID)) }),
}
