package topology

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/fwtopo/internal/event"
	"github.com/gyaneshwarpardhi/fwtopo/internal/selfid"
)

const (
	phyParent = selfid.PortParent
	phyChild  = selfid.PortChild
	phyNconn  = selfid.PortNotConnected
)

func rec(phy uint8, link bool, speed selfid.Speed, ports ...selfid.PortState) selfid.Record {
	return selfid.Record{PhyID: phy, LinkOn: link, Speed: speed, GapCount: 63, Ports: ports}
}

func encode(t *testing.T, recs ...selfid.Record) []uint32 {
	t.Helper()
	quads, err := selfid.EncodeAll(recs)
	require.NoError(t, err)
	return quads
}

// lineABC is A(0) - B(1) - C(2); C is the root since it reports last.
func lineABC(t *testing.T, cLink bool) []uint32 {
	return encode(t,
		rec(0, true, selfid.S400, phyParent),
		rec(1, true, selfid.S400, phyChild, phyParent),
		rec(2, cLink, selfid.S400, phyChild),
	)
}

// lineAB is lineABC with C unplugged from B's second port.
func lineAB(t *testing.T) []uint32 {
	return encode(t,
		rec(0, true, selfid.S400, phyParent),
		rec(1, true, selfid.S400, phyChild, phyNconn),
	)
}

func localID(phy uint8) uint16 { return LocalBus | uint16(phy) }

// shape is a random tree used to generate consistent self-ID streams.
type shape struct {
	children []*shape
}

func randomShape(r *rand.Rand, n int) *shape {
	nodes := []*shape{{}}
	for len(nodes) < n {
		parent := nodes[r.Intn(len(nodes))]
		if len(parent.children) >= 3 {
			continue
		}
		c := &shape{}
		parent.children = append(parent.children, c)
		nodes = append(nodes, c)
	}
	return nodes[0]
}

// records lists the self-IDs of s in broadcast order: children before
// parents, earlier child ports first.
func (s *shape) records() []selfid.Record {
	var out []selfid.Record
	var visit func(n *shape, root bool)
	visit = func(n *shape, root bool) {
		for _, c := range n.children {
			visit(c, false)
		}
		var ports []selfid.PortState
		for range n.children {
			ports = append(ports, phyChild)
		}
		if !root {
			ports = append(ports, phyParent)
		}
		ports = append(ports, phyNconn)
		out = append(out, rec(uint8(len(out)), true, selfid.S400, ports...))
	}
	visit(s, true)
	return out
}

// requireTree checks that tr is connected, acyclic and that every edge is
// recorded on both ends.
func requireTree(t *testing.T, tr *Tree) {
	t.Helper()
	visited := tr.Walk(tr.Root(), 1<<62, func(int, int) {})
	require.Len(t, visited, tr.Len(), "every node reachable from the root exactly once")

	edges := 0
	for _, i := range tr.Indices() {
		for _, p := range tr.Node(i).Ports {
			if p == NoPeer {
				continue
			}
			edges++
			require.Contains(t, tr.Node(p).Ports, i, "edge %d-%d is one-sided", i, p)
		}
	}
	require.Equal(t, 2*(tr.Len()-1), edges, "a tree has n-1 edges")
}

func kinds(events []event.Event) []event.Kind {
	out := make([]event.Kind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func phys(events []event.Event) []uint8 {
	out := make([]uint8, len(events))
	for i, ev := range events {
		out[i] = ev.Node.PhyID
	}
	return out
}

// ignoreHandles drops per-build handles so two builds can be compared.
var ignoreHandles = cmpopts.IgnoreFields(event.NodeInfo{}, "Handle")
