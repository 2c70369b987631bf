package topology

import (
	"slices"

	"github.com/gyaneshwarpardhi/fwtopo/internal/event"
)

// gapCountTable maps the bus hop count to the optimal PHY gap count.
var gapCountTable = [...]uint8{63, 5, 7, 8, 10, 13, 16, 18, 21, 24, 26, 29, 32, 35, 37, 40}

// Tree is an arena of nodes describing one bus topology. Released slots
// are reused by later allocations, so indices of retained nodes are stable.
type Tree struct {
	nodes []Node
	free  []int

	root      int
	local     int
	contender int

	gapCount      uint8
	betaRepeaters bool
}

func newTree(capacity int) *Tree {
	return &Tree{
		nodes:     make([]Node, 0, capacity),
		root:      NoPeer,
		local:     NoPeer,
		contender: NoPeer,
	}
}

func (t *Tree) alloc(n Node) int {
	n.live = true
	n.color = 0
	if k := len(t.free); k > 0 {
		i := t.free[k-1]
		t.free = t.free[:k-1]
		t.nodes[i] = n
		return i
	}
	t.nodes = append(t.nodes, n)
	return len(t.nodes) - 1
}

func (t *Tree) release(i int) {
	t.nodes[i] = Node{}
	t.free = append(t.free, i)
}

// Node returns the node at index i, or nil if the slot is not in use.
func (t *Tree) Node(i int) *Node {
	if i < 0 || i >= len(t.nodes) || !t.nodes[i].live {
		return nil
	}
	return &t.nodes[i]
}

// Root returns the index of the root node.
func (t *Tree) Root() int { return t.root }

// Local returns the index of the node this instance runs on.
func (t *Tree) Local() int { return t.local }

// Contender returns the index of the highest-addressed bus manager
// contender, or NoPeer.
func (t *Tree) Contender() int { return t.contender }

// GapCount is the gap count all PHYs agreed on, or 0 when they disagreed.
func (t *Tree) GapCount() uint8 { return t.gapCount }

// BetaRepeatersPresent reports whether a Beta PHY forwards between ports.
func (t *Tree) BetaRepeatersPresent() bool { return t.betaRepeaters }

// Len returns the number of live nodes.
func (t *Tree) Len() int { return len(t.nodes) - len(t.free) }

// Indices returns the live node indices ordered by phy id.
func (t *Tree) Indices() []int {
	out := make([]int, 0, t.Len())
	for i := range t.nodes {
		if t.nodes[i].live {
			out = append(out, i)
		}
	}
	slices.SortFunc(out, func(a, b int) int {
		return int(t.nodes[a].PhyID) - int(t.nodes[b].PhyID)
	})
	return out
}

// MaxHops is the longest path between two nodes on the bus.
func (t *Tree) MaxHops() int {
	if t.root == NoPeer {
		return 0
	}
	return t.nodes[t.root].MaxHops
}

// OptimalGapCount is the gap count a bus manager should program for this
// topology.
func (t *Tree) OptimalGapCount() uint8 {
	h := t.MaxHops()
	if t.betaRepeaters || h >= len(gapCountTable) {
		return 63
	}
	return gapCountTable[h]
}

// NodeView is a read-only copy of a node suitable for callers outside the
// bus lock.
type NodeView struct {
	event.NodeInfo
	PhySpeed string `json:"phy_speed"`
	MaxHops  int    `json:"max_hops"`
	Ports    []int  `json:"ports"` // neighbour phy id per port, -1 when empty
}

// View copies the node at index i.
func (t *Tree) View(i int) NodeView {
	n := &t.nodes[i]
	ports := make([]int, len(n.Ports))
	for k, p := range n.Ports {
		ports[k] = NoPeer
		if p != NoPeer {
			ports[k] = int(t.nodes[p].PhyID)
		}
	}
	return NodeView{
		NodeInfo: n.Info(),
		PhySpeed: n.PhySpeed.String(),
		MaxHops:  n.MaxHops,
		Ports:    ports,
	}
}

// Views copies every live node ordered by phy id.
func (t *Tree) Views() []NodeView {
	idx := t.Indices()
	out := make([]NodeView, len(idx))
	for k, i := range idx {
		out[k] = t.View(i)
	}
	return out
}
