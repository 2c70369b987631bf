package topology

import (
	"github.com/gyaneshwarpardhi/fwtopo/internal/event"
	"github.com/gyaneshwarpardhi/fwtopo/internal/selfid"
)

// Visitor is called once per node reached by Walk. parent is the
// neighbour the walk arrived from, or NoPeer for the starting node.
type Visitor func(node, parent int)

// Walk visits the nodes reachable from start breadth first and returns
// them in visit order. Nodes are marked with epoch as they are visited;
// a port leading to a node already marked is taken as the way back to the
// parent, so direction is inferred from visit order alone. Nodes marked
// with epoch before the walk starts are not entered.
func (t *Tree) Walk(start int, epoch uint64, visit Visitor) []int {
	queue := []int{start}
	for head := 0; head < len(queue); head++ {
		i := queue[head]
		n := &t.nodes[i]
		n.color = epoch
		parent := NoPeer
		for _, p := range n.Ports {
			switch {
			case p == NoPeer:
			case t.nodes[p].color == epoch:
				parent = p
			default:
				queue = append(queue, p)
			}
		}
		visit(i, parent)
	}
	return queue
}

// Enumerate reports every node as created, walking from the local node.
func (t *Tree) Enumerate(epoch uint64, generation uint32) []event.Event {
	return t.found(t.local, epoch, generation, nil)
}

// DestroyAll reports every node as destroyed and empties the tree.
func (t *Tree) DestroyAll(epoch uint64, generation uint32) []event.Event {
	if t.local == NoPeer {
		return nil
	}
	events := t.lost(t.local, epoch, generation, nil)
	t.root, t.local, t.contender = NoPeer, NoPeer, NoPeer
	return events
}

// found walks a freshly attached subtree, deriving each node's reachable
// speed and beta path from its parent, and appends created events.
func (t *Tree) found(start int, epoch uint64, generation uint32, events []event.Event) []event.Event {
	t.Walk(start, epoch, func(i, parent int) {
		n := &t.nodes[i]
		beta := n.PhySpeed == selfid.Beta
		if parent == NoPeer {
			n.MaxSpeed = n.PhySpeed
			n.BetaPath = beta
			events = append(events, event.New(event.KindCreated, generation, n.Info(), nil))
			return
		}
		p := &t.nodes[parent]
		n.MaxSpeed = min(p.MaxSpeed, n.PhySpeed)
		n.BetaPath = p.BetaPath && beta
		info := p.Info()
		events = append(events, event.New(event.KindCreated, generation, n.Info(), &info))
	})
	return events
}

// lost walks a detached subtree, appends destroyed events and releases
// its nodes once the walk is done.
func (t *Tree) lost(start int, epoch uint64, generation uint32, events []event.Event) []event.Event {
	visited := t.Walk(start, epoch, func(i, _ int) {
		events = append(events, event.New(event.KindDestroyed, generation, t.nodes[i].Info(), nil))
	})
	for _, i := range visited {
		t.release(i)
	}
	return events
}
