package topology

import (
	"github.com/gyaneshwarpardhi/fwtopo/internal/event"
)

// Result is the outcome of reconciling a retained tree with a new one.
type Result struct {
	Events  []event.Event
	Changed bool // a subtree was plugged or unplugged
	// PortMismatches counts places where the two trees disagreed on port
	// numbering.
	PortMismatches int
}

// Diff reconciles the retained tree old with next, built from the latest
// self-IDs, and updates old in place. Nodes present in both keep their
// handle; only subtrees that were unplugged or plugged in produce
// destroyed or created events. next must not be used afterwards.
//
// Both trees are walked in lock-step from their local nodes, pairing
// neighbours by port number. That only holds if port numbering of a
// physically unchanged segment is stable across resets. The edge a pair
// was entered through is matched by peer rather than by port, so it is
// never taken for an unplugged or new subtree; when its port number moved
// the retained node follows the new numbering. Moved back edges and
// paired nodes whose port count changed are counted in PortMismatches.
//
// epoch must be greater than any epoch used on old before.
func Diff(old, next *Tree, epoch uint64, generation uint32) Result {
	type pair struct{ old, next, oldFrom, nextFrom int }

	var res Result
	remap := make(map[int]int, len(next.nodes))

	queue := []pair{{old.local, next.local, NoPeer, NoPeer}}
	for head := 0; head < len(queue); head++ {
		pr := queue[head]
		i0, i1 := pr.old, pr.next
		n0, n1 := &old.nodes[i0], &next.nodes[i1]

		kind := event.KindUpdated
		switch {
		case n0.LinkOn && !n1.LinkOn:
			kind = event.KindLinkOff
		case !n0.LinkOn && n1.LinkOn:
			kind = event.KindLinkOn
		}

		n0.NodeID = n1.NodeID
		n0.PhyID = n1.PhyID
		n0.LinkOn = n1.LinkOn
		n0.InitiatedReset = n1.InitiatedReset
		n0.Contender = n1.Contender
		n0.MaxHops = n1.MaxHops
		n0.MaxDepth = n1.MaxDepth
		n0.color = epoch
		n1.color = epoch
		remap[i1] = i0

		res.Events = append(res.Events, event.New(kind, generation, n0.Info(), nil))

		width := len(n1.Ports)
		if len(n0.Ports) != width {
			res.PortMismatches++
			for len(n0.Ports) < width {
				n0.Ports = append(n0.Ports, NoPeer)
			}
		}

		back0 := portTo(n0.Ports, pr.oldFrom)
		back1 := portTo(n1.Ports, pr.nextFrom)
		if back0 != back1 {
			res.PortMismatches++
		}
		if back0 != NoPeer {
			n0.Ports[back0] = NoPeer
		}

		// graft may grow old.nodes, so nodes are addressed by index below.
		for port := range old.nodes[i0].Ports {
			peer0 := old.nodes[i0].Ports[port]
			peer1 := NoPeer
			if port < width && port != back1 {
				peer1 = next.nodes[i1].Ports[port]
			}
			switch {
			case peer0 != NoPeer && old.nodes[peer0].color == epoch,
				peer1 != NoPeer && next.nodes[peer1].color == epoch:
				// Already paired through another edge; leave it be.
				res.PortMismatches++
			case peer0 != NoPeer && peer1 != NoPeer:
				queue = append(queue, pair{peer0, peer1, i0, i1})
			case peer0 != NoPeer:
				res.Events = old.lost(peer0, epoch, generation, res.Events)
				old.nodes[i0].Ports[port] = NoPeer
				res.Changed = true
			case peer1 != NoPeer:
				child := old.graft(next, peer1, i1, remap)
				old.nodes[i0].Ports[port] = child
				res.Events = old.found(child, epoch, generation, res.Events)
				res.Changed = true
			}
		}
		old.nodes[i0].Ports = old.nodes[i0].Ports[:width]
		if back1 != NoPeer {
			old.nodes[i0].Ports[back1] = pr.oldFrom
		}
	}

	old.root = lookup(remap, next.root, old.local)
	old.contender = lookup(remap, next.contender, NoPeer)
	old.gapCount = next.gapCount
	old.betaRepeaters = next.betaRepeaters
	return res
}

// portTo returns the port of ports leading to peer, or NoPeer.
func portTo(ports []int, peer int) int {
	if peer == NoPeer {
		return NoPeer
	}
	for k, p := range ports {
		if p == peer {
			return k
		}
	}
	return NoPeer
}

// graft copies the subtree of src rooted at start, entered from src node
// from, into t. remap must already hold from's counterpart in t; it is
// extended with every copied node. Returns the index of the copied start.
func (t *Tree) graft(src *Tree, start, from int, remap map[int]int) int {
	type hop struct{ node, from int }
	var order []int
	queue := []hop{{start, from}}
	for head := 0; head < len(queue); head++ {
		h := queue[head]
		n := src.nodes[h.node]
		n.Ports = append([]int(nil), n.Ports...)
		remap[h.node] = t.alloc(n)
		order = append(order, h.node)
		for _, p := range n.Ports {
			if p != NoPeer && p != h.from {
				queue = append(queue, hop{p, h.node})
			}
		}
	}
	for _, s := range order {
		ports := t.nodes[remap[s]].Ports
		for k, p := range ports {
			if p != NoPeer {
				ports[k] = remap[p]
			}
		}
	}
	return remap[start]
}

func lookup(remap map[int]int, i, fallback int) int {
	if i == NoPeer {
		return NoPeer
	}
	if j, ok := remap[i]; ok {
		return j
	}
	return fallback
}
