package topology

import (
	"fmt"

	"github.com/gyaneshwarpardhi/fwtopo/internal/selfid"
)

// pending is a finished subtree waiting for its parent. parentPort is the
// port of root that will point at that parent once it is built.
type pending struct {
	root       int
	parentPort int
}

// Build assembles the topology described by a self-ID snapshot. selfIDs
// must be in broadcast order (ascending phy id); localNodeID identifies the
// node this instance runs on. No partial tree is ever returned.
//
// Each node's child ports lead to subtrees already on the stack, so the
// last record is the root and a consistent snapshot leaves exactly one
// entry behind.
func Build(selfIDs []uint32, localNodeID uint16) (*Tree, error) {
	if len(selfIDs) == 0 {
		return nil, &BuildError{PhyID: 0, Err: ErrNoSelfIDs}
	}

	t := newTree(selfid.NodeCount(selfIDs))
	localPhy := uint8(localNodeID & 0x3f)
	var gapCount uint8
	var stack []pending

	d := selfid.NewDecoder(selfIDs)
	for phy := 0; d.More(); phy++ {
		rec, err := d.Next()
		if err != nil {
			return nil, &BuildError{PhyID: phy, Err: err}
		}
		if int(rec.PhyID) != phy {
			return nil, &BuildError{PhyID: phy, Err: fmt.Errorf("%w: got %d", ErrPhyIDMismatch, rec.PhyID)}
		}
		if phy >= MaxNodes {
			return nil, &BuildError{PhyID: phy, Err: ErrNodeLimit}
		}
		children := rec.ChildCount()
		if children > len(stack) {
			return nil, &BuildError{PhyID: phy, Err: fmt.Errorf("%w: %d child ports, %d subtrees", ErrStackUnderflow, children, len(stack))}
		}
		last := !d.More()
		if parents := rec.ParentCount(); (last && parents != 0) || (!last && parents != 1) {
			return nil, &BuildError{PhyID: phy, Err: fmt.Errorf("%w: %d parent ports", ErrParentPorts, parents)}
		}
		if phy == 0 {
			gapCount = rec.GapCount
		}

		idx := t.alloc(newNode(&rec))
		first := len(stack) - children
		next := first
		parentPort := NoPeer
		for port, state := range rec.Ports {
			switch state {
			case selfid.PortParent:
				parentPort = port
			case selfid.PortChild:
				child := stack[next]
				next++
				t.nodes[idx].Ports[port] = child.root
				t.nodes[child.root].Ports[child.parentPort] = idx
			}
		}
		stack = append(stack[:first], pending{root: idx, parentPort: parentPort})

		if rec.PhyID == localPhy {
			t.local = idx
		}
		if rec.Contender {
			t.contender = idx
		}
		if rec.Speed == selfid.Beta && rec.ParentCount()+children > 1 {
			t.betaRepeaters = true
		}
		if rec.GapCount != gapCount {
			gapCount = 0
		}
		t.updateHops(idx)
	}

	if len(stack) != 1 {
		return nil, &BuildError{PhyID: t.Len() - 1, Err: fmt.Errorf("%w: %d roots", ErrDisconnected, len(stack))}
	}
	if t.local == NoPeer {
		return nil, &BuildError{PhyID: int(localPhy), Err: ErrLocalNodeMissing}
	}
	t.root = stack[0].root
	t.gapCount = gapCount
	return t, nil
}
