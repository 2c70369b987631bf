package topology

import (
	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/fwtopo/internal/event"
	"github.com/gyaneshwarpardhi/fwtopo/internal/selfid"
)

const (
	// NoPeer marks a port with nothing behind it, and a missing node index.
	NoPeer = -1

	// LocalBus is the bus number part of every node id on the local bus.
	LocalBus uint16 = 0xffc0

	// MaxNodes is the number of addressable nodes on one bus.
	MaxNodes = selfid.MaxPhyID + 1
)

// Node is one PHY on the bus. Ports hold arena indices of neighbours
// inside the owning Tree.
type Node struct {
	Handle         uuid.UUID
	NodeID         uint16
	PhyID          uint8
	LinkOn         bool
	InitiatedReset bool
	Contender      bool
	PhySpeed       selfid.Speed
	MaxSpeed       selfid.Speed // PhySpeed capped by every link on the way to the local node
	BetaPath       bool
	MaxHops        int
	MaxDepth       int
	Ports          []int

	color uint64 // epoch of the last traversal that visited the node
	live  bool
}

func newNode(rec *selfid.Record) Node {
	ports := make([]int, len(rec.Ports))
	for i := range ports {
		ports[i] = NoPeer
	}
	return Node{
		Handle:         uuid.New(),
		NodeID:         LocalBus | uint16(rec.PhyID),
		PhyID:          rec.PhyID,
		LinkOn:         rec.LinkOn,
		InitiatedReset: rec.Initiator,
		Contender:      rec.Contender,
		PhySpeed:       rec.Speed,
		MaxSpeed:       rec.Speed,
		Ports:          ports,
	}
}

// Connected returns the number of ports with a neighbour.
func (n *Node) Connected() int {
	c := 0
	for _, p := range n.Ports {
		if p != NoPeer {
			c++
		}
	}
	return c
}

// Info returns the event view of n.
func (n *Node) Info() event.NodeInfo {
	return event.NodeInfo{
		Handle:         n.Handle,
		NodeID:         n.NodeID,
		PhyID:          n.PhyID,
		LinkOn:         n.LinkOn,
		MaxSpeed:       n.MaxSpeed,
		BetaPath:       n.BetaPath,
		Contender:      n.Contender,
		InitiatedReset: n.InitiatedReset,
	}
}

// updateHops derives subtree depth and the longest hop count below n from
// its already wired children. The parent port is still empty when this runs.
func (t *Tree) updateHops(i int) {
	n := &t.nodes[i]
	depths := [2]int{-1, -1}
	maxChildHops := 0
	for _, p := range n.Ports {
		if p == NoPeer {
			continue
		}
		c := &t.nodes[p]
		maxChildHops = max(maxChildHops, c.MaxHops)
		switch {
		case c.MaxDepth > depths[0]:
			depths[1] = depths[0]
			depths[0] = c.MaxDepth
		case c.MaxDepth > depths[1]:
			depths[1] = c.MaxDepth
		}
	}
	n.MaxDepth = depths[0] + 1
	n.MaxHops = max(maxChildHops, depths[0]+depths[1]+2)
}
