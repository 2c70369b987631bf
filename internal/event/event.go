package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/fwtopo/internal/selfid"
)

// Kind tags a node lifecycle event.
type Kind string

const (
	KindCreated   Kind = "created"
	KindDestroyed Kind = "destroyed"
	KindLinkOn    Kind = "link_on"
	KindLinkOff   Kind = "link_off"
	KindUpdated   Kind = "updated"
)

// NodeInfo is the public view of a node at the moment an event was raised.
type NodeInfo struct {
	Handle         uuid.UUID    `json:"handle"` // stable while the node stays on the bus
	NodeID         uint16       `json:"node_id"`
	PhyID          uint8        `json:"phy_id"`
	LinkOn         bool         `json:"link_on"`
	MaxSpeed       selfid.Speed `json:"max_speed"`
	BetaPath       bool         `json:"beta_path"`
	Contender      bool         `json:"contender"`
	InitiatedReset bool         `json:"initiated_reset"`
}

// Event is one node lifecycle notification.
type Event struct {
	ID         uuid.UUID `json:"id"`
	Kind       Kind      `json:"kind"`
	Generation uint32    `json:"generation"`
	Node       NodeInfo  `json:"node"`
	Parent     *NodeInfo `json:"parent,omitempty"` // only for created; nil for the walk origin
	OccurredAt time.Time `json:"occurred_at"`
}

// New stamps a fresh event.
func New(kind Kind, generation uint32, node NodeInfo, parent *NodeInfo) Event {
	return Event{
		ID:         uuid.New(),
		Kind:       kind,
		Generation: generation,
		Node:       node,
		Parent:     parent,
		OccurredAt: time.Now(),
	}
}

// Batch is the ordered set of events produced by one bus reset.
type Batch struct {
	ID         uuid.UUID `json:"id"`
	Bus        string    `json:"bus"`
	Generation uint32    `json:"generation"`
	Changed    bool      `json:"changed"` // structural change, not just link or id updates
	Events     []Event   `json:"events"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewBatch wraps events for delivery.
func NewBatch(bus string, generation uint32, changed bool, events []Event) *Batch {
	return &Batch{
		ID:         uuid.New(),
		Bus:        bus,
		Generation: generation,
		Changed:    changed,
		Events:     events,
		CreatedAt:  time.Now(),
	}
}

// Count returns the number of events of each kind.
func (b *Batch) Count() map[Kind]int {
	out := make(map[Kind]int, 5)
	for _, ev := range b.Events {
		out[ev.Kind]++
	}
	return out
}
