// Package bus turns bus-reset reports into topology updates. A Manager
// keeps the retained tree of one bus, reconciles it with every new
// self-ID snapshot and hands the resulting node events to a Publisher.
package bus

import (
	"context"

	"github.com/gyaneshwarpardhi/fwtopo/internal/event"
)

// Reset is one bus-reset report from the link layer.
type Reset struct {
	NodeID     uint16   `json:"node_id"` // id of the local node after the reset
	Generation uint32   `json:"generation"`
	SelfIDs    []uint32 `json:"self_ids"`
}

// Flusher drains work queued for a generation before the next reset is
// processed.
type Flusher interface {
	Flush(ctx context.Context, generation uint32) error
}

// Publisher receives the event batch of every handled reset. It is never
// called with the manager's lock held.
type Publisher interface {
	Publish(ctx context.Context, b *event.Batch) error
}

// RoleManager takes care of bus-manager and cycle-master duties.
// ResetRetries is called under the manager's lock and must not block.
type RoleManager interface {
	ResetRetries()
	Schedule(generation uint32)
}

// Resetter asks the link layer for a new bus reset.
type Resetter interface {
	Reset(ctx context.Context, reason string) error
}

// ResetFunc adapts a function to Resetter.
type ResetFunc func(ctx context.Context, reason string) error

func (f ResetFunc) Reset(ctx context.Context, reason string) error { return f(ctx, reason) }

// Deps are the collaborators of a Manager. Nil fields are replaced by
// no-ops.
type Deps struct {
	Flusher   Flusher
	Publisher Publisher
	Roles     RoleManager
	Resetter  Resetter
}

type nop struct{}

func (nop) Flush(context.Context, uint32) error         { return nil }
func (nop) Publish(context.Context, *event.Batch) error { return nil }
func (nop) ResetRetries()                               {}
func (nop) Schedule(uint32)                             {}
func (nop) Reset(context.Context, string) error         { return nil }

func (d Deps) withDefaults() Deps {
	if d.Flusher == nil {
		d.Flusher = nop{}
	}
	if d.Publisher == nil {
		d.Publisher = nop{}
	}
	if d.Roles == nil {
		d.Roles = nop{}
	}
	if d.Resetter == nil {
		d.Resetter = nop{}
	}
	return d
}
