package topology

import (
	"errors"
	"fmt"

	"github.com/gyaneshwarpardhi/fwtopo/internal/selfid"
)

var (
	ErrNoSelfIDs        = errors.New("no self-ID packets")
	ErrPhyIDMismatch    = errors.New("phy id out of broadcast order")
	ErrStackUnderflow   = errors.New("topology stack underflow")
	ErrParentPorts      = errors.New("parent port inconsistency")
	ErrDisconnected     = errors.New("self-IDs describe more than one tree")
	ErrNodeLimit        = errors.New("too many nodes on bus")
	ErrLocalNodeMissing = errors.New("local node not found in self-IDs")
)

// BuildError reports which node stopped a topology build.
type BuildError struct {
	PhyID int
	Err   error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("topology build failed at phy %d: %v", e.PhyID, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

var reasons = []struct {
	err    error
	reason string
}{
	{selfid.ErrSequence, "extended_sequence"},
	{selfid.ErrExtendedMissing, "extended_missing"},
	{selfid.ErrTruncated, "truncated"},
	{selfid.ErrNotSelfID, "not_self_id"},
	{selfid.ErrPhyIDChanged, "phy_id_changed"},
	{ErrNoSelfIDs, "empty"},
	{ErrPhyIDMismatch, "phy_id_mismatch"},
	{ErrStackUnderflow, "stack_underflow"},
	{ErrParentPorts, "parent_ports"},
	{ErrDisconnected, "disconnected"},
	{ErrNodeLimit, "node_limit"},
	{ErrLocalNodeMissing, "local_missing"},
}

// Reason maps a build error to a short label for metrics.
func Reason(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return "unknown"
}
