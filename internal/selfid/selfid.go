// Package selfid decodes the self-ID packets every PHY broadcasts during an
// IEEE 1394 bus reset.
//
// A node sends one primary quadlet and, when it has more than three ports,
// up to three extended quadlets. The extended quadlets carry a sequence
// number which must count up from zero without gaps.
package selfid

import (
	"fmt"
	"strings"
)

// MaxPhyID is the highest physical address a node can hold; 63 is the
// broadcast address.
const MaxPhyID = 62

const (
	primaryPorts  = 3
	extendedPorts = 8
	maxExtended   = 3
	// MaxPorts is the most ports a single PHY can describe.
	MaxPorts = primaryPorts + extendedPorts*maxExtended
)

// Speed is the PHY speed code carried in packet 0.
type Speed uint8

const (
	S100 Speed = iota
	S200
	S400
	Beta
)

var speedNames = [...]string{"S100", "S200", "S400", "beta"}

func (s Speed) String() string {
	if int(s) < len(speedNames) {
		return speedNames[s]
	}
	return fmt.Sprintf("speed(%d)", uint8(s))
}

func (s Speed) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Speed) UnmarshalText(b []byte) error {
	for i, name := range speedNames {
		if strings.EqualFold(name, string(b)) {
			*s = Speed(i)
			return nil
		}
	}
	return fmt.Errorf("selfid: unknown speed %q", b)
}

// PortState is the 2-bit connection state of one PHY port.
type PortState uint8

const (
	PortNone         PortState = 0 // port not present on this PHY
	PortNotConnected PortState = 1
	PortParent       PortState = 2
	PortChild        PortState = 3
)

var portNames = [...]string{"none", "nconn", "parent", "child"}

func (p PortState) String() string { return portNames[p&3] }

func (p PortState) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *PortState) UnmarshalText(b []byte) error {
	for i, name := range portNames {
		if name == strings.ToLower(string(b)) {
			*p = PortState(i)
			return nil
		}
	}
	return fmt.Errorf("selfid: unknown port state %q", b)
}

// Record is one node's decoded self-ID data.
type Record struct {
	PhyID      uint8       `json:"phy_id"`
	LinkOn     bool        `json:"link_on"`
	GapCount   uint8       `json:"gap_count"`
	Speed      Speed       `json:"speed"`
	Contender  bool        `json:"contender"`
	PowerClass uint8       `json:"power_class"`
	Initiator  bool        `json:"initiator"`
	Ports      []PortState `json:"ports"` // by port number, trailing none ports trimmed

	// Quadlets is how many quadlets the record occupied on the wire.
	Quadlets int `json:"-"`
}

// PortCount returns the number of ports physically present.
func (r *Record) PortCount() int {
	n := 0
	for _, p := range r.Ports {
		if p != PortNone {
			n++
		}
	}
	return n
}

// ChildCount returns the number of ports leading to an already scanned subtree.
func (r *Record) ChildCount() int { return r.count(PortChild) }

// ParentCount returns the number of ports flagged as leading to the parent.
func (r *Record) ParentCount() int { return r.count(PortParent) }

func (r *Record) count(s PortState) int {
	n := 0
	for _, p := range r.Ports {
		if p == s {
			n++
		}
	}
	return n
}

// Quadlet field accessors.

func isSelfID(q uint32) bool    { return q>>30 == 2 }
func phyID(q uint32) uint8      { return uint8(q>>24) & 0x3f }
func isExtended(q uint32) bool  { return q>>23&1 == 1 }
func linkOn(q uint32) bool      { return q>>22&1 == 1 }
func gapCount(q uint32) uint8   { return uint8(q>>16) & 0x3f }
func speed(q uint32) Speed      { return Speed(q>>14) & 3 }
func contender(q uint32) bool   { return q>>11&1 == 1 }
func powerClass(q uint32) uint8 { return uint8(q>>8) & 7 }
func initiator(q uint32) bool   { return q>>1&1 == 1 }
func morePackets(q uint32) bool { return q&1 == 1 }
func sequence(q uint32) int     { return int(q>>20) & 7 }

// IsPrimary reports whether q starts a new node's self-ID packet.
func IsPrimary(q uint32) bool { return isSelfID(q) && !isExtended(q) }
