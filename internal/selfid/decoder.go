package selfid

import (
	"errors"
	"fmt"
)

// Decode errors. Any of them invalidates the whole self-ID scan.
var (
	ErrNotSelfID       = errors.New("quadlet is not a self-ID packet")
	ErrExtendedMissing = errors.New("continuation quadlet is not an extended self-ID packet")
	ErrSequence        = errors.New("extended self-ID sequence number out of order")
	ErrTruncated       = errors.New("self-ID data ends inside a node's packet")
	ErrPhyIDChanged    = errors.New("extended self-ID packet carries a different phy id")
)

// Decode decodes the node whose packet 0 is quads[0]. On success
// Record.Quadlets tells how far to advance to reach the next node.
func Decode(quads []uint32) (Record, error) {
	if len(quads) == 0 {
		return Record{}, ErrTruncated
	}
	q := quads[0]
	if !isSelfID(q) {
		return Record{}, fmt.Errorf("%w: 0x%08x", ErrNotSelfID, q)
	}
	if isExtended(q) {
		return Record{}, fmt.Errorf("%w: node starts with extended packet 0x%08x", ErrNotSelfID, q)
	}

	rec := Record{
		PhyID:      phyID(q),
		LinkOn:     linkOn(q),
		GapCount:   gapCount(q),
		Speed:      speed(q),
		Contender:  contender(q),
		PowerClass: powerClass(q),
		Initiator:  initiator(q),
	}
	ports := make([]PortState, 0, primaryPorts)
	for shift := 6; shift > 0; shift -= 2 {
		ports = append(ports, PortState(q>>shift&3))
	}

	n, seq := 1, 0
	for morePackets(q) {
		if n >= len(quads) {
			return Record{}, fmt.Errorf("%w: phy %d", ErrTruncated, rec.PhyID)
		}
		q = quads[n]
		if !isSelfID(q) || !isExtended(q) {
			return Record{}, fmt.Errorf("%w: phy %d quadlet 0x%08x", ErrExtendedMissing, rec.PhyID, q)
		}
		if got := sequence(q); got != seq {
			return Record{}, fmt.Errorf("%w: phy %d got %d, want %d", ErrSequence, rec.PhyID, got, seq)
		}
		if phyID(q) != rec.PhyID {
			return Record{}, fmt.Errorf("%w: %d != %d", ErrPhyIDChanged, phyID(q), rec.PhyID)
		}
		for shift := 16; shift > 0; shift -= 2 {
			ports = append(ports, PortState(q>>shift&3))
		}
		seq++
		n++
	}

	for len(ports) > 0 && ports[len(ports)-1] == PortNone {
		ports = ports[:len(ports)-1]
	}
	rec.Ports = ports
	rec.Quadlets = n
	return rec, nil
}

// Decoder walks a self-ID snapshot node by node.
type Decoder struct {
	quads []uint32
	off   int
}

// NewDecoder returns a Decoder positioned at the first node of quads.
func NewDecoder(quads []uint32) *Decoder {
	return &Decoder{quads: quads}
}

// More reports whether undecoded quadlets remain.
func (d *Decoder) More() bool { return d.off < len(d.quads) }

// Next decodes the next node. After an error the decoder does not advance.
func (d *Decoder) Next() (Record, error) {
	rec, err := Decode(d.quads[d.off:])
	if err != nil {
		return Record{}, err
	}
	d.off += rec.Quadlets
	return rec, nil
}

// DecodeAll decodes every node in quads.
func DecodeAll(quads []uint32) ([]Record, error) {
	var recs []Record
	d := NewDecoder(quads)
	for d.More() {
		rec, err := d.Next()
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// NodeCount returns how many nodes quads describes by counting packet 0
// quadlets. It does not validate the data.
func NodeCount(quads []uint32) int {
	n := 0
	for _, q := range quads {
		if IsPrimary(q) {
			n++
		}
	}
	return n
}
