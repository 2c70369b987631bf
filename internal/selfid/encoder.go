package selfid

import "fmt"

// Encode renders rec as wire quadlets, adding extended packets when it has
// more than three ports. Quadlets in rec is ignored.
func Encode(rec Record) ([]uint32, error) {
	switch {
	case rec.PhyID > 63:
		return nil, fmt.Errorf("selfid: phy id %d out of range", rec.PhyID)
	case rec.GapCount > 63:
		return nil, fmt.Errorf("selfid: gap count %d out of range", rec.GapCount)
	case rec.Speed > Beta:
		return nil, fmt.Errorf("selfid: speed code %d out of range", rec.Speed)
	case rec.PowerClass > 7:
		return nil, fmt.Errorf("selfid: power class %d out of range", rec.PowerClass)
	case len(rec.Ports) > MaxPorts:
		return nil, fmt.Errorf("selfid: %d ports exceeds %d", len(rec.Ports), MaxPorts)
	}

	q := uint32(2)<<30 | uint32(rec.PhyID)<<24 | uint32(rec.GapCount)<<16 |
		uint32(rec.Speed)<<14 | uint32(rec.PowerClass)<<8
	if rec.LinkOn {
		q |= 1 << 22
	}
	if rec.Contender {
		q |= 1 << 11
	}
	if rec.Initiator {
		q |= 1 << 1
	}
	for i := 0; i < primaryPorts && i < len(rec.Ports); i++ {
		q |= uint32(rec.Ports[i]&3) << (6 - 2*i)
	}
	out := []uint32{q}

	for seq, rest := 0, portsAfter(rec.Ports, primaryPorts); len(rest) > 0; seq++ {
		out[len(out)-1] |= 1 // more packets follow
		x := uint32(2)<<30 | uint32(rec.PhyID)<<24 | 1<<23 | uint32(seq)<<20
		for i := 0; i < extendedPorts && i < len(rest); i++ {
			x |= uint32(rest[i]&3) << (16 - 2*i)
		}
		out = append(out, x)
		rest = portsAfter(rest, extendedPorts)
	}
	return out, nil
}

// EncodeAll concatenates the encodings of recs.
func EncodeAll(recs []Record) ([]uint32, error) {
	var out []uint32
	for i := range recs {
		q, err := Encode(recs[i])
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, q...)
	}
	return out, nil
}

func portsAfter(ports []PortState, n int) []PortState {
	if len(ports) <= n {
		return nil
	}
	return ports[n:]
}
