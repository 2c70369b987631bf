package selfid

import (
	"errors"
	"reflect"
	"testing"
)

// ext builds an extended self-ID quadlet.
func ext(phy uint8, seq int, more bool, ports ...PortState) uint32 {
	q := uint32(2)<<30 | uint32(phy)<<24 | 1<<23 | uint32(seq)<<20
	for i, p := range ports {
		q |= uint32(p) << (16 - 2*i)
	}
	if more {
		q |= 1
	}
	return q
}

func TestDecode_Primary(t *testing.T) {
	// phy 1, link on, gap 63, S400, p0 parent, p1 not connected.
	rec, err := Decode([]uint32{0x817f8090})
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	want := Record{
		PhyID:    1,
		LinkOn:   true,
		GapCount: 63,
		Speed:    S400,
		Ports:    []PortState{PortParent, PortNotConnected},
		Quadlets: 1,
	}
	if !reflect.DeepEqual(rec, want) {
		t.Errorf("Decode = %+v, want %+v", rec, want)
	}
	if rec.PortCount() != 2 || rec.ChildCount() != 0 || rec.ParentCount() != 1 {
		t.Errorf("counts = %d/%d/%d, want 2/0/1", rec.PortCount(), rec.ChildCount(), rec.ParentCount())
	}
}

func TestDecode_Extended(t *testing.T) {
	q0, err := Encode(Record{PhyID: 4, Speed: S200, Ports: []PortState{PortChild}})
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	quads := []uint32{
		q0[0] | 1,
		ext(4, 0, true, PortNone, PortChild),
		ext(4, 1, false, PortParent),
		0x817f8090, // next node must not be consumed
	}
	rec, err := Decode(quads)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if rec.Quadlets != 3 {
		t.Errorf("Quadlets = %d, want 3", rec.Quadlets)
	}
	wantPorts := make([]PortState, 12)
	wantPorts[0] = PortChild
	wantPorts[4] = PortChild
	wantPorts[11] = PortParent
	if !reflect.DeepEqual(rec.Ports, wantPorts) {
		t.Errorf("Ports = %v, want %v", rec.Ports, wantPorts)
	}
	if rec.PortCount() != 3 || rec.ChildCount() != 2 {
		t.Errorf("PortCount/ChildCount = %d/%d, want 3/2", rec.PortCount(), rec.ChildCount())
	}
}

func TestDecode_Errors(t *testing.T) {
	cases := []struct {
		name  string
		quads []uint32
		want  error
	}{
		{"empty", nil, ErrTruncated},
		{"not self-id", []uint32{0x417f8090}, ErrNotSelfID},
		{"starts extended", []uint32{ext(0, 0, false)}, ErrNotSelfID},
		{"more without data", []uint32{0x817f8091}, ErrTruncated},
		{"continuation not extended", []uint32{0x817f8091, 0x827f8090}, ErrExtendedMissing},
		{"sequence skips 0 to 2", []uint32{0x817f8091, ext(1, 0, true), ext(1, 2, false)}, ErrSequence},
		{"sequence starts at 1", []uint32{0x817f8091, ext(1, 1, false)}, ErrSequence},
		{"phy changes", []uint32{0x817f8091, ext(2, 0, false)}, ErrPhyIDChanged},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, err := Decode(tc.quads)
			if !errors.Is(err, tc.want) {
				t.Fatalf("Decode error = %v, want %v", err, tc.want)
			}
			if rec.Ports != nil || rec.Quadlets != 0 {
				t.Errorf("expected zero record on error, got %+v", rec)
			}
		})
	}
}

func TestDecoder_Walk(t *testing.T) {
	recs := []Record{
		{PhyID: 0, LinkOn: true, Speed: S400, Ports: []PortState{PortParent}},
		{PhyID: 1, LinkOn: true, Speed: S400, Ports: []PortState{
			PortChild, PortNotConnected, PortNone, PortNone, PortParent,
		}},
		{PhyID: 2, Speed: S100, Contender: true, Initiator: true, PowerClass: 4, GapCount: 7,
			Ports: []PortState{PortChild}},
	}
	quads, err := EncodeAll(recs)
	if err != nil {
		t.Fatalf("EncodeAll error: %v", err)
	}
	if len(quads) != 4 {
		t.Fatalf("len(quads) = %d, want 4", len(quads))
	}
	if n := NodeCount(quads); n != 3 {
		t.Errorf("NodeCount = %d, want 3", n)
	}

	got, err := DecodeAll(quads)
	if err != nil {
		t.Fatalf("DecodeAll error: %v", err)
	}
	for i := range recs {
		recs[i].Quadlets = 1
	}
	recs[1].Quadlets = 2
	if !reflect.DeepEqual(got, recs) {
		t.Errorf("DecodeAll = %+v\nwant %+v", got, recs)
	}
}

func TestDecoder_StopsOnError(t *testing.T) {
	d := NewDecoder([]uint32{0x807f8080, 0x817f8091, ext(1, 2, false)})
	if _, err := d.Next(); err != nil {
		t.Fatalf("first node: %v", err)
	}
	if _, err := d.Next(); !errors.Is(err, ErrSequence) {
		t.Fatalf("second node error = %v, want ErrSequence", err)
	}
	if !d.More() {
		t.Error("decoder should not advance past a bad node")
	}
}

func TestEncode_Limits(t *testing.T) {
	if _, err := Encode(Record{PhyID: 64}); err == nil {
		t.Error("expected error for phy id 64")
	}
	if _, err := Encode(Record{Ports: make([]PortState, MaxPorts+1)}); err == nil {
		t.Error("expected error for too many ports")
	}
}

func TestPortState_Text(t *testing.T) {
	var p PortState
	if err := p.UnmarshalText([]byte("Child")); err != nil || p != PortChild {
		t.Errorf("UnmarshalText(Child) = %v, %v", p, err)
	}
	if err := p.UnmarshalText([]byte("sideways")); err == nil {
		t.Error("expected error for unknown port state")
	}
	var s Speed
	if err := s.UnmarshalText([]byte("S200")); err != nil || s != S200 {
		t.Errorf("UnmarshalText(S200) = %v, %v", s, err)
	}
}
