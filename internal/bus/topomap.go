package bus

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gyaneshwarpardhi/fwtopo/internal/selfid"
)

// ErrTopologyMap is returned by CheckTopologyMap for a malformed image.
var ErrTopologyMap = errors.New("bad topology map")

// buildTopologyMap lays out the TOPOLOGY_MAP CSR block: a header quadlet
// with the length and CRC of what follows, the update counter, node and
// self-ID counts, then the raw self-IDs.
func buildTopologyMap(counter uint32, selfIDs []uint32) []uint32 {
	m := make([]uint32, 3+len(selfIDs))
	m[1] = counter
	m[2] = uint32(selfid.NodeCount(selfIDs))<<16 | uint32(len(selfIDs))&0xffff
	copy(m[3:], selfIDs)
	m[0] = uint32(len(m)-1)<<16 | uint32(crc16Quadlets(m[1:]))
	return m
}

// CheckTopologyMap verifies the length and CRC of a topology map image.
func CheckTopologyMap(m []uint32) error {
	if len(m) < 3 {
		return fmt.Errorf("%w: %d quadlets", ErrTopologyMap, len(m))
	}
	length := int(m[0] >> 16)
	if length != len(m)-1 {
		return fmt.Errorf("%w: header length %d, image has %d quadlets", ErrTopologyMap, length, len(m)-1)
	}
	if got, want := crc16Quadlets(m[1:]), uint16(m[0]); got != want {
		return fmt.Errorf("%w: crc %#04x, header says %#04x", ErrTopologyMap, got, want)
	}
	if ids := int(m[2] & 0xffff); ids != len(m)-3 {
		return fmt.Errorf("%w: %d self-IDs announced, %d present", ErrTopologyMap, ids, len(m)-3)
	}
	return nil
}

func crc16Quadlets(q []uint32) uint16 {
	b := make([]byte, 4*len(q))
	for i, v := range q {
		binary.BigEndian.PutUint32(b[4*i:], v)
	}
	return crc16(b)
}

// crc16 is CRC-16/ITU-T (polynomial 0x1021, initial value 0, MSB first),
// the block CRC used by IEEE 1212 configuration registers.
func crc16(b []byte) uint16 {
	var crc uint16
	for _, c := range b {
		crc ^= uint16(c) << 8
		for range 8 {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
