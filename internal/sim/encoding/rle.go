package encoding

import (
	"encoding/binary"
	"fmt"
)

// RunsEncode packs a block-id sequence into (id, run_len) uvarint pairs.
// Terrain columns are long runs of identical blocks, so this is compact
// enough before the snapshot's outer zstd layer.
func RunsEncode(ids []uint16) []byte {
	var out []byte
	var tmp [binary.MaxVarintLen64]byte

	for i := 0; i < len(ids); {
		b := ids[i]
		run := 1
		for i+run < len(ids) && ids[i+run] == b {
			run++
		}
		n := binary.PutUvarint(tmp[:], uint64(b))
		out = append(out, tmp[:n]...)
		n = binary.PutUvarint(tmp[:], uint64(run))
		out = append(out, tmp[:n]...)
		i += run
	}
	return out
}

// RunsDecode expands the pairs back into the block-id sequence. When want
// is positive the decoded length must match it exactly.
func RunsDecode(raw []byte, want int) ([]uint16, error) {
	var out []uint16
	for i := 0; i < len(raw); {
		b, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad block varint at %d", i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad run varint at %d", i)
		}
		i += n
		if b > 0xFFFF {
			return nil, fmt.Errorf("block id too large: %d", b)
		}
		if want > 0 && len(out)+int(run) > want {
			return nil, fmt.Errorf("run overflows expected length %d", want)
		}
		for k := 0; k < int(run); k++ {
			out = append(out, uint16(b))
		}
	}
	if want > 0 && len(out) != want {
		return nil, fmt.Errorf("decoded %d ids, want %d", len(out), want)
	}
	return out, nil
}
