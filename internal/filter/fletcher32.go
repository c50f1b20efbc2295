package filter

import (
	"encoding/binary"
	"fmt"

	"github.com/scigolib/h5catalog/internal/core"
)

// Fletcher32Filter implements the Fletcher32 checksum filter (ID 3).
//
// On write the checksum is appended; on read it is verified and stripped.
type Fletcher32Filter struct{}

// NewFletcher32Filter creates a Fletcher32 checksum filter.
func NewFletcher32Filter() *Fletcher32Filter {
	return &Fletcher32Filter{}
}

// ID returns core.FilterFletcher32.
func (f *Fletcher32Filter) ID() core.FilterID {
	return core.FilterFletcher32
}

// Name returns "fletcher32".
func (f *Fletcher32Filter) Name() string {
	return "fletcher32"
}

// Apply appends the checksum.
func (f *Fletcher32Filter) Apply(data []byte) ([]byte, error) {
	out := make([]byte, len(data), len(data)+4)
	copy(out, data)
	return binary.LittleEndian.AppendUint32(out, Fletcher32(data)), nil
}

// Remove verifies and strips the checksum. Files written on big-endian
// hosts by old library versions store each 16-bit half of the checksum byte-swapped; both
// forms are accepted.
func (f *Fletcher32Filter) Remove(data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("data too short for fletcher32: %d bytes", len(data))
	}
	n := len(data) - 4
	stored := binary.LittleEndian.Uint32(data[n:])
	sum := Fletcher32(data[:n])
	if stored != sum && stored != swapWordBytes(sum) {
		return nil, fmt.Errorf("stored %08x, computed %08x: %w", stored, sum, ErrChecksum)
	}
	return data[:n], nil
}

// Encode returns no client data.
func (f *Fletcher32Filter) Encode() (flags uint16, cdValues []uint32) {
	return 0, nil
}

// Fletcher32 computes the HDF5 variant of the Fletcher checksum: 16-bit
// big-endian words, sums folded every 360 words, an odd trailing byte
// taken as the high byte of a final word.
func Fletcher32(data []byte) uint32 {
	var sum1, sum2 uint32
	words := len(data) / 2
	i := 0
	for words > 0 {
		block := min(words, 360)
		words -= block
		for ; block > 0; block-- {
			sum1 += uint32(data[i])<<8 | uint32(data[i+1])
			sum2 += sum1
			i += 2
		}
		sum1 = (sum1 & 0xffff) + (sum1 >> 16)
		sum2 = (sum2 & 0xffff) + (sum2 >> 16)
	}
	if len(data)%2 == 1 {
		sum1 += uint32(data[len(data)-1]) << 8
		sum2 += sum1
		sum1 = (sum1 & 0xffff) + (sum1 >> 16)
		sum2 = (sum2 & 0xffff) + (sum2 >> 16)
	}
	sum1 = (sum1 & 0xffff) + (sum1 >> 16)
	sum2 = (sum2 & 0xffff) + (sum2 >> 16)
	return sum2<<16 | sum1
}

// swapWordBytes swaps the bytes within each 16-bit half.
func swapWordBytes(v uint32) uint32 {
	return (v&0x00ff00ff)<<8 | (v>>8)&0x00ff00ff
}
