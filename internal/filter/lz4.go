package filter

import (
	"encoding/binary"
	"fmt"

	"github.com/pierrec/lz4/v4"

	"github.com/scigolib/h5catalog/internal/core"
	"github.com/scigolib/h5catalog/internal/utils"
)

// defaultLZ4Block is the block size the HDF5 LZ4 plugin uses when the
// client data does not set one.
const defaultLZ4Block = 1 << 30

// LZ4Filter implements the LZ4 filter (ID 32004).
//
// Stream format (all integers big-endian):
//   - Original size (8 bytes)
//   - Block size (4 bytes)
//   - Per block: compressed size (4 bytes) and data. A block whose
//     compressed size equals its original size is stored raw.
type LZ4Filter struct {
	blockSize int
}

// NewLZ4Filter creates an LZ4 filter; blockSize 0 selects the default.
func NewLZ4Filter(blockSize int) *LZ4Filter {
	if blockSize <= 0 {
		blockSize = defaultLZ4Block
	}
	return &LZ4Filter{blockSize: blockSize}
}

// ID returns core.FilterLZ4.
func (f *LZ4Filter) ID() core.FilterID {
	return core.FilterLZ4
}

// Name returns "lz4".
func (f *LZ4Filter) Name() string {
	return "lz4"
}

// Apply compresses data block by block.
func (f *LZ4Filter) Apply(data []byte) ([]byte, error) {
	block := min(f.blockSize, max(len(data), 1))
	out := binary.BigEndian.AppendUint64(nil, uint64(len(data)))
	out = binary.BigEndian.AppendUint32(out, uint32(block)) //nolint:gosec // G115: bounded by defaultLZ4Block

	dst := make([]byte, lz4.CompressBlockBound(block))
	for len(data) > 0 {
		src := data[:min(block, len(data))]
		data = data[len(src):]
		n, err := lz4.CompressBlock(src, dst, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if n == 0 || n >= len(src) {
			out = binary.BigEndian.AppendUint32(out, uint32(len(src))) //nolint:gosec // G115: bounded by block
			out = append(out, src...)
			continue
		}
		out = binary.BigEndian.AppendUint32(out, uint32(n)) //nolint:gosec // G115: bounded by block bound
		out = append(out, dst[:n]...)
	}
	return out, nil
}

// Remove decompresses data.
func (f *LZ4Filter) Remove(data []byte) ([]byte, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("lz4 header: %w", utils.ErrTruncated)
	}
	total := binary.BigEndian.Uint64(data[0:8])
	block := uint64(binary.BigEndian.Uint32(data[8:12]))
	if total > utils.MaxChunkSize {
		return nil, fmt.Errorf("lz4: original size %d exceeds chunk limit", total)
	}
	if block == 0 {
		block = total
	}
	in := data[12:]
	out := make([]byte, total)
	pos := uint64(0)
	for pos < total {
		if len(in) < 4 {
			return nil, fmt.Errorf("lz4 block header: %w", utils.ErrTruncated)
		}
		csize := uint64(binary.BigEndian.Uint32(in[0:4]))
		in = in[4:]
		want := min(block, total-pos)
		if csize > uint64(len(in)) {
			return nil, fmt.Errorf("lz4 block of %d bytes: %w", csize, utils.ErrTruncated)
		}
		src := in[:csize]
		in = in[csize:]
		if csize == want {
			copy(out[pos:], src)
		} else {
			n, err := lz4.UncompressBlock(src, out[pos:pos+want])
			if err != nil {
				return nil, fmt.Errorf("lz4 decompress: %w", err)
			}
			if uint64(n) != want {
				return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", n, want)
			}
		}
		pos += want
	}
	return out, nil
}

// Encode records the block size.
func (f *LZ4Filter) Encode() (flags uint16, cdValues []uint32) {
	return 0, []uint32{uint32(f.blockSize)} //nolint:gosec // G115: positive int
}
