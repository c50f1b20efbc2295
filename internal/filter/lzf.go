package filter

import (
	"errors"
	"fmt"

	"github.com/scigolib/h5catalog/internal/core"
)

// LZFFilter implements the LZF filter (ID 32000) registered by h5py and
// PyTables. Client data slot 2, when present, holds the chunk size.
type LZFFilter struct{}

// NewLZFFilter creates an LZF filter.
func NewLZFFilter() *LZFFilter {
	return &LZFFilter{}
}

// ID returns core.FilterLZF.
func (f *LZFFilter) ID() core.FilterID {
	return core.FilterLZF
}

// Name returns "lzf".
func (f *LZFFilter) Name() string {
	return "lzf"
}

// Apply encodes data as a sequence of literal runs. The output is a
// valid LZF stream; back-references are never emitted.
func (f *LZFFilter) Apply(data []byte) ([]byte, error) {
	out := make([]byte, 0, len(data)+len(data)/32+1)
	for len(data) > 0 {
		n := min(len(data), 32)
		out = append(out, byte(n-1))
		out = append(out, data[:n]...)
		data = data[n:]
	}
	return out, nil
}

// Remove decompresses an LZF stream.
//
// Control byte layout:
//   - 000LLLLL: literal run of L+1 bytes
//   - LLLOOOOO OOOOOOOO: back-reference of L+2 bytes, offset O+1
//   - 111OOOOO LLLLLLLL OOOOOOOO: long back-reference of L+9 bytes
func (f *LZFFilter) Remove(data []byte) ([]byte, error) {
	out := make([]byte, 0, len(data)*2)
	in := 0
	for in < len(data) {
		ctrl := data[in]
		in++

		if ctrl < 0x20 {
			n := int(ctrl) + 1
			if in+n > len(data) {
				return nil, errors.New("lzf: truncated literal run")
			}
			out = append(out, data[in:in+n]...)
			in += n
			continue
		}

		n := int(ctrl >> 5)
		if n == 7 {
			if in >= len(data) {
				return nil, errors.New("lzf: truncated long back-reference")
			}
			n += int(data[in])
			in++
		}
		n += 2
		if in >= len(data) {
			return nil, errors.New("lzf: truncated back-reference")
		}
		offset := (int(ctrl&0x1F)<<8 | int(data[in])) + 1
		in++
		if offset > len(out) {
			return nil, fmt.Errorf("lzf: back-reference offset %d beyond output of %d bytes", offset, len(out))
		}
		// Source and destination may overlap.
		src := len(out) - offset
		for i := 0; i < n; i++ {
			out = append(out, out[src+i])
		}
	}
	return out, nil
}

// Encode returns the h5py client data layout (version, LZF version, size).
func (f *LZFFilter) Encode() (flags uint16, cdValues []uint32) {
	return 0, []uint32{4, 1, 0}
}
