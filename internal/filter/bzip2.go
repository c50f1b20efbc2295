package filter

import (
	"bytes"
	"compress/bzip2"
	"fmt"
	"io"

	"github.com/scigolib/h5catalog/internal/core"
	"github.com/scigolib/h5catalog/internal/utils"
)

// BZIP2Filter implements the bzip2 filter (ID 307) from the HDF5 plugin
// collection. Only decompression is available.
type BZIP2Filter struct {
	blockSize int
}

// NewBZIP2Filter creates a bzip2 filter; blockSize is in 100 kB units.
func NewBZIP2Filter(blockSize int) *BZIP2Filter {
	if blockSize < 1 || blockSize > 9 {
		blockSize = 9
	}
	return &BZIP2Filter{blockSize: blockSize}
}

// ID returns core.FilterBZIP2.
func (f *BZIP2Filter) ID() core.FilterID {
	return core.FilterBZIP2
}

// Name returns "bzip2".
func (f *BZIP2Filter) Name() string {
	return "bzip2"
}

// Apply is not available: there is no bzip2 compressor in the toolchain.
func (f *BZIP2Filter) Apply(_ []byte) ([]byte, error) {
	return nil, fmt.Errorf("bzip2 compression: %w", core.ErrUnsupported)
}

// Remove decompresses data.
func (f *BZIP2Filter) Remove(data []byte) ([]byte, error) {
	out, err := io.ReadAll(io.LimitReader(bzip2.NewReader(bytes.NewReader(data)), utils.MaxChunkSize+1))
	if err != nil {
		return nil, fmt.Errorf("bzip2: %w", err)
	}
	return out, nil
}

// Encode records the block size.
func (f *BZIP2Filter) Encode() (flags uint16, cdValues []uint32) {
	return 0, []uint32{uint32(f.blockSize)} //nolint:gosec // G115: 1-9
}
