package filter

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/scigolib/h5catalog/internal/core"
	"github.com/scigolib/h5catalog/internal/utils"
)

// DefaultDeflateLevel is the level h5py uses for compression="gzip".
const DefaultDeflateLevel = 4

// DeflateFilter implements the deflate filter (ID 1). HDF5 stores a zlib
// stream, header and Adler-32 trailer included.
type DeflateFilter struct {
	level int
}

// NewDeflateFilter creates a deflate filter with the given level (1-9).
func NewDeflateFilter(level int) *DeflateFilter {
	if level < 1 || level > 9 {
		level = DefaultDeflateLevel
	}
	return &DeflateFilter{level: level}
}

// ID returns core.FilterDeflate.
func (f *DeflateFilter) ID() core.FilterID {
	return core.FilterDeflate
}

// Name returns "deflate".
func (f *DeflateFilter) Name() string {
	return "deflate"
}

// Apply compresses data.
func (f *DeflateFilter) Apply(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, f.level)
	if err != nil {
		return nil, fmt.Errorf("zlib writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("deflate: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("deflate close: %w", err)
	}
	return buf.Bytes(), nil
}

// Remove inflates data.
func (f *DeflateFilter) Remove(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("zlib header: %w", err)
	}
	defer func() { _ = r.Close() }()

	out, err := io.ReadAll(io.LimitReader(r, utils.MaxChunkSize+1))
	if err != nil {
		return nil, fmt.Errorf("inflate: %w", err)
	}
	return out, nil
}

// Encode records the compression level.
func (f *DeflateFilter) Encode() (flags uint16, cdValues []uint32) {
	return 0, []uint32{uint32(f.level)} //nolint:gosec // G115: level is 1-9
}
