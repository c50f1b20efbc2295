package filter

import (
	"github.com/scigolib/h5catalog/internal/core"
)

// ShuffleFilter implements the byte shuffle filter (ID 2).
//
// Shuffle stores byte 0 of every element, then byte 1 of every element,
// and so on, which groups slowly varying high-order bytes for the
// compressor that follows. Trailing bytes that do not form a whole
// element are stored unchanged.
type ShuffleFilter struct {
	elementSize uint32
}

// NewShuffleFilter creates a shuffle filter for elements of elementSize bytes.
func NewShuffleFilter(elementSize uint32) *ShuffleFilter {
	return &ShuffleFilter{elementSize: elementSize}
}

// ID returns core.FilterShuffle.
func (f *ShuffleFilter) ID() core.FilterID {
	return core.FilterShuffle
}

// Name returns "shuffle".
func (f *ShuffleFilter) Name() string {
	return "shuffle"
}

// Apply shuffles data.
func (f *ShuffleFilter) Apply(data []byte) ([]byte, error) {
	size := int(f.elementSize)
	if size <= 1 || len(data) < size {
		return data, nil
	}
	n := len(data) / size
	out := make([]byte, len(data))
	for b := 0; b < size; b++ {
		for e := 0; e < n; e++ {
			out[b*n+e] = data[e*size+b]
		}
	}
	copy(out[n*size:], data[n*size:])
	return out, nil
}

// Remove unshuffles data.
func (f *ShuffleFilter) Remove(data []byte) ([]byte, error) {
	size := int(f.elementSize)
	if size <= 1 || len(data) < size {
		return data, nil
	}
	n := len(data) / size
	out := make([]byte, len(data))
	for b := 0; b < size; b++ {
		for e := 0; e < n; e++ {
			out[e*size+b] = data[b*n+e]
		}
	}
	copy(out[n*size:], data[n*size:])
	return out, nil
}

// Encode records the element size.
func (f *ShuffleFilter) Encode() (flags uint16, cdValues []uint32) {
	return 0, []uint32{f.elementSize}
}
