package hdf5

import (
	"fmt"

	"github.com/scigolib/h5catalog/internal/utils"
)

// HyperslabSelection is a rectangular, optionally strided selection.
//
// Along each axis it selects Count blocks of Block elements, the first
// starting at Start and each next one Stride elements further. Nil Stride
// and Block default to all ones, which makes Count the number of
// consecutive elements.
type HyperslabSelection struct {
	Start  []uint64
	Count  []uint64
	Stride []uint64
	Block  []uint64
}

// NumElements returns the number of selected elements.
func (s *HyperslabSelection) NumElements() uint64 {
	n := uint64(1)
	for i, c := range s.Count {
		b := uint64(1)
		if s.Block != nil {
			b = s.Block[i]
		}
		n *= c * b
	}
	return n
}

// ReadSlice reads the block of count elements per axis starting at start.
//
//	// 50x50 elements from row 100, column 200
//	v, err := ds.ReadSlice([]uint64{100, 200}, []uint64{50, 50})
func (d *Dataset) ReadSlice(start, count []uint64) (any, error) {
	return d.ReadHyperslab(&HyperslabSelection{Start: start, Count: count})
}

// ReadSliceRaw is ReadSlice without decoding.
func (d *Dataset) ReadSliceRaw(start, count []uint64) ([]byte, error) {
	return d.ReadHyperslabRaw(&HyperslabSelection{Start: start, Count: count})
}

// ReadHyperslab reads and decodes the selected elements in row-major order.
func (d *Dataset) ReadHyperslab(sel *HyperslabSelection) (any, error) {
	raw, err := d.ReadHyperslabRaw(sel)
	if err != nil {
		return nil, err
	}
	return d.decode(raw, sel.NumElements())
}

// ReadHyperslabRaw returns the selected elements as stored.
func (d *Dataset) ReadHyperslabRaw(sel *HyperslabSelection) ([]byte, error) {
	s, err := d.expand(sel)
	if err != nil {
		return nil, err
	}
	return d.readSelection(s)
}

// readBox reads a start/count block without validation overhead for
// callers that built it from the dataset shape.
func (d *Dataset) readBox(start, count []uint64) ([]byte, error) {
	if d.layoutErr != nil {
		return nil, utils.WrapError(d.path, d.layoutErr)
	}
	if err := d.checkSelection(count); err != nil {
		return nil, err
	}
	if empty(count) {
		return []byte{}, nil
	}
	s := make(selection, len(start))
	for a := range start {
		s[a] = make([]uint64, count[a])
		for i := range s[a] {
			s[a][i] = start[a] + uint64(i)
		}
	}
	return d.readSelection(s)
}

// expand validates sel against the dataset shape and lists the selected
// coordinates of every axis.
func (d *Dataset) expand(sel *HyperslabSelection) (selection, error) {
	if sel == nil {
		return nil, fmt.Errorf("%s: nil selection", d.path)
	}
	dims := d.space.Dims
	rank := len(dims)
	if len(sel.Start) != rank || len(sel.Count) != rank ||
		(sel.Stride != nil && len(sel.Stride) != rank) || (sel.Block != nil && len(sel.Block) != rank) {
		return nil, fmt.Errorf("%s: selection rank does not match dataset rank %d", d.path, rank)
	}

	strides, blocks := make([]uint64, rank), make([]uint64, rank)
	extent := make([]uint64, rank)
	for a := 0; a < rank; a++ {
		stride, block := uint64(1), uint64(1)
		if sel.Stride != nil {
			stride = sel.Stride[a]
		}
		if sel.Block != nil {
			block = sel.Block[a]
		}
		start, count := sel.Start[a], sel.Count[a]
		switch {
		case stride == 0 || block == 0:
			return nil, fmt.Errorf("%s: axis %d: stride and block must be positive", d.path, a)
		case count > 1 && block > stride:
			return nil, fmt.Errorf("%s: axis %d: block %d overlaps stride %d", d.path, a, block, stride)
		case count == 0:
			continue
		}
		reach, err := utils.SafeMultiply(count-1, stride)
		last := start + reach + block - 1
		if err != nil || last < start || last >= dims[a] {
			return nil, fmt.Errorf("%s: axis %d: selection ends at %d, dimension is %d", d.path, a, last, dims[a])
		}
		strides[a], blocks[a] = stride, block
		extent[a] = count * block
	}
	if err := d.checkSelection(extent); err != nil {
		return nil, err
	}

	s := make(selection, rank)
	if empty(extent) {
		return s, nil
	}
	for a := 0; a < rank; a++ {
		start, count, stride, block := sel.Start[a], sel.Count[a], strides[a], blocks[a]
		if count == 0 {
			continue
		}
		coords := make([]uint64, 0, extent[a])
		for c := uint64(0); c < count; c++ {
			for b := uint64(0); b < block; b++ {
				coords = append(coords, start+c*stride+b)
			}
		}
		s[a] = coords
	}
	return s, nil
}

// ChunkCoverage returns the element box covered by chunk coordinates
// coords, clipped to the dataset shape. For unchunked datasets the only
// block is all zeros and covers the whole dataset.
func (d *Dataset) ChunkCoverage(coords []uint64) (start, count []uint64, err error) {
	dims := d.space.Dims
	if len(coords) != len(dims) {
		return nil, nil, fmt.Errorf("%s: block has %d coordinates, dataset rank is %d", d.path, len(coords), len(dims))
	}
	chunk := d.ChunkShape()
	if chunk == nil {
		chunk = dims
	}
	start = make([]uint64, len(dims))
	count = make([]uint64, len(dims))
	for a := range dims {
		if dims[a] == 0 {
			if coords[a] != 0 {
				return nil, nil, fmt.Errorf("%s: block %v outside the chunk grid", d.path, coords)
			}
			continue
		}
		if chunk[a] == 0 || coords[a] >= (dims[a]-1)/chunk[a]+1 {
			return nil, nil, fmt.Errorf("%s: block %v outside the chunk grid", d.path, coords)
		}
		start[a] = coords[a] * chunk[a]
		count[a] = min(chunk[a], dims[a]-start[a])
	}
	return start, count, nil
}
