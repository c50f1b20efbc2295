package hdf5

import (
	"fmt"

	"github.com/scigolib/h5catalog/internal/core"
	"github.com/scigolib/h5catalog/internal/filter"
	"github.com/scigolib/h5catalog/internal/structures"
	"github.com/scigolib/h5catalog/internal/utils"
)

// selection lists, per axis, the selected coordinates in ascending order.
// Elements are produced in row-major order over the selected coordinates.
type selection [][]uint64

func (s selection) count() uint64 {
	n := uint64(1)
	for _, axis := range s {
		n *= uint64(len(axis))
	}
	return n
}

// linear returns the row-major index of coords in an array of shape dims.
func linear(coords, dims []uint64) uint64 {
	var idx uint64
	for i, c := range coords {
		idx = idx*dims[i] + c
	}
	return idx
}

// gridShape returns the number of chunks along each axis.
func gridShape(dims, chunk []uint64) []uint64 {
	grid := make([]uint64, len(dims))
	for i := range dims {
		if dims[i] > 0 {
			grid[i] = (dims[i]-1)/chunk[i] + 1
		}
	}
	return grid
}

func empty(count []uint64) bool {
	for _, c := range count {
		if c == 0 {
			return true
		}
	}
	return false
}

// checkSelection rejects a selection of count elements per axis before any
// per-axis coordinate list is built. Coordinates cost eight bytes each, so
// narrow types are charged at that rate.
func (d *Dataset) checkSelection(count []uint64) error {
	if _, err := utils.ByteCount(count, max(uint64(d.dtype.Size), 8), utils.MaxReadSize); err != nil {
		return fmt.Errorf("%s: selection of %v elements too large: %w", d.path, count, err)
	}
	return nil
}

// odometer advances idx through the row-major product of limits and
// reports false after the last combination.
func odometer(idx, limits []int) bool {
	for a := len(idx) - 1; a >= 0; a-- {
		idx[a]++
		if idx[a] < limits[a] {
			return true
		}
		idx[a] = 0
	}
	return false
}

// readAll returns the storage of a scalar or null dataset.
func (d *Dataset) readAll() ([]byte, error) {
	if d.layoutErr != nil {
		return nil, utils.WrapError(d.path, d.layoutErr)
	}
	n := d.NumElements()
	if n == 0 {
		return []byte{}, nil
	}
	src, err := d.contiguous(n)
	if err != nil {
		return nil, err
	}
	return src[:n*uint64(d.dtype.Size)], nil
}

// readSelection gathers the selected elements of a simple dataspace.
func (d *Dataset) readSelection(sel selection) ([]byte, error) {
	if d.layoutErr != nil {
		return nil, utils.WrapError(d.path, d.layoutErr)
	}
	size := uint64(d.dtype.Size)
	n := sel.count()
	total, err := utils.SafeMultiply(n, size)
	if err != nil || total > utils.MaxReadSize {
		return nil, fmt.Errorf("%s: selection of %d elements too large", d.path, n)
	}
	out := make([]byte, total)
	if n == 0 {
		return out, nil
	}

	if d.layout.Class == core.LayoutChunked {
		if err := d.readChunked(sel, out); err != nil {
			return nil, utils.WrapError(d.path, err)
		}
		return out, nil
	}

	dims := d.space.Dims
	src, err := d.contiguous(d.NumElements())
	if err != nil {
		return nil, err
	}
	rank := len(sel)
	pos := make([]int, rank)
	limits := make([]int, rank)
	for a := range sel {
		limits[a] = len(sel[a])
	}
	coords := make([]uint64, rank)
	for o := uint64(0); ; o++ {
		for a := range pos {
			coords[a] = sel[a][pos[a]]
		}
		lin := linear(coords, dims)
		copy(out[o*size:(o+1)*size], src[lin*size:(lin+1)*size])
		if !odometer(pos, limits) {
			break
		}
	}
	return out, nil
}

// contiguous returns the bytes of a compact or contiguous dataset of n
// elements. Unallocated storage reads as the fill value.
func (d *Dataset) contiguous(n uint64) ([]byte, error) {
	total, err := utils.SafeMultiply(n, uint64(d.dtype.Size))
	if err != nil || total > utils.MaxReadSize {
		return nil, fmt.Errorf("%s: %d elements too large to read", d.path, n)
	}
	l := d.layout
	switch l.Class {
	case core.LayoutCompact:
		if uint64(len(l.CompactData)) < total {
			return nil, utils.WrapError(d.path, fmt.Errorf("compact data of %d bytes, need %d: %w", len(l.CompactData), total, utils.ErrTruncated))
		}
		return l.CompactData, nil
	case core.LayoutContiguous:
		if d.file.r.Undefined(l.Address) {
			return d.fillBuffer(total), nil
		}
		data, err := d.file.r.ReadAt(l.Address, total)
		if err != nil {
			return nil, utils.WrapErrorAt(d.path+" contiguous data", l.Address, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("%s: layout %s: %w", d.path, l.Class, core.ErrUnsupported)
}

// fillBuffer returns n bytes of repeated fill value, or zeros.
func (d *Dataset) fillBuffer(n uint64) []byte {
	buf := make([]byte, n)
	if d.fill == nil || !d.fill.Defined || len(d.fill.Value) != int(d.dtype.Size) {
		return buf
	}
	for i := 0; i < len(buf); i += len(d.fill.Value) {
		copy(buf[i:], d.fill.Value)
	}
	return buf
}

// span is the run of selected positions [from, to) on one axis that falls
// in chunk coordinate chunk.
type span struct {
	chunk    uint64
	from, to int
}

func (d *Dataset) readChunked(sel selection, out []byte) error {
	l := d.layout
	dims, cdims := d.space.Dims, l.ChunkDims
	rank := len(cdims)
	size := uint64(d.dtype.Size)
	grid := gridShape(dims, cdims)

	chunkBytes, err := l.ChunkBytes()
	if err != nil {
		return err
	}
	index, err := d.chunkIndex(grid, chunkBytes)
	if err != nil {
		return err
	}
	pipeline := filter.NewPipeline(d.filters, d.dtype.Size)

	spans := make([][]span, rank)
	for a := range sel {
		for i, c := range sel[a] {
			cc := c / cdims[a]
			if n := len(spans[a]); n > 0 && spans[a][n-1].chunk == cc {
				spans[a][n-1].to = i + 1
				continue
			}
			spans[a] = append(spans[a], span{chunk: cc, from: i, to: i + 1})
		}
	}

	// Row-major strides of the output.
	outStride := make([]uint64, rank)
	stride := uint64(1)
	for a := rank - 1; a >= 0; a-- {
		outStride[a] = stride
		stride *= uint64(len(sel[a]))
	}

	pick := make([]int, rank)
	pickLimits := make([]int, rank)
	for a := range spans {
		pickLimits[a] = len(spans[a])
	}
	gc := make([]uint64, rank)
	pos := make([]int, rank)
	posLimits := make([]int, rank)
	local := make([]uint64, rank)
	for {
		for a := range pick {
			gc[a] = spans[a][pick[a]].chunk
		}
		rec, ok := index[linear(gc, grid)]
		data, err := d.chunkData(rec, ok, chunkBytes, pipeline)
		if err != nil {
			return fmt.Errorf("chunk %v: %w", gc, err)
		}

		for a := range pos {
			s := spans[a][pick[a]]
			pos[a] = 0
			posLimits[a] = s.to - s.from
		}
		for {
			var o uint64
			for a := range pos {
				p := spans[a][pick[a]].from + pos[a]
				o += uint64(p) * outStride[a]
				local[a] = sel[a][p] - gc[a]*cdims[a]
			}
			li := linear(local, cdims)
			copy(out[o*size:(o+1)*size], data[li*size:(li+1)*size])
			if !odometer(pos, posLimits) {
				break
			}
		}
		if !odometer(pick, pickLimits) {
			return nil
		}
	}
}

// chunkIndex maps the row-major chunk grid index of every allocated chunk
// to its record.
func (d *Dataset) chunkIndex(grid []uint64, chunkBytes uint64) (map[uint64]structures.ChunkRecord, error) {
	l := d.layout
	r := d.file.r
	index := map[uint64]structures.ChunkRecord{}
	if r.Undefined(l.Address) {
		return index, nil
	}

	var (
		records []structures.ChunkRecord
		err     error
	)
	switch l.IndexType {
	case core.ChunkIndexBTreeV1:
		records, err = structures.CollectChunksBTreeV1(r, l.Address, len(l.ChunkDims))
	case core.ChunkIndexSingle:
		rec := structures.ChunkRecord{Index: 0, Address: l.Address}
		if l.SingleFiltered {
			rec.Size, rec.FilterMask = l.SingleChunkSize, l.SingleFilterMask
		}
		records = append(records, rec)
	case core.ChunkIndexImplicit:
		total, err := utils.ElementCount(grid)
		if err != nil {
			return nil, err
		}
		if total > r.Size()/chunkBytes {
			return nil, fmt.Errorf("implicit index of %d chunks of %d bytes exceeds file size %d: %w",
				total, chunkBytes, r.Size(), utils.ErrTruncated)
		}
		for i := uint64(0); i < total; i++ {
			records = append(records, structures.ChunkRecord{Index: int64(i), Address: l.Address + i*chunkBytes}) //nolint:gosec // G115: bounded by ElementCount
		}
	case core.ChunkIndexFixedArray:
		records, err = structures.CollectChunksFixedArray(r, l.Address)
	case core.ChunkIndexBTreeV2:
		records, err = structures.CollectChunksBTreeV2(r, l.Address, l.ChunkDims)
	default:
		return nil, fmt.Errorf("chunk index %d: %w", l.IndexType, core.ErrUnsupported)
	}
	if err != nil {
		return nil, err
	}

	gc := make([]uint64, len(grid))
	for _, rec := range records {
		if rec.Index >= 0 {
			index[uint64(rec.Index)] = rec
			continue
		}
		for a, off := range rec.Offset {
			gc[a] = off / l.ChunkDims[a]
			if gc[a] >= grid[a] {
				return nil, fmt.Errorf("chunk at %v outside dataset %v", rec.Offset, d.space.Dims)
			}
		}
		index[linear(gc, grid)] = rec
	}
	return index, nil
}

// chunkData returns the decoded bytes of one full chunk.
func (d *Dataset) chunkData(rec structures.ChunkRecord, ok bool, chunkBytes uint64, p *filter.Pipeline) ([]byte, error) {
	if !ok {
		return d.fillBuffer(chunkBytes), nil
	}
	size := rec.Size
	if size == 0 || p.Len() == 0 {
		size = chunkBytes
	}
	data, err := d.file.r.ReadAt(rec.Address, size)
	if err != nil {
		return nil, err
	}
	if p.Len() > 0 {
		if data, err = p.Remove(data, rec.FilterMask); err != nil {
			return nil, err
		}
	}
	if uint64(len(data)) < chunkBytes {
		return nil, fmt.Errorf("decoded %d bytes, want %d: %w", len(data), chunkBytes, utils.ErrTruncated)
	}
	return data, nil
}
