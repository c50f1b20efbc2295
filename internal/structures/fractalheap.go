package structures

import (
	"fmt"
	"math/bits"

	"github.com/scigolib/h5catalog/internal/core"
	"github.com/scigolib/h5catalog/internal/utils"
)

// Heap ID types (bits 4-5 of the first ID byte).
const (
	heapIDManaged = 0
	heapIDHuge    = 1
	heapIDTiny    = 2
)

// fractalHeapDirectChecksum is the header flag for checksummed direct blocks.
const fractalHeapDirectChecksum = 0x02

// FractalHeap is a read-only fractal heap: the storage behind dense links
// and dense attributes. Managed objects live in direct blocks reached
// through a doubling table of indirect blocks; tiny objects live in the
// heap ID itself.
type FractalHeap struct {
	Address uint64

	HeapIDLen         uint16
	IOFiltersLen      uint16
	Flags             uint8
	MaxManagedObjSize uint32

	TableWidth         uint16
	StartingBlockSize  uint64
	MaxDirectBlockSize uint64
	MaxHeapSize        uint16 // bits
	StartingRowCount   uint16
	RootBlockAddress   uint64
	CurrentRowCount    uint16

	heapOffsetSize int
	heapLengthSize int
	maxDirectRows  int

	r *core.Reader
}

// OpenFractalHeap reads the "FRHP" header at address.
//
// Header format: signature, version 0, heap ID length (2), I/O filter
// length (2), flags (1), max managed object size (4), twelve
// statistics/bookkeeping fields, table width (2), starting and maximum
// direct block sizes, max heap size in bits (2), starting row count (2),
// root block address, current row count (2), optional filter
// information, checksum (4).
func OpenFractalHeap(r *core.Reader, address uint64) (*FractalHeap, error) {
	osz, lsz := uint64(r.OffsetSize()), uint64(r.LengthSize())
	size := 4 + 1 + 2 + 2 + 1 + 4 + // prefix
		lsz + osz + lsz + osz + 8*lsz + // huge/free-space/managed/huge/tiny statistics
		2 + lsz + lsz + 2 + 2 + osz + 2
	buf, err := r.ReadAt(address, size)
	if err != nil {
		return nil, utils.WrapErrorAt("fractal heap header read failed", address, err)
	}

	d := r.Decoder(buf)
	d.Signature("FRHP")
	version := d.Uint8()
	fh := &FractalHeap{
		Address:           address,
		HeapIDLen:         d.Uint16(),
		IOFiltersLen:      d.Uint16(),
		Flags:             d.Uint8(),
		MaxManagedObjSize: d.Uint32(),
		r:                 r,
	}
	d.Length() // next huge object ID
	d.Offset() // huge object B-tree
	d.Length() // free space
	d.Offset() // free-space manager
	for range 8 {
		d.Length() // managed, allocated, iterator, and object counts
	}
	fh.TableWidth = d.Uint16()
	fh.StartingBlockSize = d.Length()
	fh.MaxDirectBlockSize = d.Length()
	fh.MaxHeapSize = d.Uint16()
	fh.StartingRowCount = d.Uint16()
	fh.RootBlockAddress = d.Offset()
	fh.CurrentRowCount = d.Uint16()
	if err := d.Err(); err != nil {
		return nil, utils.WrapErrorAt("fractal heap header", address, err)
	}
	if version != 0 {
		return nil, utils.WrapErrorAt("fractal heap header", address, fmt.Errorf("version %d: %w", version, core.ErrUnsupported))
	}

	// The checksum follows the optional filter information.
	extra := uint64(4)
	if fh.IOFiltersLen > 0 {
		extra += lsz + 4 + uint64(fh.IOFiltersLen)
	}
	full, err := r.ReadAt(address, size+extra)
	if err != nil {
		return nil, utils.WrapErrorAt("fractal heap header read failed", address, err)
	}
	if err := core.VerifyChecksum(full, "fractal heap header"); err != nil {
		return nil, utils.WrapErrorAt("fractal heap header", address, err)
	}

	if err := fh.validate(); err != nil {
		return nil, utils.WrapErrorAt("fractal heap header", address, err)
	}
	return fh, nil
}

func isPow2(v uint64) bool {
	return v != 0 && v&(v-1) == 0
}

func log2(v uint64) int {
	return bits.Len64(v) - 1
}

func (fh *FractalHeap) validate() error {
	if fh.TableWidth == 0 || !isPow2(uint64(fh.TableWidth)) {
		return fmt.Errorf("table width %d is not a power of two", fh.TableWidth)
	}
	if !isPow2(fh.StartingBlockSize) || !isPow2(fh.MaxDirectBlockSize) || fh.MaxDirectBlockSize < fh.StartingBlockSize {
		return fmt.Errorf("invalid block sizes %d..%d", fh.StartingBlockSize, fh.MaxDirectBlockSize)
	}
	if fh.MaxHeapSize == 0 || fh.MaxHeapSize > 64 {
		return fmt.Errorf("max heap size of %d bits", fh.MaxHeapSize)
	}
	fh.heapOffsetSize = (int(fh.MaxHeapSize) + 7) / 8
	fh.heapLengthSize = min((log2(fh.MaxDirectBlockSize)+7)/8, limitEncSize(uint64(fh.MaxManagedObjSize)))
	fh.maxDirectRows = log2(fh.MaxDirectBlockSize) - log2(fh.StartingBlockSize) + 2
	return nil
}

// rowBlockSize returns the size of each block in row.
func (fh *FractalHeap) rowBlockSize(row int) uint64 {
	if row == 0 {
		return fh.StartingBlockSize
	}
	return fh.StartingBlockSize << uint(row-1)
}

// ReadObject returns the object named by a heap ID.
func (fh *FractalHeap) ReadObject(id []byte) ([]byte, error) {
	if len(id) == 0 {
		return nil, fmt.Errorf("empty heap ID")
	}
	if v := id[0] >> 6; v != 0 {
		return nil, fmt.Errorf("heap ID version %d: %w", v, core.ErrUnsupported)
	}

	switch (id[0] >> 4) & 0x03 {
	case heapIDManaged:
		return fh.readManaged(id)
	case heapIDTiny:
		return fh.readTiny(id)
	case heapIDHuge:
		return nil, fmt.Errorf("huge fractal heap object: %w", core.ErrUnsupported)
	default:
		return nil, fmt.Errorf("invalid heap ID type in 0x%02x", id[0])
	}
}

func (fh *FractalHeap) readTiny(id []byte) ([]byte, error) {
	var n int
	var data []byte
	if fh.HeapIDLen <= 18 {
		n = int(id[0]&0x0F) + 1
		data = id[1:]
	} else {
		if len(id) < 2 {
			return nil, utils.ErrTruncated
		}
		n = (int(id[0]&0x0F)<<8 | int(id[1])) + 1
		data = id[2:]
	}
	if n > len(data) {
		return nil, fmt.Errorf("tiny object of %d bytes in %d-byte ID: %w", n, len(id), utils.ErrTruncated)
	}
	return data[:n], nil
}

func (fh *FractalHeap) readManaged(id []byte) ([]byte, error) {
	if fh.IOFiltersLen > 0 {
		return nil, fmt.Errorf("filtered fractal heap: %w", core.ErrUnsupported)
	}
	d := utils.NewDecoder(id[1:], 8, 8)
	offset := d.UintN(fh.heapOffsetSize)
	length := d.UintN(fh.heapLengthSize)
	if err := d.Err(); err != nil {
		return nil, utils.WrapError("heap ID", err)
	}
	if length == 0 || length > uint64(fh.MaxManagedObjSize) {
		return nil, fmt.Errorf("managed object length %d out of range", length)
	}
	if fh.RootBlockAddress == utils.UndefinedAddress {
		return nil, fmt.Errorf("managed object in empty heap")
	}

	blockAddr, blockOffset, blockSize, err := fh.locate(offset)
	if err != nil {
		return nil, err
	}
	rel := offset - blockOffset
	prefix := uint64(5 + fh.r.OffsetSize() + fh.heapOffsetSize)
	if fh.Flags&fractalHeapDirectChecksum != 0 {
		prefix += 4
	}
	if rel < prefix {
		return nil, fmt.Errorf("managed object at heap offset %d overlaps the direct block header", offset)
	}
	if rel+length > blockSize {
		return nil, fmt.Errorf("managed object at heap offset %d (length %d) crosses its direct block", offset, length)
	}
	if err := fh.checkDirectBlock(blockAddr, blockOffset); err != nil {
		return nil, err
	}
	data, err := fh.r.ReadAt(blockAddr+rel, length)
	if err != nil {
		return nil, utils.WrapErrorAt("fractal heap object read failed", blockAddr, err)
	}
	return data, nil
}

// checkDirectBlock validates the "FHDB" prefix of a direct block.
func (fh *FractalHeap) checkDirectBlock(address, blockOffset uint64) error {
	buf, err := fh.r.ReadAt(address, uint64(5+fh.r.OffsetSize()+fh.heapOffsetSize))
	if err != nil {
		return utils.WrapErrorAt("fractal heap direct block read failed", address, err)
	}
	d := fh.r.Decoder(buf)
	d.Signature("FHDB")
	d.Uint8()
	heap := d.Offset()
	off := d.UintN(fh.heapOffsetSize)
	if err := d.Err(); err != nil {
		return utils.WrapErrorAt("fractal heap direct block", address, err)
	}
	if heap != fh.Address || off != blockOffset {
		return utils.WrapErrorAt("fractal heap direct block", address,
			fmt.Errorf("belongs to heap 0x%x at offset %d, expected 0x%x at %d", heap, off, fh.Address, blockOffset))
	}
	return nil
}

// locate maps a heap-space offset to the direct block holding it,
// returning the block address, its heap offset and its size.
func (fh *FractalHeap) locate(offset uint64) (addr, blockOffset, size uint64, err error) {
	if fh.CurrentRowCount == 0 {
		if offset >= fh.StartingBlockSize {
			return 0, 0, 0, fmt.Errorf("heap offset %d beyond root direct block", offset)
		}
		return fh.RootBlockAddress, 0, fh.StartingBlockSize, nil
	}

	block, base, nrows := fh.RootBlockAddress, uint64(0), int(fh.CurrentRowCount)
	for depth := 0; depth < maxBTreeDepth; depth++ {
		children, err := fh.readIndirectBlock(block, base, nrows)
		if err != nil {
			return 0, 0, 0, err
		}

		rel := offset - base
		width := uint64(fh.TableWidth)
		found := false
		for row := 0; row < nrows; row++ {
			rowSize := fh.rowBlockSize(row)
			span := width * rowSize
			if rel >= span {
				rel -= span
				base += span
				continue
			}
			col := rel / rowSize
			child := children[uint64(row)*width+col]
			base += col * rowSize
			if child == utils.UndefinedAddress {
				return 0, 0, 0, fmt.Errorf("heap offset %d falls in an unallocated block", offset)
			}
			if row < fh.maxDirectRows {
				return child, base, rowSize, nil
			}
			block = child
			nrows = log2(rowSize) - (log2(fh.StartingBlockSize) + log2(width)) + 1
			found = true
			break
		}
		if !found {
			return 0, 0, 0, fmt.Errorf("heap offset %d beyond indirect block 0x%x", offset, block)
		}
	}
	return 0, 0, 0, fmt.Errorf("fractal heap nesting exceeds %d levels", maxBTreeDepth)
}

// readIndirectBlock returns the child addresses of an "FHIB" block with
// nrows rows, direct rows first.
func (fh *FractalHeap) readIndirectBlock(address, blockOffset uint64, nrows int) ([]uint64, error) {
	width := int(fh.TableWidth)
	entries := nrows * width
	osz := fh.r.OffsetSize()
	size := 5 + osz + fh.heapOffsetSize + entries*osz + 4
	buf, err := fh.r.ReadAt(address, uint64(size))
	if err != nil {
		return nil, utils.WrapErrorAt("fractal heap indirect block read failed", address, err)
	}
	if err := core.VerifyChecksum(buf, "fractal heap indirect block"); err != nil {
		return nil, utils.WrapErrorAt("fractal heap indirect block", address, err)
	}
	d := fh.r.Decoder(buf)
	d.Signature("FHIB")
	d.Uint8()
	heap := d.Offset()
	off := d.UintN(fh.heapOffsetSize)
	children := make([]uint64, entries)
	for i := range children {
		children[i] = d.Offset()
	}
	if err := d.Err(); err != nil {
		return nil, utils.WrapErrorAt("fractal heap indirect block", address, err)
	}
	if heap != fh.Address || off != blockOffset {
		return nil, utils.WrapErrorAt("fractal heap indirect block", address,
			fmt.Errorf("belongs to heap 0x%x at offset %d, expected 0x%x at %d", heap, off, fh.Address, blockOffset))
	}
	return children, nil
}
