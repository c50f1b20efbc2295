package core

import (
	"fmt"

	"github.com/scigolib/h5catalog/internal/utils"
)

// LayoutClass is the raw-data storage class of a dataset.
type LayoutClass uint8

// Storage classes.
const (
	LayoutCompact    LayoutClass = 0
	LayoutContiguous LayoutClass = 1
	LayoutChunked    LayoutClass = 2
	LayoutVirtual    LayoutClass = 3
)

// String returns the storage class name.
func (c LayoutClass) String() string {
	switch c {
	case LayoutCompact:
		return "compact"
	case LayoutContiguous:
		return "contiguous"
	case LayoutChunked:
		return "chunked"
	case LayoutVirtual:
		return "virtual"
	default:
		return fmt.Sprintf("layout%d", c)
	}
}

// ChunkIndexType identifies how chunk addresses are indexed.
type ChunkIndexType uint8

// Chunk index types. Layout versions below 4 always use a version 1 B-tree.
const (
	ChunkIndexBTreeV1         ChunkIndexType = 0
	ChunkIndexSingle          ChunkIndexType = 1
	ChunkIndexImplicit        ChunkIndexType = 2
	ChunkIndexFixedArray      ChunkIndexType = 3
	ChunkIndexExtensibleArray ChunkIndexType = 4
	ChunkIndexBTreeV2         ChunkIndexType = 5
)

// layoutSingleChunkFiltered is the v4 chunked-layout flag for a filtered
// single-chunk index.
const layoutSingleChunkFiltered = 0x02

// DataLayout is a decoded data layout message.
type DataLayout struct {
	Version uint8
	Class   LayoutClass

	// Address is the contiguous data address or the chunk index address.
	Address uint64

	// Size is the contiguous storage size in bytes.
	Size uint64

	CompactData []byte

	// ChunkDims is the chunk shape in elements, without the trailing
	// element-size dimension stored in the message.
	ChunkDims   []uint64
	ElementSize uint32

	IndexType ChunkIndexType

	// Single-chunk index with filters: stored size and filter mask.
	SingleFiltered   bool
	SingleChunkSize  uint64
	SingleFilterMask uint32

	// FixedArrayPageBits is the page size exponent of a fixed array index.
	FixedArrayPageBits uint8
}

// ParseDataLayout decodes a data layout message (versions 1 through 4).
func ParseDataLayout(data []byte, offsetSize, lengthSize int) (*DataLayout, error) {
	d := utils.NewDecoder(data, offsetSize, lengthSize)
	l := &DataLayout{Version: d.Uint8(), Address: utils.UndefinedAddress}

	var err error
	switch l.Version {
	case 1, 2:
		err = l.parseV1(d)
	case 3, 4:
		err = l.parseV3(d)
	default:
		return nil, fmt.Errorf("layout version %d: %w", l.Version, ErrUnsupported)
	}
	if err == nil {
		err = d.Err()
	}
	if err != nil {
		return nil, utils.WrapError("data layout message", err)
	}
	return l, nil
}

func (l *DataLayout) parseV1(d *utils.Decoder) error {
	ndims := int(d.Uint8())
	l.Class = LayoutClass(d.Uint8())
	d.Skip(5)
	if l.Class != LayoutCompact {
		l.Address = d.Offset()
	}
	dims := make([]uint64, ndims)
	for i := range dims {
		dims[i] = uint64(d.Uint32())
	}
	switch l.Class {
	case LayoutChunked:
		l.ElementSize = d.Uint32()
		if ndims > 0 {
			l.ChunkDims = dims[:ndims-1]
		}
	case LayoutCompact:
		size := d.Uint32()
		l.CompactData = d.Bytes(int(size))
	case LayoutContiguous:
		l.Size = productU64(dims)
	}
	return nil
}

func (l *DataLayout) parseV3(d *utils.Decoder) error {
	l.Class = LayoutClass(d.Uint8())
	switch l.Class {
	case LayoutCompact:
		size := d.Uint16()
		l.CompactData = d.Bytes(int(size))

	case LayoutContiguous:
		l.Address = d.Offset()
		l.Size = d.Length()

	case LayoutChunked:
		if l.Version == 3 {
			ndims := int(d.Uint8())
			l.Address = d.Offset()
			dims := make([]uint64, ndims)
			for i := range dims {
				dims[i] = uint64(d.Uint32())
			}
			return l.setChunkDims(dims)
		}
		return l.parseChunkedV4(d)

	case LayoutVirtual:
		l.Address = d.Offset() // global heap collection of mappings
		d.Skip(4)

	default:
		return fmt.Errorf("layout class %d: %w", l.Class, ErrUnsupported)
	}
	return nil
}

func (l *DataLayout) parseChunkedV4(d *utils.Decoder) error {
	flags := d.Uint8()
	ndims := int(d.Uint8())
	width := int(d.Uint8())
	dims := make([]uint64, ndims)
	for i := range dims {
		dims[i] = d.UintN(width)
	}
	l.IndexType = ChunkIndexType(d.Uint8())
	switch l.IndexType {
	case ChunkIndexSingle:
		if flags&layoutSingleChunkFiltered != 0 {
			l.SingleFiltered = true
			l.SingleChunkSize = d.Length()
			l.SingleFilterMask = d.Uint32()
		}
	case ChunkIndexImplicit:
	case ChunkIndexFixedArray:
		l.FixedArrayPageBits = d.Uint8()
	case ChunkIndexExtensibleArray:
		d.Skip(5)
	case ChunkIndexBTreeV2:
		d.Skip(6)
	default:
		return fmt.Errorf("chunk index type %d: %w", l.IndexType, ErrUnsupported)
	}
	l.Address = d.Offset()
	return l.setChunkDims(dims)
}

func (l *DataLayout) setChunkDims(dims []uint64) error {
	if len(dims) < 2 {
		return fmt.Errorf("chunked layout needs at least 2 dimensions, got %d", len(dims))
	}
	l.ChunkDims = dims[:len(dims)-1]
	l.ElementSize = uint32(dims[len(dims)-1])
	for i, c := range l.ChunkDims {
		if c == 0 {
			return fmt.Errorf("chunk dimension %d is zero", i)
		}
	}
	return nil
}

// ChunkBytes returns the unfiltered size of one full chunk.
func (l *DataLayout) ChunkBytes() (uint64, error) {
	return utils.ByteCount(l.ChunkDims, uint64(l.ElementSize), utils.MaxChunkSize)
}
