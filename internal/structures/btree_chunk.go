package structures

import (
	"fmt"

	"github.com/scigolib/h5catalog/internal/core"
	"github.com/scigolib/h5catalog/internal/utils"
)

// ChunkRecord locates one stored chunk of a dataset.
type ChunkRecord struct {
	// Offset is the chunk origin in dataset element coordinates.
	Offset []uint64

	// Index is the linear chunk index for array-based indexes; -1 when the
	// chunk is located by Offset.
	Index int64

	Address uint64

	// Size is the stored byte size; zero when the index does not record it
	// (unfiltered chunks, whose size is the full chunk size).
	Size       uint64
	FilterMask uint32
}

// CollectChunksBTreeV1 returns every chunk indexed by the version 1 B-tree
// at address. rank is the dataspace rank; chunk keys store rank+1 offsets,
// the last being the element byte offset (always zero).
//
// Chunk key format:
//   - Chunk size in bytes after filtering (4 bytes)
//   - Filter mask (4 bytes)
//   - rank+1 element offsets (8 bytes each)
func CollectChunksBTreeV1(r *core.Reader, address uint64, rank int) ([]ChunkRecord, error) {
	keySize := 8 + 8*(rank+1)
	var chunks []ChunkRecord
	err := walkBTreeV1(r, address, BTreeChunkNode, keySize, func(key []byte, child uint64) error {
		d := r.Decoder(key)
		c := ChunkRecord{
			Index:      -1,
			Size:       uint64(d.Uint32()),
			FilterMask: d.Uint32(),
			Address:    child,
			Offset:     make([]uint64, rank),
		}
		for i := range c.Offset {
			c.Offset[i] = d.Uint64()
		}
		if err := d.Err(); err != nil {
			return utils.WrapErrorAt("chunk key", child, err)
		}
		chunks = append(chunks, c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// CollectChunksBTreeV2 returns every chunk indexed by the version 2 B-tree
// at address. Records hold scaled offsets (chunk grid coordinates), which
// are multiplied by chunkDims.
//
// Record formats:
//   - Type 10: address, rank scaled offsets (8 bytes each)
//   - Type 11: address, chunk size (variable width), filter mask (4),
//     rank scaled offsets
func CollectChunksBTreeV2(r *core.Reader, address uint64, chunkDims []uint64) ([]ChunkRecord, error) {
	bt, err := ReadBTreeV2(r, address)
	if err != nil {
		return nil, err
	}
	rank := len(chunkDims)
	sizeWidth := 0
	switch bt.Type {
	case BTreeV2Chunk:
	case BTreeV2FilteredChunk:
		sizeWidth = int(bt.RecordSize) - r.OffsetSize() - 4 - 8*rank
		if sizeWidth < 1 || sizeWidth > 8 {
			return nil, utils.WrapErrorAt("chunk B-tree v2", address, fmt.Errorf("record size %d does not fit rank %d", bt.RecordSize, rank))
		}
	default:
		return nil, utils.WrapErrorAt("chunk B-tree v2", address, fmt.Errorf("record type %d is not a chunk record", bt.Type))
	}

	records, err := bt.Records(r)
	if err != nil {
		return nil, err
	}
	chunks := make([]ChunkRecord, 0, len(records))
	for _, rec := range records {
		d := r.Decoder(rec)
		c := ChunkRecord{Index: -1, Address: d.Offset(), Offset: make([]uint64, rank)}
		if sizeWidth > 0 {
			c.Size = d.UintN(sizeWidth)
			c.FilterMask = d.Uint32()
		}
		for i := range c.Offset {
			c.Offset[i] = d.Uint64() * chunkDims[i]
		}
		if err := d.Err(); err != nil {
			return nil, utils.WrapErrorAt("chunk B-tree v2 record", address, err)
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}
