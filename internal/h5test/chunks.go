package h5test

import (
	"errors"
	"fmt"
	"slices"

	"github.com/scigolib/h5catalog/internal/core"
)

type storedChunk struct {
	index  int
	offset []uint64
	addr   uint64
	size   uint64
}

// splitChunks cuts row-major element bytes into full chunks in chunk-grid
// order. Edge chunks are zero-padded to the full chunk shape.
func splitChunks(raw []byte, dims, chunk []uint64, size int) ([][]byte, [][]uint64) {
	rank := len(dims)
	grid := make([]uint64, rank)
	total := 1
	for i := range dims {
		grid[i] = (dims[i] + chunk[i] - 1) / chunk[i]
		total *= int(grid[i])
	}
	per := int(elementCount(chunk))

	chunks := make([][]byte, total)
	origins := make([][]uint64, total)
	for ci := 0; ci < total; ci++ {
		origin := make([]uint64, rank)
		rem := ci
		for i := rank - 1; i >= 0; i-- {
			origin[i] = uint64(rem%int(grid[i])) * chunk[i]
			rem /= int(grid[i])
		}
		origins[ci] = origin

		buf := make([]byte, per*size)
		if raw != nil {
			local := make([]uint64, rank)
			for e := 0; e < per; e++ {
				rem := e
				for i := rank - 1; i >= 0; i-- {
					local[i] = uint64(rem % int(chunk[i]))
					rem /= int(chunk[i])
				}
				inside := true
				var src uint64
				for i := 0; i < rank; i++ {
					c := origin[i] + local[i]
					if c >= dims[i] {
						inside = false
						break
					}
					src = src*dims[i] + c
				}
				if inside {
					copy(buf[e*size:(e+1)*size], raw[int(src)*size:])
				}
			}
		}
		chunks[ci] = buf
	}
	return chunks, origins
}

func (b *builder) chunkedLayout(d *Dataset, raw []byte) ([]byte, error) {
	rank := len(d.Dims)
	if rank == 0 || len(d.Chunks) != rank {
		return nil, fmt.Errorf("chunk shape %v does not match rank %d", d.Chunks, rank)
	}
	if d.Index != BTreeV1 && b.format == V0 {
		return nil, errors.New("chunk indexes other than the v1 B-tree need V2")
	}

	size := d.Type.size
	chunks, origins := splitChunks(raw, d.Dims, d.Chunks, size)
	filtered := len(d.Filters) > 0

	var stored []storedChunk
	if raw != nil {
		for i, c := range chunks {
			if slices.Contains(d.SkipChunks, i) {
				continue
			}
			for _, f := range d.Filters {
				var err error
				if c, err = f.Apply(c); err != nil {
					return nil, fmt.Errorf("filter %s: %w", f.Name(), err)
				}
			}
			stored = append(stored, storedChunk{index: i, offset: origins[i], size: uint64(len(c))})
			stored[len(stored)-1].addr = b.write(c)
		}
	}

	dims := make([]uint64, 0, rank+1)
	dims = append(dims, d.Chunks...)
	dims = append(dims, uint64(size))

	if d.Index == BTreeV1 {
		addr := undefined
		if len(stored) > 0 {
			addr = b.chunkBTreeV1(stored, d.Dims)
		}
		out := []byte{3, 2, byte(rank + 1)}
		out = le64(out, addr)
		for _, v := range dims {
			out = le32(out, uint32(v)) //nolint:gosec // G115: small
		}
		return out, nil
	}

	flags := byte(0)
	if d.Index == Single && filtered {
		flags = 0x02
	}
	out := []byte{4, 2, flags, byte(rank + 1), 4}
	for _, v := range dims {
		out = le32(out, uint32(v)) //nolint:gosec // G115: small
	}

	addr := undefined
	switch d.Index {
	case Single:
		if len(chunks) != 1 {
			return nil, fmt.Errorf("single-chunk index with %d chunks", len(chunks))
		}
		out = append(out, byte(core.ChunkIndexSingle))
		var csize uint64
		if len(stored) == 1 {
			addr, csize = stored[0].addr, stored[0].size
		}
		if filtered {
			out = le32(le64(out, csize), 0)
		}
	case Implicit:
		if filtered || len(d.SkipChunks) > 0 {
			return nil, errors.New("implicit index stores every chunk unfiltered")
		}
		out = append(out, byte(core.ChunkIndexImplicit))
		if len(stored) > 0 {
			addr = stored[0].addr
		}
	case FixedArray:
		pageBits := byte(10)
		for len(chunks) > 1<<pageBits {
			pageBits++
		}
		out = append(out, byte(core.ChunkIndexFixedArray), pageBits)
		if raw != nil {
			addr = b.fixedArray(stored, len(chunks), filtered, pageBits)
		}
	case BTreeV2:
		out = append(out, byte(core.ChunkIndexBTreeV2))
		out = le32(out, 512)
		out = append(out, 100, 40)
		if raw != nil {
			addr = b.chunkBTreeV2(stored, d.Chunks, filtered)
		}
	default:
		return nil, fmt.Errorf("chunk index %d", d.Index)
	}
	return le64(out, addr), nil
}

// chunkBTreeV1 writes a single leaf "TREE" node of type 1.
func (b *builder) chunkBTreeV1(stored []storedChunk, dims []uint64) uint64 {
	key := func(size uint64, offset []uint64) []byte {
		k := le32(le32(nil, uint32(size)), 0) //nolint:gosec // G115: small
		for _, o := range offset {
			k = le64(k, o)
		}
		return le64(k, 0)
	}
	out := append([]byte("TREE"), 1, 0)
	out = le16(out, uint16(len(stored))) //nolint:gosec // G115: small
	out = le64(le64(out, undefined), undefined)
	for _, c := range stored {
		out = append(out, key(c.size, c.offset)...)
		out = le64(out, c.addr)
	}
	return b.write(append(out, key(0, dims)...))
}

func (b *builder) fixedArray(stored []storedChunk, total int, filtered bool, pageBits byte) uint64 {
	entrySize, client := 8, byte(0)
	if filtered {
		entrySize, client = 16, 1
	}

	hdrAddr := b.alloc(4 + 4 + 8 + 8 + 4)
	byIndex := map[int]storedChunk{}
	for _, c := range stored {
		byIndex[c.index] = c
	}
	blk := append([]byte("FADB"), 0, client)
	blk = le64(blk, hdrAddr)
	for i := 0; i < total; i++ {
		c, ok := byIndex[i]
		if !ok {
			c.addr = undefined
		}
		blk = le64(blk, c.addr)
		if filtered {
			blk = le32(le32(blk, uint32(c.size)), 0) //nolint:gosec // G115: small
		}
	}
	blkAddr := b.write(core.AppendChecksum(blk))

	hdr := append([]byte("FAHD"), 0, client, byte(entrySize), pageBits)
	hdr = le64(hdr, uint64(total))
	hdr = le64(hdr, blkAddr)
	b.patch(hdrAddr, core.AppendChecksum(hdr))
	return hdrAddr
}

func (b *builder) chunkBTreeV2(stored []storedChunk, chunkDims []uint64, filtered bool) uint64 {
	typ := byte(10)
	if filtered {
		typ = 11
	}
	var records [][]byte
	for _, c := range stored {
		rec := le64(nil, c.addr)
		if filtered {
			rec = le32(le32(rec, uint32(c.size)), 0) //nolint:gosec // G115: small
		}
		for i, o := range c.offset {
			rec = le64(rec, o/chunkDims[i])
		}
		records = append(records, rec)
	}
	recSize := 8 + 8*len(chunkDims)
	if filtered {
		recSize += 8
	}
	return b.btreeV2(typ, recSize, records)
}
