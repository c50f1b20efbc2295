package structures

import (
	"fmt"

	"github.com/scigolib/h5catalog/internal/core"
	"github.com/scigolib/h5catalog/internal/utils"
)

// Fixed array client IDs.
const (
	fixedArrayChunks         = 0
	fixedArrayFilteredChunks = 1
)

// CollectChunksFixedArray returns the allocated chunks of a fixed array
// chunk index. Record Index is the chunk's linear position in the
// row-major chunk grid.
//
// Header ("FAHD"): version, client ID, entry size, page bits,
// max entries (length width), data block address, checksum.
//
// Data block ("FADB"): version, client ID, header address, then either
// every entry followed by a checksum, or (when max entries exceeds one
// page) a page-initialized bitmap and checksum followed by pages of
// entries, each with its own checksum.
func CollectChunksFixedArray(r *core.Reader, address uint64) ([]ChunkRecord, error) {
	osz := r.OffsetSize()
	buf, err := r.ReadAt(address, uint64(4+1+1+1+1+r.LengthSize()+osz+4))
	if err != nil {
		return nil, utils.WrapErrorAt("fixed array header read failed", address, err)
	}
	if err := core.VerifyChecksum(buf, "fixed array header"); err != nil {
		return nil, utils.WrapErrorAt("fixed array header", address, err)
	}
	d := r.Decoder(buf)
	d.Signature("FAHD")
	version := d.Uint8()
	client := d.Uint8()
	entrySize := int(d.Uint8())
	pageBits := d.Uint8()
	maxEntries := d.Length()
	dataBlock := d.Offset()
	if err := d.Err(); err != nil {
		return nil, utils.WrapErrorAt("fixed array header", address, err)
	}
	if version != 0 {
		return nil, utils.WrapErrorAt("fixed array header", address, fmt.Errorf("version %d: %w", version, core.ErrUnsupported))
	}

	sizeWidth := 0
	switch client {
	case fixedArrayChunks:
		if entrySize != osz {
			return nil, utils.WrapErrorAt("fixed array header", address, fmt.Errorf("entry size %d for unfiltered chunks", entrySize))
		}
	case fixedArrayFilteredChunks:
		sizeWidth = entrySize - osz - 4
		if sizeWidth < 1 || sizeWidth > 8 {
			return nil, utils.WrapErrorAt("fixed array header", address, fmt.Errorf("entry size %d for filtered chunks", entrySize))
		}
	default:
		return nil, utils.WrapErrorAt("fixed array header", address, fmt.Errorf("client ID %d: %w", client, core.ErrUnsupported))
	}
	if dataBlock == utils.UndefinedAddress || maxEntries == 0 {
		return nil, nil
	}
	if pageBits >= 64 {
		return nil, utils.WrapErrorAt("fixed array header", address, fmt.Errorf("page bits %d", pageBits))
	}
	if _, err := utils.SafeMultiply(maxEntries, uint64(entrySize)); err != nil {
		return nil, utils.WrapErrorAt("fixed array header", address, err)
	}

	fa := fixedArray{r: r, header: address, client: client, entrySize: entrySize, sizeWidth: sizeWidth}
	pageSize := uint64(1) << pageBits
	if maxEntries <= pageSize {
		return fa.readUnpaged(dataBlock, maxEntries)
	}
	return fa.readPaged(dataBlock, maxEntries, pageSize)
}

type fixedArray struct {
	r         *core.Reader
	header    uint64
	client    uint8
	entrySize int
	sizeWidth int
}

func (fa *fixedArray) prefixSize() int {
	return 4 + 1 + 1 + fa.r.OffsetSize()
}

func (fa *fixedArray) checkPrefix(buf []byte, address uint64) error {
	d := fa.r.Decoder(buf)
	d.Signature("FADB")
	d.Uint8()
	client := d.Uint8()
	header := d.Offset()
	if err := d.Err(); err != nil {
		return utils.WrapErrorAt("fixed array data block", address, err)
	}
	if client != fa.client || header != fa.header {
		return utils.WrapErrorAt("fixed array data block", address,
			fmt.Errorf("client %d of header 0x%x, expected %d of 0x%x", client, header, fa.client, fa.header))
	}
	return nil
}

func (fa *fixedArray) readUnpaged(address, n uint64) ([]ChunkRecord, error) {
	size := uint64(fa.prefixSize()) + n*uint64(fa.entrySize) + 4
	buf, err := fa.r.ReadAt(address, size)
	if err != nil {
		return nil, utils.WrapErrorAt("fixed array data block read failed", address, err)
	}
	if err := core.VerifyChecksum(buf, "fixed array data block"); err != nil {
		return nil, utils.WrapErrorAt("fixed array data block", address, err)
	}
	if err := fa.checkPrefix(buf, address); err != nil {
		return nil, err
	}
	return fa.decodeEntries(buf[fa.prefixSize():len(buf)-4], 0, n)
}

func (fa *fixedArray) readPaged(address, n, pageSize uint64) ([]ChunkRecord, error) {
	npages := (n + pageSize - 1) / pageSize
	bitmapSize := (npages + 7) / 8
	headSize := uint64(fa.prefixSize()) + bitmapSize + 4
	head, err := fa.r.ReadAt(address, headSize)
	if err != nil {
		return nil, utils.WrapErrorAt("fixed array data block read failed", address, err)
	}
	if err := core.VerifyChecksum(head, "fixed array data block"); err != nil {
		return nil, utils.WrapErrorAt("fixed array data block", address, err)
	}
	if err := fa.checkPrefix(head, address); err != nil {
		return nil, err
	}
	bitmap := head[fa.prefixSize() : uint64(fa.prefixSize())+bitmapSize]

	var out []ChunkRecord
	pageAddr := address + headSize
	for p := uint64(0); p < npages; p++ {
		count := min(pageSize, n-p*pageSize)
		pageBytes := count*uint64(fa.entrySize) + 4
		if bitmap[p/8]&(0x80>>(p%8)) != 0 {
			page, err := fa.r.ReadAt(pageAddr, pageBytes)
			if err != nil {
				return nil, utils.WrapErrorAt("fixed array page read failed", pageAddr, err)
			}
			if err := core.VerifyChecksum(page, "fixed array page"); err != nil {
				return nil, utils.WrapErrorAt("fixed array page", pageAddr, err)
			}
			recs, err := fa.decodeEntries(page[:len(page)-4], p*pageSize, count)
			if err != nil {
				return nil, err
			}
			out = append(out, recs...)
		}
		pageAddr += pageBytes
	}
	return out, nil
}

func (fa *fixedArray) decodeEntries(buf []byte, first, n uint64) ([]ChunkRecord, error) {
	d := fa.r.Decoder(buf)
	var out []ChunkRecord
	for i := uint64(0); i < n; i++ {
		c := ChunkRecord{Index: int64(first + i), Address: d.Offset()} //nolint:gosec // G115: bounded by max entries
		if fa.sizeWidth > 0 {
			c.Size = d.UintN(fa.sizeWidth)
			c.FilterMask = d.Uint32()
		}
		if c.Address != utils.UndefinedAddress {
			out = append(out, c)
		}
	}
	if err := d.Err(); err != nil {
		return nil, utils.WrapError("fixed array entries", err)
	}
	return out, nil
}
