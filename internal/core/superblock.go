package core

import (
	"errors"
	"fmt"
	"io"

	"github.com/scigolib/h5catalog/internal/utils"
)

// Signature is the 8-byte magic at the start of every superblock.
const Signature = "\x89HDF\r\n\x1a\n"

// Superblock represents the HDF5 file superblock containing file-level metadata.
type Superblock struct {
	Version        uint8
	OffsetSize     uint8
	LengthSize     uint8
	GroupLeafK     uint16
	GroupInternalK uint16
	BaseAddress    uint64
	EOFAddress     uint64
	SuperExtension uint64

	// RootGroup is the object header address of the root group.
	RootGroup uint64

	// RootBTree and RootHeap are the cached symbol table of the root group
	// (v0/v1 only). Both are undefined when not cached.
	RootBTree uint64
	RootHeap  uint64

	// Location is the file offset of the signature; non-zero with a user block.
	Location int64
}

// ReadSuperblock locates and parses the superblock. The signature is searched
// at offset 0 and then at every power of two from 512 up to the file size.
func ReadSuperblock(r io.ReaderAt, size int64) (*Superblock, error) {
	loc, err := findSignature(r, size)
	if err != nil {
		return nil, err
	}

	n := int64(256)
	if loc+n > size {
		n = size - loc
	}
	buf := make([]byte, n)
	if _, err := r.ReadAt(buf, loc); err != nil && !errors.Is(err, io.EOF) {
		return nil, utils.WrapError("superblock read failed", err)
	}
	if len(buf) < 12 {
		return nil, utils.WrapError("superblock", utils.ErrTruncated)
	}

	var sb *Superblock
	switch version := buf[8]; version {
	case 0, 1:
		sb, err = parseSuperblockV0(buf, version)
	case 2, 3:
		sb, err = parseSuperblockV2(buf, version)
	default:
		return nil, fmt.Errorf("superblock version %d: %w", version, ErrUnsupported)
	}
	if err != nil {
		return nil, utils.WrapError("superblock parse failed", err)
	}
	sb.Location = loc
	// Addresses are relative to the superblock when a user block precedes it.
	if uint64(loc) != sb.BaseAddress { //nolint:gosec // G115: non-negative
		sb.BaseAddress = uint64(loc) //nolint:gosec // G115: non-negative
	}
	return sb, nil
}

func findSignature(r io.ReaderAt, size int64) (int64, error) {
	sig := make([]byte, len(Signature))
	for off := int64(0); off+int64(len(sig)) <= size; {
		if _, err := r.ReadAt(sig, off); err != nil && !errors.Is(err, io.EOF) {
			return 0, utils.WrapError("signature read failed", err)
		}
		if string(sig) == Signature {
			return off, nil
		}
		if off == 0 {
			off = 512
		} else {
			off *= 2
		}
	}
	return 0, ErrNotHDF5
}

func validSize(n uint8) bool {
	return n == 2 || n == 4 || n == 8
}

// parseSuperblockV0 handles versions 0 and 1, which differ only by the
// indexed storage K field.
func parseSuperblockV0(buf []byte, version uint8) (*Superblock, error) {
	sb := &Superblock{Version: version}
	if len(buf) < 24 {
		return nil, utils.ErrTruncated
	}
	sb.OffsetSize = buf[13]
	sb.LengthSize = buf[14]
	if !validSize(sb.OffsetSize) || !validSize(sb.LengthSize) {
		return nil, fmt.Errorf("invalid field sizes: offsets %d, lengths %d", sb.OffsetSize, sb.LengthSize)
	}

	d := utils.NewDecoder(buf, int(sb.OffsetSize), int(sb.LengthSize))
	d.Seek(16)
	sb.GroupLeafK = d.Uint16()
	sb.GroupInternalK = d.Uint16()
	d.Skip(4) // file consistency flags
	if version == 1 {
		d.Skip(4) // indexed storage internal node K + reserved
	}
	sb.BaseAddress = d.Offset()
	sb.SuperExtension = d.Offset() // free-space info address in v0
	sb.EOFAddress = d.Offset()
	d.Offset() // driver information block

	// Root group symbol table entry.
	d.Offset() // link name offset
	sb.RootGroup = d.Offset()
	cacheType := d.Uint32()
	d.Skip(4)
	scratch := d.Bytes(16)
	if err := d.Err(); err != nil {
		return nil, err
	}

	sb.RootBTree = utils.UndefinedAddress
	sb.RootHeap = utils.UndefinedAddress
	if cacheType == 1 {
		sd := utils.NewDecoder(scratch, int(sb.OffsetSize), int(sb.LengthSize))
		sb.RootBTree = sd.Offset()
		sb.RootHeap = sd.Offset()
	}
	return sb, nil
}

func parseSuperblockV2(buf []byte, version uint8) (*Superblock, error) {
	sb := &Superblock{
		Version:    version,
		OffsetSize: buf[9],
		LengthSize: buf[10],
		RootBTree:  utils.UndefinedAddress,
		RootHeap:   utils.UndefinedAddress,
	}
	if !validSize(sb.OffsetSize) || !validSize(sb.LengthSize) {
		return nil, fmt.Errorf("invalid field sizes: offsets %d, lengths %d", sb.OffsetSize, sb.LengthSize)
	}

	end := 12 + 4*int(sb.OffsetSize) + 4
	if len(buf) < end {
		return nil, utils.ErrTruncated
	}
	if err := VerifyChecksum(buf[:end], "superblock"); err != nil {
		return nil, err
	}

	d := utils.NewDecoder(buf[:end], int(sb.OffsetSize), int(sb.LengthSize))
	d.Seek(12)
	sb.BaseAddress = d.Offset()
	sb.SuperExtension = d.Offset()
	sb.EOFAddress = d.Offset()
	sb.RootGroup = d.Offset()
	return sb, d.Err()
}
