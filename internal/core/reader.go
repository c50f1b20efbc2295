package core

import (
	"errors"
	"fmt"
	"io"

	"github.com/scigolib/h5catalog/internal/utils"
)

// Errors shared by every parser in the read path.
var (
	// ErrNotHDF5 is returned when no HDF5 signature is found.
	ErrNotHDF5 = errors.New("not an HDF5 file")

	// ErrUnsupported marks valid HDF5 features this reader does not decode.
	ErrUnsupported = errors.New("unsupported HDF5 feature")

	// ErrOutOfBounds is returned for addresses past the end of the file.
	ErrOutOfBounds = errors.New("address beyond end of file")
)

// Reader is the read context shared by the parsers: the underlying bytes,
// their size, and the field widths declared by the superblock.
// A Reader is safe for concurrent use when the underlying io.ReaderAt is.
type Reader struct {
	r    io.ReaderAt
	size uint64
	sb   *Superblock
	gh   *GlobalHeapCache
}

// NewReader reads the superblock from r and returns a ready Reader.
func NewReader(r io.ReaderAt, size int64) (*Reader, error) {
	if size <= 0 {
		return nil, ErrNotHDF5
	}
	sb, err := ReadSuperblock(r, size)
	if err != nil {
		return nil, err
	}
	rd := &Reader{
		r:    r,
		size: uint64(size),
		sb:   sb,
	}
	rd.gh = newGlobalHeapCache(rd)
	return rd, nil
}

// Superblock returns the parsed superblock.
func (r *Reader) Superblock() *Superblock {
	return r.sb
}

// Size returns the size of the underlying file in bytes.
func (r *Reader) Size() uint64 {
	return r.size
}

// OffsetSize returns the width of address fields.
func (r *Reader) OffsetSize() int {
	return int(r.sb.OffsetSize)
}

// LengthSize returns the width of length fields.
func (r *Reader) LengthSize() int {
	return int(r.sb.LengthSize)
}

// Undefined reports whether addr is the undefined address.
func (r *Reader) Undefined(addr uint64) bool {
	return addr == utils.UndefinedAddress
}

// GlobalHeap returns the shared global heap collection cache.
func (r *Reader) GlobalHeap() *GlobalHeapCache {
	return r.gh
}

// ReadAt reads n bytes at the file address addr, relative to the base address.
func (r *Reader) ReadAt(addr, n uint64) ([]byte, error) {
	abs := r.sb.BaseAddress + addr
	if abs < addr || abs > r.size || n > r.size-abs {
		return nil, fmt.Errorf("read of %d bytes at 0x%x (file size %d): %w", n, addr, r.size, ErrOutOfBounds)
	}
	buf := make([]byte, n)
	//nolint:gosec // G115: bounded by file size above
	if _, err := r.r.ReadAt(buf, int64(abs)); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf, nil
}

// ReadUpTo reads at most n bytes at addr, stopping at end of file.
func (r *Reader) ReadUpTo(addr, n uint64) ([]byte, error) {
	abs := r.sb.BaseAddress + addr
	if abs >= r.size {
		return nil, fmt.Errorf("read at 0x%x (file size %d): %w", addr, r.size, ErrOutOfBounds)
	}
	if n > r.size-abs {
		n = r.size - abs
	}
	return r.ReadAt(addr, n)
}

// Decoder returns a field decoder over buf using the file's field widths.
func (r *Reader) Decoder(buf []byte) *utils.Decoder {
	return utils.NewDecoder(buf, r.OffsetSize(), r.LengthSize())
}
