package utils

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrTruncated is returned when a structure ends before all of its fields.
var ErrTruncated = errors.New("truncated structure")

// UndefinedAddress is the normalized "no address" value.
const UndefinedAddress = ^uint64(0)

// Decoder reads little-endian HDF5 metadata fields from an in-memory block.
// Offset and length fields use the widths declared by the superblock.
//
// The first out-of-range read records an error; every later read returns
// zero values, so callers check Err once after a run of fields.
type Decoder struct {
	buf        []byte
	pos        int
	offsetSize int
	lengthSize int
	err        error
}

// NewDecoder creates a decoder over buf.
func NewDecoder(buf []byte, offsetSize, lengthSize int) *Decoder {
	return &Decoder{buf: buf, offsetSize: offsetSize, lengthSize: lengthSize}
}

// Err returns the first error encountered.
func (d *Decoder) Err() error {
	return d.err
}

// Pos returns the current position within the block.
func (d *Decoder) Pos() int {
	return d.pos
}

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int {
	if d.pos >= len(d.buf) {
		return 0
	}
	return len(d.buf) - d.pos
}

// Seek moves to an absolute position within the block.
func (d *Decoder) Seek(pos int) {
	if d.err != nil {
		return
	}
	if pos < 0 || pos > len(d.buf) {
		d.fail(pos - d.pos)
		return
	}
	d.pos = pos
}

// Skip advances n bytes.
func (d *Decoder) Skip(n int) {
	_ = d.Bytes(n)
}

// Align advances to the next multiple of n, relative to the block start.
func (d *Decoder) Align(n int) {
	if rem := d.pos % n; rem != 0 {
		d.Skip(n - rem)
	}
}

// Bytes returns the next n bytes without copying.
func (d *Decoder) Bytes(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || d.pos+n > len(d.buf) {
		d.fail(n)
		return nil
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b
}

// Uint8 reads one byte.
func (d *Decoder) Uint8() uint8 {
	b := d.Bytes(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// Uint16 reads a 16-bit little-endian value.
func (d *Decoder) Uint16() uint16 {
	b := d.Bytes(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

// Uint32 reads a 32-bit little-endian value.
func (d *Decoder) Uint32() uint32 {
	b := d.Bytes(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// Uint64 reads a 64-bit little-endian value.
func (d *Decoder) Uint64() uint64 {
	b := d.Bytes(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// UintN reads an n-byte little-endian value (n <= 8).
func (d *Decoder) UintN(n int) uint64 {
	if n > 8 {
		d.Skip(n)
		if d.err == nil {
			d.err = fmt.Errorf("integer field of %d bytes: %w", n, ErrTruncated)
		}
		return 0
	}
	return DecodeUint(d.Bytes(n))
}

// Offset reads a file address. The all-ones pattern of any width is
// returned as UndefinedAddress.
func (d *Decoder) Offset() uint64 {
	v := d.UintN(d.offsetSize)
	if d.err == nil && IsUndefined(v, d.offsetSize) {
		return UndefinedAddress
	}
	return v
}

// Length reads a length field.
func (d *Decoder) Length() uint64 {
	return d.UintN(d.lengthSize)
}

// Signature consumes a 4-byte magic and records an error on mismatch.
func (d *Decoder) Signature(sig string) {
	b := d.Bytes(len(sig))
	if b != nil && string(b) != sig {
		d.err = fmt.Errorf("invalid signature %q, expected %q", b, sig)
	}
}

// CString reads a NUL-terminated string and consumes the terminator.
func (d *Decoder) CString() string {
	if d.err != nil {
		return ""
	}
	for i := d.pos; i < len(d.buf); i++ {
		if d.buf[i] == 0 {
			s := string(d.buf[d.pos:i])
			d.pos = i + 1
			return s
		}
	}
	d.fail(len(d.buf) - d.pos + 1)
	return ""
}

// OffsetSize returns the width of address fields.
func (d *Decoder) OffsetSize() int {
	return d.offsetSize
}

// LengthSize returns the width of length fields.
func (d *Decoder) LengthSize() int {
	return d.lengthSize
}

func (d *Decoder) fail(want int) {
	if d.err == nil {
		d.err = fmt.Errorf("need %d bytes at offset %d of %d: %w", want, d.pos, len(d.buf), ErrTruncated)
	}
}

// DecodeUint decodes a little-endian unsigned integer of up to 8 bytes.
func DecodeUint(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// IsUndefined reports whether addr is the all-ones "undefined address"
// for a field of size bytes.
func IsUndefined(addr uint64, size int) bool {
	if size >= 8 {
		return addr == ^uint64(0)
	}
	return addr == (uint64(1)<<(uint(size)*8))-1
}

// PaddedLen rounds n up to a multiple of align.
func PaddedLen(n, align int) int {
	if rem := n % align; rem != 0 {
		return n + align - rem
	}
	return n
}
