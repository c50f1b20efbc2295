package h5test

import (
	"encoding/binary"
)

// Type is an encoded datatype message and its element size.
type Type struct {
	msg      []byte
	size     int
	vlen     bool
	baseSize int
}

// Size returns the element size in bytes.
func (t Type) Size() int {
	return t.size
}

// Message returns the encoded datatype message.
func (t Type) Message() []byte {
	return t.msg
}

func typeHeader(class, version byte, bits [3]byte, size int) []byte {
	b := []byte{version<<4 | class, bits[0], bits[1], bits[2]}
	return binary.LittleEndian.AppendUint32(b, uint32(size)) //nolint:gosec // G115: test fixture sizes are small
}

func intType(size int, signed, bigEndian bool) Type {
	var bits [3]byte
	if bigEndian {
		bits[0] |= 0x01
	}
	if signed {
		bits[0] |= 0x08
	}
	msg := typeHeader(0, 1, bits, size)
	msg = binary.LittleEndian.AppendUint16(msg, 0)
	msg = binary.LittleEndian.AppendUint16(msg, uint16(size*8)) //nolint:gosec // G115: at most 64
	return Type{msg: msg, size: size}
}

// Integer types.
func Int8() Type    { return intType(1, true, false) }
func Uint8() Type   { return intType(1, false, false) }
func Int16() Type   { return intType(2, true, false) }
func Uint16() Type  { return intType(2, false, false) }
func Int32() Type   { return intType(4, true, false) }
func Uint32() Type  { return intType(4, false, false) }
func Int64() Type   { return intType(8, true, false) }
func Uint64() Type  { return intType(8, false, false) }
func Int32BE() Type { return intType(4, true, true) }

func floatType(size int, expLoc, expSize, mantSize byte, bias uint32, bigEndian bool) Type {
	bits := [3]byte{0x20, byte(size*8 - 1), 0} // implied mantissa MSB; sign bit position
	if bigEndian {
		bits[0] |= 0x01
	}
	msg := typeHeader(1, 1, bits, size)
	msg = binary.LittleEndian.AppendUint16(msg, 0)
	msg = binary.LittleEndian.AppendUint16(msg, uint16(size*8)) //nolint:gosec // G115: at most 64
	msg = append(msg, expLoc, expSize, 0, mantSize)
	msg = binary.LittleEndian.AppendUint32(msg, bias)
	return Type{msg: msg, size: size}
}

// Floating-point types.
func Float16() Type   { return floatType(2, 10, 5, 10, 15, false) }
func Float32() Type   { return floatType(4, 23, 8, 23, 127, false) }
func Float64() Type   { return floatType(8, 52, 11, 52, 1023, false) }
func Float64BE() Type { return floatType(8, 52, 11, 52, 1023, true) }

// String padding modes.
const (
	NullTerm = 0
	NullPad  = 1
	SpacePad = 2
)

// FixedString returns an n-byte ASCII string type.
func FixedString(n int, pad byte) Type {
	return Type{msg: typeHeader(3, 1, [3]byte{pad & 0x0F}, n), size: n}
}

// VarString returns a variable-length UTF-8 string type.
func VarString() Type {
	msg := typeHeader(9, 1, [3]byte{0x01, 0x01}, 16)
	return Type{msg: append(msg, Uint8().msg...), size: 16, vlen: true}
}

// VarSequence returns a variable-length sequence of base.
func VarSequence(base Type) Type {
	msg := typeHeader(9, 1, [3]byte{}, 16)
	return Type{msg: append(msg, base.msg...), size: 16, vlen: true, baseSize: base.size}
}

func padName(name string, version byte) []byte {
	b := append([]byte(name), 0)
	if version < 3 {
		for len(b)%8 != 0 {
			b = append(b, 0)
		}
	}
	return b
}

// Enum returns an enumeration over base with the given members.
func Enum(base Type, names []string, values []int64) Type {
	n := len(names)
	msg := typeHeader(8, 1, [3]byte{byte(n), byte(n >> 8)}, base.size)
	msg = append(msg, base.msg...)
	for _, name := range names {
		msg = append(msg, padName(name, 1)...)
	}
	for _, v := range values {
		msg = append(msg, binary.LittleEndian.AppendUint64(nil, uint64(v))[:base.size]...) //nolint:gosec // G115: two's complement
	}
	return Type{msg: msg, size: base.size}
}

// Bool returns the FALSE/TRUE enum h5py writes for numpy bools.
func Bool() Type {
	return Enum(Int8(), []string{"FALSE", "TRUE"}, []int64{0, 1})
}

// Member is one field of a compound type.
type Member struct {
	Name string
	Type Type
}

// Compound returns a packed version 3 compound type.
func Compound(members ...Member) Type {
	size := 0
	for _, m := range members {
		size += m.Type.size
	}
	width := 1
	for size >= 1<<(8*width) {
		width++
	}
	n := len(members)
	msg := typeHeader(6, 3, [3]byte{byte(n), byte(n >> 8)}, size)
	off := 0
	for _, m := range members {
		msg = append(msg, padName(m.Name, 3)...)
		msg = append(msg, binary.LittleEndian.AppendUint32(nil, uint32(off))[:width]...) //nolint:gosec // G115: small
		msg = append(msg, m.Type.msg...)
		off += m.Type.size
	}
	return Type{msg: msg, size: size}
}

// Array returns a fixed-size array type of base.
func Array(base Type, dims ...uint32) Type {
	count := 1
	for _, d := range dims {
		count *= int(d)
	}
	msg := typeHeader(10, 3, [3]byte{}, base.size*count)
	msg = append(msg, byte(len(dims)))
	for _, d := range dims {
		msg = binary.LittleEndian.AppendUint32(msg, d)
	}
	return Type{msg: append(msg, base.msg...), size: base.size * count}
}

// Opaque returns an n-byte opaque type with a tag.
func Opaque(n int, tag string) Type {
	t := padName(tag, 1)
	return Type{msg: append(typeHeader(5, 1, [3]byte{byte(len(t))}, n), t...), size: n}
}

// ObjectReference returns the object reference type.
func ObjectReference() Type {
	return Type{msg: typeHeader(7, 1, [3]byte{}, 8), size: 8}
}
