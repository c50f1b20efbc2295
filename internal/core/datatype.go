package core

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/scigolib/h5catalog/internal/utils"
)

// DatatypeClass represents HDF5 datatype class.
type DatatypeClass uint8

// Datatype class constants identify different HDF5 data types for datasets.
const (
	DatatypeFixed     DatatypeClass = 0  // Fixed-point (integers).
	DatatypeFloat     DatatypeClass = 1  // Floating-point.
	DatatypeTime      DatatypeClass = 2  // Time.
	DatatypeString    DatatypeClass = 3  // String.
	DatatypeBitfield  DatatypeClass = 4  // Bitfield.
	DatatypeOpaque    DatatypeClass = 5  // Opaque.
	DatatypeCompound  DatatypeClass = 6  // Compound.
	DatatypeReference DatatypeClass = 7  // Reference.
	DatatypeEnum      DatatypeClass = 8  // Enumerated.
	DatatypeVarLen    DatatypeClass = 9  // Variable-length.
	DatatypeArray     DatatypeClass = 10 // Array.
	DatatypeComplex   DatatypeClass = 11 // Complex (HDF5 2.0+).
)

// String padding modes.
const (
	PadNullTerm  = 0
	PadNullPad   = 1
	PadSpacePad  = 2
	CharsetASCII = 0
	CharsetUTF8  = 1
)

// Datatype is a fully decoded datatype message, including the properties
// of nested member and base types.
type Datatype struct {
	Class   DatatypeClass
	Version uint8
	Size    uint32

	BigEndian bool // fixed, float, bitfield, time
	Signed    bool // fixed

	Padding uint8 // string and variable-length string padding
	Charset uint8

	// VarLenString distinguishes a variable-length string from a sequence.
	VarLenString bool

	// Base is the parent type of enum, array, variable-length and complex types.
	Base *Datatype

	Members []CompoundMember // compound

	EnumNames  []string // enum
	EnumValues [][]byte

	ArrayDims []uint64 // array

	Tag string // opaque

	RefType uint8 // reference: 0 object, 1 region
}

// CompoundMember is one field of a compound type.
type CompoundMember struct {
	Name   string
	Offset uint32
	Type   *Datatype
}

// ByteOrder returns the element byte order.
func (dt *Datatype) ByteOrder() binary.ByteOrder {
	if dt.BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// IsVarLen reports whether elements are stored out of line in the global heap.
func (dt *Datatype) IsVarLen() bool {
	return dt.Class == DatatypeVarLen
}

// IsBoolEnum reports whether the type is the FALSE/TRUE enum h5py uses
// for booleans.
func (dt *Datatype) IsBoolEnum() bool {
	if dt.Class != DatatypeEnum || len(dt.EnumNames) != 2 || dt.Base == nil {
		return false
	}
	return dt.EnumNames[0] == "FALSE" && dt.EnumNames[1] == "TRUE" &&
		utils.DecodeUint(dt.EnumValues[0]) == 0 && utils.DecodeUint(dt.EnumValues[1]) == 1
}

// String returns a short human-readable type name.
func (dt *Datatype) String() string {
	switch dt.Class {
	case DatatypeFixed:
		if dt.Signed {
			return fmt.Sprintf("int%d", dt.Size*8)
		}
		return fmt.Sprintf("uint%d", dt.Size*8)
	case DatatypeFloat:
		return fmt.Sprintf("float%d", dt.Size*8)
	case DatatypeString:
		return fmt.Sprintf("string[%d]", dt.Size)
	case DatatypeVarLen:
		if dt.VarLenString {
			return "vlen string"
		}
		return "vlen " + dt.Base.String()
	case DatatypeCompound:
		return fmt.Sprintf("compound[%d]", len(dt.Members))
	case DatatypeEnum:
		if dt.IsBoolEnum() {
			return "bool"
		}
		return "enum " + dt.Base.String()
	case DatatypeArray:
		return fmt.Sprintf("%v %s", dt.ArrayDims, dt.Base)
	case DatatypeReference:
		return "reference"
	case DatatypeOpaque:
		return fmt.Sprintf("opaque[%d]", dt.Size)
	case DatatypeBitfield:
		return fmt.Sprintf("bitfield%d", dt.Size*8)
	case DatatypeComplex:
		return fmt.Sprintf("complex%d", dt.Size*8)
	case DatatypeTime:
		return "time"
	default:
		return fmt.Sprintf("class%d", dt.Class)
	}
}

// ParseDatatype decodes a datatype message.
func ParseDatatype(data []byte) (*Datatype, error) {
	dt, _, err := parseDatatype(data, 0)
	if err != nil {
		return nil, utils.WrapError("datatype message", err)
	}
	return dt, nil
}

// maxTypeDepth bounds nesting of compound, array and variable-length types.
const maxTypeDepth = 32

// parseDatatype decodes one datatype and returns the bytes it consumed.
func parseDatatype(data []byte, depth int) (*Datatype, int, error) {
	if depth > maxTypeDepth {
		return nil, 0, errors.New("datatype nesting too deep")
	}
	if len(data) < 8 {
		return nil, 0, utils.ErrTruncated
	}

	head := binary.LittleEndian.Uint32(data[0:4])
	dt := &Datatype{
		Class:   DatatypeClass(head & 0x0F),
		Version: uint8((head >> 4) & 0x0F),
		Size:    binary.LittleEndian.Uint32(data[4:8]),
	}
	bits := head >> 8
	d := utils.NewDecoder(data, 8, 8)
	d.Seek(8)

	switch dt.Class {
	case DatatypeFixed, DatatypeBitfield:
		dt.BigEndian = bits&0x01 != 0
		dt.Signed = dt.Class == DatatypeFixed && bits&0x08 != 0
		d.Skip(4) // bit offset, bit precision

	case DatatypeFloat:
		dt.BigEndian = bits&0x01 != 0
		if bits&0x40 != 0 {
			return nil, 0, fmt.Errorf("VAX float order: %w", ErrUnsupported)
		}
		d.Skip(12)

	case DatatypeTime:
		dt.BigEndian = bits&0x01 != 0
		d.Skip(2)

	case DatatypeString:
		dt.Padding = uint8(bits & 0x0F)
		dt.Charset = uint8((bits >> 4) & 0x0F)

	case DatatypeOpaque:
		tagLen := int(bits & 0xFF)
		raw := d.Bytes(tagLen)
		dt.Tag = trimNul(raw)

	case DatatypeCompound:
		if err := parseCompound(dt, d, int(bits&0xFFFF), depth); err != nil {
			return nil, 0, err
		}

	case DatatypeReference:
		dt.RefType = uint8(bits & 0x0F)

	case DatatypeEnum:
		if err := parseEnum(dt, d, int(bits&0xFFFF), depth); err != nil {
			return nil, 0, err
		}

	case DatatypeVarLen:
		dt.VarLenString = bits&0x0F == 1
		dt.Padding = uint8((bits >> 4) & 0x0F)
		dt.Charset = uint8((bits >> 8) & 0x0F)
		base, err := parseNested(d, depth)
		if err != nil {
			return nil, 0, err
		}
		dt.Base = base

	case DatatypeArray:
		rank := int(d.Uint8())
		if dt.Version < 3 {
			d.Skip(3)
		}
		dt.ArrayDims = make([]uint64, rank)
		for i := range dt.ArrayDims {
			dt.ArrayDims[i] = uint64(d.Uint32())
		}
		if dt.Version < 3 {
			d.Skip(4 * rank) // permutation indices
		}
		base, err := parseNested(d, depth)
		if err != nil {
			return nil, 0, err
		}
		dt.Base = base

	case DatatypeComplex:
		dt.BigEndian = bits&0x01 != 0
		base, err := parseNested(d, depth)
		if err != nil {
			return nil, 0, err
		}
		dt.Base = base

	default:
		return nil, 0, fmt.Errorf("datatype class %d: %w", dt.Class, ErrUnsupported)
	}

	if err := d.Err(); err != nil {
		return nil, 0, err
	}
	return dt, d.Pos(), nil
}

func parseNested(d *utils.Decoder, depth int) (*Datatype, error) {
	if d.Err() != nil {
		return nil, d.Err()
	}
	rest := d.Bytes(d.Remaining())
	base, n, err := parseDatatype(rest, depth+1)
	if err != nil {
		return nil, err
	}
	d.Seek(d.Pos() - len(rest) + n)
	return base, nil
}

func parseCompound(dt *Datatype, d *utils.Decoder, count, depth int) error {
	for i := 0; i < count; i++ {
		m := CompoundMember{}
		start := d.Pos()
		m.Name = d.CString()
		if dt.Version < 3 {
			// Name is NUL-padded to a multiple of 8 relative to its start.
			d.Seek(start + utils.PaddedLen(d.Pos()-start, 8))
		}

		var dims []uint64
		switch dt.Version {
		case 1:
			m.Offset = d.Uint32()
			rank := int(d.Uint8())
			d.Skip(3 + 4 + 4) // reserved, permutation, reserved
			sizes := make([]uint64, 4)
			for j := range sizes {
				sizes[j] = uint64(d.Uint32())
			}
			if rank > 0 && rank <= 4 {
				dims = sizes[:rank]
			}
		case 2:
			m.Offset = d.Uint32()
		default:
			m.Offset = uint32(d.UintN(offsetWidth(dt.Size)))
		}

		typ, err := parseNested(d, depth)
		if err != nil {
			return fmt.Errorf("compound member %q: %w", m.Name, err)
		}
		if dims != nil {
			typ = &Datatype{
				Class:     DatatypeArray,
				Size:      typ.Size * uint32(productU64(dims)),
				ArrayDims: dims,
				Base:      typ,
			}
		}
		m.Type = typ
		dt.Members = append(dt.Members, m)
	}
	return d.Err()
}

func parseEnum(dt *Datatype, d *utils.Decoder, count, depth int) error {
	base, err := parseNested(d, depth)
	if err != nil {
		return fmt.Errorf("enum base: %w", err)
	}
	dt.Base = base
	dt.BigEndian = base.BigEndian
	dt.Signed = base.Signed

	dt.EnumNames = make([]string, count)
	for i := range dt.EnumNames {
		start := d.Pos()
		dt.EnumNames[i] = d.CString()
		if dt.Version < 3 {
			d.Seek(start + utils.PaddedLen(d.Pos()-start, 8))
		}
	}
	dt.EnumValues = make([][]byte, count)
	for i := range dt.EnumValues {
		dt.EnumValues[i] = d.Bytes(int(base.Size))
	}
	return d.Err()
}

// offsetWidth is the width of a version 3 compound member offset: the
// fewest bytes able to hold the compound size.
func offsetWidth(size uint32) int {
	switch {
	case size < 1<<8:
		return 1
	case size < 1<<16:
		return 2
	case size < 1<<24:
		return 3
	default:
		return 4
	}
}

func productU64(v []uint64) uint64 {
	n := uint64(1)
	for _, x := range v {
		n *= x
	}
	return n
}

func trimNul(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
