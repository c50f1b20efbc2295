package core

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/x448/float16"

	"github.com/scigolib/h5catalog/internal/utils"
)

// DecodeValues converts n packed elements into a Go slice. Numeric types
// decode to typed slices ([]int32, []float64, ...), booleans to []bool,
// strings to []string and everything else to []any.
func DecodeValues(r *Reader, dt *Datatype, raw []byte, n uint64) (any, error) {
	size := uint64(dt.Size)
	need, err := utils.SafeMultiply(n, size)
	if err != nil {
		return nil, err
	}
	if uint64(len(raw)) < need {
		return nil, fmt.Errorf("have %d bytes for %d elements of %d bytes: %w", len(raw), n, size, utils.ErrTruncated)
	}
	raw = raw[:need]

	switch dt.Class {
	case DatatypeFixed:
		return decodeIntegers(raw, dt, int(n))
	case DatatypeFloat:
		return decodeFloats(raw, dt, int(n))
	case DatatypeString:
		out := make([]string, n)
		for i := range out {
			out[i] = DecodeFixedString(raw[uint64(i)*size:uint64(i+1)*size], dt.Padding)
		}
		return out, nil
	case DatatypeEnum:
		if dt.IsBoolEnum() {
			out := make([]bool, n)
			for i := range out {
				out[i] = readUint(raw[uint64(i)*size:], int(size), dt.ByteOrder()) != 0
			}
			return out, nil
		}
		return decodeIntegers(raw, dt.Base, int(n))
	case DatatypeVarLen:
		if dt.VarLenString {
			out := make([]string, n)
			for i := range out {
				s, err := decodeVarLenString(r, dt, raw[uint64(i)*size:uint64(i+1)*size])
				if err != nil {
					return nil, fmt.Errorf("element %d: %w", i, err)
				}
				out[i] = s
			}
			return out, nil
		}
	}

	out := make([]any, n)
	for i := range out {
		v, err := DecodeElement(r, dt, raw[uint64(i)*size:uint64(i+1)*size])
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// DecodeElement converts one element to a Go value.
func DecodeElement(r *Reader, dt *Datatype, b []byte) (any, error) {
	if uint64(len(b)) < uint64(dt.Size) {
		return nil, utils.ErrTruncated
	}
	b = b[:dt.Size]
	order := dt.ByteOrder()

	switch dt.Class {
	case DatatypeFixed:
		u := readUint(b, len(b), order)
		if dt.Signed {
			return signExtend(u, len(b)), nil
		}
		return u, nil

	case DatatypeFloat:
		return readFloat(b, order)

	case DatatypeString:
		return DecodeFixedString(b, dt.Padding), nil

	case DatatypeBitfield, DatatypeTime:
		return readUint(b, len(b), order), nil

	case DatatypeOpaque:
		return append([]byte(nil), b...), nil

	case DatatypeEnum:
		u := readUint(b, len(b), order)
		if dt.IsBoolEnum() {
			return u != 0, nil
		}
		for i, v := range dt.EnumValues {
			if bytes.Equal(v, b) {
				return dt.EnumNames[i], nil
			}
		}
		return u, nil

	case DatatypeReference:
		if dt.RefType == 0 && r != nil {
			return utils.DecodeUint(b[:min(len(b), r.OffsetSize())]), nil
		}
		return append([]byte(nil), b...), nil

	case DatatypeCompound:
		m := make(map[string]any, len(dt.Members))
		for _, mem := range dt.Members {
			end := uint64(mem.Offset) + uint64(mem.Type.Size)
			if end > uint64(len(b)) {
				return nil, fmt.Errorf("member %q beyond element", mem.Name)
			}
			v, err := DecodeElement(r, mem.Type, b[mem.Offset:end])
			if err != nil {
				return nil, fmt.Errorf("member %q: %w", mem.Name, err)
			}
			m[mem.Name] = v
		}
		return m, nil

	case DatatypeArray:
		n := productU64(dt.ArrayDims)
		return DecodeValues(r, dt.Base, b, n)

	case DatatypeVarLen:
		if dt.VarLenString {
			return decodeVarLenString(r, dt, b)
		}
		data, count, err := varLenData(r, b)
		if err != nil {
			return nil, err
		}
		return DecodeValues(r, dt.Base, data, uint64(count))

	case DatatypeComplex:
		half := len(b) / 2
		re, err := readFloat(b[:half], order)
		if err != nil {
			return nil, err
		}
		im, err := readFloat(b[half:], order)
		if err != nil {
			return nil, err
		}
		return []any{re, im}, nil
	}
	return nil, fmt.Errorf("datatype class %d: %w", dt.Class, ErrUnsupported)
}

// DecodeFixedString strips the padding of a fixed-length string.
func DecodeFixedString(b []byte, padding uint8) string {
	switch padding {
	case PadSpacePad:
		return strings.TrimRight(string(b), " ")
	case PadNullPad:
		return string(bytes.TrimRight(b, "\x00"))
	default:
		return trimNul(b)
	}
}

func varLenData(r *Reader, b []byte) ([]byte, uint32, error) {
	if r == nil {
		return nil, 0, fmt.Errorf("variable-length data needs a file reader")
	}
	n, ref, err := DecodeVarLen(b, r.OffsetSize())
	if err != nil {
		return nil, 0, err
	}
	if n == 0 || ref.Collection == 0 || r.Undefined(ref.Collection) {
		return nil, 0, nil
	}
	data, err := r.GlobalHeap().Object(ref)
	if err != nil {
		return nil, 0, err
	}
	return data, n, nil
}

func decodeVarLenString(r *Reader, dt *Datatype, b []byte) (string, error) {
	data, n, err := varLenData(r, b)
	if err != nil {
		return "", err
	}
	if uint64(n) < uint64(len(data)) {
		data = data[:n]
	}
	return DecodeFixedString(data, dt.Padding), nil
}

func readUint(b []byte, size int, order binary.ByteOrder) uint64 {
	switch size {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(order.Uint16(b))
	case 4:
		return uint64(order.Uint32(b))
	case 8:
		return order.Uint64(b)
	}
	var v uint64
	if order == binary.BigEndian {
		for i := 0; i < size && i < 8; i++ {
			v = v<<8 | uint64(b[i])
		}
		return v
	}
	return utils.DecodeUint(b[:min(size, 8)])
}

func signExtend(u uint64, size int) int64 {
	if size >= 8 {
		return int64(u) //nolint:gosec // G115: two's complement reinterpretation
	}
	shift := uint(64 - size*8)
	return int64(u<<shift) >> shift //nolint:gosec // G115: two's complement reinterpretation
}

func readFloat(b []byte, order binary.ByteOrder) (float64, error) {
	switch len(b) {
	case 2:
		return float64(float16.Frombits(order.Uint16(b)).Float32()), nil
	case 4:
		return float64(math.Float32frombits(order.Uint32(b))), nil
	case 8:
		return math.Float64frombits(order.Uint64(b)), nil
	}
	return 0, fmt.Errorf("float of %d bytes: %w", len(b), ErrUnsupported)
}

func decodeIntegers(raw []byte, dt *Datatype, n int) (any, error) {
	order := dt.ByteOrder()
	switch {
	case dt.Size == 1 && dt.Signed:
		out := make([]int8, n)
		for i := range out {
			out[i] = int8(raw[i]) //nolint:gosec // G115: reinterpretation
		}
		return out, nil
	case dt.Size == 1:
		return append([]uint8(nil), raw[:n]...), nil
	case dt.Size == 2 && dt.Signed:
		out := make([]int16, n)
		for i := range out {
			out[i] = int16(order.Uint16(raw[i*2:])) //nolint:gosec // G115: reinterpretation
		}
		return out, nil
	case dt.Size == 2:
		out := make([]uint16, n)
		for i := range out {
			out[i] = order.Uint16(raw[i*2:])
		}
		return out, nil
	case dt.Size == 4 && dt.Signed:
		out := make([]int32, n)
		for i := range out {
			out[i] = int32(order.Uint32(raw[i*4:])) //nolint:gosec // G115: reinterpretation
		}
		return out, nil
	case dt.Size == 4:
		out := make([]uint32, n)
		for i := range out {
			out[i] = order.Uint32(raw[i*4:])
		}
		return out, nil
	case dt.Size == 8 && dt.Signed:
		out := make([]int64, n)
		for i := range out {
			out[i] = int64(order.Uint64(raw[i*8:])) //nolint:gosec // G115: reinterpretation
		}
		return out, nil
	case dt.Size == 8:
		out := make([]uint64, n)
		for i := range out {
			out[i] = order.Uint64(raw[i*8:])
		}
		return out, nil
	}
	return nil, fmt.Errorf("integer of %d bytes: %w", dt.Size, ErrUnsupported)
}

func decodeFloats(raw []byte, dt *Datatype, n int) (any, error) {
	order := dt.ByteOrder()
	switch dt.Size {
	case 2:
		out := make([]float32, n)
		for i := range out {
			out[i] = float16.Frombits(order.Uint16(raw[i*2:])).Float32()
		}
		return out, nil
	case 4:
		out := make([]float32, n)
		for i := range out {
			out[i] = math.Float32frombits(order.Uint32(raw[i*4:]))
		}
		return out, nil
	case 8:
		out := make([]float64, n)
		for i := range out {
			out[i] = math.Float64frombits(order.Uint64(raw[i*8:]))
		}
		return out, nil
	}
	return nil, fmt.Errorf("float of %d bytes: %w", dt.Size, ErrUnsupported)
}

// ToFloat64 widens a numeric slice produced by DecodeValues.
func ToFloat64(v any) ([]float64, error) {
	switch s := v.(type) {
	case []float64:
		return s, nil
	case []float32:
		return widen(s), nil
	case []int8:
		return widen(s), nil
	case []uint8:
		return widen(s), nil
	case []int16:
		return widen(s), nil
	case []uint16:
		return widen(s), nil
	case []int32:
		return widen(s), nil
	case []uint32:
		return widen(s), nil
	case []int64:
		return widen(s), nil
	case []uint64:
		return widen(s), nil
	}
	return nil, fmt.Errorf("%T is not numeric", v)
}

type number interface {
	~int8 | ~uint8 | ~int16 | ~uint16 | ~int32 | ~uint32 | ~int64 | ~uint64 | ~float32 | ~float64
}

func widen[T number](s []T) []float64 {
	out := make([]float64, len(s))
	for i, x := range s {
		out[i] = float64(x)
	}
	return out
}
