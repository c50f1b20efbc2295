package h5catalog

import (
	"fmt"

	"github.com/scigolib/h5catalog/hdf5"
	"github.com/scigolib/h5catalog/internal/core"
)

// Endianness values of a DataType.
const (
	LittleEndian  = "little"
	BigEndian     = "big"
	NotApplicable = "not_applicable"
)

// DataType describes array elements with numpy-style kind codes:
// "i" signed, "u" unsigned, "f" float, "c" complex, "b" bool,
// "S" fixed bytes, "O" variable-length objects, "V" raw or structured,
// "m" time.
type DataType struct {
	Endianness string  `json:"endianness" cbor:"endianness"`
	Kind       string  `json:"kind" cbor:"kind"`
	ItemSize   uint32  `json:"itemsize" cbor:"itemsize"`
	Fields     []Field `json:"fields,omitempty" cbor:"fields,omitempty"`

	// Shape is set for array-typed elements.
	Shape []uint64 `json:"shape,omitempty" cbor:"shape,omitempty"`
}

// Field is one member of a structured DataType.
type Field struct {
	Name     string   `json:"name" cbor:"name"`
	Offset   uint32   `json:"offset" cbor:"offset"`
	DataType DataType `json:"dtype" cbor:"dtype"`
}

// ArrayStructure is the shape and block layout of an array. Chunks lists,
// per axis, the extent of every block along that axis.
type ArrayStructure struct {
	DataType  DataType   `json:"data_type" cbor:"data_type"`
	Chunks    [][]uint64 `json:"chunks" cbor:"chunks"`
	Shape     []uint64   `json:"shape" cbor:"shape"`
	Dims      []string   `json:"dims" cbor:"dims"`
	Resizable bool       `json:"resizable" cbor:"resizable"`
}

// Array is a node backed by an HDF5 dataset.
type Array struct {
	ds        *hdf5.Dataset
	meta      Metadata
	structure ArrayStructure
}

func newArray(ds *hdf5.Dataset) (*Array, error) {
	meta, err := readMetadata(ds)
	if err != nil {
		return nil, err
	}
	structure, err := structureOf(ds)
	if err != nil {
		return nil, err
	}
	return &Array{ds: ds, meta: meta, structure: structure}, nil
}

// StructureFamily returns FamilyArray.
func (a *Array) StructureFamily() StructureFamily {
	return FamilyArray
}

// Metadata returns the dataset attributes.
func (a *Array) Metadata() Metadata {
	return a.meta
}

// Path returns the HDF5 path of the dataset.
func (a *Array) Path() string {
	return a.ds.Path()
}

// Dataset returns the underlying HDF5 dataset.
func (a *Array) Dataset() *hdf5.Dataset {
	return a.ds
}

// Structure returns the shape, blocks and element type.
func (a *Array) Structure() ArrayStructure {
	return a.structure
}

// Read decodes every element into a flat slice in row-major order.
func (a *Array) Read() (any, error) {
	return a.ds.Read()
}

// ReadBytes returns every element as stored, in row-major order and in the
// byte order named by the structure's Endianness.
func (a *Array) ReadBytes() ([]byte, error) {
	return a.ds.ReadRaw()
}

// BlockShape returns the element extent of the block at the given block
// coordinates. Edge blocks are clipped to the array shape.
func (a *Array) BlockShape(block ...uint64) ([]uint64, error) {
	if a.ds.IsScalar() && len(block) == 0 {
		return []uint64{}, nil
	}
	_, count, err := a.ds.ChunkCoverage(block)
	return count, err
}

// ReadBlock decodes one block, flat in row-major order.
func (a *Array) ReadBlock(block ...uint64) (any, error) {
	if a.ds.IsScalar() && len(block) == 0 {
		return a.ds.Read()
	}
	start, count, err := a.ds.ChunkCoverage(block)
	if err != nil {
		return nil, err
	}
	return a.ds.ReadSlice(start, count)
}

// ReadBlockBytes is ReadBlock returning stored bytes.
func (a *Array) ReadBlockBytes(block ...uint64) ([]byte, error) {
	if a.ds.IsScalar() && len(block) == 0 {
		return a.ds.ReadRaw()
	}
	start, count, err := a.ds.ChunkCoverage(block)
	if err != nil {
		return nil, err
	}
	return a.ds.ReadSliceRaw(start, count)
}

// maxBlockEntries caps the block extents listed in an ArrayStructure,
// summed over all axes.
const maxBlockEntries = 1 << 22

func structureOf(ds *hdf5.Dataset) (ArrayStructure, error) {
	shape := ds.Shape()
	chunk := ds.ChunkShape()
	blockShape := make([]uint64, len(shape))
	total := uint64(0)
	for i, n := range shape {
		c := n
		if chunk != nil {
			c = chunk[i]
		}
		blockShape[i] = c
		total += blockCount(n, c)
		if total > maxBlockEntries {
			return ArrayStructure{}, fmt.Errorf("%s: shape %v in blocks of %v exceeds %d block entries",
				ds.Path(), shape, chunk, maxBlockEntries)
		}
	}
	chunks := make([][]uint64, len(shape))
	for i, n := range shape {
		chunks[i] = blockExtents(n, blockShape[i])
	}

	resizable := false
	for i, m := range ds.MaxShape() {
		if i < len(shape) && m != shape[i] {
			resizable = true
		}
	}
	return ArrayStructure{
		DataType:  dataTypeOf(ds.Datatype()),
		Chunks:    chunks,
		Shape:     shape,
		Resizable: resizable,
	}, nil
}

// blockCount is the number of blocks of size c along an axis of length n.
func blockCount(n, c uint64) uint64 {
	if n == 0 || c == 0 {
		return 1
	}
	return (n-1)/c + 1
}

// blockExtents splits an axis of length n into blocks of size c, the last
// one clipped.
func blockExtents(n, c uint64) []uint64 {
	if n == 0 || c == 0 {
		return []uint64{0}
	}
	out := make([]uint64, 0, blockCount(n, c))
	for off := uint64(0); off < n; off += c {
		out = append(out, min(c, n-off))
	}
	return out
}

func dataTypeOf(dt *core.Datatype) DataType {
	if dt == nil {
		return DataType{Endianness: NotApplicable, Kind: "V"}
	}
	out := DataType{Endianness: NotApplicable, ItemSize: dt.Size}
	order := func() string {
		if dt.Size == 1 {
			return NotApplicable
		}
		if dt.BigEndian {
			return BigEndian
		}
		return LittleEndian
	}

	switch dt.Class {
	case core.DatatypeFixed:
		out.Kind, out.Endianness = "u", order()
		if dt.Signed {
			out.Kind = "i"
		}
	case core.DatatypeFloat:
		out.Kind, out.Endianness = "f", order()
	case core.DatatypeBitfield:
		out.Kind, out.Endianness = "u", order()
	case core.DatatypeTime:
		out.Kind, out.Endianness = "m", order()
	case core.DatatypeComplex:
		out.Kind = "c"
		if dt.Base != nil {
			out.Endianness = dataTypeOf(dt.Base).Endianness
		}
	case core.DatatypeString:
		out.Kind = "S"
	case core.DatatypeVarLen, core.DatatypeReference:
		out.Kind = "O"
	case core.DatatypeEnum:
		if dt.IsBoolEnum() {
			out.Kind = "b"
			break
		}
		base := dataTypeOf(dt.Base)
		out.Kind, out.Endianness = base.Kind, base.Endianness
	case core.DatatypeArray:
		base := dataTypeOf(dt.Base)
		base.Shape = append([]uint64{}, dt.ArrayDims...)
		base.ItemSize = dt.Size
		return base
	case core.DatatypeCompound:
		out.Kind = "V"
		for _, m := range dt.Members {
			out.Fields = append(out.Fields, Field{Name: m.Name, Offset: m.Offset, DataType: dataTypeOf(m.Type)})
		}
	default:
		out.Kind = "V"
	}
	return out
}

// String renders the type in numpy's dtype.str form, e.g. "<i4".
func (t DataType) String() string {
	prefix := "|"
	switch t.Endianness {
	case LittleEndian:
		prefix = "<"
	case BigEndian:
		prefix = ">"
	}
	s := fmt.Sprintf("%s%s%d", prefix, t.Kind, t.ItemSize)
	if len(t.Shape) > 0 {
		s = fmt.Sprintf("%v%s", t.Shape, s)
	}
	return s
}
