package core

import (
	"fmt"

	"github.com/scigolib/h5catalog/internal/utils"
)

// DataspaceKind distinguishes scalar, simple and null dataspaces.
type DataspaceKind uint8

// Dataspace kinds.
const (
	DataspaceScalar DataspaceKind = iota
	DataspaceSimple
	DataspaceNull
)

// Dataspace describes the shape of a dataset or attribute.
type Dataspace struct {
	Kind    DataspaceKind
	Dims    []uint64
	MaxDims []uint64 // nil when not stored
}

// unlimited is the max-dimension value for an extendible axis.
const unlimited = ^uint64(0)

// ParseDataspace decodes a dataspace message. Dimensions are stored with
// the file's length width.
func ParseDataspace(data []byte, lengthSize int) (*Dataspace, error) {
	d := utils.NewDecoder(data, 8, lengthSize)
	version := d.Uint8()
	rank := int(d.Uint8())
	flags := d.Uint8()

	ds := &Dataspace{Kind: DataspaceSimple}
	switch version {
	case 1:
		d.Skip(5)
		if rank == 0 {
			ds.Kind = DataspaceScalar
		}
	case 2:
		switch d.Uint8() {
		case 0:
			ds.Kind = DataspaceScalar
		case 1:
			ds.Kind = DataspaceSimple
		case 2:
			ds.Kind = DataspaceNull
		default:
			return nil, fmt.Errorf("invalid dataspace type")
		}
	default:
		return nil, fmt.Errorf("dataspace version %d: %w", version, ErrUnsupported)
	}

	if rank > 32 {
		return nil, fmt.Errorf("dataspace rank %d exceeds 32", rank)
	}
	if rank > 0 {
		ds.Dims = make([]uint64, rank)
		for i := range ds.Dims {
			ds.Dims[i] = d.Length()
		}
		if flags&0x01 != 0 {
			ds.MaxDims = make([]uint64, rank)
			for i := range ds.MaxDims {
				ds.MaxDims[i] = d.Length()
				if utils.IsUndefined(ds.MaxDims[i], lengthSize) {
					ds.MaxDims[i] = unlimited
				}
			}
		}
	}
	if err := d.Err(); err != nil {
		return nil, utils.WrapError("dataspace message", err)
	}
	return ds, nil
}

// NumElements returns the number of elements: 1 for scalar, 0 for null.
func (s *Dataspace) NumElements() uint64 {
	switch s.Kind {
	case DataspaceNull:
		return 0
	case DataspaceScalar:
		return 1
	}
	n, err := utils.ElementCount(s.Dims)
	if err != nil {
		return 0
	}
	return n
}

// IsUnlimited reports whether axis i may grow without bound.
func (s *Dataspace) IsUnlimited(i int) bool {
	return i < len(s.MaxDims) && s.MaxDims[i] == unlimited
}
