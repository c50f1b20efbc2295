package hdf5

import (
	"errors"
	"fmt"

	"github.com/scigolib/h5catalog/internal/core"
	"github.com/scigolib/h5catalog/internal/utils"
)

// Unlimited is the MaxShape value of an axis without an upper bound.
const Unlimited = ^uint64(0)

// Dataset represents an HDF5 dataset. Metadata is decoded when the file is
// opened; values are read on demand.
type Dataset struct {
	file    *File
	name    string
	path    string
	address uint64
	soft    bool

	dtype   *core.Datatype
	space   *core.Dataspace
	layout  *core.DataLayout
	filters *core.FilterPipeline
	fill    *core.FillValue

	// layoutErr defers an unreadable layout to read time so the rest of
	// the file stays browsable.
	layoutErr error
}

func newDataset(f *File, name, p string, h *core.ObjectHeader) (*Dataset, error) {
	r := f.r
	d := &Dataset{file: f, name: name, path: p, address: h.Address}

	msg := h.Find(core.MsgDataspace)
	if msg == nil {
		return nil, utils.WrapErrorAt("dataset "+p, h.Address, errors.New("no dataspace message"))
	}
	data, err := core.ResolveMessage(r, msg)
	if err != nil {
		return nil, utils.WrapErrorAt("dataset "+p+" dataspace", h.Address, err)
	}
	if d.space, err = core.ParseDataspace(data, r.LengthSize()); err != nil {
		return nil, utils.WrapErrorAt("dataset "+p, h.Address, err)
	}
	if d.dtype, err = core.ReadDatatype(r, h); err != nil {
		return nil, utils.WrapErrorAt("dataset "+p+" datatype", h.Address, err)
	}

	if msg := h.Find(core.MsgFilterPipeline); msg != nil {
		data, err := core.ResolveMessage(r, msg)
		if err == nil {
			d.filters, err = core.ParseFilterPipeline(data)
		}
		if err != nil {
			return nil, utils.WrapErrorAt("dataset "+p+" filters", h.Address, err)
		}
	}
	if d.fill, err = core.ReadFillValue(h); err != nil {
		return nil, utils.WrapErrorAt("dataset "+p, h.Address, err)
	}

	d.layout, d.layoutErr = core.ParseDataLayout(h.Find(core.MsgDataLayout).Data, r.OffsetSize(), r.LengthSize())
	if d.layoutErr == nil {
		d.layoutErr = d.checkLayout()
	}
	if d.layoutErr != nil && !errors.Is(d.layoutErr, core.ErrUnsupported) {
		return nil, utils.WrapErrorAt("dataset "+p, h.Address, d.layoutErr)
	}
	return d, nil
}

func (d *Dataset) checkLayout() error {
	l := d.layout
	switch l.Class {
	case core.LayoutVirtual:
		return fmt.Errorf("virtual dataset: %w", core.ErrUnsupported)
	case core.LayoutChunked:
		if l.IndexType == core.ChunkIndexExtensibleArray {
			return fmt.Errorf("extensible array chunk index: %w", core.ErrUnsupported)
		}
		if len(l.ChunkDims) != len(d.space.Dims) {
			return fmt.Errorf("chunk rank %d does not match dataspace rank %d", len(l.ChunkDims), len(d.space.Dims))
		}
		if l.ElementSize != d.dtype.Size {
			return fmt.Errorf("chunk element size %d does not match datatype size %d", l.ElementSize, d.dtype.Size)
		}
	}
	return nil
}

// Name returns the dataset's link name.
func (d *Dataset) Name() string {
	return d.name
}

// Path returns the dataset's absolute path.
func (d *Dataset) Path() string {
	return d.path
}

// Address returns the object header address.
func (d *Dataset) Address() uint64 {
	return d.address
}

// IsSoftLink reports whether the dataset was reached through a soft link.
func (d *Dataset) IsSoftLink() bool {
	return d.soft
}

// Attributes returns the attributes attached to the dataset.
func (d *Dataset) Attributes() ([]*Attribute, error) {
	return readAttributes(d.file.r, d.address)
}

// Datatype returns the element type.
func (d *Dataset) Datatype() *core.Datatype {
	return d.dtype
}

// Shape returns the current dimensions; empty for scalar and null datasets.
func (d *Dataset) Shape() []uint64 {
	return append([]uint64{}, d.space.Dims...)
}

// MaxShape returns the maximum dimensions, with Unlimited for extendible
// axes. It equals Shape when the file does not record maximums.
func (d *Dataset) MaxShape() []uint64 {
	if d.space.MaxDims == nil {
		return d.Shape()
	}
	return append([]uint64{}, d.space.MaxDims...)
}

// ChunkShape returns the chunk dimensions, or nil when not chunked.
func (d *Dataset) ChunkShape() []uint64 {
	if d.layout == nil || d.layout.Class != core.LayoutChunked {
		return nil
	}
	return append([]uint64{}, d.layout.ChunkDims...)
}

// Layout returns the storage layout name: "compact", "contiguous",
// "chunked" or "virtual".
func (d *Dataset) Layout() string {
	if d.layout == nil {
		return "unknown"
	}
	return d.layout.Class.String()
}

// Filters returns the names of the filters applied to stored chunks.
func (d *Dataset) Filters() []string {
	if d.filters == nil {
		return nil
	}
	names := make([]string, len(d.filters.Filters))
	for i, f := range d.filters.Filters {
		names[i] = f.Name
		if names[i] == "" {
			names[i] = core.FilterName(f.ID)
		}
	}
	return names
}

// IsScalar reports whether the dataset holds a single element without
// dimensions.
func (d *Dataset) IsScalar() bool {
	return d.space.Kind == core.DataspaceScalar
}

// NumElements returns the number of elements: 1 for scalars, 0 for null
// dataspaces.
func (d *Dataset) NumElements() uint64 {
	return d.space.NumElements()
}

// ReadRaw returns every element as stored, in row-major order and in the
// file's byte order.
func (d *Dataset) ReadRaw() ([]byte, error) {
	if d.space.Kind != core.DataspaceSimple {
		return d.readAll()
	}
	return d.readBox(make([]uint64, len(d.space.Dims)), d.space.Dims)
}

// Read decodes every element. Numeric types decode to typed slices
// ([]float64, []int32, ...), booleans to []bool, strings to []string and
// everything else to []any. A scalar dataset decodes to a one-element
// slice.
func (d *Dataset) Read() (any, error) {
	raw, err := d.ReadRaw()
	if err != nil {
		return nil, err
	}
	return d.decode(raw, d.NumElements())
}

// ReadFloat64 reads a numeric dataset widened to float64.
func (d *Dataset) ReadFloat64() ([]float64, error) {
	v, err := d.Read()
	if err != nil {
		return nil, err
	}
	out, err := core.ToFloat64(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.path, err)
	}
	return out, nil
}

// ReadStrings reads a fixed- or variable-length string dataset.
func (d *Dataset) ReadStrings() ([]string, error) {
	v, err := d.Read()
	if err != nil {
		return nil, err
	}
	s, ok := v.([]string)
	if !ok {
		return nil, fmt.Errorf("%s: %s is not a string type", d.path, d.dtype)
	}
	return s, nil
}

func (d *Dataset) decode(raw []byte, n uint64) (any, error) {
	v, err := core.DecodeValues(d.file.r, d.dtype, raw, n)
	if err != nil {
		return nil, utils.WrapError(d.path, err)
	}
	return v, nil
}
