package hdf5

import (
	"sort"

	"github.com/scigolib/h5catalog/internal/core"
	"github.com/scigolib/h5catalog/internal/structures"
	"github.com/scigolib/h5catalog/internal/utils"
)

// Attribute is a named value attached to a group or dataset.
type Attribute struct {
	Name     string
	Datatype *core.Datatype

	// Shape is empty for scalar attributes.
	Shape []uint64

	// Scalar is set for scalar attributes; Value then returns one element.
	Scalar bool

	r   *core.Reader
	n   uint64
	raw []byte
}

// Raw returns the stored element bytes.
func (a *Attribute) Raw() []byte {
	return a.raw
}

// Len returns the number of elements.
func (a *Attribute) Len() uint64 {
	return a.n
}

// Value decodes the attribute. Scalars decode to a single value, other
// shapes to a flat slice as Dataset.Read does.
func (a *Attribute) Value() (any, error) {
	if a.Scalar {
		return core.DecodeElement(a.r, a.Datatype, a.raw)
	}
	return core.DecodeValues(a.r, a.Datatype, a.raw, a.n)
}

func newAttribute(r *core.Reader, m *core.Attribute) *Attribute {
	a := &Attribute{
		Name:     m.Name,
		Datatype: m.Datatype,
		r:        r,
		raw:      m.Data,
	}
	if m.Dataspace != nil {
		a.Shape = append([]uint64(nil), m.Dataspace.Dims...)
		a.Scalar = m.Dataspace.Kind == core.DataspaceScalar
		a.n = m.Dataspace.NumElements()
	}
	return a
}

// readAttributes collects the compact and dense attributes of the object
// header at address.
func readAttributes(r *core.Reader, address uint64) ([]*Attribute, error) {
	h, err := core.ReadObjectHeader(r, address)
	if err != nil {
		return nil, err
	}

	attrs := []*Attribute{}
	for _, msg := range h.All(core.MsgAttribute) {
		data, err := core.ResolveMessage(r, msg)
		if err != nil {
			return nil, err
		}
		m, err := core.ParseAttributeMessage(r, data)
		if err != nil {
			return nil, utils.WrapErrorAt("attribute", address, err)
		}
		attrs = append(attrs, newAttribute(r, m))
	}

	if msg := h.Find(core.MsgAttributeInfo); msg != nil {
		info, err := core.ParseAttributeInfo(msg.Data, r.OffsetSize())
		if err != nil {
			return nil, err
		}
		if info.Dense() {
			dense, err := readDenseAttributes(r, info)
			if err != nil {
				return nil, utils.WrapErrorAt("dense attributes", address, err)
			}
			attrs = append(attrs, dense...)
		}
	}

	sort.SliceStable(attrs, func(i, j int) bool { return attrs[i].Name < attrs[j].Name })
	return attrs, nil
}

func readDenseAttributes(r *core.Reader, info *core.DenseIndex) ([]*Attribute, error) {
	heap, err := structures.OpenFractalHeap(r, info.FractalHeap)
	if err != nil {
		return nil, err
	}
	bt, err := structures.ReadBTreeV2(r, info.NameBTree)
	if err != nil {
		return nil, err
	}
	records, err := bt.Records(r)
	if err != nil {
		return nil, err
	}

	attrs := make([]*Attribute, 0, len(records))
	for _, rec := range records {
		ar, err := structures.ParseAttributeNameRecord(rec)
		if err != nil {
			return nil, err
		}
		obj, err := heap.ReadObject(ar.HeapID)
		if err != nil {
			return nil, err
		}
		m, err := core.ParseAttributeMessage(r, obj)
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, newAttribute(r, m))
	}
	return attrs, nil
}
