package core

import (
	"fmt"

	"github.com/scigolib/h5catalog/internal/utils"
)

// Attribute is a decoded attribute message: name, type, shape and the raw
// element bytes.
type Attribute struct {
	Name      string
	Datatype  *Datatype
	Dataspace *Dataspace
	Data      []byte
}

// Attribute message flag bits (versions 2 and 3).
const (
	attrDatatypeShared  = 0x01
	attrDataspaceShared = 0x02
)

// ParseAttributeMessage decodes an attribute message. Version 1 pads the
// name, datatype and dataspace to 8 bytes; versions 2 and 3 do not.
func ParseAttributeMessage(r *Reader, data []byte) (*Attribute, error) {
	d := r.Decoder(data)
	version := d.Uint8()
	flags := d.Uint8() // reserved in version 1
	nameSize := int(d.Uint16())
	typeSize := int(d.Uint16())
	spaceSize := int(d.Uint16())
	if version == 3 {
		d.Skip(1) // name character set
	}
	if version < 1 || version > 3 {
		return nil, fmt.Errorf("attribute message version %d: %w", version, ErrUnsupported)
	}

	pad := func(n int) int {
		if version == 1 {
			return utils.PaddedLen(n, 8)
		}
		return n
	}

	name := d.Bytes(pad(nameSize))
	typeRaw := d.Bytes(pad(typeSize))
	spaceRaw := d.Bytes(pad(spaceSize))
	if err := d.Err(); err != nil {
		return nil, utils.WrapError("attribute message", err)
	}

	a := &Attribute{Name: trimNul(name[:min(nameSize, len(name))])}

	var err error
	typeRaw = typeRaw[:min(typeSize, len(typeRaw))]
	if version > 1 && flags&attrDatatypeShared != 0 {
		typeRaw, err = resolveShared(r, MsgDatatype, typeRaw)
		if err != nil {
			return nil, utils.WrapError(fmt.Sprintf("attribute %q datatype", a.Name), err)
		}
	}
	if a.Datatype, err = ParseDatatype(typeRaw); err != nil {
		return nil, utils.WrapError(fmt.Sprintf("attribute %q", a.Name), err)
	}

	spaceRaw = spaceRaw[:min(spaceSize, len(spaceRaw))]
	if version > 1 && flags&attrDataspaceShared != 0 {
		return nil, fmt.Errorf("attribute %q shared dataspace: %w", a.Name, ErrUnsupported)
	}
	if a.Dataspace, err = ParseDataspace(spaceRaw, r.LengthSize()); err != nil {
		return nil, utils.WrapError(fmt.Sprintf("attribute %q", a.Name), err)
	}

	need, err := utils.SafeMultiply(a.Dataspace.NumElements(), uint64(a.Datatype.Size))
	if err != nil || need > utils.MaxAttributeSize {
		return nil, fmt.Errorf("attribute %q: data size too large", a.Name)
	}
	rest := d.Bytes(d.Remaining())
	if uint64(len(rest)) < need {
		return nil, fmt.Errorf("attribute %q: %d data bytes, need %d: %w", a.Name, len(rest), need, utils.ErrTruncated)
	}
	a.Data = rest[:need]
	return a, nil
}
