package core

import (
	"fmt"

	"github.com/scigolib/h5catalog/internal/utils"
)

// FillValue is the value of unwritten dataset elements.
type FillValue struct {
	Defined bool
	Value   []byte
}

// ParseFillValue decodes a fill value message (type 0x05, versions 1-3).
func ParseFillValue(data []byte) (*FillValue, error) {
	d := utils.NewDecoder(data, 8, 8)
	version := d.Uint8()
	fv := &FillValue{}

	switch version {
	case 1, 2:
		d.Skip(2) // space allocation time, fill value write time
		defined := d.Uint8() != 0
		if version == 1 || defined {
			size := d.Uint32()
			if size > 0 {
				fv.Value = d.Bytes(int(size))
				fv.Defined = true
			}
		}
	case 3:
		flags := d.Uint8()
		if flags&0x20 != 0 {
			size := d.Uint32()
			fv.Value = d.Bytes(int(size))
			fv.Defined = size > 0
		}
	default:
		return nil, fmt.Errorf("fill value version %d: %w", version, ErrUnsupported)
	}
	if err := d.Err(); err != nil {
		return nil, utils.WrapError("fill value message", err)
	}
	return fv, nil
}

// ParseOldFillValue decodes the original fill value message (type 0x04).
func ParseOldFillValue(data []byte) (*FillValue, error) {
	d := utils.NewDecoder(data, 8, 8)
	size := d.Uint32()
	fv := &FillValue{Value: d.Bytes(int(size)), Defined: size > 0}
	if err := d.Err(); err != nil {
		return nil, utils.WrapError("old fill value message", err)
	}
	return fv, nil
}

// ReadFillValue returns the fill value declared by a dataset header,
// preferring the newer message. A nil result means zero fill.
func ReadFillValue(h *ObjectHeader) (*FillValue, error) {
	if msg := h.Find(MsgFillValue); msg != nil {
		return ParseFillValue(msg.Data)
	}
	if msg := h.Find(MsgFillValueOld); msg != nil {
		return ParseOldFillValue(msg.Data)
	}
	return nil, nil
}
