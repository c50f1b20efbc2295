package core

import (
	"fmt"

	"github.com/scigolib/h5catalog/internal/utils"
)

// SharedTarget decodes a shared-message reference and returns the address
// of the object header holding the real message (a committed datatype).
// Messages kept in the shared object header message heap are not supported.
func SharedTarget(r *Reader, data []byte) (uint64, error) {
	d := r.Decoder(data)
	version := d.Uint8()
	typ := d.Uint8()
	switch version {
	case 1:
		d.Skip(6)
		d.Length() // embedded symbol table entry: heap offset
	case 2, 3:
		if typ == 1 {
			return 0, fmt.Errorf("shared message in SOHM heap: %w", ErrUnsupported)
		}
	default:
		return 0, fmt.Errorf("shared message version %d: %w", version, ErrUnsupported)
	}
	addr := d.Offset()
	if err := d.Err(); err != nil {
		return 0, utils.WrapError("shared message", err)
	}
	return addr, nil
}

// ResolveMessage returns the payload of msg, following a shared-message
// reference to the committed object when needed.
func ResolveMessage(r *Reader, msg *Message) ([]byte, error) {
	if !msg.Shared() {
		return msg.Data, nil
	}
	return resolveShared(r, msg.Type, msg.Data)
}

func resolveShared(r *Reader, typ MessageType, data []byte) ([]byte, error) {
	addr, err := SharedTarget(r, data)
	if err != nil {
		return nil, err
	}
	h, err := ReadObjectHeader(r, addr)
	if err != nil {
		return nil, utils.WrapError("shared message target", err)
	}
	target := h.Find(typ)
	if target == nil {
		return nil, utils.WrapErrorAt("shared message target", addr,
			fmt.Errorf("no message of type %d", typ))
	}
	if target.Shared() {
		return nil, utils.WrapErrorAt("shared message target", addr,
			fmt.Errorf("nested shared message"))
	}
	return target.Data, nil
}

// ReadDatatype decodes the datatype message of a header, resolving
// committed datatypes.
func ReadDatatype(r *Reader, h *ObjectHeader) (*Datatype, error) {
	msg := h.Find(MsgDatatype)
	if msg == nil {
		return nil, fmt.Errorf("no datatype message")
	}
	data, err := ResolveMessage(r, msg)
	if err != nil {
		return nil, err
	}
	return ParseDatatype(data)
}
