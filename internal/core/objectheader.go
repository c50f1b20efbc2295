package core

import (
	"errors"
	"fmt"

	"github.com/scigolib/h5catalog/internal/utils"
)

// MessageType identifies the type of message in an object header.
type MessageType uint16

// Header message types decoded by the read path.
const (
	MsgNil            MessageType = 0x00
	MsgDataspace      MessageType = 0x01
	MsgLinkInfo       MessageType = 0x02
	MsgDatatype       MessageType = 0x03
	MsgFillValueOld   MessageType = 0x04
	MsgFillValue      MessageType = 0x05
	MsgLink           MessageType = 0x06
	MsgExternalFiles  MessageType = 0x07
	MsgDataLayout     MessageType = 0x08
	MsgGroupInfo      MessageType = 0x0A
	MsgFilterPipeline MessageType = 0x0B
	MsgAttribute      MessageType = 0x0C
	MsgComment        MessageType = 0x0D
	MsgContinuation   MessageType = 0x10
	MsgSymbolTable    MessageType = 0x11
	MsgModTime        MessageType = 0x12
	MsgAttributeInfo  MessageType = 0x15
)

// Header message flag bits.
const (
	MsgFlagConstant = 0x01
	MsgFlagShared   = 0x02
)

// ObjectKind classifies an object by the messages its header carries.
type ObjectKind uint8

// Object kinds.
const (
	KindUnknown ObjectKind = iota
	KindGroup
	KindDataset
	KindDatatype
)

// String returns a lower-case kind name.
func (k ObjectKind) String() string {
	switch k {
	case KindGroup:
		return "group"
	case KindDataset:
		return "dataset"
	case KindDatatype:
		return "datatype"
	default:
		return "unknown"
	}
}

// Message is a single header message with its raw payload.
type Message struct {
	Type  MessageType
	Flags uint8
	Data  []byte
}

// Shared reports whether the payload is a shared-message reference.
func (m *Message) Shared() bool {
	return m.Flags&MsgFlagShared != 0
}

// ObjectHeader is a decoded object header: every message across the first
// chunk and all continuation chunks, in file order.
type ObjectHeader struct {
	Address  uint64
	Version  uint8
	Messages []Message
}

// maxHeaderChunks bounds continuation chains in corrupt files.
const maxHeaderChunks = 4096

// ReadObjectHeader reads the object header at address. Version 1 headers
// have no signature; version 2 headers start with "OHDR".
func ReadObjectHeader(r *Reader, address uint64) (*ObjectHeader, error) {
	prefix, err := r.ReadUpTo(address, 16)
	if err != nil {
		return nil, utils.WrapErrorAt("object header read failed", address, err)
	}

	var h *ObjectHeader
	switch {
	case len(prefix) >= 4 && string(prefix[:4]) == "OHDR":
		h, err = readHeaderV2(r, address)
	case len(prefix) > 0 && prefix[0] == 1:
		h, err = readHeaderV1(r, address)
	default:
		err = fmt.Errorf("unrecognized object header prefix % x", prefix[:min(len(prefix), 4)])
	}
	if err != nil {
		return nil, utils.WrapErrorAt("object header", address, err)
	}
	return h, nil
}

type headerChunk struct {
	addr, size uint64
}

func readHeaderV1(r *Reader, address uint64) (*ObjectHeader, error) {
	prefix, err := r.ReadAt(address, 16)
	if err != nil {
		return nil, err
	}
	d := r.Decoder(prefix)
	version := d.Uint8()
	d.Skip(1)
	d.Uint16() // message count, recomputed from the chunks
	d.Uint32() // reference count
	size := uint64(d.Uint32())

	h := &ObjectHeader{Address: address, Version: version}
	queue := []headerChunk{{addr: address + 16, size: size}}
	seen := map[uint64]bool{}

	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		if seen[c.addr] || len(seen) >= maxHeaderChunks {
			return nil, errors.New("object header continuation loop")
		}
		seen[c.addr] = true

		chunk, err := r.ReadAt(c.addr, c.size)
		if err != nil {
			return nil, utils.WrapErrorAt("header chunk read failed", c.addr, err)
		}
		cd := r.Decoder(chunk)
		for cd.Remaining() >= 8 {
			typ := MessageType(cd.Uint16())
			msize := int(cd.Uint16())
			flags := cd.Uint8()
			cd.Skip(3)
			data := cd.Bytes(msize)
			if err := cd.Err(); err != nil {
				return nil, utils.WrapErrorAt("header message", c.addr, err)
			}
			next, err := h.add(r, typ, flags, data)
			if err != nil {
				return nil, err
			}
			if next != nil {
				queue = append(queue, *next)
			}
			cd.Align(8)
		}
	}
	return h, nil
}

// Version 2 header flag bits.
const (
	ohdrTrackCreationOrder = 0x04
	ohdrAttrPhaseChange    = 0x10
	ohdrStoreTimes         = 0x20
)

func readHeaderV2(r *Reader, address uint64) (*ObjectHeader, error) {
	// Largest possible prefix: sig, version, flags, 4 times, phase change, 8-byte size.
	prefix, err := r.ReadUpTo(address, 4+1+1+16+4+8)
	if err != nil {
		return nil, err
	}
	d := r.Decoder(prefix)
	d.Signature("OHDR")
	version := d.Uint8()
	flags := d.Uint8()
	if flags&ohdrStoreTimes != 0 {
		d.Skip(16)
	}
	if flags&ohdrAttrPhaseChange != 0 {
		d.Skip(4)
	}
	size := d.UintN(1 << (flags & 0x03))
	if err := d.Err(); err != nil {
		return nil, err
	}
	if version != 2 {
		return nil, fmt.Errorf("OHDR version %d: %w", version, ErrUnsupported)
	}

	start := uint64(d.Pos())
	block, err := r.ReadAt(address, start+size+4)
	if err != nil {
		return nil, err
	}
	if err := VerifyChecksum(block, "object header"); err != nil {
		return nil, err
	}

	h := &ObjectHeader{Address: address, Version: version}
	queue, err := h.parseV2Messages(r, block[start:start+size], flags)
	if err != nil {
		return nil, err
	}

	seen := map[uint64]bool{}
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		if seen[c.addr] || len(seen) >= maxHeaderChunks {
			return nil, errors.New("object header continuation loop")
		}
		seen[c.addr] = true

		chunk, err := r.ReadAt(c.addr, c.size)
		if err != nil {
			return nil, utils.WrapErrorAt("header chunk read failed", c.addr, err)
		}
		if len(chunk) < 8 || string(chunk[:4]) != "OCHK" {
			return nil, utils.WrapErrorAt("continuation chunk", c.addr, errors.New("missing OCHK signature"))
		}
		if err := VerifyChecksum(chunk, "continuation chunk"); err != nil {
			return nil, err
		}
		more, err := h.parseV2Messages(r, chunk[4:len(chunk)-4], flags)
		if err != nil {
			return nil, err
		}
		queue = append(queue, more...)
	}
	return h, nil
}

func (h *ObjectHeader) parseV2Messages(r *Reader, data []byte, flags uint8) ([]headerChunk, error) {
	hdrLen := 4
	if flags&ohdrTrackCreationOrder != 0 {
		hdrLen = 6
	}
	var next []headerChunk
	d := r.Decoder(data)
	// Trailing bytes shorter than a message header are a gap.
	for d.Remaining() >= hdrLen {
		typ := MessageType(d.Uint8())
		msize := int(d.Uint16())
		mflags := d.Uint8()
		if hdrLen == 6 {
			d.Skip(2)
		}
		payload := d.Bytes(msize)
		if err := d.Err(); err != nil {
			return nil, err
		}
		c, err := h.add(r, typ, mflags, payload)
		if err != nil {
			return nil, err
		}
		if c != nil {
			next = append(next, *c)
		}
	}
	return next, nil
}

// add records a message. Continuations are returned to the caller instead.
func (h *ObjectHeader) add(r *Reader, typ MessageType, flags uint8, data []byte) (*headerChunk, error) {
	switch typ {
	case MsgNil:
		return nil, nil
	case MsgContinuation:
		d := r.Decoder(data)
		c := headerChunk{addr: d.Offset(), size: d.Length()}
		if err := d.Err(); err != nil {
			return nil, utils.WrapError("continuation message", err)
		}
		return &c, nil
	}
	h.Messages = append(h.Messages, Message{Type: typ, Flags: flags, Data: data})
	return nil, nil
}

// Find returns the first message of type t, or nil.
func (h *ObjectHeader) Find(t MessageType) *Message {
	for i := range h.Messages {
		if h.Messages[i].Type == t {
			return &h.Messages[i]
		}
	}
	return nil
}

// All returns every message of type t in header order.
func (h *ObjectHeader) All(t MessageType) []*Message {
	var out []*Message
	for i := range h.Messages {
		if h.Messages[i].Type == t {
			out = append(out, &h.Messages[i])
		}
	}
	return out
}

// Kind classifies the object. A layout message marks a dataset; link,
// link info and symbol table messages mark a group; a lone datatype
// message marks a committed datatype.
func (h *ObjectHeader) Kind() ObjectKind {
	switch {
	case h.Find(MsgDataLayout) != nil:
		return KindDataset
	case h.Find(MsgSymbolTable) != nil, h.Find(MsgLinkInfo) != nil,
		h.Find(MsgLink) != nil, h.Find(MsgGroupInfo) != nil:
		return KindGroup
	case h.Find(MsgDatatype) != nil:
		return KindDatatype
	default:
		return KindUnknown
	}
}
