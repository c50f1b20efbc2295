package core

import (
	"fmt"

	"github.com/scigolib/h5catalog/internal/utils"
)

// LinkType defines the type of link (hard, soft, external).
type LinkType uint8

// Link type constants.
const (
	LinkTypeHard     LinkType = 0  // Hard link: direct reference to object
	LinkTypeSoft     LinkType = 1  // Soft link: symbolic path to object
	LinkTypeExternal LinkType = 64 // External link: reference to object in another file
)

// String returns the string representation of the link type.
func (lt LinkType) String() string {
	switch lt {
	case LinkTypeHard:
		return "hard"
	case LinkTypeSoft:
		return "soft"
	case LinkTypeExternal:
		return "external"
	default:
		return fmt.Sprintf("unknown(%d)", lt)
	}
}

// Link is a decoded link message, or a symbol table entry expressed as one.
//
// Format of the link message:
//   - Version (1 byte): always 1
//   - Flags (1 byte): name length width (bits 0-1), creation order present
//     (bit 2), link type present (bit 3), charset present (bit 4)
//   - Link type, creation order and charset when flagged
//   - Name length (1, 2, 4 or 8 bytes) and name
//   - Link information: an address (hard), a path (soft) or a
//     file/path pair (external)
type Link struct {
	Name          string
	Type          LinkType
	CreationOrder int64
	HasOrder      bool

	Address uint64 // hard
	Target  string // soft: path; external: object path

	ExternalFile string
}

// Link message flags.
const (
	linkFlagNameSizeMask = 0x03
	linkFlagOrder        = 0x04
	linkFlagType         = 0x08
	linkFlagCharset      = 0x10
)

// ParseLink decodes a link message.
func ParseLink(data []byte, offsetSize int) (*Link, error) {
	d := utils.NewDecoder(data, offsetSize, 8)
	if v := d.Uint8(); v != 1 {
		return nil, fmt.Errorf("link message version %d: %w", v, ErrUnsupported)
	}
	flags := d.Uint8()

	l := &Link{Type: LinkTypeHard}
	if flags&linkFlagType != 0 {
		l.Type = LinkType(d.Uint8())
	}
	if flags&linkFlagOrder != 0 {
		l.CreationOrder = int64(d.Uint64()) //nolint:gosec // G115: signed on disk
		l.HasOrder = true
	}
	if flags&linkFlagCharset != 0 {
		d.Skip(1)
	}
	nameLen := d.UintN(1 << (flags & linkFlagNameSizeMask))
	if d.Err() == nil && (nameLen == 0 || nameLen > utils.MaxStringSize) {
		return nil, fmt.Errorf("invalid link name length %d", nameLen)
	}
	l.Name = string(d.Bytes(int(nameLen)))

	switch l.Type {
	case LinkTypeHard:
		l.Address = d.Offset()
	case LinkTypeSoft:
		n := d.Uint16()
		l.Target = string(d.Bytes(int(n)))
	case LinkTypeExternal:
		n := d.Uint16()
		blob := d.Bytes(int(n))
		if len(blob) > 0 {
			bd := utils.NewDecoder(blob[1:], offsetSize, 8)
			l.ExternalFile = bd.CString()
			l.Target = bd.CString()
		}
	default:
		// User-defined links carry opaque data and are skipped by readers.
		n := d.Uint16()
		d.Skip(int(n))
	}

	if err := d.Err(); err != nil {
		return nil, utils.WrapError("link message", err)
	}
	return l, nil
}
