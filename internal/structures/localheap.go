package structures

import (
	"bytes"
	"fmt"

	"github.com/scigolib/h5catalog/internal/core"
	"github.com/scigolib/h5catalog/internal/utils"
)

// LocalHeap holds the names of a symbol-table group.
//
// Format:
//
//	Header:
//	  - Signature: "HEAP" (4 bytes)
//	  - Version: 0 (1 byte)
//	  - Reserved: 0 (3 bytes)
//	  - Data segment size (length width)
//	  - Offset to head of free list (length width)
//	  - Data segment address (offset width)
//	Data segment:
//	  - NUL-terminated strings, each padded to 8 bytes
type LocalHeap struct {
	Address     uint64
	DataAddress uint64
	Data        []byte
}

// LoadLocalHeap loads a local heap and its data segment.
func LoadLocalHeap(r *core.Reader, address uint64) (*LocalHeap, error) {
	head, err := r.ReadAt(address, uint64(8+2*r.LengthSize()+r.OffsetSize()))
	if err != nil {
		return nil, utils.WrapErrorAt("local heap header read failed", address, err)
	}
	d := r.Decoder(head)
	d.Signature("HEAP")
	version := d.Uint8()
	d.Skip(3)
	size := d.Length()
	d.Length() // free list
	dataAddr := d.Offset()
	if err := d.Err(); err != nil {
		return nil, utils.WrapErrorAt("local heap", address, err)
	}
	if version != 0 {
		return nil, utils.WrapErrorAt("local heap", address, fmt.Errorf("version %d: %w", version, core.ErrUnsupported))
	}
	if size > utils.MaxStringSize*4 {
		return nil, utils.WrapErrorAt("local heap", address, fmt.Errorf("data segment of %d bytes too large", size))
	}

	data, err := r.ReadAt(dataAddr, size)
	if err != nil {
		return nil, utils.WrapErrorAt("local heap data read failed", dataAddr, err)
	}
	return &LocalHeap{Address: address, DataAddress: dataAddr, Data: data}, nil
}

// GetString returns the NUL-terminated string at offset.
func (lh *LocalHeap) GetString(offset uint64) (string, error) {
	if offset >= uint64(len(lh.Data)) {
		return "", fmt.Errorf("local heap offset %d beyond data segment of %d bytes", offset, len(lh.Data))
	}
	rest := lh.Data[offset:]
	end := bytes.IndexByte(rest, 0)
	if end < 0 {
		return "", fmt.Errorf("unterminated string at local heap offset %d", offset)
	}
	return string(rest[:end]), nil
}
