package core

import (
	"fmt"

	"github.com/scigolib/h5catalog/internal/utils"
)

// DenseIndex locates dense storage for links or attributes: a fractal heap
// holding the messages and a version 2 B-tree indexing them by name.
// Both addresses are undefined while the object uses compact storage.
type DenseIndex struct {
	FractalHeap        uint64
	NameBTree          uint64
	CreationOrderBTree uint64
}

// Dense reports whether dense storage is in use.
func (di *DenseIndex) Dense() bool {
	return di.FractalHeap != utils.UndefinedAddress && di.NameBTree != utils.UndefinedAddress
}

// ParseLinkInfo decodes a link info message (type 0x02).
func ParseLinkInfo(data []byte, offsetSize int) (*DenseIndex, error) {
	di, err := parseDenseIndex(data, offsetSize, 8)
	if err != nil {
		return nil, utils.WrapError("link info message", err)
	}
	return di, nil
}

// ParseAttributeInfo decodes an attribute info message (type 0x15). Its
// maximum creation index is 2 bytes wide where the link info's is 8.
func ParseAttributeInfo(data []byte, offsetSize int) (*DenseIndex, error) {
	di, err := parseDenseIndex(data, offsetSize, 2)
	if err != nil {
		return nil, utils.WrapError("attribute info message", err)
	}
	return di, nil
}

func parseDenseIndex(data []byte, offsetSize, maxIndexWidth int) (*DenseIndex, error) {
	d := utils.NewDecoder(data, offsetSize, 8)
	if v := d.Uint8(); v != 0 {
		return nil, fmt.Errorf("version %d: %w", v, ErrUnsupported)
	}
	flags := d.Uint8()
	if flags&0x01 != 0 {
		d.Skip(maxIndexWidth)
	}
	di := &DenseIndex{
		FractalHeap:        d.Offset(),
		NameBTree:          d.Offset(),
		CreationOrderBTree: utils.UndefinedAddress,
	}
	if flags&0x02 != 0 {
		di.CreationOrderBTree = d.Offset()
	}
	return di, d.Err()
}
