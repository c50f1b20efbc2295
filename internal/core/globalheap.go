package core

import (
	"fmt"
	"sync"

	"github.com/scigolib/h5catalog/internal/utils"
)

// GlobalHeapCollection is a parsed "GCOL" collection: the out-of-line
// storage of variable-length data.
//
// Collection format:
//   - Signature "GCOL", version 1, 3 reserved bytes
//   - Collection size (length width)
//   - Objects: index (2), reference count (2), reserved (4),
//     size (length width), data padded to 8 bytes.
//     Index 0 marks the free space at the end.
type GlobalHeapCollection struct {
	Address uint64
	Objects map[uint16][]byte
}

// GlobalHeapRef is the reference stored in place of a variable-length value.
type GlobalHeapRef struct {
	Collection uint64
	Index      uint32
}

// ReadGlobalHeapCollection reads the collection at address.
func ReadGlobalHeapCollection(r *Reader, address uint64) (*GlobalHeapCollection, error) {
	head, err := r.ReadAt(address, uint64(8+r.LengthSize()))
	if err != nil {
		return nil, utils.WrapErrorAt("global heap read failed", address, err)
	}
	d := r.Decoder(head)
	d.Signature("GCOL")
	version := d.Uint8()
	d.Skip(3)
	size := d.Length()
	if err := d.Err(); err != nil {
		return nil, utils.WrapErrorAt("global heap", address, err)
	}
	if version != 1 {
		return nil, utils.WrapErrorAt("global heap", address, fmt.Errorf("version %d: %w", version, ErrUnsupported))
	}
	if size < uint64(len(head)) {
		return nil, utils.WrapErrorAt("global heap", address, fmt.Errorf("collection size %d too small", size))
	}

	block, err := r.ReadUpTo(address, size)
	if err != nil {
		return nil, utils.WrapErrorAt("global heap read failed", address, err)
	}

	c := &GlobalHeapCollection{Address: address, Objects: map[uint16][]byte{}}
	d = r.Decoder(block)
	d.Seek(len(head))
	objHeader := 8 + r.LengthSize()
	for d.Remaining() >= objHeader {
		index := d.Uint16()
		d.Skip(2 + 4)
		osize := d.Length()
		if index == 0 {
			break
		}
		if osize > uint64(d.Remaining()) {
			return nil, utils.WrapErrorAt("global heap object", address,
				fmt.Errorf("object %d size %d exceeds collection", index, osize))
		}
		c.Objects[index] = d.Bytes(int(osize))
		d.Align(8)
	}
	if err := d.Err(); err != nil {
		return nil, utils.WrapErrorAt("global heap", address, err)
	}
	return c, nil
}

// GlobalHeapCache memoizes collections; variable-length datasets usually
// resolve many references into the same few collections.
type GlobalHeapCache struct {
	r    *Reader
	mu   sync.Mutex
	cols map[uint64]*GlobalHeapCollection
}

func newGlobalHeapCache(r *Reader) *GlobalHeapCache {
	return &GlobalHeapCache{r: r, cols: map[uint64]*GlobalHeapCollection{}}
}

// Object returns the bytes of the referenced heap object.
func (c *GlobalHeapCache) Object(ref GlobalHeapRef) ([]byte, error) {
	c.mu.Lock()
	col, ok := c.cols[ref.Collection]
	c.mu.Unlock()

	if !ok {
		var err error
		col, err = ReadGlobalHeapCollection(c.r, ref.Collection)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.cols[ref.Collection] = col
		c.mu.Unlock()
	}

	if ref.Index > 0xFFFF {
		return nil, fmt.Errorf("global heap index %d out of range", ref.Index)
	}
	data, ok := col.Objects[uint16(ref.Index)]
	if !ok {
		return nil, fmt.Errorf("global heap object %d not found in collection 0x%x", ref.Index, ref.Collection)
	}
	return data, nil
}

// DecodeVarLen splits a stored variable-length element into its sequence
// length and heap reference.
func DecodeVarLen(b []byte, offsetSize int) (uint32, GlobalHeapRef, error) {
	d := utils.NewDecoder(b, offsetSize, 8)
	n := d.Uint32()
	ref := GlobalHeapRef{Collection: d.Offset(), Index: d.Uint32()}
	return n, ref, d.Err()
}
