package structures

import (
	"fmt"

	"github.com/scigolib/h5catalog/internal/core"
	"github.com/scigolib/h5catalog/internal/utils"
)

// Version 1 B-tree node types.
const (
	BTreeGroupNode = 0
	BTreeChunkNode = 1
)

// maxBTreeDepth bounds recursion through corrupt trees.
const maxBTreeDepth = 64

// btreeV1Node is one "TREE" node: entries+1 keys interleaved with entries
// child pointers.
//
// Format:
//   - Signature "TREE" (4 bytes)
//   - Node type (1 byte): 0 group, 1 raw data chunk
//   - Node level (1 byte): 0 for leaves
//   - Entries used (2 bytes)
//   - Left and right sibling addresses (offset width each)
//   - key[0], child[0], key[1], ... child[n-1], key[n]
type btreeV1Node struct {
	Type     uint8
	Level    uint8
	Keys     [][]byte
	Children []uint64
}

func readBTreeV1Node(r *core.Reader, address uint64, nodeType uint8, keySize int) (*btreeV1Node, error) {
	head, err := r.ReadAt(address, uint64(8+2*r.OffsetSize()))
	if err != nil {
		return nil, utils.WrapErrorAt("B-tree node read failed", address, err)
	}
	d := r.Decoder(head)
	d.Signature("TREE")
	n := &btreeV1Node{Type: d.Uint8(), Level: d.Uint8()}
	entries := int(d.Uint16())
	if err := d.Err(); err != nil {
		return nil, utils.WrapErrorAt("B-tree node", address, err)
	}
	if n.Type != nodeType {
		return nil, utils.WrapErrorAt("B-tree node", address, fmt.Errorf("node type %d, expected %d", n.Type, nodeType))
	}

	bodySize := uint64(entries)*uint64(keySize+r.OffsetSize()) + uint64(keySize)
	body, err := r.ReadAt(address+uint64(len(head)), bodySize)
	if err != nil {
		return nil, utils.WrapErrorAt("B-tree node entries read failed", address, err)
	}
	d = r.Decoder(body)
	n.Keys = make([][]byte, 0, entries+1)
	n.Children = make([]uint64, 0, entries)
	for i := 0; i < entries; i++ {
		n.Keys = append(n.Keys, d.Bytes(keySize))
		n.Children = append(n.Children, d.Offset())
	}
	n.Keys = append(n.Keys, d.Bytes(keySize))
	if err := d.Err(); err != nil {
		return nil, utils.WrapErrorAt("B-tree node", address, err)
	}
	return n, nil
}

// walkBTreeV1 visits every leaf-level child pointer of the tree rooted at
// address, passing the key that precedes it.
func walkBTreeV1(r *core.Reader, address uint64, nodeType uint8, keySize int,
	visit func(key []byte, child uint64) error) error {
	seen := map[uint64]bool{}
	var walk func(addr uint64, depth int) error
	walk = func(addr uint64, depth int) error {
		if depth > maxBTreeDepth {
			return utils.WrapErrorAt("B-tree", addr, fmt.Errorf("depth exceeds %d", maxBTreeDepth))
		}
		if seen[addr] {
			return utils.WrapErrorAt("B-tree", addr, fmt.Errorf("node visited twice"))
		}
		seen[addr] = true

		n, err := readBTreeV1Node(r, addr, nodeType, keySize)
		if err != nil {
			return err
		}
		for i, child := range n.Children {
			if n.Level > 0 {
				if err := walk(child, depth+1); err != nil {
					return err
				}
				continue
			}
			if err := visit(n.Keys[i], child); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(address, 0)
}
