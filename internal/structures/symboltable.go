package structures

import (
	"fmt"

	"github.com/scigolib/h5catalog/internal/core"
	"github.com/scigolib/h5catalog/internal/utils"
)

// SymbolTableEntry is one entry of a symbol table node (or the root
// group entry of a version 0/1 superblock).
//
// Format:
//   - Link name offset into the local heap (offset width)
//   - Object header address (offset width)
//   - Cache type (4 bytes): 0 none, 1 group B-tree/heap, 2 soft link
//   - Reserved (4 bytes)
//   - Scratch pad (16 bytes)
type SymbolTableEntry struct {
	LinkNameOffset uint64
	ObjectAddress  uint64
	CacheType      uint32
	Scratch        []byte
}

// SymbolTable is the payload of a symbol table message (type 0x11).
type SymbolTable struct {
	BTreeAddress uint64
	HeapAddress  uint64
}

// ParseSymbolTableMessage decodes a symbol table message.
func ParseSymbolTableMessage(data []byte, offsetSize int) (*SymbolTable, error) {
	d := utils.NewDecoder(data, offsetSize, 8)
	st := &SymbolTable{BTreeAddress: d.Offset(), HeapAddress: d.Offset()}
	if err := d.Err(); err != nil {
		return nil, utils.WrapError("symbol table message", err)
	}
	return st, nil
}

// readSymbolTableNode reads an "SNOD" leaf of a group B-tree.
//
// Format:
//   - Signature "SNOD" (4 bytes), version 1 (1 byte), reserved (1 byte)
//   - Number of symbols (2 bytes)
//   - Entries
func readSymbolTableNode(r *core.Reader, address uint64) ([]SymbolTableEntry, error) {
	head, err := r.ReadAt(address, 8)
	if err != nil {
		return nil, utils.WrapErrorAt("symbol table node read failed", address, err)
	}
	d := r.Decoder(head)
	d.Signature("SNOD")
	version := d.Uint8()
	d.Skip(1)
	count := int(d.Uint16())
	if err := d.Err(); err != nil {
		return nil, utils.WrapErrorAt("symbol table node", address, err)
	}
	if version != 1 {
		return nil, utils.WrapErrorAt("symbol table node", address, fmt.Errorf("version %d: %w", version, core.ErrUnsupported))
	}

	entrySize := 2*r.OffsetSize() + 24
	body, err := r.ReadAt(address+8, uint64(count*entrySize))
	if err != nil {
		return nil, utils.WrapErrorAt("symbol table node entries read failed", address, err)
	}
	d = r.Decoder(body)
	entries := make([]SymbolTableEntry, count)
	for i := range entries {
		entries[i] = SymbolTableEntry{
			LinkNameOffset: d.Offset(),
			ObjectAddress:  d.Offset(),
			CacheType:      d.Uint32(),
		}
		d.Skip(4)
		entries[i].Scratch = d.Bytes(16)
	}
	if err := d.Err(); err != nil {
		return nil, utils.WrapErrorAt("symbol table node", address, err)
	}
	return entries, nil
}

// ReadGroupLinks lists the members of a symbol-table group as links.
// Entries cached as soft links (cache type 2) carry their target in the
// local heap.
func ReadGroupLinks(r *core.Reader, st *SymbolTable) ([]core.Link, error) {
	heap, err := LoadLocalHeap(r, st.HeapAddress)
	if err != nil {
		return nil, err
	}

	var links []core.Link
	err = walkBTreeV1(r, st.BTreeAddress, BTreeGroupNode, r.LengthSize(), func(_ []byte, child uint64) error {
		entries, err := readSymbolTableNode(r, child)
		if err != nil {
			return err
		}
		for _, e := range entries {
			name, err := heap.GetString(e.LinkNameOffset)
			if err != nil {
				return utils.WrapErrorAt("symbol table entry name", child, err)
			}
			link := core.Link{Name: name, Type: core.LinkTypeHard, Address: e.ObjectAddress}
			if e.CacheType == 2 {
				target, err := heap.GetString(utils.DecodeUint(e.Scratch[:4]))
				if err != nil {
					return utils.WrapErrorAt("soft link value", child, err)
				}
				link.Type = core.LinkTypeSoft
				link.Target = target
				link.Address = utils.UndefinedAddress
			}
			links = append(links, link)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return links, nil
}
