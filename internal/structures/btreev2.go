package structures

import (
	"fmt"
	"math/bits"

	"github.com/scigolib/h5catalog/internal/core"
	"github.com/scigolib/h5catalog/internal/utils"
)

// Version 2 B-tree record types used by the read path.
const (
	BTreeV2LinkName         = 5
	BTreeV2AttributeName    = 8
	BTreeV2Chunk            = 10
	BTreeV2FilteredChunk    = 11
	btreeV2MetadataOverhead = 10 // signature, version, type, checksum
)

// BTreeV2 is the header of a version 2 B-tree.
//
// Header format ("BTHD"):
//   - Signature (4), version 0 (1), record type (1)
//   - Node size (4), record size (2), depth (2)
//   - Split percent (1), merge percent (1)
//   - Root node address (offset width), root record count (2)
//   - Total records (length width)
//   - Checksum (4)
type BTreeV2 struct {
	Address      uint64
	Type         uint8
	NodeSize     uint32
	RecordSize   uint16
	Depth        uint16
	Root         uint64
	RootRecords  uint16
	TotalRecords uint64

	// maxNrecSize is the width of the per-child record count in internal
	// nodes; cumNrecSize[d] the width of the cumulative count below depth d.
	maxNrecSize int
	cumNrecSize []int
	maxNrec     []uint64
}

// ReadBTreeV2 reads and validates a version 2 B-tree header.
func ReadBTreeV2(r *core.Reader, address uint64) (*BTreeV2, error) {
	size := uint64(4+1+1+4+2+2+1+1+2+4) + uint64(r.OffsetSize()+r.LengthSize())
	buf, err := r.ReadAt(address, size)
	if err != nil {
		return nil, utils.WrapErrorAt("B-tree v2 header read failed", address, err)
	}
	if err := core.VerifyChecksum(buf, "B-tree v2 header"); err != nil {
		return nil, utils.WrapErrorAt("B-tree v2 header", address, err)
	}
	d := r.Decoder(buf)
	d.Signature("BTHD")
	version := d.Uint8()
	bt := &BTreeV2{
		Address:    address,
		Type:       d.Uint8(),
		NodeSize:   d.Uint32(),
		RecordSize: d.Uint16(),
		Depth:      d.Uint16(),
	}
	d.Skip(2) // split and merge percent
	bt.Root = d.Offset()
	bt.RootRecords = d.Uint16()
	bt.TotalRecords = d.Length()
	if err := d.Err(); err != nil {
		return nil, utils.WrapErrorAt("B-tree v2 header", address, err)
	}
	if version != 0 {
		return nil, utils.WrapErrorAt("B-tree v2 header", address, fmt.Errorf("version %d: %w", version, core.ErrUnsupported))
	}
	if bt.RecordSize == 0 || bt.NodeSize <= btreeV2MetadataOverhead || bt.Depth > maxBTreeDepth {
		return nil, utils.WrapErrorAt("B-tree v2 header", address,
			fmt.Errorf("invalid geometry: node size %d, record size %d, depth %d", bt.NodeSize, bt.RecordSize, bt.Depth))
	}
	bt.computeNodeInfo(r.OffsetSize())
	return bt, nil
}

func limitEncSize(n uint64) int {
	if n == 0 {
		return 1
	}
	return (bits.Len64(n)-1)/8 + 1
}

func (bt *BTreeV2) computeNodeInfo(offsetSize int) {
	depth := int(bt.Depth)
	bt.maxNrec = make([]uint64, depth+1)
	bt.cumNrecSize = make([]int, depth+1)
	cum := make([]uint64, depth+1)

	usable := uint64(bt.NodeSize - btreeV2MetadataOverhead)
	bt.maxNrec[0] = usable / uint64(bt.RecordSize)
	cum[0] = bt.maxNrec[0]
	bt.maxNrecSize = limitEncSize(bt.maxNrec[0])

	for u := 1; u <= depth; u++ {
		ptr := uint64(offsetSize + bt.maxNrecSize)
		if u > 1 {
			ptr += uint64(bt.cumNrecSize[u-1])
		}
		if usable > ptr {
			bt.maxNrec[u] = (usable - ptr) / (uint64(bt.RecordSize) + ptr)
		}
		cum[u] = (bt.maxNrec[u]+1)*cum[u-1] + bt.maxNrec[u]
		bt.cumNrecSize[u] = limitEncSize(cum[u])
	}
}

// Records returns every record in key order.
func (bt *BTreeV2) Records(r *core.Reader) ([][]byte, error) {
	if bt.Root == utils.UndefinedAddress || bt.TotalRecords == 0 {
		return nil, nil
	}
	out := make([][]byte, 0, min(bt.TotalRecords, 1<<16))
	if err := bt.collect(r, bt.Root, uint64(bt.RootRecords), int(bt.Depth), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (bt *BTreeV2) collect(r *core.Reader, address, nrec uint64, depth int, out *[][]byte) error {
	sig, what := "BTLF", "B-tree v2 leaf"
	if depth > 0 {
		sig, what = "BTIN", "B-tree v2 internal node"
	}
	if nrec > bt.maxNrec[depth] {
		return utils.WrapErrorAt(what, address, fmt.Errorf("%d records exceed node capacity %d", nrec, bt.maxNrec[depth]))
	}

	size := 6 + nrec*uint64(bt.RecordSize)
	ptrSize := 0
	if depth > 0 {
		ptrSize = r.OffsetSize() + bt.maxNrecSize
		if depth > 1 {
			ptrSize += bt.cumNrecSize[depth-1]
		}
		size += (nrec + 1) * uint64(ptrSize)
	}
	buf, err := r.ReadAt(address, size+4)
	if err != nil {
		return utils.WrapErrorAt(what+" read failed", address, err)
	}
	if err := core.VerifyChecksum(buf, what); err != nil {
		return utils.WrapErrorAt(what, address, err)
	}

	d := r.Decoder(buf)
	d.Signature(sig)
	d.Skip(1) // version
	if typ := d.Uint8(); d.Err() == nil && typ != bt.Type {
		return utils.WrapErrorAt(what, address, fmt.Errorf("record type %d, expected %d", typ, bt.Type))
	}
	records := make([][]byte, nrec)
	for i := range records {
		records[i] = d.Bytes(int(bt.RecordSize))
	}
	if depth == 0 {
		if err := d.Err(); err != nil {
			return utils.WrapErrorAt(what, address, err)
		}
		*out = append(*out, records...)
		return nil
	}

	type child struct {
		addr uint64
		nrec uint64
	}
	children := make([]child, nrec+1)
	for i := range children {
		children[i].addr = d.Offset()
		children[i].nrec = d.UintN(bt.maxNrecSize)
		if depth > 1 {
			d.UintN(bt.cumNrecSize[depth-1])
		}
	}
	if err := d.Err(); err != nil {
		return utils.WrapErrorAt(what, address, err)
	}
	for i, c := range children {
		if err := bt.collect(r, c.addr, c.nrec, depth-1, out); err != nil {
			return err
		}
		if i < len(records) {
			*out = append(*out, records[i])
		}
	}
	return nil
}

// LinkNameRecord is a type 5 record: name hash and fractal heap ID.
type LinkNameRecord struct {
	Hash   uint32
	HeapID []byte
}

// ParseLinkNameRecord decodes a type 5 record.
func ParseLinkNameRecord(rec []byte) (LinkNameRecord, error) {
	if len(rec) < 5 {
		return LinkNameRecord{}, fmt.Errorf("link name record of %d bytes: %w", len(rec), utils.ErrTruncated)
	}
	return LinkNameRecord{Hash: uint32(utils.DecodeUint(rec[:4])), HeapID: rec[4:]}, nil //nolint:gosec // G115: 4-byte field
}

// AttributeNameRecord is a type 8 record.
//
// Format: heap ID (8), message flags (1), creation order (4), hash (4).
type AttributeNameRecord struct {
	HeapID        []byte
	Flags         uint8
	CreationOrder uint32
	Hash          uint32
}

// ParseAttributeNameRecord decodes a type 8 record.
func ParseAttributeNameRecord(rec []byte) (AttributeNameRecord, error) {
	d := utils.NewDecoder(rec, 8, 8)
	a := AttributeNameRecord{HeapID: d.Bytes(8), Flags: d.Uint8(), CreationOrder: d.Uint32(), Hash: d.Uint32()}
	if err := d.Err(); err != nil {
		return AttributeNameRecord{}, utils.WrapError("attribute name record", err)
	}
	return a, nil
}
