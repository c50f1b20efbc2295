package h5test

import (
	"fmt"
	"math/bits"
	"sort"

	"github.com/scigolib/h5catalog/internal/core"
)

const (
	heapWidth         = 4
	heapMaxBlocks     = 2 * heapWidth // two direct rows under the root
	heapOffsetBytes   = 4             // 32-bit heap address space
	directBlockPrefix = 5 + 8 + heapOffsetBytes
	defaultHeapBlock  = 512
)

func (b *builder) denseLinks(links []link, blockSize uint64) (uint64, uint64, error) {
	if len(links) == 0 {
		return undefined, undefined, nil
	}
	objs := make([][]byte, len(links))
	for i, l := range links {
		objs[i] = encodeLink(l)
	}
	heap, ids, err := b.fractalHeap(objs, 0, blockSize)
	if err != nil {
		return 0, 0, err
	}

	records := make([][]byte, len(links))
	for i, l := range links {
		records[i] = append(le32(nil, core.Lookup3([]byte(l.name))), ids[i]...)
	}
	sortByHash(records)
	return heap, b.btreeV2(5, 4+len(ids[0]), records), nil
}

func (b *builder) denseAttributes(names []string, encoded [][]byte, blockSize uint64) (uint64, uint64, error) {
	if len(names) == 0 {
		return undefined, undefined, nil
	}
	heap, ids, err := b.fractalHeap(encoded, 8, blockSize)
	if err != nil {
		return 0, 0, err
	}
	records := make([][]byte, len(names))
	for i, name := range names {
		rec := append([]byte(nil), ids[i]...)
		rec = append(rec, 0)
		rec = le32(rec, uint32(i)) //nolint:gosec // G115: small
		records[i] = le32(rec, core.Lookup3([]byte(name)))
	}
	return heap, b.btreeV2(8, 17, records), nil
}

func sortByHash(records [][]byte) {
	sort.SliceStable(records, func(i, j int) bool {
		return le32val(records[i]) < le32val(records[j])
	})
}

func le32val(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func limitEncSize(n uint64) int {
	if n == 0 {
		return 1
	}
	return (bits.Len64(n)-1)/8 + 1
}

// fractalHeap writes objs as managed objects and returns the heap address
// and one heap ID per object. idLen 0 uses the minimal ID length.
//
// Everything fits one direct root block when possible; otherwise the root
// is an indirect block with two rows of direct blocks, all of the starting
// size.
func (b *builder) fractalHeap(objs [][]byte, idLen int, start uint64) (uint64, [][]byte, error) {
	if len(objs) == 0 {
		return 0, nil, fmt.Errorf("empty fractal heap")
	}
	if start == 0 {
		start = defaultHeapBlock
	}
	largest := 0
	for _, o := range objs {
		largest = max(largest, len(o))
	}
	for start-directBlockPrefix < uint64(largest) {
		start *= 2
	}
	maxManaged := start - directBlockPrefix
	lengthBytes := min((bits.Len64(start)-1+7)/8, limitEncSize(maxManaged))
	if idLen == 0 {
		idLen = 1 + heapOffsetBytes + lengthBytes
	}

	// Pack objects into blocks.
	type placed struct{ block, pos int }
	places := make([]placed, len(objs))
	blocks := [][]byte{nil}
	for i, o := range objs {
		cur := len(blocks) - 1
		if uint64(directBlockPrefix+len(blocks[cur])+len(o)) > start {
			blocks = append(blocks, nil)
			cur++
		}
		places[i] = placed{block: cur, pos: directBlockPrefix + len(blocks[cur])}
		blocks[cur] = append(blocks[cur], o...)
	}
	if len(blocks) > heapMaxBlocks {
		return 0, nil, fmt.Errorf("%d objects need %d heap blocks, at most %d supported", len(objs), len(blocks), heapMaxBlocks)
	}

	hdrAddr := b.alloc(146)
	blockAddrs := make([]uint64, len(blocks))
	for k, content := range blocks {
		blk := append([]byte("FHDB"), 0)
		blk = le64(blk, hdrAddr)
		blk = le32(blk, uint32(uint64(k)*start)) //nolint:gosec // G115: small
		blk = append(blk, content...)
		blk = append(blk, make([]byte, int(start)-len(blk))...)
		blockAddrs[k] = b.write(blk)
	}

	root, rows := blockAddrs[0], uint16(0)
	if len(blocks) > 1 {
		ib := append([]byte("FHIB"), 0)
		ib = le64(ib, hdrAddr)
		ib = le32(ib, 0)
		for k := 0; k < heapMaxBlocks; k++ {
			addr := undefined
			if k < len(blockAddrs) {
				addr = blockAddrs[k]
			}
			ib = le64(ib, addr)
		}
		root, rows = b.write(core.AppendChecksum(ib)), 2
	}

	ids := make([][]byte, len(objs))
	for i, o := range objs {
		off := uint64(places[i].block)*start + uint64(places[i].pos)
		id := le32([]byte{0}, uint32(off))                  //nolint:gosec // G115: small
		id = append(id, le64(nil, uint64(len(o)))[:lengthBytes]...)
		for len(id) < idLen {
			id = append(id, 0)
		}
		ids[i] = id
	}

	used := uint64(len(blocks)) * start
	hdr := append([]byte("FRHP"), 0)
	hdr = le16(hdr, uint16(idLen)) //nolint:gosec // G115: small
	hdr = le16(hdr, 0)
	hdr = append(hdr, 0)
	hdr = le32(hdr, uint32(maxManaged)) //nolint:gosec // G115: small
	hdr = le64(hdr, 0)                  // next huge object ID
	hdr = le64(hdr, undefined)          // huge object B-tree
	hdr = le64(hdr, 0)                  // free space
	hdr = le64(hdr, undefined)          // free-space manager
	hdr = le64(hdr, used)               // managed space
	hdr = le64(hdr, used)               // allocated managed space
	hdr = le64(hdr, 0)                  // iterator offset
	hdr = le64(hdr, uint64(len(objs)))  // managed objects
	hdr = le64(hdr, 0)
	hdr = le64(hdr, 0)
	hdr = le64(hdr, 0)
	hdr = le64(hdr, 0)
	hdr = le16(hdr, heapWidth)
	hdr = le64(hdr, start)
	hdr = le64(hdr, start) // max direct block size
	hdr = le16(hdr, 8*heapOffsetBytes)
	hdr = le16(hdr, 1) // starting rows
	hdr = le64(hdr, root)
	hdr = le16(hdr, rows)
	b.patch(hdrAddr, core.AppendChecksum(hdr))
	return hdrAddr, ids, nil
}

// btreeV2 writes a depth-0 version 2 B-tree holding records.
func (b *builder) btreeV2(typ byte, recSize int, records [][]byte) uint64 {
	nodeSize := max(512, 10+len(records)*recSize)
	root := undefined
	if len(records) > 0 {
		leaf := append([]byte("BTLF"), 0, typ)
		for _, r := range records {
			leaf = append(leaf, r...)
		}
		root = b.write(core.AppendChecksum(leaf))
	}
	hdr := append([]byte("BTHD"), 0, typ)
	hdr = le32(hdr, uint32(nodeSize)) //nolint:gosec // G115: small
	hdr = le16(hdr, uint16(recSize))  //nolint:gosec // G115: small
	hdr = le16(hdr, 0)
	hdr = append(hdr, 100, 40)
	hdr = le64(hdr, root)
	hdr = le16(hdr, uint16(len(records))) //nolint:gosec // G115: small
	hdr = le64(hdr, uint64(len(records)))
	return b.write(core.AppendChecksum(hdr))
}
