package structures_test

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scigolib/h5catalog/internal/core"
	"github.com/scigolib/h5catalog/internal/filter"
	"github.com/scigolib/h5catalog/internal/h5test"
	"github.com/scigolib/h5catalog/internal/structures"
)

func openBuilt(t *testing.T, format h5test.Format, root *h5test.Group) *core.Reader {
	t.Helper()
	data := h5test.MustBuild(t, format, root)
	r, err := core.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	return r
}

func rootHeader(t *testing.T, r *core.Reader) *core.ObjectHeader {
	t.Helper()
	h, err := core.ReadObjectHeader(r, r.Superblock().RootGroup)
	require.NoError(t, err)
	return h
}

// rootLinks lists root members of either format.
func rootLinks(t *testing.T, r *core.Reader) []core.Link {
	t.Helper()
	h := rootHeader(t, r)
	if msg := h.Find(core.MsgSymbolTable); msg != nil {
		st, err := structures.ParseSymbolTableMessage(msg.Data, r.OffsetSize())
		require.NoError(t, err)
		links, err := structures.ReadGroupLinks(r, st)
		require.NoError(t, err)
		return links
	}
	var links []core.Link
	for _, msg := range h.All(core.MsgLink) {
		l, err := core.ParseLink(msg.Data, r.OffsetSize())
		require.NoError(t, err)
		links = append(links, *l)
	}
	return links
}

func layoutOf(t *testing.T, r *core.Reader, name string) *core.DataLayout {
	t.Helper()
	for _, l := range rootLinks(t, r) {
		if l.Name != name {
			continue
		}
		h, err := core.ReadObjectHeader(r, l.Address)
		require.NoError(t, err)
		layout, err := core.ParseDataLayout(h.Find(core.MsgDataLayout).Data, r.OffsetSize(), r.LengthSize())
		require.NoError(t, err)
		return layout
	}
	t.Fatalf("no dataset %q", name)
	return nil
}

func TestReadGroupLinks(t *testing.T) {
	var members []h5test.Node
	for i := 19; i >= 0; i-- {
		members = append(members, &h5test.Group{Name: fmt.Sprintf("g%02d", i)})
	}
	members = append(members, &h5test.SoftLink{Name: "latest", Target: "/g19"})
	r := openBuilt(t, h5test.V0, &h5test.Group{Members: members})

	links := rootLinks(t, r)
	require.Len(t, links, 21)
	require.Equal(t, "g00", links[0].Name, "symbol nodes are sorted by name")
	require.Equal(t, core.LinkTypeHard, links[0].Type)
	require.NotEqual(t, ^uint64(0), links[0].Address)

	soft := links[len(links)-1]
	require.Equal(t, "latest", soft.Name)
	require.Equal(t, core.LinkTypeSoft, soft.Type)
	require.Equal(t, "/g19", soft.Target)
}

func TestLocalHeap(t *testing.T) {
	r := openBuilt(t, h5test.V0, &h5test.Group{Members: []h5test.Node{&h5test.Group{Name: "entry"}}})
	st, err := structures.ParseSymbolTableMessage(rootHeader(t, r).Find(core.MsgSymbolTable).Data, 8)
	require.NoError(t, err)

	heap, err := structures.LoadLocalHeap(r, st.HeapAddress)
	require.NoError(t, err)
	s, err := heap.GetString(0)
	require.NoError(t, err)
	require.Empty(t, s)
	s, err = heap.GetString(8)
	require.NoError(t, err)
	require.Equal(t, "entry", s)

	_, err = heap.GetString(uint64(len(heap.Data)))
	require.Error(t, err)

	_, err = structures.LoadLocalHeap(r, st.BTreeAddress)
	require.ErrorContains(t, err, "signature")
}

func chunkedDataset(index h5test.ChunkIndex, filters ...filter.Filter) *h5test.Dataset {
	data := make([]int32, 6*5)
	for i := range data {
		data[i] = int32(i)
	}
	return &h5test.Dataset{
		Name:       "d",
		Type:       h5test.Int32(),
		Dims:       []uint64{6, 5},
		Data:       h5test.Pack(data),
		Layout:     h5test.Chunked,
		Chunks:     []uint64{4, 2},
		Index:      index,
		Filters:    filters,
		SkipChunks: []int{5},
	}
}

func TestCollectChunks(t *testing.T) {
	tests := []struct {
		name     string
		format   h5test.Format
		index    h5test.ChunkIndex
		filtered bool
	}{
		{"btree v1", h5test.V0, h5test.BTreeV1, false},
		{"btree v1 filtered", h5test.V2, h5test.BTreeV1, true},
		{"fixed array", h5test.V2, h5test.FixedArray, false},
		{"fixed array filtered", h5test.V2, h5test.FixedArray, true},
		{"btree v2", h5test.V2, h5test.BTreeV2, false},
		{"btree v2 filtered", h5test.V2, h5test.BTreeV2, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var filters []filter.Filter
			if tt.filtered {
				filters = []filter.Filter{filter.NewDeflateFilter(6)}
			}
			r := openBuilt(t, tt.format, &h5test.Group{Members: []h5test.Node{chunkedDataset(tt.index, filters...)}})
			layout := layoutOf(t, r, "d")
			require.Equal(t, []uint64{4, 2}, layout.ChunkDims)

			var chunks []structures.ChunkRecord
			var err error
			switch layout.IndexType {
			case core.ChunkIndexBTreeV1:
				chunks, err = structures.CollectChunksBTreeV1(r, layout.Address, 2)
			case core.ChunkIndexFixedArray:
				chunks, err = structures.CollectChunksFixedArray(r, layout.Address)
			case core.ChunkIndexBTreeV2:
				chunks, err = structures.CollectChunksBTreeV2(r, layout.Address, layout.ChunkDims)
			}
			require.NoError(t, err)

			// A 2x3 chunk grid with chunk 5 (origin 4,4) left out.
			require.Len(t, chunks, 5)
			for _, c := range chunks {
				require.NotEqual(t, ^uint64(0), c.Address)
				if tt.filtered {
					require.NotZero(t, c.Size)
				}
				if c.Index >= 0 {
					require.NotEqual(t, int64(5), c.Index)
				} else {
					require.NotEqual(t, []uint64{4, 4}, c.Offset)
				}
			}
			if tt.index != h5test.FixedArray {
				require.Equal(t, []uint64{0, 2}, chunks[1].Offset)
			}
		})
	}
}

func TestDenseLinks(t *testing.T) {
	tests := []struct {
		name      string
		blockSize uint64
	}{
		{"direct root block", 0},
		{"indirect root block", 64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var members []h5test.Node
			want := map[string]bool{}
			for i := 0; i < 10; i++ {
				name := fmt.Sprintf("scan_%d", i)
				members = append(members, &h5test.Group{Name: name})
				want[name] = true
			}
			members = append(members, &h5test.SoftLink{Name: "default", Target: "scan_0"})
			want["default"] = true

			r := openBuilt(t, h5test.V2, &h5test.Group{Members: members, Dense: true, HeapBlockSize: tt.blockSize})
			info, err := core.ParseLinkInfo(rootHeader(t, r).Find(core.MsgLinkInfo).Data, r.OffsetSize())
			require.NoError(t, err)
			require.True(t, info.Dense())

			heap, err := structures.OpenFractalHeap(r, info.FractalHeap)
			require.NoError(t, err)
			if tt.blockSize != 0 {
				require.NotZero(t, heap.CurrentRowCount)
			}
			bt, err := structures.ReadBTreeV2(r, info.NameBTree)
			require.NoError(t, err)
			require.Equal(t, uint8(structures.BTreeV2LinkName), bt.Type)
			records, err := bt.Records(r)
			require.NoError(t, err)
			require.Len(t, records, len(want))

			got := map[string]bool{}
			for _, rec := range records {
				nr, err := structures.ParseLinkNameRecord(rec)
				require.NoError(t, err)
				obj, err := heap.ReadObject(nr.HeapID)
				require.NoError(t, err)
				l, err := core.ParseLink(obj, r.OffsetSize())
				require.NoError(t, err)
				require.Equal(t, core.Lookup3([]byte(l.Name)), nr.Hash)
				got[l.Name] = true
			}
			require.Equal(t, want, got)
		})
	}
}

func TestDenseAttributes(t *testing.T) {
	attrs := []h5test.Attr{
		{Name: "a", Type: h5test.Int32(), Data: h5test.Pack(int32(1))},
		{Name: "b", Type: h5test.Float64(), Dims: []uint64{2}, Data: h5test.Pack([]float64{1, 2})},
	}
	r := openBuilt(t, h5test.V2, &h5test.Group{Attrs: attrs, DenseAttrs: true})
	info, err := core.ParseAttributeInfo(rootHeader(t, r).Find(core.MsgAttributeInfo).Data, r.OffsetSize())
	require.NoError(t, err)

	heap, err := structures.OpenFractalHeap(r, info.FractalHeap)
	require.NoError(t, err)
	bt, err := structures.ReadBTreeV2(r, info.NameBTree)
	require.NoError(t, err)
	records, err := bt.Records(r)
	require.NoError(t, err)
	require.Len(t, records, 2)

	names := map[string]bool{}
	for _, rec := range records {
		ar, err := structures.ParseAttributeNameRecord(rec)
		require.NoError(t, err)
		obj, err := heap.ReadObject(ar.HeapID)
		require.NoError(t, err)
		a, err := core.ParseAttributeMessage(r, obj)
		require.NoError(t, err)
		require.Equal(t, core.Lookup3([]byte(a.Name)), ar.Hash)
		names[a.Name] = true
	}
	require.Equal(t, map[string]bool{"a": true, "b": true}, names)
}

func TestFractalHeap_HeapIDs(t *testing.T) {
	r := openBuilt(t, h5test.V2, &h5test.Group{Dense: true, Members: []h5test.Node{&h5test.Group{Name: "x"}}})
	info, err := core.ParseLinkInfo(rootHeader(t, r).Find(core.MsgLinkInfo).Data, r.OffsetSize())
	require.NoError(t, err)
	heap, err := structures.OpenFractalHeap(r, info.FractalHeap)
	require.NoError(t, err)

	// Tiny objects live in the ID: type 2, length-1 in the low nibble.
	obj, err := heap.ReadObject([]byte{0x20 | 2, 'a', 'b', 'c', 0, 0, 0})
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), obj)

	_, err = heap.ReadObject([]byte{0x10, 0, 0, 0, 0, 0, 0})
	require.ErrorIs(t, err, core.ErrUnsupported, "huge objects")

	_, err = heap.ReadObject([]byte{0x40})
	require.ErrorIs(t, err, core.ErrUnsupported, "ID version")

	// Offset 1 falls inside the direct block header.
	_, err = heap.ReadObject([]byte{0x00, 1, 0, 0, 0, 4, 0})
	require.ErrorContains(t, err, "overlaps")

	_, err = heap.ReadObject(nil)
	require.Error(t, err)
}

func TestReadBTreeV2_Corrupt(t *testing.T) {
	data := h5test.MustBuild(t, h5test.V2, &h5test.Group{Dense: true, Members: []h5test.Node{&h5test.Group{Name: "x"}}})
	r, err := core.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	info, err := core.ParseLinkInfo(rootHeader(t, r).Find(core.MsgLinkInfo).Data, r.OffsetSize())
	require.NoError(t, err)

	data[info.NameBTree+8] ^= 0xFF
	_, err = structures.ReadBTreeV2(r, info.NameBTree)
	require.ErrorContains(t, err, "checksum")
}
