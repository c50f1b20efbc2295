package h5catalog_test

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scigolib/h5catalog"
	"github.com/scigolib/h5catalog/internal/h5test"
)

func lookupArray(t *testing.T, cat *h5catalog.Adapter, path ...string) *h5catalog.Array {
	t.Helper()
	n, err := cat.Lookup(path...)
	require.NoError(t, err)
	arr, ok := n.(*h5catalog.Array)
	require.True(t, ok, "%v is %T", path, n)
	return arr
}

func TestContainer_Navigation(t *testing.T) {
	cat, _ := loadFixture(t, h5test.V2)

	entry, err := cat.Get("entry")
	require.NoError(t, err)
	c, ok := entry.(*h5catalog.Container)
	require.True(t, ok)
	assert.Equal(t, "/entry", c.Path())
	assert.Equal(t, []string{"data", "latest", "title"}, c.Keys())
	assert.Equal(t, "NXentry", c.Metadata()["NX_class"])

	again, err := cat.Get("entry")
	require.NoError(t, err)
	assert.Same(t, entry, again)

	_, err = cat.Get("missing")
	assert.ErrorIs(t, err, h5catalog.ErrNotFound)
	_, err = cat.Lookup("entry", "title", "deeper")
	assert.ErrorIs(t, err, h5catalog.ErrNotFound)

	n, err := cat.Lookup("entry/data", "counts")
	require.NoError(t, err)
	assert.Equal(t, "/entry/data/counts", n.Path())

	n, err = cat.Lookup()
	require.NoError(t, err)
	assert.Same(t, cat.Container, n)
}

func TestContainer_Items(t *testing.T) {
	cat, _ := loadFixture(t, h5test.V0)
	entry, err := cat.Lookup("entry")
	require.NoError(t, err)
	c := entry.(*h5catalog.Container)

	tests := []struct {
		offset, limit int
		want          []string
	}{
		{0, 0, []string{"data", "latest", "title"}},
		{1, 1, []string{"latest"}},
		{2, 10, []string{"title"}},
		{5, 0, []string{}},
		{-1, 2, []string{"data", "latest"}},
	}
	for _, tt := range tests {
		items, err := c.Items(tt.offset, tt.limit)
		require.NoError(t, err)
		keys := make([]string, len(items))
		for i, it := range items {
			keys[i] = it.Key
			assert.NotNil(t, it.Node)
		}
		assert.Equal(t, tt.want, keys, "offset %d limit %d", tt.offset, tt.limit)
	}
}

func TestArray_Structure(t *testing.T) {
	cat, _ := loadFixture(t, h5test.V2)

	counts := lookupArray(t, cat, "entry", "data", "counts")
	assert.Equal(t, h5catalog.FamilyArray, counts.StructureFamily())
	assert.Equal(t, "counts", counts.Metadata()["units"])

	s := counts.Structure()
	assert.Equal(t, []uint64{4, 6}, s.Shape)
	assert.Equal(t, [][]uint64{{2, 2}, {4, 2}}, s.Chunks)
	assert.Equal(t, h5catalog.DataType{Endianness: h5catalog.LittleEndian, Kind: "i", ItemSize: 4}, s.DataType)
	assert.Equal(t, "<i4", s.DataType.String())
	assert.False(t, s.Resizable)

	exposure := lookupArray(t, cat, "entry", "data", "exposure")
	es := exposure.Structure()
	assert.Empty(t, es.Shape)
	assert.Empty(t, es.Chunks)
	assert.Equal(t, ">f8", es.DataType.String())

	title := lookupArray(t, cat, "entry", "title")
	assert.Equal(t, "O", title.Structure().DataType.Kind)
}

func TestArray_Read(t *testing.T) {
	cat, _ := loadFixture(t, h5test.V2)
	counts := lookupArray(t, cat, "entry/data/counts")

	v, err := counts.Read()
	require.NoError(t, err)
	assert.Equal(t, iota32(24), v)

	raw, err := counts.ReadBytes()
	require.NoError(t, err)
	assert.Equal(t, h5test.Pack(iota32(24)), raw)

	title := lookupArray(t, cat, "entry", "title")
	v, err = title.Read()
	require.NoError(t, err)
	assert.Equal(t, []string{"AgBehenate"}, v)
}

func TestArray_Blocks(t *testing.T) {
	cat, _ := loadFixture(t, h5test.V2)
	counts := lookupArray(t, cat, "entry", "data", "counts")

	tests := []struct {
		block []uint64
		shape []uint64
		want  []int32
	}{
		{[]uint64{0, 0}, []uint64{2, 4}, []int32{0, 1, 2, 3, 6, 7, 8, 9}},
		{[]uint64{1, 1}, []uint64{2, 2}, []int32{16, 17, 22, 23}},
		{[]uint64{0, 1}, []uint64{2, 2}, []int32{4, 5, 10, 11}},
	}
	for _, tt := range tests {
		shape, err := counts.BlockShape(tt.block...)
		require.NoError(t, err)
		assert.Equal(t, tt.shape, shape)

		v, err := counts.ReadBlock(tt.block...)
		require.NoError(t, err)
		assert.Equal(t, tt.want, v, "block %v", tt.block)

		raw, err := counts.ReadBlockBytes(tt.block...)
		require.NoError(t, err)
		assert.Equal(t, h5test.Pack(tt.want), raw)
	}

	_, err := counts.ReadBlock(2, 0)
	assert.Error(t, err)
	_, err = counts.ReadBlock(0)
	assert.Error(t, err)

	exposure := lookupArray(t, cat, "entry", "data", "exposure")
	v, err := exposure.ReadBlock()
	require.NoError(t, err)
	assert.Equal(t, []float64{0.25}, v)
	raw, err := exposure.ReadBlockBytes()
	require.NoError(t, err)
	assert.Equal(t, h5test.PackBE(0.25), raw)
}

func TestArray_UnchunkedIsOneBlock(t *testing.T) {
	root := &h5test.Group{Members: []h5test.Node{
		&h5test.Dataset{Name: "x", Type: h5test.Float32(), Dims: []uint64{3}, Data: h5test.Pack([]float32{1, 2, 3})},
	}}
	cat, err := h5catalog.New("mem", h5test.MustBuild(t, h5test.V0, root))
	require.NoError(t, err)
	defer cat.Close()

	x := lookupArray(t, cat, "x")
	assert.Equal(t, [][]uint64{{3}}, x.Structure().Chunks)
	v, err := x.ReadBlock(0)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, v)
	_, err = x.ReadBlock(1)
	assert.Error(t, err)
}

func TestSoftLinkedContainer(t *testing.T) {
	cat, _ := loadFixture(t, h5test.V2)

	viaLink := lookupArray(t, cat, "entry", "latest", "counts")
	direct := lookupArray(t, cat, "entry", "data", "counts")
	assert.Equal(t, direct.Structure(), viaLink.Structure())

	latest, err := cat.Lookup("entry", "latest")
	require.NoError(t, err)
	assert.Equal(t, []string{"counts", "exposure"}, latest.(*h5catalog.Container).Keys())
}

func TestAdapter_Tree(t *testing.T) {
	for _, format := range h5test.Formats {
		t.Run(format.String(), func(t *testing.T) {
			cat, _ := loadFixture(t, format)
			tree, err := cat.Tree()
			require.NoError(t, err)

			var paths []string
			for _, e := range tree {
				paths = append(paths, e.Path)
			}
			assert.Equal(t, []string{
				"/calibration",
				"/entry",
				"/entry/data",
				"/entry/data/counts",
				"/entry/data/exposure",
				"/entry/latest",
				"/entry/title",
			}, paths)

			assert.Equal(t, h5catalog.FamilyArray, tree[3].Family)
			assert.Equal(t, []uint64{4, 6}, tree[3].Shape)
			assert.Equal(t, "<i4", tree[3].DataType)
			assert.True(t, tree[5].SoftLink)
			assert.False(t, tree[1].SoftLink)
		})
	}
}

func TestAdapter_Walk(t *testing.T) {
	cat, _ := loadFixture(t, h5test.V0)

	var visited []string
	err := cat.Walk(func(p string, _ h5catalog.Node) error {
		visited = append(visited, p)
		if p == "/entry" {
			return h5catalog.SkipContainer
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"/calibration", "/entry"}, visited)

	stop := errors.New("stop")
	err = cat.Walk(func(p string, _ h5catalog.Node) error {
		if p == "/entry/data" {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
}

func TestAdapter_HugeChunkGrid(t *testing.T) {
	data := h5test.MustBuild(t, h5test.V0, &h5test.Group{Members: []h5test.Node{
		&h5test.Dataset{Name: "huge", Type: h5test.Uint8(), Dims: []uint64{77777}, Layout: h5test.Chunked, Chunks: []uint64{1}},
		&h5test.Dataset{Name: "small", Type: h5test.Uint8(), Dims: []uint64{3}, Data: []byte{1, 2, 3}},
	}})
	data = h5test.MustPatch(t, data,
		binary.LittleEndian.AppendUint64(nil, 77777),
		binary.LittleEndian.AppendUint64(nil, 1<<34))

	cat, err := h5catalog.New("huge.h5", data)
	require.NoError(t, err)
	defer cat.Close()
	assert.Equal(t, []string{"huge", "small"}, cat.Keys())

	_, err = cat.Tree()
	assert.ErrorContains(t, err, "block entries")
	_, err = cat.Lookup("huge")
	assert.ErrorContains(t, err, "block entries")

	arr := lookupArray(t, cat, "small")
	assert.Equal(t, [][]uint64{{3}}, arr.Structure().Chunks)
}

func TestAdapter_TreeListsSharedGroupsOnce(t *testing.T) {
	const depth = 20
	var level func(parent string, n int) []h5test.Node
	level = func(parent string, n int) []h5test.Node {
		if n == 0 {
			return nil
		}
		child := parent + "/g"
		return []h5test.Node{
			&h5test.Group{Name: "g", Members: level(child, n-1)},
			&h5test.HardLink{Name: "h", Path: child},
		}
	}
	cat, err := h5catalog.New("diamond.h5", h5test.MustBuild(t, h5test.V2, &h5test.Group{Members: level("", depth)}))
	require.NoError(t, err)
	defer cat.Close()

	tree, err := cat.Tree()
	require.NoError(t, err)
	assert.Len(t, tree, 2*depth)
	assert.Equal(t, "/g", tree[0].Path)
	assert.Equal(t, "/h", tree[len(tree)-1].Path)
	assert.False(t, tree[len(tree)-1].SoftLink)
}
