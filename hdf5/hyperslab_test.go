package hdf5_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scigolib/h5catalog/hdf5"
	"github.com/scigolib/h5catalog/internal/h5test"
)

// grid6x8 holds value 10*row + col.
func grid6x8(layout h5test.Layout, index h5test.ChunkIndex) *h5test.Group {
	values := make([]int32, 0, 48)
	for r := int32(0); r < 6; r++ {
		for c := int32(0); c < 8; c++ {
			values = append(values, 10*r+c)
		}
	}
	ds := &h5test.Dataset{Name: "grid", Type: h5test.Int32(), Dims: []uint64{6, 8}, Data: h5test.Pack(values), Layout: layout, Index: index}
	if layout == h5test.Chunked {
		ds.Chunks = []uint64{4, 3}
	}
	return &h5test.Group{Members: []h5test.Node{ds}}
}

func TestReadHyperslab(t *testing.T) {
	layouts := []struct {
		name   string
		format h5test.Format
		layout h5test.Layout
		index  h5test.ChunkIndex
	}{
		{"contiguous", h5test.V0, h5test.Contiguous, 0},
		{"btree v1", h5test.V0, h5test.Chunked, h5test.BTreeV1},
		{"fixed array", h5test.V2, h5test.Chunked, h5test.FixedArray},
		{"btree v2", h5test.V2, h5test.Chunked, h5test.BTreeV2},
	}
	selections := []struct {
		name string
		sel  hdf5.HyperslabSelection
		want []int32
	}{
		{
			name: "box across chunks",
			sel:  hdf5.HyperslabSelection{Start: []uint64{3, 2}, Count: []uint64{2, 3}},
			want: []int32{32, 33, 34, 42, 43, 44},
		},
		{
			name: "single element",
			sel:  hdf5.HyperslabSelection{Start: []uint64{5, 7}, Count: []uint64{1, 1}},
			want: []int32{57},
		},
		{
			name: "strided",
			sel:  hdf5.HyperslabSelection{Start: []uint64{0, 1}, Count: []uint64{3, 2}, Stride: []uint64{2, 4}},
			want: []int32{1, 5, 21, 25, 41, 45},
		},
		{
			name: "blocks",
			sel: hdf5.HyperslabSelection{
				Start:  []uint64{1, 0},
				Count:  []uint64{1, 2},
				Stride: []uint64{1, 5},
				Block:  []uint64{2, 2},
			},
			want: []int32{10, 11, 15, 16, 20, 21, 25, 26},
		},
		{
			name: "empty",
			sel:  hdf5.HyperslabSelection{Start: []uint64{0, 0}, Count: []uint64{0, 4}},
			want: []int32{},
		},
	}

	for _, l := range layouts {
		f := openBuilt(t, l.format, grid6x8(l.layout, l.index))
		ds := dataset(t, f, "/grid")
		for _, s := range selections {
			t.Run(l.name+"/"+s.name, func(t *testing.T) {
				sel := s.sel
				v, err := ds.ReadHyperslab(&sel)
				require.NoError(t, err)
				assert.Equal(t, s.want, v)
				assert.Equal(t, uint64(len(s.want)), sel.NumElements())
			})
		}
	}
}

func TestReadSlice(t *testing.T) {
	f := openBuilt(t, h5test.V2, grid6x8(h5test.Chunked, h5test.BTreeV2))
	ds := dataset(t, f, "/grid")

	v, err := ds.ReadSlice([]uint64{4, 6}, []uint64{2, 2})
	require.NoError(t, err)
	assert.Equal(t, []int32{46, 47, 56, 57}, v)

	raw, err := ds.ReadSliceRaw([]uint64{0, 0}, []uint64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, h5test.Pack([]int32{0, 1}), raw)
}

func TestReadHyperslab_Invalid(t *testing.T) {
	f := openBuilt(t, h5test.V2, grid6x8(h5test.Contiguous, 0))
	ds := dataset(t, f, "/grid")

	tests := []struct {
		name string
		sel  *hdf5.HyperslabSelection
		msg  string
	}{
		{"nil", nil, "nil selection"},
		{"rank", &hdf5.HyperslabSelection{Start: []uint64{0}, Count: []uint64{1}}, "rank"},
		{"past end", &hdf5.HyperslabSelection{Start: []uint64{5, 0}, Count: []uint64{2, 1}}, "dimension is 6"},
		{"stride past end", &hdf5.HyperslabSelection{Start: []uint64{0, 0}, Count: []uint64{1, 3}, Stride: []uint64{1, 4}}, "dimension is 8"},
		{"zero stride", &hdf5.HyperslabSelection{Start: []uint64{0, 0}, Count: []uint64{1, 1}, Stride: []uint64{0, 1}}, "positive"},
		{"overlapping blocks", &hdf5.HyperslabSelection{
			Start: []uint64{0, 0}, Count: []uint64{2, 1}, Stride: []uint64{1, 1}, Block: []uint64{2, 1},
		}, "overlaps"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ds.ReadHyperslab(tt.sel)
			assert.ErrorContains(t, err, tt.msg)
		})
	}
}

func TestChunkCoverage(t *testing.T) {
	f := openBuilt(t, h5test.V2, grid6x8(h5test.Chunked, h5test.FixedArray))
	ds := dataset(t, f, "/grid")

	start, count, err := ds.ChunkCoverage([]uint64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []uint64{4, 6}, start)
	assert.Equal(t, []uint64{2, 2}, count, "edge blocks are clipped")

	_, _, err = ds.ChunkCoverage([]uint64{2, 0})
	assert.ErrorContains(t, err, "outside the chunk grid")
	_, _, err = ds.ChunkCoverage([]uint64{0})
	assert.Error(t, err)

	g := openBuilt(t, h5test.V0, grid6x8(h5test.Contiguous, 0))
	whole := dataset(t, g, "/grid")
	start, count, err = whole.ChunkCoverage([]uint64{0, 0})
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 0}, start)
	assert.Equal(t, []uint64{6, 8}, count)
	_, _, err = whole.ChunkCoverage([]uint64{0, 1})
	assert.Error(t, err)
}
