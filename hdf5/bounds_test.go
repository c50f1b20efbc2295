package hdf5_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scigolib/h5catalog/hdf5"
	"github.com/scigolib/h5catalog/internal/h5test"
)

// hugeChunked is a 1-D chunked uint8 dataset with no allocated chunks whose
// declared length is rewritten to 2^34 after building.
func hugeChunked(t *testing.T) []byte {
	t.Helper()
	data := h5test.MustBuild(t, h5test.V0, &h5test.Group{Members: []h5test.Node{&h5test.Dataset{
		Name:   "huge",
		Type:   h5test.Uint8(),
		Dims:   []uint64{77777},
		Layout: h5test.Chunked,
		Chunks: []uint64{1},
	}}})
	return h5test.MustPatch(t, data,
		binary.LittleEndian.AppendUint64(nil, 77777),
		binary.LittleEndian.AppendUint64(nil, 1<<34))
}

func TestDataset_HugeDeclaredShape(t *testing.T) {
	f, err := hdf5.OpenBytes(hugeChunked(t))
	require.NoError(t, err)
	defer f.Close()
	ds := dataset(t, f, "/huge")
	assert.Equal(t, []uint64{1 << 34}, ds.Shape())

	_, err = ds.ReadRaw()
	assert.ErrorContains(t, err, "too large")
	_, err = ds.Read()
	assert.Error(t, err)
	_, err = ds.ReadSliceRaw([]uint64{0}, []uint64{1 << 33})
	assert.ErrorContains(t, err, "too large")
	_, err = ds.ReadHyperslabRaw(&hdf5.HyperslabSelection{
		Start: []uint64{0}, Count: []uint64{1 << 32}, Stride: []uint64{4}, Block: []uint64{2},
	})
	assert.ErrorContains(t, err, "too large")

	v, err := ds.ReadSlice([]uint64{1<<34 - 4}, []uint64{4})
	require.NoError(t, err)
	assert.Equal(t, []uint8{0, 0, 0, 0}, v)

	start, count, err := ds.ChunkCoverage([]uint64{1<<34 - 1})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1<<34 - 1}, start)
	assert.Equal(t, []uint64{1}, count)
	_, _, err = ds.ChunkCoverage([]uint64{1 << 34})
	assert.Error(t, err)
}

func TestDataset_EmptySelectionOfHugeAxis(t *testing.T) {
	f := openBuilt(t, h5test.V0, &h5test.Group{Members: []h5test.Node{&h5test.Dataset{
		Name: "m",
		Type: h5test.Int32(),
		Dims: []uint64{4, 6},
		Data: h5test.Pack(iota32(24)),
	}}})
	raw, err := dataset(t, f, "/m").ReadHyperslabRaw(&hdf5.HyperslabSelection{
		Start: []uint64{0, 0}, Count: []uint64{0, 6},
	})
	require.NoError(t, err)
	assert.Empty(t, raw)
}

func TestDataset_ChunkElementSizeMismatch(t *testing.T) {
	data := h5test.MustBuild(t, h5test.V0, &h5test.Group{Members: []h5test.Node{&h5test.Dataset{
		Name:   "d",
		Type:   h5test.Int32(),
		Dims:   []uint64{6, 10},
		Data:   h5test.Pack(iota32(60)),
		Layout: h5test.Chunked,
		Chunks: []uint64{3, 5},
	}}})
	// Chunk dimensions 3 and 5 are followed by the element size.
	var chunkDims, patched []byte
	for _, v := range []uint32{3, 5, 4} {
		chunkDims = binary.LittleEndian.AppendUint32(chunkDims, v)
	}
	for _, v := range []uint32{3, 5, 1} {
		patched = binary.LittleEndian.AppendUint32(patched, v)
	}

	_, err := hdf5.OpenBytes(h5test.MustPatch(t, data, chunkDims, patched))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk element size 1 does not match datatype size 4")
}
