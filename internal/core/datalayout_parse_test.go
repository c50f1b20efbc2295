package core

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDataLayout(t *testing.T) {
	le64 := binary.LittleEndian.AppendUint64
	le32 := binary.LittleEndian.AppendUint32

	t.Run("v3 compact", func(t *testing.T) {
		data := append([]byte{3, 0, 3, 0}, 'a', 'b', 'c')
		l, err := ParseDataLayout(data, 8, 8)
		require.NoError(t, err)
		require.Equal(t, LayoutCompact, l.Class)
		require.Equal(t, []byte("abc"), l.CompactData)
	})

	t.Run("v3 contiguous", func(t *testing.T) {
		l, err := ParseDataLayout(le64(le64([]byte{3, 1}, 0x800), 96), 8, 8)
		require.NoError(t, err)
		require.Equal(t, LayoutContiguous, l.Class)
		require.Equal(t, uint64(0x800), l.Address)
		require.Equal(t, uint64(96), l.Size)
	})

	t.Run("v3 chunked", func(t *testing.T) {
		data := le64([]byte{3, 2, 3}, 0x400)
		data = le32(le32(le32(data, 10), 5), 8)
		l, err := ParseDataLayout(data, 8, 8)
		require.NoError(t, err)
		require.Equal(t, LayoutChunked, l.Class)
		require.Equal(t, ChunkIndexBTreeV1, l.IndexType)
		require.Equal(t, []uint64{10, 5}, l.ChunkDims)
		require.Equal(t, uint32(8), l.ElementSize)

		n, err := l.ChunkBytes()
		require.NoError(t, err)
		require.Equal(t, uint64(400), n)
	})

	t.Run("v4 filtered single chunk", func(t *testing.T) {
		data := []byte{4, 2, 0x02, 2, 2}
		data = binary.LittleEndian.AppendUint16(data, 100)
		data = binary.LittleEndian.AppendUint16(data, 4)
		data = append(data, byte(ChunkIndexSingle))
		data = le32(le64(data, 123), 0x1)
		data = le64(data, 0x900)
		l, err := ParseDataLayout(data, 8, 8)
		require.NoError(t, err)
		require.Equal(t, ChunkIndexSingle, l.IndexType)
		require.True(t, l.SingleFiltered)
		require.Equal(t, uint64(123), l.SingleChunkSize)
		require.Equal(t, uint32(1), l.SingleFilterMask)
		require.Equal(t, uint64(0x900), l.Address)
		require.Equal(t, []uint64{100}, l.ChunkDims)
	})

	t.Run("v4 fixed array", func(t *testing.T) {
		data := []byte{4, 2, 0, 3, 1, 4, 4, 8, byte(ChunkIndexFixedArray), 10}
		data = le64(data, 0x1000)
		l, err := ParseDataLayout(data, 8, 8)
		require.NoError(t, err)
		require.Equal(t, ChunkIndexFixedArray, l.IndexType)
		require.Equal(t, uint8(10), l.FixedArrayPageBits)
		require.Equal(t, []uint64{4, 4}, l.ChunkDims)
		require.Equal(t, uint32(8), l.ElementSize)
	})

	t.Run("v4 undefined index address", func(t *testing.T) {
		data := []byte{4, 2, 0, 2, 1, 4, 4, byte(ChunkIndexImplicit)}
		data = le64(data, ^uint64(0))
		l, err := ParseDataLayout(data, 8, 8)
		require.NoError(t, err)
		require.Equal(t, ^uint64(0), l.Address)
	})
}

func TestParseDataLayout_Errors(t *testing.T) {
	_, err := ParseDataLayout([]byte{5, 1}, 8, 8)
	require.ErrorIs(t, err, ErrUnsupported)

	_, err = ParseDataLayout([]byte{3, 9}, 8, 8)
	require.ErrorIs(t, err, ErrUnsupported)

	// A zero chunk dimension is corrupt.
	data := binary.LittleEndian.AppendUint64([]byte{3, 2, 2}, 0x400)
	data = binary.LittleEndian.AppendUint32(binary.LittleEndian.AppendUint32(data, 0), 4)
	_, err = ParseDataLayout(data, 8, 8)
	require.ErrorContains(t, err, "zero")

	_, err = ParseDataLayout([]byte{3, 1, 0, 0}, 8, 8)
	require.Error(t, err)
}
