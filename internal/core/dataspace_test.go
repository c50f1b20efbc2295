package core

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDataspace(t *testing.T) {
	le := binary.LittleEndian.AppendUint64

	tests := []struct {
		name    string
		data    []byte
		kind    DataspaceKind
		dims    []uint64
		maxDims []uint64
		count   uint64
	}{
		{
			name:  "v1 simple",
			data:  le(le([]byte{1, 2, 0, 0, 0, 0, 0, 0}, 10), 20),
			kind:  DataspaceSimple,
			dims:  []uint64{10, 20},
			count: 200,
		},
		{
			name:  "v1 scalar",
			data:  []byte{1, 0, 0, 0, 0, 0, 0, 0},
			kind:  DataspaceScalar,
			count: 1,
		},
		{
			name:    "v2 unlimited",
			data:    le(le([]byte{2, 1, 1, 1}, 5), ^uint64(0)),
			kind:    DataspaceSimple,
			dims:    []uint64{5},
			maxDims: []uint64{unlimited},
			count:   5,
		},
		{
			name:  "v2 null",
			data:  []byte{2, 0, 0, 2},
			kind:  DataspaceNull,
			count: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds, err := ParseDataspace(tt.data, 8)
			require.NoError(t, err)
			require.Equal(t, tt.kind, ds.Kind)
			require.Equal(t, tt.dims, ds.Dims)
			require.Equal(t, tt.maxDims, ds.MaxDims)
			require.Equal(t, tt.count, ds.NumElements())
		})
	}
}

func TestParseDataspace_FourByteLengths(t *testing.T) {
	data := binary.LittleEndian.AppendUint32([]byte{1, 1, 1, 0, 0, 0, 0, 0}, 7)
	data = binary.LittleEndian.AppendUint32(data, 0xFFFFFFFF)
	ds, err := ParseDataspace(data, 4)
	require.NoError(t, err)
	require.Equal(t, []uint64{7}, ds.Dims)
	require.True(t, ds.IsUnlimited(0))
}

func TestParseDataspace_Errors(t *testing.T) {
	_, err := ParseDataspace([]byte{3, 0, 0, 0}, 8)
	require.ErrorIs(t, err, ErrUnsupported)

	_, err = ParseDataspace([]byte{2, 0, 0, 7}, 8)
	require.Error(t, err)

	_, err = ParseDataspace([]byte{2, 2, 0, 1, 1}, 8)
	require.Error(t, err, "truncated dimensions")

	_, err = ParseDataspace([]byte{2, 33, 0, 1}, 8)
	require.ErrorContains(t, err, "rank")
}
