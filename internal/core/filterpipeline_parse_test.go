package core

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseFilterPipeline_V1(t *testing.T) {
	le16 := binary.LittleEndian.AppendUint16
	data := []byte{1, 2, 0, 0, 0, 0, 0, 0}
	// deflate, name "deflate" padded to 8, one client value plus padding
	data = le16(le16(le16(le16(data, 1), 8), 0), 1)
	data = append(data, "deflate\x00"...)
	data = binary.LittleEndian.AppendUint32(data, 6)
	data = append(data, 0, 0, 0, 0)
	// shuffle, no name, one client value
	data = le16(le16(le16(le16(data, 2), 0), 1), 1)
	data = binary.LittleEndian.AppendUint32(data, 4)
	data = append(data, 0, 0, 0, 0)

	fp, err := ParseFilterPipeline(data)
	require.NoError(t, err)
	require.Len(t, fp.Filters, 2)
	require.Equal(t, FilterDeflate, fp.Filters[0].ID)
	require.Equal(t, "deflate", fp.Filters[0].Name)
	require.Equal(t, []uint32{6}, fp.Filters[0].ClientData)
	require.Equal(t, FilterShuffle, fp.Filters[1].ID)
	require.True(t, fp.Filters[1].Optional())
}

func TestParseFilterPipeline_V2(t *testing.T) {
	le16 := binary.LittleEndian.AppendUint16
	data := []byte{2, 2}
	// Library filters carry no name length in version 2.
	data = le16(le16(le16(data, 3), 0), 0)
	data = le16(le16(le16(le16(data, 32015), 5), 0), 1)
	data = append(data, "zstd\x00"...)
	data = binary.LittleEndian.AppendUint32(data, 3)

	fp, err := ParseFilterPipeline(data)
	require.NoError(t, err)
	require.Len(t, fp.Filters, 2)
	require.Equal(t, FilterFletcher32, fp.Filters[0].ID)
	require.Empty(t, fp.Filters[0].ClientData)
	require.Equal(t, FilterZstd, fp.Filters[1].ID)
	require.Equal(t, "zstd", fp.Filters[1].Name)
	require.Equal(t, []uint32{3}, fp.Filters[1].ClientData)
}

func TestParseFilterPipeline_Errors(t *testing.T) {
	_, err := ParseFilterPipeline([]byte{3, 0})
	require.ErrorIs(t, err, ErrUnsupported)

	_, err = ParseFilterPipeline([]byte{2, 1, 1, 0})
	require.Error(t, err)
}

func TestFilterName(t *testing.T) {
	require.Equal(t, "deflate", FilterName(FilterDeflate))
	require.Equal(t, "lz4", FilterName(FilterLZ4))
	require.Equal(t, "filter-32001", FilterName(32001))
}
