package utils

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSafeMultiply(t *testing.T) {
	tests := []struct {
		name    string
		a, b    uint64
		want    uint64
		wantErr bool
	}{
		{"small", 100, 4, 400, false},
		{"zero", 0, math.MaxUint64, 0, false},
		{"max times one", math.MaxUint64, 1, math.MaxUint64, false},
		{"overflow", math.MaxUint64 / 4, 8, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SafeMultiply(tt.a, tt.b)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestElementCount(t *testing.T) {
	n, err := ElementCount(nil)
	require.NoError(t, err)
	require.Equal(t, uint64(1), n, "scalar has one element")

	n, err = ElementCount([]uint64{3, 4, 5})
	require.NoError(t, err)
	require.Equal(t, uint64(60), n)

	n, err = ElementCount([]uint64{10, 0})
	require.NoError(t, err)
	require.Zero(t, n)

	_, err = ElementCount([]uint64{math.MaxUint64, 2})
	require.Error(t, err)
}

func TestByteCount(t *testing.T) {
	n, err := ByteCount([]uint64{1024, 1024}, 8, MaxChunkSize)
	require.NoError(t, err)
	require.Equal(t, uint64(8<<20), n)

	_, err = ByteCount([]uint64{1 << 20, 1 << 20}, 8, MaxChunkSize)
	require.Error(t, err)

	_, err = ByteCount([]uint64{math.MaxUint64 / 4}, 8, 0)
	require.Error(t, err)
}

func TestValidateBufferSize(t *testing.T) {
	require.NoError(t, ValidateBufferSize(10, 100, "attr"))
	require.ErrorContains(t, ValidateBufferSize(0, 100, "attr"), "cannot be zero")
	require.ErrorContains(t, ValidateBufferSize(101, 100, "attr"), "exceeds maximum")
}
