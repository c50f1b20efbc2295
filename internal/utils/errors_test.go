package utils

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestH5Error_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *H5Error
		expected string
	}{
		{
			name:     "context only",
			err:      &H5Error{Context: "reading superblock", Cause: errors.New("invalid signature")},
			expected: "reading superblock: invalid signature",
		},
		{
			name:     "with address",
			err:      &H5Error{Context: "object header", Address: 0x60, HasAddr: true, Cause: errors.New("bad version")},
			expected: "object header at 0x60: bad version",
		},
		{
			name:     "address zero is still printed",
			err:      &H5Error{Context: "heap", HasAddr: true, Cause: errors.New("short")},
			expected: "heap at 0x0: short",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestWrapError_Nil(t *testing.T) {
	require.NoError(t, WrapError("ctx", nil))
	require.NoError(t, WrapErrorAt("ctx", 8, nil))
}

func TestWrapError_Chain(t *testing.T) {
	base := errors.New("base error")
	level1 := WrapErrorAt("level 1", 0x10, base)
	level2 := WrapError("level 2", level1)

	require.True(t, errors.Is(level2, base))
	require.Contains(t, level2.Error(), "level 2")
	require.Contains(t, level2.Error(), "level 1 at 0x10")

	var h5err *H5Error
	require.True(t, errors.As(level2, &h5err))
	require.Equal(t, "level 2", h5err.Context)

	require.True(t, errors.As(errors.Unwrap(level2), &h5err))
	require.Equal(t, uint64(0x10), h5err.Address)
	require.Equal(t, base, errors.Unwrap(h5err))
}
