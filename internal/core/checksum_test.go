package core

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLookup3(t *testing.T) {
	tests := []struct {
		in   string
		want uint32
	}{
		{"", 0xdeadbeef},
		{"Four score and seven years ago", 0x17770551},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Lookup3([]byte(tt.in)), "lookup3(%q)", tt.in)
	}
}

func TestVerifyChecksum(t *testing.T) {
	block := AppendChecksum([]byte("OHDR\x02\x00"))
	require.NoError(t, VerifyChecksum(block, "header"))
	require.Equal(t, Lookup3(block[:6]), binary.LittleEndian.Uint32(block[6:]))

	block[1] ^= 0x01
	require.ErrorContains(t, VerifyChecksum(block, "header"), "checksum mismatch")

	require.Error(t, VerifyChecksum([]byte{1, 2}, "tiny"))
}
