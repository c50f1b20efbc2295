package filter

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scigolib/h5catalog/internal/core"
)

func sample(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 7)
	}
	return b
}

func TestRoundTrip(t *testing.T) {
	filters := []Filter{
		NewDeflateFilter(6),
		NewShuffleFilter(4),
		NewShuffleFilter(8),
		NewFletcher32Filter(),
		NewLZFFilter(),
		NewLZ4Filter(0),
		NewLZ4Filter(100),
		NewZstdFilter(),
	}
	inputs := map[string][]byte{
		"empty":     {},
		"small":     []byte("hello"),
		"repeating": sample(4096),
		"odd":       sample(1001),
	}
	for _, f := range filters {
		for name, in := range inputs {
			t.Run(f.Name()+"/"+name, func(t *testing.T) {
				enc, err := f.Apply(in)
				require.NoError(t, err)
				dec, err := f.Remove(enc)
				require.NoError(t, err)
				assert.Equal(t, len(in), len(dec))
				assert.True(t, bytes.Equal(in, dec))
			})
		}
	}
}

func TestShuffleLayout(t *testing.T) {
	in := []byte{1, 2, 3, 4, 5, 6, 7}
	out, err := NewShuffleFilter(2).Apply(in)
	require.NoError(t, err)
	// Bytes 0 of each element, then bytes 1; the odd trailing byte stays.
	assert.Equal(t, []byte{1, 3, 5, 2, 4, 6, 7}, out)
}

func TestFletcher32(t *testing.T) {
	assert.Equal(t, uint32(0x4FF029C7), Fletcher32([]byte("abcde")))

	f := NewFletcher32Filter()
	enc, err := f.Apply([]byte("abcde"))
	require.NoError(t, err)
	require.Len(t, enc, 9)
	assert.Equal(t, uint32(0x4FF029C7), binary.LittleEndian.Uint32(enc[5:]))

	t.Run("corrupted", func(t *testing.T) {
		bad := append([]byte(nil), enc...)
		bad[0] ^= 0xFF
		_, err := f.Remove(bad)
		require.ErrorIs(t, err, ErrChecksum)
	})

	t.Run("byte-swapped checksum", func(t *testing.T) {
		swapped := append([]byte("abcde"), 0, 0, 0, 0)
		binary.LittleEndian.PutUint32(swapped[5:], swapWordBytes(0x4FF029C7))
		out, err := f.Remove(swapped)
		require.NoError(t, err)
		assert.Equal(t, []byte("abcde"), out)
	})

	t.Run("too short", func(t *testing.T) {
		_, err := f.Remove([]byte{1, 2})
		require.Error(t, err)
	})
}

func TestLZFBackReferences(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want string
	}{
		{"literal", []byte{0x02, 'a', 'b', 'c'}, "abc"},
		{"short back-reference", []byte{0x02, 'a', 'b', 'c', 0x80, 0x02}, "abcabcabc"},
		{"long back-reference", []byte{0x02, 'a', 'b', 'c', 0xE0, 0x01, 0x02}, "abcabcabcabca"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := NewLZFFilter().Remove(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(out))
		})
	}

	t.Run("offset before start", func(t *testing.T) {
		_, err := NewLZFFilter().Remove([]byte{0x00, 'a', 0x20, 0x05})
		require.Error(t, err)
	})
	t.Run("truncated literal", func(t *testing.T) {
		_, err := NewLZFFilter().Remove([]byte{0x05, 'a'})
		require.Error(t, err)
	})
}

func TestLZ4RawBlock(t *testing.T) {
	in := []byte{9, 8, 7}
	stream := binary.BigEndian.AppendUint64(nil, 3)
	stream = binary.BigEndian.AppendUint32(stream, 3)
	stream = binary.BigEndian.AppendUint32(stream, 3)
	stream = append(stream, in...)

	out, err := NewLZ4Filter(0).Remove(stream)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = NewLZ4Filter(0).Remove(stream[:10])
	require.Error(t, err)
}

func TestPipeline(t *testing.T) {
	fp := &core.FilterPipeline{Version: 2, Filters: []core.Filter{
		{ID: core.FilterShuffle},
		{ID: core.FilterDeflate, ClientData: []uint32{4}},
		{ID: core.FilterFletcher32},
	}}
	p := NewPipeline(fp, 8)
	require.Equal(t, 3, p.Len())
	assert.Equal(t, "shuffle", p.Filters()[0].Name())

	in := sample(800)
	enc, err := p.Apply(in)
	require.NoError(t, err)
	out, err := p.Remove(enc, 0)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	t.Run("mask skips filters", func(t *testing.T) {
		// Deflate skipped on write (bit 1).
		shuffled, err := NewShuffleFilter(8).Apply(in)
		require.NoError(t, err)
		stored, err := NewFletcher32Filter().Apply(shuffled)
		require.NoError(t, err)

		out, err := p.Remove(stored, 0x02)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	})

	t.Run("nil pipeline is identity", func(t *testing.T) {
		out, err := NewPipeline(nil, 4).Remove([]byte{1, 2}, 0)
		require.NoError(t, err)
		assert.Equal(t, []byte{1, 2}, out)
	})
}

func TestUnsupportedFilter(t *testing.T) {
	p := NewPipeline(&core.FilterPipeline{Filters: []core.Filter{{ID: core.FilterSZIP}}}, 4)
	_, err := p.Remove([]byte{1, 2, 3}, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrUnsupported))

	// A masked unsupported filter is never invoked.
	out, err := p.Remove([]byte{1, 2, 3}, 0x01)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, out)

	f := New(core.Filter{ID: 32001, Name: "blosc"}, 4)
	assert.Equal(t, "blosc", f.Name())
	assert.Equal(t, core.FilterID(32001), f.ID())
}

func TestBZIP2(t *testing.T) {
	f := NewBZIP2Filter(0)
	_, err := f.Apply([]byte("x"))
	require.ErrorIs(t, err, core.ErrUnsupported)

	_, err = f.Remove([]byte("not bzip2"))
	require.Error(t, err)

	_, cd := f.Encode()
	assert.Equal(t, []uint32{9}, cd)
}
