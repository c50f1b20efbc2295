package core_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scigolib/h5catalog/internal/core"
	"github.com/scigolib/h5catalog/internal/h5test"
)

func readContiguous(t *testing.T, r *core.Reader, h *core.ObjectHeader) (*core.Datatype, []byte, uint64) {
	t.Helper()
	dt, err := core.ReadDatatype(r, h)
	require.NoError(t, err)
	ds, err := core.ParseDataspace(h.Find(core.MsgDataspace).Data, r.LengthSize())
	require.NoError(t, err)
	layout, err := core.ParseDataLayout(h.Find(core.MsgDataLayout).Data, r.OffsetSize(), r.LengthSize())
	require.NoError(t, err)
	require.Equal(t, core.LayoutContiguous, layout.Class)
	raw, err := r.ReadAt(layout.Address, layout.Size)
	require.NoError(t, err)
	return dt, raw, ds.NumElements()
}

func TestVarLenStrings(t *testing.T) {
	r := openBuilt(t, h5test.V2, &h5test.Group{Members: []h5test.Node{
		&h5test.Dataset{Name: "names", Type: h5test.VarString(), Dims: []uint64{3}, Strings: []string{"alpha", "", "gamma ray"}},
	}})
	dt, raw, n := readContiguous(t, r, child(t, r, "names"))
	got, err := core.DecodeValues(r, dt, raw, n)
	require.NoError(t, err)
	require.Equal(t, []string{"alpha", "", "gamma ray"}, got)
}

func TestVarLenSequences(t *testing.T) {
	r := openBuilt(t, h5test.V2, &h5test.Group{Members: []h5test.Node{
		&h5test.Dataset{
			Name: "ragged", Type: h5test.VarSequence(h5test.Int32()), Dims: []uint64{2},
			Sequences: [][]byte{h5test.Pack([]int32{1, 2, 3}), h5test.Pack([]int32{4})},
		},
	}})
	dt, raw, n := readContiguous(t, r, child(t, r, "ragged"))
	got, err := core.DecodeValues(r, dt, raw, n)
	require.NoError(t, err)
	require.Equal(t, []any{[]int32{1, 2, 3}, []int32{4}}, got)
}

func TestGlobalHeap_MissingObject(t *testing.T) {
	r := openBuilt(t, h5test.V2, &h5test.Group{Members: []h5test.Node{
		&h5test.Dataset{Name: "s", Type: h5test.VarString(), Dims: []uint64{1}, Strings: []string{"x"}},
	}})
	_, raw, _ := readContiguous(t, r, child(t, r, "s"))
	_, ref, err := core.DecodeVarLen(raw, r.OffsetSize())
	require.NoError(t, err)

	data, err := r.GlobalHeap().Object(ref)
	require.NoError(t, err)
	require.Equal(t, []byte("x"), data)

	ref.Index = 42
	_, err = r.GlobalHeap().Object(ref)
	require.ErrorContains(t, err, "not found")

	ref.Collection = 0
	_, err = r.GlobalHeap().Object(ref)
	require.Error(t, err)
}
