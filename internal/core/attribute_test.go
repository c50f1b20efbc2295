package core_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scigolib/h5catalog/internal/core"
	"github.com/scigolib/h5catalog/internal/h5test"
)

func TestParseAttributeMessage(t *testing.T) {
	attrs := []h5test.Attr{
		{Name: "NX_class", Type: h5test.FixedString(7, h5test.NullPad), Data: []byte("NXentry")},
		{Name: "count", Type: h5test.Int64(), Data: h5test.Pack(int64(42))},
		{Name: "vector", Type: h5test.Float32(), Dims: []uint64{3}, Data: h5test.Pack([]float32{1, 2, 3})},
		{Name: "units", Type: h5test.VarString(), Strings: []string{"mm"}},
	}
	for _, format := range h5test.Formats {
		t.Run(format.String(), func(t *testing.T) {
			r := openBuilt(t, format, &h5test.Group{Attrs: attrs})
			root, err := core.ReadObjectHeader(r, r.Superblock().RootGroup)
			require.NoError(t, err)

			msgs := root.All(core.MsgAttribute)
			require.Len(t, msgs, len(attrs))

			got := map[string]any{}
			for _, msg := range msgs {
				a, err := core.ParseAttributeMessage(r, msg.Data)
				require.NoError(t, err)
				v, err := core.DecodeValues(r, a.Datatype, a.Data, a.Dataspace.NumElements())
				require.NoError(t, err)
				got[a.Name] = v
			}
			require.Equal(t, map[string]any{
				"NX_class": []string{"NXentry"},
				"count":    []int64{42},
				"vector":   []float32{1, 2, 3},
				"units":    []string{"mm"},
			}, got)
		})
	}
}

func TestParseAttributeMessage_Errors(t *testing.T) {
	r := openBuilt(t, h5test.V2, &h5test.Group{})

	_, err := core.ParseAttributeMessage(r, []byte{4, 0, 0, 0, 0, 0, 0, 0})
	require.ErrorIs(t, err, core.ErrUnsupported)

	_, err = core.ParseAttributeMessage(r, []byte{3, 0, 9, 0})
	require.Error(t, err)
}
