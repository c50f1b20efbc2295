package hdf5_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scigolib/h5catalog/hdf5"
	"github.com/scigolib/h5catalog/internal/h5test"
)

func openBuilt(t *testing.T, format h5test.Format, root *h5test.Group) *hdf5.File {
	t.Helper()
	f, err := hdf5.OpenBytes(h5test.MustBuild(t, format, root))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func dataset(t *testing.T, f *hdf5.File, path string) *hdf5.Dataset {
	t.Helper()
	obj, err := f.Get(path)
	require.NoError(t, err)
	ds, ok := obj.(*hdf5.Dataset)
	require.True(t, ok, "%s is %T", path, obj)
	return ds
}

func group(t *testing.T, f *hdf5.File, path string) *hdf5.Group {
	t.Helper()
	obj, err := f.Get(path)
	require.NoError(t, err)
	g, ok := obj.(*hdf5.Group)
	require.True(t, ok, "%s is %T", path, obj)
	return g
}

func names(objs []hdf5.Object) []string {
	out := make([]string, len(objs))
	for i, o := range objs {
		out[i] = o.Name()
	}
	return out
}

func iota32(n int) []int32 {
	out := make([]int32, n)
	for i := range out {
		out[i] = int32(i)
	}
	return out
}

// nexusTree is a small NeXus-like hierarchy.
func nexusTree() *h5test.Group {
	return &h5test.Group{
		Attrs: []h5test.Attr{{Name: "default", Type: h5test.VarString(), Strings: []string{"entry"}}},
		Members: []h5test.Node{
			&h5test.Group{
				Name:  "entry",
				Attrs: []h5test.Attr{{Name: "NX_class", Type: h5test.FixedString(7, h5test.NullTerm), Data: []byte("NXentry")}},
				Members: []h5test.Node{
					&h5test.Dataset{Name: "title", Type: h5test.VarString(), Strings: []string{"powder scan"}},
					&h5test.Group{
						Name: "data",
						Members: []h5test.Node{
							&h5test.Dataset{
								Name:   "counts",
								Type:   h5test.Int32(),
								Dims:   []uint64{4, 6},
								Data:   h5test.Pack(iota32(24)),
								Layout: h5test.Chunked,
								Chunks: []uint64{2, 4},
								Attrs:  []h5test.Attr{{Name: "units", Type: h5test.FixedString(6, h5test.NullPad), Data: []byte("counts")}},
							},
							&h5test.Dataset{Name: "two_theta", Type: h5test.Float64(), Dims: []uint64{6}, Data: h5test.Pack([]float64{10, 20, 30, 40, 50, 60})},
						},
					},
				},
			},
			&h5test.Group{Name: "calibration"},
		},
	}
}
