package hdf5_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scigolib/h5catalog/hdf5"
	"github.com/scigolib/h5catalog/internal/h5test"
)

func linkTree() *h5test.Group {
	return &h5test.Group{Members: []h5test.Node{
		&h5test.Group{Name: "raw", Members: []h5test.Node{
			&h5test.Dataset{Name: "frames", Type: h5test.Uint16(), Dims: []uint64{3}, Data: h5test.Pack([]uint16{7, 8, 9})},
		}},
		&h5test.Group{Name: "processed", Members: []h5test.Node{
			&h5test.SoftLink{Name: "source", Target: "/raw/frames"},
			&h5test.SoftLink{Name: "sibling", Target: "../raw"},
			&h5test.SoftLink{Name: "chained", Target: "source"},
			&h5test.SoftLink{Name: "broken", Target: "/nowhere"},
		}},
		&h5test.SoftLink{Name: "latest", Target: "processed"},
	}}
}

func TestSoftLinks(t *testing.T) {
	for _, format := range h5test.Formats {
		t.Run(format.String(), func(t *testing.T) {
			f := openBuilt(t, format, linkTree())

			processed := group(t, f, "/processed")
			assert.Equal(t, []string{"chained", "source"}, names(processed.Children()),
				"dangling links and paths with .. are dropped")

			src := dataset(t, f, "/processed/source")
			assert.True(t, src.IsSoftLink())
			assert.Equal(t, "/processed/source", src.Path())
			v, err := src.Read()
			require.NoError(t, err)
			assert.Equal(t, []uint16{7, 8, 9}, v)

			chained := dataset(t, f, "/processed/chained")
			assert.Equal(t, src.Address(), chained.Address())

			latest := group(t, f, "/latest")
			assert.True(t, latest.IsSoftLink())
			assert.Equal(t, processed.Address(), latest.Address())
			assert.Equal(t, names(processed.Children()), names(latest.Children()))

			through, err := f.Get("/latest/source")
			require.NoError(t, err)
			assert.Equal(t, "/processed/source", through.Path())
		})
	}
}

func TestWalk_DoesNotFollowSoftLinkedGroups(t *testing.T) {
	f := openBuilt(t, h5test.V2, linkTree())

	var paths []string
	f.Walk(func(path string, _ hdf5.Object) { paths = append(paths, path) })
	assert.Equal(t, []string{
		"/",
		"/latest",
		"/processed",
		"/processed/chained",
		"/processed/source",
		"/raw",
		"/raw/frames",
	}, paths)
}

func TestSoftLinkCycle(t *testing.T) {
	root := &h5test.Group{Members: []h5test.Node{
		&h5test.Group{Name: "a", Members: []h5test.Node{&h5test.SoftLink{Name: "to_b", Target: "/b"}}},
		&h5test.Group{Name: "b", Members: []h5test.Node{&h5test.SoftLink{Name: "to_a", Target: "/a"}}},
	}}
	f := openBuilt(t, h5test.V0, root)

	obj, err := f.Get("/a/to_b/to_a/to_b")
	require.NoError(t, err)
	assert.Equal(t, "/a/to_b", obj.Path())

	count := 0
	f.Walk(func(string, hdf5.Object) { count++ })
	assert.Equal(t, 5, count)
}

func TestHardLinks(t *testing.T) {
	root := &h5test.Group{Members: []h5test.Node{
		&h5test.Group{Name: "a", Members: []h5test.Node{
			&h5test.Dataset{Name: "d", Type: h5test.Int8(), Dims: []uint64{2}, Data: []byte{1, 2}},
			&h5test.HardLink{Name: "up", Path: "/"},
		}},
		&h5test.HardLink{Name: "b", Path: "/a/d"},
	}}
	for _, format := range h5test.Formats {
		t.Run(format.String(), func(t *testing.T) {
			f := openBuilt(t, format, root)

			assert.Equal(t, []string{"d"}, names(group(t, f, "/a").Children()), "link back to the root is dropped")

			b := dataset(t, f, "/b")
			assert.False(t, b.IsSoftLink())
			assert.Equal(t, dataset(t, f, "/a/d").Address(), b.Address())
			v, err := b.Read()
			require.NoError(t, err)
			assert.Equal(t, []int8{1, 2}, v)
		})
	}
}

func TestExternalLinksAreSkipped(t *testing.T) {
	f := openBuilt(t, h5test.V2, &h5test.Group{Members: []h5test.Node{
		&h5test.ExternalLink{Name: "detector", File: "detector.h5", Path: "/entry/data"},
		&h5test.Group{Name: "local"},
	}})
	assert.Equal(t, []string{"local"}, names(f.Root().Children()))
}

func TestLargeGroups(t *testing.T) {
	tests := []struct {
		name   string
		format h5test.Format
		group  h5test.Group
	}{
		{"symbol table", h5test.V0, h5test.Group{Name: "g"}},
		{"compact links", h5test.V2, h5test.Group{Name: "g"}},
		{"dense links", h5test.V2, h5test.Group{Name: "g", Dense: true}},
		{"dense links, indirect heap", h5test.V2, h5test.Group{Name: "g", Dense: true, HeapBlockSize: 128}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := tt.group
			var want []string
			for i := 24; i >= 0; i-- {
				name := fmt.Sprintf("m%02d", i)
				g.Members = append(g.Members, &h5test.Group{Name: name})
			}
			for i := 0; i <= 24; i++ {
				want = append(want, fmt.Sprintf("m%02d", i))
			}
			f := openBuilt(t, tt.format, &h5test.Group{Members: []h5test.Node{&g}})

			grp := group(t, f, "/g")
			assert.Equal(t, want, names(grp.Children()))
			assert.Equal(t, 25, grp.Len())

			child, err := grp.Child("m13")
			require.NoError(t, err)
			assert.Equal(t, "/g/m13", child.Path())
			_, err = grp.Child("m99")
			assert.ErrorIs(t, err, hdf5.ErrNotFound)
		})
	}
}

func TestEmptyGroups(t *testing.T) {
	for _, format := range h5test.Formats {
		t.Run(format.String(), func(t *testing.T) {
			f := openBuilt(t, format, &h5test.Group{})
			assert.Empty(t, f.Root().Children())
			attrs, err := f.Root().Attributes()
			require.NoError(t, err)
			assert.Empty(t, attrs)
		})
	}
}

// diamond nests depth groups named "g", each level also holding a hard
// link "h" to its "g". Following every path would visit 2^depth groups.
func diamond(parent string, depth int) []h5test.Node {
	if depth == 0 {
		return nil
	}
	child := parent + "/g"
	return []h5test.Node{
		&h5test.Group{Name: "g", Members: diamond(child, depth-1)},
		&h5test.HardLink{Name: "h", Path: child},
	}
}

func TestHardLinks_SharedGroupsLoadOnce(t *testing.T) {
	const depth = 20
	for _, format := range h5test.Formats {
		t.Run(format.String(), func(t *testing.T) {
			f := openBuilt(t, format, &h5test.Group{Members: diamond("", depth)})

			count := 0
			f.Walk(func(string, hdf5.Object) { count++ })
			assert.Equal(t, 1+2*depth, count)

			h := group(t, f, "/g/h")
			assert.False(t, h.IsSoftLink())
			assert.True(t, h.IsAlias())
			assert.Equal(t, group(t, f, "/g/g").Address(), h.Address())
			assert.Equal(t, names(group(t, f, "/g/g").Children()), names(h.Children()))
			assert.False(t, group(t, f, "/g/g").IsAlias())

			// Members of an alias keep the path they were first loaded under.
			deep := group(t, f, "/h/h/h/g")
			assert.Equal(t, "/g/g/g/g", deep.Path())
		})
	}
}
