package core_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scigolib/h5catalog/internal/core"
	"github.com/scigolib/h5catalog/internal/h5test"
)

func openBuilt(t *testing.T, format h5test.Format, root *h5test.Group) *core.Reader {
	t.Helper()
	data := h5test.MustBuild(t, format, root)
	r, err := core.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	return r
}

// child returns the header of a root member of a V2 file, found through
// the root's compact link messages.
func child(t *testing.T, r *core.Reader, name string) *core.ObjectHeader {
	t.Helper()
	root, err := core.ReadObjectHeader(r, r.Superblock().RootGroup)
	require.NoError(t, err)
	for _, msg := range root.All(core.MsgLink) {
		l, err := core.ParseLink(msg.Data, r.OffsetSize())
		require.NoError(t, err)
		if l.Name == name {
			h, err := core.ReadObjectHeader(r, l.Address)
			require.NoError(t, err)
			return h
		}
	}
	t.Fatalf("no root member %q", name)
	return nil
}
