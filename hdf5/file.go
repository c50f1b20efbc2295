// Package hdf5 provides a pure Go, read-only implementation of the HDF5
// file format. Files are opened from any io.ReaderAt, typically a byte
// slice already held in memory, and the group hierarchy is loaded eagerly
// at open time. Dataset values are read on demand.
//
// Supported: superblock versions 0 to 3, object header versions 1 and 2,
// symbol-table, compact and dense groups, soft links, attributes (compact
// and dense), every datatype class except time, compact, contiguous and
// chunked layouts with the v1 B-tree, single-chunk, implicit, fixed-array
// and v2 B-tree chunk indexes, and the deflate, shuffle, fletcher32, LZF,
// bzip2, LZ4 and Zstandard filters.
package hdf5

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/scigolib/h5catalog/internal/core"
	"github.com/scigolib/h5catalog/internal/utils"
)

var (
	// ErrNotHDF5 is returned when the input carries no HDF5 signature.
	ErrNotHDF5 = core.ErrNotHDF5

	// ErrUnsupported marks valid HDF5 features this package does not read.
	ErrUnsupported = core.ErrUnsupported

	// ErrNotFound is returned by path lookups that match no object.
	ErrNotFound = errors.New("object not found")
)

// File represents an open HDF5 file with its metadata and root group.
type File struct {
	r      *core.Reader
	closer io.Closer
	root   *Group
}

// Open opens an HDF5 file on disk for reading.
func Open(filename string) (*File, error) {
	//nolint:gosec // G304: opening a caller-chosen file is the point
	f, err := os.Open(filename)
	if err != nil {
		return nil, utils.WrapError("file open failed", err)
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, utils.WrapError("file stat failed", err)
	}
	file, err := OpenReader(f, fi.Size())
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	file.closer = f
	return file, nil
}

// OpenBytes opens an HDF5 file held in memory. The slice must not be
// modified while the File is in use.
func OpenBytes(b []byte) (*File, error) {
	return OpenReader(bytes.NewReader(b), int64(len(b)))
}

// OpenReader opens an HDF5 file of the given size read through r.
func OpenReader(r io.ReaderAt, size int64) (*File, error) {
	cr, err := core.NewReader(r, size)
	if err != nil {
		if errors.Is(err, core.ErrNotHDF5) {
			return nil, err
		}
		return nil, utils.WrapError("superblock read failed", err)
	}

	sb := cr.Superblock()
	if cr.Undefined(sb.RootGroup) || sb.BaseAddress+sb.RootGroup >= cr.Size() {
		return nil, fmt.Errorf("root group address %d beyond file size %d", sb.RootGroup, cr.Size())
	}

	f := &File{r: cr}
	l := newLoader(f)
	root, err := l.loadRoot(sb.RootGroup)
	if err != nil {
		return nil, utils.WrapError("root group load failed", err)
	}
	f.root = root
	l.resolveSoftLinks()
	return f, nil
}

// Close releases the underlying file when the File was opened with Open.
// It is safe to call Close multiple times.
func (f *File) Close() error {
	if f.closer == nil {
		return nil
	}
	err := f.closer.Close()
	f.closer = nil
	return err
}

// Root returns the root group.
func (f *File) Root() *Group {
	return f.root
}

// Get returns the object at an absolute path such as "/entry/data".
func (f *File) Get(path string) (Object, error) {
	return f.root.Get(path)
}

// Walk visits every object depth-first in name order, starting with the
// root group. Group aliases, reached through soft links or repeated hard
// links, are visited but not descended into, so every member is listed once
// under its first path and the walk terminates on any link graph.
func (f *File) Walk(fn func(path string, obj Object)) {
	walkGroup(f.root, fn)
}

func walkGroup(g *Group, fn func(string, Object)) {
	fn(g.path, g)
	for _, child := range g.Children() {
		if cg, ok := child.(*Group); ok && !cg.IsAlias() {
			walkGroup(cg, fn)
			continue
		}
		fn(child.Path(), child)
	}
}

// SuperblockVersion returns the superblock format version (0 to 3).
func (f *File) SuperblockVersion() uint8 {
	return f.r.Superblock().Version
}

// Size returns the size of the file in bytes.
func (f *File) Size() int64 {
	return int64(f.r.Size()) //nolint:gosec // G115: created from an int64
}

// childPath joins a group path and a link name.
func childPath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

// splitPath breaks a slash-separated path into its non-empty components.
func splitPath(p string) []string {
	var parts []string
	for _, s := range strings.Split(p, "/") {
		if s != "" && s != "." {
			parts = append(parts, s)
		}
	}
	return parts
}
