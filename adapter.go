package h5catalog

import (
	"errors"
	"sync"
	"time"

	"github.com/scigolib/h5catalog/hdf5"
)

// Source describes where the adapter's bytes came from.
type Source struct {
	URL  string `json:"url"`
	Size int64  `json:"size"`

	// Digest is the hex BLAKE3-256 of the file bytes.
	Digest    string    `json:"digest"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Adapter is a read-only catalog over an HDF5 file held in memory. It is the
// root container of the file and owns the bytes until Close.
type Adapter struct {
	*Container

	file   *hdf5.File
	data   []byte
	source Source

	closeOnce sync.Once
}

// Source returns the origin of the file.
func (a *Adapter) Source() Source {
	return a.source
}

// File returns the open HDF5 file.
func (a *Adapter) File() *hdf5.File {
	return a.file
}

// Bytes returns the raw file contents. The slice must not be modified and
// is nil after Close.
func (a *Adapter) Bytes() []byte {
	return a.data
}

// Close releases the file and the buffer. It is safe to call more than once.
func (a *Adapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		err = a.file.Close()
		a.data = nil
	})
	return err
}

// SkipContainer can be returned by a Walk callback to skip the children of
// the container just visited.
var SkipContainer = errors.New("skip this container") //nolint:revive,staticcheck // sentinel mirrors fs.SkipDir

// Walk visits every node below the root in depth-first key order. Links are
// visited, but containers reached through a soft link or a repeated hard
// link are not descended into, so the walk terminates on cyclic link graphs
// and lists shared members once.
func (a *Adapter) Walk(fn func(path string, n Node) error) error {
	return walk(a.Container, fn)
}

func walk(c *Container, fn func(string, Node) error) error {
	for _, key := range c.Keys() {
		n, err := c.Get(key)
		if err != nil {
			return err
		}
		err = fn(n.Path(), n)
		if errors.Is(err, SkipContainer) {
			continue
		}
		if err != nil {
			return err
		}
		if sub, ok := n.(*Container); ok && !isAlias(n) {
			if err := walk(sub, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// Entry is one line of Tree.
type Entry struct {
	Path     string          `json:"path"`
	Family   StructureFamily `json:"structure_family"`
	SoftLink bool            `json:"soft_link,omitempty"`

	// Shape and DataType are set for arrays.
	Shape    []uint64 `json:"shape,omitempty"`
	DataType string   `json:"data_type,omitempty"`
}

// Tree lists every node in Walk order.
func (a *Adapter) Tree() ([]Entry, error) {
	var out []Entry
	err := a.Walk(func(p string, n Node) error {
		e := Entry{Path: p, Family: n.StructureFamily(), SoftLink: isSoftLink(n)}
		if arr, ok := n.(*Array); ok {
			s := arr.Structure()
			e.Shape = s.Shape
			e.DataType = s.DataType.String()
		}
		out = append(out, e)
		return nil
	})
	return out, err
}
