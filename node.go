package h5catalog

import (
	"fmt"
	"strings"
	"sync"

	"github.com/scigolib/h5catalog/hdf5"
)

// StructureFamily names the kind of a catalog node.
type StructureFamily string

// Structure families.
const (
	FamilyContainer StructureFamily = "container"
	FamilyArray     StructureFamily = "array"
)

// Metadata holds the decoded attributes of a node, keyed by name.
type Metadata map[string]any

// Node is a container or an array.
type Node interface {
	StructureFamily() StructureFamily
	Metadata() Metadata

	// Path is the absolute HDF5 path of the node.
	Path() string
}

// Item is a keyed child, as returned by Container.Items.
type Item struct {
	Key  string
	Node Node
}

// Container is a node with named children, backed by an HDF5 group.
// Children are built on first access and then reused.
type Container struct {
	group *hdf5.Group
	meta  Metadata

	mu    sync.Mutex
	nodes map[string]Node
}

func newContainer(g *hdf5.Group) (*Container, error) {
	meta, err := readMetadata(g)
	if err != nil {
		return nil, err
	}
	return &Container{group: g, meta: meta, nodes: map[string]Node{}}, nil
}

// StructureFamily returns FamilyContainer.
func (c *Container) StructureFamily() StructureFamily {
	return FamilyContainer
}

// Metadata returns the group attributes.
func (c *Container) Metadata() Metadata {
	return c.meta
}

// Path returns the HDF5 path of the group.
func (c *Container) Path() string {
	return c.group.Path()
}

// Group returns the underlying HDF5 group.
func (c *Container) Group() *hdf5.Group {
	return c.group
}

// Keys returns the child names in sorted order.
func (c *Container) Keys() []string {
	children := c.group.Children()
	keys := make([]string, len(children))
	for i, obj := range children {
		keys[i] = obj.Name()
	}
	return keys
}

// Len returns the number of children.
func (c *Container) Len() int {
	return c.group.Len()
}

// Get returns the child named key.
func (c *Container) Get(key string) (Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.nodes[key]; ok {
		return n, nil
	}
	obj, err := c.group.Child(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, joinPath(c.Path(), key))
	}
	n, err := newNode(obj)
	if err != nil {
		return nil, err
	}
	c.nodes[key] = n
	return n, nil
}

// Lookup descends through nested containers. Segments may themselves hold
// slash-separated paths; empty segments are ignored.
func (c *Container) Lookup(path ...string) (Node, error) {
	var cur Node = c
	for _, seg := range path {
		for _, key := range strings.Split(seg, "/") {
			if key == "" {
				continue
			}
			parent, ok := cur.(*Container)
			if !ok {
				return nil, fmt.Errorf("%w: %s is an array", ErrNotFound, cur.Path())
			}
			next, err := parent.Get(key)
			if err != nil {
				return nil, err
			}
			cur = next
		}
	}
	return cur, nil
}

// Items returns up to limit children starting at offset, in key order.
// A limit of zero or less returns everything after offset.
func (c *Container) Items(offset, limit int) ([]Item, error) {
	keys := c.Keys()
	if offset < 0 {
		offset = 0
	}
	if offset > len(keys) {
		offset = len(keys)
	}
	keys = keys[offset:]
	if limit > 0 && limit < len(keys) {
		keys = keys[:limit]
	}

	items := make([]Item, 0, len(keys))
	for _, k := range keys {
		n, err := c.Get(k)
		if err != nil {
			return nil, err
		}
		items = append(items, Item{Key: k, Node: n})
	}
	return items, nil
}

func newNode(obj hdf5.Object) (Node, error) {
	switch o := obj.(type) {
	case *hdf5.Group:
		return newContainer(o)
	case *hdf5.Dataset:
		return newArray(o)
	default:
		return nil, fmt.Errorf("%s: unexpected object %T", obj.Path(), obj)
	}
}

// isAlias reports whether n is a container listed under another path too.
func isAlias(n Node) bool {
	c, ok := n.(*Container)
	return ok && c.group.IsAlias()
}

func isSoftLink(n Node) bool {
	switch v := n.(type) {
	case *Container:
		return v.group.IsSoftLink()
	case *Array:
		return v.ds.IsSoftLink()
	}
	return false
}

// readMetadata decodes the attributes of obj. Attributes whose values
// cannot be decoded are left out.
func readMetadata(obj hdf5.Object) (Metadata, error) {
	attrs, err := obj.Attributes()
	if err != nil {
		return nil, fmt.Errorf("%s attributes: %w", obj.Path(), err)
	}
	meta := make(Metadata, len(attrs))
	for _, a := range attrs {
		v, err := a.Value()
		if err != nil {
			continue
		}
		meta[a.Name] = metadataValue(v)
	}
	return meta, nil
}

// metadataValue keeps byte attributes numeric instead of letting encoders
// treat them as binary blobs.
func metadataValue(v any) any {
	b, ok := v.([]uint8)
	if !ok {
		return v
	}
	out := make([]uint64, len(b))
	for i, x := range b {
		out[i] = uint64(x)
	}
	return out
}

func joinPath(parent, name string) string {
	if strings.HasSuffix(parent, "/") {
		return parent + name
	}
	return parent + "/" + name
}
