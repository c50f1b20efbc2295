package hdf5

import (
	"fmt"
	"sort"
	"strings"

	"github.com/scigolib/h5catalog/internal/core"
	"github.com/scigolib/h5catalog/internal/structures"
	"github.com/scigolib/h5catalog/internal/utils"
)

// Object is a group or a dataset.
type Object interface {
	// Name is the link name the object was reached through; "/" for the root.
	Name() string

	// Path is the absolute path of the object.
	Path() string

	// Attributes reads the attributes attached to the object, sorted by name.
	Attributes() ([]*Attribute, error)
}

// Group represents an HDF5 group. Its children are sorted by name.
type Group struct {
	file     *File
	name     string
	path     string
	address  uint64
	children []Object

	// target is set when the group is a second name for a group loaded
	// elsewhere, reached through a soft link or, with hard set, through
	// another hard link.
	target *Group
	hard   bool

	soft []core.Link
}

// Name returns the group's link name.
func (g *Group) Name() string {
	return g.name
}

// Path returns the group's absolute path.
func (g *Group) Path() string {
	return g.path
}

// Address returns the object header address.
func (g *Group) Address() uint64 {
	return g.base().address
}

// IsSoftLink reports whether the group was reached through a soft link.
func (g *Group) IsSoftLink() bool {
	return g.target != nil && !g.hard
}

// IsAlias reports whether the group shares its members with a group listed
// under another path: it was reached through a soft link, or through a hard
// link to a group already loaded.
func (g *Group) IsAlias() bool {
	return g.target != nil
}

func (g *Group) base() *Group {
	if g.target != nil {
		return g.target
	}
	return g
}

// Children returns the members of the group, sorted by name.
func (g *Group) Children() []Object {
	return g.base().children
}

// Len returns the number of members.
func (g *Group) Len() int {
	return len(g.base().children)
}

// Child returns the member named name.
func (g *Group) Child(name string) (Object, error) {
	children := g.base().children
	i := sort.Search(len(children), func(i int) bool { return children[i].Name() >= name })
	if i < len(children) && children[i].Name() == name {
		return children[i], nil
	}
	return nil, fmt.Errorf("%s: %w", childPath(g.path, name), ErrNotFound)
}

// Get resolves a path relative to g. A leading "/" starts at the root.
func (g *Group) Get(p string) (Object, error) {
	var cur Object = g
	if strings.HasPrefix(p, "/") {
		cur = g.file.root
	}
	for _, part := range splitPath(p) {
		grp, ok := cur.(*Group)
		if !ok {
			return nil, fmt.Errorf("%s is a dataset: %w", cur.Path(), ErrNotFound)
		}
		next, err := grp.Child(part)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// Attributes returns the attributes attached to the group.
func (g *Group) Attributes() ([]*Attribute, error) {
	return readAttributes(g.file.r, g.base().address)
}

// loader builds the object tree of a file.
type loader struct {
	file *File
	r    *core.Reader

	// open holds the header addresses of the groups being loaded; a hard
	// link back to one of them is a cycle and is dropped.
	open map[uint64]bool

	// loaded maps header addresses to the object first loaded there. Later
	// hard links to the same header become aliases of it.
	loaded map[uint64]Object

	// pending lists groups holding soft links.
	pending []*Group
}

func newLoader(f *File) *loader {
	return &loader{file: f, r: f.r, open: map[uint64]bool{}, loaded: map[uint64]Object{}}
}

func (l *loader) loadRoot(address uint64) (*Group, error) {
	h, err := core.ReadObjectHeader(l.r, address)
	if err != nil {
		return nil, err
	}
	return l.group("/", "/", h)
}

func (l *loader) group(name, p string, h *core.ObjectHeader) (*Group, error) {
	g := &Group{file: l.file, name: name, path: p, address: h.Address}
	links, err := readLinks(l.r, h)
	if err != nil {
		return nil, utils.WrapErrorAt("group "+p, h.Address, err)
	}

	l.open[h.Address] = true
	defer delete(l.open, h.Address)

	for _, link := range links {
		switch link.Type {
		case core.LinkTypeHard:
			if l.open[link.Address] {
				continue
			}
			if prev, ok := l.loaded[link.Address]; ok {
				g.children = append(g.children, alias(prev, link.Name, childPath(p, link.Name), false))
				continue
			}
			obj, err := l.object(link.Name, childPath(p, link.Name), link.Address)
			if err != nil {
				return nil, err
			}
			if obj != nil {
				g.children = append(g.children, obj)
			}
		case core.LinkTypeSoft:
			g.soft = append(g.soft, link)
		default:
			// External and user-defined links point outside this file.
		}
	}
	sortObjects(g.children)
	if len(g.soft) > 0 {
		l.pending = append(l.pending, g)
	}
	return g, nil
}

// object loads the object at address. Committed datatypes and objects of
// unknown kind are not listed and yield nil.
func (l *loader) object(name, p string, address uint64) (Object, error) {
	h, err := core.ReadObjectHeader(l.r, address)
	if err != nil {
		return nil, utils.WrapError(p, err)
	}
	var obj Object
	switch h.Kind() {
	case core.KindGroup:
		obj, err = l.group(name, p, h)
	case core.KindDataset:
		obj, err = newDataset(l.file, name, p, h)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	l.loaded[address] = obj
	return obj, nil
}

// resolveSoftLinks binds soft links to their targets. Links to links are
// resolved over repeated passes; dangling links are dropped.
func (l *loader) resolveSoftLinks() {
	pending := l.pending
	for len(pending) > 0 {
		progress := false
		var next []*Group
		for _, g := range pending {
			var left []core.Link
			for _, link := range g.soft {
				target, err := g.Get(link.Target)
				if err != nil {
					left = append(left, link)
					continue
				}
				g.children = append(g.children, alias(target, link.Name, childPath(g.path, link.Name), true))
				progress = true
			}
			g.soft = left
			if len(left) > 0 {
				next = append(next, g)
			}
			sortObjects(g.children)
		}
		if !progress {
			break
		}
		pending = next
	}
	for _, g := range pending {
		g.soft = nil
	}
}

// alias returns obj as seen through another link, soft or hard.
func alias(obj Object, name, p string, soft bool) Object {
	switch o := obj.(type) {
	case *Group:
		return &Group{file: o.file, name: name, path: p, target: o.base(), hard: !soft}
	case *Dataset:
		cp := *o
		cp.name, cp.path, cp.soft = name, p, soft
		return &cp
	}
	return obj
}

func sortObjects(objs []Object) {
	sort.SliceStable(objs, func(i, j int) bool { return objs[i].Name() < objs[j].Name() })
}

// readLinks lists the links of a group header in any of its storage forms.
func readLinks(r *core.Reader, h *core.ObjectHeader) ([]core.Link, error) {
	if msg := h.Find(core.MsgSymbolTable); msg != nil {
		st, err := structures.ParseSymbolTableMessage(msg.Data, r.OffsetSize())
		if err != nil {
			return nil, err
		}
		return structures.ReadGroupLinks(r, st)
	}

	var links []core.Link
	for _, msg := range h.All(core.MsgLink) {
		link, err := core.ParseLink(msg.Data, r.OffsetSize())
		if err != nil {
			return nil, err
		}
		links = append(links, *link)
	}
	if msg := h.Find(core.MsgLinkInfo); msg != nil {
		info, err := core.ParseLinkInfo(msg.Data, r.OffsetSize())
		if err != nil {
			return nil, err
		}
		if info.Dense() {
			dense, err := readDenseLinks(r, info)
			if err != nil {
				return nil, err
			}
			links = append(links, dense...)
		}
	}
	return links, nil
}

func readDenseLinks(r *core.Reader, info *core.DenseIndex) ([]core.Link, error) {
	heap, err := structures.OpenFractalHeap(r, info.FractalHeap)
	if err != nil {
		return nil, err
	}
	bt, err := structures.ReadBTreeV2(r, info.NameBTree)
	if err != nil {
		return nil, err
	}
	records, err := bt.Records(r)
	if err != nil {
		return nil, err
	}

	links := make([]core.Link, 0, len(records))
	for _, rec := range records {
		nr, err := structures.ParseLinkNameRecord(rec)
		if err != nil {
			return nil, err
		}
		obj, err := heap.ReadObject(nr.HeapID)
		if err != nil {
			return nil, utils.WrapError("dense link", err)
		}
		link, err := core.ParseLink(obj, r.OffsetSize())
		if err != nil {
			return nil, utils.WrapError("dense link", err)
		}
		links = append(links, *link)
	}
	return links, nil
}
