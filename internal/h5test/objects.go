package h5test

import (
	"bytes"
	"encoding/binary"
	"slices"
	"sort"
	"strings"

	"github.com/scigolib/h5catalog/internal/core"
	"github.com/scigolib/h5catalog/internal/filter"
)

// Node is a member of a group.
type Node interface {
	nodeName() string
}

// Group is an HDF5 group.
type Group struct {
	Name    string
	Members []Node
	Attrs   []Attr

	// Dense stores links in a fractal heap indexed by a v2 B-tree (V2 only).
	Dense bool
	// DenseAttrs does the same for attributes.
	DenseAttrs bool
	// HeapBlockSize is the fractal heap starting block size; 512 when zero.
	// Small values force an indirect root block.
	HeapBlockSize uint64
}

// Layout is a dataset storage class.
type Layout int

// Storage classes.
const (
	Contiguous Layout = iota
	Compact
	Chunked
)

// ChunkIndex selects how chunk addresses are indexed.
type ChunkIndex int

// Chunk indexes. Everything but BTreeV1 requires V2.
const (
	BTreeV1 ChunkIndex = iota
	Single
	Implicit
	FixedArray
	BTreeV2
)

// Dataset is an HDF5 dataset. Data holds the packed elements in row-major
// order; a nil Data leaves the storage unallocated so reads see the fill
// value.
type Dataset struct {
	Name    string
	Type    Type
	Dims    []uint64 // nil for a scalar
	MaxDims []uint64
	Data    []byte

	// Strings and Sequences supply variable-length elements.
	Strings   []string
	Sequences [][]byte

	Layout  Layout
	Chunks  []uint64
	Index   ChunkIndex
	Filters []filter.Filter

	// SkipChunks lists linear chunk indexes left unallocated.
	SkipChunks []int

	Fill  []byte
	Attrs []Attr
}

// Attr is an attribute. Dims nil means scalar.
type Attr struct {
	Name    string
	Type    Type
	Dims    []uint64
	Data    []byte
	Strings []string
}

// SoftLink is a symbolic link to an absolute or relative path.
type SoftLink struct {
	Name   string
	Target string
}

// ExternalLink points into another file (V2 only).
type ExternalLink struct {
	Name string
	File string
	Path string
}

// HardLink is an additional name for an object built earlier, or for "/".
type HardLink struct {
	Name string
	Path string
}

func (g *Group) nodeName() string        { return g.Name }
func (d *Dataset) nodeName() string      { return d.Name }
func (l *SoftLink) nodeName() string     { return l.Name }
func (l *ExternalLink) nodeName() string { return l.Name }
func (l *HardLink) nodeName() string     { return l.Name }

type link struct {
	name   string
	typ    core.LinkType
	addr   uint64
	target string
	file   string
}

type symbolTable struct {
	btree, heap uint64
}

func (b *builder) groupMessages(g *Group, p string) ([]message, *symbolTable, error) {
	var links []link
	for _, m := range g.Members {
		name := m.nodeName()
		if name == "" || strings.Contains(name, "/") {
			return nil, nil, errorf(p, "invalid member name %q", name)
		}
		cp := childPath(p, name)
		switch n := m.(type) {
		case *Group:
			msgs, _, err := b.groupMessages(n, cp)
			if err != nil {
				return nil, nil, err
			}
			addr := b.header(msgs)
			b.paths[cp] = addr
			links = append(links, link{name: name, typ: core.LinkTypeHard, addr: addr})
		case *Dataset:
			msgs, err := b.datasetMessages(n, cp)
			if err != nil {
				return nil, nil, err
			}
			addr := b.header(msgs)
			b.paths[cp] = addr
			links = append(links, link{name: name, typ: core.LinkTypeHard, addr: addr})
		case *SoftLink:
			links = append(links, link{name: name, typ: core.LinkTypeSoft, target: n.Target})
		case *ExternalLink:
			if b.format == V0 {
				return nil, nil, errorf(cp, "external links need V2")
			}
			links = append(links, link{name: name, typ: core.LinkTypeExternal, file: n.File, target: n.Path})
		case *HardLink:
			addr, ok := b.paths[n.Path]
			if !ok {
				return nil, nil, errorf(cp, "hard link to %q, which is not built yet", n.Path)
			}
			links = append(links, link{name: name, typ: core.LinkTypeHard, addr: addr})
		}
	}

	attrs, err := b.attributeMessages(g.Attrs, g.DenseAttrs, g.HeapBlockSize, p)
	if err != nil {
		return nil, nil, err
	}

	if b.format == V0 {
		if g.Dense {
			return nil, nil, errorf(p, "dense groups need V2")
		}
		st, err := b.symbolTable(links)
		if err != nil {
			return nil, nil, errorf(p, "%v", err)
		}
		msg := message{typ: core.MsgSymbolTable, data: le64(le64(nil, st.btree), st.heap)}
		return append([]message{msg}, attrs...), st, nil
	}

	heap, btree := undefined, undefined
	var linkMsgs []message
	if g.Dense {
		heap, btree, err = b.denseLinks(links, g.HeapBlockSize)
		if err != nil {
			return nil, nil, errorf(p, "%v", err)
		}
	} else {
		for _, l := range links {
			linkMsgs = append(linkMsgs, message{typ: core.MsgLink, data: encodeLink(l)})
		}
	}
	info := append([]byte{0, 0}, le64(le64(nil, heap), btree)...)
	msgs := []message{
		{typ: core.MsgLinkInfo, data: info},
		{typ: core.MsgGroupInfo, data: []byte{0, 0}},
	}
	msgs = append(msgs, linkMsgs...)
	return append(msgs, attrs...), nil, nil
}

func encodeLink(l link) []byte {
	flags := byte(0)
	if len(l.name) > 0xFF {
		flags |= 0x01
	}
	if l.typ != core.LinkTypeHard {
		flags |= 0x08
	}
	out := []byte{1, flags}
	if l.typ != core.LinkTypeHard {
		out = append(out, byte(l.typ))
	}
	if flags&0x01 != 0 {
		out = le16(out, uint16(len(l.name))) //nolint:gosec // G115: small
	} else {
		out = append(out, byte(len(l.name)))
	}
	out = append(out, l.name...)

	switch l.typ {
	case core.LinkTypeSoft:
		out = le16(out, uint16(len(l.target))) //nolint:gosec // G115: small
		out = append(out, l.target...)
	case core.LinkTypeExternal:
		blob := append([]byte{0}, l.file...)
		blob = append(blob, 0)
		blob = append(blob, l.target...)
		blob = append(blob, 0)
		out = le16(out, uint16(len(blob))) //nolint:gosec // G115: small
		out = append(out, blob...)
	default:
		out = le64(out, l.addr)
	}
	return out
}

// symbolTableNodeSize is the number of entries written per "SNOD".
const symbolTableNodeSize = 8

// symbolTable writes the local heap, symbol nodes and B-tree of a
// version 1 group.
func (b *builder) symbolTable(links []link) (*symbolTable, error) {
	sorted := slices.Clone(links)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].name < sorted[j].name })

	data := make([]byte, 8) // offset 0 is the empty string
	put := func(s string) uint64 {
		off := uint64(len(data))
		data = append(data, s...)
		data = append(data, 0)
		for len(data)%8 != 0 {
			data = append(data, 0)
		}
		return off
	}

	type entry struct {
		nameOff uint64
		addr    uint64
		cache   uint32
		scratch []byte
	}
	entries := make([]entry, len(sorted))
	for i, l := range sorted {
		e := entry{nameOff: put(l.name), addr: l.addr, scratch: make([]byte, 16)}
		switch l.typ {
		case core.LinkTypeSoft:
			e.cache = 2
			e.addr = undefined
			binary.LittleEndian.PutUint32(e.scratch, uint32(put(l.target))) //nolint:gosec // G115: small
		case core.LinkTypeHard:
		default:
			return nil, errorf(l.name, "link type %s cannot be stored in a symbol table", l.typ)
		}
		entries[i] = e
	}

	dataAddr := b.write(data)
	heap := append([]byte("HEAP"), 0, 0, 0, 0)
	heap = le64(heap, uint64(len(data)))
	heap = le64(heap, undefined)
	heap = le64(heap, dataAddr)
	heapAddr := b.write(heap)

	var children []uint64
	var keys []uint64
	for start := 0; start < len(entries); start += symbolTableNodeSize {
		part := entries[start:min(start+symbolTableNodeSize, len(entries))]
		node := append([]byte("SNOD"), 1, 0)
		node = le16(node, uint16(len(part))) //nolint:gosec // G115: small
		for _, e := range part {
			node = le64(node, e.nameOff)
			node = le64(node, e.addr)
			node = le32(node, e.cache)
			node = le32(node, 0)
			node = append(node, e.scratch...)
		}
		children = append(children, b.write(node))
		keys = append(keys, part[len(part)-1].nameOff)
	}

	tree := append([]byte("TREE"), 0, 0)
	tree = le16(tree, uint16(len(children))) //nolint:gosec // G115: small
	tree = le64(tree, undefined)
	tree = le64(tree, undefined)
	tree = le64(tree, 0)
	for i, c := range children {
		tree = le64(tree, c)
		tree = le64(tree, keys[i])
	}
	return &symbolTable{btree: b.write(tree), heap: heapAddr}, nil
}

func (b *builder) attributeMessages(attrs []Attr, dense bool, blockSize uint64, p string) ([]message, error) {
	var encoded [][]byte
	for _, a := range attrs {
		data, err := b.attribute(a)
		if err != nil {
			return nil, errorf(childPath(p, a.Name), "%v", err)
		}
		encoded = append(encoded, data)
	}
	if !dense {
		msgs := make([]message, len(encoded))
		for i, e := range encoded {
			msgs[i] = message{typ: core.MsgAttribute, data: e}
		}
		return msgs, nil
	}
	if b.format == V0 {
		return nil, errorf(p, "dense attributes need V2")
	}
	names := make([]string, len(attrs))
	for i, a := range attrs {
		names[i] = a.Name
	}
	heap, btree, err := b.denseAttributes(names, encoded, blockSize)
	if err != nil {
		return nil, errorf(p, "%v", err)
	}
	info := append([]byte{0, 0}, le64(le64(nil, heap), btree)...)
	return []message{{typ: core.MsgAttributeInfo, data: info}}, nil
}

func (b *builder) attribute(a Attr) ([]byte, error) {
	n := elementCount(a.Dims)
	raw, err := b.elementBytes(a.Type, n, a.Data, a.Strings, nil)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		raw = make([]byte, n*uint64(a.Type.size))
	}
	name := append([]byte(a.Name), 0)
	space := b.dataspace(a.Dims, nil)

	if b.format == V0 {
		out := []byte{1, 0}
		out = le16(out, uint16(len(name)))       //nolint:gosec // G115: small
		out = le16(out, uint16(len(a.Type.msg))) //nolint:gosec // G115: small
		out = le16(out, uint16(len(space)))      //nolint:gosec // G115: small
		for _, part := range [][]byte{name, a.Type.msg, space} {
			out = append(out, part...)
			for len(out)%8 != 0 {
				out = append(out, 0)
			}
		}
		return append(out, raw...), nil
	}

	out := []byte{3, 0}
	out = le16(out, uint16(len(name)))       //nolint:gosec // G115: small
	out = le16(out, uint16(len(a.Type.msg))) //nolint:gosec // G115: small
	out = le16(out, uint16(len(space)))      //nolint:gosec // G115: small
	out = append(out, 1)                     // UTF-8 name
	out = append(out, name...)
	out = append(out, a.Type.msg...)
	out = append(out, space...)
	return append(out, raw...), nil
}

func (b *builder) dataspace(dims, maxDims []uint64) []byte {
	rank := byte(len(dims))
	flags := byte(0)
	if maxDims != nil {
		flags = 0x01
	}
	var out []byte
	if b.format == V2 {
		kind := byte(1)
		if dims == nil {
			kind = 0
		}
		out = []byte{2, rank, flags, kind}
	} else {
		out = []byte{1, rank, flags, 0, 0, 0, 0, 0}
	}
	for _, d := range dims {
		out = le64(out, d)
	}
	for _, d := range maxDims {
		out = le64(out, d)
	}
	return out
}

func elementCount(dims []uint64) uint64 {
	n := uint64(1)
	for _, d := range dims {
		n *= d
	}
	return n
}

// elementBytes returns the stored bytes of n elements. Variable-length
// elements are written to a new global heap collection first.
func (b *builder) elementBytes(t Type, n uint64, data []byte, strs []string, seqs [][]byte) ([]byte, error) {
	if !t.vlen {
		if data == nil {
			return nil, nil
		}
		if want := n * uint64(t.size); uint64(len(data)) != want {
			return nil, errorf("data", "%d bytes for %d elements of %d bytes", len(data), n, t.size)
		}
		return data, nil
	}

	var objs [][]byte
	var counts []uint32
	switch {
	case strs != nil:
		for _, s := range strs {
			objs = append(objs, []byte(s))
			counts = append(counts, uint32(len(s))) //nolint:gosec // G115: small
		}
	case seqs != nil:
		for _, s := range seqs {
			objs = append(objs, s)
			counts = append(counts, uint32(len(s)/t.baseSize)) //nolint:gosec // G115: small
		}
	default:
		return nil, nil
	}
	if uint64(len(objs)) != n {
		return nil, errorf("data", "%d variable-length values for %d elements", len(objs), n)
	}

	col := b.globalHeap(objs)
	var out []byte
	for i, c := range counts {
		out = le32(out, c)
		out = le64(out, col)
		out = le32(out, uint32(i+1)) //nolint:gosec // G115: small
	}
	return out, nil
}

func (b *builder) globalHeap(objs [][]byte) uint64 {
	var body bytes.Buffer
	for i, o := range objs {
		h := le16(nil, uint16(i+1)) //nolint:gosec // G115: small
		h = le16(h, 1)
		h = le32(h, 0)
		h = le64(h, uint64(len(o)))
		body.Write(h)
		body.Write(o)
		for body.Len()%8 != 0 {
			body.WriteByte(0)
		}
	}
	body.Write(make([]byte, 16)) // free space object (index 0)

	col := append([]byte("GCOL"), 1, 0, 0, 0)
	col = le64(col, uint64(16+body.Len()))
	return b.write(append(col, body.Bytes()...))
}

func (b *builder) datasetMessages(d *Dataset, p string) ([]message, error) {
	if d.Type.msg == nil {
		return nil, errorf(p, "dataset without a type")
	}
	n := elementCount(d.Dims)
	raw, err := b.elementBytes(d.Type, n, d.Data, d.Strings, d.Sequences)
	if err != nil {
		return nil, errorf(p, "%v", err)
	}

	msgs := []message{
		{typ: core.MsgDataspace, data: b.dataspace(d.Dims, d.MaxDims)},
		{typ: core.MsgDatatype, data: d.Type.msg},
		{typ: core.MsgFillValue, data: b.fillValue(d.Fill)},
	}
	if len(d.Filters) > 0 {
		if d.Layout != Chunked {
			return nil, errorf(p, "filters need a chunked layout")
		}
		msgs = append(msgs, message{typ: core.MsgFilterPipeline, data: b.filterPipeline(d.Filters)})
	}

	var layout []byte
	switch d.Layout {
	case Compact:
		if raw == nil {
			raw = make([]byte, n*uint64(d.Type.size))
		}
		layout = append([]byte{3, 0}, le16(nil, uint16(len(raw)))...) //nolint:gosec // G115: small
		layout = append(layout, raw...)
	case Contiguous:
		addr := undefined
		if raw != nil {
			addr = b.write(raw)
		}
		layout = le64(le64([]byte{3, 1}, addr), n*uint64(d.Type.size))
	case Chunked:
		layout, err = b.chunkedLayout(d, raw)
		if err != nil {
			return nil, errorf(p, "%v", err)
		}
	}
	msgs = append(msgs, message{typ: core.MsgDataLayout, data: layout})

	attrs, err := b.attributeMessages(d.Attrs, false, 0, p)
	if err != nil {
		return nil, err
	}
	return append(msgs, attrs...), nil
}

func (b *builder) fillValue(fill []byte) []byte {
	if b.format == V2 {
		if fill == nil {
			return []byte{3, 0x01}
		}
		return append(le32([]byte{3, 0x21}, uint32(len(fill))), fill...) //nolint:gosec // G115: small
	}
	if fill == nil {
		return []byte{2, 1, 0, 0}
	}
	return append(le32([]byte{2, 1, 0, 1}, uint32(len(fill))), fill...) //nolint:gosec // G115: small
}

func (b *builder) filterPipeline(filters []filter.Filter) []byte {
	if b.format == V2 {
		out := []byte{2, byte(len(filters))}
		for _, f := range filters {
			flags, cd := f.Encode()
			out = le16(out, uint16(f.ID()))
			var name []byte
			if f.ID() >= 256 {
				name = append([]byte(f.Name()), 0)
				out = le16(out, uint16(len(name))) //nolint:gosec // G115: small
			}
			out = le16(out, flags)
			out = le16(out, uint16(len(cd))) //nolint:gosec // G115: small
			out = append(out, name...)
			for _, v := range cd {
				out = le32(out, v)
			}
		}
		return out
	}

	out := []byte{1, byte(len(filters)), 0, 0, 0, 0, 0, 0}
	for _, f := range filters {
		flags, cd := f.Encode()
		name := append([]byte(f.Name()), 0)
		for len(name)%8 != 0 {
			name = append(name, 0)
		}
		out = le16(out, uint16(f.ID()))
		out = le16(out, uint16(len(name))) //nolint:gosec // G115: small
		out = le16(out, flags)
		out = le16(out, uint16(len(cd))) //nolint:gosec // G115: small
		out = append(out, name...)
		for _, v := range cd {
			out = le32(out, v)
		}
		if len(cd)%2 == 1 {
			out = le32(out, 0)
		}
	}
	return out
}
