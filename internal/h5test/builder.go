// Package h5test builds small HDF5 files in memory, byte by byte, so the
// reader can be tested without binary fixtures on disk.
package h5test

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"path"
	"testing"

	"github.com/scigolib/h5catalog/internal/core"
)

// Format selects the on-disk generation of the metadata written.
type Format int

const (
	// V0 writes a version 0 superblock, version 1 object headers and
	// symbol-table groups, as HDF5 1.6 and h5py's defaults do.
	V0 Format = iota

	// V2 writes a version 2 superblock, "OHDR" object headers and link
	// messages, as HDF5 1.8+ does with libver="latest".
	V2
)

// String returns the format name used in subtest names.
func (f Format) String() string {
	if f == V2 {
		return "v2"
	}
	return "v0"
}

// Formats lists every format, for table-driven tests.
var Formats = []Format{V0, V2}

// Unlimited marks an extendible axis in Dataset.MaxDims.
const Unlimited = ^uint64(0)

const undefined = ^uint64(0)

type message struct {
	typ  core.MessageType
	data []byte
}

type builder struct {
	format Format
	buf    []byte
	paths  map[string]uint64
}

// Build encodes root and everything below it as a complete HDF5 file.
func Build(format Format, root *Group) ([]byte, error) {
	b := &builder{format: format, paths: map[string]uint64{}}

	sbSize := 96
	if format == V2 {
		sbSize = 48
	}
	b.alloc(sbSize)

	var slot uint64
	hasSlot := linksTo(root, "/")
	if hasSlot {
		slot = b.alloc(b.slotSize())
		b.paths["/"] = slot
	}

	msgs, st, err := b.groupMessages(root, "/")
	if err != nil {
		return nil, err
	}
	rootAddr := slot
	if hasSlot {
		b.continuedHeader(slot, msgs)
	} else {
		rootAddr = b.header(msgs)
	}

	b.patch(0, b.superblock(rootAddr, st))
	return b.buf, nil
}

// MustBuild is Build for tests.
func MustBuild(t testing.TB, format Format, root *Group) []byte {
	t.Helper()
	data, err := Build(format, root)
	if err != nil {
		t.Fatalf("h5test.Build: %v", err)
	}
	return data
}

// MustPatch returns a copy of data with every occurrence of from replaced
// by to. Both must have the same length and from must occur at least once.
// Only V0 files patch cleanly; later formats checksum their headers.
func MustPatch(t testing.TB, data, from, to []byte) []byte {
	t.Helper()
	if len(from) != len(to) {
		t.Fatalf("h5test.MustPatch: %d bytes replaced by %d", len(from), len(to))
	}
	if !bytes.Contains(data, from) {
		t.Fatalf("h5test.MustPatch: % x not found", from)
	}
	return bytes.ReplaceAll(data, from, to)
}

func linksTo(g *Group, target string) bool {
	for _, m := range g.Members {
		switch n := m.(type) {
		case *HardLink:
			if n.Path == target {
				return true
			}
		case *Group:
			if linksTo(n, target) {
				return true
			}
		}
	}
	return false
}

// alloc appends n zero bytes, keeping every structure 8-byte aligned.
func (b *builder) alloc(n int) uint64 {
	addr := uint64(len(b.buf))
	b.buf = append(b.buf, make([]byte, n)...)
	b.align()
	return addr
}

func (b *builder) write(p []byte) uint64 {
	addr := uint64(len(b.buf))
	b.buf = append(b.buf, p...)
	b.align()
	return addr
}

func (b *builder) align() {
	for len(b.buf)%8 != 0 {
		b.buf = append(b.buf, 0)
	}
}

func (b *builder) patch(addr uint64, p []byte) {
	copy(b.buf[addr:], p)
}

func le64(b []byte, v uint64) []byte { return binary.LittleEndian.AppendUint64(b, v) }
func le32(b []byte, v uint32) []byte { return binary.LittleEndian.AppendUint32(b, v) }
func le16(b []byte, v uint16) []byte { return binary.LittleEndian.AppendUint16(b, v) }

func (b *builder) superblock(root uint64, st *symbolTable) []byte {
	eof := uint64(len(b.buf))
	p := []byte(core.Signature)
	if b.format == V2 {
		p = append(p, 2, 8, 8, 0)
		p = le64(p, 0)         // base address
		p = le64(p, undefined) // superblock extension
		p = le64(p, eof)
		p = le64(p, root)
		return core.AppendChecksum(p)
	}

	p = append(p, 0, 0, 0, 0, 0, 8, 8, 0)
	p = le16(p, 4)  // group leaf K
	p = le16(p, 16) // group internal K
	p = le32(p, 0)
	p = le64(p, 0)         // base address
	p = le64(p, undefined) // free-space info
	p = le64(p, eof)
	p = le64(p, undefined) // driver info
	p = le64(p, 0)         // root link name offset
	p = le64(p, root)
	if st != nil {
		p = le32(p, 1)
		p = le32(p, 0)
		p = le64(p, st.btree)
		p = le64(p, st.heap)
	} else {
		p = append(p, make([]byte, 24)...)
	}
	return p
}

func encodeV1Messages(msgs []message) []byte {
	var out []byte
	for _, m := range msgs {
		n := (len(m.data) + 7) &^ 7
		out = le16(out, uint16(m.typ))
		out = le16(out, uint16(n)) //nolint:gosec // G115: test fixtures stay small
		out = append(out, 0, 0, 0, 0)
		out = append(out, m.data...)
		out = append(out, make([]byte, n-len(m.data))...)
	}
	return out
}

func encodeV2Messages(msgs []message) []byte {
	var out []byte
	for _, m := range msgs {
		out = append(out, byte(m.typ))
		out = le16(out, uint16(len(m.data))) //nolint:gosec // G115: test fixtures stay small
		out = append(out, 0)
		out = append(out, m.data...)
	}
	return out
}

func v1Prefix(count int, size int) []byte {
	p := []byte{1, 0}
	p = le16(p, uint16(count)) //nolint:gosec // G115: small
	p = le32(p, 1)
	p = le32(p, uint32(size)) //nolint:gosec // G115: small
	return append(p, 0, 0, 0, 0)
}

func ohdr(body []byte) []byte {
	p := append([]byte("OHDR"), 2, 0x02)
	p = le32(p, uint32(len(body))) //nolint:gosec // G115: small
	return core.AppendChecksum(append(p, body...))
}

// header writes a complete single-chunk object header.
func (b *builder) header(msgs []message) uint64 {
	if b.format == V2 {
		return b.write(ohdr(encodeV2Messages(msgs)))
	}
	body := encodeV1Messages(msgs)
	return b.write(append(v1Prefix(len(msgs), len(body)), body...))
}

// slotSize is the size of a header holding only a continuation message.
func (b *builder) slotSize() int {
	if b.format == V2 {
		return 4 + 1 + 1 + 4 + 4 + 16 + 4
	}
	return 16 + 8 + 16
}

// continuedHeader writes msgs into a continuation chunk and fills the
// reserved slot with a header pointing at it.
func (b *builder) continuedHeader(slot uint64, msgs []message) {
	var chunk []byte
	if b.format == V2 {
		chunk = core.AppendChecksum(append([]byte("OCHK"), encodeV2Messages(msgs)...))
	} else {
		chunk = encodeV1Messages(msgs)
	}
	addr := b.write(chunk)
	cont := message{typ: core.MsgContinuation, data: le64(le64(nil, addr), uint64(len(chunk)))}

	if b.format == V2 {
		b.patch(slot, ohdr(encodeV2Messages([]message{cont})))
		return
	}
	body := encodeV1Messages([]message{cont})
	b.patch(slot, append(v1Prefix(len(msgs)+1, len(body)), body...))
}

func childPath(parent, name string) string {
	return path.Join(parent, name)
}

func errorf(p, format string, args ...any) error {
	return fmt.Errorf("h5test: %s: "+format, append([]any{p}, args...)...)
}
