package h5test

import (
	"encoding/binary"
	"errors"
	"io"
)

// MockReaderAt serves an in-memory file and can be told to fail reads
// that reach past a given offset, to exercise I/O error paths.
type MockReaderAt struct {
	data   []byte
	failAt int64
	reads  int
}

// NewMockReaderAt creates a reader over data.
func NewMockReaderAt(data []byte) *MockReaderAt {
	return &MockReaderAt{data: data, failAt: -1}
}

// FailFrom makes every read touching offset off or later fail.
func (m *MockReaderAt) FailFrom(off int64) *MockReaderAt {
	m.failAt = off
	return m
}

// Reads returns the number of ReadAt calls served.
func (m *MockReaderAt) Reads() int {
	return m.reads
}

// ErrInjected is returned by reads past the FailFrom offset.
var ErrInjected = errors.New("injected read failure")

// ReadAt implements io.ReaderAt.
func (m *MockReaderAt) ReadAt(p []byte, off int64) (int, error) {
	m.reads++
	if off < 0 {
		return 0, errors.New("negative offset")
	}
	if m.failAt >= 0 && off+int64(len(p)) > m.failAt {
		return 0, ErrInjected
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Pack encodes a fixed-size value or slice (e.g. []float64) little-endian.
func Pack(v any) []byte {
	out, err := binary.Append(nil, binary.LittleEndian, v)
	if err != nil {
		panic(err)
	}
	return out
}

// PackBE is Pack in big-endian byte order.
func PackBE(v any) []byte {
	out, err := binary.Append(nil, binary.BigEndian, v)
	if err != nil {
		panic(err)
	}
	return out
}

// FixedStrings packs strings into n-byte NUL-padded slots.
func FixedStrings(n int, ss ...string) []byte {
	out := make([]byte, n*len(ss))
	for i, s := range ss {
		copy(out[i*n:(i+1)*n], s)
	}
	return out
}
