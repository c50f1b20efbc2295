package filter

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/scigolib/h5catalog/internal/core"
	"github.com/scigolib/h5catalog/internal/utils"
)

// zstd.Encoder and zstd.Decoder are safe for concurrent use, so one of
// each serves every chunk.
var zstdCodecs = sync.OnceValues(func() (*zstd.Encoder, *zstd.Decoder) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithZeroFrames(true))
	if err != nil {
		panic("filter: zstd encoder initialization failed: " + err.Error())
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(utils.MaxChunkSize))
	if err != nil {
		panic("filter: zstd decoder initialization failed: " + err.Error())
	}
	return enc, dec
})

// ZstdFilter implements the Zstandard filter (ID 32015). Chunks are
// single zstd frames.
type ZstdFilter struct{}

// NewZstdFilter creates a Zstandard filter.
func NewZstdFilter() *ZstdFilter {
	return &ZstdFilter{}
}

// ID returns core.FilterZstd.
func (f *ZstdFilter) ID() core.FilterID {
	return core.FilterZstd
}

// Name returns "zstd".
func (f *ZstdFilter) Name() string {
	return "zstd"
}

// Apply compresses data into one frame.
func (f *ZstdFilter) Apply(data []byte) ([]byte, error) {
	enc, _ := zstdCodecs()
	return enc.EncodeAll(data, nil), nil
}

// Remove decompresses a frame.
func (f *ZstdFilter) Remove(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("zstd: empty input")
	}
	_, dec := zstdCodecs()
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return out, nil
}

// Encode records the default level.
func (f *ZstdFilter) Encode() (flags uint16, cdValues []uint32) {
	return 0, []uint32{3}
}
