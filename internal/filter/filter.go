// Package filter decodes (and, for test fixtures, encodes) HDF5 chunk
// filter pipelines.
package filter

import (
	"errors"
	"fmt"

	"github.com/scigolib/h5catalog/internal/core"
	"github.com/scigolib/h5catalog/internal/utils"
)

// ErrChecksum is returned when a Fletcher32 checksum does not match.
var ErrChecksum = errors.New("filter checksum mismatch")

// Filter is one stage of a pipeline.
// Filters are applied in sequence on write (e.g. Shuffle → Deflate →
// Fletcher32) and reversed on read.
type Filter interface {
	// ID returns the HDF5 filter identifier.
	ID() core.FilterID

	// Name returns a human-readable filter name.
	Name() string

	// Apply transforms data for storage.
	Apply(data []byte) ([]byte, error)

	// Remove reverses Apply.
	Remove(data []byte) ([]byte, error)

	// Encode returns the flags and client data recorded in the pipeline
	// message.
	Encode() (flags uint16, cdValues []uint32)
}

// New returns the decoder for a pipeline entry. elementSize is the
// dataset element size, which shuffle needs when the message omits it.
// Unknown filters yield a stage whose Remove reports core.ErrUnsupported,
// so the failure surfaces only when a chunk actually needs it.
func New(f core.Filter, elementSize uint32) Filter {
	switch f.ID {
	case core.FilterDeflate:
		return NewDeflateFilter(DefaultDeflateLevel)
	case core.FilterShuffle:
		size := elementSize
		if len(f.ClientData) > 0 && f.ClientData[0] > 0 {
			size = f.ClientData[0]
		}
		return NewShuffleFilter(size)
	case core.FilterFletcher32:
		return NewFletcher32Filter()
	case core.FilterBZIP2:
		return NewBZIP2Filter(9)
	case core.FilterLZF:
		return NewLZFFilter()
	case core.FilterLZ4:
		return NewLZ4Filter(0)
	case core.FilterZstd:
		return NewZstdFilter()
	}
	return &unsupportedFilter{f: f}
}

type unsupportedFilter struct {
	f core.Filter
}

func (u *unsupportedFilter) ID() core.FilterID { return u.f.ID }

func (u *unsupportedFilter) Name() string {
	if u.f.Name != "" {
		return u.f.Name
	}
	return core.FilterName(u.f.ID)
}

func (u *unsupportedFilter) Apply([]byte) ([]byte, error) { return nil, u.err() }

func (u *unsupportedFilter) Remove([]byte) ([]byte, error) { return nil, u.err() }

func (u *unsupportedFilter) Encode() (uint16, []uint32) { return u.f.Flags, u.f.ClientData }

func (u *unsupportedFilter) err() error {
	return fmt.Errorf("filter %s (%d): %w", u.Name(), u.f.ID, core.ErrUnsupported)
}

// Pipeline is an ordered chain of filters.
type Pipeline struct {
	filters []Filter
}

// NewPipeline builds the decoder chain for a filter pipeline message.
func NewPipeline(fp *core.FilterPipeline, elementSize uint32) *Pipeline {
	p := &Pipeline{}
	if fp == nil {
		return p
	}
	for _, f := range fp.Filters {
		p.filters = append(p.filters, New(f, elementSize))
	}
	return p
}

// Add appends a filter to the chain.
func (p *Pipeline) Add(f Filter) {
	p.filters = append(p.filters, f)
}

// Len returns the number of filters.
func (p *Pipeline) Len() int {
	return len(p.filters)
}

// Filters returns the chain in application order.
func (p *Pipeline) Filters() []Filter {
	return p.filters
}

// Apply runs the chain forward.
func (p *Pipeline) Apply(data []byte) ([]byte, error) {
	var err error
	for _, f := range p.filters {
		if data, err = f.Apply(data); err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name(), err)
		}
	}
	return data, nil
}

// Remove runs the chain in reverse. Bit i of mask set means filter i was
// skipped when the chunk was written.
func (p *Pipeline) Remove(data []byte, mask uint32) ([]byte, error) {
	var err error
	for i := len(p.filters) - 1; i >= 0; i-- {
		if i < 32 && mask&(1<<uint(i)) != 0 {
			continue
		}
		f := p.filters[i]
		if data, err = f.Remove(data); err != nil {
			return nil, utils.WrapError("filter "+f.Name(), err)
		}
		if uint64(len(data)) > utils.MaxChunkSize {
			return nil, fmt.Errorf("filter %s: output of %d bytes exceeds chunk limit", f.Name(), len(data))
		}
	}
	return data, nil
}
