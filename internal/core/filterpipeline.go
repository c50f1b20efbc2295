package core

import (
	"fmt"

	"github.com/scigolib/h5catalog/internal/utils"
)

// FilterID represents HDF5 filter identifier.
type FilterID uint16

// Filter identifiers: the library-defined filters plus the registered
// third-party filters decoded by package filter.
const (
	FilterDeflate     FilterID = 1
	FilterShuffle     FilterID = 2
	FilterFletcher32  FilterID = 3
	FilterSZIP        FilterID = 4
	FilterNBit        FilterID = 5
	FilterScaleOffset FilterID = 6
	FilterBZIP2       FilterID = 307
	FilterLZF         FilterID = 32000
	FilterLZ4         FilterID = 32004
	FilterZstd        FilterID = 32015
)

// Filter is one stage of a filter pipeline.
type Filter struct {
	ID         FilterID
	Name       string
	Flags      uint16
	ClientData []uint32
}

// Optional reports whether the filter may be skipped on write failure.
func (f Filter) Optional() bool {
	return f.Flags&0x01 != 0
}

// FilterPipeline is a decoded filter pipeline message.
type FilterPipeline struct {
	Version uint8
	Filters []Filter
}

// ParseFilterPipeline decodes a filter pipeline message (versions 1 and 2).
func ParseFilterPipeline(data []byte) (*FilterPipeline, error) {
	d := utils.NewDecoder(data, 8, 8)
	fp := &FilterPipeline{Version: d.Uint8()}
	n := int(d.Uint8())

	switch fp.Version {
	case 1:
		d.Skip(6)
	case 2:
	default:
		return nil, fmt.Errorf("filter pipeline version %d: %w", fp.Version, ErrUnsupported)
	}

	for i := 0; i < n; i++ {
		f := Filter{ID: FilterID(d.Uint16())}
		nameLen := 0
		if fp.Version == 1 || f.ID >= 256 {
			nameLen = int(d.Uint16())
		}
		f.Flags = d.Uint16()
		nvals := int(d.Uint16())
		if nameLen > 0 {
			raw := d.Bytes(nameLen)
			f.Name = trimNul(raw)
			if fp.Version == 1 {
				d.Skip(utils.PaddedLen(nameLen, 8) - nameLen)
			}
		}
		f.ClientData = make([]uint32, nvals)
		for j := range f.ClientData {
			f.ClientData[j] = d.Uint32()
		}
		if fp.Version == 1 && nvals%2 == 1 {
			d.Skip(4)
		}
		if err := d.Err(); err != nil {
			return nil, utils.WrapError(fmt.Sprintf("filter %d", i), err)
		}
		fp.Filters = append(fp.Filters, f)
	}
	return fp, nil
}

// FilterName returns a display name for a filter identifier.
func FilterName(id FilterID) string {
	switch id {
	case FilterDeflate:
		return "deflate"
	case FilterShuffle:
		return "shuffle"
	case FilterFletcher32:
		return "fletcher32"
	case FilterSZIP:
		return "szip"
	case FilterNBit:
		return "nbit"
	case FilterScaleOffset:
		return "scaleoffset"
	case FilterBZIP2:
		return "bzip2"
	case FilterLZF:
		return "lzf"
	case FilterLZ4:
		return "lz4"
	case FilterZstd:
		return "zstd"
	default:
		return fmt.Sprintf("filter-%d", id)
	}
}
