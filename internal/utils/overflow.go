package utils

import (
	"fmt"
	"math"
)

// Buffer size limits applied while decoding untrusted files.
const (
	// MaxChunkSize limits a single decoded chunk to 1GB.
	MaxChunkSize = 1 << 30

	// MaxAttributeSize limits attribute payloads to 64MB.
	MaxAttributeSize = 64 << 20

	// MaxStringSize limits a single string value to 16MB.
	MaxStringSize = 16 << 20

	// MaxReadSize limits a fully materialized dataset to 4GB.
	MaxReadSize = 4 << 30
)

// CheckMultiplyOverflow checks if multiplying two uint64 values would overflow.
func CheckMultiplyOverflow(a, b uint64) error {
	if a == 0 || b == 0 {
		return nil
	}
	if a > math.MaxUint64/b {
		return fmt.Errorf("multiplication overflow: %d * %d exceeds uint64 max", a, b)
	}
	return nil
}

// SafeMultiply multiplies two uint64 values and reports overflow.
func SafeMultiply(a, b uint64) (uint64, error) {
	if err := CheckMultiplyOverflow(a, b); err != nil {
		return 0, err
	}
	return a * b, nil
}

// ElementCount returns the product of dims. An empty dims slice describes a
// scalar and counts as one element.
func ElementCount(dims []uint64) (uint64, error) {
	n := uint64(1)
	for i, d := range dims {
		if d > 0 && n > math.MaxUint64/d {
			return 0, fmt.Errorf("element count overflow at dimension %d", i)
		}
		n *= d
	}
	return n, nil
}

// ByteCount returns product(dims) * elementSize and checks it against limit.
func ByteCount(dims []uint64, elementSize, limit uint64) (uint64, error) {
	n, err := ElementCount(dims)
	if err != nil {
		return 0, err
	}
	total, err := SafeMultiply(n, elementSize)
	if err != nil {
		return 0, err
	}
	if limit > 0 && total > limit {
		return 0, fmt.Errorf("size %d exceeds maximum %d", total, limit)
	}
	return total, nil
}

// ValidateBufferSize validates that a buffer size is non-zero and within maxSize.
func ValidateBufferSize(size, maxSize uint64, description string) error {
	if size == 0 {
		return fmt.Errorf("%s: size cannot be zero", description)
	}
	if size > maxSize {
		return fmt.Errorf("%s: size %d exceeds maximum %d", description, size, maxSize)
	}
	return nil
}
