package h5catalog

import (
	"errors"
	"fmt"
)

// Lookup errors returned by containers.
var (
	ErrNotFound = errors.New("node not found")
	ErrNotArray = errors.New("node is not an array")
)

// ErrTooLarge is wrapped by a NetworkError when the body exceeds the
// WithMaxBytes cap.
var ErrTooLarge = errors.New("response body too large")

// NetworkError reports a failed download: the host was unreachable, the
// server answered with a non-2xx status, or the body was cut short.
type NetworkError struct {
	URL string

	// StatusCode is zero when no response was received.
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// FormatError reports downloaded bytes that are not a readable HDF5 file.
type FormatError struct {
	URL string
	Err error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("open %s: %v", e.URL, e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}
