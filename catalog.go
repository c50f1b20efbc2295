// Package h5catalog loads a remote HDF5 file into memory and exposes it as a
// read-only catalog of containers (groups) and arrays (datasets).
//
// A catalog is built in one step:
//
//	cat, err := h5catalog.Catalog("https://example.org/scan.h5")
//	if err != nil {
//		return err
//	}
//	defer cat.Close()
//	fmt.Println(cat.Keys())
//
// The whole response body is held in memory for the lifetime of the
// adapter. Nothing is cached between calls and nothing is written back.
package h5catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/zeebo/blake3"

	"github.com/scigolib/h5catalog/hdf5"
)

// errorBodyLimit bounds how much of an error response is quoted.
const errorBodyLimit = 1 << 10

// Option configures Load.
type Option func(*options)

type options struct {
	client   *http.Client
	maxBytes int64
	now      func() time.Time
}

// WithHTTPClient sets the client used for the download. The default is
// http.DefaultClient, which follows redirects.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.client = c
		}
	}
}

// WithMaxBytes caps the response body size. Zero or less means unbounded.
func WithMaxBytes(n int64) Option {
	return func(o *options) {
		o.maxBytes = n
	}
}

// Catalog downloads the HDF5 file at url and wraps it in an Adapter.
func Catalog(url string) (*Adapter, error) {
	return Load(context.Background(), url)
}

// Load is Catalog with a context and options. Download failures are
// returned as *NetworkError and unreadable bytes as *FormatError.
func Load(ctx context.Context, url string, opts ...Option) (*Adapter, error) {
	o := options{client: http.DefaultClient, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	body, err := fetch(ctx, &o, url)
	if err != nil {
		return nil, err
	}
	a, err := New(url, body)
	if err != nil {
		return nil, err
	}
	a.source.FetchedAt = o.now()
	return a, nil
}

func fetch(ctx context.Context, o *options, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &NetworkError{URL: url, Err: err}
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		msg := http.StatusText(resp.StatusCode)
		if s := strings.TrimSpace(string(snippet)); s != "" {
			msg += ": " + s
		}
		return nil, &NetworkError{URL: url, StatusCode: resp.StatusCode, Err: errors.New(msg)}
	}

	var body io.Reader = resp.Body
	if o.maxBytes > 0 {
		if resp.ContentLength > o.maxBytes {
			return nil, &NetworkError{URL: url, StatusCode: resp.StatusCode, Err: tooLarge(o.maxBytes)}
		}
		body = io.LimitReader(resp.Body, o.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, &NetworkError{URL: url, StatusCode: resp.StatusCode, Err: err}
	}
	if o.maxBytes > 0 && int64(len(data)) > o.maxBytes {
		return nil, &NetworkError{URL: url, StatusCode: resp.StatusCode, Err: tooLarge(o.maxBytes)}
	}
	return data, nil
}

func tooLarge(limit int64) error {
	return fmt.Errorf("%w: limit is %s", ErrTooLarge, humanize.IBytes(uint64(limit))) //nolint:gosec // G115: positive
}

// New wraps in-memory HDF5 bytes. source names the origin in errors and in
// Source; it is usually the URL or a local path.
func New(source string, data []byte) (*Adapter, error) {
	if len(data) == 0 {
		return nil, &FormatError{URL: source, Err: errors.New("empty body")}
	}
	f, err := hdf5.OpenBytes(data)
	if err != nil {
		return nil, &FormatError{URL: source, Err: err}
	}
	root, err := newContainer(f.Root())
	if err != nil {
		_ = f.Close()
		return nil, &FormatError{URL: source, Err: err}
	}

	sum := blake3.Sum256(data)
	return &Adapter{
		Container: root,
		file:      f,
		data:      data,
		source: Source{
			URL:    source,
			Size:   int64(len(data)),
			Digest: fmt.Sprintf("%x", sum[:]),
		},
	}, nil
}
