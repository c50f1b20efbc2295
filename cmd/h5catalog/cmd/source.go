package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/scigolib/h5catalog"
	"github.com/scigolib/h5catalog/internal/registry"
)

// source selects the file a read-only command inspects: a URL, a
// registered catalog name, or a local file.
type source struct {
	file     string
	maxBytes int64
	timeout  time.Duration
}

func (s *source) flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("source", pflag.ContinueOnError)
	fs.StringVar(&s.file, "file", "", "read a local file instead of fetching a URL")
	fs.Int64Var(&s.maxBytes, "max-bytes", 0, "refuse downloads larger than this many bytes (0 is unbounded)")
	fs.DurationVar(&s.timeout, "timeout", 2*time.Minute, "download timeout")
	return fs
}

// data returns the raw file bytes and a name for them.
func (s *source) data(ctx context.Context, args []string) (string, []byte, error) {
	a, err := s.open(ctx, args)
	if err != nil {
		return "", nil, err
	}
	return a.Source().URL, a.Bytes(), nil
}

func (s *source) open(ctx context.Context, args []string) (*h5catalog.Adapter, error) {
	if s.file != "" {
		if len(args) > 0 {
			return nil, errors.New("pass either a URL or --file, not both")
		}
		data, err := os.ReadFile(s.file)
		if err != nil {
			return nil, err
		}
		return h5catalog.New(s.file, data)
	}
	if len(args) != 1 {
		return nil, errors.New("expected one URL or catalog name")
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	if _, err := registry.Lookup(args[0]); err == nil {
		buildArgs := map[string]any{}
		if s.maxBytes > 0 {
			buildArgs["max_bytes"] = s.maxBytes
		}
		return registry.Build(ctx, args[0], buildArgs)
	}
	a, err := h5catalog.Load(ctx, args[0], h5catalog.WithMaxBytes(s.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", args[0], err)
	}
	return a, nil
}
