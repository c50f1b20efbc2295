package cmd

import (
	"fmt"
	"io"
	"log/slog"
)

// newLogger builds the command logger. The "auto" format writes text to a
// terminal and JSON everywhere else.
func newLogger(w io.Writer, level, format string, terminal bool) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("--log-level: %w", err)
	}
	options := &slog.HandlerOptions{Level: lvl}

	switch format {
	case "auto":
		if terminal {
			return slog.New(slog.NewTextHandler(w, options)), nil
		}
		return slog.New(slog.NewJSONHandler(w, options)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, options)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, options)), nil
	default:
		return nil, fmt.Errorf("--log-format: unknown format %q", format)
	}
}
