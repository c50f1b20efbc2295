package cmd

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newDumpCommand(a *app) *cobra.Command {
	var (
		src    source
		offset int64
		length int
	)
	cmd := &cobra.Command{
		Use:   "dump [URL | catalog]",
		Short: "Hex-dump a byte range of an HDF5 file",
		Long:  "Prints raw bytes from a file, for debugging the on-disk layout.",
		Example: `  h5catalog dump --file scan.h5 --offset 0 --length 96
  h5catalog dump --offset 0x60 nexus:catalog`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, data, err := src.data(cmd.Context(), args)
			if err != nil {
				return err
			}
			size := int64(len(data))
			if offset < 0 || offset >= size {
				return fmt.Errorf("offset %d is outside the file (%s)", offset, humanize.IBytes(uint64(size))) //nolint:gosec // size is non-negative
			}
			if length < 1 {
				return fmt.Errorf("invalid length %d", length)
			}
			end := min(offset+int64(length), size)
			if end-offset < int64(length) {
				a.logger.Warn("requested range runs past the end of the file", "requested", length, "available", end-offset)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d bytes at offset 0x%x (%d) of %s (%s):\n", end-offset, offset, offset, name, humanize.IBytes(uint64(size))) //nolint:gosec // size is non-negative
			hexDump(out, data[offset:end], offset)
			return nil
		},
	}
	cmd.Flags().AddFlagSet(src.flags())
	cmd.Flags().Int64Var(&offset, "offset", 0, "offset to start dumping from")
	cmd.Flags().IntVar(&length, "length", 128, "number of bytes to dump")
	return cmd
}

// hexDump writes buf as 16-byte rows of hex and printable ASCII, labelled
// with absolute offsets starting at base.
func hexDump(w io.Writer, buf []byte, base int64) {
	for i := 0; i < len(buf); i += 16 {
		chunk := buf[i:min(i+16, len(buf))]

		fmt.Fprintf(w, "%08x: ", base+int64(i))
		for j := 0; j < 16; j++ {
			if j < len(chunk) {
				fmt.Fprintf(w, "%02x ", chunk[j])
			} else {
				fmt.Fprint(w, "   ")
			}
			if j == 7 {
				fmt.Fprint(w, " ")
			}
		}
		fmt.Fprint(w, " |")
		for _, b := range chunk {
			if b >= 32 && b <= 126 {
				fmt.Fprintf(w, "%c", b)
			} else {
				fmt.Fprint(w, ".")
			}
		}
		fmt.Fprintln(w, "|")
	}
}
