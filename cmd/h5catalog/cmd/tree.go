package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/scigolib/h5catalog"
)

func newTreeCommand(a *app) *cobra.Command {
	var (
		src    source
		asJSON bool
		depth  int
	)
	cmd := &cobra.Command{
		Use:   "tree [URL | catalog]",
		Short: "List the groups and datasets of an HDF5 file",
		Example: `  h5catalog tree 'https://github.com/nexusformat/exampledata/blob/master/APS/EPICSareaDetector/hdf5/AgBehenate_228.hdf5?raw=true'
  h5catalog tree nexus:catalog
  h5catalog tree --file scan.h5 --depth 2`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := src.open(cmd.Context(), args)
			if err != nil {
				return err
			}
			a.logger.Debug("catalog loaded", "url", cat.Source().URL, "bytes", cat.Source().Size)
			entries, err := cat.Tree()
			if err != nil {
				return err
			}
			if depth > 0 {
				entries = limitDepth(entries, depth)
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			printTree(cmd.OutOrStdout(), cat.Source(), entries)
			return nil
		},
	}
	cmd.Flags().AddFlagSet(src.flags())
	cmd.Flags().BoolVar(&asJSON, "json", false, "print entries as JSON")
	cmd.Flags().IntVarP(&depth, "depth", "d", 0, "max depth (0 = unlimited)")
	return cmd
}

func entryDepth(p string) int {
	return strings.Count(strings.Trim(p, "/"), "/") + 1
}

func limitDepth(entries []h5catalog.Entry, depth int) []h5catalog.Entry {
	out := entries[:0:0]
	for _, e := range entries {
		if entryDepth(e.Path) <= depth {
			out = append(out, e)
		}
	}
	return out
}

func printTree(w io.Writer, src h5catalog.Source, entries []h5catalog.Entry) {
	digest := src.Digest
	if len(digest) > 12 {
		digest = digest[:12]
	}
	fmt.Fprintf(w, "%s (%s, blake3 %s)\n", src.URL, humanize.IBytes(uint64(src.Size)), digest) //nolint:gosec // sizes are non-negative

	for _, e := range entries {
		indent := strings.Repeat("  ", entryDepth(e.Path)-1)
		name := path.Base(e.Path)
		var line string
		switch e.Family {
		case h5catalog.FamilyContainer:
			line = name + "/"
		default:
			line = fmt.Sprintf("%-24s %-6s %s", name, e.DataType, formatShape(e.Shape))
		}
		if e.SoftLink {
			line += "  (soft link)"
		}
		fmt.Fprintln(w, indent+strings.TrimRight(line, " "))
	}
	fmt.Fprintf(w, "\n%s nodes\n", humanize.Comma(int64(len(entries))))
}

func formatShape(shape []uint64) string {
	if len(shape) == 0 {
		return "scalar"
	}
	dims := make([]string, len(shape))
	for i, n := range shape {
		dims[i] = humanize.Comma(int64(n)) //nolint:gosec // dataset extents fit in int64
	}
	return strings.Join(dims, " × ")
}
