// h5catalog serves HDF5 files fetched over HTTP as browsable catalogs.
package main

import (
	"os"

	"github.com/scigolib/h5catalog/cmd/h5catalog/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
