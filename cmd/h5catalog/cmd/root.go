package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	// Registers the nexus:* catalogs.
	_ "github.com/scigolib/h5catalog/examples/nexus"
)

// version is set at link time.
var version = "dev"

// app carries state shared by every command.
type app struct {
	logLevel  string
	logFormat string
	logger    *slog.Logger
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newRootCommand().ExecuteContext(ctx)
}

func newRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "h5catalog",
		Short:        "Browse and serve remote HDF5 files",
		Long:         "Fetches HDF5 files over HTTP, lists their structure, and serves them as catalogs over a JSON/CBOR API.",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(cmd.ErrOrStderr(), a.logLevel, a.logFormat, term.IsTerminal(int(os.Stderr.Fd())))
			if err != nil {
				return err
			}
			a.logger = logger
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "auto", "log format (auto, text, json)")

	root.AddCommand(newServeCommand(a))
	root.AddCommand(newTreeCommand(a))
	root.AddCommand(newDumpCommand(a))
	root.AddCommand(newCatalogsCommand())
	return root
}
