package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/scigolib/h5catalog"
	"github.com/scigolib/h5catalog/internal/config"
	"github.com/scigolib/h5catalog/internal/registry"
	"github.com/scigolib/h5catalog/internal/server"
	"github.com/scigolib/h5catalog/internal/watch"
)

func newServeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve catalogs over HTTP",
	}
	cmd.AddCommand(newServeObjectCommand(a))
	cmd.AddCommand(newServeConfigCommand(a))
	return cmd
}

func newServeObjectCommand(a *app) *cobra.Command {
	var (
		public    bool
		apiKey    string
		host      string
		port      int
		maxBytes  int64
		rateLimit float64
		args      map[string]string
	)
	cmd := &cobra.Command{
		Use:   "object NAME",
		Short: "Serve one registered catalog at /",
		Example: `  h5catalog serve object --public nexus:catalog
  h5catalog serve object nexus:Catalog --arg url=https://example.org/scan.h5`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, pos []string) error {
			ctx := cmd.Context()
			buildArgs := make(map[string]any, len(args)+1)
			for k, v := range args {
				buildArgs[k] = v
			}
			if maxBytes > 0 {
				buildArgs["max_bytes"] = maxBytes
			}
			cat, err := registry.Build(ctx, pos[0], buildArgs)
			if err != nil {
				return err
			}
			a.logger.Info("catalog loaded", "catalog", pos[0], "url", cat.Source().URL, "bytes", cat.Source().Size)

			if !public && apiKey == "" {
				apiKey = uuid.NewString()
				a.logger.Info("generated API key; pass it as 'Authorization: Apikey <key>' or ?api_key=", "api_key", apiKey)
			}
			srv := server.New(server.Config{
				Logger:         a.logger,
				AllowAnonymous: public,
				APIKey:         apiKey,
				RateLimit:      rateLimit,
				Version:        version,
			}, map[string]*h5catalog.Adapter{"/": cat})
			return srv.ListenAndServe(ctx, net.JoinHostPort(host, strconv.Itoa(port)))
		},
	}
	f := cmd.Flags()
	f.BoolVar(&public, "public", false, "allow anonymous access")
	f.StringVar(&apiKey, "api-key", "", "API key clients must present (generated when empty and not --public)")
	f.StringVar(&host, "host", "127.0.0.1", "address to bind")
	f.IntVar(&port, "port", 8000, "port to bind")
	f.Int64Var(&maxBytes, "max-bytes", 0, "refuse downloads larger than this many bytes (0 is unbounded)")
	f.Float64Var(&rateLimit, "rate-limit", 0, "requests per second per client (0 disables)")
	f.StringToStringVar(&args, "arg", nil, "catalog argument as key=value (repeatable)")
	return cmd
}

func newServeConfigCommand(a *app) *cobra.Command {
	var watchFile bool
	cmd := &cobra.Command{
		Use:   "config FILE",
		Short: "Serve the catalogs listed in a YAML or JSON configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, pos []string) error {
			ctx := cmd.Context()
			path := pos[0]
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			catalogs, err := loadCatalogs(ctx, cfg, a.logger)
			if err != nil {
				return err
			}
			srv := server.New(server.Config{
				Logger:         a.logger,
				AllowAnonymous: cfg.Authentication.AllowAnonymousAccess,
				APIKey:         cfg.Authentication.SingleUserAPIKey,
				RateLimit:      cfg.Server.RateLimit,
				RateBurst:      cfg.Server.RateBurst,
				Version:        version,
			}, catalogs)

			if watchFile {
				w, err := watch.New(path, watch.DefaultDelay, a.logger)
				if err != nil {
					return err
				}
				defer func() { _ = w.Stop() }()
				if err := w.Watch(func() { reload(ctx, path, srv, a.logger) }); err != nil {
					return err
				}
				a.logger.Info("watching configuration", "path", path)
			}
			return srv.ListenAndServe(ctx, cfg.Server.Address)
		},
	}
	cmd.Flags().BoolVar(&watchFile, "watch", false, "reload catalogs when the file changes")
	return cmd
}

// loadCatalogs builds every catalog in cfg, keyed by mount path.
func loadCatalogs(ctx context.Context, cfg *config.Config, logger *slog.Logger) (map[string]*h5catalog.Adapter, error) {
	out := make(map[string]*h5catalog.Adapter, len(cfg.Catalogs))
	var errs []error
	for _, c := range cfg.Catalogs {
		args := maps.Clone(c.Args)
		if args == nil {
			args = map[string]any{}
		}
		if _, ok := args["max_bytes"]; !ok && cfg.Server.MaxDownloadBytes > 0 {
			args["max_bytes"] = cfg.Server.MaxDownloadBytes
		}
		cat, err := registry.Build(ctx, c.Catalog, args)
		if err != nil {
			errs = append(errs, fmt.Errorf("catalog at %s: %w", c.Path, err))
			continue
		}
		logger.Info("catalog loaded", "path", c.Path, "catalog", c.Catalog, "url", cat.Source().URL, "bytes", cat.Source().Size)
		out[c.Path] = cat
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out, nil
}

// reload swaps in the catalogs of an edited configuration. On any error
// the server keeps its current catalogs. Authentication and server
// settings take effect only on restart.
func reload(ctx context.Context, path string, srv *server.Server, logger *slog.Logger) {
	cfg, err := config.Load(path)
	if err != nil {
		logger.Error("configuration reload failed; keeping current catalogs", "error", err)
		return
	}
	catalogs, err := loadCatalogs(ctx, cfg, logger)
	if err != nil {
		logger.Error("configuration reload failed; keeping current catalogs", "error", err)
		return
	}
	srv.SetCatalogs(catalogs)
	logger.Info("catalogs reloaded", "path", path, "count", len(catalogs))
}
