// Package server exposes mounted catalogs over a read-only HTTP API in the
// style of a tiled server:
//
//	GET /api/v1/                          about document
//	GET /api/v1/metadata/{path...}        one node
//	GET /api/v1/search/{path...}          the children of a container, paged
//	GET /api/v1/array/full/{path...}      a whole array
//	GET /api/v1/array/block/{path...}     one block, ?block=i,j
//	GET /healthz                          liveness
//
// Responses are JSON unless the client asks for CBOR, and are compressed
// with zstd or gzip when the client accepts it. The set of mounted catalogs
// can be replaced while serving.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/scigolib/h5catalog"
)

// Config configures a Server.
type Config struct {
	// Logger receives one line per request. Defaults to slog.Default().
	Logger *slog.Logger

	// AllowAnonymous serves requests without an API key.
	AllowAnonymous bool

	// APIKey is required from clients unless AllowAnonymous is set.
	APIKey string

	// RateLimit is the sustained requests per second per client; zero
	// disables limiting. RateBurst is the bucket size.
	RateLimit float64
	RateBurst int

	// Version is reported by the about document.
	Version string

	// ShutdownTimeout bounds graceful shutdown. Defaults to 10 seconds.
	ShutdownTimeout time.Duration
}

// mount is a catalog served under a URL path prefix.
type mount struct {
	prefix  string
	catalog *h5catalog.Adapter
}

// Server is an http.Handler over a swappable set of catalogs.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	mounts  atomic.Pointer[[]mount]
	limiter *clientLimiter
	handler http.Handler
}

// New creates a server for catalogs, keyed by mount path.
func New(cfg Config, catalogs map[string]*h5catalog.Adapter) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	s := &Server{cfg: cfg, logger: cfg.Logger}
	if cfg.RateLimit > 0 {
		s.limiter = newClientLimiter(cfg.RateLimit, cfg.RateBurst)
	}
	s.SetCatalogs(catalogs)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/v1/{$}", s.handleAbout)
	mux.HandleFunc("GET /api/v1/metadata/{path...}", s.handleMetadata)
	mux.HandleFunc("GET /api/v1/search/{path...}", s.handleSearch)
	mux.HandleFunc("GET /api/v1/array/full/{path...}", s.handleArrayFull)
	mux.HandleFunc("GET /api/v1/array/block/{path...}", s.handleArrayBlock)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "no route for "+r.URL.Path)
	})

	s.handler = s.logRequests(s.rateLimit(s.authenticate(mux)))
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// SetCatalogs atomically replaces the mounted catalogs and returns the
// previous set. In-flight requests finish against the catalogs they
// started with.
func (s *Server) SetCatalogs(catalogs map[string]*h5catalog.Adapter) map[string]*h5catalog.Adapter {
	next := make([]mount, 0, len(catalogs))
	for p, c := range catalogs {
		next = append(next, mount{prefix: cleanPrefix(p), catalog: c})
	}
	// Longest prefix first.
	sort.Slice(next, func(i, j int) bool {
		if len(next[i].prefix) != len(next[j].prefix) {
			return len(next[i].prefix) > len(next[j].prefix)
		}
		return next[i].prefix < next[j].prefix
	})

	old := s.mounts.Swap(&next)
	prev := map[string]*h5catalog.Adapter{}
	if old != nil {
		for _, m := range *old {
			prev[m.prefix] = m.catalog
		}
	}
	return prev
}

func cleanPrefix(p string) string {
	p = "/" + strings.Trim(p, "/")
	return p
}

// resolve finds the catalog serving path and the path inside it.
func (s *Server) resolve(path string) (*h5catalog.Adapter, string, bool) {
	full := cleanPrefix(path)
	for _, m := range *s.mounts.Load() {
		switch {
		case m.prefix == "/":
			return m.catalog, full, true
		case full == m.prefix:
			return m.catalog, "/", true
		case strings.HasPrefix(full, m.prefix+"/"):
			return m.catalog, strings.TrimPrefix(full, m.prefix), true
		}
	}
	return nil, "", false
}

// lookup resolves a request path to a node.
func (s *Server) lookup(path string) (h5catalog.Node, error) {
	cat, inner, ok := s.resolve(path)
	if !ok {
		return nil, fmt.Errorf("%w: no catalog mounted at /%s", h5catalog.ErrNotFound, strings.Trim(path, "/"))
	}
	return cat.Lookup(inner)
}

// ListenAndServe listens on address and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, address string) error {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", address, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then waits up to
// the shutdown timeout for in-flight requests.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.logger.Info("http server listening", "address", ln.Addr().String())

	serveDone := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveDone <- err
		}
		close(serveDone)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("http server shutting down")
	case err := <-serveDone:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}
