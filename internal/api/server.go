// Package api serves the catalog over HTTP and optionally ingests dataset
// documents dropped into a watched directory.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/provcat/internal/api/notifier"
	"github.com/leapstack-labs/provcat/pkg/core"
)

// shutdownTimeout bounds how long in-flight requests may take once the
// server is stopping.
const shutdownTimeout = 5 * time.Second

// IngestEvent reports the outcome of ingesting one watched file.
type IngestEvent struct {
	File      string `json:"file"`
	Completed int    `json:"completed"`
	Skipped   int    `json:"skipped"`
	Error     string `json:"error,omitempty"`
}

// Server is the catalog HTTP server.
type Server struct {
	index    core.Index
	addr     string
	watchDir string
	logger   *slog.Logger
	notifier *notifier.Notifier[IngestEvent]
}

// Config holds configuration for the server.
type Config struct {
	Index core.Index
	Addr  string
	// WatchDir, when set, is scanned for dataset documents on start and
	// watched for new ones.
	WatchDir string
	Logger   *slog.Logger
}

// NewServer creates a new server instance.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		index:    cfg.Index,
		addr:     cfg.Addr,
		watchDir: cfg.WatchDir,
		logger:   logger,
		notifier: notifier.New[IngestEvent](),
	}
}

// Handler returns the router with every route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewMux()
	r.Use(
		middleware.RequestID,
		s.requestLogger,
		middleware.Recoverer,
		middleware.Compress(5, "application/json"),
	)

	h := &handlers{index: s.index, logger: s.logger, notifier: s.notifier}
	r.Get("/healthz", h.health)
	r.Get("/events", h.events)

	r.Route("/metadata-types", func(r chi.Router) {
		r.Get("/", h.listMetadataTypes)
		r.Get("/{name}", h.getMetadataType)
	})
	r.Route("/products", func(r chi.Router) {
		r.Get("/", h.listProducts)
		r.Get("/{name}", h.getProduct)
	})
	r.Route("/datasets", func(r chi.Router) {
		r.Post("/", h.addDatasets)
		r.Get("/{id}", h.getDataset)
	})
	r.Route("/lineage", func(r chi.Router) {
		r.Post("/", h.addLineage)
		r.Get("/{id}/sources", h.sourceTree)
		r.Get("/{id}/derived", h.derivedTree)
		r.Get("/{id}/homes", h.homes)
	})
	return r
}

// Serve starts the server and blocks until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("starting API server", slog.String("addr", s.addr), slog.String("index", s.index.Name()))

	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.watchDir != "" {
		eg.Go(func() error {
			return s.watch(egctx)
		})
	}

	eg.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		s.logger.Debug("shutting down API server")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

// requestLogger logs one line per request at debug level.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
