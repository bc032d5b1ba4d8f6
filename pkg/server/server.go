// Package server exposes the store over HTTP. It contains no engine logic:
// every handler maps a request onto one public store operation.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dd0wney/cluso-kv/pkg/kv"
	"github.com/dd0wney/cluso-kv/pkg/logging"
	"github.com/dd0wney/cluso-kv/pkg/metrics"
)

// Options configures the HTTP server.
type Options struct {
	Listen       string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	Logger       logging.Logger
	Metrics      *metrics.Registry
}

// Server is the HTTP front end for a Store.
type Server struct {
	store     *kv.Store
	log       logging.Logger
	met       *metrics.Registry
	opts      Options
	startTime time.Time
	http      *http.Server

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a new API server around an open store.
func New(store *kv.Store, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewRegistry()
	}

	s := &Server{
		store:     store,
		log:       opts.Logger.With(logging.Component("http")),
		met:       opts.Metrics,
		opts:      opts,
		startTime: time.Now(),
		stopCh:    make(chan struct{}),
	}

	s.http = &http.Server{
		Addr:         opts.Listen,
		Handler:      s.routes(),
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		IdleTimeout:  opts.IdleTimeout,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.met.GetPrometheusRegistry(), promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /v1/keys/{key}", s.handleGet)
	mux.HandleFunc("PUT /v1/keys/{key}", s.handlePut)
	mux.HandleFunc("DELETE /v1/keys/{key}", s.handleDelete)
	mux.HandleFunc("GET /v1/keys", s.handleKeys)

	mux.HandleFunc("POST /v1/flush", s.handleFlush)
	mux.HandleFunc("POST /v1/compact", s.handleCompact)
	mux.HandleFunc("GET /v1/stats", s.handleStats)

	return s.requestIDMiddleware(s.loggingMiddleware(s.metricsMiddleware(mux)))
}

// Handler returns the server's full handler chain, for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start runs the HTTP server until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("http server listening", logging.String("addr", s.opts.Listen))

	s.wg.Add(1)
	go s.updateSystemMetrics()

	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, stops the metrics loop, and stops the
// server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("http server shutting down")
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	return s.http.Shutdown(ctx)
}

func (s *Server) updateSystemMetrics() {
	defer s.wg.Done()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.met.UpdateSystemMetrics(s.startTime)
		case <-s.stopCh:
			return
		}
	}
}
