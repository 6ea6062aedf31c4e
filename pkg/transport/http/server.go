package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rhuss/parley/pkg/auth"
	"github.com/rhuss/parley/pkg/config"
	"github.com/rhuss/parley/pkg/observability"
	"github.com/rhuss/parley/pkg/transport"
)

// Server owns the http.Server and its lifecycle.
type Server struct {
	httpServer *http.Server
	adapter    *Adapter
	handler    http.Handler
	cfg        config.ServerConfig
	logger     *slog.Logger

	authChain   *auth.Chain
	limiter     auth.RateLimiter
	metricsPath string
	ready       func(context.Context) error
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithAuth authenticates every non-exempt request with chain. limiter
// may be nil.
func WithAuth(chain *auth.Chain, limiter auth.RateLimiter) ServerOption {
	return func(s *Server) {
		s.authChain = chain
		s.limiter = limiter
	}
}

// WithMetricsPath serves Prometheus metrics at path. An empty path
// disables the endpoint.
func WithMetricsPath(path string) ServerOption {
	return func(s *Server) { s.metricsPath = path }
}

// WithReadiness sets the check behind /readyz.
func WithReadiness(fn func(context.Context) error) ServerOption {
	return func(s *Server) { s.ready = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// NewServer wires svc behind the middleware chain. Metrics middleware
// wraps the router directly so it sees the matched route pattern.
func NewServer(svc transport.Service, cfg config.ServerConfig, opts ...ServerOption) *Server {
	s := &Server{
		cfg:         cfg,
		logger:      slog.Default(),
		metricsPath: "/metrics",
	}
	for _, opt := range opts {
		opt(s)
	}

	maxBody := cfg.MaxBodySize
	if maxBody <= 0 {
		maxBody = 10 << 20
	}
	s.adapter = NewAdapter(svc, maxBody, s.logger)

	mux := s.adapter.Mux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	if s.metricsPath != "" {
		mux.Handle("GET "+s.metricsPath, promhttp.Handler())
	}

	middlewares := []transport.Middleware{
		transport.Recovery(s.logger),
		transport.RequestID(),
		transport.Logging(s.logger),
	}
	if s.authChain != nil {
		exempt := append([]string{}, auth.ExemptPaths...)
		if s.metricsPath != "" {
			exempt = append(exempt, s.metricsPath)
		}
		middlewares = append(middlewares, transport.Middleware(auth.Middleware(s.authChain, s.limiter, exempt)))
	}
	s.handler = observability.HTTPHandler(
		transport.Chain(middlewares...)(observability.MetricsMiddleware(mux)),
		"parley",
	)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.ReadTimeout.Std(),
		WriteTimeout:      cfg.WriteTimeout.Std(),
	}
	return s
}

// Handler returns the fully wrapped handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.handler }

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.httpServer.Addr }

// Run listens on the configured port until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	}
	return s.shutdown()
}

func (s *Server) shutdown() error {
	timeout := s.cfg.ShutdownTimeout.Std()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("shutting down gracefully", "timeout", timeout, "streams", s.adapter.InFlight().Len())
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
