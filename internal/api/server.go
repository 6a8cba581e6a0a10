package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grimm.is/cloudnet/internal/brand"
	"grimm.is/cloudnet/internal/clock"
	"grimm.is/cloudnet/internal/health"
	"grimm.is/cloudnet/internal/logging"
	"grimm.is/cloudnet/internal/metrics"
	"grimm.is/cloudnet/internal/network"
	"grimm.is/cloudnet/internal/provider"
)

// Environment is what the server reads from the reconciler.
type Environment interface {
	Status() provider.Status
	System() (any, bool)
}

// ServerConfig holds HTTP server timeouts.
type ServerConfig struct {
	ReadHeaderTimeout time.Duration // Slowloris prevention
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	ShutdownTimeout   time.Duration
}

// DefaultServerConfig returns secure default timeouts.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ShutdownTimeout:   5 * time.Second,
	}
}

// ServerOptions configures a Server.
type ServerOptions struct {
	Env     Environment
	Health  *health.Checker
	Drivers func(name string) (network.DriverInfo, error)
	Clock   clock.Clock
}

// Server is the HTTP API server.
type Server struct {
	env       Environment
	health    *health.Checker
	drivers   func(name string) (network.DriverInfo, error)
	clock     clock.Clock
	metrics   *metrics.Registry
	logger    *logging.Logger
	startTime time.Time
}

// NewServer creates a server.
func NewServer(opts ServerOptions) *Server {
	if opts.Clock == nil {
		opts.Clock = clock.Real
	}
	if opts.Health == nil {
		opts.Health = health.NewChecker(opts.Clock)
	}
	return &Server{
		env:       opts.Env,
		health:    opts.Health,
		drivers:   opts.Drivers,
		clock:     opts.Clock,
		metrics:   metrics.Get(),
		logger:    logging.WithComponent("api"),
		startTime: opts.Clock.Now(),
	}
}

// Handler returns the server's routes wrapped in middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", health.LivenessHandler())
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/cloud/status", s.handleCloudStatus)
	mux.HandleFunc("GET /api/cloud/system", s.handleCloudSystem)
	mux.HandleFunc("GET /api/network", s.handleNetwork)
	mux.HandleFunc("GET /api/health", s.health.Handler())
	mux.Handle("GET /metrics", promhttp.Handler())
	return s.loggingMiddleware(mux)
}

// Serve accepts connections on l until ctx is done, then shuts down.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	cfg := DefaultServerConfig()
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server listening", "addr", l.Addr().String(), "version", brand.Version)
		errCh <- srv.Serve(l)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("API server stopped")
	return nil
}

// Start listens on addr and serves until ctx is done.
func (s *Server) Start(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

// loggingMiddleware logs and counts all API requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.clock.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := s.clock.Since(start)
		s.metrics.RecordAPIRequest(r.Method, r.URL.Path, wrapped.statusCode, duration.Seconds())

		if r.URL.Path == "/metrics" {
			return
		}
		args := []any{"method", r.Method, "path", r.URL.Path, "status", wrapped.statusCode, "duration", duration.Round(time.Millisecond)}
		switch {
		case wrapped.statusCode >= 500:
			s.logger.Error("request", args...)
		case wrapped.statusCode >= 400:
			s.logger.Warn("request", args...)
		default:
			s.logger.Debug("request", args...)
		}
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
