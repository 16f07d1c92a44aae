package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ingeniumai/outreach/internal/instrumentation"
)

const (
	DefaultMetricsAddr = ":9090"
	DefaultMetricsPath = "/metrics"

	metricsReadHeaderTimeout = 10 * time.Second
	metricsWriteTimeout      = 10 * time.Second
	metricsIdleTimeout       = 60 * time.Second

	// DefaultShutdownTimeout bounds graceful shutdown of every listener.
	DefaultShutdownTimeout = 30 * time.Second
)

var (
	ErrNoProvider       = errors.New("instrumentation provider is required for metrics server")
	ErrProviderDisabled = errors.New("instrumentation provider is not enabled")
)

// MetricsServerConfig configures the Prometheus listener.
type MetricsServerConfig struct {
	Addr     string
	Path     string
	Provider *instrumentation.Provider
	Logger   *slog.Logger
}

// MetricsServer serves Prometheus metrics on a port separate from the API so
// scrapes never pass through session authentication.
type MetricsServer struct {
	addr   string
	path   string
	log    *slog.Logger
	server *http.Server

	mu       sync.Mutex
	listener net.Listener
}

// NewMetricsServer validates config. Nothing is bound until Start.
func NewMetricsServer(config MetricsServerConfig) (*MetricsServer, error) {
	if config.Provider == nil {
		return nil, ErrNoProvider
	}
	if !config.Provider.Enabled() {
		return nil, ErrProviderDisabled
	}
	if config.Addr == "" {
		config.Addr = DefaultMetricsAddr
	}
	if config.Path == "" {
		config.Path = DefaultMetricsPath
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	s := &MetricsServer{
		addr: config.Addr,
		path: config.Path,
		log:  config.Logger.With(slog.String("component", "metrics")),
	}
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: metricsReadHeaderTimeout,
		WriteTimeout:      metricsWriteTimeout,
		IdleTimeout:       metricsIdleTimeout,
	}
	return s, nil
}

// Handler exposes the global Prometheus registry, which the OpenTelemetry
// exporter writes to, plus a liveness check for the listener itself.
func (s *MetricsServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Start binds the listener and serves until Shutdown. It blocks and returns
// http.ErrServerClosed after a graceful shutdown.
func (s *MetricsServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.log.Info("starting metrics server", slog.String("addr", ln.Addr().String()), slog.String("path", s.path))
	return s.server.Serve(ln)
}

// Shutdown gracefully stops the server. It is a no-op before Start.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	started := s.listener != nil
	s.mu.Unlock()
	if !started {
		return nil
	}
	s.log.Info("shutting down metrics server")
	return s.server.Shutdown(ctx)
}

// Addr returns the bound address once started, otherwise the configured one.
func (s *MetricsServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}
