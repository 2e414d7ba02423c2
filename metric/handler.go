package metric

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360/tuplestreams/errors"
)

// Server exposes a MetricsRegistry over HTTP.
type Server struct {
	port     int
	path     string
	registry *MetricsRegistry
	logger   *slog.Logger
	health   http.Handler

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewServer creates a metrics server. Port 0 picks a free port on Start.
func NewServer(port int, path string, registry *MetricsRegistry, logger *slog.Logger) *Server {
	if path == "" {
		path = "/metrics"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		port:     port,
		path:     path,
		registry: registry,
		logger:   logger.With("component", "metrics-server"),
	}
}

// SetHealthHandler serves h at /health instead of a plain OK. It takes effect on the next
// Start.
func (s *Server) SetHealthHandler(h http.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health = h
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return errors.WrapInvalid(fmt.Errorf("server already running"), "Server", "Start", "start check")
	}
	if s.registry == nil {
		return errors.WrapFatal(fmt.Errorf("nil registry"), "Server", "Start", "registry check")
	}

	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.HandlerFor(s.registry.PrometheusRegistry(), promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	if s.health != nil {
		mux.Handle("/health", s.health)
	} else {
		mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK"))
		})
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return errors.WrapFatal(err, "Server", "Start", fmt.Sprintf("listen on port %d", s.port))
	}

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.server = srv
	s.listener = ln

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Metrics server stopped", "error", err)
		}
	}()
	s.logger.Info("Metrics server started", "address", s.addressLocked())
	return nil
}

// Stop shuts the server down, waiting for in-flight scrapes until ctx is done.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	s.server = nil
	s.listener = nil
	if err != nil {
		return errors.WrapTransient(err, "Server", "Stop", "shutdown HTTP server")
	}
	return nil
}

// Address returns the scrape URL.
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addressLocked()
}

func (s *Server) addressLocked() string {
	port := s.port
	if s.listener != nil {
		if tcp, ok := s.listener.Addr().(*net.TCPAddr); ok {
			port = tcp.Port
		}
	}
	return fmt.Sprintf("http://localhost:%d%s", port, s.path)
}
