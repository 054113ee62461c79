package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/exertus/exmebus-gateway/internal/gateway"
	"github.com/exertus/exmebus-gateway/internal/infrastructure/config"
	"github.com/exertus/exmebus-gateway/internal/infrastructure/logging"
)

const (
	// gracefulShutdownTimeout bounds the wait for in-flight requests.
	gracefulShutdownTimeout = 5 * time.Second

	// healthCheckTimeout bounds every component check behind /health.
	healthCheckTimeout = 2 * time.Second

	readHeaderTimeout = 5 * time.Second
)

// HealthChecker is implemented by every component reported by /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.MetricsConfig
	Logger   *logging.Logger
	Gatherer prometheus.Gatherer
	// Checks maps a component name to its health check.
	Checks map[string]HealthChecker
	// Status returns the gateway counters. Optional.
	Status func() gateway.Stats
	// Hub serves /ws. Optional.
	Hub     *Hub
	Version string
}

// Server is the HTTP server.
type Server struct {
	cfg      config.MetricsConfig
	logger   *logging.Logger
	gatherer prometheus.Gatherer
	checks   map[string]HealthChecker
	status   func() gateway.Stats
	hub      *Hub
	version  string
	started  time.Time

	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
}

// New creates a server. It does not listen until Start is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Gatherer == nil {
		return nil, fmt.Errorf("metrics gatherer is required")
	}

	return &Server{
		cfg:      deps.Config,
		logger:   deps.Logger,
		gatherer: deps.Gatherer,
		checks:   deps.Checks,
		status:   deps.Status,
		hub:      deps.Hub,
		version:  deps.Version,
		started:  time.Now(),
	}, nil
}

// Start binds the listener and serves in a background goroutine.
//
// Returns:
//   - error: If the address cannot be bound
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub != nil {
		go s.hub.Run(srvCtx)
	}

	addr := s.cfg.Address()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.logger.Info("http server listening", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close stops the hub and shuts the server down gracefully.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}
