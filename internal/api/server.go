package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cziter15/BlynkMqttBridge/internal/bridge"
	"github.com/cziter15/BlynkMqttBridge/internal/infrastructure/config"
	"github.com/cziter15/BlynkMqttBridge/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during Close.
const gracefulShutdownTimeout = 5 * time.Second

const readHeaderTimeout = 5 * time.Second

// ErrServerRunning is returned by Start on a running server.
var ErrServerRunning = errors.New("api: server already running")

// HealthFunc reports bridge health for the /health probe. A non-nil error
// answers 503.
type HealthFunc func(ctx context.Context) error

// StatusSource provides the health document served at /api/v1/status.
type StatusSource interface {
	Snapshot() bridge.HealthMessage
}

// Deps holds the dependencies required by the server.
type Deps struct {
	// Addr is the listen address, for example ":9464".
	Addr   string
	Config config.APIConfig
	Logger *logging.Logger

	// Registry is served at /metrics when set.
	Registry *prometheus.Registry
	Health   HealthFunc

	// Status and Mappings back the /api/v1 routes.
	Status   StatusSource
	Mappings *bridge.Table

	// Hub, if set, is used instead of a server-owned hub so it can be
	// registered as a recorder before the server starts.
	Hub *Hub

	Version string
}

// Server is the operations HTTP server.
//
// It is created with New, started with Start and stopped with Close.
type Server struct {
	addr     string
	cfg      config.APIConfig
	logger   *logging.Logger
	registry *prometheus.Registry
	health   HealthFunc
	status   StatusSource
	mappings *bridge.Table
	hub      *Hub
	version  string

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc // stops the hub on Close
}

// New creates a server with the given dependencies. The server is not
// started until Start is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Config.Enabled && deps.Status == nil {
		return nil, fmt.Errorf("status source is required when the API is enabled")
	}

	s := &Server{
		addr:     deps.Addr,
		cfg:      deps.Config,
		logger:   deps.Logger,
		registry: deps.Registry,
		health:   deps.Health,
		status:   deps.Status,
		mappings: deps.Mappings,
		hub:      deps.Hub,
		version:  deps.Version,
	}
	if s.hub == nil {
		s.hub = NewHub(deps.Config.WebSocket, deps.Logger)
	}
	return s, nil
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the listen address and serves in the background. Bind
// errors are returned; later serve errors are logged.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return ErrServerRunning
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("api: listen on %s: %w", s.addr, err)
	}

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	srv := &http.Server{
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	s.server = srv
	s.listener = ln

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Close gracefully shuts down the server. It waits up to five seconds for
// in-flight requests, then forcefully closes remaining connections.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	cancel := s.cancel
	s.server = nil
	s.listener = nil
	s.cancel = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	if cancel != nil {
		cancel()
	}

	ctx, done := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer done()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
