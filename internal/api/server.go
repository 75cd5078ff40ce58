package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/gridhost/internal/host"
	"github.com/nerrad567/gridhost/internal/infrastructure/config"
	"github.com/nerrad567/gridhost/internal/infrastructure/logging"
	"github.com/nerrad567/gridhost/internal/infrastructure/mqtt"
	"github.com/nerrad567/gridhost/internal/realtime"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	WS          config.WebSocketConfig
	Metrics     config.MetricsConfig
	Logger      *logging.Logger
	Repo        host.Repository
	Registry    *realtime.Registry
	Broadcaster *realtime.Broadcaster
	Prober      *realtime.Prober
	Lifecycle   *realtime.Lifecycle
	MQTT        *mqtt.Client        // optional: relays external events when set
	Gatherer    prometheus.Gatherer // optional: served on the metrics path when set
	Version     string
}

// Server is the HTTP API server for gridhost.
//
// It owns the HTTP listener, the router and the liveness prober goroutine.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	metricsCfg  config.MetricsConfig
	logger      *logging.Logger
	repo        host.Repository
	registry    *realtime.Registry
	broadcaster *realtime.Broadcaster
	prober      *realtime.Prober
	lifecycle   *realtime.Lifecycle
	mqtt        *mqtt.Client
	gatherer    prometheus.Gatherer
	version     string

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc // stops the prober and relay on Close()
	probing  sync.WaitGroup
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger is required")
	case deps.Repo == nil:
		return nil, fmt.Errorf("host repository is required")
	case deps.Registry == nil, deps.Broadcaster == nil, deps.Prober == nil, deps.Lifecycle == nil:
		return nil, fmt.Errorf("realtime registry, broadcaster, prober and lifecycle are required")
	}

	return &Server{
		cfg:         deps.Config,
		wsCfg:       deps.WS,
		metricsCfg:  deps.Metrics,
		logger:      deps.Logger,
		repo:        deps.Repo,
		registry:    deps.Registry,
		broadcaster: deps.Broadcaster,
		prober:      deps.Prober,
		lifecycle:   deps.Lifecycle,
		mqtt:        deps.MQTT,
		gatherer:    deps.Gatherer,
		version:     deps.Version,
	}, nil
}

// Start binds the listener, starts the liveness prober, subscribes the MQTT
// relay and serves HTTP in a background goroutine. The server can be stopped
// with Close().
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.probing.Add(1)
	go func() {
		defer s.probing.Done()
		s.prober.Run(srvCtx)
	}()

	if err := s.subscribeEvents(); err != nil {
		s.logger.Warn("failed to subscribe to external events", "error", err)
	}

	s.listener = ln
	s.server = &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           s.Handler(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	srv := s.server
	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", srv.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = srv.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", srv.Addr, "ws_path", s.wsPath())
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close stops the prober and relay, sends every listener a close frame and
// shuts HTTP down, waiting up to 10 seconds for in-flight requests.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	cancel := s.cancel
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	if cancel != nil {
		cancel()
	}
	s.probing.Wait()
	s.unsubscribeEvents()

	closed := 0
	for _, h := range s.registry.Snapshot() {
		if c, ok := h.(io.Closer); ok {
			c.Close() //nolint:errcheck // best effort during shutdown
			closed++
		}
	}

	ctx, cancelShutdown := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancelShutdown()

	s.logger.Info("API server shutting down", "listeners_closed", closed)
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
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

func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws/host"
	}
	return s.wsCfg.Path
}
