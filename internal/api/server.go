package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-slsdet/internal/bridges/slsdet"
	"github.com/nerrad567/gray-logic-slsdet/internal/history"
	"github.com/nerrad567/gray-logic-slsdet/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-slsdet/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-slsdet/internal/port"
	"github.com/nerrad567/gray-logic-slsdet/internal/receiver"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// ChannelParamChanged is the WebSocket channel carrying port.Update events.
const ChannelParamChanged = "detector.param_changed"

// Detectors is the port surface used by the handlers. *port.Port
// implements it.
type Detectors interface {
	Name() string
	NumAddresses() int
	NumConnected() int
	Hostname(addr int) (string, error)
	IsConnected(addr int) bool
	Connect(addr int) error
	Disconnect(addr int) error
	Read(addr int, name string) (any, error)
	WriteValue(addr int, name string, v any) error
	Value(addr int, name string) (any, bool)
	Snapshot(addr int) (map[string]any, error)
}

// HistoryStore records and lists parameter history.
type HistoryStore interface {
	Record(ctx context.Context, r history.Reading) error
	List(ctx context.Context, portName string, addr int, param string, limit int) ([]history.Reading, error)
}

// BridgeStatus exposes the MQTT bridge's health.
type BridgeStatus interface {
	Health() slsdet.HealthMessage
}

// ReceiverStatus exposes the supervised slsReceiver.
type ReceiverStatus interface {
	Stats() receiver.Stats
}

// HealthChecker is implemented by infrastructure clients.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Port     Detectors

	// Optional collaborators.
	History        HistoryStore
	Bridge         BridgeStatus
	Receiver       ReceiverStatus
	HealthCheckers map[string]HealthChecker

	Version string
}

// Server is the HTTP API server.
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	secCfg   config.SecurityConfig
	logger   *logging.Logger
	port     Detectors
	history  HistoryStore
	bridge   BridgeStatus
	receiver ReceiverStatus
	checkers map[string]HealthChecker
	version  string
	server   *http.Server
	hub      *Hub
	cancel   context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called. The WebSocket hub
// exists from New on, so updates may be broadcast before Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Port == nil {
		return nil, fmt.Errorf("detector port is required")
	}

	return &Server{
		cfg:      deps.Config,
		wsCfg:    deps.WS,
		secCfg:   deps.Security,
		logger:   deps.Logger,
		port:     deps.Port,
		history:  deps.History,
		bridge:   deps.Bridge,
		receiver: deps.Receiver,
		checkers: deps.HealthCheckers,
		version:  deps.Version,
		hub:      NewHub(deps.WS, deps.Logger),
	}, nil
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// BroadcastUpdate relays a parameter change to WebSocket subscribers.
func (s *Server) BroadcastUpdate(u port.Update) {
	s.hub.Broadcast(ChannelParamChanged, u)
}

// Handler returns the HTTP handler with all routes and middleware.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server, waiting up to 10 seconds for
// in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
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

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
