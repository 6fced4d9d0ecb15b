package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-cybro/internal/bridges/cybro"
	"github.com/nerrad567/gray-logic-cybro/internal/coordinator"
	"github.com/nerrad567/gray-logic-cybro/internal/entity"
	"github.com/nerrad567/gray-logic-cybro/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-cybro/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-cybro/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-cybro/internal/scgi"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Bridge exposes the entities of the running bridge.
// *cybro.Bridge satisfies it.
type Bridge interface {
	Entities() []entity.Entity
	Entity(id string) (entity.Entity, error)
	GetMetrics() cybro.Metrics
}

// Poller is the update coordinator.
// *coordinator.Coordinator[*scgi.Device] satisfies it.
type Poller interface {
	Data() (*scgi.Device, bool)
	Refresh(ctx context.Context) error
	Stats() coordinator.Stats
}

// History reads persisted entity state.
// *entity.Registry satisfies it.
type History interface {
	GetHistory(ctx context.Context, id string, limit int) ([]entity.HistoryEntry, error)
	GetStats() entity.Stats
}

// Subscriber is the MQTT surface used for the WebSocket relay.
// *mqtt.Client satisfies it.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// DBStats reports connection pool statistics.
// *database.DB satisfies it.
type DBStats interface {
	Stats() sql.DBStats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Bridge   Bridge
	Poller   Poller
	History  History    // optional: history endpoints return 404 without it
	MQTT     Subscriber // optional: WebSocket relay disabled without it
	DB       DBStats    // optional
	Audit    AuditLog   // optional: actions are not recorded without it
	Version  string
}

// Server is the HTTP API server of the bridge.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	bridge    Bridge
	poller    Poller
	history   History
	mqtt      Subscriber
	db        DBStats
	audit     AuditLog
	version   string
	startTime time.Time
	server    *http.Server
	listener  net.Listener
	hub       *Hub
	tickets   *ticketStore
	cancel    context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (logger, bridge, poller)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Bridge == nil {
		return nil, fmt.Errorf("bridge is required")
	}
	if deps.Poller == nil {
		return nil, fmt.Errorf("poller is required")
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		bridge:    deps.Bridge,
		poller:    deps.Poller,
		history:   deps.History,
		mqtt:      deps.MQTT,
		db:        deps.DB,
		audit:     deps.Audit,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       NewHub(deps.Logger),
		tickets:   newTicketStore(),
	}, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, subscribes to the bridge state topics for
// real-time WebSocket broadcast, binds the listener and serves in a
// background goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Parent context for background goroutines
//
// Returns:
//   - error: If the listener cannot be bound (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.cleanTicketsLoop(srvCtx)

	if err := s.subscribeStateUpdates(); err != nil {
		s.logger.Warn("failed to subscribe to state updates for WebSocket", "error", err)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("binding API listener: %w", err)
	}
	s.listener = ln

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", ln.Addr().String(),
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", ln.Addr().String())
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
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

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
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
