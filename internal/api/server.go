// Package api provides the HTTP REST API and WebSocket server for the
// Tinkerforge bridge.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/tinkerforge-bridge/internal/audit"
	"github.com/nerrad567/tinkerforge-bridge/internal/auth"
	"github.com/nerrad567/tinkerforge-bridge/internal/binding"
	"github.com/nerrad567/tinkerforge-bridge/internal/infrastructure/config"
	"github.com/nerrad567/tinkerforge-bridge/internal/infrastructure/database"
	"github.com/nerrad567/tinkerforge-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/tinkerforge-bridge/internal/process"
	"github.com/nerrad567/tinkerforge-bridge/internal/thing"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HistoryReader serves state history queries.
type HistoryReader interface {
	GetHistory(ctx context.Context, q thing.HistoryQuery) ([]thing.StateHistoryEntry, error)
}

// ConnectionStatus reports whether the MQTT broker is reachable.
type ConnectionStatus interface {
	IsConnected() bool
}

// HealthSource provides the current service health.
// Implemented by *binding.HealthReporter.
type HealthSource interface {
	Current() binding.HealthMessage
}

// ProcessStatus reports the managed brickd proxy process.
// Implemented by *process.Proxy.
type ProcessStatus interface {
	Stats() (process.Stats, bool)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Logger   *logging.Logger
	Auth     *auth.Authenticator
	Registry *thing.Registry
	Binding  *binding.Binding

	// History is optional; without it history queries return 503.
	History HistoryReader

	// Audit persists the audit trail. Optional; without it actions are only logged.
	Audit audit.Repository

	// MQTT, DB and Health only feed /health and /metrics. Optional.
	MQTT   ConnectionStatus
	DB     *database.DB
	Health HealthSource
	Proxy  ProcessStatus

	// Hub is shared with the binding so its events reach WebSocket clients.
	// When nil the server creates its own.
	Hub *Hub

	Version string
}

// Server is the HTTP API server of the bridge.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	logger      *logging.Logger
	auth        *auth.Authenticator
	registry    *thing.Registry
	binding     *binding.Binding
	history     HistoryReader
	auditRepo   audit.Repository
	auditCh     chan *audit.Entry
	mqtt        ConnectionStatus
	db          *database.DB
	health      HealthSource
	proxy       ProcessStatus
	version     string
	startTime   time.Time
	server      *http.Server
	hub         *Hub
	externalHub bool               // true if hub was injected externally
	tickets     *ticketStore       // pending WebSocket tickets
	cancel      context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Auth == nil {
		return nil, fmt.Errorf("authenticator is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("thing registry is required")
	}
	if deps.Binding == nil {
		return nil, fmt.Errorf("binding is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		auth:      deps.Auth,
		registry:  deps.Registry,
		binding:   deps.Binding,
		history:   deps.History,
		auditRepo: deps.Audit,
		auditCh:   make(chan *audit.Entry, auditChanSize),
		mqtt:      deps.MQTT,
		db:        deps.DB,
		health:    deps.Health,
		proxy:     deps.Proxy,
		version:   deps.Version,
		startTime: time.Now(),
		tickets:   newTicketStore(),
	}

	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	}

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub (unless injected), the ticket cleanup loop,
// and the HTTP listener in a background goroutine. The server can be
// stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}

	go s.cleanTicketsLoop(srvCtx)
	if s.auditRepo != nil {
		go s.drainAuditLog(srvCtx)
	}

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

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
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

// Hub returns the WebSocket hub, creating it if Start has not run yet.
func (s *Server) Hub() *Hub {
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	return s.hub
}

// HealthCheck verifies the API server is running and responsive.
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
