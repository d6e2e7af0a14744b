package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/greyfell/hubsync/internal/coordinator"
	"github.com/greyfell/hubsync/internal/history"
	"github.com/greyfell/hubsync/internal/hub"
	"github.com/greyfell/hubsync/internal/infrastructure/config"
)

// Logger interface for optional logging support.
// Compatible with logging.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Coordinator is the device-cache capability the API serves. The
// concrete *coordinator.Coordinator implements it; handler tests
// substitute fakes.
type Coordinator interface {
	Snapshot() *hub.Snapshot
	Device(deviceID string) (hub.DeviceSnapshot, bool)
	DeviceInfo(deviceID string) (coordinator.DeviceInfo, bool)
	Available() bool
	Refresh(ctx context.Context) error
	GetDeviceData(ctx context.Context, deviceID string) (hub.DeviceSnapshot, error)
	SetDeviceState(ctx context.Context, deviceID, channel string, args map[string]any) error
	SendKeys(ctx context.Context, deviceID, category, brand string, keys []string) error
	Metrics() coordinator.Metrics
	Subscribe() (<-chan coordinator.Event, func())
}

// HistoryProvider serves recent-change queries. Nil disables the
// history endpoint.
type HistoryProvider interface {
	History(ctx context.Context, deviceID string, limit int) ([]history.Entry, error)
}

// Deps are the collaborators the server needs. Coordinator is required;
// the rest are optional.
type Deps struct {
	Coordinator  Coordinator
	History      HistoryProvider
	HubConnected func() bool
	Logger       Logger
	Version      string
}

// Server is the HTTP surface: the REST API plus the WebSocket event
// stream.
type Server struct {
	httpServer *http.Server
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	deps       Deps
	logger     Logger
}

// New creates a server. Start must be called to begin serving.
func New(cfg config.APIConfig, wsCfg config.WebSocketConfig, deps Deps) (*Server, error) {
	if deps.Coordinator == nil {
		return nil, errors.New("api: coordinator is required")
	}
	if deps.Logger == nil {
		deps.Logger = noopLogger{}
	}

	s := &Server{
		cfg:    cfg,
		wsCfg:  wsCfg,
		deps:   deps,
		logger: deps.Logger,
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router(),
		ReadTimeout:  cfg.GetReadTimeout(),
		WriteTimeout: cfg.GetWriteTimeout(),
		IdleTimeout:  cfg.GetIdleTimeout(),
	}

	return s, nil
}

// Start serves until Shutdown is called or the listener fails. It
// blocks; run it on its own goroutine.
func (s *Server) Start() error {
	s.logger.Info("api server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
