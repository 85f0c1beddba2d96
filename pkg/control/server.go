package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/interceptd/interceptd/pkg/coordinator"
)

// DefaultAddr is where the control server listens unless configured.
const DefaultAddr = "127.0.0.1:9999"

// Server exposes the control API over HTTP.
//
// Stop the coordinator before shutting the server down: a debug-mode
// submission holds its POST /flows request open until the flow resolves, and
// coordinator.Stop is what releases those.
type Server struct {
	coord *coordinator.Coordinator
	log   *slog.Logger
	addr  string

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the operational logger.
func WithServerLogger(log *slog.Logger) ServerOption {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithAddr sets the listen address.
func WithAddr(addr string) ServerOption {
	return func(s *Server) { s.addr = addr }
}

// NewServer creates a control server for the given session.
func NewServer(coord *coordinator.Coordinator, opts ...ServerOption) *Server {
	s := &Server{
		coord: coord,
		log:   slog.Default(),
		addr:  DefaultAddr,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the control API routed onto a mux. Usable directly in
// tests without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /flows", s.handleSubmitFlow)
	mux.HandleFunc("GET /flows", s.handleListFlows)
	mux.HandleFunc("DELETE /flows", s.handleClearFlows)
	mux.HandleFunc("GET /flows/{id}", s.handleGetFlow)

	mux.HandleFunc("POST /resume", s.handleResume)
	mux.HandleFunc("GET /mock-match", s.handleMockMatch)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("PUT /mode", s.handleSwitchMode)

	mux.HandleFunc("GET /rules", s.handleListRules)
	mux.HandleFunc("POST /rules", s.handleCreateRule)
	mux.HandleFunc("DELETE /rules", s.handleClearRules)
	mux.HandleFunc("GET /rules/{id}", s.handleGetRule)
	mux.HandleFunc("PUT /rules/{id}", s.handleUpdateRule)
	mux.HandleFunc("DELETE /rules/{id}", s.handleDeleteRule)
	mux.HandleFunc("POST /rules/import", s.handleImportRules)
	mux.HandleFunc("GET /rules/export", s.handleExportRules)

	mux.HandleFunc("GET /events", s.handleEvents)

	return mux
}

// Start begins serving. Non-blocking; returns once the listener is bound.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer != nil {
		return errors.New("control server already started")
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("control server listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	// WriteTimeout stays zero: debug submissions and event streams hold
	// their responses open indefinitely.
	s.httpServer = &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("control server stopped", "error", err)
		}
	}()

	s.log.Info("control server listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, empty before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	s.listener = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
