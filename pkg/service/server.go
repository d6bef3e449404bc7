package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Server is the HTTP surface both processes expose: a liveness probe for the
// orchestrator plus whatever routes the owning process adds to the mux. The
// listener is bound eagerly in Start so a taken port fails startup instead of
// dying later inside Serve.
type Server struct {
	logger zerolog.Logger
	listen string
	mux    *http.ServeMux

	mu   sync.Mutex
	srv  *http.Server
	addr net.Addr
}

// NewServer creates a Server with the /healthz probe pre-registered. Nothing
// is bound until Start.
func NewServer(listen string, logger zerolog.Logger) *Server {
	s := &Server{
		logger: logger.With().Str("component", "Server").Logger(),
		listen: listen,
		mux:    http.NewServeMux(),
	}
	s.mux.HandleFunc("/healthz", s.handleHealthz)
	return s
}

// Mux returns the underlying ServeMux for route registration.
func (s *Server) Mux() *http.ServeMux { return s.mux }

// Start binds the listener and serves in a background goroutine.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", s.listen, err)
	}

	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.srv = srv
	s.addr = listener.Addr()
	s.mu.Unlock()

	go func() {
		serveErr := srv.Serve(listener)
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error().Err(serveErr).Msg("HTTP server exited unexpectedly.")
		}
	}()

	s.logger.Info().Str("address", listener.Addr().String()).Msg("HTTP server listening.")
	return nil
}

// Shutdown drains in-flight requests under the context deadline. A no-op when
// Start never ran.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info().Msg("HTTP server stopped.")
	return nil
}

// Addr returns the bound address, empty before Start. With a ":0" listen
// spec this is the only way to learn the real port.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addr == nil {
		return ""
	}
	return s.addr.String()
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
