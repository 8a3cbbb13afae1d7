// Package microservice runs the API listener and its liveness endpoint.
package microservice

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

// ServerConfig holds the listener settings.
type ServerConfig struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
}

// Server serves the API handler with /healthz mounted in front of it.
type Server struct {
	logger     zerolog.Logger
	listenAddr string
	httpServer *http.Server
	serveErr   chan error

	mu        sync.RWMutex
	boundAddr string
}

// New builds a Server for handler. Nothing listens until Start.
func New(cfg ServerConfig, handler http.Handler, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", liveness)
	mux.Handle("/", handler)

	return &Server{
		logger:     logger.With().Str("component", "Server").Logger(),
		listenAddr: cfg.Addr,
		serveErr:   make(chan error, 1),
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           mux,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
		},
	}
}

// Start binds the listener and serves in the background. A later serve
// failure is delivered on Errors.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.listenAddr, err)
	}

	s.mu.Lock()
	s.boundAddr = listener.Addr().String()
	s.mu.Unlock()
	s.logger.Info().Str("addr", s.boundAddr).Msg("API listener bound.")

	go func() {
		err := s.httpServer.Serve(listener)
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return
		}
		s.logger.Error().Err(err).Msg("API listener stopped unexpectedly.")
		s.serveErr <- err
	}()
	return nil
}

// Errors yields at most one error if serving stops for any reason other than Shutdown.
func (s *Server) Errors() <-chan error {
	return s.serveErr
}

// Addr is the bound host:port, or the configured address before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.boundAddr == "" {
		return s.listenAddr
	}
	return s.boundAddr
}

// Shutdown drains in-flight requests. If ctx expires first the remaining
// connections are closed and ctx's error is returned.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if err == nil {
		s.logger.Info().Msg("API listener drained.")
		return nil
	}
	s.logger.Warn().Err(err).Msg("Drain incomplete, closing remaining connections.")
	if closeErr := s.httpServer.Close(); closeErr != nil {
		return errors.Join(err, closeErr)
	}
	return err
}

func liveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}
