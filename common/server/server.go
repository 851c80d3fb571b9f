// Package server runs the HTTP listener with graceful shutdown. Both
// services hand it their echo handler; the wrapper owns signal handling
// and drain timing.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/weavr-ai/weavr/common/logger"
)

const (
	readTimeout  = 15 * time.Second
	writeTimeout = 15 * time.Second
	idleTimeout  = 60 * time.Second
	drainTimeout = 30 * time.Second
)

// Server is an http.Server with lifecycle management attached
type Server struct {
	http *http.Server
	log  *logger.Logger
	name string
}

// New wraps a handler for the given service
func New(name string, port int, handler http.Handler, log *logger.Logger) *Server {
	return &Server{
		http: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      handler,
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			IdleTimeout:  idleTimeout,
		},
		log:  log,
		name: name,
	}
}

// Run serves until the listener fails or a termination signal arrives,
// then drains in-flight requests before returning
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listenErr := make(chan error, 1)
	go func() {
		s.log.Info(fmt.Sprintf("%s listening", s.name), "addr", s.http.Addr)
		listenErr <- s.http.ListenAndServe()
	}()

	select {
	case err := <-listenErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		s.log.Info("shutdown signal received", "service", s.name)
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := s.http.Shutdown(drainCtx); err != nil {
		s.log.Error("graceful shutdown failed, closing", "error", err)
		if err := s.http.Close(); err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
	}
	s.log.Info("shutdown complete", "service", s.name)
	return nil
}
