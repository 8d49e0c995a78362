// Package server wraps http.Server with signal-driven graceful shutdown.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lyzr/ragflow/common/logger"
)

const (
	readTimeout  = 15 * time.Second
	writeTimeout = 15 * time.Second
	idleTimeout  = 60 * time.Second
	drainTimeout = 30 * time.Second
)

// Server runs an HTTP handler until it fails or a shutdown signal
// arrives, then drains in-flight requests before returning.
type Server struct {
	name string
	http *http.Server
	log  *logger.Logger
}

// New creates a server for the handler on the given port.
//
// WriteTimeout is left unset when streaming is true: SSE responses
// outlive any fixed write deadline.
func New(name string, port int, handler http.Handler, streaming bool, log *logger.Logger) *Server {
	s := &http.Server{
		Addr:        fmt.Sprintf(":%d", port),
		Handler:     handler,
		ReadTimeout: readTimeout,
		IdleTimeout: idleTimeout,
	}
	if !streaming {
		s.WriteTimeout = writeTimeout
	}
	return &Server{name: name, http: s, log: log}
}

// Run blocks until the listener fails or SIGINT/SIGTERM arrives
func (s *Server) Run() error {
	errs := make(chan error, 1)

	go func() {
		s.log.Info(s.name+" listening", "addr", s.http.Addr)
		errs <- s.http.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errs:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		s.log.Info("shutdown signal received", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()

		if err := s.http.Shutdown(ctx); err != nil {
			s.log.Error("graceful shutdown failed, closing", "error", err)
			if err := s.http.Close(); err != nil {
				return fmt.Errorf("could not stop server: %w", err)
			}
		}
		s.log.Info("shutdown complete")
	}

	return nil
}
