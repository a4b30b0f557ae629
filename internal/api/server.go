// Package api exposes the forecast query interface over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/civicworks/complaint-forecast/internal/config"
)

// Server wraps the HTTP listener and lifecycle helpers.
type Server struct {
	cfg config.ServerConfig
	srv *http.Server
}

// NewServer constructs an HTTP server bound to the configured address.
func NewServer(cfg config.ServerConfig, handler http.Handler) *Server {
	return &Server{
		cfg: cfg,
		srv: &http.Server{
			Addr:    cfg.Address,
			Handler: handler,
		},
	}
}

// Start serves requests until Shutdown is invoked.
func (s *Server) Start() error {
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", s.cfg.Address, err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
