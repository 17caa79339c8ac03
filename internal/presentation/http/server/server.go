// Package server owns the net/http server wrapping the gin router.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/sessionlens/pixeld/internal/application/container"
	"github.com/sessionlens/pixeld/internal/presentation/http/routes"
	"github.com/sessionlens/pixeld/pkg/config"
)

// Server holds the configured http.Server. The router is built once in New;
// after that the container is only reachable through the handlers.
type Server struct {
	httpServer *http.Server
}

// New builds the router from the container and wraps it in an http.Server
// with the configured timeouts.
func New(port string, appContainer *container.Container) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         ":" + port,
			Handler:      routes.SetupRoutes(appContainer),
			ReadTimeout:  config.ServerReadTimeout,
			WriteTimeout: config.ServerWriteTimeout,
			IdleTimeout:  config.ServerIdleTimeout,
		},
	}
}

// Start blocks serving requests until the server is shut down or fails.
func (s *Server) Start() error {
	log.Printf("HTTP server listening on %s", s.httpServer.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}

	return nil
}

// Stop drains in-flight requests within the context deadline.
func (s *Server) Stop(ctx context.Context) error {
	log.Println("HTTP server shutting down")
	return s.httpServer.Shutdown(ctx)
}
