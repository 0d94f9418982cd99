package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/concordia/internal/common"
	"github.com/ternarybob/concordia/internal/handlers"
)

// Server manages the HTTP server and routes
type Server struct {
	logger arbor.ILogger
	config *common.Config
	router *http.ServeMux
	server *http.Server

	datasourceHandler *handlers.DataSourceHandler
	searchHandler     *handlers.SearchHandler
	apiHandler        *handlers.APIHandler
}

// New creates a new HTTP server with the given handlers
func New(logger arbor.ILogger, config *common.Config, datasource *handlers.DataSourceHandler, search *handlers.SearchHandler, api *handlers.APIHandler) *Server {
	s := &Server{
		logger:            logger,
		config:            config,
		datasourceHandler: datasource,
		searchHandler:     search,
		apiHandler:        api,
	}

	s.router = s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.withMiddleware(s.router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info().
		Str("address", s.server.Addr).
		Msg("HTTP server starting")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server...")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info().Msg("HTTP server stopped")
	return nil
}
