// Package server manages the HTTP server lifecycle: construction,
// startup and graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/minjaeko/chatrelay/internal/api"
	"github.com/minjaeko/chatrelay/internal/infra/config"
)

// Server wraps the HTTP server and database.
type Server struct {
	cfg  *config.Config
	db   *sql.DB
	http *http.Server
}

// New creates the HTTP server with its router built from cfg. The
// write timeout must outlive a full streamed AI response, so keep
// server.write_timeout above llm.request_timeout.
func New(db *sql.DB, cfg *config.Config) (*Server, error) {
	router, err := api.NewRouter(db, cfg)
	if err != nil {
		return nil, fmt.Errorf("server: build router: %w", err)
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Server{
		cfg:  cfg,
		db:   db,
		http: httpServer,
	}, nil
}

// Addr returns the address the server will listen on.
func (s *Server) Addr() string {
	return s.http.Addr
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	slog.Info("starting http server", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server and closes the database.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down server")

	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("database close error: %w", err)
	}

	slog.Info("server shutdown complete")
	return nil
}
