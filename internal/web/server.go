// Package web serves a read-only JSON status surface beside the trading core.
package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/itaek/kw-trader/internal/config"
	"github.com/itaek/kw-trader/internal/logger"
	"github.com/itaek/kw-trader/internal/orchestrator"
	"github.com/itaek/kw-trader/internal/storage"
)

// StatusProvider is what the orchestrator exposes to the status surface.
type StatusProvider interface {
	GetSystemStatus() orchestrator.Status
}

type Server struct {
	httpServer *http.Server
	status     StatusProvider
	repo       *storage.Repository
	config     *config.Config
	logger     *logger.Logger
}

func NewServer(status StatusProvider, repo *storage.Repository, cfg *config.Config, log *logger.Logger) *Server {
	s := &Server{
		status: status,
		repo:   repo,
		config: cfg,
		logger: log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/trades", s.handleTrades)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Web.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

func (s *Server) Start() error {
	s.logger.Info("web server starting", "port", s.config.Web.Port)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("web server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
