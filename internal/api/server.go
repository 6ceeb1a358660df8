// Package api exposes the internal HTTP surface: a classify endpoint for
// the ingest collaborator and one runner endpoint per batch stage. All /api
// routes are authenticated with a shared internal secret.
package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/leadpilot/leadpilot/internal/classifier"
	"github.com/leadpilot/leadpilot/internal/config"
	"github.com/leadpilot/leadpilot/internal/followup"
	"github.com/leadpilot/leadpilot/internal/pipeline"
	"github.com/leadpilot/leadpilot/internal/sender"
	"github.com/leadpilot/leadpilot/internal/store"
)

// Server wraps the HTTP server and its wired components.
type Server struct {
	config  config.ServerConfig
	handler http.Handler
	server  *http.Server
}

// Deps carries everything the handlers need. Dispatcher may be nil when
// outbound sending is disabled.
type Deps struct {
	Store      *store.Store
	DB         *sql.DB
	Redis      *redis.Client
	Classifier *classifier.Classifier
	Drafts     *pipeline.DraftGenerator
	QA         *pipeline.QAEvaluator
	Rewrite    *pipeline.RewriteEngine
	Followups  *followup.Scheduler
	Dispatcher *sender.Dispatcher
}

// NewServer wires the handlers and routes.
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	h := NewHandlers(cfg, deps)
	return &Server{
		config:  cfg,
		handler: SetupRoutes(h, cfg.InternalSecret),
	}
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		// Runner endpoints process whole batches synchronously.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.handler
}
