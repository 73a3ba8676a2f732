// Package server provides the HTTP API for kakunin.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/kakunin/internal/config"
	"github.com/hyperjump/kakunin/internal/corpus"
	"github.com/hyperjump/kakunin/internal/feedback"
	"github.com/hyperjump/kakunin/internal/indexer"
	"github.com/hyperjump/kakunin/internal/pipeline"
	"github.com/hyperjump/kakunin/internal/prompt"
	"github.com/hyperjump/kakunin/internal/review"
	"github.com/hyperjump/kakunin/internal/storage"
	"github.com/hyperjump/kakunin/internal/telemetry"
	"go.uber.org/zap"
)

// Deps are the services the API routes to. Recorder and Feedback may be nil.
type Deps struct {
	Analyzer *pipeline.Analyzer
	Reviews  *review.Orchestrator
	Library  *corpus.Library
	Indexer  *indexer.Indexer
	Prompts  *prompt.Registry
	Feedback *feedback.Loop
	Recorder *telemetry.Recorder
	Store    storage.Store
}

// Server is the HTTP server for the kakunin API.
type Server struct {
	deps   Deps
	config *config.Config
	logger *zap.Logger
	server *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(deps Deps, cfg *config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		deps:   deps,
		config: cfg,
		logger: logger,
	}
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if s.config.Server.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.config.Server.RequestTimeout))
	}
	r.Use(middleware.Compress(5))

	r.Post("/analyze", s.handleAnalyze)
	r.Get("/review/{case_id}", s.handleGetCase)
	r.Post("/review/{case_id}/claim", s.handleClaim)
	r.Post("/review/{case_id}/decision", s.handleDecision)

	r.Get("/health", s.handleHealth)
	if s.deps.Recorder != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Recorder.Handler())
	}
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/feedback/flags", s.handleFeedbackFlags)
		r.Post("/documents", s.handleIndexDocument)
		r.Get("/documents/{id}", s.handleGetDocument)
		r.Delete("/documents/{id}", s.handleDeleteDocument)
		r.Get("/prompts", s.handleListPrompts)
		r.Post("/prompts/{template_id}/versions", s.handleRegisterPrompt)
		r.Post("/prompts/{template_id}/promote", s.handlePromotePrompt)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
