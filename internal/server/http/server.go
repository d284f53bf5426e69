// Package httpserver provides the HTTP REST API for the molecule discovery
// service: research runs, molecules, paper summaries, and chat.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ruminex/molecule-discovery-service/internal/database"
	"github.com/ruminex/molecule-discovery-service/internal/domain"
	"github.com/ruminex/molecule-discovery-service/internal/rag"
	"github.com/ruminex/molecule-discovery-service/internal/repository"
)

// RunService starts and retries research runs. Implemented by
// research.Service.
type RunService interface {
	StartRun(ctx context.Context, query string) (*domain.ResearchRun, error)
	RetryRun(ctx context.Context, id uuid.UUID) (*domain.ResearchRun, error)
}

// ChatService answers questions grounded in stored papers and molecules.
// Implemented by rag.Service.
type ChatService interface {
	Chat(ctx context.Context, question string, history []rag.ChatMessage) (*rag.ChatAnswer, error)
}

// Server is the HTTP REST API server.
type Server struct {
	router      chi.Router
	httpServer  *http.Server
	runService  RunService
	chatService ChatService
	runRepo     repository.RunRepository
	molRepo     repository.MoleculeRepository
	summaryRepo repository.SummaryRepository
	db          *database.DB
	logger      zerolog.Logger
}

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// NewServer creates a new HTTP server with all dependencies. chatService may
// be nil when the chat feature is disabled; the endpoint then returns 503.
func NewServer(
	cfg Config,
	runService RunService,
	chatService ChatService,
	runRepo repository.RunRepository,
	molRepo repository.MoleculeRepository,
	summaryRepo repository.SummaryRepository,
	db *database.DB,
	logger zerolog.Logger,
) *Server {
	s := &Server{
		runService:  runService,
		chatService: chatService,
		runRepo:     runRepo,
		molRepo:     molRepo,
		summaryRepo: summaryRepo,
		db:          db,
		logger:      logger.With().Str("component", "http-server").Logger(),
	}

	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(correlationIDMiddleware)
	r.Use(jsonContentTypeMiddleware)

	// Health endpoints. Metrics are served on their own port.
	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/research-runs", s.startResearchRun)
		r.Get("/research-runs", s.listResearchRuns)
		r.Get("/research-runs/{runID}", s.getResearchRun)
		r.Post("/research-runs/{runID}/retry", s.retryResearchRun)
		r.Get("/research-runs/{runID}/molecules", s.listRunMolecules)
		r.Get("/research-runs/{runID}/summaries", s.listRunSummaries)

		r.Get("/molecules", s.listMolecules)
		r.Get("/molecules/{moleculeID}", s.getMolecule)
		r.Patch("/molecules/{moleculeID}", s.updateMolecule)
		r.Delete("/molecules/{moleculeID}", s.deleteMolecule)
		r.Get("/molecules/{moleculeID}/papers", s.listMoleculePapers)

		r.Get("/paper-summaries", s.listPaperSummaries)
		r.Get("/paper-summaries/{summaryID}", s.getPaperSummary)

		r.Post("/chat", s.chat)
	})

	return r
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// healthHandler returns basic liveness status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	health := s.db.Health(r.Context())
	if health.Status == "healthy" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": health.Status})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{
		"status":   "unhealthy",
		"database": health.Status,
		"error":    health.Error,
	})
}

// readinessHandler returns readiness status.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	health := s.db.Health(r.Context())
	if health.Status != "healthy" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "not_ready",
			"database": health.Status,
			"error":    health.Error,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ready",
		"database": "healthy",
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Best-effort; headers already sent.
		_ = err
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
