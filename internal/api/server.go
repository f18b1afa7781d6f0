// Package api exposes the operator HTTP surface under /api/v1: system
// and event management, grouped dashboard scores, findings lifecycle
// actions, runtime settings, maintenance and backup controls.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/logwarden/logwarden/internal/audit"
	"github.com/logwarden/logwarden/internal/config"
	"github.com/logwarden/logwarden/internal/maintenance"
	"github.com/logwarden/logwarden/internal/metrics"
	"github.com/logwarden/logwarden/internal/pipeline"
	"github.com/logwarden/logwarden/internal/store"
	"github.com/logwarden/logwarden/internal/suppress"
	"github.com/logwarden/logwarden/internal/template"
)

// Server is the /api/v1 HTTP server.
type Server struct {
	cfg         *config.Config
	store       *store.Store
	resolver    *config.Resolver
	pipeline    *pipeline.Pipeline
	templates   *template.Manager
	suppressor  *suppress.Suppressor
	maintenance *maintenance.Runner
	audit       *audit.Logger
	metrics     *metrics.Metrics
	logger      *zap.Logger

	httpServer *http.Server
}

// NewServer wires the API server. Call Start to listen.
func NewServer(
	cfg *config.Config,
	st *store.Store,
	resolver *config.Resolver,
	pl *pipeline.Pipeline,
	templates *template.Manager,
	suppressor *suppress.Suppressor,
	maint *maintenance.Runner,
	auditLog *audit.Logger,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Server {
	s := &Server{
		cfg:         cfg,
		store:       st,
		resolver:    resolver,
		pipeline:    pl,
		templates:   templates,
		suppressor:  suppressor,
		maintenance: maint,
		audit:       auditLog,
		metrics:     m,
		logger:      logger.Named("api"),
	}
	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.Router(),
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second, // backup downloads stream through this
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authenticate)

		// Dashboard reads
		r.Get("/scores/systems", s.handleSystemScores)
		r.Get("/systems/{id}/event-scores/grouped", s.handleGroupedScores)
		r.Get("/systems/{id}/event-scores/grouped/{groupKey}/events", s.handleGroupEvents)
		r.Get("/windows/{id}/meta", s.handleWindowMeta)

		// Systems
		r.Get("/systems", s.handleListSystems)
		r.Post("/systems", s.handleCreateSystem)
		r.Get("/systems/{id}", s.handleGetSystem)
		r.Put("/systems/{id}", s.handleUpdateSystem)
		r.Delete("/systems/{id}", s.handleDeleteSystem)

		// Events
		r.Post("/systems/{id}/events", s.handleIngestEvents)
		r.Get("/systems/{id}/events", s.handleListEvents)
		r.Get("/systems/{id}/events/search", s.handleSearchEvents)
		r.Post("/systems/{id}/events/acknowledge", s.handleAcknowledgeEvents)
		r.Post("/events/bulk-delete", s.handleBulkDelete)

		// Findings
		r.Get("/systems/{id}/findings", s.handleListFindings)
		r.Get("/findings/{id}", s.handleGetFinding)
		r.Post("/findings/{id}/acknowledge", s.handleAcknowledgeFinding)
		r.Post("/findings/{id}/reopen", s.handleReopenFinding)

		// Normal-behavior templates
		r.Get("/systems/{id}/normal-templates", s.handleListNormalTemplates)
		r.Post("/systems/{id}/normal-templates", s.handleCreateNormalTemplate)
		r.Put("/normal-templates/{id}/enabled", s.handleSetNormalTemplateEnabled)
		r.Delete("/normal-templates/{id}", s.handleDeleteNormalTemplate)

		// Re-evaluation jobs
		r.Post("/systems/{id}/re-evaluate", s.handleStartReEvaluate)
		r.Get("/systems/{id}/re-evaluate/{jobID}", s.handleGetReEvaluate)

		// Runtime settings
		s.mountSettings(r)

		// Maintenance and backups
		r.Post("/maintenance/run", s.handleMaintenanceRun)
		r.Get("/maintenance/logs", s.handleMaintenanceLogs)
		r.Post("/maintenance/backup/run", s.handleBackupRun)
		r.Get("/maintenance/backup/files", s.handleBackupList)
		r.Get("/maintenance/backup/files/{name}", s.handleBackupDownload)
		r.Delete("/maintenance/backup/files/{name}", s.handleBackupDelete)

		// Operations
		r.Post("/cache/flush", s.handleCacheFlush)
		r.Get("/usage/llm", s.handleUsage)
		r.Get("/audit", s.handleAuditRecent)
		r.Get("/stats", s.handleStats)
	})

	return r
}

// Start serves until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("Starting API server", zap.String("addr", s.cfg.ListenAddr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
