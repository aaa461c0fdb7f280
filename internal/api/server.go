package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/halcyonmail/campaignd/internal/config"
	"github.com/halcyonmail/campaignd/internal/dispatch"
	"github.com/halcyonmail/campaignd/internal/metrics"
	"github.com/halcyonmail/campaignd/internal/repository"
	"github.com/halcyonmail/campaignd/internal/tracking"
	"github.com/halcyonmail/campaignd/internal/webhook"
)

// Server is the HTTP server carrying both the admin API and the public
// tracking surface.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	config     *config.Config

	campaigns  *repository.CampaignRepository
	templates  *repository.TemplateRepository
	recipients *repository.RecipientRepository
	audience   *repository.AudienceRepository
	logs       *repository.DeliveryLogRepository

	launcher  *dispatch.Launcher
	sender    *dispatch.Sender
	processor *webhook.Processor
	signer    *tracking.Signer
	metrics   *metrics.Metrics
	logger    *slog.Logger
	startTime time.Time
}

// NewServer creates the HTTP server
func NewServer(cfg *config.Config, campaigns *repository.CampaignRepository, templates *repository.TemplateRepository,
	recipients *repository.RecipientRepository, audience *repository.AudienceRepository, logs *repository.DeliveryLogRepository,
	launcher *dispatch.Launcher, sender *dispatch.Sender, processor *webhook.Processor, signer *tracking.Signer,
	met *metrics.Metrics, logger *slog.Logger) *Server {

	s := &Server{
		router:     chi.NewRouter(),
		config:     cfg,
		campaigns:  campaigns,
		templates:  templates,
		recipients: recipients,
		audience:   audience,
		logs:       logs,
		launcher:   launcher,
		sender:     sender,
		processor:  processor,
		signer:     signer,
		metrics:    met,
		logger:     logger,
		startTime:  time.Now(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.metrics.HTTPMiddleware)
	s.router.Use(middleware.Recoverer)

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	if s.config.Metrics.Enabled {
		s.router.Method(http.MethodGet, s.config.Metrics.Path, s.metrics.Handler())
	}

	// Public surface: recipients and mail providers hit these.
	s.router.Get("/track/open/{logID}/pixel.gif", s.handleOpenPixel)
	s.router.Get("/track/click/{logID}", s.handleClick)
	s.router.Post("/webhook/ses", s.handleWebhook)
	s.router.Get("/preferences", s.handlePreferencesPage)
	s.router.Post("/preferences", s.handleUnsubscribe)

	// Admin API (auth required)
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/campaigns", s.handleCreateCampaign)
		r.Get("/campaigns", s.handleListCampaigns)
		r.Get("/campaigns/{id}", s.handleGetCampaign)
		r.Put("/campaigns/{id}", s.handleUpdateCampaign)
		r.Post("/campaigns/{id}/schedule", s.handleScheduleCampaign)
		r.Post("/campaigns/{id}/cancel", s.handleCancelCampaign)
		r.Post("/campaigns/{id}/launch", s.handleLaunchCampaign)
		r.Post("/campaigns/{id}/relaunch", s.handleRelaunchCampaign)
		r.Get("/campaigns/{id}/audience", s.handleAudiencePreview)
		r.Get("/campaigns/{id}/logs", s.handleCampaignLogs)

		r.Post("/templates", s.handleCreateTemplate)
		r.Get("/templates", s.handleListTemplates)
		r.Get("/templates/{id}", s.handleGetTemplate)
		r.Delete("/templates/{id}", s.handleDeleteTemplate)
		r.Post("/templates/{id}/test", s.handleTestTemplate)
	})
}

// Router returns the configured router, for tests
func (s *Server) Router() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:         s.config.Server.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}

	s.logger.Info("starting HTTP server", "addr", s.config.Server.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
