package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/halcyonmail/campaignd/internal/api"
	"github.com/halcyonmail/campaignd/internal/config"
	"github.com/halcyonmail/campaignd/internal/content"
	"github.com/halcyonmail/campaignd/internal/dispatch"
	"github.com/halcyonmail/campaignd/internal/events"
	"github.com/halcyonmail/campaignd/internal/mailer"
	"github.com/halcyonmail/campaignd/internal/metrics"
	"github.com/halcyonmail/campaignd/internal/repository"
	"github.com/halcyonmail/campaignd/internal/tracking"
	"github.com/halcyonmail/campaignd/internal/webhook"
)

// App is the main application
type App struct {
	config    *config.Config
	store     *repository.Store
	events    *events.Store
	apiServer *api.Server
	launcher  *dispatch.Launcher
	scheduler *dispatch.Scheduler
	logger    *slog.Logger
}

// New creates a new application
func New(cfg *config.Config) (*App, error) {
	logger := setupLogger(cfg.Logging)

	store, err := repository.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	eventStore, err := events.NewStore(cfg.Storage.EventsPath)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to open event store: %w", err)
	}

	campaigns := repository.NewCampaignRepository(store)
	templates := repository.NewTemplateRepository(store)
	recipients := repository.NewRecipientRepository(store)
	audience := repository.NewAudienceRepository(store)
	logs := repository.NewDeliveryLogRepository(store)
	locks := repository.NewLockRepository(store)

	signer := tracking.NewSigner(tracking.Config{
		PublicBaseURL:  cfg.Tracking.PublicBaseURL,
		Secret:         cfg.Tracking.HMACSecret,
		LinkExpiration: cfg.Tracking.LinkExpiration,
		AllowedDomains: cfg.Tracking.AllowedRedirectDomains,
	})
	builder := content.NewBuilder(content.SimpleEngine{}, signer)

	m, err := buildMailer(cfg, logger)
	if err != nil {
		eventStore.Close()
		store.Close()
		return nil, err
	}

	met := metrics.New()

	sender := dispatch.NewSender(campaigns, templates, audience, logs, builder, m, met,
		dispatch.SenderConfig{
			RatePerSecond: cfg.Dispatch.RatePerSecond,
			Burst:         cfg.Dispatch.Burst,
			MaxRetries:    cfg.Dispatch.MaxRetries,
			BatchSize:     cfg.Dispatch.BatchSize,
		},
		logger.With("component", "sender"),
	)

	launcher := dispatch.NewLauncher(sender, dispatch.LauncherConfig{
		Workers:   cfg.Dispatch.Workers,
		QueueSize: cfg.Dispatch.QueueSize,
	}, logger.With("component", "launcher"))

	var scheduler *dispatch.Scheduler
	if cfg.Scheduler.Enabled {
		scheduler = dispatch.NewScheduler(campaigns, locks, launcher, met,
			dispatch.SchedulerConfig{
				Interval: cfg.Scheduler.Interval,
				LockTTL:  cfg.Scheduler.LockTTL,
			},
			logger.With("component", "scheduler"),
		)
	}

	processor := webhook.NewProcessor(logs, campaigns, recipients, eventStore, met,
		logger.With("component", "webhook"))

	apiServer := api.NewServer(cfg, campaigns, templates, recipients, audience, logs,
		launcher, sender, processor, signer, met, logger.With("component", "api"))

	return &App{
		config:    cfg,
		store:     store,
		events:    eventStore,
		apiServer: apiServer,
		launcher:  launcher,
		scheduler: scheduler,
		logger:    logger,
	}, nil
}

// buildMailer picks the outbound transport: a logging stub in dev mode,
// otherwise SMTP submission with optional DKIM signing.
func buildMailer(cfg *config.Config, logger *slog.Logger) (mailer.Mailer, error) {
	if cfg.SMTP.DevMode {
		logger.Info("dev mode: outbound mail is logged, not submitted")
		return mailer.NewDevMailer(logger.With("component", "mailer")), nil
	}

	var signer *mailer.DKIMSigner
	if cfg.DKIM.Enabled {
		var err error
		signer, err = mailer.NewDKIMSigner(cfg.DKIM.KeyFile, cfg.DKIM.Domain, cfg.DKIM.Selector)
		if err != nil {
			return nil, fmt.Errorf("failed to setup DKIM signing: %w", err)
		}
		logger.Info("DKIM signing enabled", "domain", cfg.DKIM.Domain, "selector", cfg.DKIM.Selector)
	}

	return mailer.NewSMTPMailer(cfg.SMTP, signer, logger.With("component", "mailer")), nil
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting campaignd",
		"listen_addr", a.config.Server.ListenAddr,
		"db_path", a.config.Storage.DBPath,
		"scheduler", a.config.Scheduler.Enabled,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a.launcher.Start(ctx)
	if a.scheduler != nil {
		a.scheduler.Start(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		cancel()
	}

	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop intake first, then drain in-flight campaign runs.
	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	if a.scheduler != nil {
		a.scheduler.Stop()
	}

	drain := a.config.Dispatch.DrainTimeout
	if drain <= 0 {
		drain = 30 * time.Second
	}
	a.launcher.Stop(drain)

	if err := a.events.Close(); err != nil {
		a.logger.Error("event store close error", "error", err)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("database close error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
