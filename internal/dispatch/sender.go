package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/halcyonmail/campaignd/internal/mailer"
	"github.com/halcyonmail/campaignd/internal/metrics"
	"github.com/halcyonmail/campaignd/internal/models"
	"github.com/halcyonmail/campaignd/internal/ratelimit"
	"github.com/halcyonmail/campaignd/internal/repository"
	"github.com/halcyonmail/campaignd/internal/retry"
)

// SenderConfig contains dispatch run settings
type SenderConfig struct {
	RatePerSecond float64
	Burst         int
	MaxRetries    int
	BatchSize     int
}

// Sender executes campaign dispatch runs. One ExecuteCampaign call is
// one run: it claims the campaign, walks the audience in pages, sends
// to each eligible recipient under rate limiting and retry, and always
// marks the campaign completed at the end.
type Sender struct {
	campaigns CampaignStore
	templates TemplateStore
	audience  AudienceStore
	logs      DeliveryLogStore
	builder   MessageBuilder
	mailer    mailer.Mailer
	metrics   *metrics.Metrics
	cfg       SenderConfig
	logger    *slog.Logger

	// newPolicy builds the per-run retry policy; swappable for tests.
	newPolicy func(logger *slog.Logger) *retry.Policy
}

// NewSender creates a campaign sender
func NewSender(campaigns CampaignStore, templates TemplateStore, audience AudienceStore, logs DeliveryLogStore,
	builder MessageBuilder, m mailer.Mailer, met *metrics.Metrics, cfg SenderConfig, logger *slog.Logger) *Sender {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	return &Sender{
		campaigns: campaigns,
		templates: templates,
		audience:  audience,
		logs:      logs,
		builder:   builder,
		mailer:    m,
		metrics:   met,
		cfg:       cfg,
		logger:    logger,
		newPolicy: func(logger *slog.Logger) *retry.Policy {
			return retry.New(cfg.MaxRetries, logger)
		},
	}
}

// ExecuteCampaign runs one dispatch pass over the campaign's audience.
// It never returns an error to the caller: launches are fire-and-forget
// and every outcome is reported through logs, metrics and the campaign
// row itself.
func (s *Sender) ExecuteCampaign(ctx context.Context, campaignID int64, relaunch bool) {
	logger := s.logger.With("campaign_id", campaignID, "relaunch", relaunch)

	ok, err := s.campaigns.TryStart(campaignID, relaunch)
	if err != nil {
		logger.Error("failed to claim campaign", "error", err)
		s.metrics.CampaignRunsTotal.WithLabelValues("aborted").Inc()
		return
	}
	if !ok {
		// Someone else claimed it, or the state does not allow this
		// launch mode. Not an error.
		logger.Warn("campaign not in a launchable state")
		s.metrics.CampaignRunsTotal.WithLabelValues("rejected").Inc()
		return
	}

	s.metrics.CampaignsActive.Inc()
	defer s.metrics.CampaignsActive.Dec()

	var sent int64
	// The campaign must leave the sending state no matter how the run
	// ends, otherwise it can never be relaunched.
	defer func() {
		if err := s.campaigns.Complete(campaignID, sent); err != nil {
			logger.Error("failed to complete campaign", "error", err)
		}
	}()

	campaign, err := s.campaigns.GetByID(campaignID)
	if err != nil {
		logger.Error("failed to load campaign", "error", err)
		s.metrics.CampaignRunsTotal.WithLabelValues("aborted").Inc()
		return
	}
	tpl, err := s.templates.GetByID(campaign.TemplateID)
	if err != nil {
		logger.Error("failed to load template", "template_id", campaign.TemplateID, "error", err)
		s.metrics.CampaignRunsTotal.WithLabelValues("aborted").Inc()
		return
	}

	total, err := s.audience.CountEligible(campaign.TenantID, campaign.Filter)
	if err != nil {
		logger.Error("failed to count audience", "error", err)
	} else if err := s.campaigns.SetTotalRecipients(campaignID, total); err != nil {
		logger.Error("failed to record audience size", "error", err)
	}

	logger.Info("campaign dispatch started", "total_recipients", total)

	limiter := ratelimit.New(s.cfg.RatePerSecond, s.cfg.Burst)
	policy := s.newPolicy(logger)

	var afterID int64
	for {
		batch, err := s.audience.Batch(campaign.TenantID, campaignID, campaign.Filter, afterID, s.cfg.BatchSize)
		if err != nil {
			logger.Error("failed to load audience batch", "error", err)
			s.metrics.CampaignRunsTotal.WithLabelValues("aborted").Inc()
			return
		}
		if len(batch) == 0 {
			break
		}

		for _, member := range batch {
			afterID = member.RecipientID

			if !member.Eligible() {
				s.metrics.SendsTotal.WithLabelValues("skipped").Inc()
				continue
			}
			if !member.ShouldSend(relaunch) {
				continue
			}

			if err := limiter.Acquire(ctx); err != nil {
				logger.Warn("dispatch run interrupted", "error", err, "sent", sent)
				s.metrics.CampaignRunsTotal.WithLabelValues("aborted").Inc()
				return
			}

			if s.processRecipient(ctx, campaign, tpl, member, relaunch, policy, logger) {
				sent++
			}
		}

		if len(batch) < s.cfg.BatchSize {
			break
		}
	}

	logger.Info("campaign dispatch finished", "sent", sent)
	s.metrics.CampaignRunsTotal.WithLabelValues("completed").Inc()
}

// processRecipient performs one send, creating the pending delivery log
// first. The log insert is the idempotency checkpoint: a duplicate
// means another run already claimed this recipient and is swallowed.
// Returns true when the message was handed to the provider.
func (s *Sender) processRecipient(ctx context.Context, campaign *models.Campaign, tpl *models.Template,
	member models.AudienceMember, relaunch bool, policy *retry.Policy, logger *slog.Logger) bool {

	log := models.NewPendingLog(campaign.ID, campaign.TenantID, member.RecipientID, tpl.ID)
	err := s.logs.Create(log)
	if errors.Is(err, repository.ErrDuplicateLog) {
		if !relaunch {
			logger.Warn("delivery log already exists, skipping", "recipient_id", member.RecipientID)
			s.metrics.SendsTotal.WithLabelValues("duplicate").Inc()
			return false
		}
		// Relaunch reuses the existing row: the pair index allows only
		// one log, and only failed or untouched logs may be resent.
		log, err = s.logs.GetByPair(campaign.ID, member.RecipientID)
		if err != nil {
			logger.Error("failed to load existing delivery log", "recipient_id", member.RecipientID, "error", err)
			s.metrics.SendsTotal.WithLabelValues("failed").Inc()
			return false
		}
		if !log.PrepareResend() {
			s.metrics.SendsTotal.WithLabelValues("duplicate").Inc()
			return false
		}
	} else if err != nil {
		logger.Error("failed to create delivery log", "recipient_id", member.RecipientID, "error", err)
		s.metrics.SendsTotal.WithLabelValues("failed").Inc()
		return false
	}

	delivered := policy.Execute(ctx, func() error {
		log.PrepareResend() // no-op unless a prior attempt failed

		msg := s.builder.BuildMessage(tpl, member, log.ID)

		start := time.Now()
		messageID, sendErr := s.mailer.Send(ctx, msg)
		s.metrics.SendDuration.Observe(time.Since(start).Seconds())

		if sendErr != nil {
			log.MarkFailed(sendErr.Error())
			if saveErr := s.logs.Save(log); saveErr != nil {
				logger.Error("failed to save delivery log", "log_id", log.ID, "error", saveErr)
			}
			return sendErr
		}

		log.MarkSent(messageID)
		if saveErr := s.logs.Save(log); saveErr != nil {
			// The message is already with the provider; retrying the
			// attempt would double-send, so a persistence failure here
			// is terminal for this recipient.
			logger.Error("failed to save delivery log after send", "log_id", log.ID, "error", saveErr)
		}
		return nil
	}, member.Email)

	if !delivered {
		s.metrics.SendsTotal.WithLabelValues("failed").Inc()
		return false
	}
	s.metrics.SendsTotal.WithLabelValues("sent").Inc()
	return true
}

// SendTest renders and sends a single test message for a template,
// bypassing delivery logs and tracking entirely.
func (s *Sender) SendTest(ctx context.Context, templateID int64, testEmail string) error {
	tpl, err := s.templates.GetByID(templateID)
	if err != nil {
		return err
	}
	msg := s.builder.BuildTestMessage(tpl, testEmail)
	if _, err := s.mailer.Send(ctx, msg); err != nil {
		return err
	}
	s.logger.Info("test message sent", "template_id", templateID, "to", testEmail)
	return nil
}
