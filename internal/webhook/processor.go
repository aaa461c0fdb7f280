package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/halcyonmail/campaignd/internal/metrics"
	"github.com/halcyonmail/campaignd/internal/models"
	"github.com/halcyonmail/campaignd/internal/repository"
)

// DeliveryLogStore is the delivery log access the processor needs.
type DeliveryLogStore interface {
	GetByMessageID(messageID string) (*models.DeliveryLog, error)
	Save(l *models.DeliveryLog) error
}

// CampaignStore increments campaign engagement counters.
type CampaignStore interface {
	IncrementMetric(id int64, metric models.CampaignMetric) error
}

// RecipientStore updates recipient marketing status on hard feedback.
type RecipientStore interface {
	SetMarketingStatus(id int64, status models.MarketingStatus) error
}

// EventStore appends raw provider events for forensic replay.
type EventStore interface {
	Append(event *models.DeliveryEvent) error
}

// snsEnvelope is the Amazon SNS wrapper SES notifications arrive in.
// Events may also be posted bare, without the envelope.
type snsEnvelope struct {
	Type         string `json:"Type"`
	Message      string `json:"Message"`
	SubscribeURL string `json:"SubscribeURL"`
}

// sesEvent is the SES notification payload. Field names vary between
// the classic notification format and the event publishing format, so
// both are read.
type sesEvent struct {
	NotificationType string `json:"notificationType"`
	EventType        string `json:"eventType"`
	MessageID        string `json:"messageId"`
	Mail             struct {
		MessageID   string   `json:"messageId"`
		Destination []string `json:"destination"`
	} `json:"mail"`
	Bounce struct {
		BounceType    string `json:"bounceType"`
		BounceSubType string `json:"bounceSubType"`
	} `json:"bounce"`
}

func (e *sesEvent) eventType() string {
	if e.NotificationType != "" {
		return e.NotificationType
	}
	return e.EventType
}

func (e *sesEvent) messageID() string {
	if e.Mail.MessageID != "" {
		return e.Mail.MessageID
	}
	return e.MessageID
}

func (e *sesEvent) recipient() string {
	if len(e.Mail.Destination) > 0 {
		return e.Mail.Destination[0]
	}
	return ""
}

// Processor handles SES delivery notifications: it records every raw
// event, then applies the event to the matching delivery log, campaign
// counters and recipient status. Replayed events are absorbed by the
// log's state guards.
type Processor struct {
	logs       DeliveryLogStore
	campaigns  CampaignStore
	recipients RecipientStore
	events     EventStore
	metrics    *metrics.Metrics
	client     *http.Client
	logger     *slog.Logger
}

// NewProcessor creates a webhook processor
func NewProcessor(logs DeliveryLogStore, campaigns CampaignStore, recipients RecipientStore,
	events EventStore, met *metrics.Metrics, logger *slog.Logger) *Processor {
	return &Processor{
		logs:       logs,
		campaigns:  campaigns,
		recipients: recipients,
		events:     events,
		metrics:    met,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// Process handles one webhook POST body. Errors are returned only for
// malformed input; events that reference unknown messages are logged
// and dropped, so the provider does not keep redelivering them.
func (p *Processor) Process(ctx context.Context, body []byte) error {
	payload := body

	var envelope snsEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("invalid webhook payload: %w", err)
	}

	switch envelope.Type {
	case "SubscriptionConfirmation":
		return p.confirmSubscription(ctx, envelope.SubscribeURL)
	case "Notification":
		payload = []byte(envelope.Message)
	}

	var event sesEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("invalid notification payload: %w", err)
	}

	eventType := strings.ToLower(event.eventType())
	messageID := event.messageID()

	// The raw event is kept no matter what happens below.
	record := &models.DeliveryEvent{
		ID:            uuid.NewString(),
		MessageID:     messageID,
		Email:         event.recipient(),
		EventType:     eventType,
		BounceType:    event.Bounce.BounceType,
		BounceSubtype: event.Bounce.BounceSubType,
		RawPayload:    string(payload),
		CreatedAt:     time.Now(),
	}
	if err := p.events.Append(record); err != nil {
		p.logger.Error("failed to record delivery event", "error", err)
	}

	if messageID == "" {
		p.logger.Warn("delivery event without message id", "event_type", eventType)
		return nil
	}

	log, err := p.logs.GetByMessageID(messageID)
	if errors.Is(err, repository.ErrNotFound) {
		// Not one of ours: other senders can share the SES identity.
		p.logger.Info("delivery event for unknown message", "message_id", messageID, "event_type", eventType)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load delivery log: %w", err)
	}

	logger := p.logger.With("message_id", messageID, "log_id", log.ID, "campaign_id", log.CampaignID)

	switch eventType {
	case "delivery":
		p.apply(logger, log, log.MarkDelivered(), models.MetricDelivered, "delivery")
	case "bounce":
		if p.apply(logger, log, log.MarkBounced(), models.MetricBounced, "bounce") {
			p.setRecipientStatus(logger, log.RecipientID, models.MarketingBounced)
		}
	case "complaint":
		if p.apply(logger, log, log.MarkComplained(), models.MetricComplained, "complaint") {
			p.setRecipientStatus(logger, log.RecipientID, models.MarketingComplained)
		}
	default:
		logger.Debug("ignoring delivery event", "event_type", eventType)
	}

	return nil
}

// apply saves a guarded log transition and bumps counters when the
// transition actually happened. Returns whether it did.
func (p *Processor) apply(logger *slog.Logger, log *models.DeliveryLog, changed bool, metric models.CampaignMetric, event string) bool {
	if !changed {
		logger.Debug("delivery event replay ignored", "event_type", event, "status", log.Status)
		return false
	}
	if err := p.logs.Save(log); err != nil {
		logger.Error("failed to save delivery log", "error", err)
		return false
	}
	if err := p.campaigns.IncrementMetric(log.CampaignID, metric); err != nil {
		logger.Error("failed to increment campaign metric", "metric", metric, "error", err)
	}
	p.metrics.EventsTotal.WithLabelValues(event).Inc()
	return true
}

func (p *Processor) setRecipientStatus(logger *slog.Logger, recipientID int64, status models.MarketingStatus) {
	if err := p.recipients.SetMarketingStatus(recipientID, status); err != nil {
		logger.Error("failed to update recipient status", "recipient_id", recipientID, "status", status, "error", err)
	}
}

// confirmSubscription completes the SNS topic handshake by fetching the
// confirmation URL.
func (p *Processor) confirmSubscription(ctx context.Context, subscribeURL string) error {
	if subscribeURL == "" {
		return fmt.Errorf("subscription confirmation without SubscribeURL")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, subscribeURL, nil)
	if err != nil {
		return fmt.Errorf("invalid SubscribeURL: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to confirm subscription: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("subscription confirmation returned %d", resp.StatusCode)
	}
	p.logger.Info("confirmed sns subscription")
	return nil
}
