package models

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryStatus represents the per-recipient delivery state machine
type DeliveryStatus string

const (
	DeliveryNotSent    DeliveryStatus = "not_sent"
	DeliveryPending    DeliveryStatus = "pending"
	DeliverySent       DeliveryStatus = "sent"
	DeliveryDelivered  DeliveryStatus = "delivered"
	DeliveryOpened     DeliveryStatus = "opened"
	DeliveryClicked    DeliveryStatus = "clicked"
	DeliveryFailed     DeliveryStatus = "failed"
	DeliveryBounced    DeliveryStatus = "bounced"
	DeliveryComplained DeliveryStatus = "complained"
)

// Terminal reports whether no further forward transitions are legal.
func (s DeliveryStatus) Terminal() bool {
	return s == DeliveryFailed || s == DeliveryBounced || s == DeliveryComplained
}

// Succeeded reports whether the message reached the recipient. Relaunch
// must never resend to a recipient in one of these states.
func (s DeliveryStatus) Succeeded() bool {
	switch s {
	case DeliverySent, DeliveryDelivered, DeliveryOpened, DeliveryClicked:
		return true
	}
	return false
}

// DeliveryLog is the per-recipient record of one campaign send attempt.
// At most one non-superseded row exists per (campaign, recipient); the
// storage layer enforces this with a unique index, which is the
// system's idempotency backstop.
type DeliveryLog struct {
	ID          int64          `json:"id"`
	CampaignID  int64          `json:"campaign_id"`
	TenantID    uuid.UUID      `json:"tenant_id"`
	RecipientID int64          `json:"recipient_id"`
	TemplateID  int64          `json:"template_id"`
	Status      DeliveryStatus `json:"status"`
	MessageID   string         `json:"message_id,omitempty"`
	ErrorMsg    string         `json:"error_message,omitempty"`

	SentAt         *time.Time `json:"sent_at,omitempty"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
	OpenedAt       *time.Time `json:"opened_at,omitempty"`
	ClickedAt      *time.Time `json:"clicked_at,omitempty"`
	BouncedAt      *time.Time `json:"bounced_at,omitempty"`
	UnsubscribedAt *time.Time `json:"unsubscribed_at,omitempty"`
	ComplainedAt   *time.Time `json:"complained_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// NewPendingLog creates the pending log row that begins a send attempt.
// Inserting it is the idempotency checkpoint for the pair.
func NewPendingLog(campaignID int64, tenantID uuid.UUID, recipientID, templateID int64) *DeliveryLog {
	return &DeliveryLog{
		CampaignID:  campaignID,
		TenantID:    tenantID,
		RecipientID: recipientID,
		TemplateID:  templateID,
		Status:      DeliveryPending,
		CreatedAt:   time.Now(),
	}
}

// MarkSent records a successful provider handoff. Only legal from
// pending or not_sent.
func (l *DeliveryLog) MarkSent(messageID string) bool {
	if l.Status != DeliveryPending && l.Status != DeliveryNotSent {
		return false
	}
	now := time.Now()
	l.Status = DeliverySent
	l.MessageID = messageID
	l.ErrorMsg = ""
	l.SentAt = &now
	return true
}

// PrepareResend resets a failed or untouched log to pending so a new
// send attempt can run against the same row. Relaunches go through this
// instead of inserting a second log for the pair.
func (l *DeliveryLog) PrepareResend() bool {
	if l.Status != DeliveryFailed && l.Status != DeliveryNotSent {
		return false
	}
	l.Status = DeliveryPending
	l.ErrorMsg = ""
	return true
}

// MarkFailed records a terminal send failure with the error text.
func (l *DeliveryLog) MarkFailed(errMsg string) bool {
	if l.Status.Terminal() || l.Status.Succeeded() {
		return false
	}
	l.Status = DeliveryFailed
	l.ErrorMsg = errMsg
	return true
}

// MarkDelivered records a provider delivery confirmation.
func (l *DeliveryLog) MarkDelivered() bool {
	if l.Status != DeliverySent {
		return false
	}
	now := time.Now()
	l.Status = DeliveryDelivered
	l.DeliveredAt = &now
	return true
}

// MarkOpened records an open-pixel hit. Illegal from terminal states,
// before the message was actually handed to the provider, and a no-op
// once the log is already opened or clicked.
func (l *DeliveryLog) MarkOpened() bool {
	if l.Status != DeliverySent && l.Status != DeliveryDelivered {
		return false
	}
	now := time.Now()
	l.Status = DeliveryOpened
	l.OpenedAt = &now
	return true
}

// MarkClicked records a validated click. A click implies an open, so
// the opened timestamp is backfilled when the pixel was never hit.
func (l *DeliveryLog) MarkClicked() bool {
	switch l.Status {
	case DeliverySent, DeliveryDelivered, DeliveryOpened:
	default:
		return false
	}
	now := time.Now()
	if l.OpenedAt == nil {
		l.OpenedAt = &now
	}
	l.Status = DeliveryClicked
	l.ClickedAt = &now
	return true
}

// MarkBounced transitions to the terminal bounced state. Idempotent on
// replayed provider events.
func (l *DeliveryLog) MarkBounced() bool {
	if l.Status == DeliveryBounced {
		return false
	}
	now := time.Now()
	l.Status = DeliveryBounced
	l.BouncedAt = &now
	return true
}

// MarkComplained transitions to the terminal complained state.
func (l *DeliveryLog) MarkComplained() bool {
	if l.Status == DeliveryComplained {
		return false
	}
	now := time.Now()
	l.Status = DeliveryComplained
	l.ComplainedAt = &now
	return true
}

// MarkUnsubscribed stamps the unsubscribe time without changing the
// delivery state; unsubscribing is orthogonal to delivery progress.
func (l *DeliveryLog) MarkUnsubscribed() bool {
	if l.UnsubscribedAt != nil {
		return false
	}
	now := time.Now()
	l.UnsubscribedAt = &now
	return true
}

// DeliveryLogFilter for paging a campaign's delivery logs
type DeliveryLogFilter struct {
	Status DeliveryStatus
	Limit  int
	Offset int
}
