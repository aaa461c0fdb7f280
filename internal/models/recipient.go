package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// MarketingStatus represents a recipient's marketing eligibility
type MarketingStatus string

const (
	MarketingSubscribed   MarketingStatus = "subscribed"
	MarketingUnsubscribed MarketingStatus = "unsubscribed"
	MarketingSnoozed      MarketingStatus = "snoozed"
	MarketingBlocked      MarketingStatus = "blocked"
	MarketingBounced      MarketingStatus = "bounced"
	MarketingComplained   MarketingStatus = "complained"
)

// ParseMarketingStatus maps a raw value onto a known status, falling
// back to the default for unknown input.
func ParseMarketingStatus(raw string, def MarketingStatus) MarketingStatus {
	switch MarketingStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case MarketingSubscribed:
		return MarketingSubscribed
	case MarketingUnsubscribed:
		return MarketingUnsubscribed
	case MarketingSnoozed:
		return MarketingSnoozed
	case MarketingBlocked:
		return MarketingBlocked
	case MarketingBounced:
		return MarketingBounced
	case MarketingComplained:
		return MarketingComplained
	}
	return def
}

// Recipient is a customer record as seen by the dispatch subsystem
type Recipient struct {
	ID               int64           `json:"id"`
	TenantID         uuid.UUID       `json:"tenant_id"`
	Email            string          `json:"email"`
	Name             string          `json:"name"`
	Tags             []string        `json:"tags,omitempty"`
	TotalSpend       float64         `json:"total_spend"`
	CustomerType     string          `json:"customer_type,omitempty"`
	MarketingStatus  MarketingStatus `json:"marketing_status"`
	MarketingConsent bool            `json:"marketing_consent"`
	UnsubscribeToken string          `json:"-"`
	CreatedAt        time.Time       `json:"created_at"`
}

// AudienceMember is one row of a campaign's resolved audience: the
// recipient joined with the last delivery state for this campaign.
type AudienceMember struct {
	RecipientID      int64           `json:"recipient_id"`
	Email            string          `json:"email"`
	Name             string          `json:"name"`
	UnsubscribeToken string          `json:"-"`
	MarketingStatus  MarketingStatus `json:"marketing_status"`
	Consent          bool            `json:"marketing_consent"`
	SendStatus       DeliveryStatus  `json:"send_status"`
}

// Eligible reports whether the member may be emailed at all.
func (m AudienceMember) Eligible() bool {
	return m.MarketingStatus == MarketingSubscribed && m.Consent
}

// ShouldSend applies the launch-mode rule: a first launch only sends
// where no attempt was made, a relaunch also picks up failures but must
// never resend anything that already went out.
func (m AudienceMember) ShouldSend(relaunch bool) bool {
	if relaunch {
		return m.SendStatus == DeliveryNotSent || m.SendStatus == DeliveryFailed
	}
	return m.SendStatus == "" || m.SendStatus == DeliveryNotSent
}
