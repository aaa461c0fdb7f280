package models

import (
	"time"

	"github.com/google/uuid"
)

// CampaignStatus represents the lifecycle state of a campaign
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignSending   CampaignStatus = "sending"
	CampaignCompleted CampaignStatus = "completed"
	CampaignCancelled CampaignStatus = "cancelled"
)

// Campaign represents a bulk email campaign targeting a filtered audience
type Campaign struct {
	ID         int64          `json:"id"`
	TenantID   uuid.UUID      `json:"tenant_id"`
	Name       string         `json:"name"`
	TemplateID int64          `json:"template_id"`
	Filter     AudienceFilter `json:"audience_filter"`
	Status     CampaignStatus `json:"status"`

	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Counters are monotonically increasing; mutations happen through
	// atomic repository updates, never read-modify-write in memory.
	TotalRecipients int64 `json:"total_recipients"`
	Sent            int64 `json:"sent"`
	Delivered       int64 `json:"delivered"`
	Opened          int64 `json:"opened"`
	Clicked         int64 `json:"clicked"`
	Bounced         int64 `json:"bounced"`
	Complained      int64 `json:"complained"`
	Unsubscribed    int64 `json:"unsubscribed"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewDraftCampaign creates a campaign in the draft state
func NewDraftCampaign(tenantID uuid.UUID, name string, templateID int64, filter AudienceFilter) *Campaign {
	now := time.Now()
	return &Campaign{
		TenantID:   tenantID,
		Name:       name,
		TemplateID: templateID,
		Filter:     filter,
		Status:     CampaignDraft,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// CanUpdateDraft reports whether drafting mutations (name, template,
// filter) are still allowed.
func (c *Campaign) CanUpdateDraft() bool {
	return c.Status == CampaignDraft
}

// CanSchedule reports whether the campaign may be (re)scheduled.
func (c *Campaign) CanSchedule() bool {
	return c.Status == CampaignDraft || c.Status == CampaignScheduled
}

// CanCancel reports whether the campaign may be cancelled. A sending
// campaign cannot be stopped mid-run; it must complete.
func (c *Campaign) CanCancel() bool {
	return c.Status == CampaignDraft || c.Status == CampaignScheduled
}

// StartStatuses returns the set of states a campaign may transition to
// sending from, for the requested launch mode. The repository uses this
// set in a single conditional update, which is the concurrency gate
// preventing two launches of the same campaign.
func StartStatuses(relaunch bool) []CampaignStatus {
	if relaunch {
		return []CampaignStatus{CampaignCompleted, CampaignSending}
	}
	return []CampaignStatus{CampaignDraft, CampaignScheduled}
}

// CampaignMetric names a campaign counter that can be incremented
// atomically by name.
type CampaignMetric string

const (
	MetricSent         CampaignMetric = "sent"
	MetricDelivered    CampaignMetric = "delivered"
	MetricOpened       CampaignMetric = "opened"
	MetricClicked      CampaignMetric = "clicked"
	MetricBounced      CampaignMetric = "bounced"
	MetricComplained   CampaignMetric = "complained"
	MetricUnsubscribed CampaignMetric = "unsubscribed"
)

// CampaignListFilter for filtering campaign listings
type CampaignListFilter struct {
	Search string
	Status CampaignStatus
	Limit  int
	Offset int
}
