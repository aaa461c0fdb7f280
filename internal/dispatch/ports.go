package dispatch

import (
	"time"

	"github.com/google/uuid"

	"github.com/halcyonmail/campaignd/internal/models"
)

// CampaignStore is the campaign persistence the dispatcher consumes.
// TryStart and Complete must be atomic: TryStart is the only guard
// against the same campaign being dispatched twice.
type CampaignStore interface {
	GetByID(id int64) (*models.Campaign, error)
	TryStart(id int64, relaunch bool) (bool, error)
	Complete(id int64, sentThisSession int64) error
	SetTotalRecipients(id int64, total int64) error
	FindDue(now time.Time) ([]*models.Campaign, error)
}

// TemplateStore loads the template a campaign renders with.
type TemplateStore interface {
	GetByID(id int64) (*models.Template, error)
}

// AudienceStore resolves a campaign's audience filter in pages.
type AudienceStore interface {
	Batch(tenantID uuid.UUID, campaignID int64, f models.AudienceFilter, afterID int64, limit int) ([]models.AudienceMember, error)
	CountEligible(tenantID uuid.UUID, f models.AudienceFilter) (int64, error)
}

// DeliveryLogStore persists per-recipient delivery logs. Create must
// fail with repository.ErrDuplicateLog when a log already exists for
// the (campaign, recipient) pair.
type DeliveryLogStore interface {
	Create(l *models.DeliveryLog) error
	Save(l *models.DeliveryLog) error
	GetByPair(campaignID, recipientID int64) (*models.DeliveryLog, error)
}

// MessageBuilder renders the final message for one audience member.
type MessageBuilder interface {
	BuildMessage(tpl *models.Template, member models.AudienceMember, logID int64) *models.EmailMessage
	BuildTestMessage(tpl *models.Template, testEmail string) *models.EmailMessage
}

// LockStore provides named cross-instance locks for the scheduler.
type LockStore interface {
	Acquire(name, holder string, ttl time.Duration) (bool, error)
	Release(name, holder string) error
}
