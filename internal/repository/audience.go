package repository

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/halcyonmail/campaignd/internal/models"
)

// AudienceRepository resolves campaign audience filters against the
// recipient table. Resolution happens at dispatch time, never cached,
// so recipient changes between draft and launch are picked up.
type AudienceRepository struct {
	db *Store
}

// NewAudienceRepository creates an audience repository
func NewAudienceRepository(db *Store) *AudienceRepository {
	return &AudienceRepository{db: db}
}

// filterClause builds the WHERE fragment for an audience filter. Tags
// are stored as a comma-separated list; wrapping both sides in commas
// makes the LIKE match whole tags only.
func filterClause(tenantID uuid.UUID, f models.AudienceFilter) (string, []any) {
	where := "r.tenant_id = ?"
	args := []any{tenantID.String()}

	for _, tag := range f.Tags {
		where += " AND (',' || r.tags || ',') LIKE ?"
		args = append(args, "%,"+tag+",%")
	}
	if f.MinSpend > 0 {
		where += " AND r.total_spend >= ?"
		args = append(args, f.MinSpend)
	}
	if f.CustomerType != "" {
		where += " AND r.customer_type = ?"
		args = append(args, f.CustomerType)
	}
	return where, args
}

// Batch returns up to limit audience members with id > afterID, joined
// with their delivery state for the campaign. Ordering by id gives a
// stable cursor: rows inserted mid-run appear after the cursor and are
// still visited exactly once.
func (r *AudienceRepository) Batch(tenantID uuid.UUID, campaignID int64, f models.AudienceFilter, afterID int64, limit int) ([]models.AudienceMember, error) {
	where, args := filterClause(tenantID, f)
	args = append([]any{campaignID}, args...)
	args = append(args, afterID, limit)

	rows, err := r.db.Query(`
		SELECT r.id, r.email, r.name, r.unsubscribe_token, r.marketing_status, r.marketing_consent,
		       COALESCE(l.status, 'not_sent')
		FROM recipients r
		LEFT JOIN delivery_logs l ON l.recipient_id = r.id AND l.campaign_id = ?
		WHERE `+where+` AND r.id > ?
		ORDER BY r.id
		LIMIT ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query audience batch: %w", err)
	}
	defer rows.Close()

	var members []models.AudienceMember
	for rows.Next() {
		var (
			m       models.AudienceMember
			mStatus string
			sStatus string
			consent int
		)
		if err := rows.Scan(&m.RecipientID, &m.Email, &m.Name, &m.UnsubscribeToken, &mStatus, &consent, &sStatus); err != nil {
			return nil, err
		}
		m.MarketingStatus = models.MarketingStatus(mStatus)
		m.Consent = consent != 0
		m.SendStatus = models.DeliveryStatus(sStatus)
		members = append(members, m)
	}
	return members, rows.Err()
}

// CountEligible returns the number of recipients matching the filter
// who may actually be emailed (subscribed with marketing consent).
// This is the figure recorded as a campaign's total audience size.
func (r *AudienceRepository) CountEligible(tenantID uuid.UUID, f models.AudienceFilter) (int64, error) {
	where, args := filterClause(tenantID, f)
	args = append(args, string(models.MarketingSubscribed))

	var n int64
	err := r.db.QueryRow(`
		SELECT COUNT(*) FROM recipients r
		WHERE `+where+` AND r.marketing_status = ? AND r.marketing_consent = 1`,
		args...,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count audience: %w", err)
	}
	return n, nil
}
