package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/halcyonmail/campaignd/internal/models"
)

// CampaignRepository persists campaigns and their atomic state
// transitions.
type CampaignRepository struct {
	db *Store
}

// NewCampaignRepository creates a campaign repository
func NewCampaignRepository(db *Store) *CampaignRepository {
	return &CampaignRepository{db: db}
}

const campaignColumns = `id, tenant_id, name, template_id, audience_filter, status,
	scheduled_at, started_at, completed_at,
	total_recipients, sent, delivered, opened, clicked, bounced, complained, unsubscribed,
	created_at, updated_at`

// Create inserts a new campaign
func (r *CampaignRepository) Create(c *models.Campaign) error {
	filter, err := json.Marshal(c.Filter)
	if err != nil {
		return fmt.Errorf("failed to encode audience filter: %w", err)
	}

	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now

	res, err := r.db.Exec(`
		INSERT INTO campaigns (tenant_id, name, template_id, audience_filter, status, scheduled_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.TenantID.String(), c.Name, c.TemplateID, string(filter), string(c.Status), c.ScheduledAt, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	c.ID, err = res.LastInsertId()
	return err
}

// GetByID returns a campaign by ID
func (r *CampaignRepository) GetByID(id int64) (*models.Campaign, error) {
	row := r.db.QueryRow(`SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`, id)
	return scanCampaign(row)
}

// List returns campaigns for a tenant with optional filtering
func (r *CampaignRepository) List(tenantID uuid.UUID, filter models.CampaignListFilter) ([]*models.Campaign, int, error) {
	where := "WHERE tenant_id = ?"
	args := []any{tenantID.String()}

	if filter.Search != "" {
		where += " AND name LIKE ?"
		args = append(args, "%"+filter.Search+"%")
	}
	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, string(filter.Status))
	}

	var total int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM campaigns "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + campaignColumns + ` FROM campaigns ` + where + ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var campaigns []*models.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, total, rows.Err()
}

// UpdateDraft updates the drafting fields of a DRAFT campaign
func (r *CampaignRepository) UpdateDraft(c *models.Campaign) error {
	filter, err := json.Marshal(c.Filter)
	if err != nil {
		return fmt.Errorf("failed to encode audience filter: %w", err)
	}

	res, err := r.db.Exec(`
		UPDATE campaigns SET name = ?, template_id = ?, audience_filter = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		c.Name, c.TemplateID, string(filter), time.Now(), c.ID, string(models.CampaignDraft),
	)
	if err != nil {
		return fmt.Errorf("failed to update campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("campaign %d is not in draft: %w", c.ID, ErrNotFound)
	}
	return nil
}

// Schedule moves a draft or scheduled campaign to SCHEDULED at the
// given time.
func (r *CampaignRepository) Schedule(id int64, at time.Time) error {
	res, err := r.db.Exec(`
		UPDATE campaigns SET status = ?, scheduled_at = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		string(models.CampaignScheduled), at, time.Now(),
		id, string(models.CampaignDraft), string(models.CampaignScheduled),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("campaign %d cannot be scheduled: %w", id, ErrNotFound)
	}
	return nil
}

// Cancel terminally cancels a draft or scheduled campaign
func (r *CampaignRepository) Cancel(id int64) error {
	res, err := r.db.Exec(`
		UPDATE campaigns SET status = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		string(models.CampaignCancelled), time.Now(),
		id, string(models.CampaignDraft), string(models.CampaignScheduled),
	)
	if err != nil {
		return fmt.Errorf("failed to cancel campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("campaign %d cannot be cancelled: %w", id, ErrNotFound)
	}
	return nil
}

// TryStart atomically transitions a campaign into SENDING if its
// current status is a legal predecessor for the requested mode. It is
// the sole gate preventing two launches of the same campaign from
// running at once: triggers can come from independent processes, so
// this must be a single conditional update, not an in-memory lock.
func (r *CampaignRepository) TryStart(id int64, relaunch bool) (bool, error) {
	from := models.StartStatuses(relaunch)
	placeholders := make([]string, len(from))
	args := []any{string(models.CampaignSending), time.Now(), time.Now(), id}
	for i, s := range from {
		placeholders[i] = "?"
		args = append(args, string(s))
	}

	res, err := r.db.Exec(`
		UPDATE campaigns
		SET status = ?, started_at = COALESCE(started_at, ?), updated_at = ?
		WHERE id = ? AND status IN (`+strings.Join(placeholders, ", ")+`)`,
		args...,
	)
	if err != nil {
		return false, fmt.Errorf("failed to start campaign: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Complete atomically marks the campaign COMPLETED and adds this
// session's successful sends to the cumulative counter. Called at the
// end of every dispatch run, success or partial failure, so a run is
// never left stuck in SENDING.
func (r *CampaignRepository) Complete(id int64, sentThisSession int64) error {
	_, err := r.db.Exec(`
		UPDATE campaigns SET status = ?, completed_at = ?, updated_at = ?, sent = sent + ?
		WHERE id = ?`,
		string(models.CampaignCompleted), time.Now(), time.Now(), sentThisSession, id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete campaign: %w", err)
	}
	return nil
}

// SetTotalRecipients persists the eligible audience size computed at
// the start of a run, so metrics reflect it even if the run is
// interrupted.
func (r *CampaignRepository) SetTotalRecipients(id int64, total int64) error {
	_, err := r.db.Exec(`UPDATE campaigns SET total_recipients = ?, updated_at = ? WHERE id = ?`,
		total, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update recipient count: %w", err)
	}
	return nil
}

// IncrementMetric atomically increments one campaign counter by one.
// Counter mutations never go through read-modify-write in application
// memory.
func (r *CampaignRepository) IncrementMetric(id int64, metric models.CampaignMetric) error {
	var column string
	switch metric {
	case models.MetricSent:
		column = "sent"
	case models.MetricDelivered:
		column = "delivered"
	case models.MetricOpened:
		column = "opened"
	case models.MetricClicked:
		column = "clicked"
	case models.MetricBounced:
		column = "bounced"
	case models.MetricComplained:
		column = "complained"
	case models.MetricUnsubscribed:
		column = "unsubscribed"
	default:
		return fmt.Errorf("unknown campaign metric %q", metric)
	}

	_, err := r.db.Exec(
		"UPDATE campaigns SET "+column+" = "+column+" + 1, updated_at = ? WHERE id = ?",
		time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to increment %s: %w", column, err)
	}
	return nil
}

// FindDue returns scheduled campaigns whose launch time has passed
func (r *CampaignRepository) FindDue(now time.Time) ([]*models.Campaign, error) {
	rows, err := r.db.Query(`
		SELECT `+campaignColumns+` FROM campaigns
		WHERE status = ? AND scheduled_at IS NOT NULL AND scheduled_at <= ?`,
		string(models.CampaignScheduled), now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query due campaigns: %w", err)
	}
	defer rows.Close()

	var due []*models.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		due = append(due, c)
	}
	return due, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*models.Campaign, error) {
	var (
		c         models.Campaign
		tenant    string
		filter    string
		status    string
		scheduled sql.NullTime
		started   sql.NullTime
		completed sql.NullTime
	)

	err := row.Scan(
		&c.ID, &tenant, &c.Name, &c.TemplateID, &filter, &status,
		&scheduled, &started, &completed,
		&c.TotalRecipients, &c.Sent, &c.Delivered, &c.Opened, &c.Clicked,
		&c.Bounced, &c.Complained, &c.Unsubscribed,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	c.TenantID, err = uuid.Parse(tenant)
	if err != nil {
		return nil, fmt.Errorf("invalid tenant id %q: %w", tenant, err)
	}
	if err := json.Unmarshal([]byte(filter), &c.Filter); err != nil {
		return nil, fmt.Errorf("invalid audience filter: %w", err)
	}
	c.Status = models.CampaignStatus(status)
	c.ScheduledAt = nullTimePtr(scheduled)
	c.StartedAt = nullTimePtr(started)
	c.CompletedAt = nullTimePtr(completed)

	return &c, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}
