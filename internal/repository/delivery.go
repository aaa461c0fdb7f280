package repository

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/halcyonmail/campaignd/internal/models"
)

// DeliveryLogRepository persists per-recipient delivery logs.
type DeliveryLogRepository struct {
	db *Store
}

// NewDeliveryLogRepository creates a delivery log repository
func NewDeliveryLogRepository(db *Store) *DeliveryLogRepository {
	return &DeliveryLogRepository{db: db}
}

const deliveryColumns = `id, campaign_id, tenant_id, recipient_id, template_id, status, message_id, error_message,
	sent_at, delivered_at, opened_at, clicked_at, bounced_at, unsubscribed_at, complained_at, created_at`

// Create inserts a new delivery log. Returns ErrDuplicateLog when a log
// already exists for the (campaign, recipient) pair, which callers use
// as the signal that another worker already claimed this recipient.
func (r *DeliveryLogRepository) Create(l *models.DeliveryLog) error {
	res, err := r.db.Exec(`
		INSERT INTO delivery_logs (campaign_id, tenant_id, recipient_id, template_id, status, message_id, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		l.CampaignID, l.TenantID.String(), l.RecipientID, l.TemplateID,
		string(l.Status), l.MessageID, l.ErrorMsg, l.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateLog
		}
		return fmt.Errorf("failed to create delivery log: %w", err)
	}
	l.ID, err = res.LastInsertId()
	return err
}

// Save writes the mutable fields of an existing log
func (r *DeliveryLogRepository) Save(l *models.DeliveryLog) error {
	_, err := r.db.Exec(`
		UPDATE delivery_logs
		SET status = ?, message_id = ?, error_message = ?,
		    sent_at = ?, delivered_at = ?, opened_at = ?, clicked_at = ?,
		    bounced_at = ?, unsubscribed_at = ?, complained_at = ?
		WHERE id = ?`,
		string(l.Status), l.MessageID, l.ErrorMsg,
		l.SentAt, l.DeliveredAt, l.OpenedAt, l.ClickedAt,
		l.BouncedAt, l.UnsubscribedAt, l.ComplainedAt,
		l.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to save delivery log: %w", err)
	}
	return nil
}

// GetByID returns a delivery log by ID
func (r *DeliveryLogRepository) GetByID(id int64) (*models.DeliveryLog, error) {
	row := r.db.QueryRow(`SELECT `+deliveryColumns+` FROM delivery_logs WHERE id = ?`, id)
	return scanDeliveryLog(row)
}

// GetByPair returns the log for a (campaign, recipient) pair
func (r *DeliveryLogRepository) GetByPair(campaignID, recipientID int64) (*models.DeliveryLog, error) {
	row := r.db.QueryRow(`SELECT `+deliveryColumns+` FROM delivery_logs WHERE campaign_id = ? AND recipient_id = ?`,
		campaignID, recipientID)
	return scanDeliveryLog(row)
}

// GetByMessageID returns the log that was sent with the given provider
// message ID. Webhook events are correlated through this lookup.
func (r *DeliveryLogRepository) GetByMessageID(messageID string) (*models.DeliveryLog, error) {
	row := r.db.QueryRow(`SELECT `+deliveryColumns+` FROM delivery_logs WHERE message_id = ?`, messageID)
	return scanDeliveryLog(row)
}

// LatestByRecipient returns the recipient's most recent delivery log.
// Unsubscribes arriving without campaign context are attributed to the
// campaign that most recently emailed the recipient.
func (r *DeliveryLogRepository) LatestByRecipient(recipientID int64) (*models.DeliveryLog, error) {
	row := r.db.QueryRow(`SELECT `+deliveryColumns+` FROM delivery_logs WHERE recipient_id = ? ORDER BY id DESC LIMIT 1`,
		recipientID)
	return scanDeliveryLog(row)
}

// ListByCampaign returns a page of a campaign's delivery logs
func (r *DeliveryLogRepository) ListByCampaign(campaignID int64, filter models.DeliveryLogFilter) ([]*models.DeliveryLog, int, error) {
	where := "WHERE campaign_id = ?"
	args := []any{campaignID}
	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, string(filter.Status))
	}

	var total int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM delivery_logs "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + deliveryColumns + ` FROM delivery_logs ` + where + ` ORDER BY id`
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

	var logs []*models.DeliveryLog
	for rows.Next() {
		l, err := scanDeliveryLog(rows)
		if err != nil {
			return nil, 0, err
		}
		logs = append(logs, l)
	}
	return logs, total, rows.Err()
}

func scanDeliveryLog(row rowScanner) (*models.DeliveryLog, error) {
	var (
		l            models.DeliveryLog
		tenant       string
		status       string
		sentAt       sql.NullTime
		deliveredAt  sql.NullTime
		openedAt     sql.NullTime
		clickedAt    sql.NullTime
		bouncedAt    sql.NullTime
		unsubAt      sql.NullTime
		complainedAt sql.NullTime
	)

	err := row.Scan(
		&l.ID, &l.CampaignID, &tenant, &l.RecipientID, &l.TemplateID,
		&status, &l.MessageID, &l.ErrorMsg,
		&sentAt, &deliveredAt, &openedAt, &clickedAt, &bouncedAt, &unsubAt, &complainedAt,
		&l.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	l.TenantID, err = uuid.Parse(tenant)
	if err != nil {
		return nil, fmt.Errorf("invalid tenant id %q: %w", tenant, err)
	}
	l.Status = models.DeliveryStatus(status)
	l.SentAt = nullTimePtr(sentAt)
	l.DeliveredAt = nullTimePtr(deliveredAt)
	l.OpenedAt = nullTimePtr(openedAt)
	l.ClickedAt = nullTimePtr(clickedAt)
	l.BouncedAt = nullTimePtr(bouncedAt)
	l.UnsubscribedAt = nullTimePtr(unsubAt)
	l.ComplainedAt = nullTimePtr(complainedAt)

	return &l, nil
}
