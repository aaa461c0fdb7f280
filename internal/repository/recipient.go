package repository

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/halcyonmail/campaignd/internal/models"
)

// RecipientRepository persists recipients.
type RecipientRepository struct {
	db *Store
}

// NewRecipientRepository creates a recipient repository
func NewRecipientRepository(db *Store) *RecipientRepository {
	return &RecipientRepository{db: db}
}

const recipientColumns = `id, tenant_id, email, name, tags, total_spend, customer_type,
	marketing_status, marketing_consent, unsubscribe_token, created_at`

// Create inserts a new recipient, assigning an unsubscribe token when
// the caller did not set one.
func (r *RecipientRepository) Create(rec *models.Recipient) error {
	if rec.UnsubscribeToken == "" {
		rec.UnsubscribeToken = uuid.NewString()
	}
	if rec.MarketingStatus == "" {
		rec.MarketingStatus = models.MarketingSubscribed
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	res, err := r.db.Exec(`
		INSERT INTO recipients (tenant_id, email, name, tags, total_spend, customer_type, marketing_status, marketing_consent, unsubscribe_token, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TenantID.String(), rec.Email, rec.Name, strings.Join(rec.Tags, ","),
		rec.TotalSpend, rec.CustomerType, string(rec.MarketingStatus),
		boolToInt(rec.MarketingConsent), rec.UnsubscribeToken, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create recipient: %w", err)
	}
	rec.ID, err = res.LastInsertId()
	return err
}

// GetByID returns a recipient by ID
func (r *RecipientRepository) GetByID(id int64) (*models.Recipient, error) {
	row := r.db.QueryRow(`SELECT `+recipientColumns+` FROM recipients WHERE id = ?`, id)
	return scanRecipient(row)
}

// GetByToken returns the recipient holding the given unsubscribe token
func (r *RecipientRepository) GetByToken(token string) (*models.Recipient, error) {
	row := r.db.QueryRow(`SELECT `+recipientColumns+` FROM recipients WHERE unsubscribe_token = ?`, token)
	return scanRecipient(row)
}

// SetMarketingStatus updates a recipient's marketing status
func (r *RecipientRepository) SetMarketingStatus(id int64, status models.MarketingStatus) error {
	res, err := r.db.Exec(`UPDATE recipients SET marketing_status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update marketing status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanRecipient(row rowScanner) (*models.Recipient, error) {
	var (
		rec     models.Recipient
		tenant  string
		tags    string
		status  string
		consent int
	)

	err := row.Scan(
		&rec.ID, &tenant, &rec.Email, &rec.Name, &tags, &rec.TotalSpend, &rec.CustomerType,
		&status, &consent, &rec.UnsubscribeToken, &rec.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rec.TenantID, err = uuid.Parse(tenant)
	if err != nil {
		return nil, fmt.Errorf("invalid tenant id %q: %w", tenant, err)
	}
	if tags != "" {
		rec.Tags = strings.Split(tags, ",")
	}
	rec.MarketingStatus = models.MarketingStatus(status)
	rec.MarketingConsent = consent != 0

	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
