package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/halcyonmail/campaignd/internal/models"
)

// TemplateRepository persists email templates.
type TemplateRepository struct {
	db *Store
}

// NewTemplateRepository creates a template repository
func NewTemplateRepository(db *Store) *TemplateRepository {
	return &TemplateRepository{db: db}
}

const templateColumns = `id, tenant_id, name, subject, body_html, active, created_at, updated_at`

// Create inserts a new template
func (r *TemplateRepository) Create(t *models.Template) error {
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now

	res, err := r.db.Exec(`
		INSERT INTO templates (tenant_id, name, subject, body_html, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.TenantID.String(), t.Name, t.Subject, t.BodyHTML, boolToInt(t.Active), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}
	t.ID, err = res.LastInsertId()
	return err
}

// GetByID returns a template by ID
func (r *TemplateRepository) GetByID(id int64) (*models.Template, error) {
	row := r.db.QueryRow(`SELECT `+templateColumns+` FROM templates WHERE id = ?`, id)
	return scanTemplate(row)
}

// List returns a tenant's templates, newest first
func (r *TemplateRepository) List(tenantID uuid.UUID) ([]*models.Template, error) {
	rows, err := r.db.Query(`SELECT `+templateColumns+` FROM templates WHERE tenant_id = ? ORDER BY created_at DESC`,
		tenantID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []*models.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// Update saves a template's mutable fields
func (r *TemplateRepository) Update(t *models.Template) error {
	t.UpdatedAt = time.Now()
	res, err := r.db.Exec(`
		UPDATE templates SET name = ?, subject = ?, body_html = ?, active = ?, updated_at = ?
		WHERE id = ?`,
		t.Name, t.Subject, t.BodyHTML, boolToInt(t.Active), t.UpdatedAt, t.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update template: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a template. Templates referenced by campaigns are
// protected by the foreign key.
func (r *TemplateRepository) Delete(id int64) error {
	res, err := r.db.Exec(`DELETE FROM templates WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanTemplate(row rowScanner) (*models.Template, error) {
	var (
		t      models.Template
		tenant string
		active int
	)

	err := row.Scan(&t.ID, &tenant, &t.Name, &t.Subject, &t.BodyHTML, &active, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	t.TenantID, err = uuid.Parse(tenant)
	if err != nil {
		return nil, fmt.Errorf("invalid tenant id %q: %w", tenant, err)
	}
	t.Active = active != 0

	return &t, nil
}
