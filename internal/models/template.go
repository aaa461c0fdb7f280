package models

import (
	"time"

	"github.com/google/uuid"
)

// Template represents an email template with {{variable}} placeholders
type Template struct {
	ID       int64     `json:"id"`
	TenantID uuid.UUID `json:"tenant_id"`
	Name     string    `json:"name"`
	Subject  string    `json:"subject"`
	BodyHTML string    `json:"body_html"`
	Active   bool      `json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EmailMessage is the fully composed message handed to the mail
// transport.
type EmailMessage struct {
	To       string `json:"to"`
	Subject  string `json:"subject"`
	BodyHTML string `json:"body_html"`
	// ListUnsubscribe carries the recipient's unsubscribe URL for the
	// List-Unsubscribe header.
	ListUnsubscribe string `json:"list_unsubscribe,omitempty"`
}
