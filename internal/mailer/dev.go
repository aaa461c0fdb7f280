package mailer

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/halcyonmail/campaignd/internal/models"
)

// DevMailer logs messages instead of submitting them, for local
// development and tests.
type DevMailer struct {
	logger *slog.Logger
}

// NewDevMailer creates a log-only mailer
func NewDevMailer(logger *slog.Logger) *DevMailer {
	return &DevMailer{logger: logger}
}

// Send logs the message and returns a generated message id
func (m *DevMailer) Send(ctx context.Context, msg *models.EmailMessage) (string, error) {
	messageID := uuid.New().String()
	m.logger.Info("dev mailer: message not submitted",
		"to", msg.To,
		"subject", msg.Subject,
		"message_id", messageID,
		"body_bytes", len(msg.BodyHTML),
	)
	return messageID, nil
}
