package mailer

import (
	"context"

	"github.com/halcyonmail/campaignd/internal/models"
)

// Mailer is the mail transport port: hand a composed message to the
// provider and get back the provider message id used to correlate
// delivery events.
type Mailer interface {
	Send(ctx context.Context, msg *models.EmailMessage) (string, error)
}
