package content

import (
	"fmt"

	"github.com/halcyonmail/campaignd/internal/models"
	"github.com/halcyonmail/campaignd/internal/tracking"
)

// Builder composes the final email subject and body from a template,
// recipient variables and tracking rewrites.
type Builder struct {
	engine Engine
	signer *tracking.Signer
}

// NewBuilder creates a content builder
func NewBuilder(engine Engine, signer *tracking.Signer) *Builder {
	return &Builder{engine: engine, signer: signer}
}

// BuildMessage renders the message for one audience member. logID ties
// the embedded tracking URLs back to the delivery log row created for
// this send attempt.
func (b *Builder) BuildMessage(tpl *models.Template, member models.AudienceMember, logID int64) *models.EmailMessage {
	unsubscribeLink := fmt.Sprintf("%s/preferences?token=%s", b.signer.BaseURL(), member.UnsubscribeToken)

	name := member.Name
	if name == "" {
		name = "Customer"
	}
	vars := map[string]string{
		"name":             name,
		"unsubscribe_link": unsubscribeLink,
	}

	body := b.engine.Compile(tpl.BodyHTML, vars)
	body = b.signer.RewriteLinks(logID, body)
	body += fmt.Sprintf(`<img src="%s" width="1" height="1" style="display:none;" />`, b.signer.PixelURL(logID))

	subject := b.engine.Compile(tpl.Subject, vars)

	return &models.EmailMessage{
		To:              member.Email,
		Subject:         subject,
		BodyHTML:        body,
		ListUnsubscribe: unsubscribeLink,
	}
}

// BuildTestMessage renders a template for a dry-run send to a test
// address, bypassing the delivery log and tracking pipeline.
func (b *Builder) BuildTestMessage(tpl *models.Template, testEmail string) *models.EmailMessage {
	vars := map[string]string{
		"name":             "Test Recipient",
		"unsubscribe_link": b.signer.BaseURL() + "/preferences",
	}
	return &models.EmailMessage{
		To:       testEmail,
		Subject:  "[TEST] " + b.engine.Compile(tpl.Subject, vars),
		BodyHTML: b.engine.Compile(tpl.BodyHTML, vars),
	}
}
