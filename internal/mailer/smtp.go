package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"

	"github.com/halcyonmail/campaignd/internal/config"
	"github.com/halcyonmail/campaignd/internal/models"
)

// SMTPMailer submits messages to an upstream SMTP relay over
// STARTTLS with PLAIN auth.
type SMTPMailer struct {
	cfg    config.SMTPConfig
	signer *DKIMSigner // nil when DKIM is disabled
	logger *slog.Logger
}

// NewSMTPMailer creates an SMTP submission mailer
func NewSMTPMailer(cfg config.SMTPConfig, signer *DKIMSigner, logger *slog.Logger) *SMTPMailer {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SMTPMailer{cfg: cfg, signer: signer, logger: logger}
}

// Send submits the message and returns its message id
func (m *SMTPMailer) Send(ctx context.Context, msg *models.EmailMessage) (string, error) {
	messageID := uuid.New().String()

	data := m.compose(msg, messageID)
	if m.signer != nil {
		signed, err := m.signer.Sign(data)
		if err != nil {
			m.logger.Warn("DKIM signing failed, sending unsigned",
				"domain", m.signer.Domain(),
				"error", err,
			)
		} else {
			data = signed
		}
	}

	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))

	dialer := &net.Dialer{
		Timeout: m.cfg.Timeout,
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("connection failed to %s: %w", addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(m.cfg.Timeout))
	}

	client, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		return "", fmt.Errorf("SMTP client creation failed: %w", err)
	}
	defer client.Close()

	// Submission relay, not MX delivery: TLS is mandatory here.
	if err := client.StartTLS(&tls.Config{
		ServerName: m.cfg.Host,
		MinVersion: tls.VersionTLS12,
	}); err != nil {
		return "", fmt.Errorf("STARTTLS failed: %w", err)
	}

	if m.cfg.Username != "" {
		auth := sasl.NewPlainClient("", m.cfg.Username, m.cfg.Password)
		if err := client.Auth(auth); err != nil {
			return "", fmt.Errorf("AUTH failed: %w", err)
		}
	}

	if err := client.SendMail(m.cfg.From, []string{msg.To}, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("submission failed: %w", err)
	}

	if err := client.Quit(); err != nil {
		m.logger.Debug("QUIT failed", "error", err)
	}

	m.logger.Debug("message submitted", "to", msg.To, "message_id", messageID)
	return messageID, nil
}

// compose builds the RFC 5322 message bytes
func (m *SMTPMailer) compose(msg *models.EmailMessage, messageID string) []byte {
	var buf bytes.Buffer

	from := m.cfg.From
	if m.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", m.cfg.FromName), m.cfg.From)
	}

	domain := m.cfg.From
	if i := strings.LastIndex(domain, "@"); i >= 0 {
		domain = domain[i+1:]
	}

	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", msg.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&buf, "Message-ID: <%s@%s>\r\n", messageID, domain)
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	if msg.ListUnsubscribe != "" {
		fmt.Fprintf(&buf, "List-Unsubscribe: <%s>\r\n", msg.ListUnsubscribe)
	}
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(strings.ReplaceAll(msg.BodyHTML, "\n", "\r\n"))
	buf.WriteString("\r\n")

	return buf.Bytes()
}
