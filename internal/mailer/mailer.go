package mailer

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"html"
	"net/mail"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hacktisch/mailcow-status-tracker/internal/config"
	"github.com/hacktisch/mailcow-status-tracker/internal/store"
)

// Attachment is one file attached to an outbound message
type Attachment struct {
	Filename string
	Content  []byte
}

// SendRequest describes one outbound message
type SendRequest struct {
	From                string
	To                  string
	ReplyTo             string
	CC                  []string
	BCC                 []string
	Subject             string
	Text                string
	HTML                string
	IncludeTracker      bool
	Attachments         []Attachment
	UnsubscribeURL      string
	UnsubscribeEmail    string
	UnsubscribeLinkText string
}

// Mailer submits messages over SMTP with per-sender credentials, injects the
// open-tracking pixel, and records each successful send in the status
// pipeline so it participates in the same dedup and dispatch machinery as
// fetched log events.
type Mailer struct {
	cfg       *config.SMTPConfig
	accounts  map[string]string
	appOrigin string
	store     *store.Store
}

// New creates a new mailer
func New(cfg *config.SMTPConfig, appOrigin string, s *store.Store) (*Mailer, error) {
	accounts, err := cfg.ParseAccounts()
	if err != nil {
		return nil, err
	}
	return &Mailer{
		cfg:       cfg,
		accounts:  accounts,
		appOrigin: appOrigin,
		store:     s,
	}, nil
}

// Send submits one message and returns its message id. On success it records
// one mail row (message id, recipient, tracking id) and one "processed"
// status via the store.
func (m *Mailer) Send(ctx context.Context, req SendRequest) (string, error) {
	logrus.Infof("Sending email from %s to %s with subject: %s", req.From, req.To, req.Subject)

	from, address, err := m.resolveSender(req.From)
	if err != nil {
		return "", err
	}

	trackingID := ""
	if req.IncludeTracker && m.appOrigin != "" {
		trackingID = uuid.NewString()
	}

	domain := address[strings.Index(address, "@")+1:]
	messageID := fmt.Sprintf("%s@%s", uuid.NewString(), domain)

	msg := m.buildMessage(req, from, messageID, trackingID)

	recipients := append([]string{req.To}, req.CC...)
	recipients = append(recipients, req.BCC...)

	if err := m.submit(ctx, address, recipients, msg); err != nil {
		logrus.Errorf("Error sending email from %s to %s: %v", req.From, req.To, err)
		return "", err
	}

	queueID, err := m.store.RecordSend(messageID, req.To, trackingID)
	if err != nil {
		logrus.Errorf("Failed to record send for message %s: %v", messageID, err)
		return messageID, nil
	}
	if _, err := m.store.RecordStatus(queueID, "processed", ""); err != nil {
		logrus.Errorf("Failed to record processed status for %s: %v", queueID, err)
	}

	logrus.Infof("Email sent: %s", messageID)
	return messageID, nil
}

// resolveSender picks the SMTP account for the From header, substituting the
// fallback account when the sender address has no configured credentials.
func (m *Mailer) resolveSender(from string) (header string, address string, err error) {
	address = from
	if parsed, perr := mail.ParseAddress(from); perr == nil {
		address = parsed.Address
	}

	if _, ok := m.accounts[address]; !ok {
		if m.cfg.FallbackAccount == "" {
			return "", "", fmt.Errorf("SMTP account for '%s' is not configured", address)
		}
		from = strings.ReplaceAll(from, address, m.cfg.FallbackAccount)
		address = m.cfg.FallbackAccount
	}

	return from, address, nil
}

// buildMessage assembles the RFC 822 message: headers, the HTML body with
// unsubscribe link and tracking pixel appended, and base64 attachment parts.
func (m *Mailer) buildMessage(req SendRequest, from, messageID, trackingID string) []byte {
	var b strings.Builder

	boundary := fmt.Sprintf("status-tracker-%d", time.Now().UnixNano())

	b.WriteString(fmt.Sprintf("From: %s\r\n", from))
	b.WriteString(fmt.Sprintf("To: %s\r\n", req.To))
	if req.ReplyTo != "" {
		b.WriteString(fmt.Sprintf("Reply-To: %s\r\n", req.ReplyTo))
	}
	if len(req.CC) > 0 {
		b.WriteString(fmt.Sprintf("Cc: %s\r\n", strings.Join(req.CC, ", ")))
	}
	b.WriteString(fmt.Sprintf("Subject: %s\r\n", req.Subject))
	b.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z)))
	b.WriteString(fmt.Sprintf("Message-ID: <%s>\r\n", messageID))

	if req.UnsubscribeURL != "" || req.UnsubscribeEmail != "" {
		var targets []string
		if req.UnsubscribeEmail != "" {
			targets = append(targets, fmt.Sprintf("mailto:%s", req.UnsubscribeEmail))
		}
		if req.UnsubscribeURL != "" {
			targets = append(targets, fmt.Sprintf("<%s>", req.UnsubscribeURL))
		}
		b.WriteString(fmt.Sprintf("List-Unsubscribe: %s\r\n", strings.Join(targets, ", ")))
		if req.UnsubscribeURL != "" {
			b.WriteString("List-Unsubscribe-Post: List-Unsubscribe=One-Click\r\n")
		}
	}

	b.WriteString("MIME-Version: 1.0\r\n")
	if len(req.Attachments) > 0 {
		b.WriteString(fmt.Sprintf("Content-Type: multipart/mixed; boundary=\"%s\"\r\n\r\n", boundary))
		b.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	}
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")

	b.WriteString(m.buildBody(req, trackingID))

	for _, att := range req.Attachments {
		b.WriteString(fmt.Sprintf("\r\n--%s\r\n", boundary))
		b.WriteString(fmt.Sprintf("Content-Type: application/octet-stream; name=\"%s\"\r\n", att.Filename))
		b.WriteString("Content-Transfer-Encoding: base64\r\n")
		b.WriteString(fmt.Sprintf("Content-Disposition: attachment; filename=\"%s\"\r\n\r\n", att.Filename))
		b.WriteString(wrapBase64(base64.StdEncoding.EncodeToString(att.Content)))
	}
	if len(req.Attachments) > 0 {
		b.WriteString(fmt.Sprintf("\r\n--%s--\r\n", boundary))
	}

	return []byte(b.String())
}

func (m *Mailer) buildBody(req SendRequest, trackingID string) string {
	body := req.HTML
	if body == "" && req.Text != "" {
		body = fmt.Sprintf("<p>%s</p>", html.EscapeString(req.Text))
	}

	if req.UnsubscribeURL != "" && req.UnsubscribeLinkText != "" {
		body += fmt.Sprintf(
			`<div style="margin-top:20px;font-size:12px;color:#666;text-align:center;"><a href="%s">%s</a></div>`,
			req.UnsubscribeURL, req.UnsubscribeLinkText)
	}

	if trackingID != "" {
		body += fmt.Sprintf(
			`<img src="%s/track?trackingId=%s" style="width:1px;height:1px;display:block;">`,
			m.appOrigin, trackingID)
	}

	return body
}

// submit delivers the message to the SMTP server, over implicit TLS when the
// secure flag is set, otherwise plain with STARTTLS when offered.
func (m *Mailer) submit(ctx context.Context, sender string, recipients []string, msg []byte) error {
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	auth := smtp.PlainAuth("", sender, m.accounts[sender], m.cfg.Host)

	if !m.cfg.Secure {
		if err := smtp.SendMail(addr, auth, sender, recipients, msg); err != nil {
			return fmt.Errorf("failed to send mail: %w", err)
		}
		return nil
	}

	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: m.cfg.Host})
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}

	client, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer client.Close()

	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("SMTP auth failed: %w", err)
	}
	if err := client.Mail(sender); err != nil {
		return fmt.Errorf("SMTP MAIL failed: %w", err)
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("SMTP RCPT failed for %s: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA failed: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finish message: %w", err)
	}

	return client.Quit()
}

func wrapBase64(s string) string {
	var b strings.Builder
	for len(s) > 76 {
		b.WriteString(s[:76])
		b.WriteString("\r\n")
		s = s[76:]
	}
	b.WriteString(s)
	return b.String()
}
