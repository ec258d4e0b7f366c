// Package mail delivers notifications by email.
package mail

import (
	"context"
	"fmt"
	"html"
	"net/smtp"
	"strings"

	"github.com/gofiber/fiber/v2/log"

	"github.com/pharmalink/pharmalink/internal/pkg/config"
	"github.com/pharmalink/pharmalink/internal/pkg/notify"
)

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailLookup resolves the address of an account.
type EmailLookup func(ctx context.Context, accountID uint) (string, error)

// Mailer sends notifications via SMTP. Account messages go to the account holder,
// operator alerts go to the operator mailbox.
type Mailer struct {
	addr     string
	auth     smtp.Auth
	sender   string
	operator string
	lookup   EmailLookup
	send     SendFunc
}

// NewMailer returns nil when SMTP_HOST is not configured.
func NewMailer(cfg *config.Config, lookup EmailLookup) *Mailer {
	if cfg.SMTPHost == "" {
		log.Info("[Mail] SMTP_HOST not set, email notifications disabled")
		return nil
	}

	sender := cfg.SMTPFrom
	if sender == "" {
		sender = "no-reply@localhost"
		log.Warnf("[Mail] SMTP_FROM not set, using default sender: %s", sender)
	}

	var auth smtp.Auth
	if cfg.SMTPUsername != "" && cfg.SMTPPassword != "" {
		auth = smtp.PlainAuth("", cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPHost)
	}

	return &Mailer{
		addr:     fmt.Sprintf("%s:%s", cfg.SMTPHost, cfg.SMTPPort),
		auth:     auth,
		sender:   sender,
		operator: cfg.OperatorEmail,
		lookup:   lookup,
		send:     smtp.SendMail,
	}
}

// Notify implements notify.Notifier.
func (m *Mailer) Notify(ctx context.Context, msg notify.Message) error {
	to, err := m.recipient(ctx, msg)
	if err != nil {
		return err
	}
	if to == "" {
		return nil
	}

	if err := m.send(m.addr, m.auth, m.sender, []string{to}, m.compose(to, msg)); err != nil {
		return fmt.Errorf("smtp send %s: %w", msg.Kind, err)
	}
	log.Infof("[Mail] %s sent to %s via %s", msg.Kind, to, m.addr)
	return nil
}

func (m *Mailer) recipient(ctx context.Context, msg notify.Message) (string, error) {
	if msg.IsOperator() {
		return m.operator, nil
	}
	if msg.Email != "" {
		return msg.Email, nil
	}
	if msg.AccountID == 0 || m.lookup == nil {
		return "", nil
	}
	email, err := m.lookup(ctx, msg.AccountID)
	if err != nil {
		return "", fmt.Errorf("resolve email of account %d: %w", msg.AccountID, err)
	}
	return email, nil
}

func (m *Mailer) compose(to string, msg notify.Message) []byte {
	subject := strings.NewReplacer("\r", " ", "\n", " ").Replace(msg.Subject)
	body := "<p>" + strings.ReplaceAll(html.EscapeString(msg.Body), "\n", "<br>") + "</p>"
	return []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", m.sender, to, subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
			body,
	)
}
