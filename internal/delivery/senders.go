package delivery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/mr1hm/go-emergency-alerts/internal/idgen"
	"github.com/mr1hm/go-emergency-alerts/internal/logging"
	"github.com/mr1hm/go-emergency-alerts/internal/models"
)

// SMTPSender mails the alert text to the recipient.
type SMTPSender struct {
	dialer *gomail.Dialer
	from   string
	ids    idgen.Generator
}

func NewSMTPSender(host string, port int, username, password, from string, ids idgen.Generator) *SMTPSender {
	var d *gomail.Dialer
	if username == "" {
		d = &gomail.Dialer{Host: host, Port: port}
	} else {
		d = gomail.NewDialer(host, port, username, password)
	}
	return &SMTPSender{dialer: d, from: from, ids: ids}
}

func (s *SMTPSender) Send(ctx context.Context, alert *models.Alert, to models.Recipient) (string, error) {
	// gomail has no context support; honor cancellation before dialing.
	if err := ctx.Err(); err != nil {
		return "", err
	}

	opID := s.ids.NewID()
	m := buildMessage(s.from, to.Email, opID, alert)
	if err := s.dialer.DialAndSend(m); err != nil {
		return "", fmt.Errorf("smtp send to %s: %w", to.Email, err)
	}
	return opID, nil
}

func buildMessage(from, to, opID string, alert *models.Alert) *gomail.Message {
	domain := "localhost"
	if _, d, ok := strings.Cut(from, "@"); ok && d != "" {
		domain = d
	}

	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", fmt.Sprintf("[%s] %s", strings.ToUpper(string(alert.Severity())), alert.Headline()))
	m.SetHeader("Message-ID", fmt.Sprintf("<%s@%s>", opID, domain))
	m.SetHeader("Content-Language", alert.LanguageCode())
	m.SetBody("text/plain", fmt.Sprintf("%s\n\nExpires: %s\nAlert: %s\n",
		alert.Description(), alert.ExpiresAt().UTC().Format(time.RFC1123), alert.ID()))
	return m
}

// LogSender only logs the alert. It is used when no SMTP server is configured.
type LogSender struct {
	ids idgen.Generator
}

func NewLogSender(ids idgen.Generator) *LogSender {
	return &LogSender{ids: ids}
}

func (s *LogSender) Send(ctx context.Context, alert *models.Alert, to models.Recipient) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	opID := s.ids.NewID()
	logging.FromContext(ctx).Info("alert delivered (dry run)",
		"alert_id", alert.ID(), "recipient", to.Email, "operation_id", opID, "severity", alert.Severity())
	return opID, nil
}
