package channel

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	mail "gopkg.in/gomail.v2"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer sends email through an SMTP relay with gomail.
type SMTPMailer struct {
	from string
	host string
	send func(*mail.Message) error
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	port := cfg.Port
	if port == 0 {
		port = 587
	}
	d := mail.NewDialer(cfg.Host, port, cfg.Username, cfg.Password)

	return &SMTPMailer{
		from: cfg.From,
		host: cfg.Host,
		send: func(m *mail.Message) error { return d.DialAndSend(m) },
	}
}

func (m *SMTPMailer) Name() string { return "smtp" }

// Send ignores ctx cancellation once the SMTP conversation has started;
// the dispatcher's attempt timeout bounds the call.
func (m *SMTPMailer) Send(ctx context.Context, to, subject, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := fmt.Sprintf("<%s@%s>", uuid.NewString(), m.host)

	msg := mail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetHeader("Message-ID", id)
	msg.SetBody("text/plain", text)
	msg.AddAlternative("text/html", htmlBody(text))

	if err := m.send(msg); err != nil {
		return "", fmt.Errorf("smtp send failed: %w", err)
	}

	return id, nil
}
