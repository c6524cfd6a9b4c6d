package channel

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

const (
	sendGridHost     = "https://api.sendgrid.com"
	sendGridEndpoint = "/v3/mail/send"
)

type SendGridConfig struct {
	APIKey     string
	FromEmail  string
	SenderName string
	Host       string // overrides the API host, for tests
}

// SendGridMailer sends email through the SendGrid v3 API.
type SendGridMailer struct {
	key  string
	host string
	from *sgmail.Email
}

func NewSendGridMailer(cfg SendGridConfig) *SendGridMailer {
	host := cfg.Host
	if host == "" {
		host = sendGridHost
	}
	return &SendGridMailer{
		key:  cfg.APIKey,
		host: host,
		from: sgmail.NewEmail(cfg.SenderName, cfg.FromEmail),
	}
}

func (m *SendGridMailer) Name() string { return "sendgrid" }

func (m *SendGridMailer) Send(ctx context.Context, to, subject, text string) (string, error) {
	p := sgmail.NewPersonalization()
	p.Subject = subject
	p.AddTos(sgmail.NewEmail("", to))

	msg := sgmail.NewV3Mail()
	msg.SetFrom(m.from)
	msg.AddPersonalizations(p)
	msg.AddContent(
		sgmail.NewContent("text/plain", text),
		sgmail.NewContent("text/html", htmlBody(text)),
	)

	req := sendgrid.GetRequest(m.key, sendGridEndpoint, m.host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(msg)

	res, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		return "", fmt.Errorf("sendgrid request failed: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("sendgrid returned status %d: %s", res.StatusCode, res.Body)
	}

	if ids := res.Headers["X-Message-Id"]; len(ids) > 0 {
		return ids[0], nil
	}
	return "", nil
}
