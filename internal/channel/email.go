package channel

import (
	"context"
	"html"
	"strings"

	"go.uber.org/zap"
)

// Mailer is an email provider. Send returns the provider message ID.
type Mailer interface {
	Name() string
	Send(ctx context.Context, to, subject, text string) (string, error)
}

// EmailAdapter delivers email through the configured Mailer.
type EmailAdapter struct {
	mailer         Mailer
	defaultSubject string
	logger         *zap.Logger
}

// NewEmailAdapter wraps mailer. A nil mailer makes every delivery not_configured.
func NewEmailAdapter(mailer Mailer, defaultSubject string, logger *zap.Logger) *EmailAdapter {
	if defaultSubject == "" {
		defaultSubject = "Notification"
	}
	return &EmailAdapter{
		mailer:         mailer,
		defaultSubject: defaultSubject,
		logger:         logger,
	}
}

func (a *EmailAdapter) Channel() Channel { return Email }

func (a *EmailAdapter) Deliver(ctx context.Context, to, subject, body string) (Outcome, error) {
	if a.mailer == nil {
		a.logger.Warn("email not configured")
		return NotConfigured(), nil
	}

	if strings.TrimSpace(subject) == "" {
		subject = a.defaultSubject
	}

	ref, err := a.mailer.Send(ctx, strings.TrimSpace(to), subject, body)
	if err != nil {
		return Outcome{}, transportErr(Email, a.mailer.Name()+" send failed", err)
	}

	a.logger.Info("email sent",
		zap.String("mailer", a.mailer.Name()),
		zap.String("to", to),
		zap.String("message_id", ref),
	)

	return Delivered(ref), nil
}

// htmlBody renders plain text as minimal HTML, keeping line breaks.
func htmlBody(text string) string {
	return strings.ReplaceAll(html.EscapeString(text), "\n", "<br>")
}

// MailerConfig carries every provider's settings; NewMailer picks one.
type MailerConfig struct {
	From string

	SESRegion    string
	SESFromEmail string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string

	SendGridAPIKey string
	SenderName     string
}

// NewMailer returns the first configured provider in the order SES, SMTP,
// SendGrid, or nil when none is configured.
func NewMailer(ctx context.Context, cfg MailerConfig, logger *zap.Logger) (Mailer, error) {
	switch {
	case cfg.SESFromEmail != "":
		return NewSESMailer(ctx, SESConfig{Region: cfg.SESRegion, FromEmail: cfg.SESFromEmail}, logger)
	case cfg.SMTPHost != "":
		from := cfg.From
		if from == "" {
			from = cfg.SMTPUsername
		}
		return NewSMTPMailer(SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     from,
		}), nil
	case cfg.SendGridAPIKey != "":
		return NewSendGridMailer(SendGridConfig{
			APIKey:     cfg.SendGridAPIKey,
			FromEmail:  cfg.From,
			SenderName: cfg.SenderName,
		}), nil
	default:
		logger.Warn("no email provider configured")
		return nil, nil
	}
}
