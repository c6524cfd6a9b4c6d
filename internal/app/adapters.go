package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/herald/internal/channel"
	"github.com/lalithlochan/herald/internal/circuitbreaker"
	"github.com/lalithlochan/herald/internal/config"
)

// channelBurst lets a short run of messages through before pacing starts.
const channelBurst = 5

// BuildAdapters returns one adapter per channel. Each provider sits behind
// its own circuit breaker and pacing wraps the breaker. In dry-run mode
// every channel logs instead of sending and no breakers are built.
func BuildAdapters(ctx context.Context, cfg *config.Config, logger *zap.Logger) ([]channel.Adapter, []*circuitbreaker.CircuitBreaker, error) {
	if cfg.DryRun {
		logger.Warn("dry run: messages are logged, not sent")
		adapters := make([]channel.Adapter, 0, len(channel.All))
		for _, ch := range channel.All {
			adapters = append(adapters, channel.NewLogAdapter(ch, logger))
		}
		return adapters, nil, nil
	}

	whatsapp := channel.NewWhatsAppAdapter(channel.WhatsAppConfig{
		APIURL:  cfg.WhatsAppAPIURL,
		PhoneID: cfg.WhatsAppPhoneID,
		Token:   cfg.WhatsAppToken,
	}, logger)

	sms, err := channel.NewSMSAdapter(ctx, channel.SMSConfig{
		Region:   cfg.SNSRegion,
		SenderID: cfg.SMSSenderID,
		Enabled:  cfg.SMSEnabled,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create SMS adapter: %w", err)
	}

	mailer, err := channel.NewMailer(ctx, channel.MailerConfig{
		From:           cfg.EmailFrom,
		SESRegion:      cfg.AWSRegion,
		SESFromEmail:   cfg.SESFromEmail,
		SMTPHost:       cfg.SMTPHost,
		SMTPPort:       cfg.SMTPPort,
		SMTPUsername:   cfg.SMTPUsername,
		SMTPPassword:   cfg.SMTPPassword,
		SendGridAPIKey: cfg.SendGridAPIKey,
		SenderName:     cfg.InstituteName,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create mailer: %w", err)
	}
	email := channel.NewEmailAdapter(mailer, cfg.DefaultEmailSubject, logger)

	providers := []channel.Adapter{whatsapp, sms, email}
	adapters := make([]channel.Adapter, 0, len(providers))
	breakers := make([]*circuitbreaker.CircuitBreaker, 0, len(providers))
	for _, p := range providers {
		breaker := circuitbreaker.New(circuitbreaker.DefaultConfig(p.Channel().String()), logger)
		protected := circuitbreaker.NewProtectedAdapter(p, breaker, logger)
		adapters = append(adapters, channel.NewThrottled(protected, cfg.ChannelRatePerSec, channelBurst))
		breakers = append(breakers, breaker)
	}

	logger.Info("channel adapters initialized",
		zap.Bool("whatsapp_configured", cfg.WhatsAppPhoneID != "" && cfg.WhatsAppToken != ""),
		zap.Bool("sms_enabled", cfg.SMSEnabled),
		zap.Bool("email_configured", mailer != nil),
	)

	return adapters, breakers, nil
}

// PhoneChannels parses the configured fee reminder phone channels.
func PhoneChannels(names []string) ([]channel.Channel, error) {
	out := make([]channel.Channel, 0, len(names))
	for _, name := range names {
		ch, ok := channel.Parse(name)
		if !ok || !ch.UsesPhone() {
			return nil, fmt.Errorf("invalid phone channel %q", name)
		}
		out = append(out, ch)
	}
	return out, nil
}
