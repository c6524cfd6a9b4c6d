package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// WhatsAppConfig configures the WhatsApp Cloud API adapter.
type WhatsAppConfig struct {
	APIURL  string // e.g. https://graph.facebook.com/v18.0
	PhoneID string
	Token   string
	Timeout time.Duration
}

// WhatsAppAdapter sends text messages through the WhatsApp Cloud API.
type WhatsAppAdapter struct {
	client *http.Client
	cfg    WhatsAppConfig
	logger *zap.Logger
}

type whatsAppRequest struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             whatsAppText `json:"text"`
}

type whatsAppText struct {
	Body string `json:"body"`
}

type whatsAppResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// NewWhatsAppAdapter creates the adapter. Credentials may be empty; Deliver
// then reports not_configured.
func NewWhatsAppAdapter(cfg WhatsAppConfig, logger *zap.Logger) *WhatsAppAdapter {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")

	return &WhatsAppAdapter{
		client: &http.Client{Timeout: timeout},
		cfg:    cfg,
		logger: logger,
	}
}

func (a *WhatsAppAdapter) Channel() Channel { return WhatsApp }

// Deliver posts a text message to {api_url}/{phone_id}/messages.
func (a *WhatsAppAdapter) Deliver(ctx context.Context, to, _, body string) (Outcome, error) {
	if a.cfg.Token == "" || a.cfg.PhoneID == "" || a.cfg.APIURL == "" {
		a.logger.Warn("whatsapp credentials not configured")
		return NotConfigured(), nil
	}

	phone := NormalizePhone(to)
	if phone == "" {
		return Outcome{Reason: ReasonInvalidPhone}, nil
	}

	payload, err := json.Marshal(whatsAppRequest{
		MessagingProduct: "whatsapp",
		To:               phone,
		Type:             "text",
		Text:             whatsAppText{Body: body},
	})
	if err != nil {
		return Outcome{}, transportErr(WhatsApp, "encode request", err)
	}

	url := fmt.Sprintf("%s/%s/messages", a.cfg.APIURL, a.cfg.PhoneID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Outcome{}, transportErr(WhatsApp, "build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return Outcome{}, transportErr(WhatsApp, "request failed", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var parsed whatsAppResponse
	_ = json.Unmarshal(raw, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		reason := fmt.Sprintf("status %d", resp.StatusCode)
		if parsed.Error != nil && parsed.Error.Message != "" {
			reason = parsed.Error.Message
		}
		return Outcome{}, &Error{Channel: WhatsApp, Reason: reason}
	}

	var ref string
	if len(parsed.Messages) > 0 {
		ref = parsed.Messages[0].ID
	}

	a.logger.Info("whatsapp message sent",
		zap.String("to", phone),
		zap.String("message_id", ref),
	)

	return Delivered(ref), nil
}
