// Package channel delivers rendered messages over WhatsApp, SMS and email.
//
// Every adapter has the same contract: a missing provider configuration is a
// soft failure (Outcome.Reason "not_configured", nil error), a provider or
// network failure is a *Error, and a delivered message carries the provider's
// message ID in Outcome.ProviderRef.
package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Channel is one of the closed set of delivery channels.
type Channel string

const (
	WhatsApp Channel = "whatsapp"
	SMS      Channel = "sms"
	Email    Channel = "email"
)

// All lists every supported channel.
var All = []Channel{WhatsApp, SMS, Email}

// Parse returns the channel named s.
func Parse(s string) (Channel, bool) {
	switch c := Channel(strings.ToLower(strings.TrimSpace(s))); c {
	case WhatsApp, SMS, Email:
		return c, true
	default:
		return "", false
	}
}

// UsesPhone reports whether the channel addresses recipients by phone number.
func (c Channel) UsesPhone() bool {
	return c == WhatsApp || c == SMS
}

func (c Channel) String() string { return string(c) }

// Failure reasons shared across adapters.
const (
	ReasonNotConfigured = "not_configured"
	ReasonInvalidPhone  = "invalid_phone"
)

// Outcome is the result of one delivery attempt.
type Outcome struct {
	OK          bool
	ProviderRef string
	Reason      string
}

// Delivered builds a successful outcome.
func Delivered(ref string) Outcome {
	return Outcome{OK: true, ProviderRef: ref}
}

// NotConfigured is the soft-failure outcome for a channel without credentials.
func NotConfigured() Outcome {
	return Outcome{Reason: ReasonNotConfigured}
}

// Adapter delivers a message over one channel. to is a phone number for
// phone channels and an email address for email. subject is ignored by
// phone channels.
type Adapter interface {
	Channel() Channel
	Deliver(ctx context.Context, to, subject, body string) (Outcome, error)
}

// Error is a transport failure. Reason is human readable; the provider error,
// if any, is kept for logging but never exposed as a provider type.
type Error struct {
	Channel Channel
	Reason  string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Channel, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Channel, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// transportErr builds a *Error whose chain holds only err's message, so SDK
// error types do not leak to callers.
func transportErr(ch Channel, reason string, err error) *Error {
	var wrapped error
	if err != nil {
		wrapped = errors.New(err.Error())
	}
	return &Error{Channel: ch, Reason: reason, Err: wrapped}
}

// NormalizePhone strips everything but digits, prefixes the India country
// code to bare 10-digit numbers and returns the number in +<digits> form.
// It returns "" when raw holds no digits.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}
	if len(digits) == 10 {
		digits = "91" + digits
	}
	return "+" + digits
}
