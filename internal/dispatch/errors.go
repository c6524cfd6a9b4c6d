package dispatch

import (
	"fmt"

	"github.com/lalithlochan/herald/internal/channel"
)

// Kind classifies a recipient-local delivery failure.
type Kind int

const (
	// KindValidation means the request never reached a channel.
	KindValidation Kind = iota + 1
	// KindNotConfigured means the channel has no provider credentials.
	KindNotConfigured
	// KindTransport means the provider rejected the message or was unreachable.
	KindTransport
	// KindTimeout means the attempt ran past its time budget.
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotConfigured:
		return "not_configured"
	case KindTransport:
		return "transport"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Failure reasons recorded by the dispatcher itself.
const (
	ReasonMissingRecipient = "missing_recipient_field"
	ReasonUnknownChannel   = "unknown_channel"
	ReasonTimeout          = "timeout"
)

// Error is returned by Send for every failed attempt, after the attempt has
// been logged.
type Error struct {
	Kind    Kind
	Channel channel.Channel
	Reason  string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s delivery failed (%s): %s", e.Channel, e.Kind, e.message())
}

func (e *Error) Unwrap() error { return e.Err }

// message is what lands in the audit row's error_message.
func (e *Error) message() string {
	if e.Err != nil && e.Err.Error() != e.Reason {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}
