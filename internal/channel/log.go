package channel

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LogAdapter pretends to deliver by logging the message. Used in development
// so campaigns can run end to end without provider credentials.
type LogAdapter struct {
	channel Channel
	logger  *zap.Logger
}

func NewLogAdapter(ch Channel, logger *zap.Logger) *LogAdapter {
	return &LogAdapter{channel: ch, logger: logger}
}

func (a *LogAdapter) Channel() Channel { return a.channel }

func (a *LogAdapter) Deliver(ctx context.Context, to, subject, body string) (Outcome, error) {
	ref := "log-" + uuid.NewString()
	a.logger.Info("logging message (development mode)",
		zap.String("channel", a.channel.String()),
		zap.String("to", to),
		zap.String("subject", subject),
		zap.Int("body_len", len(body)),
		zap.String("provider_ref", ref),
	)
	return Delivered(ref), nil
}
