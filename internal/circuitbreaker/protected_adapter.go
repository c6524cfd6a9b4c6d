package circuitbreaker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/lalithlochan/herald/internal/channel"
)

// ReasonCircuitOpen is the failure reason recorded for rejected attempts.
const ReasonCircuitOpen = "circuit_open"

// ProtectedAdapter wraps a channel adapter with a breaker. Transport errors
// and attempts that run out of time count as failures. Cancelled calls and
// soft outcomes such as not_configured pass through without touching the
// breaker. Pacing belongs outside the breaker so throttle waits never count.
type ProtectedAdapter struct {
	next    channel.Adapter
	breaker *CircuitBreaker
	logger  *zap.Logger
}

func NewProtectedAdapter(next channel.Adapter, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedAdapter {
	return &ProtectedAdapter{
		next:    next,
		breaker: breaker,
		logger:  logger,
	}
}

func (p *ProtectedAdapter) Channel() channel.Channel { return p.next.Channel() }

func (p *ProtectedAdapter) Deliver(ctx context.Context, to, subject, body string) (channel.Outcome, error) {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit open, skipping provider call",
			zap.String("breaker", p.breaker.Name()),
			zap.String("channel", p.next.Channel().String()),
		)
		return channel.Outcome{}, &channel.Error{
			Channel: p.next.Channel(),
			Reason:  ReasonCircuitOpen,
			Err:     ErrCircuitOpen,
		}
	}

	out, err := p.next.Deliver(ctx, to, subject, body)
	switch {
	case err != nil && cancelled(ctx, err):
		p.breaker.Release()
	case err != nil:
		p.breaker.RecordFailure()
	case out.OK:
		p.breaker.RecordSuccess()
	default:
		p.breaker.Release()
	}
	return out, err
}

// cancelled reports a call abandoned by the caller rather than one that hit
// its deadline.
func cancelled(ctx context.Context, err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled)
}

// Breaker exposes the breaker for the operator API.
func (p *ProtectedAdapter) Breaker() *CircuitBreaker { return p.breaker }
