package channel

import (
	"context"

	"golang.org/x/time/rate"
)

// Throttled paces an adapter with a token bucket so a large cohort does not
// trip provider rate limits.
type Throttled struct {
	next    Adapter
	limiter *rate.Limiter
}

// NewThrottled allows perSecond deliveries per second with the given burst.
// A non-positive perSecond disables pacing.
func NewThrottled(next Adapter, perSecond float64, burst int) *Throttled {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &Throttled{
		next:    next,
		limiter: rate.NewLimiter(limit, max(1, burst)),
	}
}

func (t *Throttled) Channel() Channel { return t.next.Channel() }

// Unwrap returns the paced adapter.
func (t *Throttled) Unwrap() Adapter { return t.next }

// Deliver waits for a token, then delegates. A context that ends while
// waiting returns its error without calling the adapter. When the next token
// would arrive after the deadline the attempt is out of time and fails with
// context.DeadlineExceeded straight away.
func (t *Throttled) Deliver(ctx context.Context, to, subject, body string) (Outcome, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		return Outcome{}, context.DeadlineExceeded
	}
	return t.next.Deliver(ctx, to, subject, body)
}
