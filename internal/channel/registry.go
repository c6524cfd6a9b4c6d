package channel

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Registry is the dispatch table from channel to adapter.
type Registry struct {
	adapters map[Channel]Adapter
	logger   *zap.Logger
}

// NewRegistry builds a registry. A later adapter for the same channel replaces an earlier one.
func NewRegistry(logger *zap.Logger, adapters ...Adapter) *Registry {
	r := &Registry{
		adapters: make(map[Channel]Adapter, len(adapters)),
		logger:   logger,
	}
	for _, a := range adapters {
		r.adapters[a.Channel()] = a
	}
	return r
}

// Lookup returns the adapter for ch.
func (r *Registry) Lookup(ch Channel) (Adapter, bool) {
	a, ok := r.adapters[ch]
	return a, ok
}

// Deliver routes to the adapter registered for ch.
func (r *Registry) Deliver(ctx context.Context, ch Channel, to, subject, body string) (Outcome, error) {
	a, ok := r.adapters[ch]
	if !ok {
		return Outcome{}, fmt.Errorf("no adapter registered for channel: %s", ch)
	}
	r.logger.Debug("routing message to adapter", zap.String("channel", ch.String()))
	return a.Deliver(ctx, to, subject, body)
}

// Channels lists the channels with a registered adapter, in canonical order.
func (r *Registry) Channels() []Channel {
	var out []Channel
	for _, ch := range All {
		if _, ok := r.adapters[ch]; ok {
			out = append(out, ch)
		}
	}
	return out
}
