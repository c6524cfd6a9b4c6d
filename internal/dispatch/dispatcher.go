// Package dispatch sends one message over one channel and records exactly
// one audit row for it, whatever the outcome.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/herald/internal/channel"
	"github.com/lalithlochan/herald/internal/db"
	"github.com/lalithlochan/herald/internal/metrics"
)

const (
	DefaultAttemptTimeout = 15 * time.Second
	DefaultAuditTimeout   = 5 * time.Second
)

// Request is one message to one recipient on one channel.
type Request struct {
	Channel        channel.Channel
	RecipientPhone string
	RecipientEmail string
	Subject        string
	Body           string
	TemplateCode   string
	ReferenceType  string
	ReferenceID    string
}

// Recipient returns the address the channel delivers to.
func (r Request) Recipient() string {
	if r.Channel.UsesPhone() {
		return strings.TrimSpace(r.RecipientPhone)
	}
	return strings.TrimSpace(r.RecipientEmail)
}

// Router resolves a channel to its adapter.
type Router interface {
	Lookup(ch channel.Channel) (channel.Adapter, bool)
}

// AttemptStore is the append-only audit log.
type AttemptStore interface {
	InsertDeliveryAttempt(ctx context.Context, a *db.DeliveryAttempt) error
}

type Config struct {
	AttemptTimeout time.Duration
	AuditTimeout   time.Duration
}

// Dispatcher is safe for concurrent use.
type Dispatcher struct {
	router       Router
	store        AttemptStore
	timeout      time.Duration
	auditTimeout time.Duration
	logger       *zap.Logger
	now          func() time.Time
}

func New(router Router, store AttemptStore, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	if cfg.AuditTimeout <= 0 {
		cfg.AuditTimeout = DefaultAuditTimeout
	}
	return &Dispatcher{
		router:       router,
		store:        store,
		timeout:      cfg.AttemptTimeout,
		auditTimeout: cfg.AuditTimeout,
		logger:       logger.Named("dispatch"),
		now:          time.Now,
	}
}

// Send delivers req and writes its audit row before returning. A failed
// delivery returns a *Error. If the audit row cannot be written the
// returned error also wraps db.ErrStoreUnavailable.
//
// The adapter call and the audit write both run detached from ctx
// cancellation, bounded by their own timeouts, so an attempt that has
// started is always logged.
func (d *Dispatcher) Send(ctx context.Context, req Request) (channel.Outcome, error) {
	start := d.now()
	out, sendErr := d.deliver(ctx, req)
	elapsed := d.now().Sub(start)

	attempt := d.attempt(req, out, sendErr)
	metrics.RecordDelivery(req.Channel.String(), attempt.Status, elapsed)

	if sendErr != nil {
		d.logger.Warn("delivery failed",
			zap.String("channel", req.Channel.String()),
			zap.String("kind", sendErr.Kind.String()),
			zap.String("reason", sendErr.Reason),
			zap.String("template", req.TemplateCode),
			zap.String("reference_type", req.ReferenceType),
			zap.String("reference_id", req.ReferenceID),
		)
	} else {
		d.logger.Debug("delivered",
			zap.String("channel", req.Channel.String()),
			zap.String("template", req.TemplateCode),
			zap.String("provider_ref", out.ProviderRef),
		)
	}

	if err := d.record(ctx, attempt); err != nil {
		metrics.RecordAuditWriteFailure()
		if sendErr != nil {
			return out, errors.Join(sendErr, err)
		}
		return out, err
	}

	if sendErr != nil {
		return out, sendErr
	}
	return out, nil
}

func (d *Dispatcher) deliver(ctx context.Context, req Request) (channel.Outcome, *Error) {
	adapter, ok := d.router.Lookup(req.Channel)
	if !ok {
		return channel.Outcome{}, &Error{Kind: KindValidation, Channel: req.Channel, Reason: ReasonUnknownChannel}
	}

	to := req.Recipient()
	if to == "" || (req.Channel.UsesPhone() && channel.NormalizePhone(to) == "") {
		return channel.Outcome{}, &Error{Kind: KindValidation, Channel: req.Channel, Reason: ReasonMissingRecipient}
	}

	attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	type result struct {
		out channel.Outcome
		err error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("channel adapter panicked",
					zap.String("channel", req.Channel.String()),
					zap.Any("panic", r),
				)
				done <- result{err: fmt.Errorf("adapter panic: %v", r)}
			}
		}()
		out, err := adapter.Deliver(attemptCtx, to, req.Subject, req.Body)
		done <- result{out: out, err: err}
	}()

	select {
	case res := <-done:
		return res.out, classify(req.Channel, res.out, res.err)
	case <-attemptCtx.Done():
		return channel.Outcome{}, &Error{Kind: KindTimeout, Channel: req.Channel, Reason: ReasonTimeout}
	}
}

// classify maps an adapter result onto the failure taxonomy. It returns nil
// for a delivered message.
func classify(ch channel.Channel, out channel.Outcome, err error) *Error {
	if err == nil {
		switch {
		case out.OK:
			return nil
		case out.Reason == channel.ReasonNotConfigured:
			return &Error{Kind: KindNotConfigured, Channel: ch, Reason: channel.ReasonNotConfigured}
		case out.Reason == channel.ReasonInvalidPhone:
			return &Error{Kind: KindValidation, Channel: ch, Reason: channel.ReasonInvalidPhone}
		case out.Reason != "":
			return &Error{Kind: KindTransport, Channel: ch, Reason: out.Reason}
		default:
			return &Error{Kind: KindTransport, Channel: ch, Reason: "not delivered"}
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Channel: ch, Reason: ReasonTimeout, Err: err}
	}

	var chErr *channel.Error
	if errors.As(err, &chErr) {
		return &Error{Kind: KindTransport, Channel: ch, Reason: chErr.Reason, Err: chErr.Err}
	}

	return &Error{Kind: KindTransport, Channel: ch, Reason: err.Error()}
}

func (d *Dispatcher) attempt(req Request, out channel.Outcome, sendErr *Error) *db.DeliveryAttempt {
	a := &db.DeliveryAttempt{
		TemplateCode:   optional(req.TemplateCode),
		Channel:        req.Channel.String(),
		RecipientPhone: optional(strings.TrimSpace(req.RecipientPhone)),
		RecipientEmail: optional(strings.TrimSpace(req.RecipientEmail)),
		Subject:        optional(req.Subject),
		Body:           req.Body,
		ReferenceType:  req.ReferenceType,
		ReferenceID:    optional(req.ReferenceID),
		ProviderRef:    optional(out.ProviderRef),
	}

	if sendErr != nil {
		a.Status = db.StatusFailed
		msg := sendErr.message()
		a.ErrorMessage = &msg
		return a
	}

	sentAt := d.now()
	a.Status = db.StatusSent
	a.SentAt = &sentAt
	return a
}

func (d *Dispatcher) record(ctx context.Context, a *db.DeliveryAttempt) error {
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.auditTimeout)
	defer cancel()

	if err := d.store.InsertDeliveryAttempt(auditCtx, a); err != nil {
		d.logger.Error("failed to record delivery attempt",
			zap.String("channel", a.Channel),
			zap.String("status", a.Status),
			zap.String("reference_type", a.ReferenceType),
			zap.Error(err),
		)
		if errors.Is(err, db.ErrStoreUnavailable) {
			return fmt.Errorf("record delivery attempt: %w", err)
		}
		return fmt.Errorf("record delivery attempt: %w: %w", db.ErrStoreUnavailable, err)
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
