// Package campaign builds recipient cohorts from the store, renders their
// messages and hands every message to the dispatcher.
//
// A runner never stops for one recipient's failure. The only errors a runner
// returns are campaign-fatal ones: the cohort could not be read or an audit
// row could not be written (both wrap db.ErrStoreUnavailable), or the job
// context ended.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lalithlochan/herald/internal/channel"
	"github.com/lalithlochan/herald/internal/db"
	"github.com/lalithlochan/herald/internal/dispatch"
	"github.com/lalithlochan/herald/internal/metrics"
	"github.com/lalithlochan/herald/internal/render"
)

// DefaultConcurrency is the per-cohort worker pool width.
const DefaultConcurrency = 8

// Sender delivers one message and logs the attempt.
type Sender interface {
	Send(ctx context.Context, req dispatch.Request) (channel.Outcome, error)
}

// TemplateSource looks up active templates by code.
type TemplateSource interface {
	Get(ctx context.Context, code string) (*db.Template, error)
}

// Deps are shared by every runner.
type Deps struct {
	Sender      Sender
	Templates   TemplateSource
	Concurrency int
	Location    *time.Location
	// Now defaults to time.Now.
	Now    func() time.Time
	Logger *zap.Logger
}

type base struct {
	sender      Sender
	templates   TemplateSource
	concurrency int
	loc         *time.Location
	now         func() time.Time
	logger      *zap.Logger
}

func newBase(d Deps, name string) base {
	b := base{
		sender:      d.Sender,
		templates:   d.Templates,
		concurrency: d.Concurrency,
		loc:         d.Location,
		now:         d.Now,
		logger:      d.Logger.Named(name),
	}
	if b.concurrency <= 0 {
		b.concurrency = DefaultConcurrency
	}
	if b.loc == nil {
		b.loc = time.UTC
	}
	if b.now == nil {
		b.now = time.Now
	}
	return b
}

// today is midnight of the current date in the institute timezone.
func (b *base) today() time.Time {
	y, m, d := b.now().In(b.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, b.loc)
}

// Tally counts recipients.
type Tally struct {
	Total  int `json:"total"`
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// Result summarises one runner invocation. A recipient counts as sent when
// at least one of its channel attempts was delivered.
type Result struct {
	Campaign string            `json:"campaign"`
	Total    int               `json:"total"`
	Sent     int               `json:"sent"`
	Failed   int               `json:"failed"`
	Attempts int               `json:"attempts"`
	ByCohort map[string]*Tally `json:"by_cohort,omitempty"`

	mu sync.Mutex
}

func newResult(campaign string) *Result {
	return &Result{Campaign: campaign}
}

func (r *Result) record(cohort string, sent bool, attempts int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Total++
	r.Attempts += attempts
	if sent {
		r.Sent++
	} else {
		r.Failed++
	}

	if cohort == "" {
		return
	}
	if r.ByCohort == nil {
		r.ByCohort = make(map[string]*Tally)
	}
	t, ok := r.ByCohort[cohort]
	if !ok {
		t = &Tally{}
		r.ByCohort[cohort] = t
	}
	t.Total++
	if sent {
		t.Sent++
	} else {
		t.Failed++
	}
}

// cohort registers an empty cohort so it shows up with zero counts.
func (r *Result) cohort(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ByCohort == nil {
		r.ByCohort = make(map[string]*Tally)
	}
	if _, ok := r.ByCohort[name]; !ok {
		r.ByCohort[name] = &Tally{}
	}
}

func (r *Result) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fmt.Sprintf("%s: total=%d sent=%d failed=%d attempts=%d", r.Campaign, r.Total, r.Sent, r.Failed, r.Attempts)
}

func (b *base) finish(r *Result) {
	metrics.RecordCampaign(r.Campaign, r.Sent, r.Failed)
	b.logger.Info("campaign completed",
		zap.String("campaign", r.Campaign),
		zap.Int("total", r.Total),
		zap.Int("sent", r.Sent),
		zap.Int("failed", r.Failed),
		zap.Int("attempts", r.Attempts),
	)
}

// fanOut runs fn for every item on a bounded pool. It stops scheduling new
// items once ctx ends or fn returns an error; items already running finish.
func fanOut[T any](ctx context.Context, limit int, items []T, fn func(ctx context.Context, item T) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, item := range items {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error { return fn(gctx, item) })
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// deliver sends every request for one recipient in order. Channels are
// independent: a failure on one never skips the next. Only an audit write
// failure is returned.
func (b *base) deliver(ctx context.Context, reqs []dispatch.Request) (sent bool, attempts int, err error) {
	for _, req := range reqs {
		out, sendErr := b.sender.Send(ctx, req)
		attempts++

		if sendErr == nil && out.OK {
			sent = true
			continue
		}
		if errors.Is(sendErr, db.ErrStoreUnavailable) {
			return sent, attempts, sendErr
		}
	}
	return sent, attempts, nil
}

// template fetches code. found is false when the template does not exist or
// is inactive; err is set only for store failures.
func (b *base) template(ctx context.Context, code string) (t *db.Template, found bool, err error) {
	t, err = b.templates.Get(ctx, code)
	if errors.Is(err, db.ErrTemplateNotFound) {
		b.logger.Error("template not found", zap.String("code", code))
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load template %s: %w", code, err)
	}
	return t, true, nil
}

// subject renders the template subject, falling back to def.
func subject(t *db.Template, vars render.Vars, def string) string {
	if t != nil && t.Subject != nil && *t.Subject != "" {
		return render.Render(*t.Subject, vars)
	}
	return def
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func orDefault(s *string, def string) string {
	if v := deref(s); v != "" {
		return v
	}
	return def
}
