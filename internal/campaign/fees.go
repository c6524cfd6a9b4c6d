package campaign

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/herald/internal/channel"
	"github.com/lalithlochan/herald/internal/db"
	"github.com/lalithlochan/herald/internal/dispatch"
	"github.com/lalithlochan/herald/internal/metrics"
	"github.com/lalithlochan/herald/internal/render"
)

const (
	CampaignFeeReminders = "fee_reminders"
	CampaignFeeOverdue   = "fee_overdue"

	RefFeeReminder = "fee_reminder"

	TemplateFeeOverdue = "FEE_OVERDUE"
)

// FeeStore is what the fee runner needs from the store.
type FeeStore interface {
	FeesDueOn(ctx context.Context, day time.Time) ([]*db.FeeBalance, error)
	OverdueFees(ctx context.Context, asOf time.Time) ([]*db.FeeBalance, error)
	AccrueLateFee(ctx context.Context, feeID string, target float64) (bool, error)
}

type FeeConfig struct {
	// Ladder holds day offsets from the due date; positive is before.
	Ladder          []int
	GracePeriodDays int
	LateFeePercent  float64
	// PhoneChannels receive reminders addressed to the guardian phone.
	PhoneChannels  []channel.Channel
	InstituteName  string
	PaymentBaseURL string
}

// FeeRunner sends the fee reminder ladder and the overdue sweep.
type FeeRunner struct {
	base
	store FeeStore
	cfg   FeeConfig
}

func NewFeeRunner(store FeeStore, cfg FeeConfig, deps Deps) *FeeRunner {
	if len(cfg.PhoneChannels) == 0 {
		cfg.PhoneChannels = []channel.Channel{channel.WhatsApp}
	}
	cfg.PaymentBaseURL = strings.TrimRight(cfg.PaymentBaseURL, "/")
	return &FeeRunner{
		base:  newBase(deps, "fees"),
		store: store,
		cfg:   cfg,
	}
}

// ReminderTemplate returns the template code bound to a ladder offset.
func ReminderTemplate(offset int) string {
	if offset < 0 {
		return TemplateFeeOverdue
	}
	return "FEE_REMIND_" + strconv.Itoa(offset)
}

// CohortKey names a ladder offset in Result.ByCohort: "+3", "0", "-1".
func CohortKey(offset int) string {
	if offset > 0 {
		return "+" + strconv.Itoa(offset)
	}
	return strconv.Itoa(offset)
}

// SendReminders runs the ladder for today. With no offsets the configured
// ladder is used. A balance due on day D gets the offset n reminder only
// when today is D-n.
func (r *FeeRunner) SendReminders(ctx context.Context, offsets ...int) (*Result, error) {
	if len(offsets) == 0 {
		offsets = r.cfg.Ladder
	}
	today := r.today()
	result := newResult(CampaignFeeReminders)
	defer r.finish(result)

	for _, n := range offsets {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		key := CohortKey(n)
		result.cohort(key)

		day := today.AddDate(0, 0, n)
		fees, err := r.store.FeesDueOn(ctx, day)
		if err != nil {
			return result, fmt.Errorf("fee reminders %s: %w", key, err)
		}
		if len(fees) == 0 {
			continue
		}

		code := ReminderTemplate(n)
		tmpl, found, err := r.template(ctx, code)
		if err != nil {
			return result, err
		}
		if !found {
			for range fees {
				result.record(key, false, 0)
			}
			continue
		}

		r.logger.Info("sending fee reminders",
			zap.String("cohort", key),
			zap.String("template", code),
			zap.Int("recipients", len(fees)),
		)

		days := n
		if days < 0 {
			days = -days
		}
		err = fanOut(ctx, r.concurrency, fees, func(ctx context.Context, f *db.FeeBalance) error {
			sent, attempts, err := r.deliver(ctx, r.requests(f, tmpl, days))
			result.record(key, sent, attempts)
			return err
		})
		if err != nil {
			return result, fmt.Errorf("fee reminders %s: %w", key, err)
		}
	}

	return result, nil
}

// SendOverdue accrues late fees on balances past the grace period and sends
// FEE_OVERDUE to every overdue balance.
func (r *FeeRunner) SendOverdue(ctx context.Context) (*Result, error) {
	today := r.today()
	result := newResult(CampaignFeeOverdue)
	defer r.finish(result)

	fees, err := r.store.OverdueFees(ctx, today)
	if err != nil {
		return result, fmt.Errorf("overdue sweep: %w", err)
	}
	if len(fees) == 0 {
		return result, nil
	}

	tmpl, found, err := r.template(ctx, TemplateFeeOverdue)
	if err != nil {
		return result, err
	}

	err = fanOut(ctx, r.concurrency, fees, func(ctx context.Context, f *db.FeeBalance) error {
		daysOverdue := daysBetween(f.DueDate, today)
		if err := r.accrue(ctx, f, daysOverdue); err != nil {
			return err
		}
		if !found {
			result.record("", false, 0)
			return nil
		}
		sent, attempts, err := r.deliver(ctx, r.requests(f, tmpl, daysOverdue))
		result.record("", sent, attempts)
		return err
	})
	if err != nil {
		return result, fmt.Errorf("overdue sweep: %w", err)
	}

	return result, nil
}

// LateFeeTarget is the late fee owed on a balance: percent of the principal,
// rounded to paise. The principal excludes any late fee already added.
func LateFeeTarget(balance, lateFee, percent float64) float64 {
	return render.Round2((balance - lateFee) * percent / 100)
}

// accrue raises f's late fee when it is past the grace period. f is updated
// in place so the rendered amount includes the penalty.
func (r *FeeRunner) accrue(ctx context.Context, f *db.FeeBalance, daysOverdue int) error {
	if daysOverdue <= r.cfg.GracePeriodDays || r.cfg.LateFeePercent <= 0 {
		return nil
	}

	target := LateFeeTarget(f.BalanceAmount, f.LateFee, r.cfg.LateFeePercent)
	if f.LateFee >= target {
		return nil
	}

	applied, err := r.store.AccrueLateFee(ctx, f.ID, target)
	if err != nil {
		return fmt.Errorf("accrue late fee for %s: %w", f.ID, err)
	}
	if applied {
		metrics.RecordLateFeeAccrued()
	}

	// When another run got there first the stored balance already holds
	// the same penalty.
	f.BalanceAmount += target - f.LateFee
	f.LateFee = target
	f.Status = db.FeeStatusOverdue
	return nil
}

func (r *FeeRunner) vars(f *db.FeeBalance, days int) render.Vars {
	return render.Vars{
		"parent_name":    orDefault(f.GuardianName, "Parent"),
		"student_name":   f.StudentName,
		"amount":         render.Rupees(f.BalanceAmount),
		"due_date":       render.Date(f.DueDate),
		"batch_name":     orDefault(f.BatchName, "N/A"),
		"days":           days,
		"late_fee":       render.Rupees(f.LateFee),
		"payment_link":   fmt.Sprintf("%s/pay/%s", r.cfg.PaymentBaseURL, f.ID),
		"institute_name": r.cfg.InstituteName,
	}
}

// requests builds one request per reachable channel: every configured phone
// channel for the guardian phone, and email to the guardian or student.
// A balance with no contact at all yields a single request that fails
// validation, so the gap is visible in the audit log.
func (r *FeeRunner) requests(f *db.FeeBalance, tmpl *db.Template, days int) []dispatch.Request {
	vars := r.vars(f, days)
	body := render.Render(tmpl.Body, vars)

	mk := func(ch channel.Channel) dispatch.Request {
		return dispatch.Request{
			Channel:       ch,
			Body:          body,
			TemplateCode:  tmpl.Code,
			ReferenceType: RefFeeReminder,
			ReferenceID:   f.ID,
		}
	}

	var reqs []dispatch.Request
	if phone := strings.TrimSpace(deref(f.GuardianPhone)); phone != "" {
		for _, ch := range r.cfg.PhoneChannels {
			req := mk(ch)
			req.RecipientPhone = phone
			reqs = append(reqs, req)
		}
	}

	email := strings.TrimSpace(deref(f.GuardianEmail))
	if email == "" {
		email = strings.TrimSpace(deref(f.StudentEmail))
	}
	if email != "" {
		req := mk(channel.Email)
		req.RecipientEmail = email
		req.Subject = subject(tmpl, vars, fmt.Sprintf("Fee Reminder - %s - %s", f.StudentName, r.cfg.InstituteName))
		reqs = append(reqs, req)
	}

	if len(reqs) == 0 {
		reqs = append(reqs, mk(r.cfg.PhoneChannels[0]))
	}
	return reqs
}

// daysBetween counts calendar days from a to b, ignoring time of day and zone.
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	from := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	to := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(to.Sub(from).Hours() / 24)
}
