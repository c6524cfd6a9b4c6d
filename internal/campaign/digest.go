package campaign

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lalithlochan/herald/internal/channel"
	"github.com/lalithlochan/herald/internal/db"
	"github.com/lalithlochan/herald/internal/dispatch"
	"github.com/lalithlochan/herald/internal/render"
)

const (
	CampaignDailySummary   = "daily_summary"
	CampaignWeeklySummary  = "weekly_summary"
	CampaignMonthlySummary = "monthly_summary"
	CampaignFollowUps      = "follow_up_digest"
)

// DigestStore is what the digest runner needs from the store.
type DigestStore interface {
	DailySummary(ctx context.Context, day time.Time) (*db.DailySummary, error)
	PeriodSummary(ctx context.Context, from, to time.Time) (*db.PeriodSummary, error)
	DueFollowUps(ctx context.Context, day time.Time) ([]*db.FollowUp, error)
}

type DigestConfig struct {
	InstituteName string
	AdminPhone    string
	AdminEmail    string
}

// DigestRunner sends operator summaries to the institute admin and
// follow-up lists to counsellors.
type DigestRunner struct {
	base
	store DigestStore
	cfg   DigestConfig
}

func NewDigestRunner(store DigestStore, cfg DigestConfig, deps Deps) *DigestRunner {
	return &DigestRunner{
		base:  newBase(deps, "digest"),
		store: store,
		cfg:   cfg,
	}
}

// SendDailySummary reports today's attendance, collections and admissions
// to the admin phone on WhatsApp and to the admin email.
func (r *DigestRunner) SendDailySummary(ctx context.Context) (*Result, error) {
	result := newResult(CampaignDailySummary)
	defer r.finish(result)

	today := r.today()
	s, err := r.store.DailySummary(ctx, today)
	if err != nil {
		return result, fmt.Errorf("daily summary: %w", err)
	}

	subject := fmt.Sprintf("%s Daily Summary - %s", r.cfg.InstituteName, render.Date(today))
	body := strings.Join([]string{
		subject,
		"",
		fmt.Sprintf("Attendance: %d/%d present, %d absent", s.Present, s.StudentsMarked, s.Absent),
		fmt.Sprintf("Collections: %s (%d txns)", render.Rupees(s.TotalCollected), s.Transactions),
		fmt.Sprintf("New Inquiries: %d", s.NewInquiries),
		fmt.Sprintf("New Enrollments: %d", s.NewEnrollments),
	}, "\n")

	return result, r.sendAdmin(ctx, result, true, subject, body, CampaignDailySummary)
}

// SendWeeklySummary reports the last seven days to the admin email.
func (r *DigestRunner) SendWeeklySummary(ctx context.Context) (*Result, error) {
	result := newResult(CampaignWeeklySummary)
	defer r.finish(result)

	to := r.today()
	from := to.AddDate(0, 0, -7)
	s, err := r.store.PeriodSummary(ctx, from, to)
	if err != nil {
		return result, fmt.Errorf("weekly summary: %w", err)
	}

	subject := fmt.Sprintf("%s Weekly Report - %s to %s", r.cfg.InstituteName, render.Date(from), render.Date(to))
	body := strings.Join([]string{
		subject,
		"",
		fmt.Sprintf("Revenue: %s (%d txns)", render.Rupees(s.TotalCollected), s.Transactions),
		fmt.Sprintf("Average attendance: %s%%", render.Percent(s.AvgAttendance)),
		fmt.Sprintf("New inquiries: %d", s.NewInquiries),
		fmt.Sprintf("Conversions: %d", s.Conversions),
	}, "\n")

	return result, r.sendAdmin(ctx, result, false, subject, body, CampaignWeeklySummary)
}

// SendMonthlySummary reports the previous calendar month to the admin email.
func (r *DigestRunner) SendMonthlySummary(ctx context.Context) (*Result, error) {
	result := newResult(CampaignMonthlySummary)
	defer r.finish(result)

	from, to := previousMonth(r.today())
	s, err := r.store.PeriodSummary(ctx, from, to)
	if err != nil {
		return result, fmt.Errorf("monthly summary: %w", err)
	}

	subject := fmt.Sprintf("%s Monthly Report - %s", r.cfg.InstituteName, from.Format("January 2006"))
	body := strings.Join([]string{
		subject,
		"",
		fmt.Sprintf("Revenue: %s from %d payers", render.Rupees(s.TotalCollected), s.UniquePayers),
		fmt.Sprintf("Outstanding: %s across %d balances", render.Rupees(s.OutstandingAmount), s.OutstandingCount),
		fmt.Sprintf("New enrollments: %d", s.NewEnrollments),
		fmt.Sprintf("Dropouts: %d", s.Dropouts),
	}, "\n")

	return result, r.sendAdmin(ctx, result, false, subject, body, CampaignMonthlySummary)
}

// SendFollowUpDigests emails each counsellor the inquiries due for follow-up.
// Unassigned inquiries go to the admin email.
func (r *DigestRunner) SendFollowUpDigests(ctx context.Context) (*Result, error) {
	result := newResult(CampaignFollowUps)
	defer r.finish(result)

	today := r.today()
	followUps, err := r.store.DueFollowUps(ctx, today)
	if err != nil {
		return result, fmt.Errorf("follow-up digest: %w", err)
	}

	groups := make(map[string][]*db.FollowUp)
	for _, f := range followUps {
		to := strings.TrimSpace(deref(f.CounselorEmail))
		if to == "" {
			to = r.cfg.AdminEmail
		}
		groups[to] = append(groups[to], f)
	}

	recipients := make([]string, 0, len(groups))
	for to := range groups {
		recipients = append(recipients, to)
	}
	sort.Strings(recipients)

	err = fanOut(ctx, r.concurrency, recipients, func(ctx context.Context, to string) error {
		items := groups[to]
		lines := []string{fmt.Sprintf("%d follow-ups due on %s:", len(items), render.Date(today)), ""}
		for _, f := range items {
			lines = append(lines, fmt.Sprintf("- %s (%s) %s, status %s, due %s",
				f.StudentName,
				orDefault(f.Phone, "no phone"),
				orDefault(f.CourseInterest, "course not set"),
				f.Status,
				render.Date(f.NextFollowUp),
			))
		}

		cohort := to
		if cohort == "" {
			cohort = "unassigned"
		}
		sent, attempts, err := r.deliver(ctx, []dispatch.Request{{
			Channel:        channel.Email,
			RecipientEmail: to,
			Subject:        fmt.Sprintf("%s - Follow-ups due %s", r.cfg.InstituteName, render.Date(today)),
			Body:           strings.Join(lines, "\n"),
			ReferenceType:  CampaignFollowUps,
			ReferenceID:    to,
		}})
		result.record(cohort, sent, attempts)
		return err
	})
	if err != nil {
		return result, fmt.Errorf("follow-up digest: %w", err)
	}
	return result, nil
}

// sendAdmin delivers one digest to the admin as a single recipient.
func (r *DigestRunner) sendAdmin(ctx context.Context, result *Result, phone bool, subject, body, ref string) error {
	var reqs []dispatch.Request
	if phone && r.cfg.AdminPhone != "" {
		reqs = append(reqs, dispatch.Request{
			Channel:        channel.WhatsApp,
			RecipientPhone: r.cfg.AdminPhone,
			Body:           body,
			ReferenceType:  ref,
		})
	}
	if r.cfg.AdminEmail != "" {
		reqs = append(reqs, dispatch.Request{
			Channel:        channel.Email,
			RecipientEmail: r.cfg.AdminEmail,
			Subject:        subject,
			Body:           body,
			ReferenceType:  ref,
		})
	}
	if len(reqs) == 0 {
		r.logger.Warn("no admin contact configured, digest not sent")
		return nil
	}

	sent, attempts, err := r.deliver(ctx, reqs)
	result.record("", sent, attempts)
	return err
}

// previousMonth returns the first and last day of the month before day.
func previousMonth(day time.Time) (time.Time, time.Time) {
	first := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, day.Location())
	return first.AddDate(0, -1, 0), first.AddDate(0, 0, -1)
}
