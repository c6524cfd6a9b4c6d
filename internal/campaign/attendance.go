package campaign

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lalithlochan/herald/internal/channel"
	"github.com/lalithlochan/herald/internal/db"
	"github.com/lalithlochan/herald/internal/dispatch"
	"github.com/lalithlochan/herald/internal/render"
)

const (
	CampaignAbsenceAlerts      = "absence_alerts"
	CampaignLowAttendance      = "low_attendance_warnings"
	CampaignConsecutiveAbsence = "consecutive_absence_alerts"

	RefAttendanceAlert    = "attendance_alert"
	RefLowAttendance      = "low_attendance_warning"
	RefConsecutiveAbsence = "consecutive_absence_alert"

	TemplateAttendanceAbsent      = "ATTENDANCE_ABSENT"
	TemplateAttendanceLow         = "ATTENDANCE_LOW"
	TemplateAttendanceConsecutive = "ATTENDANCE_CONSECUTIVE"
)

// consecutiveFallback is used when ATTENDANCE_CONSECUTIVE is missing, so the
// most urgent alert still goes out.
const consecutiveFallback = "Dear {{parent_name}}, your ward {{student_name}} has been absent for " +
	"{{days}} consecutive days in {{batch_name}}. Please contact the institute immediately. - {{institute_name}}"

// AttendanceStore is what the attendance runner needs from the store.
type AttendanceStore interface {
	AbsenteesOn(ctx context.Context, day time.Time, batchID string) ([]*db.Absentee, error)
	LowAttendance(ctx context.Context, threshold float64, batchID string) ([]*db.LowAttendance, error)
	AbsenceStreaks(ctx context.Context, minRun int, since time.Time) ([]*db.AbsenceStreak, error)
}

type AttendanceConfig struct {
	LowThreshold   float64
	ConsecutiveMin int
	LookbackDays   int
	InstituteName  string
}

// AttendanceRunner runs the absentee, low attendance and consecutive
// absence sweeps. Sweeps are independent of each other.
type AttendanceRunner struct {
	base
	store AttendanceStore
	cfg   AttendanceConfig
}

func NewAttendanceRunner(store AttendanceStore, cfg AttendanceConfig, deps Deps) *AttendanceRunner {
	if cfg.LowThreshold <= 0 {
		cfg.LowThreshold = 75
	}
	if cfg.ConsecutiveMin <= 0 {
		cfg.ConsecutiveMin = 3
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = 30
	}
	return &AttendanceRunner{
		base:  newBase(deps, "attendance"),
		store: store,
		cfg:   cfg,
	}
}

// SendAbsenceAlerts messages the guardian of every student marked absent
// today. An empty batchID covers every batch.
func (r *AttendanceRunner) SendAbsenceAlerts(ctx context.Context, batchID string) (*Result, error) {
	result := newResult(CampaignAbsenceAlerts)
	defer r.finish(result)

	absentees, err := r.store.AbsenteesOn(ctx, r.today(), batchID)
	if err != nil {
		return result, fmt.Errorf("absence alerts: %w", err)
	}
	if len(absentees) == 0 {
		return result, nil
	}

	tmpl, found, err := r.template(ctx, TemplateAttendanceAbsent)
	if err != nil {
		return result, err
	}
	if !found {
		for range absentees {
			result.record("", false, 0)
		}
		return result, nil
	}

	err = fanOut(ctx, r.concurrency, absentees, func(ctx context.Context, a *db.Absentee) error {
		body := render.Render(tmpl.Body, render.Vars{
			"parent_name":    orDefault(a.GuardianName, "Parent"),
			"student_name":   a.StudentName,
			"date":           render.Date(a.AttendanceDate),
			"batch_name":     a.BatchName,
			"institute_name": r.cfg.InstituteName,
		})
		sent, attempts, err := r.deliver(ctx, []dispatch.Request{{
			Channel:        channel.WhatsApp,
			RecipientPhone: deref(a.GuardianPhone),
			Body:           body,
			TemplateCode:   tmpl.Code,
			ReferenceType:  RefAttendanceAlert,
			ReferenceID:    a.AttendanceID,
		}})
		result.record("", sent, attempts)
		return err
	})
	if err != nil {
		return result, fmt.Errorf("absence alerts: %w", err)
	}
	return result, nil
}

// SendLowAttendanceWarnings warns guardians of students below the
// attendance threshold, falling back to the student's own phone.
func (r *AttendanceRunner) SendLowAttendanceWarnings(ctx context.Context, batchID string) (*Result, error) {
	result := newResult(CampaignLowAttendance)
	defer r.finish(result)

	students, err := r.store.LowAttendance(ctx, r.cfg.LowThreshold, batchID)
	if err != nil {
		return result, fmt.Errorf("low attendance warnings: %w", err)
	}
	if len(students) == 0 {
		return result, nil
	}

	tmpl, found, err := r.template(ctx, TemplateAttendanceLow)
	if err != nil {
		return result, err
	}
	if !found {
		for range students {
			result.record("", false, 0)
		}
		return result, nil
	}

	err = fanOut(ctx, r.concurrency, students, func(ctx context.Context, s *db.LowAttendance) error {
		phone := strings.TrimSpace(deref(s.GuardianPhone))
		if phone == "" {
			phone = strings.TrimSpace(deref(s.Phone))
		}
		body := render.Render(tmpl.Body, render.Vars{
			"parent_name":    orDefault(s.GuardianName, "Parent"),
			"student_name":   s.StudentName,
			"percentage":     render.Percent(s.Percentage),
			"batch_name":     s.BatchName,
			"threshold":      render.Percent(r.cfg.LowThreshold),
			"institute_name": r.cfg.InstituteName,
		})
		sent, attempts, err := r.deliver(ctx, []dispatch.Request{{
			Channel:        channel.WhatsApp,
			RecipientPhone: phone,
			Body:           body,
			TemplateCode:   tmpl.Code,
			ReferenceType:  RefLowAttendance,
			ReferenceID:    s.StudentID,
		}})
		result.record("", sent, attempts)
		return err
	})
	if err != nil {
		return result, fmt.Errorf("low attendance warnings: %w", err)
	}
	return result, nil
}

// SendConsecutiveAbsenceAlerts escalates unbroken absence runs. Every match
// is sent on WhatsApp and on SMS, each attempted whatever the other's outcome.
func (r *AttendanceRunner) SendConsecutiveAbsenceAlerts(ctx context.Context) (*Result, error) {
	result := newResult(CampaignConsecutiveAbsence)
	defer r.finish(result)

	since := r.today().AddDate(0, 0, -r.cfg.LookbackDays)
	streaks, err := r.store.AbsenceStreaks(ctx, r.cfg.ConsecutiveMin, since)
	if err != nil {
		return result, fmt.Errorf("consecutive absence alerts: %w", err)
	}
	if len(streaks) == 0 {
		return result, nil
	}

	body, code := consecutiveFallback, ""
	tmpl, found, err := r.template(ctx, TemplateAttendanceConsecutive)
	if err != nil {
		return result, err
	}
	if found {
		body, code = tmpl.Body, tmpl.Code
	} else {
		r.logger.Warn("using built-in consecutive absence message")
	}

	err = fanOut(ctx, r.concurrency, streaks, func(ctx context.Context, s *db.AbsenceStreak) error {
		text := render.Render(body, render.Vars{
			"parent_name":    orDefault(s.GuardianName, "Parent"),
			"student_name":   s.StudentName,
			"days":           s.ConsecutiveDays,
			"batch_name":     s.BatchName,
			"last_absent":    render.Date(s.LastAbsentDate),
			"institute_name": r.cfg.InstituteName,
		})
		phone := deref(s.GuardianPhone)

		reqs := make([]dispatch.Request, 0, 2)
		for _, ch := range []channel.Channel{channel.WhatsApp, channel.SMS} {
			reqs = append(reqs, dispatch.Request{
				Channel:        ch,
				RecipientPhone: phone,
				Body:           text,
				TemplateCode:   code,
				ReferenceType:  RefConsecutiveAbsence,
				ReferenceID:    s.StudentID,
			})
		}

		sent, attempts, err := r.deliver(ctx, reqs)
		result.record("", sent, attempts)
		return err
	})
	if err != nil {
		return result, fmt.Errorf("consecutive absence alerts: %w", err)
	}
	return result, nil
}
