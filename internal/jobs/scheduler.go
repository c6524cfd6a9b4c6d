// Package jobs exposes the named scheduler entry points. Something outside
// the process (the SQS trigger, the operator API or heraldctl) decides when
// a job runs; a Scheduler only runs it, isolated from every other job.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/herald/internal/campaign"
	"github.com/lalithlochan/herald/internal/metrics"
	"github.com/lalithlochan/herald/internal/redis"
)

const (
	DailyFeeReminders       = "daily-fee-reminders"
	OverdueSweep            = "overdue-sweep"
	DailyAbsenteeAlert      = "daily-absentee-alert"
	WeeklyLowAttendance     = "weekly-low-attendance"
	DailyConsecutiveAbsence = "daily-consecutive-absence"
	DailySummary            = "daily-summary"
	WeeklySummary           = "weekly-summary"
	MonthlySummary          = "monthly-summary"
	DailyFollowUps          = "daily-follow-ups"
	AllDaily                = "all-daily"
)

// dailyJobs run, in order, under AllDaily.
var dailyJobs = []string{
	DailyFeeReminders,
	OverdueSweep,
	DailyAbsenteeAlert,
	DailyConsecutiveAbsence,
	DailySummary,
	DailyFollowUps,
}

// ErrUnknownJob is returned by Run for a name that is not a job.
var ErrUnknownJob = errors.New("unknown job")

// ErrAlreadyRunning is recorded on the report of a run that found the job
// lock held.
var ErrAlreadyRunning = errors.New("already running")

const publishTimeout = 5 * time.Second

type FeeRunner interface {
	SendReminders(ctx context.Context, offsets ...int) (*campaign.Result, error)
	SendOverdue(ctx context.Context) (*campaign.Result, error)
}

type AttendanceRunner interface {
	SendAbsenceAlerts(ctx context.Context, batchID string) (*campaign.Result, error)
	SendLowAttendanceWarnings(ctx context.Context, batchID string) (*campaign.Result, error)
	SendConsecutiveAbsenceAlerts(ctx context.Context) (*campaign.Result, error)
}

type DigestRunner interface {
	SendDailySummary(ctx context.Context) (*campaign.Result, error)
	SendWeeklySummary(ctx context.Context) (*campaign.Result, error)
	SendMonthlySummary(ctx context.Context) (*campaign.Result, error)
	SendFollowUpDigests(ctx context.Context) (*campaign.Result, error)
}

// Locker hands out per-job run locks. *redis.JobLocker satisfies it.
type Locker interface {
	Acquire(ctx context.Context, job string) (func(context.Context), error)
}

// Reporter publishes finished reports. *sns.ReportPublisher satisfies it.
type Reporter interface {
	PublishReport(ctx context.Context, r *Report) error
}

// Report is what every entry point returns. Error is set when the job
// failed; a failed job never affects another job.
type Report struct {
	Job        string             `json:"job"`
	RunID      string             `json:"run_id"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Results    []*campaign.Result `json:"results"`
	Error      string             `json:"error,omitempty"`
	Skipped    bool               `json:"skipped,omitempty"`
}

func (r *Report) Failed() bool { return r.Error != "" }

// Outcome is the job_runs metric label: ok, error or skipped.
func (r *Report) Outcome() string {
	switch {
	case r.Skipped:
		return "skipped"
	case r.Failed():
		return "error"
	default:
		return "ok"
	}
}

type Config struct {
	Fees       FeeRunner
	Attendance AttendanceRunner
	Digests    DigestRunner
	// Locker and Reporter are optional.
	Locker   Locker
	Reporter Reporter
	Now      func() time.Time
	Logger   *zap.Logger
}

type Scheduler struct {
	fees       FeeRunner
	attendance AttendanceRunner
	digests    DigestRunner
	locker     Locker
	reporter   Reporter
	now        func() time.Time
	logger     *zap.Logger

	jobs map[string]func(context.Context) ([]*campaign.Result, error)
}

func New(cfg Config) *Scheduler {
	s := &Scheduler{
		fees:       cfg.Fees,
		attendance: cfg.Attendance,
		digests:    cfg.Digests,
		locker:     cfg.Locker,
		reporter:   cfg.Reporter,
		now:        cfg.Now,
		logger:     cfg.Logger.Named("jobs"),
	}
	if s.now == nil {
		s.now = time.Now
	}

	s.jobs = map[string]func(context.Context) ([]*campaign.Result, error){
		DailyFeeReminders: func(ctx context.Context) ([]*campaign.Result, error) {
			return one(s.fees.SendReminders(ctx))
		},
		OverdueSweep: func(ctx context.Context) ([]*campaign.Result, error) {
			return one(s.fees.SendOverdue(ctx))
		},
		DailyAbsenteeAlert: func(ctx context.Context) ([]*campaign.Result, error) {
			return one(s.attendance.SendAbsenceAlerts(ctx, ""))
		},
		WeeklyLowAttendance: func(ctx context.Context) ([]*campaign.Result, error) {
			return one(s.attendance.SendLowAttendanceWarnings(ctx, ""))
		},
		DailyConsecutiveAbsence: func(ctx context.Context) ([]*campaign.Result, error) {
			return one(s.attendance.SendConsecutiveAbsenceAlerts(ctx))
		},
		DailySummary: func(ctx context.Context) ([]*campaign.Result, error) {
			return one(s.digests.SendDailySummary(ctx))
		},
		WeeklySummary: func(ctx context.Context) ([]*campaign.Result, error) {
			return one(s.digests.SendWeeklySummary(ctx))
		},
		MonthlySummary: func(ctx context.Context) ([]*campaign.Result, error) {
			return one(s.digests.SendMonthlySummary(ctx))
		},
		DailyFollowUps: func(ctx context.Context) ([]*campaign.Result, error) {
			return one(s.digests.SendFollowUpDigests(ctx))
		},
	}

	return s
}

func one(r *campaign.Result, err error) ([]*campaign.Result, error) {
	if r == nil {
		return nil, err
	}
	return []*campaign.Result{r}, err
}

// Names lists every job Run accepts.
func Names() []string {
	return []string{
		DailyFeeReminders,
		OverdueSweep,
		DailyAbsenteeAlert,
		WeeklyLowAttendance,
		DailyConsecutiveAbsence,
		DailySummary,
		WeeklySummary,
		MonthlySummary,
		DailyFollowUps,
		AllDaily,
	}
}

// IsJob reports whether name is a job Run accepts.
func IsJob(name string) bool {
	for _, n := range Names() {
		if n == name {
			return true
		}
	}
	return false
}

// Run runs the named job. The error is ErrUnknownJob or nil; job failures
// are on the report.
func (s *Scheduler) Run(ctx context.Context, name string) (*Report, error) {
	if name == AllDaily {
		return s.RunAllDaily(ctx), nil
	}
	fn, ok := s.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.run(ctx, name, fn), nil
}

// RunFeeOffset sends the fee reminders of a single ladder offset. It shares
// the daily-fee-reminders lock.
func (s *Scheduler) RunFeeOffset(ctx context.Context, offset int) *Report {
	return s.run(ctx, DailyFeeReminders, func(ctx context.Context) ([]*campaign.Result, error) {
		return one(s.fees.SendReminders(ctx, offset))
	})
}

// RunAllDaily runs every daily job one after another. Each job keeps its own
// lock and report; the combined report carries every result and every error.
func (s *Scheduler) RunAllDaily(ctx context.Context) *Report {
	report := &Report{
		Job:       AllDaily,
		RunID:     uuid.NewString(),
		StartedAt: s.now(),
	}

	var failures []string
	for _, name := range dailyJobs {
		r := s.run(ctx, name, s.jobs[name])
		report.Results = append(report.Results, r.Results...)
		if r.Failed() {
			failures = append(failures, name+": "+r.Error)
		}
	}

	report.FinishedAt = s.now()
	report.Error = strings.Join(failures, "; ")
	return report
}

func (s *Scheduler) run(ctx context.Context, name string, fn func(context.Context) ([]*campaign.Result, error)) (report *Report) {
	report = &Report{
		Job:       name,
		RunID:     uuid.NewString(),
		StartedAt: s.now(),
	}
	logger := s.logger.With(zap.String("job", name), zap.String("run_id", report.RunID))

	defer func() {
		if p := recover(); p != nil {
			logger.Error("job panicked", zap.Any("panic", p), zap.Stack("stack"))
			report.Error = fmt.Sprintf("panic: %v", p)
		}
		report.FinishedAt = s.now()
		s.complete(report, logger)
	}()

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, name)
		switch {
		case errors.Is(err, redis.ErrLockHeld):
			logger.Warn("job already running, skipping")
			report.Error = ErrAlreadyRunning.Error()
			report.Skipped = true
			return report
		case err != nil:
			logger.Warn("job lock unavailable, running unlocked", zap.Error(err))
		default:
			defer release(context.WithoutCancel(ctx))
		}
	}

	logger.Info("job started")
	results, err := fn(ctx)
	report.Results = results
	if err != nil {
		logger.Error("job failed", zap.Error(err))
		report.Error = err.Error()
	}
	return report
}

func (s *Scheduler) complete(report *Report, logger *zap.Logger) {
	elapsed := report.FinishedAt.Sub(report.StartedAt)
	metrics.RecordJobRun(report.Job, report.Outcome(), elapsed)

	logger.Info("job finished",
		zap.String("outcome", report.Outcome()),
		zap.Int("campaigns", len(report.Results)),
		zap.Duration("duration", elapsed),
	)

	if s.reporter == nil || report.Skipped {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := s.reporter.PublishReport(ctx, report); err != nil {
		logger.Warn("failed to publish job report", zap.Error(err))
	}
}
