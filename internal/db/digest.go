package db

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DailySummary aggregates attendance, collections and admissions for day.
func (r *Repository) DailySummary(ctx context.Context, day time.Time) (*DailySummary, error) {
	query := `
		SELECT
			(SELECT COUNT(DISTINCT student_id) FROM student_attendance WHERE attendance_date = $1::date),
			(SELECT COUNT(*) FROM student_attendance WHERE attendance_date = $1::date AND status = 'present'),
			(SELECT COUNT(*) FROM student_attendance WHERE attendance_date = $1::date AND status = 'absent'),
			(SELECT COUNT(*) FROM fee_payments WHERE payment_date = $1::date AND status = 'success'),
			(SELECT COALESCE(SUM(amount), 0) FROM fee_payments WHERE payment_date = $1::date AND status = 'success'),
			(SELECT COUNT(*) FROM inquiries WHERE created_at::date = $1::date),
			(SELECT COUNT(*) FROM students WHERE enrollment_date = $1::date)
	`

	s := DailySummary{Date: day}
	err := r.db.Pool().QueryRow(ctx, query, day.Format(time.DateOnly)).Scan(
		&s.StudentsMarked,
		&s.Present,
		&s.Absent,
		&s.Transactions,
		&s.TotalCollected,
		&s.NewInquiries,
		&s.NewEnrollments,
	)
	if err != nil {
		r.logger.Error("failed to build daily summary", zap.Error(err), zap.Time("day", day))
		return nil, fmt.Errorf("query daily summary: %w", storeErr(err))
	}

	return &s, nil
}

// PeriodSummary aggregates activity between from and to, both inclusive.
// Outstanding figures are a snapshot of current open balances.
func (r *Repository) PeriodSummary(ctx context.Context, from, to time.Time) (*PeriodSummary, error) {
	query := `
		SELECT
			(SELECT COALESCE(SUM(amount), 0) FROM fee_payments
				WHERE payment_date BETWEEN $1::date AND $2::date AND status = 'success'),
			(SELECT COUNT(*) FROM fee_payments
				WHERE payment_date BETWEEN $1::date AND $2::date AND status = 'success'),
			(SELECT COUNT(DISTINCT student_id) FROM fee_payments
				WHERE payment_date BETWEEN $1::date AND $2::date AND status = 'success'),
			(SELECT COALESCE(ROUND(AVG(CASE WHEN status = 'present' THEN 100.0 ELSE 0 END), 2), 0)::float8
				FROM student_attendance WHERE attendance_date BETWEEN $1::date AND $2::date),
			(SELECT COUNT(*) FROM inquiries WHERE created_at::date BETWEEN $1::date AND $2::date),
			(SELECT COUNT(*) FROM inquiries WHERE conversion_date BETWEEN $1::date AND $2::date),
			(SELECT COALESCE(SUM(balance_amount), 0) FROM student_fees
				WHERE status IN ('pending', 'partial', 'overdue')),
			(SELECT COUNT(*) FROM student_fees WHERE status IN ('pending', 'partial', 'overdue')),
			(SELECT COUNT(*) FROM students WHERE enrollment_date BETWEEN $1::date AND $2::date),
			(SELECT COUNT(*) FROM students
				WHERE enrollment_date BETWEEN $1::date AND $2::date AND status = 'dropped')
	`

	s := PeriodSummary{From: from, To: to}
	err := r.db.Pool().QueryRow(ctx, query, from.Format(time.DateOnly), to.Format(time.DateOnly)).Scan(
		&s.TotalCollected,
		&s.Transactions,
		&s.UniquePayers,
		&s.AvgAttendance,
		&s.NewInquiries,
		&s.Conversions,
		&s.OutstandingAmount,
		&s.OutstandingCount,
		&s.NewEnrollments,
		&s.Dropouts,
	)
	if err != nil {
		r.logger.Error("failed to build period summary",
			zap.Error(err),
			zap.Time("from", from),
			zap.Time("to", to),
		)
		return nil, fmt.Errorf("query period summary: %w", storeErr(err))
	}

	return &s, nil
}

// DueFollowUps returns open inquiries whose follow-up date is on or before day.
func (r *Repository) DueFollowUps(ctx context.Context, day time.Time) ([]*FollowUp, error) {
	query := `
		SELECT
			i.id::text, i.student_name, i.phone, i.target_course, i.status,
			i.next_follow_up_date, u.email, u.phone
		FROM inquiries i
		LEFT JOIN users u ON i.assigned_counselor_id = u.id
		WHERE i.next_follow_up_date <= $1::date
		AND i.status NOT IN ('converted', 'lost')
		ORDER BY i.next_follow_up_date, i.student_name
	`

	rows, err := r.db.Pool().Query(ctx, query, day.Format(time.DateOnly))
	if err != nil {
		r.logger.Error("failed to query follow-ups", zap.Error(err))
		return nil, fmt.Errorf("query follow-ups: %w", storeErr(err))
	}
	defer rows.Close()

	var followUps []*FollowUp
	for rows.Next() {
		var f FollowUp
		err := rows.Scan(
			&f.InquiryID,
			&f.StudentName,
			&f.Phone,
			&f.CourseInterest,
			&f.Status,
			&f.NextFollowUp,
			&f.CounselorEmail,
			&f.CounselorPhone,
		)
		if err != nil {
			return nil, fmt.Errorf("scan follow-up: %w", storeErr(err))
		}
		followUps = append(followUps, &f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", storeErr(err))
	}

	return followUps, nil
}
