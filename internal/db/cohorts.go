package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Dates are passed in explicitly rather than read from CURRENT_DATE so that
// "today" follows the configured institute timezone.

const feeBalanceColumns = `
	sf.id::text, sf.student_id::text,
	s.first_name || ' ' || s.last_name AS student_name,
	s.email, s.father_name, s.father_phone, s.father_email,
	b.name,
	sf.balance_amount, sf.late_fee, sf.due_date, sf.status
`

const feeBalanceFrom = `
	FROM student_fees sf
	JOIN students s ON sf.student_id = s.id
	LEFT JOIN batches b ON sf.batch_id = b.id
`

// FeesDueOn returns open balances whose due date is exactly day.
func (r *Repository) FeesDueOn(ctx context.Context, day time.Time) ([]*FeeBalance, error) {
	query := `SELECT ` + feeBalanceColumns + feeBalanceFrom + `
		WHERE sf.status IN ('pending', 'partial', 'overdue')
		AND sf.due_date = $1::date
		ORDER BY sf.due_date, sf.id
	`

	rows, err := r.db.Pool().Query(ctx, query, day.Format(time.DateOnly))
	if err != nil {
		r.logger.Error("failed to query fees due", zap.Error(err), zap.Time("day", day))
		return nil, fmt.Errorf("query fees due: %w", storeErr(err))
	}
	return collectFeeBalances(rows)
}

// OverdueFees returns open balances whose due date is before asOf.
func (r *Repository) OverdueFees(ctx context.Context, asOf time.Time) ([]*FeeBalance, error) {
	query := `SELECT ` + feeBalanceColumns + feeBalanceFrom + `
		WHERE sf.status IN ('pending', 'partial', 'overdue')
		AND sf.due_date < $1::date
		ORDER BY sf.due_date, sf.id
	`

	rows, err := r.db.Pool().Query(ctx, query, asOf.Format(time.DateOnly))
	if err != nil {
		r.logger.Error("failed to query overdue fees", zap.Error(err), zap.Time("as_of", asOf))
		return nil, fmt.Errorf("query overdue fees: %w", storeErr(err))
	}
	return collectFeeBalances(rows)
}

func collectFeeBalances(rows pgx.Rows) ([]*FeeBalance, error) {
	defer rows.Close()

	var balances []*FeeBalance
	for rows.Next() {
		var f FeeBalance
		err := rows.Scan(
			&f.ID,
			&f.StudentID,
			&f.StudentName,
			&f.StudentEmail,
			&f.GuardianName,
			&f.GuardianPhone,
			&f.GuardianEmail,
			&f.BatchName,
			&f.BalanceAmount,
			&f.LateFee,
			&f.DueDate,
			&f.Status,
		)
		if err != nil {
			return nil, fmt.Errorf("scan fee balance: %w", storeErr(err))
		}
		balances = append(balances, &f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", storeErr(err))
	}

	return balances, nil
}

// AccrueLateFee raises the recorded late fee of a balance to target and adds
// the shortfall to the balance. It never lowers a late fee, so repeated calls
// with the same target change nothing. applied reports whether a row changed.
func (r *Repository) AccrueLateFee(ctx context.Context, feeID string, target float64) (bool, error) {
	query := `
		UPDATE student_fees
		SET balance_amount = balance_amount + ($2 - late_fee),
			late_fee = $2,
			status = 'overdue',
			updated_at = NOW()
		WHERE id = $1 AND late_fee < $2
	`

	result, err := r.db.Pool().Exec(ctx, query, feeID, target)
	if err != nil {
		r.logger.Error("failed to accrue late fee",
			zap.Error(err),
			zap.String("fee_id", feeID),
			zap.Float64("target", target),
		)
		return false, fmt.Errorf("accrue late fee: %w", storeErr(err))
	}

	applied := result.RowsAffected() > 0
	if applied {
		r.logger.Info("late fee accrued",
			zap.String("fee_id", feeID),
			zap.Float64("late_fee", target),
		)
	}

	return applied, nil
}

// AbsenteesOn returns absent marks recorded for day. An empty batchID means every batch.
func (r *Repository) AbsenteesOn(ctx context.Context, day time.Time, batchID string) ([]*Absentee, error) {
	query := `
		SELECT
			sa.id::text, sa.student_id::text,
			s.first_name || ' ' || s.last_name AS student_name,
			s.father_name, s.father_phone,
			b.name, sa.attendance_date
		FROM student_attendance sa
		JOIN students s ON sa.student_id = s.id
		JOIN batches b ON sa.batch_id = b.id
		WHERE sa.attendance_date = $1::date
		AND sa.status = 'absent'
		AND ($2 = '' OR sa.batch_id::text = $2)
		ORDER BY b.name, student_name
	`

	rows, err := r.db.Pool().Query(ctx, query, day.Format(time.DateOnly), batchID)
	if err != nil {
		r.logger.Error("failed to query absentees", zap.Error(err), zap.Time("day", day))
		return nil, fmt.Errorf("query absentees: %w", storeErr(err))
	}
	defer rows.Close()

	var absentees []*Absentee
	for rows.Next() {
		var a Absentee
		err := rows.Scan(
			&a.AttendanceID,
			&a.StudentID,
			&a.StudentName,
			&a.GuardianName,
			&a.GuardianPhone,
			&a.BatchName,
			&a.AttendanceDate,
		)
		if err != nil {
			return nil, fmt.Errorf("scan absentee: %w", storeErr(err))
		}
		absentees = append(absentees, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", storeErr(err))
	}

	return absentees, nil
}

// lowAttendanceQuery reads vw_attendance_summary, which exposes student_id,
// student_name, batch_name and attendance_percentage but no batch id. The
// batch filter resolves the id to its name.
const lowAttendanceQuery = `
	SELECT
		v.student_id::text, v.student_name, s.phone,
		s.father_name, s.father_phone,
		v.batch_name, v.attendance_percentage
	FROM vw_attendance_summary v
	JOIN students s ON v.student_id = s.id
	WHERE v.attendance_percentage < $1
	AND ($2 = '' OR v.batch_name = (SELECT name FROM batches WHERE id::text = $2))
	ORDER BY v.attendance_percentage ASC
`

// LowAttendance returns students whose attendance percentage is below threshold.
func (r *Repository) LowAttendance(ctx context.Context, threshold float64, batchID string) ([]*LowAttendance, error) {
	rows, err := r.db.Pool().Query(ctx, lowAttendanceQuery, threshold, batchID)
	if err != nil {
		r.logger.Error("failed to query low attendance", zap.Error(err))
		return nil, fmt.Errorf("query low attendance: %w", storeErr(err))
	}
	defer rows.Close()

	var students []*LowAttendance
	for rows.Next() {
		var l LowAttendance
		err := rows.Scan(
			&l.StudentID,
			&l.StudentName,
			&l.Phone,
			&l.GuardianName,
			&l.GuardianPhone,
			&l.BatchName,
			&l.Percentage,
		)
		if err != nil {
			return nil, fmt.Errorf("scan low attendance: %w", storeErr(err))
		}
		students = append(students, &l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", storeErr(err))
	}

	return students, nil
}

// AbsenceStreaks returns runs of consecutive absent marks of at least minRun
// days, considering only marks on or after since. Consecutive means adjacent
// calendar dates; a date gap starts a new run.
func (r *Repository) AbsenceStreaks(ctx context.Context, minRun int, since time.Time) ([]*AbsenceStreak, error) {
	query := `
		WITH absences AS (
			SELECT
				student_id,
				batch_id,
				attendance_date,
				attendance_date - ROW_NUMBER() OVER (
					PARTITION BY student_id, batch_id
					ORDER BY attendance_date
				)::INTEGER AS streak_group
			FROM student_attendance
			WHERE status = 'absent'
			AND attendance_date >= $2::date
		),
		streaks AS (
			SELECT
				student_id,
				batch_id,
				COUNT(*) AS consecutive_days,
				MAX(attendance_date) AS last_absent_date
			FROM absences
			GROUP BY student_id, batch_id, streak_group
			HAVING COUNT(*) >= $1
		)
		SELECT
			st.student_id::text,
			s.first_name || ' ' || s.last_name AS student_name,
			s.father_name, s.father_phone,
			b.name, st.consecutive_days, st.last_absent_date
		FROM streaks st
		JOIN students s ON st.student_id = s.id
		JOIN batches b ON st.batch_id = b.id
		ORDER BY st.consecutive_days DESC, student_name
	`

	rows, err := r.db.Pool().Query(ctx, query, minRun, since.Format(time.DateOnly))
	if err != nil {
		r.logger.Error("failed to query absence streaks", zap.Error(err))
		return nil, fmt.Errorf("query absence streaks: %w", storeErr(err))
	}
	defer rows.Close()

	var streaks []*AbsenceStreak
	for rows.Next() {
		var a AbsenceStreak
		err := rows.Scan(
			&a.StudentID,
			&a.StudentName,
			&a.GuardianName,
			&a.GuardianPhone,
			&a.BatchName,
			&a.ConsecutiveDays,
			&a.LastAbsentDate,
		)
		if err != nil {
			return nil, fmt.Errorf("scan absence streak: %w", storeErr(err))
		}
		streaks = append(streaks, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", storeErr(err))
	}

	return streaks, nil
}
