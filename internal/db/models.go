package db

import (
	"time"

	"github.com/google/uuid"
)

// Template is a notification template, looked up by code.
type Template struct {
	ID          int64     `json:"id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Subject     *string   `json:"subject,omitempty"`
	Body        string    `json:"body"`
	ChannelHint *string   `json:"channel_hint,omitempty"`
	IsActive    bool      `json:"is_active"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DeliveryAttempt is the audit record of one dispatch. Rows are never updated.
type DeliveryAttempt struct {
	ID             uuid.UUID  `json:"id"`
	TemplateCode   *string    `json:"template_code,omitempty"`
	Channel        string     `json:"channel"`
	RecipientPhone *string    `json:"recipient_phone,omitempty"`
	RecipientEmail *string    `json:"recipient_email,omitempty"`
	Subject        *string    `json:"subject,omitempty"`
	Body           string     `json:"body"`
	Status         string     `json:"status"`
	ErrorMessage   *string    `json:"error_message,omitempty"`
	ProviderRef    *string    `json:"provider_ref,omitempty"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	ReferenceType  string     `json:"reference_type"`
	ReferenceID    *string    `json:"reference_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Delivery status constants
const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// Fee status constants
const (
	FeeStatusPending = "pending"
	FeeStatusPartial = "partial"
	FeeStatusOverdue = "overdue"
	FeeStatusPaid    = "paid"
)

// FeeBalance is an outstanding student fee joined with student and guardian contact details.
type FeeBalance struct {
	ID            string    `json:"id"`
	StudentID     string    `json:"student_id"`
	StudentName   string    `json:"student_name"`
	StudentEmail  *string   `json:"student_email,omitempty"`
	GuardianName  *string   `json:"guardian_name,omitempty"`
	GuardianPhone *string   `json:"guardian_phone,omitempty"`
	GuardianEmail *string   `json:"guardian_email,omitempty"`
	BatchName     *string   `json:"batch_name,omitempty"`
	BalanceAmount float64   `json:"balance_amount"`
	LateFee       float64   `json:"late_fee"`
	DueDate       time.Time `json:"due_date"`
	Status        string    `json:"status"`
}

// Absentee is a single absent mark for a day.
type Absentee struct {
	AttendanceID   string    `json:"attendance_id"`
	StudentID      string    `json:"student_id"`
	StudentName    string    `json:"student_name"`
	GuardianName   *string   `json:"guardian_name,omitempty"`
	GuardianPhone  *string   `json:"guardian_phone,omitempty"`
	BatchName      string    `json:"batch_name"`
	AttendanceDate time.Time `json:"attendance_date"`
}

// LowAttendance is a student whose rolling attendance percentage is below a threshold.
type LowAttendance struct {
	StudentID     string  `json:"student_id"`
	StudentName   string  `json:"student_name"`
	Phone         *string `json:"phone,omitempty"`
	GuardianName  *string `json:"guardian_name,omitempty"`
	GuardianPhone *string `json:"guardian_phone,omitempty"`
	BatchName     string  `json:"batch_name"`
	Percentage    float64 `json:"percentage"`
}

// AbsenceStreak is an unbroken run of absent marks for a student in a batch.
type AbsenceStreak struct {
	StudentID       string    `json:"student_id"`
	StudentName     string    `json:"student_name"`
	GuardianName    *string   `json:"guardian_name,omitempty"`
	GuardianPhone   *string   `json:"guardian_phone,omitempty"`
	BatchName       string    `json:"batch_name"`
	ConsecutiveDays int       `json:"consecutive_days"`
	LastAbsentDate  time.Time `json:"last_absent_date"`
}

// DailySummary aggregates one day of institute activity.
type DailySummary struct {
	Date           time.Time `json:"date"`
	StudentsMarked int       `json:"students_marked"`
	Present        int       `json:"present"`
	Absent         int       `json:"absent"`
	Transactions   int       `json:"transactions"`
	TotalCollected float64   `json:"total_collected"`
	NewInquiries   int       `json:"new_inquiries"`
	NewEnrollments int       `json:"new_enrollments"`
}

// PeriodSummary aggregates activity between two dates, inclusive.
type PeriodSummary struct {
	From              time.Time `json:"from"`
	To                time.Time `json:"to"`
	TotalCollected    float64   `json:"total_collected"`
	Transactions      int       `json:"transactions"`
	UniquePayers      int       `json:"unique_payers"`
	AvgAttendance     float64   `json:"avg_attendance"`
	NewInquiries      int       `json:"new_inquiries"`
	Conversions       int       `json:"conversions"`
	OutstandingAmount float64   `json:"outstanding_amount"`
	OutstandingCount  int       `json:"outstanding_count"`
	NewEnrollments    int       `json:"new_enrollments"`
	Dropouts          int       `json:"dropouts"`
}

// FollowUp is an admission inquiry due for a counsellor follow-up.
type FollowUp struct {
	InquiryID      string    `json:"inquiry_id"`
	StudentName    string    `json:"student_name"`
	Phone          *string   `json:"phone,omitempty"`
	CourseInterest *string   `json:"course_interest,omitempty"`
	Status         string    `json:"status"`
	NextFollowUp   time.Time `json:"next_follow_up_date"`
	CounselorEmail *string   `json:"counselor_email,omitempty"`
	CounselorPhone *string   `json:"counselor_phone,omitempty"`
}

// DeliveryFilter narrows ListDeliveryAttempts.
type DeliveryFilter struct {
	Channel       string
	Status        string
	ReferenceType string
	Limit         int
}
