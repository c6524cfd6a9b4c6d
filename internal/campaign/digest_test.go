package campaign

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/lalithlochan/herald/internal/channel"
	"github.com/lalithlochan/herald/internal/db"
)

type fakeDigestStore struct {
	daily     *db.DailySummary
	followUps []*db.FollowUp
	from, to  time.Time
}

func (s *fakeDigestStore) DailySummary(ctx context.Context, day time.Time) (*db.DailySummary, error) {
	d := *s.daily
	d.Date = day
	return &d, nil
}

func (s *fakeDigestStore) PeriodSummary(ctx context.Context, from, to time.Time) (*db.PeriodSummary, error) {
	s.from, s.to = from, to
	return &db.PeriodSummary{From: from, To: to, TotalCollected: 250000, UniquePayers: 42}, nil
}

func (s *fakeDigestStore) DueFollowUps(ctx context.Context, day time.Time) ([]*db.FollowUp, error) {
	return s.followUps, nil
}

func newDigestRunner(h *harness, store DigestStore) *DigestRunner {
	return NewDigestRunner(store, DigestConfig{
		InstituteName: "EduPrime",
		AdminPhone:    "9876543210",
		AdminEmail:    "admin@eduprime.example",
	}, h.deps())
}

func TestSendDailySummary(t *testing.T) {
	h := newHarness(day("2025-01-13"))
	store := &fakeDigestStore{daily: &db.DailySummary{
		StudentsMarked: 120, Present: 110, Absent: 10,
		Transactions: 6, TotalCollected: 45000, NewInquiries: 3, NewEnrollments: 1,
	}}

	res, err := newDigestRunner(h, store).SendDailySummary(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 1 || res.Sent != 1 || res.Attempts != 2 {
		t.Fatalf("expected one admin recipient over two channels, got %s", res)
	}

	wa := h.whatsapp.sentBodies()
	if len(wa) != 1 {
		t.Fatalf("expected one whatsapp message, got %d", len(wa))
	}
	containsAll(t, wa[0],
		"EduPrime Daily Summary - 13 Jan 2025",
		"Attendance: 110/120 present, 10 absent",
		"Collections: ₹45,000 (6 txns)",
	)
	if len(h.email.sentBodies()) != 1 {
		t.Error("expected the admin email copy")
	}
}

func TestSendDailySummary_NoAdminContact(t *testing.T) {
	h := newHarness(day("2025-01-13"))
	store := &fakeDigestStore{daily: &db.DailySummary{}}
	r := NewDigestRunner(store, DigestConfig{InstituteName: "EduPrime"}, h.deps())

	res, err := r.SendDailySummary(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 0 || h.log.len() != 0 {
		t.Errorf("expected nothing sent, got %s and %d rows", res, h.log.len())
	}
}

func TestSendWeeklySummary_EmailOnly(t *testing.T) {
	h := newHarness(day("2025-01-13"))
	store := &fakeDigestStore{}

	if _, err := newDigestRunner(h, store).SendWeeklySummary(context.Background()); err != nil {
		t.Fatal(err)
	}
	if store.from.Format(time.DateOnly) != "2025-01-06" || store.to.Format(time.DateOnly) != "2025-01-13" {
		t.Errorf("unexpected window %s..%s", store.from, store.to)
	}
	if len(h.whatsapp.sentBodies()) != 0 || len(h.email.sentBodies()) != 1 {
		t.Error("weekly summary goes to email only")
	}
}

func TestSendMonthlySummary_PreviousMonth(t *testing.T) {
	h := newHarness(day("2025-03-01"))
	store := &fakeDigestStore{}

	if _, err := newDigestRunner(h, store).SendMonthlySummary(context.Background()); err != nil {
		t.Fatal(err)
	}
	if store.from.Format(time.DateOnly) != "2025-02-01" || store.to.Format(time.DateOnly) != "2025-02-28" {
		t.Errorf("unexpected window %s..%s", store.from, store.to)
	}
	containsAll(t, h.email.sentBodies()[0], "Monthly Report - February 2025", "₹2,50,000 from 42 payers")
}

func TestSendFollowUpDigests_GroupsByCounsellor(t *testing.T) {
	h := newHarness(day("2025-01-13"))
	store := &fakeDigestStore{followUps: []*db.FollowUp{
		{InquiryID: "i1", StudentName: "Asha", Status: "new", CounselorEmail: ptr("meera@eduprime.example"), NextFollowUp: day("2025-01-12")},
		{InquiryID: "i2", StudentName: "Ravi", Status: "contacted", CounselorEmail: ptr("meera@eduprime.example"), NextFollowUp: day("2025-01-13")},
		{InquiryID: "i3", StudentName: "Kiran", Status: "new", NextFollowUp: day("2025-01-13")},
	}}

	res, err := newDigestRunner(h, store).SendFollowUpDigests(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 2 || res.Sent != 2 {
		t.Fatalf("expected 2 digests, got %s", res)
	}
	if got := res.ByCohort["meera@eduprime.example"]; got == nil || got.Sent != 1 {
		t.Errorf("expected a digest for meera, got %+v", res.ByCohort)
	}
	if got := res.ByCohort["admin@eduprime.example"]; got == nil || got.Sent != 1 {
		t.Errorf("expected unassigned inquiries to go to admin, got %+v", res.ByCohort)
	}

	for _, row := range h.log.byChannel(channel.Email) {
		if *row.RecipientEmail != "meera@eduprime.example" {
			continue
		}
		if !strings.Contains(row.Body, "2 follow-ups due") || strings.Contains(row.Body, "Kiran") {
			t.Errorf("unexpected counsellor digest %q", row.Body)
		}
	}
}

func TestPreviousMonth(t *testing.T) {
	tests := []struct {
		day      string
		from, to string
	}{
		{"2025-03-15", "2025-02-01", "2025-02-28"},
		{"2025-01-01", "2024-12-01", "2024-12-31"},
		{"2024-03-31", "2024-02-01", "2024-02-29"},
	}
	for _, tt := range tests {
		from, to := previousMonth(day(tt.day))
		if from.Format(time.DateOnly) != tt.from || to.Format(time.DateOnly) != tt.to {
			t.Errorf("previousMonth(%s) = %s..%s, want %s..%s", tt.day, from.Format(time.DateOnly), to.Format(time.DateOnly), tt.from, tt.to)
		}
	}
}
