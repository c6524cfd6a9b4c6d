package campaign

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/herald/internal/channel"
	"github.com/lalithlochan/herald/internal/db"
	"github.com/lalithlochan/herald/internal/dispatch"
)

// auditLog is an in-memory delivery log.
type auditLog struct {
	mu   sync.Mutex
	rows []*db.DeliveryAttempt
	err  error
}

func (l *auditLog) InsertDeliveryAttempt(ctx context.Context, a *db.DeliveryAttempt) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.rows = append(l.rows, a)
	return nil
}

func (l *auditLog) byStatus(status string) []*db.DeliveryAttempt {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*db.DeliveryAttempt
	for _, r := range l.rows {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out
}

func (l *auditLog) byChannel(ch channel.Channel) []*db.DeliveryAttempt {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*db.DeliveryAttempt
	for _, r := range l.rows {
		if r.Channel == ch.String() {
			out = append(out, r)
		}
	}
	return out
}

func (l *auditLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rows)
}

// fakeAdapter records what it was asked to deliver. Recipients listed in
// fail are rejected.
type fakeAdapter struct {
	ch            channel.Channel
	notConfigured bool

	mu     sync.Mutex
	fail   map[string]bool
	bodies []string
	to     []string
}

func newFakeAdapter(ch channel.Channel, fail ...string) *fakeAdapter {
	a := &fakeAdapter{ch: ch, fail: map[string]bool{}}
	for _, f := range fail {
		a.fail[f] = true
	}
	return a
}

func (a *fakeAdapter) Channel() channel.Channel { return a.ch }

func (a *fakeAdapter) Deliver(ctx context.Context, to, subject, body string) (channel.Outcome, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.to = append(a.to, to)
	a.bodies = append(a.bodies, body)
	if a.notConfigured {
		return channel.NotConfigured(), nil
	}
	if a.fail[to] {
		return channel.Outcome{}, &channel.Error{Channel: a.ch, Reason: "recipient rejected"}
	}
	return channel.Delivered(fmt.Sprintf("%s-%d", a.ch, len(a.to))), nil
}

func (a *fakeAdapter) sentBodies() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.bodies...)
}

type fakeTemplates map[string]*db.Template

func (f fakeTemplates) Get(ctx context.Context, code string) (*db.Template, error) {
	t, ok := f[code]
	if !ok {
		return nil, fmt.Errorf("%w: %s", db.ErrTemplateNotFound, code)
	}
	return t, nil
}

func tmpl(code, body string) *db.Template {
	return &db.Template{Code: code, Name: code, Body: body, IsActive: true}
}

func defaultTemplates() fakeTemplates {
	return fakeTemplates{
		"FEE_REMIND_7":           tmpl("FEE_REMIND_7", "7 days: {{student_name}} owes {{amount}}"),
		"FEE_REMIND_3":           tmpl("FEE_REMIND_3", "Dear {{parent_name}}, {{amount}} for {{student_name}} due {{due_date}} in {{days}} days"),
		"FEE_REMIND_1":           tmpl("FEE_REMIND_1", "tomorrow: {{amount}}"),
		"FEE_REMIND_0":           tmpl("FEE_REMIND_0", "today: {{amount}}"),
		"FEE_OVERDUE":            tmpl("FEE_OVERDUE", "{{student_name}} is {{days}} days overdue. Pay {{amount}} (late fee {{late_fee}}) at {{payment_link}}"),
		"ATTENDANCE_ABSENT":      tmpl("ATTENDANCE_ABSENT", "{{student_name}} absent on {{date}} in {{batch_name}}"),
		"ATTENDANCE_LOW":         tmpl("ATTENDANCE_LOW", "{{student_name}} at {{percentage}}%"),
		"ATTENDANCE_CONSECUTIVE": tmpl("ATTENDANCE_CONSECUTIVE", "{{student_name}} absent {{days}} days running"),
	}
}

type harness struct {
	log       *auditLog
	whatsapp  *fakeAdapter
	sms       *fakeAdapter
	email     *fakeAdapter
	templates fakeTemplates
	now       time.Time
}

func newHarness(now time.Time) *harness {
	return &harness{
		log:       &auditLog{},
		whatsapp:  newFakeAdapter(channel.WhatsApp),
		sms:       newFakeAdapter(channel.SMS),
		email:     newFakeAdapter(channel.Email),
		templates: defaultTemplates(),
		now:       now,
	}
}

func (h *harness) deps() Deps {
	reg := channel.NewRegistry(zap.NewNop(), h.whatsapp, h.sms, h.email)
	d := dispatch.New(reg, h.log, dispatch.Config{AttemptTimeout: time.Second}, zap.NewNop())
	return Deps{
		Sender:      d,
		Templates:   h.templates,
		Concurrency: 4,
		Location:    time.UTC,
		Now:         func() time.Time { return h.now },
		Logger:      zap.NewNop(),
	}
}

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func ptr(s string) *string { return &s }

func TestResult_Record(t *testing.T) {
	r := newResult("x")
	r.cohort("+7")
	r.record("+3", true, 2)
	r.record("+3", false, 1)
	r.record("", true, 1)

	if r.Total != 3 || r.Sent != 2 || r.Failed != 1 || r.Attempts != 4 {
		t.Errorf("unexpected totals %s", r)
	}
	if got := r.ByCohort["+3"]; got.Total != 2 || got.Sent != 1 || got.Failed != 1 {
		t.Errorf("unexpected +3 tally %+v", got)
	}
	if got := r.ByCohort["+7"]; got.Total != 0 {
		t.Errorf("expected empty +7 cohort, got %+v", got)
	}
}

func TestFanOut_StopsOnError(t *testing.T) {
	var mu sync.Mutex
	var seen int
	boom := errors.New("boom")

	err := fanOut(context.Background(), 1, []int{1, 2, 3, 4, 5}, func(ctx context.Context, n int) error {
		mu.Lock()
		seen++
		mu.Unlock()
		if n == 2 {
			return boom
		}
		return nil
	})

	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if seen >= 5 {
		t.Errorf("expected scheduling to stop early, saw %d items", seen)
	}
}

func TestFanOut_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := fanOut(ctx, 2, []string{"a"}, func(ctx context.Context, s string) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) || called {
		t.Fatalf("expected cancellation before any work, got %v (called=%v)", err, called)
	}
}

func TestDaysBetween(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	tests := []struct {
		a, b time.Time
		want int
	}{
		{day("2025-01-10"), day("2025-01-13"), 3},
		{day("2025-01-13"), day("2025-01-13"), 0},
		{day("2025-02-27"), day("2025-03-01"), 2},
		{day("2025-01-10"), time.Date(2025, 1, 13, 0, 0, 0, 0, ist), 3},
	}
	for _, tt := range tests {
		if got := daysBetween(tt.a, tt.b); got != tt.want {
			t.Errorf("daysBetween(%s, %s) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestBaseToday_UsesLocation(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	b := newBase(Deps{
		Location: ist,
		Now:      func() time.Time { return time.Date(2025, 1, 12, 20, 0, 0, 0, time.UTC) },
		Logger:   zap.NewNop(),
	}, "test")

	if got := b.today().Format(time.DateOnly); got != "2025-01-13" {
		t.Errorf("expected IST date 2025-01-13, got %s", got)
	}
}

func containsAll(t *testing.T, s string, parts ...string) {
	t.Helper()
	for _, p := range parts {
		if !strings.Contains(s, p) {
			t.Errorf("expected %q to contain %q", s, p)
		}
	}
}
