package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/herald/internal/channel"
)

// fakeClock lets tests move past the recovery timeout without sleeping.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time         { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg Config) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 1, 13, 9, 0, 0, 0, time.UTC)}
	cb := New(cfg, zap.NewNop())
	cb.now = clock.now
	return cb, clock
}

func fail(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		cb.Allow()
		cb.RecordFailure()
	}
}

func TestCircuitBreaker_Transitions(t *testing.T) {
	cb, clock := newTestBreaker(Config{Name: "test", MaxFailures: 3, RecoveryTimeout: time.Minute})

	if cb.State() != StateClosed {
		t.Fatalf("expected closed, got %s", cb.State())
	}

	fail(cb, 2)
	if cb.State() != StateClosed {
		t.Fatalf("expected closed below threshold, got %s", cb.State())
	}

	fail(cb, 1)
	if cb.State() != StateOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}
	if cb.Allow() {
		t.Fatal("open breaker should reject")
	}

	clock.advance(time.Minute)
	if !cb.Allow() {
		t.Fatal("should allow a trial call after the recovery timeout")
	}
	if cb.Allow() {
		t.Fatal("only one trial allowed while half-open")
	}

	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatalf("failed trial should re-open, got %s", cb.State())
	}

	clock.advance(time.Minute)
	cb.Allow()
	cb.RecordSuccess()
	if cb.State() != StateClosed {
		t.Fatalf("successful trial should close, got %s", cb.State())
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(Config{Name: "test", MaxFailures: 3})

	fail(cb, 2)
	cb.Allow()
	cb.RecordSuccess()
	fail(cb, 2)

	if cb.State() != StateClosed {
		t.Fatal("success should have reset the failure count")
	}
}

func TestCircuitBreaker_ReleaseFreesTrialSlot(t *testing.T) {
	cb, clock := newTestBreaker(Config{Name: "test", MaxFailures: 1, RecoveryTimeout: time.Second})

	fail(cb, 1)
	clock.advance(time.Second)

	if !cb.Allow() {
		t.Fatal("trial should be allowed")
	}
	cb.Release()
	if !cb.Allow() {
		t.Fatal("released trial slot should be reusable")
	}
}

func TestCircuitBreaker_ResetAndStats(t *testing.T) {
	cb, _ := newTestBreaker(Config{Name: "sms", MaxFailures: 2, RecoveryTimeout: time.Hour})

	cb.Allow()
	cb.RecordSuccess()
	fail(cb, 2)
	cb.Allow()

	s := cb.Stats()
	if s.Name != "sms" || s.State != "open" {
		t.Errorf("unexpected stats %+v", s)
	}
	if s.Requests != 4 || s.Successes != 1 || s.Failed != 2 || s.Rejected != 1 {
		t.Errorf("unexpected counters %+v", s)
	}
	if s.LastFailureAt == nil {
		t.Error("expected last failure time")
	}

	cb.Reset()
	if cb.State() != StateClosed || !cb.Allow() {
		t.Fatal("reset breaker should be closed and allow calls")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("svc")
	if cfg.MaxFailures != 5 || cfg.RecoveryTimeout != 30*time.Second || cfg.HalfOpenMaxRequests != 1 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d) = %s, want %s", tt.s, got, tt.want)
		}
	}
}

type mockAdapter struct {
	out   channel.Outcome
	err   error
	calls int
}

func (m *mockAdapter) Channel() channel.Channel { return channel.WhatsApp }

func (m *mockAdapter) Deliver(ctx context.Context, to, subject, body string) (channel.Outcome, error) {
	m.calls++
	return m.out, m.err
}

func TestProtectedAdapter_FailsFastWhenOpen(t *testing.T) {
	mock := &mockAdapter{err: &channel.Error{Channel: channel.WhatsApp, Reason: "status 500"}}
	cb, _ := newTestBreaker(Config{Name: "whatsapp", MaxFailures: 2, RecoveryTimeout: time.Hour})
	p := NewProtectedAdapter(mock, cb, zap.NewNop())
	ctx := context.Background()

	_, _ = p.Deliver(ctx, "9876543210", "", "hi")
	_, _ = p.Deliver(ctx, "9876543210", "", "hi")
	mock.calls = 0

	_, err := p.Deliver(ctx, "9876543210", "", "hi")
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	var chErr *channel.Error
	if !errors.As(err, &chErr) || chErr.Reason != ReasonCircuitOpen {
		t.Fatalf("expected channel error with circuit_open reason, got %v", err)
	}
	if mock.calls != 0 {
		t.Fatalf("adapter called %d times while open", mock.calls)
	}
}

func TestProtectedAdapter_SoftOutcomesDoNotTrip(t *testing.T) {
	mock := &mockAdapter{out: channel.NotConfigured()}
	cb, _ := newTestBreaker(Config{Name: "sms", MaxFailures: 1})
	p := NewProtectedAdapter(mock, cb, zap.NewNop())

	for i := 0; i < 3; i++ {
		out, err := p.Deliver(context.Background(), "9876543210", "", "hi")
		if err != nil || out.Reason != channel.ReasonNotConfigured {
			t.Fatalf("unexpected result %+v, %v", out, err)
		}
	}
	if cb.State() != StateClosed {
		t.Fatalf("not_configured must not open the circuit, got %s", cb.State())
	}
}

func TestProtectedAdapter_Recovers(t *testing.T) {
	mock := &mockAdapter{err: errors.New("down")}
	cb, clock := newTestBreaker(Config{Name: "email", MaxFailures: 1, RecoveryTimeout: time.Minute})
	p := NewProtectedAdapter(mock, cb, zap.NewNop())
	ctx := context.Background()

	_, _ = p.Deliver(ctx, "a@b.c", "s", "b")
	if cb.State() != StateOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	clock.advance(time.Minute)
	mock.err = nil
	mock.out = channel.Delivered("ref-1")

	out, err := p.Deliver(ctx, "a@b.c", "s", "b")
	if err != nil || out.ProviderRef != "ref-1" {
		t.Fatalf("unexpected result %+v, %v", out, err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after successful trial, got %s", cb.State())
	}
}

// hangingAdapter blocks until the caller gives up.
type hangingAdapter struct{ calls int }

func (h *hangingAdapter) Channel() channel.Channel { return channel.SMS }

func (h *hangingAdapter) Deliver(ctx context.Context, to, subject, body string) (channel.Outcome, error) {
	h.calls++
	<-ctx.Done()
	return channel.Outcome{}, ctx.Err()
}

func TestProtectedAdapter_TimeoutsTrip(t *testing.T) {
	hang := &hangingAdapter{}
	cb, _ := newTestBreaker(Config{Name: "sms", MaxFailures: 3, RecoveryTimeout: time.Minute})
	p := NewProtectedAdapter(hang, cb, zap.NewNop())

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		_, err := p.Deliver(ctx, "9876543210", "", "hi")
		cancel()
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("attempt %d: expected deadline exceeded, got %v", i, err)
		}
	}
	if cb.State() != StateOpen {
		t.Fatalf("expected timeouts to open the circuit, got %s", cb.State())
	}

	_, err := p.Deliver(context.Background(), "9876543210", "", "hi")
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected fail fast, got %v", err)
	}
	if hang.calls != 3 {
		t.Errorf("expected 3 provider calls, got %d", hang.calls)
	}
}

func TestProtectedAdapter_CancellationDoesNotTrip(t *testing.T) {
	hang := &hangingAdapter{}
	cb, _ := newTestBreaker(Config{Name: "sms", MaxFailures: 1})
	p := NewProtectedAdapter(hang, cb, zap.NewNop())

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := p.Deliver(ctx, "9876543210", "", "hi")
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected cancellation, got %v", err)
		}
	}
	if cb.State() != StateClosed {
		t.Fatalf("cancelled calls must not open the circuit, got %s", cb.State())
	}
	if hang.calls != 3 {
		t.Errorf("expected 3 provider calls, got %d", hang.calls)
	}
}

func TestProtectedAdapter_PacingOutsideBreaker(t *testing.T) {
	mock := &mockAdapter{out: channel.Delivered("ref-1")}
	cb, _ := newTestBreaker(Config{Name: "whatsapp", MaxFailures: 2})
	paced := channel.NewThrottled(NewProtectedAdapter(mock, cb, zap.NewNop()), 0.01, 1)

	for i := 0; i < 8; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		_, err := paced.Deliver(ctx, "9876543210", "", "hi")
		cancel()
		if i > 0 && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("send %d: expected pacing to run out of time, got %v", i, err)
		}
	}
	if mock.calls != 1 {
		t.Errorf("expected 1 provider call, got %d", mock.calls)
	}
	if cb.State() != StateClosed {
		t.Fatalf("pacing must not open the circuit, got %s", cb.State())
	}
	if f := cb.Stats().Failed; f != 0 {
		t.Errorf("expected no failures, got %d", f)
	}
}
