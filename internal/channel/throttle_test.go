package channel

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestThrottled_Delegates(t *testing.T) {
	inner := &stubAdapter{ch: SMS}
	th := NewThrottled(inner, 0, 1)

	for i := 0; i < 5; i++ {
		if _, err := th.Deliver(context.Background(), "9876543210", "", "hi"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if inner.calls != 5 || th.Channel() != SMS {
		t.Errorf("expected 5 calls on sms, got %d on %s", inner.calls, th.Channel())
	}
}

func TestThrottled_RespectsContext(t *testing.T) {
	inner := &stubAdapter{ch: WhatsApp}
	th := NewThrottled(inner, 0.001, 1)

	// First call spends the only token.
	if _, err := th.Deliver(context.Background(), "1", "", "a"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := th.Deliver(ctx, "1", "", "b")
	if err == nil {
		t.Fatal("expected wait to fail")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("adapter must not be called while throttled, got %d calls", inner.calls)
	}
}

func TestThrottled_RefusesWaitPastDeadline(t *testing.T) {
	inner := &stubAdapter{ch: SMS}
	th := NewThrottled(inner, 0.01, 1)

	if _, err := th.Deliver(context.Background(), "1", "", "a"); err != nil {
		t.Fatal(err)
	}

	// The next token is 100s away, so the limiter refuses without waiting.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	_, err := th.Deliver(ctx, "1", "", "b")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	var chErr *Error
	if errors.As(err, &chErr) {
		t.Errorf("refusal must not look like a transport failure: %v", chErr)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("expected an immediate refusal, waited %s", time.Since(start))
	}
	if inner.calls != 1 {
		t.Errorf("expected 1 call, got %d", inner.calls)
	}
	if th.Unwrap() != Adapter(inner) {
		t.Error("Unwrap should return the paced adapter")
	}
}
