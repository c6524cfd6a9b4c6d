package channel

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"9876543210", "+919876543210"},
		{"98765 43210", "+919876543210"},
		{"(987) 654-3210", "+919876543210"},
		{"+91 98765 43210", "+919876543210"},
		{"919876543210", "+919876543210"},
		{"+1 415 555 0100", "+14155550100"},
		{"12345", "+12345"},
		{"", ""},
		{"n/a", ""},
	}

	for _, tt := range tests {
		if got := NormalizePhone(tt.in); got != tt.want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Channel
		ok   bool
	}{
		{"whatsapp", WhatsApp, true},
		{"SMS", SMS, true},
		{" email ", Email, true},
		{"webhook", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := Parse(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Parse(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestErrorHidesProviderType(t *testing.T) {
	type providerErr struct{ error }
	src := providerErr{errors.New("throttling exception")}

	err := transportErr(SMS, "sns publish failed", src)

	var pe providerErr
	if errors.As(err, &pe) {
		t.Fatal("provider error type should not be reachable")
	}
	if err.Error() != "sms: sns publish failed: throttling exception" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

type stubAdapter struct {
	ch    Channel
	calls int
}

func (s *stubAdapter) Channel() Channel { return s.ch }

func (s *stubAdapter) Deliver(ctx context.Context, to, subject, body string) (Outcome, error) {
	s.calls++
	return Delivered("ref-" + string(s.ch)), nil
}

func TestRegistry(t *testing.T) {
	wa := &stubAdapter{ch: WhatsApp}
	em := &stubAdapter{ch: Email}
	reg := NewRegistry(zap.NewNop(), em, wa)

	if got := reg.Channels(); len(got) != 2 || got[0] != WhatsApp || got[1] != Email {
		t.Errorf("Channels() = %v", got)
	}

	out, err := reg.Deliver(context.Background(), WhatsApp, "9876543210", "", "hi")
	if err != nil || !out.OK || out.ProviderRef != "ref-whatsapp" {
		t.Fatalf("unexpected outcome %+v, %v", out, err)
	}

	if _, err := reg.Deliver(context.Background(), SMS, "9876543210", "", "hi"); err == nil {
		t.Error("expected error for unregistered channel")
	}

	if _, ok := reg.Lookup(SMS); ok {
		t.Error("sms should not be registered")
	}
}

func TestLogAdapter(t *testing.T) {
	a := NewLogAdapter(SMS, zap.NewNop())
	out, err := a.Deliver(context.Background(), "+919876543210", "", "hello")
	if err != nil || !out.OK || out.ProviderRef == "" {
		t.Fatalf("unexpected outcome %+v, %v", out, err)
	}
}
