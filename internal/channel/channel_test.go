package channel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/reancirl/car-erp-sub006/internal/model"
	"golang.org/x/time/rate"
)

type countingSender struct {
	calls int
	errs  []error
}

func (s *countingSender) Send(ctx context.Context, recipient Recipient, msg Message) error {
	s.calls++
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

func TestRegistrySend(t *testing.T) {
	reg := NewRegistry()
	email := &countingSender{}
	reg.Register(model.ChannelEmail, email)

	if !reg.Has(model.ChannelEmail) || reg.Has(model.ChannelSMS) {
		t.Fatal("Has() mismatch")
	}
	if err := reg.Send(context.Background(), model.ChannelEmail, Recipient{Email: "a@example.com"}, Message{}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if email.calls != 1 {
		t.Errorf("calls = %d, want 1", email.calls)
	}

	err := reg.Send(context.Background(), model.ChannelSMS, Recipient{}, Message{})
	if !errors.Is(err, ErrNoSender) {
		t.Errorf("err = %v, want ErrNoSender", err)
	}
	if !IsPermanent(err) {
		t.Error("missing sender should be permanent")
	}
}

func TestPermanent(t *testing.T) {
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
	base := errors.New("bad address")
	err := Permanent(base)
	if !IsPermanent(err) || !errors.Is(err, base) {
		t.Errorf("Permanent lost identity: %v", err)
	}
	if Permanent(err) != err {
		t.Error("double wrap")
	}
	if !IsPermanent(ErrNoAddress) {
		t.Error("ErrNoAddress should be permanent")
	}
	if IsPermanent(errors.New("timeout")) {
		t.Error("plain error should not be permanent")
	}
}

func TestWithRetry(t *testing.T) {
	transient := errors.New("connection reset")

	tests := []struct {
		name      string
		errs      []error
		wantCalls int
		wantErr   error
	}{
		{"succeeds first time", nil, 1, nil},
		{"recovers", []error{transient, transient}, 3, nil},
		{"exhausted", []error{transient, transient, transient, transient}, 3, transient},
		{"permanent not retried", []error{ErrNoAddress}, 1, ErrNoAddress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner := &countingSender{errs: tt.errs}
			s := WithRetry(model.ChannelEmail, inner, 2, time.Millisecond)
			err := s.Send(context.Background(), Recipient{}, Message{})
			if tt.wantErr == nil && err != nil {
				t.Fatalf("err = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if inner.calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", inner.calls, tt.wantCalls)
			}
		})
	}
}

func TestWithRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	inner := SenderFunc(func(ctx context.Context, recipient Recipient, msg Message) error {
		cancel()
		return errors.New("timeout")
	})
	err := WithRetry(model.ChannelSMS, inner, 5, time.Hour).Send(ctx, Recipient{}, Message{})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestWithRateLimit(t *testing.T) {
	inner := &countingSender{}
	s := WithRateLimit(inner, rate.NewLimiter(rate.Every(time.Hour), 1))

	if err := s.Send(context.Background(), Recipient{}, Message{}); err != nil {
		t.Fatalf("first send: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := s.Send(ctx, Recipient{}, Message{}); err == nil {
		t.Fatal("second send should wait past the deadline")
	}
	if inner.calls != 1 {
		t.Errorf("calls = %d, want 1", inner.calls)
	}
}

func TestInstrumentPassesThrough(t *testing.T) {
	want := errors.New("boom")
	s := Instrument(model.ChannelEmail, "test", &countingSender{errs: []error{want}})
	if err := s.Send(context.Background(), Recipient{}, Message{}); !errors.Is(err, want) {
		t.Errorf("err = %v, want %v", err, want)
	}
}
