package lifecycle

import (
	"testing"
	"time"

	"github.com/reancirl/car-erp-sub006/internal/model"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to model.ReminderStatus
		want     bool
	}{
		{model.ReminderScheduled, model.ReminderSent, true},
		{model.ReminderScheduled, model.ReminderFailed, true},
		{model.ReminderScheduled, model.ReminderEscalated, true},
		{model.ReminderScheduled, model.ReminderCancelled, true},
		{model.ReminderSent, model.ReminderEscalated, true},
		{model.ReminderSent, model.ReminderCancelled, false},
		{model.ReminderSent, model.ReminderScheduled, false},
		{model.ReminderFailed, model.ReminderScheduled, true},
		{model.ReminderFailed, model.ReminderCancelled, true},
		{model.ReminderFailed, model.ReminderSent, false},
		{model.ReminderEscalated, model.ReminderScheduled, false},
		{model.ReminderCancelled, model.ReminderScheduled, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range []model.ReminderStatus{model.ReminderEscalated, model.ReminderCancelled} {
		if !Terminal(s) {
			t.Errorf("Terminal(%s) = false", s)
		}
	}
	for _, s := range []model.ReminderStatus{model.ReminderScheduled, model.ReminderSent, model.ReminderFailed} {
		if Terminal(s) {
			t.Errorf("Terminal(%s) = true", s)
		}
	}
}

func TestBackoff(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{-1, time.Minute},
		{0, time.Minute},
		{1, 2 * time.Minute},
		{3, 8 * time.Minute},
		{8, 256 * time.Minute},
		{9, 6 * time.Hour},
		{60, 6 * time.Hour},
	}
	for _, tt := range tests {
		if got := p.Backoff(tt.attempts); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}
