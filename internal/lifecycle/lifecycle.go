// Package lifecycle moves reminders through their delivery states.
package lifecycle

import (
	"errors"
	"time"

	"github.com/reancirl/car-erp-sub006/internal/model"
)

// ErrInvalidTransition is returned when a reminder cannot move to the requested state.
var ErrInvalidTransition = errors.New("invalid reminder transition")

var transitions = map[model.ReminderStatus][]model.ReminderStatus{
	model.ReminderScheduled: {model.ReminderSent, model.ReminderFailed, model.ReminderEscalated, model.ReminderCancelled},
	model.ReminderSent:      {model.ReminderEscalated},
	model.ReminderFailed:    {model.ReminderScheduled, model.ReminderCancelled},
}

// CanTransition reports whether a reminder in from may move to to.
func CanTransition(from, to model.ReminderStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further delivery happens from s.
func Terminal(s model.ReminderStatus) bool {
	return s == model.ReminderEscalated || s == model.ReminderCancelled
}

// Policy bounds dispatch retries and claims.
type Policy struct {
	MaxAttempts  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	ClaimTimeout time.Duration
}

// DefaultPolicy retries a failed reminder up to five times, waiting 1m, 2m,
// 4m and so on, capped at six hours.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  5,
		BaseBackoff:  time.Minute,
		MaxBackoff:   6 * time.Hour,
		ClaimTimeout: 5 * time.Minute,
	}
}

// Backoff returns the wait after a failure when attempts failures came before it.
func (p Policy) Backoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	d := p.BaseBackoff
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}
