// Package channel routes reminder notices to the delivery channel senders.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/reancirl/car-erp-sub006/internal/model"
)

var (
	// ErrNoSender is returned when no sender is registered for a channel.
	ErrNoSender = errors.New("no sender registered for channel")
	// ErrPermanent marks failures that retrying cannot fix.
	ErrPermanent = errors.New("permanent delivery failure")
	// ErrNoAddress is returned when the recipient has no address on the channel.
	ErrNoAddress = fmt.Errorf("recipient has no address: %w", ErrPermanent)
)

// Permanent marks err as not retryable.
func Permanent(err error) error {
	if err == nil || errors.Is(err, ErrPermanent) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

// Recipient is a resolved person to notify.
type Recipient struct {
	UserID int64
	Name   string
	Email  string
	Phone  string
}

// Kind distinguishes reminder notices from escalation notices.
type Kind string

const (
	KindReminder   Kind = "reminder"
	KindEscalation Kind = "escalation"
)

// Message is the channel-neutral content of a notice.
type Message struct {
	ReminderID int64
	Kind       Kind
	Subject    string
	Body       string
	Priority   model.Priority
	DueAt      *time.Time
}

// Sender delivers a message to one recipient on one channel.
type Sender interface {
	Send(ctx context.Context, recipient Recipient, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, recipient Recipient, msg Message) error

func (f SenderFunc) Send(ctx context.Context, recipient Recipient, msg Message) error {
	return f(ctx, recipient, msg)
}

// Registry maps channels to their senders.
type Registry struct {
	mu      sync.RWMutex
	senders map[model.Channel]Sender
}

func NewRegistry() *Registry {
	return &Registry{senders: make(map[model.Channel]Sender)}
}

// Register installs s for ch, replacing any previous sender.
func (r *Registry) Register(ch model.Channel, s Sender) {
	r.mu.Lock()
	r.senders[ch] = s
	r.mu.Unlock()
}

func (r *Registry) Has(ch model.Channel) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.senders[ch]
	return ok
}

// Send delivers msg on ch. A channel without a sender fails permanently.
func (r *Registry) Send(ctx context.Context, ch model.Channel, recipient Recipient, msg Message) error {
	r.mu.RLock()
	s, ok := r.senders[ch]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s: %w", ch, Permanent(ErrNoSender))
	}
	return s.Send(ctx, recipient, msg)
}
