package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/reancirl/car-erp-sub006/internal/email"
	"github.com/reancirl/car-erp-sub006/internal/model"
	"github.com/reancirl/car-erp-sub006/internal/push"
	"github.com/reancirl/car-erp-sub006/internal/sms"
	"github.com/reancirl/car-erp-sub006/internal/websocket"
)

// EmailSender delivers notices through an email provider.
type EmailSender struct {
	mailer email.Mailer
}

func NewEmailSender(m email.Mailer) *EmailSender {
	return &EmailSender{mailer: m}
}

func (s *EmailSender) Send(ctx context.Context, recipient Recipient, msg Message) error {
	if recipient.Email == "" {
		return ErrNoAddress
	}
	err := s.mailer.Send(ctx, email.Message{
		To:       recipient.Email,
		Subject:  msg.Subject,
		TextBody: msg.Body,
	})
	if err == nil {
		return nil
	}
	var se *email.StatusError
	if errors.Is(err, email.ErrNotConfigured) || (errors.As(err, &se) && !se.Temporary()) {
		return Permanent(err)
	}
	return err
}

type textSender interface {
	Send(ctx context.Context, to, body string) error
}

// SMSSender delivers notices as text messages.
type SMSSender struct {
	sender textSender
}

func NewSMSSender(s textSender) *SMSSender {
	return &SMSSender{sender: s}
}

func (s *SMSSender) Send(ctx context.Context, recipient Recipient, msg Message) error {
	if recipient.Phone == "" {
		return ErrNoAddress
	}
	err := s.sender.Send(ctx, recipient.Phone, smsText(msg))
	if errors.Is(err, sms.ErrInvalidNumber) || errors.Is(err, sms.ErrNotConfigured) {
		return Permanent(err)
	}
	return err
}

// smsText keeps texts to a single segment where possible.
func smsText(msg Message) string {
	text := msg.Subject
	if msg.Body != "" {
		text += ": " + msg.Body
	}
	const limit = 320
	if r := []rune(text); len(r) > limit {
		text = string(r[:limit-1]) + "…"
	}
	return text
}

type pusher interface {
	Send(ctx context.Context, sub *model.PushSubscription, payload push.Payload) error
}

type subscriptionStore interface {
	ListByUser(userID int64) ([]model.PushSubscription, error)
	DeleteByEndpoint(endpoint string) error
}

// PushSender delivers notices to every browser subscription of the recipient.
// It succeeds when at least one subscription accepted the notice; expired
// subscriptions are removed.
type PushSender struct {
	service pusher
	subs    subscriptionStore
	logger  *slog.Logger
}

func NewPushSender(svc pusher, subs subscriptionStore, logger *slog.Logger) *PushSender {
	return &PushSender{service: svc, subs: subs, logger: logger}
}

func (s *PushSender) Send(ctx context.Context, recipient Recipient, msg Message) error {
	if recipient.UserID == 0 {
		return ErrNoAddress
	}
	subs, err := s.subs.ListByUser(recipient.UserID)
	if err != nil {
		return fmt.Errorf("list push subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return ErrNoAddress
	}

	payload := push.Payload{
		Title:      msg.Subject,
		Body:       msg.Body,
		URL:        fmt.Sprintf("/reminders/%d", msg.ReminderID),
		Tag:        fmt.Sprintf("reminder-%d", msg.ReminderID),
		ReminderID: msg.ReminderID,
		Priority:   string(msg.Priority),
	}

	delivered := 0
	var lastErr error
	for i := range subs {
		err := s.service.Send(ctx, &subs[i], payload)
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, push.ErrExpired):
			if derr := s.subs.DeleteByEndpoint(subs[i].Endpoint); derr != nil {
				s.logger.Error("delete expired push subscription", "subscription_id", subs[i].ID, "error", derr)
			}
			lastErr = Permanent(err)
		case errors.Is(err, push.ErrNotConfigured):
			return Permanent(err)
		default:
			lastErr = err
		}
	}
	if delivered > 0 {
		return nil
	}
	return lastErr
}

type userNotifier interface {
	SendToUser(userID int64, msg websocket.Message) (int, error)
}

// InAppSender publishes notices to the recipient's open dashboard sessions.
// The reminder itself is the durable in-app record, so a user with no open
// session still counts as delivered.
type InAppSender struct {
	hub userNotifier
}

func NewInAppSender(hub userNotifier) *InAppSender {
	return &InAppSender{hub: hub}
}

func (s *InAppSender) Send(ctx context.Context, recipient Recipient, msg Message) error {
	if recipient.UserID == 0 {
		return ErrNoAddress
	}
	extra := map[string]any{
		"kind":     string(msg.Kind),
		"subject":  msg.Subject,
		"body":     msg.Body,
		"priority": string(msg.Priority),
	}
	if msg.DueAt != nil {
		extra["due_at"] = msg.DueAt
	}
	_, err := s.hub.SendToUser(recipient.UserID, websocket.NewMessage("notification", string(msg.Kind), msg.ReminderID, extra))
	return err
}
