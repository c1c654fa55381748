// Package escalation moves overdue auto-escalating reminders to escalated and
// notifies the escalation target.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/reancirl/car-erp-sub006/internal/channel"
	"github.com/reancirl/car-erp-sub006/internal/directory"
	"github.com/reancirl/car-erp-sub006/internal/events"
	"github.com/reancirl/car-erp-sub006/internal/lifecycle"
	"github.com/reancirl/car-erp-sub006/internal/metrics"
	"github.com/reancirl/car-erp-sub006/internal/model"
	"github.com/reancirl/car-erp-sub006/internal/store"
)

type Resolver struct {
	reminders *store.ReminderStore
	directory directory.Directory
	senders   lifecycle.ChannelSender
	publisher events.Publisher
	logger    *slog.Logger
}

func NewResolver(reminders *store.ReminderStore, dir directory.Directory, senders lifecycle.ChannelSender, pub events.Publisher, logger *slog.Logger) *Resolver {
	if pub == nil {
		pub = events.Noop{}
	}
	return &Resolver{
		reminders: reminders,
		directory: dir,
		senders:   senders,
		publisher: pub,
		logger:    logger,
	}
}

// Sweep escalates every reminder whose escalate_at has passed and returns the
// ids it escalated. A reminder escalates at most once: the transition requires
// it to still be scheduled or sent, so a repeated sweep finds nothing to do.
func (r *Resolver) Sweep(ctx context.Context, now time.Time) ([]int64, error) {
	candidates, err := r.reminders.ListEscalationCandidates(now)
	if err != nil {
		return nil, err
	}

	var escalated []int64
	var errs []error
	for _, rem := range candidates {
		target := rem.EscalationTarget()
		ev, err := r.reminders.Escalate(rem.ID, now, "escalated to "+target.String())
		if err != nil {
			errs = append(errs, fmt.Errorf("escalate reminder %d: %w", rem.ID, err))
			continue
		}
		if ev == nil {
			continue
		}
		escalated = append(escalated, rem.ID)
		if err := r.publisher.Publish(ctx, *ev); err != nil {
			r.logger.Warn("publish escalation event", "reminder_id", rem.ID, "error", err)
		}

		notified := r.notify(ctx, rem, target)
		metrics.EscalationsTotal.WithLabelValues(fmt.Sprint(notified)).Inc()
		r.logger.Info("reminder escalated", "reminder_id", rem.ID, "target", target.String(), "notified", notified)
	}
	return escalated, errors.Join(errs...)
}

// notify sends the escalation notice on the reminder's primary channel. It is
// best effort: the escalation already happened.
func (r *Resolver) notify(ctx context.Context, rem model.Reminder, target model.Target) bool {
	if target.Empty() {
		r.logger.Warn("escalated reminder has no target", "reminder_id", rem.ID)
		return false
	}
	recipients, err := r.directory.Resolve(ctx, target)
	if err != nil {
		r.logger.Warn("resolve escalation target", "reminder_id", rem.ID, "target", target.String(), "error", err)
		return false
	}

	msg := lifecycle.Message(rem)
	msg.Kind = channel.KindEscalation
	msg.Subject = "Escalation: " + rem.Title
	msg.Priority = model.PriorityCritical

	delivered := 0
	for _, rcpt := range recipients {
		if err := r.senders.Send(ctx, rem.DeliveryChannel, rcpt, msg); err != nil {
			r.logger.Warn("send escalation notice", "reminder_id", rem.ID, "user_id", rcpt.UserID, "channel", rem.DeliveryChannel, "error", err)
			continue
		}
		delivered++
	}
	return delivered > 0
}
