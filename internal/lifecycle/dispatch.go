package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/reancirl/car-erp-sub006/internal/channel"
	"github.com/reancirl/car-erp-sub006/internal/directory"
	"github.com/reancirl/car-erp-sub006/internal/events"
	"github.com/reancirl/car-erp-sub006/internal/metrics"
	"github.com/reancirl/car-erp-sub006/internal/model"
	"github.com/reancirl/car-erp-sub006/internal/store"
)

// ChannelSender delivers a message on a named channel.
type ChannelSender interface {
	Send(ctx context.Context, ch model.Channel, recipient channel.Recipient, msg channel.Message) error
}

// Dispatcher delivers due reminders. Each dispatch claims the reminder first,
// so several dispatchers may share one database.
type Dispatcher struct {
	reminders *store.ReminderStore
	directory directory.Directory
	senders   ChannelSender
	publisher events.Publisher
	policy    Policy
	worker    string
	logger    *slog.Logger
}

func NewDispatcher(reminders *store.ReminderStore, dir directory.Directory, senders ChannelSender, pub events.Publisher, policy Policy, logger *slog.Logger) *Dispatcher {
	if pub == nil {
		pub = events.Noop{}
	}
	return &Dispatcher{
		reminders: reminders,
		directory: dir,
		senders:   senders,
		publisher: pub,
		policy:    policy,
		worker:    uuid.NewString(),
		logger:    logger,
	}
}

// Worker returns the claim id this dispatcher writes to claimed_by.
func (d *Dispatcher) Worker() string {
	return d.worker
}

// Result describes one dispatch. Dispatched is false when the reminder was
// not due, not scheduled, archived, or claimed elsewhere.
type Result struct {
	Dispatched bool
	Status     model.ReminderStatus
	Events     []model.ReminderEvent
}

// Dispatch delivers r if it is due at now.
func (d *Dispatcher) Dispatch(ctx context.Context, r model.Reminder, now time.Time) (Result, error) {
	if now.Before(r.RemindAt) || r.Status != model.ReminderScheduled || r.Archived() {
		return Result{}, nil
	}

	claimed, err := d.reminders.Claim(r.ID, d.worker, now, now.Add(-d.policy.ClaimTimeout))
	if err != nil {
		return Result{}, err
	}
	if !claimed {
		return Result{}, nil
	}

	cur, err := d.reminders.GetByID(r.ID)
	if err != nil {
		d.release(r.ID)
		return Result{}, err
	}
	if cur == nil || cur.Archived() || cur.Status != model.ReminderScheduled {
		d.release(r.ID)
		return Result{}, nil
	}

	outcome := d.deliver(ctx, *cur, now)

	evs, err := d.reminders.Finalize(cur.ID, outcome)
	if errors.Is(err, store.ErrClaimLost) {
		d.logger.Warn("reminder claim lost before finalize", "reminder_id", cur.ID)
		return Result{}, nil
	}
	if err != nil {
		d.release(cur.ID)
		return Result{}, err
	}

	status := model.ReminderSent
	if !outcome.PrimaryOK {
		status = model.ReminderFailed
	}
	metrics.RemindersDispatchedTotal.WithLabelValues(string(status)).Inc()
	d.publish(ctx, evs)

	if status == model.ReminderFailed {
		d.logger.Warn("reminder delivery failed", "reminder_id", cur.ID, "attempts", cur.AttemptCount+1, "error", outcome.LastError)
	} else {
		d.logger.Info("reminder sent", "reminder_id", cur.ID, "channel", cur.DeliveryChannel)
	}
	return Result{Dispatched: true, Status: status, Events: evs}, nil
}

// deliver sends r on its primary channel, then on each additional channel.
// Only the primary result decides the reminder status.
func (d *Dispatcher) deliver(ctx context.Context, r model.Reminder, now time.Time) store.Outcome {
	outcome := store.Outcome{Worker: d.worker, At: now}
	channels := r.AllChannels()

	recipients, err := d.directory.Resolve(ctx, r.Assignee())
	if err != nil {
		outcome.LastError = err.Error()
		outcome.NextAttemptAt = d.nextAttempt(r, now)
		outcome.Events = []model.ReminderEvent{{
			EventType:   model.EventDelivery,
			Status:      model.ReminderFailed,
			Channel:     channels[0],
			ProcessedAt: now,
			Message:     d.failureMessage(r, err),
		}}
		return outcome
	}

	msg := Message(r)
	for i, ch := range channels {
		delivered, err := d.sendAll(ctx, ch, recipients, msg)
		ok := delivered > 0
		ev := model.ReminderEvent{EventType: model.EventDelivery, Channel: ch, ProcessedAt: now}
		if ok {
			outcome.Delivered = true
			ev.Status = model.ReminderSent
			ev.Message = fmt.Sprintf("delivered to %d of %d recipients", delivered, len(recipients))
		} else {
			ev.Status = model.ReminderFailed
			ev.Message = err.Error()
		}
		if i == 0 {
			outcome.PrimaryOK = ok
			if !ok {
				outcome.LastError = err.Error()
				outcome.NextAttemptAt = d.nextAttempt(r, now)
				ev.Message = d.failureMessage(r, err)
			}
		}
		outcome.Events = append(outcome.Events, ev)
	}
	return outcome
}

func (d *Dispatcher) sendAll(ctx context.Context, ch model.Channel, recipients []channel.Recipient, msg channel.Message) (int, error) {
	if len(recipients) == 0 {
		return 0, fmt.Errorf("%s: %w", ch, directory.ErrNoRecipients)
	}
	delivered := 0
	var errs []string
	for _, rcpt := range recipients {
		if err := d.senders.Send(ctx, ch, rcpt, msg); err != nil {
			errs = append(errs, fmt.Sprintf("user %d: %v", rcpt.UserID, err))
			continue
		}
		delivered++
	}
	if len(errs) == 0 {
		return delivered, nil
	}
	return delivered, fmt.Errorf("%s: %s", ch, strings.Join(errs, "; "))
}

// nextAttempt is nil when this failure uses up the last attempt.
func (d *Dispatcher) nextAttempt(r model.Reminder, now time.Time) *time.Time {
	if r.AttemptCount+1 >= d.policy.MaxAttempts {
		return nil
	}
	t := now.Add(d.policy.Backoff(r.AttemptCount))
	return &t
}

func (d *Dispatcher) failureMessage(r model.Reminder, err error) string {
	if r.AttemptCount+1 >= d.policy.MaxAttempts {
		return fmt.Sprintf("%v (retries exhausted after %d attempts)", err, r.AttemptCount+1)
	}
	return err.Error()
}

func (d *Dispatcher) release(id int64) {
	if err := d.reminders.Release(id, d.worker); err != nil {
		d.logger.Error("release reminder claim", "reminder_id", id, "error", err)
	}
}

func (d *Dispatcher) publish(ctx context.Context, evs []model.ReminderEvent) {
	if len(evs) == 0 {
		return
	}
	if err := d.publisher.Publish(ctx, evs...); err != nil {
		d.logger.Warn("publish reminder events", "error", err)
	}
}

// DispatchDue dispatches up to limit due reminders with at most concurrency
// running at once. It returns how many were dispatched; per-reminder errors
// are logged and counted, not returned.
func (d *Dispatcher) DispatchDue(ctx context.Context, now time.Time, limit, concurrency int) (int, error) {
	due, err := d.reminders.ListDue(now, now.Add(-d.policy.ClaimTimeout), limit)
	if err != nil {
		return 0, err
	}
	if concurrency < 1 {
		concurrency = 1
	}

	results := make([]bool, len(due))
	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, r := range due {
		g.Go(func() error {
			res, err := d.Dispatch(ctx, r, now)
			if err != nil {
				metrics.TickErrorsTotal.WithLabelValues("dispatch").Inc()
				d.logger.Error("dispatch reminder", "reminder_id", r.ID, "error", err)
				return nil
			}
			results[i] = res.Dispatched
			return nil
		})
	}
	g.Wait()

	n := 0
	for _, ok := range results {
		if ok {
			n++
		}
	}
	return n, nil
}

// RetryFailed moves failed reminders whose backoff has elapsed back to scheduled.
func (d *Dispatcher) RetryFailed(ctx context.Context, now time.Time) (int, error) {
	failed, err := d.reminders.ListRetryable(now, d.policy.MaxAttempts)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range failed {
		msg := fmt.Sprintf("retry %d of %d", r.AttemptCount+1, d.policy.MaxAttempts)
		ev, err := d.reminders.Reschedule(r.ID, d.policy.MaxAttempts, now, msg)
		if err != nil {
			return n, err
		}
		if ev == nil {
			continue
		}
		n++
		metrics.RemindersRetriedTotal.Inc()
		d.publish(ctx, []model.ReminderEvent{*ev})
	}
	return n, nil
}

// Cancel cancels a scheduled or failed reminder. It returns
// ErrInvalidTransition for reminders already sent, escalated or cancelled.
func (d *Dispatcher) Cancel(ctx context.Context, id int64, now time.Time, reason string) (*model.ReminderEvent, error) {
	if reason == "" {
		reason = "cancelled"
	}
	ev, err := d.reminders.Cancel(id, now, reason)
	if err != nil {
		return nil, err
	}
	if ev == nil {
		r, err := d.reminders.GetByID(id)
		if err != nil {
			return nil, err
		}
		status := model.ReminderStatus("unknown")
		if r != nil {
			status = r.Status
		}
		return nil, fmt.Errorf("cancel reminder %d in status %s: %w", id, status, ErrInvalidTransition)
	}
	d.publish(ctx, []model.ReminderEvent{*ev})
	return ev, nil
}

// Message builds the notice for r.
func Message(r model.Reminder) channel.Message {
	kind := channel.KindReminder
	if r.ReminderType == model.ReminderEscalation {
		kind = channel.KindEscalation
	}
	body := r.Description
	if r.DueAt != nil {
		due := "Due " + r.DueAt.UTC().Format("2006-01-02 15:04 MST")
		if body == "" {
			body = due
		} else {
			body += "\n" + due
		}
	}
	return channel.Message{
		ReminderID: r.ID,
		Kind:       kind,
		Subject:    r.Title,
		Body:       body,
		Priority:   r.Priority,
		DueAt:      r.DueAt,
	}
}
