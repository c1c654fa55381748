package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/reancirl/car-erp-sub006/internal/model"
	"github.com/reancirl/car-erp-sub006/internal/store"
)

// CreateReminder validates and stores a one-off reminder. Generation keys
// are never taken from input; they belong to checklist-generated reminders.
func (e *Engine) CreateReminder(ctx context.Context, r model.Reminder, now time.Time) (*model.Reminder, error) {
	r.Title = strings.TrimSpace(r.Title)
	if r.Title == "" {
		return nil, model.Invalid("title", "is required")
	}
	if r.ReminderType == "" {
		r.ReminderType = model.ReminderManual
	}
	switch r.ReminderType {
	case model.ReminderManual, model.ReminderAdvance, model.ReminderDue, model.ReminderEscalation:
	default:
		return nil, model.Invalid("reminder_type", "unknown reminder type %q", r.ReminderType)
	}
	if r.Priority == "" {
		r.Priority = model.PriorityMedium
	}
	if !r.Priority.Valid() {
		return nil, model.Invalid("priority", "unknown priority %q", r.Priority)
	}
	if r.DeliveryChannel == "" {
		r.DeliveryChannel = model.ChannelInApp
	}
	if !r.DeliveryChannel.Valid() {
		return nil, model.Invalid("delivery_channel", "unknown channel %q", r.DeliveryChannel)
	}
	extra, err := model.NewChannelSet(r.DeliveryChannels...)
	if err != nil {
		return nil, model.Invalid("delivery_channels", "%v", err)
	}
	r.DeliveryChannels = extra.Without(r.DeliveryChannel)

	if r.RemindAt.IsZero() {
		return nil, model.Invalid("remind_at", "is required")
	}
	if r.Assignee().Empty() {
		return nil, model.Invalid("assigned_to", "a user or role to remind is required")
	}
	if r.AutoEscalate {
		if r.EscalateAt == nil {
			return nil, model.Invalid("escalate_at", "is required when auto_escalate is set")
		}
		if r.DueAt != nil && !r.EscalateAt.After(*r.DueAt) {
			return nil, model.Invalid("escalate_at", "must be after due_at")
		}
		if r.EscalationTarget().Empty() {
			return nil, model.Invalid("escalate_to", "a user or role to escalate to is required")
		}
	}

	if r.ChecklistID != nil {
		c, err := e.checklists.GetByID(*r.ChecklistID)
		if err != nil {
			return nil, err
		}
		if c == nil || c.Archived() {
			return nil, model.Invalid("checklist_id", "checklist %d does not exist", *r.ChecklistID)
		}
	}
	r.SourceKey = ""
	r.DueCycleAt = nil
	r.Status = model.ReminderScheduled

	created, err := e.reminders.Create(&r, now)
	if err != nil {
		return nil, err
	}
	e.logger.Info("reminder created", "reminder_id", created.ID, "remind_at", created.RemindAt, "channel", created.DeliveryChannel)
	return created, nil
}

// GetReminder returns the reminder, archived ones included.
func (e *Engine) GetReminder(id int64) (*model.Reminder, error) {
	r, err := e.reminders.GetByID(id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("reminder %d: %w", id, ErrNotFound)
	}
	return r, nil
}

// CancelReminder cancels a scheduled or failed reminder.
func (e *Engine) CancelReminder(ctx context.Context, id int64, now time.Time, reason string) (*model.ReminderEvent, error) {
	return e.dispatcher.Cancel(ctx, id, now, reason)
}

// ArchiveReminder soft deletes the reminder, cancelling it if it was still
// scheduled or failed.
func (e *Engine) ArchiveReminder(ctx context.Context, id int64, now time.Time) (bool, error) {
	archived, ev, err := e.reminders.ArchiveAndCancel(id, now)
	if err != nil {
		return false, err
	}
	if ev != nil {
		e.publish(ctx, *ev)
	}
	if archived {
		e.logger.Info("reminder archived", "reminder_id", id, "cancelled", ev != nil)
	}
	return archived, nil
}

// RestoreReminder clears the archive flag. Status and history are kept.
func (e *Engine) RestoreReminder(id int64, now time.Time) (bool, error) {
	restored, err := e.archive.Restore(store.TableReminders, id, now)
	if err == nil && restored {
		e.logger.Info("reminder restored", "reminder_id", id)
	}
	return restored, err
}
