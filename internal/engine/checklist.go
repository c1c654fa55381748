package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/reancirl/car-erp-sub006/internal/model"
	"github.com/reancirl/car-erp-sub006/internal/recurrence"
	"github.com/reancirl/car-erp-sub006/internal/store"
	"github.com/reancirl/car-erp-sub006/internal/trigger"
)

// ScheduleUpdate replaces the schedule, assignment and reminder configuration
// of a checklist. An empty Status keeps the current one; Triggers == nil keeps
// the current triggers.
type ScheduleUpdate struct {
	Status                 model.ChecklistStatus `json:"status"`
	FrequencyType          model.FrequencyType   `json:"frequency_type"`
	FrequencyInterval      int                   `json:"frequency_interval"`
	CustomUnit             model.CustomUnit      `json:"custom_frequency_unit"`
	CustomValue            int                   `json:"custom_frequency_value"`
	StartDate              time.Time             `json:"start_date"`
	DueTime                string                `json:"due_time"`
	IsRecurring            bool                  `json:"is_recurring"`
	AssignedUserID         *int64                `json:"assigned_user_id"`
	AssignedRole           string                `json:"assigned_role"`
	EscalateToUserID       *int64                `json:"escalate_to_user_id"`
	EscalateToRole         string                `json:"escalate_to_role"`
	EscalationOffsetHours  int                   `json:"escalation_offset_hours"`
	AdvanceReminderOffsets []int                 `json:"advance_reminder_offsets"`
	NotificationChannels   model.ChannelSet      `json:"notification_channels"`
	RequiresAcknowledgment bool                  `json:"requires_acknowledgement"`
	AllowPartialCompletion bool                  `json:"allow_partial_completion"`
	Triggers               *[]model.Trigger      `json:"triggers"`
}

func (e *Engine) rule(c model.Checklist) recurrence.Rule {
	return recurrence.FromChecklist(c, e.opts.Location)
}

func validStatus(s model.ChecklistStatus) bool {
	switch s {
	case model.ChecklistActive, model.ChecklistInactive, model.ChecklistArchived:
		return true
	}
	return false
}

// normalize validates the schedule and reminder configuration of c, filling
// defaults in place.
func (e *Engine) normalize(c *model.Checklist) error {
	if c.Status == "" {
		c.Status = model.ChecklistActive
	}
	if !validStatus(c.Status) {
		return model.Invalid("status", "unknown status %q", c.Status)
	}
	if c.FrequencyInterval == 0 {
		c.FrequencyInterval = 1
	}
	// start_date is a calendar date; keep the day the caller wrote in its own offset.
	if !c.StartDate.IsZero() {
		y, m, d := c.StartDate.Date()
		c.StartDate = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}
	if err := e.rule(*c).Validate(); err != nil {
		return model.InvalidErr("frequency", err)
	}
	if err := trigger.ValidateOffsets(c.AdvanceReminderOffsets); err != nil {
		return err
	}
	if c.EscalationOffsetHours < 0 {
		return model.Invalid("escalation_offset_hours", "must be >= 0")
	}

	channels, err := model.NewChannelSet(c.NotificationChannels...)
	if err != nil {
		return model.Invalid("notification_channels", "%v", err)
	}
	if len(channels) == 0 {
		channels = append(model.ChannelSet{}, trigger.DefaultChannels...)
	}
	c.NotificationChannels = channels

	for i := range c.Triggers {
		tr := &c.Triggers[i]
		if tr.ID == 0 {
			tr.IsActive = true
		}
		if tr.Channels, err = model.NewChannelSet(tr.Channels...); err != nil {
			return model.Invalid(fmt.Sprintf("triggers[%d].channels", i), "%v", err)
		}
		if err := trigger.ValidateTrigger(*tr, c.EscalationTarget()); err != nil {
			return fmt.Errorf("triggers[%d]: %w", i, err)
		}
	}
	return nil
}

// CreateChecklist validates and stores a checklist, records its first due
// cycle and plans the reminders of that cycle.
func (e *Engine) CreateChecklist(ctx context.Context, c model.Checklist, now time.Time) (*model.Checklist, error) {
	c.Title = strings.TrimSpace(c.Title)
	c.Code = strings.TrimSpace(c.Code)
	if c.Title == "" {
		return nil, model.Invalid("title", "is required")
	}
	if c.Code == "" {
		return nil, model.Invalid("code", "is required")
	}
	for i, item := range c.Items {
		if strings.TrimSpace(item.Title) == "" {
			return nil, model.Invalid(fmt.Sprintf("items[%d].title", i), "is required")
		}
	}
	if err := e.normalize(&c); err != nil {
		return nil, err
	}

	taken, err := e.checklists.CodeExists(c.Code)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, model.Invalid("code", "%q is already in use", c.Code)
	}

	first, err := e.rule(c).First()
	if err != nil {
		return nil, model.InvalidErr("frequency", err)
	}
	c.NextDueAt = &first
	c.LastDueAt = nil

	created, err := e.checklists.Create(&c, now)
	if err != nil {
		return nil, err
	}
	e.logger.Info("checklist created", "checklist_id", created.ID, "code", created.Code, "next_due_at", first)

	if created.Status == model.ChecklistActive {
		if _, err := e.schedule(ctx, created, now); err != nil {
			return nil, err
		}
	}
	return e.GetChecklist(created.ID)
}

// GetChecklist returns the checklist, archived ones included.
func (e *Engine) GetChecklist(id int64) (*model.Checklist, error) {
	c, err := e.checklists.GetByID(id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("checklist %d: %w", id, ErrNotFound)
	}
	return c, nil
}

// ChecklistReminders returns the live reminders linked to a checklist.
func (e *Engine) ChecklistReminders(id int64) ([]model.Reminder, error) {
	if _, err := e.GetChecklist(id); err != nil {
		return nil, err
	}
	return e.reminders.ListByChecklist(id)
}

func sameRule(a, b recurrence.Rule) bool {
	return a.Frequency == b.Frequency && a.Interval == b.Interval &&
		a.CustomUnit == b.CustomUnit && a.CustomValue == b.CustomValue &&
		a.StartDate.Equal(b.StartDate) && a.DueTime == b.DueTime && a.Recurring == b.Recurring
}

// UpdateChecklistSchedule applies u to the checklist. When the rule changes
// the current cycle is recomputed without going back before the last
// completed cycle. Scheduled drafts that the new configuration no longer
// produces are cancelled.
func (e *Engine) UpdateChecklistSchedule(ctx context.Context, id int64, u ScheduleUpdate, now time.Time) (*model.Checklist, error) {
	c, err := e.GetChecklist(id)
	if err != nil {
		return nil, err
	}
	before := e.rule(*c)

	if u.Status != "" {
		c.Status = u.Status
	}
	c.FrequencyType = u.FrequencyType
	c.FrequencyInterval = u.FrequencyInterval
	c.CustomUnit = u.CustomUnit
	c.CustomValue = u.CustomValue
	c.StartDate = u.StartDate
	c.DueTime = u.DueTime
	c.IsRecurring = u.IsRecurring
	c.AssignedUserID = u.AssignedUserID
	c.AssignedRole = u.AssignedRole
	c.EscalateToUserID = u.EscalateToUserID
	c.EscalateToRole = u.EscalateToRole
	c.EscalationOffsetHours = u.EscalationOffsetHours
	c.AdvanceReminderOffsets = u.AdvanceReminderOffsets
	c.NotificationChannels = u.NotificationChannels
	c.RequiresAcknowledgment = u.RequiresAcknowledgment
	c.AllowPartialCompletion = u.AllowPartialCompletion
	if u.Triggers != nil {
		c.Triggers = append([]model.Trigger{}, (*u.Triggers)...)
		for i := range c.Triggers {
			c.Triggers[i].ID = 0
		}
	} else {
		c.Triggers = activeTriggers(c.Triggers)
	}
	if err := e.normalize(c); err != nil {
		return nil, err
	}

	after := e.rule(*c)
	if !sameRule(before, after) {
		next, ok, err := recurrence.Next(after, nil)
		if err == nil && c.LastDueAt != nil {
			ref := now
			if c.LastDueAt.After(ref) {
				ref = *c.LastDueAt
			}
			next, ok, err = recurrence.NextAfter(after, c.LastDueAt, ref)
		}
		if err != nil {
			return nil, model.InvalidErr("frequency", err)
		}
		c.NextDueAt = nil
		if ok {
			c.NextDueAt = &next
		}
	}

	updated, err := e.checklists.UpdateSchedule(c, u.Triggers != nil, now)
	if err != nil {
		return nil, err
	}
	e.logger.Info("checklist schedule updated", "checklist_id", id, "next_due_at", updated.NextDueAt)

	live := updated.Status == model.ChecklistActive && !updated.Archived()
	var cycle time.Time
	var keep []string
	if live && updated.NextDueAt != nil {
		cycle = *updated.NextDueAt
		for _, d := range trigger.Plan(*updated, activeTriggers(updated.Triggers), cycle) {
			keep = append(keep, d.SourceKey)
		}
	}
	evs, err := e.reminders.RetireDrafts(id, cycle, keep, now, "checklist schedule changed")
	if err != nil {
		return nil, err
	}
	e.publish(ctx, evs...)

	if live {
		if _, err := e.schedule(ctx, updated, now); err != nil {
			return nil, err
		}
	}
	return e.GetChecklist(id)
}

func activeTriggers(all []model.Trigger) []model.Trigger {
	out := []model.Trigger{}
	for _, tr := range all {
		if tr.IsActive {
			out = append(out, tr)
		}
	}
	return out
}

// ArchiveChecklist soft deletes the checklist. Its reminders are left alone
// unless the archive cascade is enabled, in which case the open ones are
// cancelled.
func (e *Engine) ArchiveChecklist(ctx context.Context, id int64, now time.Time) (bool, error) {
	archived, err := e.archive.Archive(store.TableChecklists, id, now)
	if err != nil || !archived {
		return archived, err
	}
	e.logger.Info("checklist archived", "checklist_id", id, "cascade", e.opts.ArchiveCascade)
	if !e.opts.ArchiveCascade {
		return true, nil
	}
	evs, err := e.reminders.CancelForChecklist(id, false, nil, now, "checklist archived")
	if err != nil {
		return true, err
	}
	e.publish(ctx, evs...)
	return true, nil
}

// RestoreChecklist clears the archive flag. next_due_at is kept as it was.
func (e *Engine) RestoreChecklist(id int64, now time.Time) (bool, error) {
	restored, err := e.archive.Restore(store.TableChecklists, id, now)
	if err == nil && restored {
		e.logger.Info("checklist restored", "checklist_id", id)
	}
	return restored, err
}

// CompleteCycle acknowledges the current due cycle of a checklist: the cycle
// moves to the next occurrence, pending reminders of the completed cycle are
// cancelled and its sent reminders stop escalating.
func (e *Engine) CompleteCycle(ctx context.Context, id int64, now time.Time) (*model.Checklist, error) {
	c, err := e.GetChecklist(id)
	if err != nil {
		return nil, err
	}
	if c.Archived() {
		return nil, fmt.Errorf("checklist %d: %w", id, ErrNotFound)
	}
	if c.NextDueAt == nil {
		return nil, model.Invalid("next_due_at", "checklist has no open cycle")
	}
	cycle := *c.NextDueAt

	ref := cycle
	if now.After(ref) {
		ref = now
	}
	next, ok, err := recurrence.NextAfter(e.rule(*c), &cycle, ref)
	if err != nil {
		return nil, model.InvalidErr("frequency", err)
	}
	var np *time.Time
	if ok {
		np = &next
	}
	moved, err := e.checklists.AdvanceCycle(id, cycle, np, now)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, model.Invalid("next_due_at", "cycle %s was already completed", cycle.Format(time.RFC3339))
	}

	evs, err := e.reminders.CloseCycle(id, cycle, now, "checklist cycle completed")
	if err != nil {
		return nil, err
	}
	e.publish(ctx, evs...)
	e.logger.Info("checklist cycle completed", "checklist_id", id, "cycle", cycle, "next_due_at", np)

	c, err = e.GetChecklist(id)
	if err != nil {
		return nil, err
	}
	if c.Status == model.ChecklistActive {
		if _, err := e.schedule(ctx, c, now); err != nil {
			return nil, err
		}
	}
	return c, nil
}
