// Package trigger turns a checklist's reminder configuration into reminder
// drafts for one due cycle. It does no I/O; drafts are persisted through
// store.ReminderStore.UpsertGenerated, keyed by (checklist, source key, cycle).
package trigger

import (
	"fmt"
	"time"

	"github.com/reancirl/car-erp-sub006/internal/model"
)

// DefaultChannels is used when a checklist has no notification channels configured.
var DefaultChannels = model.ChannelSet{model.ChannelInApp}

// OffsetKey is the source key of a draft generated from advance_reminder_offsets.
func OffsetKey(hours int) string {
	return fmt.Sprintf("offset:%d", hours)
}

// DueKey is the source key of the checklist-level due draft planned when the
// checklist escalates on its own and has no due trigger.
const DueKey = "due"

// TriggerKey is the source key of a draft generated from a configured trigger.
func TriggerKey(id int64) string {
	return fmt.Sprintf("trigger:%d", id)
}

// Plan returns the reminder drafts for the due cycle of a checklist. Inactive
// or invalid triggers are skipped. Drafts come back in a stable order:
// offsets first, then the checklist-level due draft, then triggers in the
// order given.
func Plan(c model.Checklist, triggers []model.Trigger, cycle time.Time) []model.Reminder {
	cycle = cycle.UTC()
	checklistChannels := c.NotificationChannels
	if len(checklistChannels) == 0 {
		checklistChannels = DefaultChannels
	}

	var drafts []model.Reminder
	for _, h := range c.AdvanceReminderOffsets {
		if h <= 0 {
			continue
		}
		d := base(c, cycle, OffsetKey(h), model.ReminderAdvance, checklistChannels)
		d.RemindAt = cycle.Add(-time.Duration(h) * time.Hour)
		d.Title = fmt.Sprintf("%s due in %s", c.Title, hoursLabel(h))
		drafts = append(drafts, d)
	}

	if !hasDueTrigger(c, triggers) && c.EscalationOffsetHours > 0 && !c.EscalationTarget().Empty() {
		d := base(c, cycle, DueKey, model.ReminderDue, checklistChannels)
		d.RemindAt = cycle
		d.Title = c.Title + " is due"
		escalate(&d, c, cycle)
		drafts = append(drafts, d)
	}

	for _, tr := range triggers {
		if !tr.IsActive || ValidateTrigger(tr, c.EscalationTarget()) != nil {
			continue
		}
		channels := tr.Channels
		offset := time.Duration(tr.OffsetHours) * time.Hour

		switch tr.TriggerType {
		case model.TriggerAdvance:
			d := base(c, cycle, TriggerKey(tr.ID), model.ReminderAdvance, channels)
			d.RemindAt = cycle.Add(-offset)
			d.Title = fmt.Sprintf("%s due in %s", c.Title, hoursLabel(tr.OffsetHours))
			drafts = append(drafts, d)

		case model.TriggerDue:
			d := base(c, cycle, TriggerKey(tr.ID), model.ReminderDue, channels)
			d.RemindAt = cycle
			d.Title = c.Title + " is due"
			escalate(&d, c, cycle)
			drafts = append(drafts, d)

		case model.TriggerEscalation:
			target := tr.EscalationTarget()
			if target.Empty() {
				target = c.EscalationTarget()
			}
			at := cycle.Add(offset)
			d := base(c, cycle, TriggerKey(tr.ID), model.ReminderEscalation, channels)
			d.RemindAt = at
			d.AutoEscalate = true
			d.EscalateAt = &at
			d.Title = fmt.Sprintf("%s overdue by %s", c.Title, hoursLabel(tr.OffsetHours))
			setEscalationTarget(&d, target)
			drafts = append(drafts, d)
		}
	}
	return drafts
}

func base(c model.Checklist, cycle time.Time, key string, typ model.ReminderType, channels model.ChannelSet) model.Reminder {
	checklistID := c.ID
	due := cycle
	dueCycle := cycle
	return model.Reminder{
		Title:            c.Title,
		Description:      describe(c),
		ReminderType:     typ,
		Priority:         priorityFor(typ),
		DeliveryChannel:  channels[0],
		DeliveryChannels: append(model.ChannelSet{}, channels[1:]...),
		DueAt:            &due,
		Status:           model.ReminderScheduled,
		AssignedUserID:   c.AssignedUserID,
		AssignedRole:     c.AssignedRole,
		ChecklistID:      &checklistID,
		SourceKey:        key,
		DueCycleAt:       &dueCycle,
	}
}

func hasDueTrigger(c model.Checklist, triggers []model.Trigger) bool {
	for _, tr := range triggers {
		if tr.IsActive && tr.TriggerType == model.TriggerDue && ValidateTrigger(tr, c.EscalationTarget()) == nil {
			return true
		}
	}
	return false
}

// escalate applies the checklist's escalation_offset_hours and target to a due draft.
func escalate(d *model.Reminder, c model.Checklist, cycle time.Time) {
	if c.EscalationOffsetHours <= 0 || c.EscalationTarget().Empty() {
		return
	}
	at := cycle.Add(time.Duration(c.EscalationOffsetHours) * time.Hour)
	d.AutoEscalate = true
	d.EscalateAt = &at
	setEscalationTarget(d, c.EscalationTarget())
}

func setEscalationTarget(d *model.Reminder, t model.Target) {
	d.EscalateToUserID = t.UserID
	d.EscalateToRole = ""
	if t.UserID == nil {
		d.EscalateToRole = t.Role
	}
}

func priorityFor(t model.ReminderType) model.Priority {
	switch t {
	case model.ReminderDue:
		return model.PriorityHigh
	case model.ReminderEscalation:
		return model.PriorityCritical
	default:
		return model.PriorityMedium
	}
}

func describe(c model.Checklist) string {
	if c.Code == "" {
		return c.Category
	}
	if c.Category == "" {
		return c.Code
	}
	return c.Code + " (" + c.Category + ")"
}

func hoursLabel(h int) string {
	switch {
	case h == 0:
		return "0 hours"
	case h == 1:
		return "1 hour"
	case h%24 == 0 && h/24 == 1:
		return "1 day"
	case h%24 == 0:
		return fmt.Sprintf("%d days", h/24)
	default:
		return fmt.Sprintf("%d hours", h)
	}
}
