package trigger

import (
	"github.com/reancirl/car-erp-sub006/internal/model"
)

// ValidateTrigger checks a trigger definition. fallback is the checklist's
// escalation target, used when an escalation trigger names none itself.
func ValidateTrigger(tr model.Trigger, fallback model.Target) error {
	switch tr.TriggerType {
	case model.TriggerAdvance, model.TriggerDue, model.TriggerEscalation:
	default:
		return model.Invalid("trigger_type", "unknown trigger type %q", tr.TriggerType)
	}
	if tr.OffsetHours < 0 {
		return model.Invalid("offset_hours", "must be >= 0")
	}
	if len(tr.Channels) == 0 {
		return model.Invalid("channels", "at least one channel is required")
	}
	if _, err := model.NewChannelSet(tr.Channels...); err != nil {
		return model.Invalid("channels", "%v", err)
	}
	if tr.TriggerType == model.TriggerEscalation {
		if tr.OffsetHours < 1 {
			return model.Invalid("offset_hours", "escalation triggers must fire at least 1 hour after the due time")
		}
		if tr.EscalationTarget().Empty() && fallback.Empty() {
			return model.Invalid("escalate_to", "escalation triggers need a user or role to escalate to")
		}
	}
	return nil
}

// ValidateOffsets rejects non-positive and repeated advance offsets.
func ValidateOffsets(offsets []int) error {
	seen := make(map[int]bool, len(offsets))
	for _, h := range offsets {
		if h <= 0 {
			return model.Invalid("advance_reminder_offsets", "offsets must be positive hours, got %d", h)
		}
		if seen[h] {
			return model.Invalid("advance_reminder_offsets", "duplicate offset %d", h)
		}
		seen[h] = true
	}
	return nil
}
