package model

import "time"

type ReminderStatus string

const (
	ReminderScheduled ReminderStatus = "scheduled"
	ReminderSent      ReminderStatus = "sent"
	ReminderEscalated ReminderStatus = "escalated"
	ReminderFailed    ReminderStatus = "failed"
	ReminderCancelled ReminderStatus = "cancelled"
)

type ReminderType string

const (
	ReminderManual     ReminderType = "manual"
	ReminderAdvance    ReminderType = "advance"
	ReminderDue        ReminderType = "due"
	ReminderEscalation ReminderType = "escalation"
)

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Reminder is a single notification instance, either manual or generated from a checklist cycle.
type Reminder struct {
	ID               int64          `json:"id"`
	Title            string         `json:"title"`
	Description      string         `json:"description"`
	ReminderType     ReminderType   `json:"reminder_type"`
	Priority         Priority       `json:"priority"`
	DeliveryChannel  Channel        `json:"delivery_channel"`
	DeliveryChannels ChannelSet     `json:"delivery_channels"`
	RemindAt         time.Time      `json:"remind_at"`
	DueAt            *time.Time     `json:"due_at"`
	EscalateAt       *time.Time     `json:"escalate_at"`
	Status           ReminderStatus `json:"status"`
	AutoEscalate     bool           `json:"auto_escalate"`
	EscalateToUserID *int64         `json:"escalate_to_user_id"`
	EscalateToRole   string         `json:"escalate_to_role,omitempty"`
	AssignedUserID   *int64         `json:"assigned_user_id"`
	AssignedRole     string         `json:"assigned_role,omitempty"`
	ChecklistID      *int64         `json:"checklist_id"`
	SourceKey        string         `json:"source_key,omitempty"`
	DueCycleAt       *time.Time     `json:"due_cycle_at,omitempty"`
	SentCount        int            `json:"sent_count"`
	AttemptCount     int            `json:"attempt_count"`
	NextAttemptAt    *time.Time     `json:"next_attempt_at,omitempty"`
	LastError        string         `json:"last_error,omitempty"`
	LastSentAt       *time.Time     `json:"last_sent_at"`
	LastTriggeredAt  *time.Time     `json:"last_triggered_at"`
	LastEscalatedAt  *time.Time     `json:"last_escalated_at"`
	ClaimedBy        string         `json:"-"`
	ClaimedAt        *time.Time     `json:"-"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        *time.Time     `json:"deleted_at,omitempty"`
}

func (r Reminder) Archived() bool {
	return r.DeletedAt != nil
}

// AllChannels returns the primary channel followed by the additional ones, without repeats.
func (r Reminder) AllChannels() ChannelSet {
	out := ChannelSet{r.DeliveryChannel}
	for _, c := range r.DeliveryChannels {
		if !out.Contains(c) {
			out = append(out, c)
		}
	}
	return out
}

func (r Reminder) Assignee() Target {
	return Target{UserID: r.AssignedUserID, Role: r.AssignedRole}
}

func (r Reminder) EscalationTarget() Target {
	return Target{UserID: r.EscalateToUserID, Role: r.EscalateToRole}
}

// Event types recorded on the reminder timeline.
const (
	EventDelivery       = "delivery"
	EventEscalated      = "escalated"
	EventCancelled      = "cancelled"
	EventRetryScheduled = "retry_scheduled"
)

// ReminderEvent is an append-only audit record of a reminder transition or channel attempt.
type ReminderEvent struct {
	ID          int64          `json:"id"`
	ReminderID  int64          `json:"reminder_id"`
	EventType   string         `json:"event_type"`
	Status      ReminderStatus `json:"status"`
	Channel     Channel        `json:"channel,omitempty"`
	ProcessedAt time.Time      `json:"processed_at"`
	Message     string         `json:"message,omitempty"`
}
