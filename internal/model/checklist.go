package model

import "time"

type ChecklistStatus string

const (
	ChecklistActive   ChecklistStatus = "active"
	ChecklistInactive ChecklistStatus = "inactive"
	ChecklistArchived ChecklistStatus = "archived"
)

type FrequencyType string

const (
	FrequencyDaily     FrequencyType = "daily"
	FrequencyWeekly    FrequencyType = "weekly"
	FrequencyMonthly   FrequencyType = "monthly"
	FrequencyQuarterly FrequencyType = "quarterly"
	FrequencyYearly    FrequencyType = "yearly"
	FrequencyCustom    FrequencyType = "custom"
)

type CustomUnit string

const (
	UnitHours  CustomUnit = "hours"
	UnitDays   CustomUnit = "days"
	UnitWeeks  CustomUnit = "weeks"
	UnitMonths CustomUnit = "months"
	UnitYears  CustomUnit = "years"
)

// Checklist is a recurring compliance checklist. Items and triggers are owned by it.
type Checklist struct {
	ID                     int64           `json:"id"`
	Title                  string          `json:"title"`
	Code                   string          `json:"code"`
	Category               string          `json:"category"`
	Status                 ChecklistStatus `json:"status"`
	FrequencyType          FrequencyType   `json:"frequency_type"`
	FrequencyInterval      int             `json:"frequency_interval"`
	CustomUnit             CustomUnit      `json:"custom_frequency_unit,omitempty"`
	CustomValue            int             `json:"custom_frequency_value,omitempty"`
	StartDate              time.Time       `json:"start_date"`
	DueTime                string          `json:"due_time"`
	IsRecurring            bool            `json:"is_recurring"`
	NextDueAt              *time.Time      `json:"next_due_at"`
	LastDueAt              *time.Time      `json:"last_due_at"`
	AssignedUserID         *int64          `json:"assigned_user_id"`
	AssignedRole           string          `json:"assigned_role,omitempty"`
	EscalateToUserID       *int64          `json:"escalate_to_user_id"`
	EscalateToRole         string          `json:"escalate_to_role,omitempty"`
	EscalationOffsetHours  int             `json:"escalation_offset_hours"`
	AdvanceReminderOffsets []int           `json:"advance_reminder_offsets"`
	NotificationChannels   ChannelSet      `json:"notification_channels"`
	RequiresAcknowledgment bool            `json:"requires_acknowledgement"`
	AllowPartialCompletion bool            `json:"allow_partial_completion"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
	DeletedAt              *time.Time      `json:"deleted_at,omitempty"`

	Items    []ChecklistItem `json:"items,omitempty"`
	Triggers []Trigger       `json:"triggers,omitempty"`
}

// Archived reports whether the checklist has been soft deleted.
func (c Checklist) Archived() bool {
	return c.DeletedAt != nil
}

// EscalationTarget returns the checklist-level escalation target.
func (c Checklist) EscalationTarget() Target {
	return Target{UserID: c.EscalateToUserID, Role: c.EscalateToRole}
}

// Assignee returns the checklist's assigned user or role.
func (c Checklist) Assignee() Target {
	return Target{UserID: c.AssignedUserID, Role: c.AssignedRole}
}

type ChecklistItem struct {
	ID          int64  `json:"id"`
	ChecklistID int64  `json:"checklist_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	IsRequired  bool   `json:"is_required"`
	IsActive    bool   `json:"is_active"`
	SortOrder   int    `json:"sort_order"`
}

type TriggerType string

const (
	TriggerAdvance    TriggerType = "advance"
	TriggerDue        TriggerType = "due"
	TriggerEscalation TriggerType = "escalation"
)

type Trigger struct {
	ID               int64       `json:"id"`
	ChecklistID      int64       `json:"checklist_id"`
	TriggerType      TriggerType `json:"trigger_type"`
	OffsetHours      int         `json:"offset_hours"`
	Channels         ChannelSet  `json:"channels"`
	EscalateToUserID *int64      `json:"escalate_to_user_id"`
	EscalateToRole   string      `json:"escalate_to_role,omitempty"`
	IsActive         bool        `json:"is_active"`
}

// EscalationTarget returns the trigger's own target.
func (t Trigger) EscalationTarget() Target {
	return Target{UserID: t.EscalateToUserID, Role: t.EscalateToRole}
}
