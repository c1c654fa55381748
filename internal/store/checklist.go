package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/reancirl/car-erp-sub006/internal/model"
)

type ChecklistStore struct {
	db *sql.DB
}

func NewChecklistStore(db *sql.DB) *ChecklistStore {
	return &ChecklistStore{db: db}
}

const checklistCols = `id, title, code, category, status, frequency_type, frequency_interval,
	custom_frequency_unit, custom_frequency_value, start_date, due_time, is_recurring,
	next_due_at, last_due_at, assigned_user_id, assigned_role, escalate_to_user_id, escalate_to_role,
	escalation_offset_hours, advance_reminder_offsets, notification_channels,
	requires_acknowledgement, allow_partial_completion, created_at, updated_at, deleted_at`

func scanChecklist(scanner interface{ Scan(...any) error }) (*model.Checklist, error) {
	var c model.Checklist
	var (
		isRecurring, requiresAck, allowPartial int
		nextDue, lastDue, deletedAt            sql.NullTime
		assignedUser, escalateUser             sql.NullInt64
		offsets, channels                      string
	)
	err := scanner.Scan(
		&c.ID, &c.Title, &c.Code, &c.Category, &c.Status, &c.FrequencyType, &c.FrequencyInterval,
		&c.CustomUnit, &c.CustomValue, &c.StartDate, &c.DueTime, &isRecurring,
		&nextDue, &lastDue, &assignedUser, &c.AssignedRole, &escalateUser, &c.EscalateToRole,
		&c.EscalationOffsetHours, &offsets, &channels,
		&requiresAck, &allowPartial, &c.CreatedAt, &c.UpdatedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}
	c.IsRecurring = isRecurring != 0
	c.RequiresAcknowledgment = requiresAck != 0
	c.AllowPartialCompletion = allowPartial != 0
	c.StartDate = c.StartDate.UTC()
	c.NextDueAt = timePtr(nextDue)
	c.LastDueAt = timePtr(lastDue)
	c.DeletedAt = timePtr(deletedAt)
	c.AssignedUserID = int64Ptr(assignedUser)
	c.EscalateToUserID = int64Ptr(escalateUser)
	if c.AdvanceReminderOffsets, err = decodeInts(offsets); err != nil {
		return nil, fmt.Errorf("decode advance offsets: %w", err)
	}
	if c.NotificationChannels, err = model.ParseChannelSet(channels); err != nil {
		return nil, fmt.Errorf("decode notification channels: %w", err)
	}
	return &c, nil
}

// Create inserts the checklist with its items and triggers in one transaction.
func (s *ChecklistStore) Create(c *model.Checklist, now time.Time) (*model.Checklist, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin create checklist: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		`INSERT INTO checklists (title, code, category, status, frequency_type, frequency_interval,
			custom_frequency_unit, custom_frequency_value, start_date, due_time, is_recurring,
			next_due_at, last_due_at, assigned_user_id, assigned_role, escalate_to_user_id, escalate_to_role,
			escalation_offset_hours, advance_reminder_offsets, notification_channels,
			requires_acknowledgement, allow_partial_completion, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Title, c.Code, c.Category, c.Status, c.FrequencyType, c.FrequencyInterval,
		c.CustomUnit, c.CustomValue, ts(c.StartDate), c.DueTime, boolInt(c.IsRecurring),
		nullTime(c.NextDueAt), nullTime(c.LastDueAt), nullInt64(c.AssignedUserID), c.AssignedRole,
		nullInt64(c.EscalateToUserID), c.EscalateToRole,
		c.EscalationOffsetHours, encodeInts(c.AdvanceReminderOffsets), c.NotificationChannels.String(),
		boolInt(c.RequiresAcknowledgment), boolInt(c.AllowPartialCompletion), ts(now), ts(now),
	)
	if err != nil {
		return nil, fmt.Errorf("insert checklist: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	for i, item := range c.Items {
		sortOrder := item.SortOrder
		if sortOrder == 0 {
			sortOrder = i + 1
		}
		if _, err := tx.Exec(
			`INSERT INTO checklist_items (checklist_id, title, description, is_required, is_active, sort_order)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			id, item.Title, item.Description, boolInt(item.IsRequired), boolInt(item.IsActive), sortOrder,
		); err != nil {
			return nil, fmt.Errorf("insert checklist item: %w", err)
		}
	}

	if err := insertTriggers(tx, id, c.Triggers); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create checklist: %w", err)
	}
	return s.GetByID(id)
}

func insertTriggers(tx *sql.Tx, checklistID int64, triggers []model.Trigger) error {
	for _, tr := range triggers {
		if _, err := tx.Exec(
			`INSERT INTO checklist_triggers (checklist_id, trigger_type, offset_hours, channels, escalate_to_user_id, escalate_to_role, is_active)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			checklistID, tr.TriggerType, tr.OffsetHours, tr.Channels.String(),
			nullInt64(tr.EscalateToUserID), tr.EscalateToRole, boolInt(tr.IsActive),
		); err != nil {
			return fmt.Errorf("insert trigger: %w", err)
		}
	}
	return nil
}

// GetByID returns the checklist with items and triggers, including archived
// checklists. Returns nil, nil when no row exists.
func (s *ChecklistStore) GetByID(id int64) (*model.Checklist, error) {
	row := s.db.QueryRow(`SELECT `+checklistCols+` FROM checklists WHERE id = ?`, id)
	c, err := scanChecklist(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get checklist: %w", err)
	}

	if c.Items, err = s.Items(id); err != nil {
		return nil, err
	}
	if c.Triggers, err = s.Triggers(id, false); err != nil {
		return nil, err
	}
	return c, nil
}

// ListActive returns active, non-archived checklists without items or triggers.
func (s *ChecklistStore) ListActive() ([]model.Checklist, error) {
	rows, err := s.db.Query(
		`SELECT ` + checklistCols + ` FROM checklists
		 WHERE status = 'active' AND deleted_at IS NULL
		 ORDER BY id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list active checklists: %w", err)
	}
	defer rows.Close()

	var checklists []model.Checklist
	for rows.Next() {
		c, err := scanChecklist(rows)
		if err != nil {
			return nil, fmt.Errorf("scan checklist: %w", err)
		}
		checklists = append(checklists, *c)
	}
	return checklists, rows.Err()
}

// Items returns the checklist's items in sort order.
func (s *ChecklistStore) Items(checklistID int64) ([]model.ChecklistItem, error) {
	rows, err := s.db.Query(
		`SELECT id, checklist_id, title, description, is_required, is_active, sort_order
		 FROM checklist_items WHERE checklist_id = ? ORDER BY sort_order ASC, id ASC`,
		checklistID,
	)
	if err != nil {
		return nil, fmt.Errorf("list checklist items: %w", err)
	}
	defer rows.Close()

	items := []model.ChecklistItem{}
	for rows.Next() {
		var item model.ChecklistItem
		var required, active int
		if err := rows.Scan(&item.ID, &item.ChecklistID, &item.Title, &item.Description, &required, &active, &item.SortOrder); err != nil {
			return nil, fmt.Errorf("scan checklist item: %w", err)
		}
		item.IsRequired = required != 0
		item.IsActive = active != 0
		items = append(items, item)
	}
	return items, rows.Err()
}

// Triggers returns the checklist's triggers. With activeOnly, retired triggers are skipped.
func (s *ChecklistStore) Triggers(checklistID int64, activeOnly bool) ([]model.Trigger, error) {
	query := `SELECT id, checklist_id, trigger_type, offset_hours, channels, escalate_to_user_id, escalate_to_role, is_active
		FROM checklist_triggers WHERE checklist_id = ?`
	if activeOnly {
		query += ` AND is_active = 1`
	}
	rows, err := s.db.Query(query+` ORDER BY id ASC`, checklistID)
	if err != nil {
		return nil, fmt.Errorf("list triggers: %w", err)
	}
	defer rows.Close()

	triggers := []model.Trigger{}
	for rows.Next() {
		var tr model.Trigger
		var channels string
		var escalateUser sql.NullInt64
		var active int
		if err := rows.Scan(&tr.ID, &tr.ChecklistID, &tr.TriggerType, &tr.OffsetHours, &channels, &escalateUser, &tr.EscalateToRole, &active); err != nil {
			return nil, fmt.Errorf("scan trigger: %w", err)
		}
		if tr.Channels, err = model.ParseChannelSet(channels); err != nil {
			return nil, fmt.Errorf("decode trigger channels: %w", err)
		}
		tr.EscalateToUserID = int64Ptr(escalateUser)
		tr.IsActive = active != 0
		triggers = append(triggers, tr)
	}
	return triggers, rows.Err()
}

// UpdateSchedule rewrites the schedule and assignment fields of a checklist.
// When replaceTriggers is set the current triggers are retired (is_active = 0)
// and c.Triggers are inserted in their place.
func (s *ChecklistStore) UpdateSchedule(c *model.Checklist, replaceTriggers bool, now time.Time) (*model.Checklist, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin update checklist: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		`UPDATE checklists SET
			status = ?, frequency_type = ?, frequency_interval = ?, custom_frequency_unit = ?,
			custom_frequency_value = ?, start_date = ?, due_time = ?, is_recurring = ?,
			next_due_at = ?, last_due_at = ?, assigned_user_id = ?, assigned_role = ?,
			escalate_to_user_id = ?, escalate_to_role = ?, escalation_offset_hours = ?,
			advance_reminder_offsets = ?, notification_channels = ?,
			requires_acknowledgement = ?, allow_partial_completion = ?, updated_at = ?
		 WHERE id = ?`,
		c.Status, c.FrequencyType, c.FrequencyInterval, c.CustomUnit,
		c.CustomValue, ts(c.StartDate), c.DueTime, boolInt(c.IsRecurring),
		nullTime(c.NextDueAt), nullTime(c.LastDueAt), nullInt64(c.AssignedUserID), c.AssignedRole,
		nullInt64(c.EscalateToUserID), c.EscalateToRole, c.EscalationOffsetHours,
		encodeInts(c.AdvanceReminderOffsets), c.NotificationChannels.String(),
		boolInt(c.RequiresAcknowledgment), boolInt(c.AllowPartialCompletion), ts(now),
		c.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update checklist: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("checklist %d: %w", c.ID, ErrNotFound)
	}

	if replaceTriggers {
		if _, err := tx.Exec(`UPDATE checklist_triggers SET is_active = 0 WHERE checklist_id = ?`, c.ID); err != nil {
			return nil, fmt.Errorf("retire triggers: %w", err)
		}
		if err := insertTriggers(tx, c.ID, c.Triggers); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update checklist: %w", err)
	}
	return s.GetByID(c.ID)
}

// SetCycle records the checklist's current and previous due cycles.
func (s *ChecklistStore) SetCycle(id int64, next, last *time.Time, now time.Time) error {
	_, err := s.db.Exec(
		`UPDATE checklists SET next_due_at = ?, last_due_at = ?, updated_at = ? WHERE id = ?`,
		nullTime(next), nullTime(last), ts(now), id,
	)
	if err != nil {
		return fmt.Errorf("set checklist cycle: %w", err)
	}
	return nil
}

// AdvanceCycle moves next_due_at from the expected value to next, recording
// the expected value as last_due_at. It reports false when another worker
// already moved the cycle.
func (s *ChecklistStore) AdvanceCycle(id int64, expected time.Time, next *time.Time, now time.Time) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE checklists SET next_due_at = ?, last_due_at = ?, updated_at = ?
		 WHERE id = ? AND next_due_at = ?`,
		nullTime(next), ts(expected), ts(now), id, ts(expected),
	)
	if err != nil {
		return false, fmt.Errorf("advance checklist cycle: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("advance checklist cycle: %w", err)
	}
	return n == 1, nil
}

// CodeExists reports whether a checklist already uses code, archived ones included.
func (s *ChecklistStore) CodeExists(code string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM checklists WHERE code = ?`, code).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check checklist code: %w", err)
	}
	return true, nil
}
