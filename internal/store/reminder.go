package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/reancirl/car-erp-sub006/internal/model"
)

// ErrClaimLost is returned when a dispatch finalizes a reminder it no longer holds.
var ErrClaimLost = errors.New("reminder claim lost")

type ReminderStore struct {
	db *sql.DB
}

func NewReminderStore(db *sql.DB) *ReminderStore {
	return &ReminderStore{db: db}
}

const reminderCols = `id, title, description, reminder_type, priority, delivery_channel, delivery_channels,
	remind_at, due_at, escalate_at, status, auto_escalate, escalate_to_user_id, escalate_to_role,
	assigned_user_id, assigned_role, checklist_id, source_key, due_cycle_at, sent_count, attempt_count,
	next_attempt_at, last_error, last_sent_at, last_triggered_at, last_escalated_at,
	claimed_by, claimed_at, created_at, updated_at, deleted_at`

func scanReminder(scanner interface{ Scan(...any) error }) (*model.Reminder, error) {
	var r model.Reminder
	var (
		channels                                 string
		autoEscalate                             int
		dueAt, escalateAt, dueCycle, nextAttempt sql.NullTime
		lastSent, lastTriggered, lastEscalated   sql.NullTime
		claimedAt, deletedAt                     sql.NullTime
		escalateUser, assignedUser, checklistID  sql.NullInt64
		sourceKey, claimedBy                     sql.NullString
	)
	err := scanner.Scan(
		&r.ID, &r.Title, &r.Description, &r.ReminderType, &r.Priority, &r.DeliveryChannel, &channels,
		&r.RemindAt, &dueAt, &escalateAt, &r.Status, &autoEscalate, &escalateUser, &r.EscalateToRole,
		&assignedUser, &r.AssignedRole, &checklistID, &sourceKey, &dueCycle, &r.SentCount, &r.AttemptCount,
		&nextAttempt, &r.LastError, &lastSent, &lastTriggered, &lastEscalated,
		&claimedBy, &claimedAt, &r.CreatedAt, &r.UpdatedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}
	if r.DeliveryChannels, err = model.ParseChannelSet(channels); err != nil {
		return nil, fmt.Errorf("decode delivery channels: %w", err)
	}
	r.RemindAt = r.RemindAt.UTC()
	r.AutoEscalate = autoEscalate != 0
	r.DueAt = timePtr(dueAt)
	r.EscalateAt = timePtr(escalateAt)
	r.DueCycleAt = timePtr(dueCycle)
	r.NextAttemptAt = timePtr(nextAttempt)
	r.LastSentAt = timePtr(lastSent)
	r.LastTriggeredAt = timePtr(lastTriggered)
	r.LastEscalatedAt = timePtr(lastEscalated)
	r.ClaimedAt = timePtr(claimedAt)
	r.DeletedAt = timePtr(deletedAt)
	r.EscalateToUserID = int64Ptr(escalateUser)
	r.AssignedUserID = int64Ptr(assignedUser)
	r.ChecklistID = int64Ptr(checklistID)
	r.SourceKey = sourceKey.String
	r.ClaimedBy = claimedBy.String
	return &r, nil
}

func collectReminders(rows *sql.Rows) ([]model.Reminder, error) {
	reminders := []model.Reminder{}
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		reminders = append(reminders, *r)
	}
	return reminders, rows.Err()
}

func insertReminder(q querier, r *model.Reminder, now time.Time) (sql.Result, error) {
	return q.Exec(
		`INSERT INTO reminders (title, description, reminder_type, priority, delivery_channel, delivery_channels,
			remind_at, due_at, escalate_at, status, auto_escalate, escalate_to_user_id, escalate_to_role,
			assigned_user_id, assigned_role, checklist_id, source_key, due_cycle_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(checklist_id, source_key, due_cycle_at) DO NOTHING`,
		r.Title, r.Description, r.ReminderType, r.Priority, r.DeliveryChannel, r.DeliveryChannels.String(),
		ts(r.RemindAt), nullTime(r.DueAt), nullTime(r.EscalateAt), model.ReminderScheduled,
		boolInt(r.AutoEscalate), nullInt64(r.EscalateToUserID), r.EscalateToRole,
		nullInt64(r.AssignedUserID), r.AssignedRole, nullInt64(r.ChecklistID), nullString(r.SourceKey),
		nullTime(r.DueCycleAt), ts(now), ts(now),
	)
}

// Create inserts a reminder in the scheduled state.
func (s *ReminderStore) Create(r *model.Reminder, now time.Time) (*model.Reminder, error) {
	result, err := insertReminder(s.db, r, now)
	if err != nil {
		return nil, fmt.Errorf("insert reminder: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("insert reminder: duplicate source key %q", r.SourceKey)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

// GetByID returns the reminder, archived or not. Returns nil, nil when no row exists.
func (s *ReminderStore) GetByID(id int64) (*model.Reminder, error) {
	return getReminder(s.db, id)
}

func getReminder(q querier, id int64) (*model.Reminder, error) {
	row := q.QueryRow(`SELECT `+reminderCols+` FROM reminders WHERE id = ?`, id)
	r, err := scanReminder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get reminder: %w", err)
	}
	return r, nil
}

// UpsertGenerated persists a generated reminder keyed by (checklist_id,
// source_key, due_cycle_at). An existing row is refreshed only while it is
// still scheduled, unclaimed and not archived; otherwise it is left alone.
// created reports whether a new row was inserted.
func (s *ReminderStore) UpsertGenerated(r *model.Reminder, now time.Time) (id int64, created bool, err error) {
	if r.ChecklistID == nil || r.SourceKey == "" || r.DueCycleAt == nil {
		return 0, false, errors.New("upsert generated reminder: checklist id, source key and due cycle are required")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, false, fmt.Errorf("begin upsert reminder: %w", err)
	}
	defer tx.Rollback()

	lookup := func() (int64, error) {
		var id int64
		err := tx.QueryRow(
			`SELECT id FROM reminders WHERE checklist_id = ? AND source_key = ? AND due_cycle_at = ?`,
			*r.ChecklistID, r.SourceKey, ts(*r.DueCycleAt),
		).Scan(&id)
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return id, err
	}

	id, err = lookup()
	if err != nil {
		return 0, false, fmt.Errorf("lookup generated reminder: %w", err)
	}

	if id == 0 {
		result, err := insertReminder(tx, r, now)
		if err != nil {
			return 0, false, fmt.Errorf("insert generated reminder: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 1 {
			if id, err = result.LastInsertId(); err != nil {
				return 0, false, fmt.Errorf("last insert id: %w", err)
			}
			created = true
		} else if id, err = lookup(); err != nil {
			return 0, false, fmt.Errorf("lookup generated reminder: %w", err)
		}
	} else {
		_, err = tx.Exec(
			`UPDATE reminders SET title = ?, description = ?, priority = ?, delivery_channel = ?,
				delivery_channels = ?, remind_at = ?, due_at = ?, escalate_at = ?, auto_escalate = ?,
				escalate_to_user_id = ?, escalate_to_role = ?, assigned_user_id = ?, assigned_role = ?,
				updated_at = ?
			 WHERE id = ? AND status = 'scheduled' AND claimed_by IS NULL AND deleted_at IS NULL`,
			r.Title, r.Description, r.Priority, r.DeliveryChannel,
			r.DeliveryChannels.String(), ts(r.RemindAt), nullTime(r.DueAt), nullTime(r.EscalateAt), boolInt(r.AutoEscalate),
			nullInt64(r.EscalateToUserID), r.EscalateToRole, nullInt64(r.AssignedUserID), r.AssignedRole,
			ts(now), id,
		)
		if err != nil {
			return 0, false, fmt.Errorf("refresh generated reminder: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("commit upsert reminder: %w", err)
	}
	return id, created, nil
}

// ListByChecklist returns the non-archived reminders linked to a checklist.
func (s *ReminderStore) ListByChecklist(checklistID int64) ([]model.Reminder, error) {
	rows, err := s.db.Query(
		`SELECT `+reminderCols+` FROM reminders
		 WHERE checklist_id = ? AND deleted_at IS NULL ORDER BY remind_at ASC, id ASC`,
		checklistID,
	)
	if err != nil {
		return nil, fmt.Errorf("list reminders by checklist: %w", err)
	}
	defer rows.Close()
	return collectReminders(rows)
}

// ListDue returns scheduled, non-archived reminders whose remind_at has passed
// and that are unclaimed or whose claim went stale before staleBefore.
func (s *ReminderStore) ListDue(now, staleBefore time.Time, limit int) ([]model.Reminder, error) {
	rows, err := s.db.Query(
		`SELECT `+reminderCols+` FROM reminders
		 WHERE status = 'scheduled' AND deleted_at IS NULL AND remind_at <= ?
		   AND (claimed_by IS NULL OR claimed_at < ?)
		 ORDER BY remind_at ASC, id ASC LIMIT ?`,
		ts(now), ts(staleBefore), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list due reminders: %w", err)
	}
	defer rows.Close()
	return collectReminders(rows)
}

// Claim marks the reminder as being dispatched by worker. It succeeds only
// for a scheduled, due, non-archived reminder nobody else holds.
func (s *ReminderStore) Claim(id int64, worker string, now, staleBefore time.Time) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE reminders SET claimed_by = ?, claimed_at = ?
		 WHERE id = ? AND status = 'scheduled' AND deleted_at IS NULL AND remind_at <= ?
		   AND (claimed_by IS NULL OR claimed_at < ?)`,
		worker, ts(now), id, ts(now), ts(staleBefore),
	)
	if err != nil {
		return false, fmt.Errorf("claim reminder: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim reminder: %w", err)
	}
	return n == 1, nil
}

// Release drops worker's claim without changing the reminder.
func (s *ReminderStore) Release(id int64, worker string) error {
	_, err := s.db.Exec(
		`UPDATE reminders SET claimed_by = NULL, claimed_at = NULL WHERE id = ? AND claimed_by = ?`,
		id, worker,
	)
	if err != nil {
		return fmt.Errorf("release reminder claim: %w", err)
	}
	return nil
}

// Outcome is the result of one dispatch attempt.
type Outcome struct {
	Worker        string
	At            time.Time
	PrimaryOK     bool       // primary channel delivered; decides sent vs failed
	Delivered     bool       // at least one channel delivered
	NextAttemptAt *time.Time // failed only; nil when retries are exhausted
	LastError     string
	Events        []model.ReminderEvent
}

// Finalize applies a dispatch outcome and appends its events in one
// transaction, releasing the claim. It fails with ErrClaimLost if worker no
// longer holds a scheduled reminder.
func (s *ReminderStore) Finalize(id int64, o Outcome) ([]model.ReminderEvent, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin finalize reminder: %w", err)
	}
	defer tx.Rollback()

	sentInc := 0
	var lastSent *time.Time
	if o.Delivered {
		sentInc = 1
		lastSent = &o.At
	}

	var result sql.Result
	if o.PrimaryOK {
		result, err = tx.Exec(
			`UPDATE reminders SET status = 'sent', sent_count = sent_count + ?,
				last_sent_at = COALESCE(?, last_sent_at), last_triggered_at = ?,
				next_attempt_at = NULL, last_error = '', claimed_by = NULL, claimed_at = NULL, updated_at = ?
			 WHERE id = ? AND claimed_by = ? AND status = 'scheduled'`,
			sentInc, nullTime(lastSent), ts(o.At), ts(o.At), id, o.Worker,
		)
	} else {
		result, err = tx.Exec(
			`UPDATE reminders SET status = 'failed', sent_count = sent_count + ?,
				last_sent_at = COALESCE(?, last_sent_at), last_triggered_at = ?,
				attempt_count = attempt_count + 1, next_attempt_at = ?, last_error = ?,
				claimed_by = NULL, claimed_at = NULL, updated_at = ?
			 WHERE id = ? AND claimed_by = ? AND status = 'scheduled'`,
			sentInc, nullTime(lastSent), ts(o.At), nullTime(o.NextAttemptAt), o.LastError, ts(o.At), id, o.Worker,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("finalize reminder: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, ErrClaimLost
	}

	events := make([]model.ReminderEvent, len(o.Events))
	for i, e := range o.Events {
		e.ReminderID = id
		if err := appendEvent(tx, &e); err != nil {
			return nil, err
		}
		events[i] = e
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit finalize reminder: %w", err)
	}
	return events, nil
}

// ListRetryable returns failed reminders with attempts left whose backoff has elapsed.
func (s *ReminderStore) ListRetryable(now time.Time, maxAttempts int) ([]model.Reminder, error) {
	rows, err := s.db.Query(
		`SELECT `+reminderCols+` FROM reminders
		 WHERE status = 'failed' AND deleted_at IS NULL AND attempt_count < ?
		   AND next_attempt_at IS NOT NULL AND next_attempt_at <= ?
		 ORDER BY next_attempt_at ASC, id ASC`,
		maxAttempts, ts(now),
	)
	if err != nil {
		return nil, fmt.Errorf("list retryable reminders: %w", err)
	}
	defer rows.Close()
	return collectReminders(rows)
}

// transition applies set to the reminder when guard holds and appends one
// event. args fill the placeholders of set, then guard. It returns nil, nil
// when the guard no longer holds.
func transition(tx *sql.Tx, id int64, set, guard string, args []any, e model.ReminderEvent) (*model.ReminderEvent, error) {
	args = append(args[:len(args):len(args)], id)
	result, err := tx.Exec(`UPDATE reminders SET `+set+` WHERE `+guard+` AND id = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("transition reminder: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, nil
	}
	e.ReminderID = id
	if err := appendEvent(tx, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *ReminderStore) inTx(name string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin %s: %w", name, err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", name, err)
	}
	return nil
}

// Reschedule moves a failed reminder with attempts left back to scheduled.
func (s *ReminderStore) Reschedule(id int64, maxAttempts int, now time.Time, msg string) (*model.ReminderEvent, error) {
	var ev *model.ReminderEvent
	err := s.inTx("reschedule reminder", func(tx *sql.Tx) error {
		var err error
		ev, err = transition(tx, id,
			`status = 'scheduled', next_attempt_at = NULL, updated_at = ?`,
			`status = 'failed' AND deleted_at IS NULL AND attempt_count < ? AND next_attempt_at <= ?`,
			[]any{ts(now), maxAttempts, ts(now)},
			model.ReminderEvent{EventType: model.EventRetryScheduled, Status: model.ReminderScheduled, ProcessedAt: now, Message: msg},
		)
		return err
	})
	return ev, err
}

// ListEscalationCandidates returns auto-escalating, non-archived reminders in
// scheduled or sent whose escalate_at has passed.
func (s *ReminderStore) ListEscalationCandidates(now time.Time) ([]model.Reminder, error) {
	rows, err := s.db.Query(
		`SELECT `+reminderCols+` FROM reminders
		 WHERE auto_escalate = 1 AND status IN ('scheduled', 'sent') AND deleted_at IS NULL
		   AND escalate_at IS NOT NULL AND escalate_at <= ?
		 ORDER BY escalate_at ASC, id ASC`,
		ts(now),
	)
	if err != nil {
		return nil, fmt.Errorf("list escalation candidates: %w", err)
	}
	defer rows.Close()
	return collectReminders(rows)
}

// Escalate moves a due, unclaimed reminder from scheduled or sent to escalated.
// It returns nil, nil when another sweep got there first.
func (s *ReminderStore) Escalate(id int64, now time.Time, msg string) (*model.ReminderEvent, error) {
	var ev *model.ReminderEvent
	err := s.inTx("escalate reminder", func(tx *sql.Tx) error {
		var err error
		ev, err = transition(tx, id,
			`status = 'escalated', last_escalated_at = ?, updated_at = ?`,
			`auto_escalate = 1 AND status IN ('scheduled', 'sent') AND claimed_by IS NULL
			 AND deleted_at IS NULL AND escalate_at IS NOT NULL AND escalate_at <= ?`,
			[]any{ts(now), ts(now), ts(now)},
			model.ReminderEvent{EventType: model.EventEscalated, Status: model.ReminderEscalated, ProcessedAt: now, Message: msg},
		)
		return err
	})
	return ev, err
}

const cancelSet = `status = 'cancelled', claimed_by = NULL, claimed_at = NULL, next_attempt_at = NULL, updated_at = ?`

func cancelEvent(now time.Time, msg string) model.ReminderEvent {
	return model.ReminderEvent{EventType: model.EventCancelled, Status: model.ReminderCancelled, ProcessedAt: now, Message: msg}
}

// Cancel moves a scheduled or failed reminder to cancelled. It returns nil,
// nil when the reminder is already past those states.
func (s *ReminderStore) Cancel(id int64, now time.Time, msg string) (*model.ReminderEvent, error) {
	var ev *model.ReminderEvent
	err := s.inTx("cancel reminder", func(tx *sql.Tx) error {
		if err := exists(tx, TableReminders, id); err != nil {
			return err
		}
		var err error
		ev, err = transition(tx, id, cancelSet, `status IN ('scheduled', 'failed')`, []any{ts(now)}, cancelEvent(now, msg))
		return err
	})
	return ev, err
}

// ArchiveAndCancel archives the reminder and cancels it when it has not yet
// reached a terminal state, in one transaction.
func (s *ReminderStore) ArchiveAndCancel(id int64, now time.Time) (archived bool, ev *model.ReminderEvent, err error) {
	err = s.inTx("archive reminder", func(tx *sql.Tx) error {
		var err error
		if archived, err = archive(tx, TableReminders, id, now); err != nil {
			return err
		}
		if !archived {
			return nil
		}
		ev, err = transition(tx, id, cancelSet, `status IN ('scheduled', 'failed')`, []any{ts(now)}, cancelEvent(now, "reminder archived"))
		return err
	})
	return archived, ev, err
}

// CancelForChecklist cancels the checklist's scheduled and failed reminders.
// With generatedOnly, manual reminders linked to the checklist are kept and
// claimed or failed rows are left to finish; keepCycle, when set, spares the
// reminders of that due cycle.
func (s *ReminderStore) CancelForChecklist(checklistID int64, generatedOnly bool, keepCycle *time.Time, now time.Time, msg string) ([]model.ReminderEvent, error) {
	query := `SELECT id FROM reminders WHERE checklist_id = ? AND deleted_at IS NULL`
	args := []any{checklistID}
	guard := `status IN ('scheduled', 'failed')`
	if generatedOnly {
		query += ` AND source_key IS NOT NULL`
		guard = `status = 'scheduled' AND claimed_by IS NULL`
	}
	query += ` AND ` + guard
	if keepCycle != nil {
		query += ` AND (due_cycle_at IS NULL OR due_cycle_at <> ?)`
		args = append(args, ts(*keepCycle))
	}

	var events []model.ReminderEvent
	err := s.inTx("cancel checklist reminders", func(tx *sql.Tx) error {
		rows, err := tx.Query(query+` ORDER BY id ASC`, args...)
		if err != nil {
			return fmt.Errorf("list checklist reminders: %w", err)
		}
		var ids []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("scan reminder id: %w", err)
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("list checklist reminders: %w", err)
		}

		for _, id := range ids {
			ev, err := transition(tx, id, cancelSet, guard, []any{ts(now)}, cancelEvent(now, msg))
			if err != nil {
				return err
			}
			if ev != nil {
				events = append(events, *ev)
			}
		}
		return nil
	})
	return events, err
}

// RetireDrafts cancels the checklist's scheduled, unclaimed generated
// reminders that are not part of the current plan: every other due cycle, and
// within cycle every source key missing from keep.
func (s *ReminderStore) RetireDrafts(checklistID int64, cycle time.Time, keep []string, now time.Time, msg string) ([]model.ReminderEvent, error) {
	const guard = `status = 'scheduled' AND claimed_by IS NULL`
	query := `SELECT id, source_key, due_cycle_at FROM reminders
		WHERE checklist_id = ? AND source_key IS NOT NULL AND deleted_at IS NULL AND ` + guard + `
		ORDER BY id ASC`

	kept := make(map[string]bool, len(keep))
	for _, k := range keep {
		kept[k] = true
	}
	cycle = ts(cycle)

	var events []model.ReminderEvent
	err := s.inTx("retire drafts", func(tx *sql.Tx) error {
		rows, err := tx.Query(query, checklistID)
		if err != nil {
			return fmt.Errorf("list drafts: %w", err)
		}
		var ids []int64
		for rows.Next() {
			var (
				id       int64
				key      string
				dueCycle sql.NullTime
			)
			if err := rows.Scan(&id, &key, &dueCycle); err != nil {
				rows.Close()
				return fmt.Errorf("scan draft: %w", err)
			}
			if dueCycle.Valid && dueCycle.Time.UTC().Equal(cycle) && kept[key] {
				continue
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("list drafts: %w", err)
		}

		for _, id := range ids {
			ev, err := transition(tx, id, cancelSet, guard, []any{ts(now)}, cancelEvent(now, msg))
			if err != nil {
				return err
			}
			if ev != nil {
				events = append(events, *ev)
			}
		}
		return nil
	})
	return events, err
}

// CloseCycle ends a completed due cycle of a checklist: its pending generated
// reminders are cancelled and reminders already sent stop auto-escalating.
func (s *ReminderStore) CloseCycle(checklistID int64, cycle, now time.Time, msg string) ([]model.ReminderEvent, error) {
	const guard = `status = 'scheduled' AND claimed_by IS NULL`

	var events []model.ReminderEvent
	err := s.inTx("close cycle", func(tx *sql.Tx) error {
		rows, err := tx.Query(
			`SELECT id FROM reminders
			 WHERE checklist_id = ? AND due_cycle_at = ? AND deleted_at IS NULL AND `+guard+`
			 ORDER BY id ASC`,
			checklistID, ts(cycle),
		)
		if err != nil {
			return fmt.Errorf("list cycle reminders: %w", err)
		}
		var ids []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("scan reminder id: %w", err)
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("list cycle reminders: %w", err)
		}

		for _, id := range ids {
			ev, err := transition(tx, id, cancelSet, guard, []any{ts(now)}, cancelEvent(now, msg))
			if err != nil {
				return err
			}
			if ev != nil {
				events = append(events, *ev)
			}
		}

		if _, err := tx.Exec(
			`UPDATE reminders SET auto_escalate = 0, updated_at = ?
			 WHERE checklist_id = ? AND due_cycle_at = ? AND status = 'sent' AND auto_escalate = 1`,
			ts(now), checklistID, ts(cycle),
		); err != nil {
			return fmt.Errorf("disarm cycle escalations: %w", err)
		}
		return nil
	})
	return events, err
}
