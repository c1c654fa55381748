package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/reancirl/car-erp-sub006/internal/model"
)

// EventStore reads the append-only reminder timeline. Events are written only
// inside the reminder transitions of ReminderStore.
type EventStore struct {
	db *sql.DB
}

func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

const eventCols = `id, reminder_id, event_type, status, channel, processed_at, message`

func scanEvent(scanner interface{ Scan(...any) error }) (*model.ReminderEvent, error) {
	var e model.ReminderEvent
	err := scanner.Scan(&e.ID, &e.ReminderID, &e.EventType, &e.Status, &e.Channel, &e.ProcessedAt, &e.Message)
	if err != nil {
		return nil, err
	}
	e.ProcessedAt = e.ProcessedAt.UTC()
	return &e, nil
}

func appendEvent(q querier, e *model.ReminderEvent) error {
	e.ProcessedAt = ts(e.ProcessedAt)
	result, err := q.Exec(
		`INSERT INTO reminder_events (reminder_id, event_type, status, channel, processed_at, message)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ReminderID, e.EventType, e.Status, e.Channel, e.ProcessedAt, e.Message,
	)
	if err != nil {
		return fmt.Errorf("append reminder event: %w", err)
	}
	if e.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	return nil
}

func (s *EventStore) ListByReminder(reminderID int64) ([]model.ReminderEvent, error) {
	rows, err := s.db.Query(
		`SELECT `+eventCols+` FROM reminder_events WHERE reminder_id = ? ORDER BY id ASC`,
		reminderID,
	)
	if err != nil {
		return nil, fmt.Errorf("list reminder events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// ListRange returns events processed in [from, to).
func (s *EventStore) ListRange(from, to time.Time) ([]model.ReminderEvent, error) {
	rows, err := s.db.Query(
		`SELECT `+eventCols+` FROM reminder_events
		 WHERE processed_at >= ? AND processed_at < ? ORDER BY id ASC`,
		ts(from), ts(to),
	)
	if err != nil {
		return nil, fmt.Errorf("list reminder events by range: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

func collectEvents(rows *sql.Rows) ([]model.ReminderEvent, error) {
	events := []model.ReminderEvent{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reminder event: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}
