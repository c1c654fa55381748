package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when an archive or restore names an unknown id.
var ErrNotFound = errors.New("not found")

// Table names an archivable entity table.
type Table string

const (
	TableChecklists Table = "checklists"
	TableReminders  Table = "reminders"
)

func (t Table) valid() bool {
	return t == TableChecklists || t == TableReminders
}

// ArchiveStore implements soft delete for every archivable table. Rows are
// never physically removed; default reads elsewhere in this package filter on
// deleted_at IS NULL.
type ArchiveStore struct {
	db *sql.DB
}

func NewArchiveStore(db *sql.DB) *ArchiveStore {
	return &ArchiveStore{db: db}
}

// Archive sets deleted_at on the row. Archiving an archived row keeps the
// original timestamp. The returned bool reports whether this call archived it.
func (s *ArchiveStore) Archive(table Table, id int64, now time.Time) (bool, error) {
	return archive(s.db, table, id, now)
}

// Restore clears deleted_at. Restoring a live row is a no-op.
func (s *ArchiveStore) Restore(table Table, id int64, now time.Time) (bool, error) {
	return restore(s.db, table, id, now)
}

// IsArchived reports whether the row is archived, or ErrNotFound.
func (s *ArchiveStore) IsArchived(table Table, id int64) (bool, error) {
	if !table.valid() {
		return false, fmt.Errorf("unknown table %q", table)
	}
	var deletedAt sql.NullTime
	err := s.db.QueryRow(`SELECT deleted_at FROM `+string(table)+` WHERE id = ?`, id).Scan(&deletedAt)
	if err == sql.ErrNoRows {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("check archived %s: %w", table, err)
	}
	return deletedAt.Valid, nil
}

func archive(q querier, table Table, id int64, now time.Time) (bool, error) {
	if !table.valid() {
		return false, fmt.Errorf("unknown table %q", table)
	}
	res, err := q.Exec(
		`UPDATE `+string(table)+` SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		ts(now), ts(now), id,
	)
	if err != nil {
		return false, fmt.Errorf("archive %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("archive %s: %w", table, err)
	}
	if n == 1 {
		return true, nil
	}
	return false, exists(q, table, id)
}

func restore(q querier, table Table, id int64, now time.Time) (bool, error) {
	if !table.valid() {
		return false, fmt.Errorf("unknown table %q", table)
	}
	res, err := q.Exec(
		`UPDATE `+string(table)+` SET deleted_at = NULL, updated_at = ? WHERE id = ? AND deleted_at IS NOT NULL`,
		ts(now), id,
	)
	if err != nil {
		return false, fmt.Errorf("restore %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("restore %s: %w", table, err)
	}
	if n == 1 {
		return true, nil
	}
	return false, exists(q, table, id)
}

func exists(q querier, table Table, id int64) error {
	var one int
	err := q.QueryRow(`SELECT 1 FROM `+string(table)+` WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%s %d: %w", table, id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("lookup %s: %w", table, err)
	}
	return nil
}
