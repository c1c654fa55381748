package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/reancirl/car-erp-sub006/internal/model"
)

// DirectoryStore holds the local mirror of dashboard users that the host
// system keeps in sync. Only delivery reads it.
type DirectoryStore struct {
	db *sql.DB
}

func NewDirectoryStore(db *sql.DB) *DirectoryStore {
	return &DirectoryStore{db: db}
}

const directoryCols = `id, name, email, phone, role, is_active`

func scanDirectoryUser(scanner interface{ Scan(...any) error }) (*model.DirectoryUser, error) {
	var u model.DirectoryUser
	var active int
	if err := scanner.Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.Role, &active); err != nil {
		return nil, err
	}
	u.IsActive = active != 0
	return &u, nil
}

// Upsert inserts or replaces the mirrored user.
func (s *DirectoryStore) Upsert(u model.DirectoryUser) error {
	_, err := s.db.Exec(
		`INSERT INTO directory_users (id, name, email, phone, role, is_active, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, email = excluded.email, phone = excluded.phone,
			role = excluded.role, is_active = excluded.is_active, updated_at = excluded.updated_at`,
		u.ID, u.Name, u.Email, u.Phone, u.Role, boolInt(u.IsActive), ts(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("upsert directory user: %w", err)
	}
	return nil
}

// GetByID returns the user or nil, nil.
func (s *DirectoryStore) GetByID(id int64) (*model.DirectoryUser, error) {
	row := s.db.QueryRow(`SELECT `+directoryCols+` FROM directory_users WHERE id = ?`, id)
	u, err := scanDirectoryUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get directory user: %w", err)
	}
	return u, nil
}

// ListByRole returns the active users holding role.
func (s *DirectoryStore) ListByRole(role string) ([]model.DirectoryUser, error) {
	rows, err := s.db.Query(
		`SELECT `+directoryCols+` FROM directory_users WHERE role = ? AND is_active = 1 ORDER BY id ASC`,
		role,
	)
	if err != nil {
		return nil, fmt.Errorf("list directory users by role: %w", err)
	}
	defer rows.Close()

	var users []model.DirectoryUser
	for rows.Next() {
		u, err := scanDirectoryUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan directory user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}
