package model

import "fmt"

// Target names who should be notified: a specific user, or everyone holding a role.
// UserID wins when both are set.
type Target struct {
	UserID *int64 `json:"user_id,omitempty"`
	Role   string `json:"role,omitempty"`
}

func (t Target) Empty() bool {
	return t.UserID == nil && t.Role == ""
}

func (t Target) String() string {
	if t.UserID != nil {
		return fmt.Sprintf("user %d", *t.UserID)
	}
	if t.Role != "" {
		return "role " + t.Role
	}
	return "nobody"
}

// DirectoryUser is the read-only mirror of a dashboard user used for delivery.
type DirectoryUser struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Role     string `json:"role"`
	IsActive bool   `json:"is_active"`
}
