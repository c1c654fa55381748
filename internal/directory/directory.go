// Package directory resolves notification targets to recipients.
package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/reancirl/car-erp-sub006/internal/channel"
	"github.com/reancirl/car-erp-sub006/internal/model"
)

// ErrNoRecipients is returned when a target resolves to nobody.
var ErrNoRecipients = errors.New("target resolves to no recipients")

// Directory resolves a user or role target to the people to notify.
type Directory interface {
	Resolve(ctx context.Context, target model.Target) ([]channel.Recipient, error)
}

type userLookup interface {
	GetByID(id int64) (*model.DirectoryUser, error)
	ListByRole(role string) ([]model.DirectoryUser, error)
}

// Store resolves targets against the local user mirror.
type Store struct {
	users userLookup
}

func NewStore(users userLookup) *Store {
	return &Store{users: users}
}

// Resolve returns the target user, or every active user holding the role.
// An inactive or unknown user resolves to ErrNoRecipients.
func (d *Store) Resolve(ctx context.Context, target model.Target) ([]channel.Recipient, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch {
	case target.UserID != nil:
		u, err := d.users.GetByID(*target.UserID)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", target, err)
		}
		if u == nil || !u.IsActive {
			return nil, fmt.Errorf("resolve %s: %w", target, ErrNoRecipients)
		}
		return []channel.Recipient{recipient(*u)}, nil
	case target.Role != "":
		users, err := d.users.ListByRole(target.Role)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", target, err)
		}
		if len(users) == 0 {
			return nil, fmt.Errorf("resolve %s: %w", target, ErrNoRecipients)
		}
		out := make([]channel.Recipient, len(users))
		for i, u := range users {
			out[i] = recipient(u)
		}
		return out, nil
	}
	return nil, fmt.Errorf("resolve %s: %w", target, ErrNoRecipients)
}

func recipient(u model.DirectoryUser) channel.Recipient {
	return channel.Recipient{UserID: u.ID, Name: u.Name, Email: u.Email, Phone: u.Phone}
}

// Static is an in-memory Directory.
type Static struct {
	Users []model.DirectoryUser
}

func (s Static) Resolve(ctx context.Context, target model.Target) ([]channel.Recipient, error) {
	return NewStore(staticLookup(s.Users)).Resolve(ctx, target)
}

type staticLookup []model.DirectoryUser

func (l staticLookup) GetByID(id int64) (*model.DirectoryUser, error) {
	for i := range l {
		if l[i].ID == id {
			return &l[i], nil
		}
	}
	return nil, nil
}

func (l staticLookup) ListByRole(role string) ([]model.DirectoryUser, error) {
	var out []model.DirectoryUser
	for _, u := range l {
		if u.Role == role && u.IsActive {
			out = append(out, u)
		}
	}
	return out, nil
}
