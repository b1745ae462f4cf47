package service

import (
	"context"

	"github.com/datatap/datatap/internal/config"
	"github.com/datatap/datatap/internal/model"
)

// UserService lets admins manage accounts.
type UserService struct {
	store *config.Store
}

func NewUserService(store *config.Store) *UserService {
	return &UserService{store: store}
}

func (s *UserService) List(ctx context.Context) ([]model.User, error) {
	return s.store.ListUsers(ctx)
}

// SetRole changes a user's role. Admins cannot demote themselves, so there
// is always someone left who can undo a mistake.
func (s *UserService) SetRole(ctx context.Context, actor *model.User, id int64, role string) (*model.User, error) {
	if role != model.RoleUser && role != model.RoleAdmin {
		return nil, invalid("role must be %q or %q", model.RoleUser, model.RoleAdmin)
	}
	if actor != nil && actor.ID == id && role != model.RoleAdmin {
		return nil, invalid("you cannot remove your own admin role")
	}
	if err := s.store.UpdateUserRole(ctx, id, role); err != nil {
		return nil, err
	}
	return s.store.GetUser(ctx, id)
}

// SetActive enables or disables a user. Disabled users cannot sign in and
// their bearer tokens stop resolving.
func (s *UserService) SetActive(ctx context.Context, actor *model.User, id int64, active bool) (*model.User, error) {
	if actor != nil && actor.ID == id && !active {
		return nil, invalid("you cannot disable your own account")
	}
	if err := s.store.SetUserActive(ctx, id, active); err != nil {
		return nil, err
	}
	return s.store.GetUser(ctx, id)
}
