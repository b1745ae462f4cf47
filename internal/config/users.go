package config

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/datatap/datatap/internal/model"
)

// firstAdminKey is the settings row claimed by the one-time admin promotion.
const firstAdminKey = "first_admin"

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateUser inserts a new user. The email is normalized, and ID, CreatedAt
// and UpdatedAt are populated after a successful insert.
func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	u.Email = NormalizeEmail(u.Email)
	if u.Role == "" {
		u.Role = model.RoleUser
	}
	if u.Provider == "" {
		u.Provider = model.ProviderLocal
	}

	const q = `INSERT INTO users
		(name, email, password_hash, external_subject, provider, role, avatar_url, is_active, created_at, updated_at)
		VALUES
		(:name, :email, :password_hash, :external_subject, :provider, :role, :avatar_url, :is_active, :created_at, :updated_at)`

	result, err := s.db.NamedExecContext(ctx, q, u)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get user id: %w", err)
	}
	u.ID = id
	return nil
}

// GetUser returns a user by ID.
func (s *Store) GetUser(ctx context.Context, id int64) (*model.User, error) {
	return s.getUser(ctx, "SELECT * FROM users WHERE id = ?", id)
}

// GetUserByEmail returns a user by email, compared case-insensitively.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.getUser(ctx, "SELECT * FROM users WHERE email = ?", NormalizeEmail(email))
}

// GetUserBySubject returns the user linked to an identity provider subject.
func (s *Store) GetUserBySubject(ctx context.Context, provider, subject string) (*model.User, error) {
	return s.getUser(ctx, "SELECT * FROM users WHERE provider = ? AND external_subject = ?", provider, subject)
}

func (s *Store) getUser(ctx context.Context, q string, args ...interface{}) (*model.User, error) {
	var u model.User
	if err := s.db.GetContext(ctx, &u, q, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// ListUsers returns all users ordered by ID.
func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := s.db.SelectContext(ctx, &users, "SELECT * FROM users ORDER BY id"); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// UpdateUserRole sets a user's role.
func (s *Store) UpdateUserRole(ctx context.Context, id int64, role string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE users SET role = ?, updated_at = ? WHERE id = ?", role, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update user role: %w", err)
	}
	return rowsAffected(result, "update user role")
}

// SetUserActive enables or disables a user.
func (s *Store) SetUserActive(ctx context.Context, id int64, active bool) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE users SET is_active = ?, updated_at = ? WHERE id = ?", active, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set user active: %w", err)
	}
	return rowsAffected(result, "set user active")
}

// UpdateUserProfile refreshes the display fields an identity provider reports.
func (s *Store) UpdateUserProfile(ctx context.Context, id int64, name, avatarURL string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE users SET name = ?, avatar_url = ?, updated_at = ? WHERE id = ?",
		name, avatarURL, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update user profile: %w", err)
	}
	return rowsAffected(result, "update user profile")
}

// UpdateUserLastLogin sets last_login_at to the current time.
func (s *Store) UpdateUserLastLogin(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, "UPDATE users SET last_login_at = ? WHERE id = ?", now, id); err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

// HasAnyAdmin reports whether at least one user holds the admin role.
func (s *Store) HasAnyAdmin(ctx context.Context) (bool, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM users WHERE role = 'admin'"); err != nil {
		return false, fmt.Errorf("count admins: %w", err)
	}
	return count > 0, nil
}

// PromoteFirstAdmin makes userID the first admin. Exactly one caller can ever
// win: the promotion claims the first_admin settings row inside the same
// transaction as the role change, and the primary key on settings rejects
// every later claim with ErrAdminExists.
func (s *Store) PromoteFirstAdmin(ctx context.Context, userID int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var admins int
	if err := tx.GetContext(ctx, &admins, "SELECT COUNT(*) FROM users WHERE role = 'admin'"); err != nil {
		return fmt.Errorf("count admins: %w", err)
	}
	if admins > 0 {
		return ErrAdminExists
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO settings (key, value) VALUES (?, ?)", firstAdminKey, strconv.FormatInt(userID, 10)); err != nil {
		if isUniqueViolation(err) {
			return ErrAdminExists
		}
		return fmt.Errorf("claim first admin: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		"UPDATE users SET role = 'admin', updated_at = ? WHERE id = ?", time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("promote user: %w", err)
	}
	if err := rowsAffected(result, "promote user"); err != nil {
		return err
	}

	return tx.Commit()
}
