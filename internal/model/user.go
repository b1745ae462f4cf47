package model

import "time"

// User roles.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Auth providers.
const (
	ProviderLocal = "local"
	ProviderOIDC  = "oidc"
)

// User is an account that can sign in to the management API. Local accounts
// carry a bcrypt password hash; accounts created through the identity
// provider carry the provider's subject instead.
type User struct {
	ID              int64      `json:"id" db:"id"`
	Name            string     `json:"name" db:"name"`
	Email           string     `json:"email" db:"email"`
	PasswordHash    string     `json:"-" db:"password_hash"` // bcrypt hash, never expose
	ExternalSubject string     `json:"-" db:"external_subject"`
	Provider        string     `json:"provider" db:"provider"`
	Role            string     `json:"role" db:"role"`
	AvatarURL       string     `json:"avatar_url,omitempty" db:"avatar_url"`
	IsActive        bool       `json:"is_active" db:"is_active"`
	LastLoginAt     *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
