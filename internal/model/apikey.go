package model

import (
	"slices"
	"time"
)

// Key statuses.
const (
	KeyStatusActive  = "active"
	KeyStatusRevoked = "revoked"
	KeyStatusExpired = "expired"
)

// Key access scopes.
const (
	ScopeAll      = "all"
	ScopeSpecific = "specific"
)

// APIKey grants access to gateway endpoints. Only a SHA-256 hash and a short
// prefix are needed to authenticate; Secret is empty unless secret retention
// is enabled on the server.
type APIKey struct {
	ID          int64      `json:"id" db:"id"`
	Name        string     `json:"name" db:"name"`
	KeyHash     string     `json:"-" db:"key_hash"` // SHA-256 hash, never expose
	KeyPrefix   string     `json:"key_prefix" db:"key_prefix"`
	Secret      string     `json:"-" db:"secret"`
	Status      string     `json:"status" db:"status"`
	Scope       string     `json:"scope" db:"scope"`
	EndpointIDs []int64    `json:"endpoint_ids"`
	UserID      *int64     `json:"user_id,omitempty" db:"user_id"`
	RateLimit   int        `json:"rate_limit" db:"rate_limit"`
	UsageCount  int64      `json:"usage_count" db:"usage_count"`
	LastUsed    *time.Time `json:"last_used,omitempty" db:"last_used"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	CreatedBy   *int64     `json:"created_by,omitempty" db:"created_by"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// IsShared reports whether the key has no owning user.
func (k *APIKey) IsShared() bool {
	return k.UserID == nil
}

// Allows reports whether the key's scope covers the given endpoint.
func (k *APIKey) Allows(endpointID int64) bool {
	if k.Scope == ScopeAll {
		return true
	}
	return slices.Contains(k.EndpointIDs, endpointID)
}

// ValidKeyStatus reports whether s is a known key status.
func ValidKeyStatus(s string) bool {
	return s == KeyStatusActive || s == KeyStatusRevoked || s == KeyStatusExpired
}

// ValidScope reports whether s is a known access scope.
func ValidScope(s string) bool {
	return s == ScopeAll || s == ScopeSpecific
}
