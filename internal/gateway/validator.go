package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/datatap/datatap/internal/config"
	"github.com/datatap/datatap/internal/model"
)

// HeaderAPIKey carries the gateway credential.
const HeaderAPIKey = "X-API-Key"

// KeyStore is the slice of the config store the key validator needs.
type KeyStore interface {
	GetAPIKeyByHash(ctx context.Context, hash string) (*model.APIKey, error)
}

// KeyValidator resolves a raw credential to its API key record. It has no
// side effects; usage is counted by the Recorder.
type KeyValidator struct {
	store KeyStore
	now   func() time.Time
}

// NewKeyValidator creates a validator backed by store.
func NewKeyValidator(store KeyStore) *KeyValidator {
	return &KeyValidator{store: store, now: time.Now}
}

// Validate checks credential and returns the matching active key with its
// endpoint allow-list loaded.
func (v *KeyValidator) Validate(ctx context.Context, credential string) (*model.APIKey, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, newError(KindUnauthenticated, http.StatusUnauthorized, "API key is required")
	}

	key, err := v.store.GetAPIKeyByHash(ctx, config.HashAPIKey(credential))
	if errors.Is(err, config.ErrNotFound) {
		return nil, newError(KindInvalidCredential, http.StatusUnauthorized, "Invalid API key")
	}
	if err != nil {
		return nil, Internal(err)
	}

	switch key.Status {
	case model.KeyStatusActive:
	case model.KeyStatusRevoked:
		return nil, newError(KindInvalidCredential, http.StatusForbidden, "API key is revoked")
	case model.KeyStatusExpired:
		return nil, newError(KindInvalidCredential, http.StatusForbidden, "API key is expired")
	default:
		return nil, newError(KindInvalidCredential, http.StatusForbidden, "API key is not active")
	}

	if key.ExpiresAt != nil && key.ExpiresAt.Before(v.now()) {
		return nil, newError(KindCredentialExpired, http.StatusForbidden, "API key has expired")
	}
	return key, nil
}
