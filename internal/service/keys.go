package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/datatap/datatap/internal/config"
	"github.com/datatap/datatap/internal/model"
)

// KeySecretPrefix starts every generated API key.
const KeySecretPrefix = "dtap_"

// keyPrefixLen is how much of the secret is kept for identification.
const keyPrefixLen = 16

// KeyInput is the editable part of an API key.
type KeyInput struct {
	Name        string     `json:"name"`
	Scope       string     `json:"scope"`
	EndpointIDs []int64    `json:"endpoint_ids"`
	UserID      *int64     `json:"user_id"`
	RateLimit   int        `json:"rate_limit"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

// IssuedKey carries a freshly generated secret. It is the only response
// that contains the secret when secrets are not retained.
type IssuedKey struct {
	*model.APIKey
	Key string `json:"key"`
}

// KeyView is an API key as shown to a viewer. Secret is set only when the
// server retains secrets.
type KeyView struct {
	model.APIKey
	Secret string `json:"secret,omitempty"`
}

// KeyService manages the API key lifecycle.
type KeyService struct {
	store        *config.Store
	retainSecret bool
	now          func() time.Time
}

// NewKeyService creates a KeyService. retainSecret stores the cleartext
// secret next to its hash so it can be displayed again later.
func NewKeyService(store *config.Store, retainSecret bool) *KeyService {
	return &KeyService{store: store, retainSecret: retainSecret, now: time.Now}
}

// GenerateKey returns a new random secret with its hash and display prefix.
func GenerateKey() (raw, hash, prefix string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", "", fmt.Errorf("generate key: %w", err)
	}
	raw = KeySecretPrefix + hex.EncodeToString(b)
	return raw, config.HashAPIKey(raw), raw[:keyPrefixLen], nil
}

// Create issues a new key. The returned secret is not recoverable unless
// secrets are retained.
func (s *KeyService) Create(ctx context.Context, in KeyInput, createdBy *int64) (*IssuedKey, error) {
	if err := s.validate(ctx, &in, true); err != nil {
		return nil, err
	}

	raw, hash, prefix, err := GenerateKey()
	if err != nil {
		return nil, err
	}

	key := &model.APIKey{
		Name:        in.Name,
		KeyHash:     hash,
		KeyPrefix:   prefix,
		Status:      model.KeyStatusActive,
		Scope:       in.Scope,
		EndpointIDs: in.EndpointIDs,
		UserID:      in.UserID,
		RateLimit:   in.RateLimit,
		ExpiresAt:   in.ExpiresAt,
		CreatedBy:   createdBy,
	}
	if s.retainSecret {
		key.Secret = raw
	}
	if err := s.store.CreateAPIKey(ctx, key); err != nil {
		return nil, err
	}
	return &IssuedKey{APIKey: key, Key: raw}, nil
}

// Update replaces a key's editable fields. The secret, status and usage
// counter are left alone.
func (s *KeyService) Update(ctx context.Context, id int64, in KeyInput) (*model.APIKey, error) {
	key, err := s.store.GetAPIKey(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.validate(ctx, &in, false); err != nil {
		return nil, err
	}

	key.Name = in.Name
	key.Scope = in.Scope
	key.EndpointIDs = in.EndpointIDs
	key.UserID = in.UserID
	key.RateLimit = in.RateLimit
	key.ExpiresAt = in.ExpiresAt
	if err := s.store.UpdateAPIKey(ctx, key); err != nil {
		return nil, err
	}
	return s.store.GetAPIKey(ctx, id)
}

// Toggle flips a key between active and revoked. An expired key can be
// reactivated only after its expiry has been cleared or moved forward.
func (s *KeyService) Toggle(ctx context.Context, id int64) (*model.APIKey, error) {
	key, err := s.store.GetAPIKey(ctx, id)
	if err != nil {
		return nil, err
	}

	next := model.KeyStatusActive
	switch key.Status {
	case model.KeyStatusActive:
		next = model.KeyStatusRevoked
	case model.KeyStatusExpired:
		if key.ExpiresAt != nil && !key.ExpiresAt.After(s.now()) {
			return nil, invalid("API key %q has expired; extend expires_at before reactivating it", key.Name)
		}
	}

	if err := s.store.SetAPIKeyStatus(ctx, id, next); err != nil {
		return nil, err
	}
	key.Status = next
	return key, nil
}

// Regenerate replaces a key's secret. The old secret stops working at once,
// the usage counter resets and the key becomes active again.
func (s *KeyService) Regenerate(ctx context.Context, id int64) (*IssuedKey, error) {
	raw, hash, prefix, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	stored := ""
	if s.retainSecret {
		stored = raw
	}
	if err := s.store.RotateAPIKeySecret(ctx, id, hash, prefix, stored); err != nil {
		return nil, err
	}
	key, err := s.store.GetAPIKey(ctx, id)
	if err != nil {
		return nil, err
	}
	return &IssuedKey{APIKey: key, Key: raw}, nil
}

// Delete permanently removes a key.
func (s *KeyService) Delete(ctx context.Context, id int64) error {
	return s.store.DeleteAPIKey(ctx, id)
}

// List returns every key for admins, and owned plus shared keys for
// everyone else.
func (s *KeyService) List(ctx context.Context, viewer *model.User) ([]KeyView, error) {
	var visibleTo *int64
	if !viewer.IsAdmin() {
		visibleTo = &viewer.ID
	}
	keys, err := s.store.ListAPIKeys(ctx, visibleTo)
	if err != nil {
		return nil, err
	}
	views := make([]KeyView, 0, len(keys))
	for _, k := range keys {
		views = append(views, s.view(k))
	}
	return views, nil
}

// Get returns one key. Keys a developer may not see are reported as
// config.ErrNotFound.
func (s *KeyService) Get(ctx context.Context, id int64, viewer *model.User) (*KeyView, error) {
	key, err := s.store.GetAPIKey(ctx, id)
	if err != nil {
		return nil, err
	}
	if !viewer.IsAdmin() && !key.IsShared() && *key.UserID != viewer.ID {
		return nil, config.ErrNotFound
	}
	v := s.view(*key)
	return &v, nil
}

func (s *KeyService) view(k model.APIKey) KeyView {
	v := KeyView{APIKey: k}
	if s.retainSecret {
		v.Secret = k.Secret
	}
	return v
}

func (s *KeyService) validate(ctx context.Context, in *KeyInput, creating bool) error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return invalid("name is required")
	}
	if in.Scope == "" {
		in.Scope = model.ScopeAll
	}
	if !model.ValidScope(in.Scope) {
		return invalid("scope must be %q or %q", model.ScopeAll, model.ScopeSpecific)
	}
	if in.Scope == model.ScopeAll {
		in.EndpointIDs = nil
	} else if len(in.EndpointIDs) == 0 {
		return invalid("scope %q needs at least one endpoint", model.ScopeSpecific)
	}
	if in.RateLimit < 0 {
		return invalid("rate_limit cannot be negative")
	}
	if creating && in.ExpiresAt != nil && !in.ExpiresAt.After(s.now()) {
		return invalid("expires_at must be in the future")
	}

	for _, epID := range in.EndpointIDs {
		if _, err := s.store.GetEndpoint(ctx, epID); err != nil {
			if errors.Is(err, config.ErrNotFound) {
				return invalid("endpoint %d does not exist", epID)
			}
			return err
		}
	}
	if in.UserID != nil {
		if _, err := s.store.GetUser(ctx, *in.UserID); err != nil {
			if errors.Is(err, config.ErrNotFound) {
				return invalid("user %d does not exist", *in.UserID)
			}
			return err
		}
	}
	return nil
}
