package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datatap/datatap/internal/config"
	"github.com/datatap/datatap/internal/model"
)

func TestGenerateKey(t *testing.T) {
	raw, hash, prefix, err := GenerateKey()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, KeySecretPrefix))
	assert.Len(t, raw, len(KeySecretPrefix)+64)
	assert.Equal(t, raw[:16], prefix)
	assert.Equal(t, config.HashAPIKey(raw), hash)

	other, _, _, err := GenerateKey()
	require.NoError(t, err)
	assert.NotEqual(t, raw, other)
}

func TestKeyCreate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	svc := NewKeyService(store, false)
	admin := createUser(t, store, "admin@example.com", model.RoleAdmin)

	issued, err := svc.Create(ctx, KeyInput{Name: "  partner  "}, &admin.ID)
	require.NoError(t, err)
	assert.Equal(t, "partner", issued.Name)
	assert.Equal(t, model.ScopeAll, issued.Scope)
	assert.Equal(t, model.KeyStatusActive, issued.Status)

	stored, err := store.GetAPIKeyByHash(ctx, config.HashAPIKey(issued.Key))
	require.NoError(t, err)
	assert.Equal(t, issued.ID, stored.ID)
	assert.Empty(t, stored.Secret, "secret must not be stored unless retention is on")
	assert.Equal(t, admin.ID, *stored.CreatedBy)
}

func TestKeyCreateValidation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	svc := NewKeyService(store, false)
	past := time.Now().Add(-time.Hour)
	ghost := int64(999)

	tests := []struct {
		name string
		in   KeyInput
	}{
		{"missing name", KeyInput{}},
		{"bad scope", KeyInput{Name: "k", Scope: "some"}},
		{"specific without endpoints", KeyInput{Name: "k", Scope: model.ScopeSpecific}},
		{"unknown endpoint", KeyInput{Name: "k", Scope: model.ScopeSpecific, EndpointIDs: []int64{42}}},
		{"negative rate limit", KeyInput{Name: "k", RateLimit: -1}},
		{"expiry in the past", KeyInput{Name: "k", ExpiresAt: &past}},
		{"unknown owner", KeyInput{Name: "k", UserID: &ghost}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.in, nil)
			assert.True(t, IsValidation(err), "got %v", err)
		})
	}
}

func TestKeyScopeAllDropsEndpointList(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	svc := NewKeyService(store, false)
	ds := createDataset(t, store, "people")
	ep := createEndpoint(t, store, ds.ID, "/api/v1/people")

	issued, err := svc.Create(ctx, KeyInput{Name: "k", Scope: model.ScopeAll, EndpointIDs: []int64{ep.ID}}, nil)
	require.NoError(t, err)
	assert.Empty(t, issued.EndpointIDs)

	updated, err := svc.Update(ctx, issued.ID, KeyInput{Name: "k2", Scope: model.ScopeSpecific, EndpointIDs: []int64{ep.ID}})
	require.NoError(t, err)
	assert.Equal(t, "k2", updated.Name)
	assert.Equal(t, []int64{ep.ID}, updated.EndpointIDs)
}

func TestKeyToggle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	svc := NewKeyService(store, false)

	issued, err := svc.Create(ctx, KeyInput{Name: "k"}, nil)
	require.NoError(t, err)

	key, err := svc.Toggle(ctx, issued.ID)
	require.NoError(t, err)
	assert.Equal(t, model.KeyStatusRevoked, key.Status)

	key, err = svc.Toggle(ctx, issued.ID)
	require.NoError(t, err)
	assert.Equal(t, model.KeyStatusActive, key.Status)

	_, err = svc.Toggle(ctx, 999)
	assert.ErrorIs(t, err, config.ErrNotFound)
}

func TestKeyToggleExpired(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	svc := NewKeyService(store, false)

	soon := time.Now().Add(time.Hour)
	issued, err := svc.Create(ctx, KeyInput{Name: "k", ExpiresAt: &soon}, nil)
	require.NoError(t, err)
	require.NoError(t, store.SetAPIKeyStatus(ctx, issued.ID, model.KeyStatusExpired))

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = svc.Toggle(ctx, issued.ID)
	assert.True(t, IsValidation(err), "expired key must not be reactivated, got %v", err)

	// Clearing the expiry allows reactivation.
	_, err = svc.Update(ctx, issued.ID, KeyInput{Name: "k"})
	require.NoError(t, err)
	key, err := svc.Toggle(ctx, issued.ID)
	require.NoError(t, err)
	assert.Equal(t, model.KeyStatusActive, key.Status)
}

func TestKeyRegenerate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	svc := NewKeyService(store, false)

	issued, err := svc.Create(ctx, KeyInput{Name: "k"}, nil)
	require.NoError(t, err)
	require.NoError(t, store.RecordAPIKeyUsage(ctx, issued.ID, time.Now()))
	_, err = svc.Toggle(ctx, issued.ID)
	require.NoError(t, err)

	fresh, err := svc.Regenerate(ctx, issued.ID)
	require.NoError(t, err)
	assert.NotEqual(t, issued.Key, fresh.Key)
	assert.Equal(t, model.KeyStatusActive, fresh.Status)
	assert.Zero(t, fresh.UsageCount)
	assert.Equal(t, fresh.Key[:16], fresh.KeyPrefix)

	_, err = store.GetAPIKeyByHash(ctx, config.HashAPIKey(issued.Key))
	assert.ErrorIs(t, err, config.ErrNotFound, "old secret must stop resolving")
	_, err = store.GetAPIKeyByHash(ctx, config.HashAPIKey(fresh.Key))
	assert.NoError(t, err)

	_, err = svc.Regenerate(ctx, 999)
	assert.ErrorIs(t, err, config.ErrNotFound)
}

func TestKeyVisibility(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	svc := NewKeyService(store, true)
	admin := createUser(t, store, "admin@example.com", model.RoleAdmin)
	dev := createUser(t, store, "dev@example.com", model.RoleUser)
	other := createUser(t, store, "other@example.com", model.RoleUser)

	shared, err := svc.Create(ctx, KeyInput{Name: "shared"}, &admin.ID)
	require.NoError(t, err)
	mine, err := svc.Create(ctx, KeyInput{Name: "mine", UserID: &dev.ID}, &admin.ID)
	require.NoError(t, err)
	theirs, err := svc.Create(ctx, KeyInput{Name: "theirs", UserID: &other.ID}, &admin.ID)
	require.NoError(t, err)

	all, err := svc.List(ctx, admin)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	visible, err := svc.List(ctx, dev)
	require.NoError(t, err)
	var names []string
	for _, k := range visible {
		names = append(names, k.Name)
		assert.NotEmpty(t, k.Secret, "retained secrets are shown to viewers")
	}
	assert.ElementsMatch(t, []string{"shared", "mine"}, names)

	got, err := svc.Get(ctx, mine.ID, dev)
	require.NoError(t, err)
	assert.Equal(t, mine.Key, got.Secret)

	_, err = svc.Get(ctx, shared.ID, dev)
	assert.NoError(t, err)

	_, err = svc.Get(ctx, theirs.ID, dev)
	assert.True(t, errors.Is(err, config.ErrNotFound))

	_, err = svc.Get(ctx, theirs.ID, admin)
	assert.NoError(t, err)
}

func TestKeyDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	svc := NewKeyService(store, false)

	issued, err := svc.Create(ctx, KeyInput{Name: "k"}, nil)
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, issued.ID))
	assert.ErrorIs(t, svc.Delete(ctx, issued.ID), config.ErrNotFound)
}
