package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/datatap/datatap/internal/config"
	"github.com/datatap/datatap/internal/model"
)

func newTestStore(t *testing.T) *config.Store {
	t.Helper()
	s, err := config.NewStore("")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestAuth(t *testing.T, store *config.Store, external ExternalVerifier) *AuthService {
	t.Helper()
	svc := NewAuthService(store, "test-secret-0123456789", time.Hour, external)
	svc.bcryptCost = bcrypt.MinCost
	return svc
}

type fakeVerifier struct {
	issuer string
	ids    map[string]*ExternalIdentity
}

func (f *fakeVerifier) Issuer() string { return f.issuer }

func (f *fakeVerifier) Verify(_ context.Context, raw string) (*ExternalIdentity, error) {
	id, ok := f.ids[raw]
	if !ok {
		return nil, errors.New("bad signature")
	}
	return id, nil
}

func externalToken(t *testing.T, issuer, subject string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("idp-key"))
	require.NoError(t, err)
	return tok
}

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	svc := newTestAuth(t, newTestStore(t), nil)

	sess, err := svc.Register(ctx, "Ada", "  Ada@Example.com ", "correct-horse")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.Token)
	assert.Equal(t, "ada@example.com", sess.User.Email)
	assert.Equal(t, model.RoleUser, sess.User.Role)
	assert.Equal(t, model.ProviderLocal, sess.User.Provider)

	sess, err = svc.Login(ctx, "ADA@example.com", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, "Ada", sess.User.Name)

	_, err = svc.Login(ctx, "ada@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, "nobody@example.com", "correct-horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	svc := newTestAuth(t, newTestStore(t), nil)

	tests := []struct {
		name, user, email, password string
	}{
		{"missing name", "", "a@example.com", "long-enough"},
		{"bad email", "A", "not-an-email", "long-enough"},
		{"short password", "A", "a@example.com", "short"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tt.user, tt.email, tt.password)
			assert.True(t, IsValidation(err), "got %v", err)
		})
	}

	_, err := svc.Register(ctx, "A", "dup@example.com", "long-enough")
	require.NoError(t, err)
	_, err = svc.Register(ctx, "B", "DUP@example.com", "long-enough")
	assert.True(t, IsValidation(err), "duplicate email should be a validation error, got %v", err)
}

func TestLoginDisabledAccount(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	svc := newTestAuth(t, store, nil)

	sess, err := svc.Register(ctx, "Off", "off@example.com", "long-enough")
	require.NoError(t, err)
	require.NoError(t, store.SetUserActive(ctx, sess.User.ID, false))

	_, err = svc.Login(ctx, "off@example.com", "long-enough")
	assert.ErrorIs(t, err, ErrAccountDisabled)

	_, err = svc.ResolveToken(ctx, sess.Token)
	assert.ErrorIs(t, err, ErrAccountDisabled)
}

func TestResolveLocalToken(t *testing.T) {
	ctx := context.Background()
	svc := newTestAuth(t, newTestStore(t), nil)

	sess, err := svc.Register(ctx, "Tok", "tok@example.com", "long-enough")
	require.NoError(t, err)

	kind, err := svc.ClassifyToken(sess.Token)
	require.NoError(t, err)
	assert.Equal(t, LocalToken, kind)

	user, err := svc.ResolveToken(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, sess.User.ID, user.ID)

	other := NewAuthService(svc.store, "a-different-secret", time.Hour, nil)
	_, err = other.ResolveToken(ctx, sess.Token)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestResolveExpiredToken(t *testing.T) {
	ctx := context.Background()
	svc := newTestAuth(t, newTestStore(t), nil)

	svc.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	sess, err := svc.Register(ctx, "Old", "old@example.com", "long-enough")
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.ResolveToken(ctx, sess.Token)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestClassifyToken(t *testing.T) {
	svc := newTestAuth(t, newTestStore(t), &fakeVerifier{issuer: "https://idp.example.com"})

	kind, err := svc.ClassifyToken(externalToken(t, "https://idp.example.com", "abc"))
	require.NoError(t, err)
	assert.Equal(t, ExternalToken, kind)

	_, err = svc.ClassifyToken(externalToken(t, "https://other.example.com", "abc"))
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.ClassifyToken("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	noIdP := newTestAuth(t, newTestStore(t), nil)
	_, err = noIdP.ClassifyToken(externalToken(t, "https://idp.example.com", "abc"))
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestResolveExternalToken(t *testing.T) {
	ctx := context.Background()
	raw := externalToken(t, "https://idp.example.com", "sub-1")
	verifier := &fakeVerifier{
		issuer: "https://idp.example.com",
		ids: map[string]*ExternalIdentity{
			raw: {Subject: "sub-1", Email: "Grace@Example.com", Name: "Grace"},
		},
	}
	svc := newTestAuth(t, newTestStore(t), verifier)

	first, err := svc.ResolveToken(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, model.ProviderOIDC, first.Provider)
	assert.Equal(t, "grace@example.com", first.Email)

	again, err := svc.ResolveToken(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	forged := externalToken(t, "https://idp.example.com", "sub-2")
	_, err = svc.ResolveToken(ctx, forged)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestSignInExternal(t *testing.T) {
	ctx := context.Background()
	svc := newTestAuth(t, newTestStore(t), &fakeVerifier{issuer: "https://idp.example.com"})

	sess, err := svc.SignInExternal(ctx, &ExternalIdentity{Subject: "s", Email: "x@example.com", Name: "X"})
	require.NoError(t, err)

	sess2, err := svc.SignInExternal(ctx, &ExternalIdentity{Subject: "s", Email: "x@example.com", Name: "X Renamed", Picture: "https://img"})
	require.NoError(t, err)
	assert.Equal(t, sess.User.ID, sess2.User.ID)
	assert.Equal(t, "X Renamed", sess2.User.Name)
	assert.Equal(t, "https://img", sess2.User.AvatarURL)

	// The session token is a local one.
	kind, err := svc.ClassifyToken(sess2.Token)
	require.NoError(t, err)
	assert.Equal(t, LocalToken, kind)
}

func TestSignInExternalDoesNotLinkLocalAccount(t *testing.T) {
	ctx := context.Background()
	svc := newTestAuth(t, newTestStore(t), &fakeVerifier{issuer: "https://idp.example.com"})

	_, err := svc.Register(ctx, "Local", "same@example.com", "long-enough")
	require.NoError(t, err)

	_, err = svc.SignInExternal(ctx, &ExternalIdentity{Subject: "s", Email: "same@example.com"})
	assert.True(t, IsValidation(err), "got %v", err)

	_, err = svc.SignInExternal(ctx, &ExternalIdentity{Subject: "s2"})
	assert.True(t, IsValidation(err), "missing email should be rejected, got %v", err)
}

func TestMakeFirstAdminSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	svc := newTestAuth(t, store, nil)

	var users []*model.User
	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com", "d@example.com"} {
		sess, err := svc.Register(ctx, "U", email, "long-enough")
		require.NoError(t, err)
		users = append(users, sess.User)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
		losers  int
	)
	for _, u := range users {
		wg.Add(1)
		go func(u *model.User) {
			defer wg.Done()
			_, err := svc.MakeFirstAdmin(ctx, u)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, config.ErrAdminExists):
				losers++
			default:
				t.Errorf("MakeFirstAdmin: %v", err)
			}
		}(u)
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, len(users)-1, losers)
}

func TestMakeFirstAdminAlreadyAdmin(t *testing.T) {
	ctx := context.Background()
	svc := newTestAuth(t, newTestStore(t), nil)

	sess, err := svc.Register(ctx, "Boss", "boss@example.com", "long-enough")
	require.NoError(t, err)

	promoted, err := svc.MakeFirstAdmin(ctx, sess.User)
	require.NoError(t, err)
	assert.True(t, promoted.IsAdmin())

	again, err := svc.MakeFirstAdmin(ctx, promoted)
	require.NoError(t, err)
	assert.Equal(t, promoted.ID, again.ID)
}
