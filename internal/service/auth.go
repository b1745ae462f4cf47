// Package service holds the management-side business rules: sign-in and
// bearer tokens, API key lifecycle, dataset ingestion and endpoint
// definitions. Handlers translate its errors to HTTP statuses.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/datatap/datatap/internal/config"
	"github.com/datatap/datatap/internal/model"
)

// LocalIssuer is the iss claim of session tokens signed by this server.
const LocalIssuer = "datatap"

// MinPasswordLength is enforced on registration.
const MinPasswordLength = 8

// DefaultTokenTTL is used when no token lifetime is configured.
const DefaultTokenTTL = 24 * time.Hour

// TokenKind tells which verifier a bearer token belongs to.
type TokenKind int

const (
	TokenUnknown TokenKind = iota
	// LocalToken is an HS256 session token issued by IssueToken.
	LocalToken
	// ExternalToken is an ID token issued by the configured identity provider.
	ExternalToken
)

func (k TokenKind) String() string {
	switch k {
	case LocalToken:
		return "local"
	case ExternalToken:
		return "external"
	}
	return "unknown"
}

// ExternalIdentity is the verified subset of an identity provider's claims.
type ExternalIdentity struct {
	Subject string
	Email   string
	Name    string
	Picture string
}

// ExternalVerifier verifies ID tokens from an identity provider.
type ExternalVerifier interface {
	Issuer() string
	Verify(ctx context.Context, rawIDToken string) (*ExternalIdentity, error)
}

// Session is returned by every successful sign-in.
type Session struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      *model.User `json:"user"`
}

type sessionClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// AuthService signs users in and turns bearer tokens back into users.
type AuthService struct {
	store      *config.Store
	secret     []byte
	ttl        time.Duration
	external   ExternalVerifier
	bcryptCost int
	now        func() time.Time
}

// NewAuthService creates an AuthService. external may be nil when no
// identity provider is configured.
func NewAuthService(store *config.Store, jwtSecret string, ttl time.Duration, external ExternalVerifier) *AuthService {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &AuthService{
		store:      store,
		secret:     []byte(jwtSecret),
		ttl:        ttl,
		external:   external,
		bcryptCost: bcrypt.DefaultCost,
		now:        time.Now,
	}
}

// ExternalEnabled reports whether ID tokens from an identity provider are accepted.
func (s *AuthService) ExternalEnabled() bool {
	return s.external != nil
}

// Register creates a local account and signs it in.
func (s *AuthService) Register(ctx context.Context, name, email, password string) (*Session, error) {
	email = config.NormalizeEmail(email)
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalid("name is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, invalid("a valid email is required")
	}
	if len(password) < MinPasswordLength {
		return nil, invalid("password must be at least %d characters", MinPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &model.User{
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		Provider:     model.ProviderLocal,
		Role:         model.RoleUser,
		IsActive:     true,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, config.ErrConflict) {
			return nil, invalid("email %s is already registered", email)
		}
		return nil, err
	}
	return s.IssueToken(user)
}

// Login checks a local account's password and issues a session token.
func (s *AuthService) Login(ctx context.Context, email, password string) (*Session, error) {
	user, err := s.store.GetUserByEmail(ctx, config.NormalizeEmail(email))
	if errors.Is(err, config.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if user.PasswordHash == "" {
		// Accounts created through the identity provider have no password.
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrAccountDisabled
	}

	if err := s.store.UpdateUserLastLogin(ctx, user.ID); err != nil {
		return nil, err
	}
	return s.IssueToken(user)
}

// IssueToken signs an HS256 session token for user.
func (s *AuthService) IssueToken(user *model.User) (*Session, error) {
	now := s.now()
	expires := now.Add(s.ttl)
	claims := sessionClaims{
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(user.ID, 10),
			Issuer:    LocalIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &Session{Token: token, ExpiresAt: expires, User: user}, nil
}

// ClassifyToken decodes the token's issuer without verifying anything and
// picks the one verifier that may accept it.
func (s *AuthService) ClassifyToken(raw string) (TokenKind, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return TokenUnknown, ErrInvalidCredentials
	}
	switch {
	case claims.Issuer == LocalIssuer:
		return LocalToken, nil
	case s.external != nil && claims.Issuer == s.external.Issuer():
		return ExternalToken, nil
	}
	return TokenUnknown, ErrInvalidCredentials
}

// ResolveToken verifies a bearer token and returns the active user it
// belongs to. ID tokens for an unknown subject create the account.
func (s *AuthService) ResolveToken(ctx context.Context, raw string) (*model.User, error) {
	kind, err := s.ClassifyToken(raw)
	if err != nil {
		return nil, err
	}

	var user *model.User
	switch kind {
	case LocalToken:
		user, err = s.resolveLocal(ctx, raw)
	case ExternalToken:
		var id *ExternalIdentity
		id, err = s.external.Verify(ctx, raw)
		if err != nil {
			return nil, ErrInvalidCredentials
		}
		user, err = s.externalUser(ctx, id, false)
	}
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrAccountDisabled
	}
	return user, nil
}

func (s *AuthService) resolveLocal(ctx context.Context, raw string) (*model.User, error) {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(LocalIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	user, err := s.store.GetUser(ctx, id)
	if errors.Is(err, config.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	return user, err
}

// SignInExternal completes an identity provider login: the user is created
// or refreshed from the verified claims and gets a local session token.
func (s *AuthService) SignInExternal(ctx context.Context, id *ExternalIdentity) (*Session, error) {
	user, err := s.externalUser(ctx, id, true)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrAccountDisabled
	}
	if err := s.store.UpdateUserLastLogin(ctx, user.ID); err != nil {
		return nil, err
	}
	return s.IssueToken(user)
}

// externalUser finds the account for an identity provider subject, creating
// it on first sight. refresh copies the provider's display fields over.
func (s *AuthService) externalUser(ctx context.Context, id *ExternalIdentity, refresh bool) (*model.User, error) {
	if id.Subject == "" {
		return nil, ErrInvalidCredentials
	}
	name := id.Name
	if name == "" {
		name = id.Email
	}

	user, err := s.store.GetUserBySubject(ctx, model.ProviderOIDC, id.Subject)
	if err == nil {
		if refresh && (user.Name != name || user.AvatarURL != id.Picture) {
			if err := s.store.UpdateUserProfile(ctx, user.ID, name, id.Picture); err != nil {
				return nil, err
			}
			user.Name, user.AvatarURL = name, id.Picture
		}
		return user, nil
	}
	if !errors.Is(err, config.ErrNotFound) {
		return nil, err
	}

	if id.Email == "" {
		return nil, invalid("the identity provider did not supply an email")
	}
	user = &model.User{
		Name:            name,
		Email:           id.Email,
		ExternalSubject: id.Subject,
		Provider:        model.ProviderOIDC,
		Role:            model.RoleUser,
		AvatarURL:       id.Picture,
		IsActive:        true,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, config.ErrConflict) {
			// Never attach a provider identity to an existing local account.
			return nil, invalid("email %s is already registered with a password", config.NormalizeEmail(id.Email))
		}
		return nil, err
	}
	return user, nil
}

// MakeFirstAdmin promotes user when no admin exists yet. Only one caller
// can ever succeed; the rest get config.ErrAdminExists.
func (s *AuthService) MakeFirstAdmin(ctx context.Context, user *model.User) (*model.User, error) {
	if user.IsAdmin() {
		return user, nil
	}
	if err := s.store.PromoteFirstAdmin(ctx, user.ID); err != nil {
		return nil, err
	}
	return s.store.GetUser(ctx, user.ID)
}
