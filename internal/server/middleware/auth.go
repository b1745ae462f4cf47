package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/datatap/datatap/internal/model"
	"github.com/datatap/datatap/internal/service"
)

type contextKeyAuth string

// AuthUserKey is the context key for the authenticated user.
const AuthUserKey contextKeyAuth = "auth_user"

// TokenResolver turns a bearer token into the active user it belongs to.
// *service.AuthService is the production implementation.
type TokenResolver interface {
	ResolveToken(ctx context.Context, raw string) (*model.User, error)
}

// Authenticate returns an HTTP middleware that requires an
// "Authorization: Bearer <token>" header. The token may be a session token
// issued by this server or an ID token from the configured identity
// provider. On success the user is attached to the request context.
func Authenticate(auth TokenResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				writeAuthError(w, http.StatusUnauthorized, "Authentication required. Provide a Bearer token.")
				return
			}

			user, err := auth.ResolveToken(r.Context(), strings.TrimSpace(token))
			switch {
			case errors.Is(err, service.ErrAccountDisabled):
				writeAuthError(w, http.StatusForbidden, "Account is disabled")
				return
			case errors.Is(err, service.ErrInvalidCredentials):
				writeAuthError(w, http.StatusUnauthorized, "Invalid token")
				return
			case err != nil:
				writeAuthError(w, http.StatusInternalServerError, "Authentication failed")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// RequireAdmin returns an HTTP middleware that enforces the admin role.
// It must be used after Authenticate in the middleware chain.
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := GetUser(r.Context())
			if user == nil || !user.IsAdmin() {
				writeAuthError(w, http.StatusForbidden, "Admin access required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetUser extracts the authenticated user from the context. Returns nil if
// the request is unauthenticated.
func GetUser(ctx context.Context) *model.User {
	if u, ok := ctx.Value(AuthUserKey).(*model.User); ok {
		return u
	}
	return nil
}

// WithUser returns a copy of ctx carrying user.
func WithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, AuthUserKey, user)
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorEnvelope(message))
}
