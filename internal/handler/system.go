package handler

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/datatap/datatap/internal/config"
	"github.com/datatap/datatap/internal/model"
	"github.com/datatap/datatap/internal/server/middleware"
	"github.com/datatap/datatap/internal/service"
)

// OIDCFlow runs the authorization code flow against the identity provider.
// *service.OIDCProvider implements it.
type OIDCFlow interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*service.ExternalIdentity, error)
}

// Services bundles the application services the management API calls.
// OIDC is nil when no identity provider is configured.
type Services struct {
	Auth      *service.AuthService
	OIDC      OIDCFlow
	Keys      *service.KeyService
	Datasets  *service.DatasetService
	Endpoints *service.EndpointService
	Sources   *service.SourceService
	Users     *service.UserService
}

// SystemHandler serves the management API under /api/system.
type SystemHandler struct {
	svc    Services
	store  *config.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewSystemHandler creates a new SystemHandler.
func NewSystemHandler(svc Services, store *config.Store, logger *slog.Logger) *SystemHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SystemHandler{svc: svc, store: store, logger: logger, now: time.Now}
}

// ---------------------------------------------------------------------------
// Authentication
// ---------------------------------------------------------------------------

const oidcStateCookie = "datatap_oidc_state"

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register creates a local account and signs it in.
// POST /api/system/auth/register
func (h *SystemHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	session, err := h.svc.Auth.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		writeServiceError(w, h.logger, err, "register")
		return
	}
	writeData(w, http.StatusCreated, session)
}

// Login authenticates a local account and returns a session token.
// POST /api/system/auth/login
func (h *SystemHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}
	session, err := h.svc.Auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, h.logger, err, "log in")
		return
	}
	writeData(w, http.StatusOK, session)
}

// Me returns the authenticated user.
// GET /api/system/auth/me
func (h *SystemHandler) Me(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, middleware.GetUser(r.Context()))
}

// FirstAdmin promotes the caller when no admin exists yet.
// POST /api/system/auth/first-admin
func (h *SystemHandler) FirstAdmin(w http.ResponseWriter, r *http.Request) {
	user, err := h.svc.Auth.MakeFirstAdmin(r.Context(), middleware.GetUser(r.Context()))
	if err != nil {
		writeServiceError(w, h.logger, err, "promote first admin")
		return
	}
	writeData(w, http.StatusOK, user)
}

// OIDCLogin redirects the browser to the identity provider.
// GET /api/system/auth/oidc/login
func (h *SystemHandler) OIDCLogin(w http.ResponseWriter, r *http.Request) {
	if h.svc.OIDC == nil {
		writeError(w, http.StatusNotFound, "External sign-in is not configured")
		return
	}
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		writeServiceError(w, h.logger, err, "start sign-in")
		return
	}
	state := hex.EncodeToString(buf)
	http.SetCookie(w, &http.Cookie{
		Name:     oidcStateCookie,
		Value:    state,
		Path:     "/api/system/auth/oidc",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.svc.OIDC.AuthCodeURL(state), http.StatusFound)
}

// OIDCCallback finishes the code flow and returns a local session token.
// GET /api/system/auth/oidc/callback
func (h *SystemHandler) OIDCCallback(w http.ResponseWriter, r *http.Request) {
	if h.svc.OIDC == nil {
		writeError(w, http.StatusNotFound, "External sign-in is not configured")
		return
	}
	q := r.URL.Query()
	if msg := q.Get("error"); msg != "" {
		writeError(w, http.StatusUnauthorized, "Identity provider error: "+msg)
		return
	}
	cookie, err := r.Cookie(oidcStateCookie)
	state := q.Get("state")
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(state)) != 1 {
		writeError(w, http.StatusBadRequest, "Invalid sign-in state")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: oidcStateCookie, Path: "/api/system/auth/oidc", MaxAge: -1})

	identity, err := h.svc.OIDC.Exchange(r.Context(), q.Get("code"))
	if err != nil {
		h.logger.Warn("oidc exchange failed", "error", err)
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	session, err := h.svc.Auth.SignInExternal(r.Context(), identity)
	if err != nil {
		writeServiceError(w, h.logger, err, "sign in")
		return
	}
	writeData(w, http.StatusOK, session)
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// ListUsers returns every account.
// GET /api/system/users
func (h *SystemHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.Users.List(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "list users")
		return
	}
	writeData(w, http.StatusOK, users)
}

// SetUserRole changes a user's role.
// PATCH /api/system/users/{id}/role
func (h *SystemHandler) SetUserRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req struct {
		Role string `json:"role"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	user, err := h.svc.Users.SetRole(r.Context(), middleware.GetUser(r.Context()), id, req.Role)
	if err != nil {
		writeServiceError(w, h.logger, err, "update user role")
		return
	}
	writeData(w, http.StatusOK, user)
}

// SetUserActive enables or disables a user.
// PATCH /api/system/users/{id}/active
func (h *SystemHandler) SetUserActive(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	active, ok := readActive(w, r)
	if !ok {
		return
	}
	user, err := h.svc.Users.SetActive(r.Context(), middleware.GetUser(r.Context()), id, active)
	if err != nil {
		writeServiceError(w, h.logger, err, "update user")
		return
	}
	writeData(w, http.StatusOK, user)
}

// readActive decodes {"is_active": bool}. The field is required.
func readActive(w http.ResponseWriter, r *http.Request) (bool, bool) {
	var req struct {
		IsActive *bool `json:"is_active"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false, false
	}
	if req.IsActive == nil {
		writeError(w, http.StatusBadRequest, "is_active is required")
		return false, false
	}
	return *req.IsActive, true
}

// ---------------------------------------------------------------------------
// Request logs and dashboard
// ---------------------------------------------------------------------------

const (
	defaultLogLimit = 50
	maxLogLimit     = 500
)

// ListLogs returns a filtered page of request logs, newest first.
// GET /api/system/logs
func (h *SystemHandler) ListLogs(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	if page < 1 {
		page = 1
	}
	limit := clampInt(queryInt(r, "limit", defaultLogLimit), 1, maxLogLimit)

	filter := model.RequestLogFilter{
		APIKeyID:   queryInt64(r, "key_id"),
		EndpointID: queryInt64(r, "endpoint_id"),
		StatusCode: queryInt(r, "status", 0),
		Method:     strings.ToUpper(r.URL.Query().Get("method")),
	}
	for _, bound := range []struct {
		name string
		dst  **time.Time
	}{{"since", &filter.Since}, {"until", &filter.Until}} {
		raw := r.URL.Query().Get(bound.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, bound.name+" must be an RFC 3339 timestamp")
			return
		}
		*bound.dst = &t
	}

	total, err := h.store.CountRequestLogs(r.Context(), filter)
	if err != nil {
		writeServiceError(w, h.logger, err, "count request logs")
		return
	}
	filter.Limit = limit
	filter.Offset = (page - 1) * limit
	logs, err := h.store.ListRequestLogs(r.Context(), filter)
	if err != nil {
		writeServiceError(w, h.logger, err, "list request logs")
		return
	}
	if logs == nil {
		logs = []model.RequestLog{}
	}

	pages := int((total + int64(limit) - 1) / int64(limit))
	writeJSON(w, http.StatusOK, model.Envelope{
		Success: true,
		Data:    logs,
		Pagination: &model.Pagination{
			Page:    page,
			Limit:   limit,
			Total:   int(total),
			Pages:   pages,
			HasNext: int64(filter.Offset+limit) < total,
			HasPrev: page > 1,
		},
	})
}

// ClearLogs deletes every request log.
// DELETE /api/system/logs
func (h *SystemHandler) ClearLogs(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.ClearRequestLogs(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "clear request logs")
		return
	}
	attrs := []any{"deleted", n}
	if u := middleware.GetUser(r.Context()); u != nil {
		attrs = append(attrs, "by", u.Email)
	}
	h.logger.Info("request logs cleared", attrs...)
	writeData(w, http.StatusOK, map[string]int64{"deleted": n})
}

// Dashboard returns usage aggregates.
// GET /api/system/dashboard
func (h *SystemHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.DashboardStats(r.Context(), h.now())
	if err != nil {
		writeServiceError(w, h.logger, err, "load dashboard")
		return
	}
	writeData(w, http.StatusOK, stats)
}
