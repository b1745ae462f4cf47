package handler

import (
	"net/http"

	"github.com/datatap/datatap/internal/server/middleware"
	"github.com/datatap/datatap/internal/service"
)

// ListAPIKeys returns the keys the caller may see.
// GET /api/system/keys
func (h *SystemHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.svc.Keys.List(r.Context(), middleware.GetUser(r.Context()))
	if err != nil {
		writeServiceError(w, h.logger, err, "list API keys")
		return
	}
	if keys == nil {
		keys = []service.KeyView{}
	}
	writeData(w, http.StatusOK, keys)
}

// GetAPIKey returns one key if the caller may see it.
// GET /api/system/keys/{id}
func (h *SystemHandler) GetAPIKey(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	key, err := h.svc.Keys.Get(r.Context(), id, middleware.GetUser(r.Context()))
	if err != nil {
		writeServiceError(w, h.logger, err, "get API key")
		return
	}
	writeData(w, http.StatusOK, key)
}

// CreateAPIKey issues a new key. The raw secret is in the response and,
// unless secrets are retained, nowhere else.
// POST /api/system/keys
func (h *SystemHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var in service.KeyInput
	if err := readJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	issued, err := h.svc.Keys.Create(r.Context(), in, userID(middleware.GetUser(r.Context())))
	if err != nil {
		writeServiceError(w, h.logger, err, "create API key")
		return
	}
	writeData(w, http.StatusCreated, issued)
}

// UpdateAPIKey edits a key's name, scope, owner, limits and expiry.
// PUT /api/system/keys/{id}
func (h *SystemHandler) UpdateAPIKey(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var in service.KeyInput
	if err := readJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	key, err := h.svc.Keys.Update(r.Context(), id, in)
	if err != nil {
		writeServiceError(w, h.logger, err, "update API key")
		return
	}
	writeData(w, http.StatusOK, key)
}

// ToggleAPIKey revokes an active key or reactivates a revoked one.
// PATCH /api/system/keys/{id}/status
func (h *SystemHandler) ToggleAPIKey(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	key, err := h.svc.Keys.Toggle(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err, "toggle API key")
		return
	}
	writeData(w, http.StatusOK, key)
}

// RegenerateAPIKey replaces a key's secret. The old secret stops working
// immediately.
// POST /api/system/keys/{id}/regenerate
func (h *SystemHandler) RegenerateAPIKey(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	issued, err := h.svc.Keys.Regenerate(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err, "regenerate API key")
		return
	}
	writeData(w, http.StatusOK, issued)
}

// DeleteAPIKey removes a key.
// DELETE /api/system/keys/{id}
func (h *SystemHandler) DeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.svc.Keys.Delete(r.Context(), id); err != nil {
		writeServiceError(w, h.logger, err, "delete API key")
		return
	}
	writeData(w, http.StatusOK, map[string]int64{"id": id})
}
