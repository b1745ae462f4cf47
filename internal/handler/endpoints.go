package handler

import (
	"net/http"

	"github.com/datatap/datatap/internal/model"
	"github.com/datatap/datatap/internal/server/middleware"
	"github.com/datatap/datatap/internal/service"
)

// ListEndpoints returns endpoints visible to the caller. Non-admins see
// active endpoints only.
// GET /api/system/endpoints
func (h *SystemHandler) ListEndpoints(w http.ResponseWriter, r *http.Request) {
	endpoints, err := h.svc.Endpoints.List(r.Context(), middleware.GetUser(r.Context()))
	if err != nil {
		writeServiceError(w, h.logger, err, "list endpoints")
		return
	}
	if endpoints == nil {
		endpoints = []model.Endpoint{}
	}
	writeData(w, http.StatusOK, endpoints)
}

// GetEndpoint returns one endpoint.
// GET /api/system/endpoints/{id}
func (h *SystemHandler) GetEndpoint(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ep, err := h.svc.Endpoints.Get(r.Context(), id, middleware.GetUser(r.Context()))
	if err != nil {
		writeServiceError(w, h.logger, err, "get endpoint")
		return
	}
	writeData(w, http.StatusOK, ep)
}

// CreateEndpoint exposes a dataset at a new route.
// POST /api/system/endpoints
func (h *SystemHandler) CreateEndpoint(w http.ResponseWriter, r *http.Request) {
	var in service.EndpointInput
	if err := readJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	ep, err := h.svc.Endpoints.Create(r.Context(), in, userID(middleware.GetUser(r.Context())))
	if err != nil {
		writeServiceError(w, h.logger, err, "create endpoint")
		return
	}
	writeData(w, http.StatusCreated, ep)
}

// UpdateEndpoint replaces an endpoint's definition.
// PUT /api/system/endpoints/{id}
func (h *SystemHandler) UpdateEndpoint(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var in service.EndpointInput
	if err := readJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	ep, err := h.svc.Endpoints.Update(r.Context(), id, in)
	if err != nil {
		writeServiceError(w, h.logger, err, "update endpoint")
		return
	}
	writeData(w, http.StatusOK, ep)
}

// SetEndpointActive toggles an endpoint without editing it.
// PATCH /api/system/endpoints/{id}/active
func (h *SystemHandler) SetEndpointActive(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	active, ok := readActive(w, r)
	if !ok {
		return
	}
	ep, err := h.svc.Endpoints.SetActive(r.Context(), id, active)
	if err != nil {
		writeServiceError(w, h.logger, err, "update endpoint")
		return
	}
	writeData(w, http.StatusOK, ep)
}

// DeleteEndpoint removes an endpoint and strips it from every key's scope.
// DELETE /api/system/endpoints/{id}
func (h *SystemHandler) DeleteEndpoint(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.svc.Endpoints.Delete(r.Context(), id); err != nil {
		writeServiceError(w, h.logger, err, "delete endpoint")
		return
	}
	writeData(w, http.StatusOK, map[string]int64{"id": id})
}
