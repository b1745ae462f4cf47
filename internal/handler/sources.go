package handler

import (
	"net/http"

	"github.com/datatap/datatap/internal/model"
	"github.com/datatap/datatap/internal/service"
)

// ListSources returns registered import sources. DSNs are never included.
// GET /api/system/sources
func (h *SystemHandler) ListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.svc.Sources.List(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "list sources")
		return
	}
	if sources == nil {
		sources = []model.Source{}
	}
	writeJSON(w, http.StatusOK, struct {
		model.Envelope
		Drivers []string `json:"drivers"`
	}{model.Envelope{Success: true, Data: sources}, h.svc.Sources.Drivers()})
}

// CreateSource registers a SQL database to import from.
// POST /api/system/sources
func (h *SystemHandler) CreateSource(w http.ResponseWriter, r *http.Request) {
	var in service.SourceInput
	if err := readJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	src, err := h.svc.Sources.Create(r.Context(), in)
	if err != nil {
		writeServiceError(w, h.logger, err, "create source")
		return
	}
	writeData(w, http.StatusCreated, src)
}

// TestSource opens a connection to a source and pings it.
// POST /api/system/sources/{id}/test
func (h *SystemHandler) TestSource(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.svc.Sources.Test(r.Context(), id); err != nil {
		writeServiceError(w, h.logger, err, "test source")
		return
	}
	writeData(w, http.StatusOK, map[string]string{"status": "connected"})
}

// DeleteSource disconnects and removes a source.
// DELETE /api/system/sources/{id}
func (h *SystemHandler) DeleteSource(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.svc.Sources.Delete(r.Context(), id); err != nil {
		writeServiceError(w, h.logger, err, "delete source")
		return
	}
	writeData(w, http.StatusOK, map[string]int64{"id": id})
}
