package handler

import (
	"log/slog"
	"net/http"

	"github.com/datatap/datatap/internal/config"
	"github.com/datatap/datatap/internal/openapi"
)

// OpenAPIHandler serves a document describing the active gateway endpoints.
// It is regenerated on every request so it always matches the store.
type OpenAPIHandler struct {
	store  *config.Store
	prefix string
	logger *slog.Logger
}

// NewOpenAPIHandler creates a new OpenAPIHandler.
func NewOpenAPIHandler(store *config.Store, prefix string, logger *slog.Logger) *OpenAPIHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAPIHandler{store: store, prefix: prefix, logger: logger}
}

// ServeSpec writes the OpenAPI document.
// GET /openapi.json
func (h *OpenAPIHandler) ServeSpec(w http.ResponseWriter, r *http.Request) {
	endpoints, err := h.store.ListEndpoints(r.Context(), true)
	if err != nil {
		writeServiceError(w, h.logger, err, "list endpoints")
		return
	}
	datasets, err := h.store.ListDatasets(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "list datasets")
		return
	}
	writeJSON(w, http.StatusOK, openapi.GenerateGatewaySpec(endpoints, datasets, h.prefix))
}
