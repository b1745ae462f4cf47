package handler

import (
	"io"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/datatap/datatap/internal/contract"
	"github.com/datatap/datatap/internal/model"
	"github.com/datatap/datatap/internal/server/middleware"
	"github.com/datatap/datatap/internal/service"
)

// maxUploadMemory is how much of a multipart upload is buffered in memory
// before spilling to temp files.
const maxUploadMemory = 32 << 20

// datasetChange is returned by writes that may replace the payload.
type datasetChange struct {
	Dataset *model.Dataset        `json:"dataset"`
	Drift   *contract.DriftReport `json:"drift,omitempty"`
}

// ListDatasets returns dataset metadata without records.
// GET /api/system/datasets
func (h *SystemHandler) ListDatasets(w http.ResponseWriter, r *http.Request) {
	datasets, err := h.svc.Datasets.List(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "list datasets")
		return
	}
	if datasets == nil {
		datasets = []model.Dataset{}
	}
	writeData(w, http.StatusOK, datasets)
}

// CreateDataset creates a dataset from JSON records in the body.
// POST /api/system/datasets
func (h *SystemHandler) CreateDataset(w http.ResponseWriter, r *http.Request) {
	var in service.DatasetInput
	if err := readJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	ds, err := h.svc.Datasets.Create(r.Context(), in, userID(middleware.GetUser(r.Context())))
	if err != nil {
		writeServiceError(w, h.logger, err, "create dataset")
		return
	}
	writeData(w, http.StatusCreated, ds)
}

// UploadDataset creates a dataset from a .json or .csv file sent as the
// multipart field "file". Optional form fields: name, description,
// schema_lock.
// POST /api/system/datasets/upload
func (h *SystemHandler) UploadDataset(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, "Expected a multipart form: "+err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read upload: "+err.Error())
		return
	}

	in := service.DatasetInput{
		Name:        r.FormValue("name"),
		Description: r.FormValue("description"),
		SchemaLock:  r.FormValue("schema_lock"),
	}
	ds, err := h.svc.Datasets.Upload(r.Context(), in, header.Filename, data, userID(middleware.GetUser(r.Context())))
	if err != nil {
		writeServiceError(w, h.logger, err, "upload dataset")
		return
	}
	writeData(w, http.StatusCreated, ds)
}

// ImportDataset snapshots a table or query from a registered source.
// POST /api/system/datasets/import
func (h *SystemHandler) ImportDataset(w http.ResponseWriter, r *http.Request) {
	var in service.ImportInput
	if err := readJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	ds, err := h.svc.Datasets.Import(r.Context(), in, userID(middleware.GetUser(r.Context())))
	if err != nil {
		writeServiceError(w, h.logger, err, "import dataset")
		return
	}
	writeData(w, http.StatusCreated, ds)
}

// GetDataset returns dataset metadata.
// GET /api/system/datasets/{id}
func (h *SystemHandler) GetDataset(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ds, err := h.svc.Datasets.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err, "get dataset")
		return
	}
	writeData(w, http.StatusOK, ds)
}

// GetDatasetRecords returns the full payload of a dataset.
// GET /api/system/datasets/{id}/records
func (h *SystemHandler) GetDatasetRecords(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	records, err := h.svc.Datasets.Records(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err, "load records")
		return
	}
	total := int64(len(records))
	writeJSON(w, http.StatusOK, model.Envelope{Success: true, Data: records, Total: &total})
}

// UpdateDataset edits metadata and optionally replaces the payload.
// PUT /api/system/datasets/{id}
func (h *SystemHandler) UpdateDataset(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var in service.DatasetUpdate
	if err := readJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	ds, report, err := h.svc.Datasets.Update(r.Context(), id, in)
	if err != nil {
		writeServiceError(w, h.logger, err, "update dataset")
		return
	}
	writeData(w, http.StatusOK, datasetChange{Dataset: ds, Drift: report})
}

// SetDatasetActive toggles whether a dataset can be served.
// PATCH /api/system/datasets/{id}/active
func (h *SystemHandler) SetDatasetActive(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	active, ok := readActive(w, r)
	if !ok {
		return
	}
	ds, err := h.svc.Datasets.SetActive(r.Context(), id, active)
	if err != nil {
		writeServiceError(w, h.logger, err, "update dataset")
		return
	}
	writeData(w, http.StatusOK, ds)
}

// RefreshDataset re-runs the import statement of a sql-import dataset.
// POST /api/system/datasets/{id}/refresh?max_rows=N
func (h *SystemHandler) RefreshDataset(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ds, report, err := h.svc.Datasets.Refresh(r.Context(), id, queryInt(r, "max_rows", 0))
	if err != nil {
		writeServiceError(w, h.logger, err, "refresh dataset")
		return
	}
	writeData(w, http.StatusOK, datasetChange{Dataset: ds, Drift: report})
}

// DatasetSchemaHistory lists the schema snapshots of a dataset.
// GET /api/system/datasets/{id}/schema-history
func (h *SystemHandler) DatasetSchemaHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	history, err := h.svc.Datasets.History(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err, "load schema history")
		return
	}
	if history == nil {
		history = []contract.Snapshot{}
	}
	writeData(w, http.StatusOK, history)
}

// DatasetOriginal streams the archived upload a dataset was created from.
// GET /api/system/datasets/{id}/original
func (h *SystemHandler) DatasetOriginal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rc, name, err := h.svc.Datasets.Original(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err, "load original upload")
		return
	}
	defer rc.Close()

	ctype := mime.TypeByExtension(filepath.Ext(name))
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("streaming original upload failed", "dataset_id", id, "error", err)
	}
}

// DeleteDataset removes a dataset that no endpoint references.
// DELETE /api/system/datasets/{id}
func (h *SystemHandler) DeleteDataset(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.svc.Datasets.Delete(r.Context(), id); err != nil {
		writeServiceError(w, h.logger, err, "delete dataset")
		return
	}
	writeData(w, http.StatusOK, map[string]int64{"id": id})
}
