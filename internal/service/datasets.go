package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/datatap/datatap/internal/config"
	"github.com/datatap/datatap/internal/contract"
	"github.com/datatap/datatap/internal/dataset"
	"github.com/datatap/datatap/internal/model"
	"github.com/datatap/datatap/internal/query"
	"github.com/datatap/datatap/internal/source"
	"github.com/datatap/datatap/internal/storage"
)

// DatasetInput creates a dataset from records supplied directly.
type DatasetInput struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Records     []model.Record `json:"records"`
	SchemaLock  string         `json:"schema_lock"`
	IsActive    *bool          `json:"is_active"`
}

// DatasetUpdate changes a dataset. A nil Records leaves the payload alone;
// a non-nil one replaces payload and schema wholesale.
type DatasetUpdate struct {
	Name        *string         `json:"name"`
	Description *string         `json:"description"`
	SchemaLock  *string         `json:"schema_lock"`
	Records     *[]model.Record `json:"records"`
}

// ImportInput pulls a dataset out of a registered SQL source. Exactly one
// of Table and Query is set.
type ImportInput struct {
	SourceID    int64  `json:"source_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Table       string `json:"table"`
	Query       string `json:"query"`
	MaxRows     int    `json:"max_rows"`
	SchemaLock  string `json:"schema_lock"`
}

// DatasetService ingests and maintains datasets.
type DatasetService struct {
	store   *config.Store
	archive storage.Storage
	sources *source.Registry
	logger  *slog.Logger
}

// NewDatasetService creates a DatasetService. archive may be nil, which
// turns upload archiving off.
func NewDatasetService(store *config.Store, archive storage.Storage, sources *source.Registry, logger *slog.Logger) *DatasetService {
	return &DatasetService{store: store, archive: archive, sources: sources, logger: logger}
}

// List returns every dataset without records.
func (s *DatasetService) List(ctx context.Context) ([]model.Dataset, error) {
	return s.store.ListDatasets(ctx)
}

// Get returns a dataset without records.
func (s *DatasetService) Get(ctx context.Context, id int64) (*model.Dataset, error) {
	return s.store.GetDatasetMeta(ctx, id)
}

// Records returns a dataset's payload in storage order.
func (s *DatasetService) Records(ctx context.Context, id int64) ([]model.Record, error) {
	ds, err := s.store.GetDataset(ctx, id)
	if err != nil {
		return nil, err
	}
	if ds.Records == nil {
		return []model.Record{}, nil
	}
	return ds.Records, nil
}

// Create stores a manual dataset.
func (s *DatasetService) Create(ctx context.Context, in DatasetInput, createdBy *int64) (*model.Dataset, error) {
	return s.create(ctx, in, model.SourceManual, createdBy)
}

// Upload parses a JSON or CSV file into a new dataset. When an archive is
// configured the raw file is kept as well; failing to archive does not fail
// the upload.
func (s *DatasetService) Upload(ctx context.Context, in DatasetInput, filename string, data []byte, createdBy *int64) (*model.Dataset, error) {
	records, origin, err := dataset.Parse(filename, data)
	if err != nil {
		return nil, invalid("%s: %v", filename, err)
	}
	if strings.TrimSpace(in.Name) == "" {
		in.Name = strings.TrimSuffix(path.Base(filename), path.Ext(filename))
	}
	in.Records = records

	ds, err := s.create(ctx, in, origin, createdBy)
	if err != nil {
		return nil, err
	}
	s.archiveUpload(ctx, ds, filename, data)
	return ds, nil
}

func (s *DatasetService) create(ctx context.Context, in DatasetInput, origin string, createdBy *int64) (*model.Dataset, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, invalid("name is required")
	}
	if in.SchemaLock == "" {
		in.SchemaLock = model.SchemaLockNone
	}
	if !contract.ValidLockMode(in.SchemaLock) {
		return nil, invalid("schema_lock must be one of none, auto, strict")
	}
	if in.Records == nil {
		in.Records = []model.Record{}
	}
	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}

	ds := &model.Dataset{
		Name:        in.Name,
		Description: in.Description,
		Records:     in.Records,
		Schema:      dataset.InferSchema(in.Records),
		Source:      origin,
		SchemaLock:  in.SchemaLock,
		IsActive:    active,
		CreatedBy:   createdBy,
	}
	if err := s.store.CreateDataset(ctx, ds); err != nil {
		return nil, err
	}
	return ds, nil
}

func (s *DatasetService) archiveUpload(ctx context.Context, ds *model.Dataset, filename string, data []byte) {
	if s.archive == nil {
		return
	}
	objectPath := storage.DatasetObjectPath(ds.ID, filename, ds.CreatedAt)
	res, err := s.archive.Upload(ctx, objectPath, bytes.NewReader(data))
	if err != nil {
		s.logger.Warn("archive upload failed", "dataset_id", ds.ID, "path", objectPath, "error", err)
		return
	}
	if err := s.store.SetDatasetArchive(ctx, ds.ID, res.Path, res.Checksum); err != nil {
		s.logger.Warn("record archive path failed", "dataset_id", ds.ID, "error", err)
		return
	}
	ds.ArchivePath = res.Path
	ds.ArchiveChecksum = res.Checksum
}

// Update applies in to a dataset. When the payload is replaced the drift
// between the old and new schema is checked against the dataset's lock and
// returned.
func (s *DatasetService) Update(ctx context.Context, id int64, in DatasetUpdate) (*model.Dataset, *contract.DriftReport, error) {
	ds, err := s.store.GetDatasetMeta(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, nil, invalid("name cannot be empty")
		}
		ds.Name = name
	}
	if in.Description != nil {
		ds.Description = *in.Description
	}
	if in.SchemaLock != nil {
		if !contract.ValidLockMode(*in.SchemaLock) {
			return nil, nil, invalid("schema_lock must be one of none, auto, strict")
		}
		ds.SchemaLock = *in.SchemaLock
	}

	var report *contract.DriftReport
	if in.Records != nil {
		report, err = s.replace(ctx, ds, ds.Source, *in.Records)
		if err != nil {
			return nil, nil, err
		}
	}

	if err := s.store.UpdateDatasetMeta(ctx, ds); err != nil {
		return nil, nil, err
	}
	updated, err := s.store.GetDatasetMeta(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return updated, report, nil
}

// replace swaps the payload of ds after the schema lock accepted the drift.
func (s *DatasetService) replace(ctx context.Context, ds *model.Dataset, origin string, records []model.Record) (*contract.DriftReport, error) {
	if records == nil {
		records = []model.Record{}
	}
	schema := dataset.InferSchema(records)
	report := contract.DiffSchemas(ds.Name, ds.Schema, schema)
	if err := contract.Check(contract.LockMode(ds.SchemaLock), report); err != nil {
		return nil, invalid("%v", err)
	}
	if err := s.store.ReplaceDatasetRecords(ctx, ds.ID, origin, records, schema, report); err != nil {
		return nil, err
	}
	return &report, nil
}

// SetActive enables or disables a dataset.
func (s *DatasetService) SetActive(ctx context.Context, id int64, active bool) (*model.Dataset, error) {
	if err := s.store.SetDatasetActive(ctx, id, active); err != nil {
		return nil, err
	}
	return s.store.GetDatasetMeta(ctx, id)
}

// Delete removes a dataset that no endpoint references, then drops its
// archived upload. The archive cleanup is best-effort.
func (s *DatasetService) Delete(ctx context.Context, id int64) error {
	ds, err := s.store.GetDatasetMeta(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteDataset(ctx, id); err != nil {
		if errors.Is(err, config.ErrDatasetInUse) {
			return invalid("dataset %q is used by at least one endpoint; delete those endpoints first", ds.Name)
		}
		return err
	}
	if s.archive != nil && ds.ArchivePath != "" {
		if err := s.archive.Delete(ctx, ds.ArchivePath); err != nil {
			s.logger.Warn("delete archived upload failed", "dataset_id", id, "path", ds.ArchivePath, "error", err)
		}
	}
	return nil
}

// History returns the dataset's schema snapshots, newest first.
func (s *DatasetService) History(ctx context.Context, id int64) ([]contract.Snapshot, error) {
	if _, err := s.store.GetDatasetMeta(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListSchemaSnapshots(ctx, id)
}

// Original opens the archived upload of a dataset. The caller closes it.
func (s *DatasetService) Original(ctx context.Context, id int64) (io.ReadCloser, string, error) {
	ds, err := s.store.GetDatasetMeta(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if s.archive == nil || ds.ArchivePath == "" {
		return nil, "", config.ErrNotFound
	}
	rc, err := s.archive.Download(ctx, ds.ArchivePath)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, "", config.ErrNotFound
	}
	if err != nil {
		return nil, "", err
	}
	return rc, path.Base(ds.ArchivePath), nil
}

// Import snapshots a table or read-only query from a SQL source into a new
// sql-import dataset.
func (s *DatasetService) Import(ctx context.Context, in ImportInput, createdBy *int64) (*model.Dataset, error) {
	if in.SchemaLock == "" {
		in.SchemaLock = model.SchemaLockNone
	}
	if !contract.ValidLockMode(in.SchemaLock) {
		return nil, invalid("schema_lock must be one of none, auto, strict")
	}

	src, conn, err := s.connectSource(ctx, in.SourceID)
	if err != nil {
		return nil, err
	}

	in.Table = strings.TrimSpace(in.Table)
	var stmt string
	switch {
	case in.Table != "" && in.Query != "":
		return nil, invalid("set either table or query, not both")
	case in.Table != "":
		stmt, err = source.TableStatement(conn, in.Table)
	case in.Query != "":
		stmt, err = query.ValidateReadQuery(in.Query)
	default:
		return nil, invalid("table or query is required")
	}
	if err != nil {
		return nil, invalid("%v", err)
	}

	records, err := source.Snapshot(ctx, conn, stmt, in.MaxRows)
	if err != nil {
		return nil, fmt.Errorf("import from source %q: %w", src.Name, err)
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = in.Table
	}
	if name == "" {
		name = src.Name + " import"
	}
	srcID := src.ID
	ds := &model.Dataset{
		Name:        name,
		Description: in.Description,
		Records:     records,
		Schema:      dataset.InferSchema(records),
		Source:      model.SourceSQLImport,
		SchemaLock:  in.SchemaLock,
		IsActive:    true,
		SourceID:    &srcID,
		SourceQuery: stmt,
		CreatedBy:   createdBy,
	}
	if err := s.store.CreateDataset(ctx, ds); err != nil {
		return nil, err
	}
	s.logger.Info("dataset imported", "dataset_id", ds.ID, "source", src.Name, "records", len(records))
	return ds, nil
}

// Refresh re-runs an imported dataset's statement against its source and
// replaces the payload, subject to the schema lock.
func (s *DatasetService) Refresh(ctx context.Context, id int64, maxRows int) (*model.Dataset, *contract.DriftReport, error) {
	ds, err := s.store.GetDatasetMeta(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if ds.SourceID == nil || ds.SourceQuery == "" {
		return nil, nil, invalid("dataset %q was not imported from a source", ds.Name)
	}

	src, conn, err := s.connectSource(ctx, *ds.SourceID)
	if err != nil {
		return nil, nil, err
	}
	records, err := source.Snapshot(ctx, conn, ds.SourceQuery, maxRows)
	if err != nil {
		return nil, nil, fmt.Errorf("refresh from source %q: %w", src.Name, err)
	}

	report, err := s.replace(ctx, ds, model.SourceSQLImport, records)
	if err != nil {
		return nil, nil, err
	}
	updated, err := s.store.GetDatasetMeta(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return updated, report, nil
}

func (s *DatasetService) connectSource(ctx context.Context, sourceID int64) (*model.Source, source.Connector, error) {
	if s.sources == nil {
		return nil, nil, invalid("SQL sources are not available")
	}
	src, err := s.store.GetSource(ctx, sourceID)
	if errors.Is(err, config.ErrNotFound) {
		return nil, nil, invalid("source %d does not exist", sourceID)
	}
	if err != nil {
		return nil, nil, err
	}
	if !src.IsActive {
		return nil, nil, invalid("source %q is disabled", src.Name)
	}
	conn, err := s.sources.Acquire(ctx, src.ID, source.ConfigFromSource(src))
	if err != nil {
		return nil, nil, invalid("connect to source %q: %v", src.Name, err)
	}
	return src, conn, nil
}
