package config

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/datatap/datatap/internal/contract"
	"github.com/datatap/datatap/internal/model"
)

// ---------------------------------------------------------------------------
// Datasets
// ---------------------------------------------------------------------------

// datasetRow is the flat database representation of a model.Dataset.
// Records and schema are stored as JSON text columns.
type datasetRow struct {
	ID              int64     `db:"id"`
	Name            string    `db:"name"`
	Description     string    `db:"description"`
	RecordsJSON     string    `db:"records_json"`
	SchemaJSON      string    `db:"schema_json"`
	RecordCount     int       `db:"record_count"`
	Source          string    `db:"source"`
	SchemaLock      string    `db:"schema_lock"`
	IsActive        bool      `db:"is_active"`
	SourceID        *int64    `db:"source_id"`
	SourceQuery     string    `db:"source_query"`
	ArchivePath     string    `db:"archive_path"`
	ArchiveChecksum string    `db:"archive_checksum"`
	CreatedBy       *int64    `db:"created_by"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

// datasetMetaColumns selects everything except the payload, for listings.
const datasetMetaColumns = `id, name, description, '[]' AS records_json, schema_json, record_count,
	source, schema_lock, is_active, source_id, source_query, archive_path, archive_checksum,
	created_by, created_at, updated_at`

func datasetRowFromModel(ds *model.Dataset) (datasetRow, error) {
	recordsJSON, err := marshalJSON(ds.Records, "[]")
	if err != nil {
		return datasetRow{}, fmt.Errorf("marshal records: %w", err)
	}
	schemaJSON, err := marshalJSON(ds.Schema, "{}")
	if err != nil {
		return datasetRow{}, fmt.Errorf("marshal schema: %w", err)
	}
	return datasetRow{
		ID:              ds.ID,
		Name:            ds.Name,
		Description:     ds.Description,
		RecordsJSON:     recordsJSON,
		SchemaJSON:      schemaJSON,
		RecordCount:     ds.RecordCount,
		Source:          ds.Source,
		SchemaLock:      ds.SchemaLock,
		IsActive:        ds.IsActive,
		SourceID:        ds.SourceID,
		SourceQuery:     ds.SourceQuery,
		ArchivePath:     ds.ArchivePath,
		ArchiveChecksum: ds.ArchiveChecksum,
		CreatedBy:       ds.CreatedBy,
		CreatedAt:       ds.CreatedAt,
		UpdatedAt:       ds.UpdatedAt,
	}, nil
}

func (r datasetRow) toModel() (model.Dataset, error) {
	ds := model.Dataset{
		ID:              r.ID,
		Name:            r.Name,
		Description:     r.Description,
		RecordCount:     r.RecordCount,
		Source:          r.Source,
		SchemaLock:      r.SchemaLock,
		IsActive:        r.IsActive,
		SourceID:        r.SourceID,
		SourceQuery:     r.SourceQuery,
		ArchivePath:     r.ArchivePath,
		ArchiveChecksum: r.ArchiveChecksum,
		CreatedBy:       r.CreatedBy,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(r.RecordsJSON), &ds.Records); err != nil {
		return ds, fmt.Errorf("unmarshal records for dataset %d: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.SchemaJSON), &ds.Schema); err != nil {
		return ds, fmt.Errorf("unmarshal schema for dataset %d: %w", r.ID, err)
	}
	if ds.Records == nil {
		ds.Records = []model.Record{}
	}
	return ds, nil
}

// CreateDataset inserts a dataset and records its first schema snapshot.
// RecordCount is derived from Records.
func (s *Store) CreateDataset(ctx context.Context, ds *model.Dataset) error {
	now := time.Now().UTC()
	ds.CreatedAt = now
	ds.UpdatedAt = now
	ds.RecordCount = len(ds.Records)
	if ds.Source == "" {
		ds.Source = model.SourceManual
	}
	if ds.SchemaLock == "" {
		ds.SchemaLock = model.SchemaLockNone
	}

	row, err := datasetRowFromModel(ds)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	const q = `INSERT INTO datasets
		(name, description, records_json, schema_json, record_count, source, schema_lock, is_active,
		 source_id, source_query, archive_path, archive_checksum, created_by, created_at, updated_at)
		VALUES
		(:name, :description, :records_json, :schema_json, :record_count, :source, :schema_lock, :is_active,
		 :source_id, :source_query, :archive_path, :archive_checksum, :created_by, :created_at, :updated_at)`

	result, err := tx.NamedExecContext(ctx, q, row)
	if err != nil {
		return fmt.Errorf("insert dataset: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get dataset id: %w", err)
	}

	if err := insertSnapshot(ctx, tx, id, row.SchemaJSON, ds.RecordCount, contract.DriftReport{}, now); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit dataset: %w", err)
	}
	ds.ID = id
	return nil
}

// GetDataset returns a dataset with its records.
func (s *Store) GetDataset(ctx context.Context, id int64) (*model.Dataset, error) {
	var row datasetRow
	if err := s.db.GetContext(ctx, &row, "SELECT * FROM datasets WHERE id = ?", id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get dataset: %w", err)
	}
	ds, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &ds, nil
}

// GetDatasetMeta returns a dataset without loading its records.
func (s *Store) GetDatasetMeta(ctx context.Context, id int64) (*model.Dataset, error) {
	var row datasetRow
	q := "SELECT " + datasetMetaColumns + " FROM datasets WHERE id = ?"
	if err := s.db.GetContext(ctx, &row, q, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get dataset: %w", err)
	}
	ds, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &ds, nil
}

// ListDatasets returns all datasets without their records, newest first.
func (s *Store) ListDatasets(ctx context.Context) ([]model.Dataset, error) {
	var rows []datasetRow
	q := "SELECT " + datasetMetaColumns + " FROM datasets ORDER BY created_at DESC, id DESC"
	if err := s.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}

	out := make([]model.Dataset, 0, len(rows))
	for _, r := range rows {
		ds, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, ds)
	}
	return out, nil
}

// UpdateDatasetMeta updates a dataset's descriptive fields and lock mode.
// The payload is left untouched.
func (s *Store) UpdateDatasetMeta(ctx context.Context, ds *model.Dataset) error {
	ds.UpdatedAt = time.Now().UTC()
	const q = `UPDATE datasets SET name = ?, description = ?, schema_lock = ?, updated_at = ?
		WHERE id = ?`
	result, err := s.db.ExecContext(ctx, q, ds.Name, ds.Description, ds.SchemaLock, ds.UpdatedAt, ds.ID)
	if err != nil {
		return fmt.Errorf("update dataset: %w", err)
	}
	return rowsAffected(result, "update dataset")
}

// ReplaceDatasetRecords swaps a dataset's payload and schema wholesale and
// records a schema snapshot carrying the drift counts of the change.
func (s *Store) ReplaceDatasetRecords(ctx context.Context, id int64, source string, records []model.Record, schema map[string]string, report contract.DriftReport) error {
	recordsJSON, err := marshalJSON(records, "[]")
	if err != nil {
		return fmt.Errorf("marshal records: %w", err)
	}
	schemaJSON, err := marshalJSON(schema, "{}")
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	const q = `UPDATE datasets SET records_json = ?, schema_json = ?, record_count = ?, source = ?, updated_at = ?
		WHERE id = ?`
	result, err := tx.ExecContext(ctx, q, recordsJSON, schemaJSON, len(records), source, now, id)
	if err != nil {
		return fmt.Errorf("replace dataset records: %w", err)
	}
	if err := rowsAffected(result, "replace dataset records"); err != nil {
		return err
	}

	if err := insertSnapshot(ctx, tx, id, schemaJSON, len(records), report, now); err != nil {
		return err
	}
	return tx.Commit()
}

// SetDatasetArchive records where a dataset's original upload was archived.
func (s *Store) SetDatasetArchive(ctx context.Context, id int64, path, checksum string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE datasets SET archive_path = ?, archive_checksum = ?, updated_at = ? WHERE id = ?",
		path, checksum, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set dataset archive: %w", err)
	}
	return rowsAffected(result, "set dataset archive")
}

// SetDatasetActive enables or disables a dataset. Endpoints over an inactive
// dataset answer as not found.
func (s *Store) SetDatasetActive(ctx context.Context, id int64, active bool) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE datasets SET is_active = ?, updated_at = ? WHERE id = ?", active, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set dataset active: %w", err)
	}
	return rowsAffected(result, "set dataset active")
}

// DeleteDataset removes a dataset. It fails with ErrDatasetInUse while any
// endpoint still references it.
func (s *Store) DeleteDataset(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var refs int
	if err := tx.GetContext(ctx, &refs, "SELECT COUNT(*) FROM endpoints WHERE dataset_id = ?", id); err != nil {
		return fmt.Errorf("count dataset references: %w", err)
	}
	if refs > 0 {
		return ErrDatasetInUse
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM datasets WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete dataset: %w", err)
	}
	if err := rowsAffected(result, "delete dataset"); err != nil {
		return err
	}
	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Schema snapshots
// ---------------------------------------------------------------------------

func insertSnapshot(ctx context.Context, tx *sqlx.Tx, datasetID int64, schemaJSON string, recordCount int, report contract.DriftReport, at time.Time) error {
	const q = `INSERT INTO dataset_schema_snapshots
		(dataset_id, schema_json, record_count, additive_count, breaking_count, captured_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, q, datasetID, schemaJSON, recordCount,
		report.AdditiveCount, report.BreakingCount, at); err != nil {
		return fmt.Errorf("insert schema snapshot: %w", err)
	}
	return nil
}

// ListSchemaSnapshots returns a dataset's schema history, newest first.
func (s *Store) ListSchemaSnapshots(ctx context.Context, datasetID int64) ([]contract.Snapshot, error) {
	var rows []contract.Snapshot
	const q = `SELECT id, dataset_id, schema_json, record_count, additive_count, breaking_count, captured_at
		FROM dataset_schema_snapshots WHERE dataset_id = ? ORDER BY id DESC`
	if err := s.db.SelectContext(ctx, &rows, q, datasetID); err != nil {
		return nil, fmt.Errorf("list schema snapshots: %w", err)
	}

	for i := range rows {
		if err := json.Unmarshal([]byte(rows[i].SchemaJSON), &rows[i].Schema); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot %d: %w", rows[i].ID, err)
		}
	}
	return rows, nil
}
