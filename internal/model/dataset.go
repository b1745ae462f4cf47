package model

import "time"

// Dataset origins.
const (
	SourceManual     = "manual"
	SourceJSONUpload = "json-upload"
	SourceCSVUpload  = "csv-upload"
	SourceSQLImport  = "sql-import"
)

// Schema lock modes.
const (
	SchemaLockNone   = "none"
	SchemaLockAuto   = "auto"
	SchemaLockStrict = "strict"
)

// Record is a single dataset row. Records have no enforced shape.
type Record = map[string]interface{}

// Dataset is a named collection of records backing one or more endpoints.
// Schema is inferred from the first record only.
type Dataset struct {
	ID              int64             `json:"id" db:"id"`
	Name            string            `json:"name" db:"name"`
	Description     string            `json:"description" db:"description"`
	Records         []Record          `json:"records,omitempty"`
	Schema          map[string]string `json:"schema"`
	RecordCount     int               `json:"record_count" db:"record_count"`
	Source          string            `json:"source" db:"source"`
	SchemaLock      string            `json:"schema_lock" db:"schema_lock"`
	IsActive        bool              `json:"is_active" db:"is_active"`
	SourceID        *int64            `json:"source_id,omitempty" db:"source_id"`
	SourceQuery     string            `json:"source_query,omitempty" db:"source_query"`
	ArchivePath     string            `json:"archive_path,omitempty" db:"archive_path"`
	ArchiveChecksum string            `json:"archive_checksum,omitempty" db:"archive_checksum"`
	CreatedBy       *int64            `json:"created_by,omitempty" db:"created_by"`
	CreatedAt       time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at" db:"updated_at"`
}

// ValidDatasetSource reports whether s is a known dataset origin.
func ValidDatasetSource(s string) bool {
	switch s {
	case SourceManual, SourceJSONUpload, SourceCSVUpload, SourceSQLImport:
		return true
	}
	return false
}
