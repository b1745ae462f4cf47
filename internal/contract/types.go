package contract

import (
	"time"
)

// LockMode controls how datatap treats schema drift when a dataset's payload
// is replaced.
type LockMode string

const (
	// LockModeNone accepts every replacement.
	LockModeNone LockMode = "none"
	// LockModeAuto accepts additive drift and rejects breaking drift.
	LockModeAuto LockMode = "auto"
	// LockModeStrict rejects any drift, additive or breaking.
	LockModeStrict LockMode = "strict"
)

// ValidLockMode returns true if m is a recognized lock mode.
func ValidLockMode(m string) bool {
	switch LockMode(m) {
	case LockModeNone, LockModeAuto, LockModeStrict:
		return true
	}
	return false
}

// Snapshot is a recorded schema version of a dataset, captured every time its
// payload is written.
type Snapshot struct {
	ID          int64             `json:"id" db:"id"`
	DatasetID   int64             `json:"dataset_id" db:"dataset_id"`
	Schema      map[string]string `json:"schema"`
	SchemaJSON  string            `json:"-" db:"schema_json"`
	RecordCount int               `json:"record_count" db:"record_count"`
	Additive    int               `json:"additive_count" db:"additive_count"`
	Breaking    int               `json:"breaking_count" db:"breaking_count"`
	CapturedAt  time.Time         `json:"captured_at" db:"captured_at"`
}

// DriftType classifies the severity of a schema change.
type DriftType string

const (
	// DriftAdditive means a field appeared or gained a concrete type. Safe for consumers.
	DriftAdditive DriftType = "additive"
	// DriftBreaking means a field was removed or changed type.
	DriftBreaking DriftType = "breaking"
)

// DriftItem describes a single difference between two dataset schemas.
type DriftItem struct {
	Type        DriftType `json:"type"`
	Category    string    `json:"category"` // "field_added", "field_removed", "type_changed"
	Field       string    `json:"field"`
	OldValue    string    `json:"old_value,omitempty"`
	NewValue    string    `json:"new_value,omitempty"`
	Description string    `json:"description"`
}

// DriftReport summarizes all differences between the previous and the new
// schema of a dataset.
type DriftReport struct {
	Dataset       string      `json:"dataset"`
	HasDrift      bool        `json:"has_drift"`
	HasBreaking   bool        `json:"has_breaking"`
	AdditiveCount int         `json:"additive_count"`
	BreakingCount int         `json:"breaking_count"`
	Items         []DriftItem `json:"items"`
	CheckedAt     time.Time   `json:"checked_at"`
}
