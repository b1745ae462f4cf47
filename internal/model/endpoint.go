package model

import (
	"encoding/json"
	"time"
)

// DefaultPageSize is the page size used when an endpoint does not set one.
const DefaultPageSize = 10

// MaxPageSize is the hard ceiling applied to every requested limit.
const MaxPageSize = 100

// Methods an endpoint may be registered under. All of them are served
// read-only by the gateway.
var EndpointMethods = []string{"GET", "POST", "PUT", "DELETE"}

// Endpoint exposes one dataset under a gateway route.
type Endpoint struct {
	ID           int64          `json:"id" db:"id"`
	Name         string         `json:"name" db:"name"`
	Description  string         `json:"description" db:"description"`
	Method       string         `json:"method" db:"method"`
	Path         string         `json:"path" db:"path"`
	DatasetID    int64          `json:"dataset_id" db:"dataset_id"`
	Response     ResponseConfig `json:"response"`
	RateLimit    int            `json:"rate_limit" db:"rate_limit"`
	IsActive     bool           `json:"is_active" db:"is_active"`
	RequestCount int64          `json:"request_count" db:"request_count"`
	LastAccessed *time.Time     `json:"last_accessed,omitempty" db:"last_accessed"`
	CreatedBy    *int64         `json:"created_by,omitempty" db:"created_by"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at" db:"updated_at"`
}

// ResponseConfig controls how the row pipeline shapes an endpoint's output.
// IncludeFields takes precedence over ExcludeFields when both are set.
type ResponseConfig struct {
	Pagination    bool     `json:"pagination"`
	PageSize      int      `json:"page_size"`
	IncludeFields []string `json:"include_fields,omitempty"`
	ExcludeFields []string `json:"exclude_fields,omitempty"`
}

// DefaultResponseConfig returns pagination on with the default page size.
func DefaultResponseConfig() ResponseConfig {
	return ResponseConfig{Pagination: true, PageSize: DefaultPageSize}
}

// UnmarshalJSON decodes on top of DefaultResponseConfig, so a document that
// omits "pagination" or "page_size" keeps the defaults.
func (c *ResponseConfig) UnmarshalJSON(b []byte) error {
	type plain ResponseConfig
	p := plain(DefaultResponseConfig())
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*c = ResponseConfig(p)
	return nil
}

// EffectivePageSize returns PageSize, or DefaultPageSize when unset.
func (c ResponseConfig) EffectivePageSize() int {
	if c.PageSize <= 0 {
		return DefaultPageSize
	}
	return c.PageSize
}

// ValidMethod reports whether m is a method endpoints can be registered under.
func ValidMethod(m string) bool {
	for _, v := range EndpointMethods {
		if v == m {
			return true
		}
	}
	return false
}
