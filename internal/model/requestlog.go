package model

import (
	"net/url"
	"time"
)

// RequestLog records the outcome of one gateway request. Entries are
// append-only.
type RequestLog struct {
	ID         int64      `json:"id" db:"id"`
	APIKeyID   *int64     `json:"api_key_id,omitempty" db:"api_key_id"`
	EndpointID *int64     `json:"endpoint_id,omitempty" db:"endpoint_id"` // nil when resolution failed
	UserID     *int64     `json:"user_id,omitempty" db:"user_id"`
	Method     string     `json:"method" db:"method"`
	Path       string     `json:"path" db:"path"`
	Query      url.Values `json:"query,omitempty"`
	StatusCode int        `json:"status_code" db:"status_code"`
	LatencyMs  int64      `json:"latency_ms" db:"latency_ms"`
	IP         string     `json:"ip" db:"ip"`
	UserAgent  string     `json:"user_agent" db:"user_agent"`
	Error      string     `json:"error,omitempty" db:"error"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// RequestLogFilter narrows a request log listing. Zero values are ignored.
type RequestLogFilter struct {
	APIKeyID   int64
	EndpointID int64
	StatusCode int
	Method     string
	Since      *time.Time
	Until      *time.Time
	Limit      int
	Offset     int
}

// DashboardStats aggregates usage for the admin dashboard.
type DashboardStats struct {
	Datasets        int             `json:"datasets"`
	Endpoints       int             `json:"endpoints"`
	ActiveEndpoints int             `json:"active_endpoints"`
	APIKeys         int             `json:"api_keys"`
	ActiveAPIKeys   int             `json:"active_api_keys"`
	Users           int             `json:"users"`
	TotalRequests   int64           `json:"total_requests"`
	Requests24h     int64           `json:"requests_24h"`
	Errors24h       int64           `json:"errors_24h"`
	AvgLatencyMs    float64         `json:"avg_latency_ms"`
	TopEndpoints    []EndpointUsage `json:"top_endpoints"`
	Daily           []DailyCount    `json:"daily"`
}

// EndpointUsage is one row of the top-endpoints table.
type EndpointUsage struct {
	ID           int64  `json:"id" db:"id"`
	Name         string `json:"name" db:"name"`
	Method       string `json:"method" db:"method"`
	Path         string `json:"path" db:"path"`
	RequestCount int64  `json:"request_count" db:"request_count"`
}

// DailyCount is the number of gateway requests on one UTC day.
type DailyCount struct {
	Day      string `json:"day" db:"day"`
	Requests int64  `json:"requests" db:"requests"`
	Errors   int64  `json:"errors" db:"errors"`
}
