package model

import "time"

// Envelope is the response body used by the management API and the gateway.
type Envelope struct {
	Success    bool        `json:"success"`
	Data       interface{} `json:"data,omitempty"`
	Pagination *Pagination `json:"pagination,omitempty"`
	Meta       *Meta       `json:"meta,omitempty"`
	Total      *int64      `json:"total,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// Pagination summarizes a paginated gateway response.
type Pagination struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	Pages   int  `json:"pages"`
	HasNext bool `json:"hasNext"`
	HasPrev bool `json:"hasPrev"`
}

// Meta identifies the endpoint that served a gateway response.
type Meta struct {
	Endpoint  string    `json:"endpoint"`
	Method    string    `json:"method"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorEnvelope builds a failure envelope.
func ErrorEnvelope(message string) Envelope {
	return Envelope{Success: false, Error: message}
}
