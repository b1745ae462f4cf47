// Package telemetry holds datatap's Prometheus metrics and logger setup.
//
// All metrics are registered against the default Prometheus registry and are
// served by the main router at GET /metrics.
//
// HTTP metrics use the chi route pattern (for example /api/system/keys/{id})
// rather than the raw URL so user-supplied path segments cannot blow up label
// cardinality. Gateway traffic is labelled with the single pattern the gateway
// is mounted under.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route pattern and status code.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datatap_http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route pattern, and status code.",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "datatap_http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route pattern.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)
)

// GatewayRequestsTotal counts gateway calls by terminal outcome: "ok" or the
// error kind that ended the request (unauthenticated, access_denied, ...).
var GatewayRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "datatap_gateway_requests_total",
		Help: "Total number of gateway requests, by outcome.",
	},
	[]string{"outcome"},
)

// Usage recorder metrics. A rising drop counter means the recorder queue is
// too small for the request rate or the store is too slow to drain it.
var (
	UsageEventsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "datatap_usage_events_dropped_total",
			Help: "Total number of usage events dropped because the recorder queue was full.",
		},
	)

	UsageQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "datatap_usage_queue_depth",
			Help: "Current number of usage events waiting to be written.",
		},
	)
)

// KeysExpiredTotal counts API keys moved to the expired status by the sweeper.
var KeysExpiredTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "datatap_api_keys_expired_total",
		Help: "Total number of API keys marked expired by the expiry sweeper.",
	},
)
