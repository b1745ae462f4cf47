package gateway

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/datatap/datatap/internal/model"
	"github.com/datatap/datatap/internal/safego"
	"github.com/datatap/datatap/internal/telemetry"
)

// DefaultQueueSize is the recorder queue capacity when none is configured.
const DefaultQueueSize = 1024

// storeTimeout bounds each usage write so a stuck store cannot stall the
// worker indefinitely.
const storeTimeout = 5 * time.Second

// Event is the outcome of one gateway request as handed to the Recorder.
type Event struct {
	APIKeyID   *int64
	EndpointID *int64
	UserID     *int64
	Method     string
	Path       string
	Query      url.Values
	Status     int
	Latency    time.Duration
	IP         string
	UserAgent  string
	Error      string
	At         time.Time
}

// Succeeded reports whether the request returned data.
func (e Event) Succeeded() bool {
	return e.Status >= 200 && e.Status < 300
}

// UsageStore is the slice of the config store the Recorder writes to.
type UsageStore interface {
	InsertRequestLog(ctx context.Context, l *model.RequestLog) error
	RecordAPIKeyUsage(ctx context.Context, id int64, at time.Time) error
	RecordEndpointHit(ctx context.Context, id int64, at time.Time) error
}

// Recorder persists usage events off the request path. Events go through a
// bounded queue drained by one worker: Record never blocks, and a full queue
// drops the event with a warning. Delivery is at most once; events still
// queued when the process dies are lost.
type Recorder struct {
	store  UsageStore
	logger *slog.Logger
	queue  chan Event

	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
	started bool
}

// NewRecorder creates a recorder with the given queue capacity. Call Start
// before recording and Close on shutdown.
func NewRecorder(store UsageStore, logger *slog.Logger, size int) *Recorder {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:  store,
		logger: logger,
		queue:  make(chan Event, size),
		done:   make(chan struct{}),
	}
}

// Start launches the worker. It is safe to call more than once.
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.closed {
		return
	}
	r.started = true
	safego.Go("usage-recorder", r.run)
}

// Record enqueues ev and reports whether it was accepted.
func (r *Recorder) Record(ev Event) bool {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}

	select {
	case r.queue <- ev:
		telemetry.UsageQueueDepth.Set(float64(len(r.queue)))
		return true
	default:
		telemetry.UsageEventsDroppedTotal.Inc()
		r.logger.Warn("usage queue full, dropping event",
			"method", ev.Method, "path", ev.Path, "status", ev.Status)
		return false
	}
}

// Close stops accepting events and waits for the queue to drain or ctx to
// end, whichever comes first.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	started := r.started
	close(r.queue)
	r.mu.Unlock()

	if !started {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for ev := range r.queue {
		telemetry.UsageQueueDepth.Set(float64(len(r.queue)))
		r.write(ev)
	}
}

// write persists one event. Failures are logged and otherwise ignored.
func (r *Recorder) write(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	entry := &model.RequestLog{
		APIKeyID:   ev.APIKeyID,
		EndpointID: ev.EndpointID,
		UserID:     ev.UserID,
		Method:     ev.Method,
		Path:       ev.Path,
		Query:      ev.Query,
		StatusCode: ev.Status,
		LatencyMs:  ev.Latency.Milliseconds(),
		IP:         ev.IP,
		UserAgent:  ev.UserAgent,
		Error:      ev.Error,
		CreatedAt:  ev.At,
	}
	if err := r.store.InsertRequestLog(ctx, entry); err != nil {
		r.logger.Error("failed to write request log", "path", ev.Path, "error", err)
	}

	if ev.APIKeyID != nil {
		if err := r.store.RecordAPIKeyUsage(ctx, *ev.APIKeyID, ev.At); err != nil {
			r.logger.Error("failed to update api key usage", "key_id", *ev.APIKeyID, "error", err)
		}
	}
	if ev.EndpointID != nil && ev.Succeeded() {
		if err := r.store.RecordEndpointHit(ctx, *ev.EndpointID, ev.At); err != nil {
			r.logger.Error("failed to update endpoint counter", "endpoint_id", *ev.EndpointID, "error", err)
		}
	}
}
