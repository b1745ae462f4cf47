package source

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Factory creates a new, unconnected Connector.
type Factory func() Connector

// Registry maps driver names to factories and keeps one live connection per
// source, keyed by source ID.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	active    map[int64]Connector
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		active:    make(map[int64]Connector),
	}
}

// RegisterDriver registers a connector factory for a driver name.
func (r *Registry) RegisterDriver(driver string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[driver] = factory
}

// HasDriver reports whether driver is registered.
func (r *Registry) HasDriver(driver string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[driver]
	return ok
}

// Drivers returns the registered driver names, sorted.
func (r *Registry) Drivers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.availableDrivers()
}

// Connect opens a new connection for a source, verifies it with a ping and
// replaces any previous connection held for the same source.
func (r *Registry) Connect(ctx context.Context, sourceID int64, cfg ConnectionConfig) (Connector, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Driver]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported driver: %s (available: %v)", cfg.Driver, r.Drivers())
	}

	conn := factory()
	if err := conn.Connect(cfg); err != nil {
		return nil, fmt.Errorf("connect source %d: %w", sourceID, err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Disconnect()
		return nil, fmt.Errorf("ping source %d: %w", sourceID, err)
	}

	r.mu.Lock()
	if existing, ok := r.active[sourceID]; ok {
		existing.Disconnect()
	}
	r.active[sourceID] = conn
	r.mu.Unlock()
	return conn, nil
}

// Get returns the live connection for a source.
func (r *Registry) Get(sourceID int64) (Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.active[sourceID]
	return conn, ok
}

// Acquire returns the live connection for a source, connecting first when
// there is none or the existing one no longer answers a ping.
func (r *Registry) Acquire(ctx context.Context, sourceID int64, cfg ConnectionConfig) (Connector, error) {
	if conn, ok := r.Get(sourceID); ok {
		if err := conn.Ping(ctx); err == nil {
			return conn, nil
		}
	}
	return r.Connect(ctx, sourceID, cfg)
}

// Disconnect closes and forgets the connection for a source. A source with
// no live connection is ignored.
func (r *Registry) Disconnect(sourceID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.active[sourceID]
	if !ok {
		return nil
	}
	delete(r.active, sourceID)
	return conn.Disconnect()
}

// CloseAll disconnects every source.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, conn := range r.active {
		conn.Disconnect()
		delete(r.active, id)
	}
}

func (r *Registry) availableDrivers() []string {
	drivers := make([]string, 0, len(r.factories))
	for d := range r.factories {
		drivers = append(drivers, d)
	}
	sort.Strings(drivers)
	return drivers
}
