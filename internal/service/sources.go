package service

import (
	"context"
	"errors"
	"strings"

	"github.com/datatap/datatap/internal/config"
	"github.com/datatap/datatap/internal/model"
	"github.com/datatap/datatap/internal/source"
)

// SourceInput registers a SQL database datasets can be imported from.
type SourceInput struct {
	Name           string            `json:"name"`
	Driver         string            `json:"driver"`
	DSN            string            `json:"dsn"`
	PrivateKeyPath string            `json:"private_key_path"`
	Pool           *model.PoolConfig `json:"pool"`
}

// SourceService manages import sources. DSNs go in but never come back out.
type SourceService struct {
	store    *config.Store
	registry *source.Registry
}

// NewSourceService creates a SourceService.
func NewSourceService(store *config.Store, registry *source.Registry) *SourceService {
	return &SourceService{store: store, registry: registry}
}

// Drivers lists the drivers sources can use.
func (s *SourceService) Drivers() []string {
	return s.registry.Drivers()
}

// Create stores a new source.
func (s *SourceService) Create(ctx context.Context, in SourceInput) (*model.Source, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, invalid("name is required")
	}
	driver := strings.ToLower(strings.TrimSpace(in.Driver))
	if !s.registry.HasDriver(driver) {
		return nil, invalid("unsupported driver %q (available: %s)", in.Driver, strings.Join(s.registry.Drivers(), ", "))
	}
	if strings.TrimSpace(in.DSN) == "" {
		return nil, invalid("dsn is required")
	}

	src := &model.Source{
		Name:           name,
		Driver:         driver,
		DSN:            source.SanitizeDSN(driver, strings.TrimSpace(in.DSN)),
		PrivateKeyPath: in.PrivateKeyPath,
		IsActive:       true,
	}
	if in.Pool != nil {
		src.Pool = *in.Pool
	}
	if err := s.store.CreateSource(ctx, src); err != nil {
		if errors.Is(err, config.ErrConflict) {
			return nil, invalid("a source named %q already exists", name)
		}
		return nil, err
	}
	return redacted(*src), nil
}

// List returns every source without its DSN.
func (s *SourceService) List(ctx context.Context) ([]model.Source, error) {
	sources, err := s.store.ListSources(ctx)
	if err != nil {
		return nil, err
	}
	for i := range sources {
		sources[i].DSN = ""
	}
	return sources, nil
}

// Get returns one source without its DSN.
func (s *SourceService) Get(ctx context.Context, id int64) (*model.Source, error) {
	src, err := s.store.GetSource(ctx, id)
	if err != nil {
		return nil, err
	}
	return redacted(*src), nil
}

// Test opens a fresh connection to the source and pings it. Connection
// errors come back as validation errors with the password masked.
func (s *SourceService) Test(ctx context.Context, id int64) error {
	src, err := s.store.GetSource(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.registry.Connect(ctx, src.ID, source.ConfigFromSource(src)); err != nil {
		msg := err.Error()
		if src.DSN != "" {
			msg = strings.ReplaceAll(msg, src.DSN, source.RedactDSN(src.DSN))
		}
		return invalid("%s", msg)
	}
	return nil
}

// Delete closes any live connection and removes the source. Datasets
// imported from it keep their records.
func (s *SourceService) Delete(ctx context.Context, id int64) error {
	if _, err := s.store.GetSource(ctx, id); err != nil {
		return err
	}
	s.registry.Disconnect(id)
	return s.store.DeleteSource(ctx, id)
}

func redacted(src model.Source) *model.Source {
	src.DSN = ""
	return &src
}
