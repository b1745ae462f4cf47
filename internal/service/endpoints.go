package service

import (
	"context"
	"errors"
	"strings"

	"github.com/datatap/datatap/internal/config"
	"github.com/datatap/datatap/internal/gateway"
	"github.com/datatap/datatap/internal/model"
)

// EndpointInput is the editable part of an endpoint.
type EndpointInput struct {
	Name        string                `json:"name"`
	Description string                `json:"description"`
	Method      string                `json:"method"`
	Path        string                `json:"path"`
	DatasetID   int64                 `json:"dataset_id"`
	Response    *model.ResponseConfig `json:"response"`
	RateLimit   int                   `json:"rate_limit"`
	IsActive    *bool                 `json:"is_active"`
}

// EndpointService manages gateway endpoint definitions.
type EndpointService struct {
	store  *config.Store
	prefix string
}

// NewEndpointService creates an EndpointService that places every route
// under prefix.
func NewEndpointService(store *config.Store, prefix string) *EndpointService {
	if prefix == "" {
		prefix = gateway.DefaultPrefix
	}
	return &EndpointService{store: store, prefix: prefix}
}

// List returns all endpoints for admins and active ones for everyone else.
func (s *EndpointService) List(ctx context.Context, viewer *model.User) ([]model.Endpoint, error) {
	return s.store.ListEndpoints(ctx, !viewer.IsAdmin())
}

// Get returns one endpoint. Inactive endpoints are hidden from non-admins.
func (s *EndpointService) Get(ctx context.Context, id int64, viewer *model.User) (*model.Endpoint, error) {
	ep, err := s.store.GetEndpoint(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ep.IsActive && !viewer.IsAdmin() {
		return nil, config.ErrNotFound
	}
	return ep, nil
}

// Create validates and stores a new endpoint.
func (s *EndpointService) Create(ctx context.Context, in EndpointInput, createdBy *int64) (*model.Endpoint, error) {
	ep := &model.Endpoint{CreatedBy: createdBy, IsActive: true}
	if err := s.apply(ctx, ep, in); err != nil {
		return nil, err
	}
	if err := s.store.CreateEndpoint(ctx, ep); err != nil {
		return nil, routeConflict(err, ep)
	}
	return ep, nil
}

// Update replaces an endpoint's definition in place. Counters are kept.
func (s *EndpointService) Update(ctx context.Context, id int64, in EndpointInput) (*model.Endpoint, error) {
	ep, err := s.store.GetEndpoint(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.apply(ctx, ep, in); err != nil {
		return nil, err
	}
	if err := s.store.UpdateEndpoint(ctx, ep); err != nil {
		return nil, routeConflict(err, ep)
	}
	return s.store.GetEndpoint(ctx, id)
}

// SetActive enables or disables an endpoint.
func (s *EndpointService) SetActive(ctx context.Context, id int64, active bool) (*model.Endpoint, error) {
	if err := s.store.SetEndpointActive(ctx, id, active); err != nil {
		return nil, err
	}
	return s.store.GetEndpoint(ctx, id)
}

// Delete removes an endpoint and drops it from every key's allow-list.
func (s *EndpointService) Delete(ctx context.Context, id int64) error {
	return s.store.DeleteEndpoint(ctx, id)
}

func (s *EndpointService) apply(ctx context.Context, ep *model.Endpoint, in EndpointInput) error {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return invalid("name is required")
	}
	method := strings.ToUpper(strings.TrimSpace(in.Method))
	if method == "" {
		method = "GET"
	}
	if !model.ValidMethod(method) {
		return invalid("method must be one of %s", strings.Join(model.EndpointMethods, ", "))
	}
	p, err := gateway.NormalizePath(s.prefix, in.Path)
	if err != nil {
		return invalid("%v", err)
	}
	if in.DatasetID <= 0 {
		return invalid("dataset_id is required")
	}
	if in.RateLimit < 0 {
		return invalid("rate_limit cannot be negative")
	}
	if _, err := s.store.GetDatasetMeta(ctx, in.DatasetID); err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return invalid("dataset %d does not exist", in.DatasetID)
		}
		return err
	}

	resp := model.DefaultResponseConfig()
	if in.Response != nil {
		resp = *in.Response
	}
	if resp.PageSize < 0 {
		return invalid("page_size cannot be negative")
	}
	if resp.PageSize > model.MaxPageSize {
		return invalid("page_size cannot exceed %d", model.MaxPageSize)
	}

	ep.Name = name
	ep.Description = in.Description
	ep.Method = method
	ep.Path = p
	ep.DatasetID = in.DatasetID
	ep.Response = resp
	ep.RateLimit = in.RateLimit
	if in.IsActive != nil {
		ep.IsActive = *in.IsActive
	}
	return nil
}

// routeConflict turns a unique violation on (path, method) into a
// validation error.
func routeConflict(err error, ep *model.Endpoint) error {
	if errors.Is(err, config.ErrConflict) {
		return invalid("an endpoint for %s %s already exists", ep.Method, ep.Path)
	}
	return err
}
