package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/datatap/datatap/internal/config"
	"github.com/datatap/datatap/internal/model"
)

// DefaultPrefix is the versioned prefix every generated endpoint lives under.
const DefaultPrefix = "/api/v1"

var routeChars = regexp.MustCompile(`^[A-Za-z0-9/_-]+$`)

// EndpointStore is the slice of the config store the resolver needs.
type EndpointStore interface {
	GetActiveEndpointByRoute(ctx context.Context, method, path string) (*model.Endpoint, error)
}

// Resolver maps (method, path) to an active endpoint.
type Resolver struct {
	store  EndpointStore
	prefix string
}

// NewResolver creates a resolver for endpoints under prefix.
func NewResolver(store EndpointStore, prefix string) *Resolver {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Resolver{store: store, prefix: prefix}
}

// Resolve returns the active endpoint for an exact method and path match.
// Missing and inactive endpoints are indistinguishable to the caller.
func (r *Resolver) Resolve(ctx context.Context, method, path string) (*model.Endpoint, error) {
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	ep, err := r.store.GetActiveEndpointByRoute(ctx, strings.ToUpper(method), path)
	if errors.Is(err, config.ErrNotFound) {
		return nil, newError(KindEndpointNotFound, http.StatusNotFound, "Endpoint not found")
	}
	if err != nil {
		return nil, Internal(err)
	}
	return ep, nil
}

// NormalizePath turns an admin-supplied route into its stored form:
// prefix + "/" + segments, no trailing slash, no empty segments. The part
// after the prefix may only contain letters, digits, '/', '_' and '-'.
func NormalizePath(prefix, p string) (string, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	p = "/" + strings.Trim(strings.TrimSpace(p), "/")
	if p == prefix {
		p = ""
	}
	p = strings.Trim(strings.TrimPrefix(p, prefix+"/"), "/")

	if p == "" {
		return "", fmt.Errorf("path is required")
	}
	if !routeChars.MatchString(p) {
		return "", fmt.Errorf("path %q may only contain letters, digits, '/', '_' and '-'", p)
	}
	if strings.Contains(p, "//") {
		return "", fmt.Errorf("path %q contains an empty segment", p)
	}
	return prefix + "/" + p, nil
}
