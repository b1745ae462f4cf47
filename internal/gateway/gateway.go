// Package gateway serves generated dataset endpoints. A request passes the
// key validator, the endpoint resolver, the access checker and the row
// pipeline in that order; whatever the outcome, exactly one usage event is
// handed to the recorder after the response is built.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/datatap/datatap/internal/config"
	"github.com/datatap/datatap/internal/model"
	"github.com/datatap/datatap/internal/telemetry"
)

// DatasetStore loads the rows behind an endpoint.
type DatasetStore interface {
	GetDataset(ctx context.Context, id int64) (*model.Dataset, error)
}

// Store is everything the gateway reads from the config store.
type Store interface {
	KeyStore
	EndpointStore
	DatasetStore
}

// Sink receives usage events. *Recorder is the production implementation.
type Sink interface {
	Record(ev Event) bool
}

// Request is a transport-neutral gateway call.
type Request struct {
	Method     string
	Path       string
	Credential string
	Query      url.Values
	IP         string
	UserAgent  string
}

// Response is the status and envelope to send back.
type Response struct {
	Status int
	Body   model.Envelope
}

// Gateway sequences the request pipeline.
type Gateway struct {
	validator *KeyValidator
	resolver  *Resolver
	datasets  DatasetStore
	sink      Sink
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a gateway over store. sink may be nil, in which case usage is
// not recorded.
func New(store Store, sink Sink, prefix string, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		validator: NewKeyValidator(store),
		resolver:  NewResolver(store, prefix),
		datasets:  store,
		sink:      sink,
		logger:    logger,
		now:       time.Now,
	}
}

// Prefix returns the route prefix generated endpoints live under.
func (g *Gateway) Prefix() string {
	return g.resolver.prefix
}

// Serve runs one gateway request to completion.
func (g *Gateway) Serve(ctx context.Context, req Request) Response {
	start := g.now()
	ev := Event{
		Method:    req.Method,
		Path:      req.Path,
		Query:     req.Query,
		IP:        req.IP,
		UserAgent: req.UserAgent,
	}

	resp, err := g.serve(ctx, req, &ev)
	if err != nil {
		ge := As(err)
		if ge.Kind == KindInternal {
			g.logger.Error("gateway request failed", "method", req.Method, "path", req.Path, "error", err)
		}
		resp = Response{Status: ge.Status, Body: model.ErrorEnvelope(ge.Message)}
		ev.Error = ge.Message
		telemetry.GatewayRequestsTotal.WithLabelValues(string(ge.Kind)).Inc()
	} else {
		telemetry.GatewayRequestsTotal.WithLabelValues("ok").Inc()
	}

	ev.Status = resp.Status
	ev.Latency = g.now().Sub(start)
	ev.At = start.UTC()
	if g.sink != nil {
		g.sink.Record(ev)
	}
	return resp
}

func (g *Gateway) serve(ctx context.Context, req Request, ev *Event) (Response, error) {
	key, err := g.validator.Validate(ctx, req.Credential)
	if err != nil {
		return Response{}, err
	}
	ev.APIKeyID = &key.ID
	ev.UserID = key.UserID

	ep, err := g.resolver.Resolve(ctx, req.Method, req.Path)
	if err != nil {
		return Response{}, err
	}
	ev.EndpointID = &ep.ID

	if err := CheckAccess(key, ep); err != nil {
		return Response{}, err
	}

	ds, err := g.datasets.GetDataset(ctx, ep.DatasetID)
	if errors.Is(err, config.ErrNotFound) || (err == nil && !ds.IsActive) {
		return Response{}, newError(KindEndpointNotFound, http.StatusNotFound, "Endpoint not found")
	}
	if err != nil {
		return Response{}, Internal(err)
	}

	res := Run(ds.Records, ep.Response, req.Query)
	return Response{
		Status: http.StatusOK,
		Body: model.Envelope{
			Success:    true,
			Data:       res.Rows,
			Pagination: res.Pagination,
			Meta: &model.Meta{
				Endpoint:  ep.Name,
				Method:    ep.Method,
				Timestamp: g.now().UTC(),
			},
		},
	}, nil
}
