package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datatap/datatap/internal/config"
	"github.com/datatap/datatap/internal/gateway"
	"github.com/datatap/datatap/internal/model"
	"github.com/datatap/datatap/internal/service"
)

type fixture struct {
	srv   *MCPServer
	store *config.Store
	ep    *model.Endpoint
	ds    *model.Dataset
	key   string
}

func newFixture(t *testing.T, withDefaultKey bool) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := config.NewStore("")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ds := &model.Dataset{
		Name: "people",
		Records: []model.Record{
			{"name": "Ada", "city": "London", "age": float64(36)},
			{"name": "Alan", "city": "Wilmslow", "age": float64(41)},
			{"name": "Grace", "city": "Arlington", "age": float64(85)},
		},
		Schema:   map[string]string{"name": "string", "city": "string", "age": "number"},
		IsActive: true,
	}
	require.NoError(t, store.CreateDataset(ctx, ds))

	ep := &model.Endpoint{
		Name:      "People",
		Method:    "GET",
		Path:      "/api/v1/people",
		DatasetID: ds.ID,
		Response:  model.ResponseConfig{Pagination: true, PageSize: 2, ExcludeFields: []string{"age"}},
		IsActive:  true,
	}
	require.NoError(t, store.CreateEndpoint(ctx, ep))

	issued, err := service.NewKeyService(store, false).Create(ctx, service.KeyInput{Name: "agent", Scope: model.ScopeAll}, nil)
	require.NoError(t, err)

	gw := gateway.New(store, nil, gateway.DefaultPrefix, logger)
	defaultKey := ""
	if withDefaultKey {
		defaultKey = issued.Key
	}
	return &fixture{
		srv:   NewMCPServer(store, gw, defaultKey, "test", logger),
		store: store,
		ep:    ep,
		ds:    ds,
		key:   issued.Key,
	}
}

func callTool(args map[string]interface{}) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return text.Text
}

func TestListEndpoints(t *testing.T) {
	f := newFixture(t, true)

	// Inactive endpoints are hidden.
	hidden := &model.Endpoint{
		Name: "hidden", Method: "GET", Path: "/api/v1/hidden",
		DatasetID: f.ds.ID, Response: model.DefaultResponseConfig(), IsActive: false,
	}
	require.NoError(t, f.store.CreateEndpoint(context.Background(), hidden))

	res, err := f.srv.handleListEndpoints(context.Background(), callTool(nil))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	var out struct {
		Prefix    string            `json:"prefix"`
		Endpoints []endpointSummary `json:"endpoints"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &out))
	assert.Equal(t, "/api/v1", out.Prefix)
	require.Len(t, out.Endpoints, 1)
	assert.Equal(t, "/api/v1/people", out.Endpoints[0].Path)
	assert.Equal(t, 2, out.Endpoints[0].PageSize)
	assert.True(t, out.Endpoints[0].Paginated)
}

func TestDescribeEndpoint(t *testing.T) {
	f := newFixture(t, true)

	for name, args := range map[string]map[string]interface{}{
		"by id":   {"id": float64(f.ep.ID)},
		"by path": {"path": "people"},
	} {
		t.Run(name, func(t *testing.T) {
			res, err := f.srv.handleDescribeEndpoint(context.Background(), callTool(args))
			require.NoError(t, err)
			require.False(t, res.IsError, resultText(t, res))

			var out struct {
				Fields     map[string]string `json:"fields"`
				Parameters []string          `json:"parameters"`
				AuthHeader string            `json:"auth_header"`
			}
			require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &out))
			assert.Equal(t, map[string]string{"name": "string", "city": "string"}, out.Fields)
			assert.Equal(t, []string{"sort", "order", "page", "limit"}, out.Parameters)
			assert.Equal(t, "X-API-Key", out.AuthHeader)
		})
	}

	res, err := f.srv.handleDescribeEndpoint(context.Background(), callTool(map[string]interface{}{"path": "nope"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = f.srv.handleDescribeEndpoint(context.Background(), callTool(nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestQueryEndpoint(t *testing.T) {
	f := newFixture(t, true)

	res, err := f.srv.handleQueryEndpoint(context.Background(), callTool(map[string]interface{}{
		"path":    "/api/v1/people",
		"filters": map[string]interface{}{"name": "a"},
		"sort":    "name",
		"order":   "desc",
		"page":    float64(1),
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))

	var env model.Envelope
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &env))
	assert.True(t, env.Success)
	require.NotNil(t, env.Pagination)
	assert.Equal(t, 3, env.Pagination.Total)
	assert.True(t, env.Pagination.HasNext)

	rows, ok := env.Data.([]interface{})
	require.True(t, ok)
	require.Len(t, rows, 2)
	first := rows[0].(map[string]interface{})
	assert.Equal(t, "Grace", first["name"])
	assert.NotContains(t, first, "age")
}

func TestQueryEndpointErrors(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	tests := []struct {
		name string
		args map[string]interface{}
		want string
	}{
		{"no path", map[string]interface{}{"api_key": f.key}, "path"},
		{"no key", map[string]interface{}{"path": "people"}, "no API key"},
		{"bad key", map[string]interface{}{"path": "people", "api_key": "dtap_wrong"}, "401"},
		{"unknown endpoint", map[string]interface{}{"path": "ghosts", "api_key": f.key}, "404"},
		{"reserved filter", map[string]interface{}{
			"path": "people", "api_key": f.key,
			"filters": map[string]interface{}{"page": "2"},
		}, "reserved"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.srv.handleQueryEndpoint(ctx, callTool(tt.args))
			require.NoError(t, err)
			assert.True(t, res.IsError)
			assert.Contains(t, resultText(t, res), tt.want)
		})
	}
}

func TestDatasetResources(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	var req mcp.ReadResourceRequest
	req.Params.URI = datasetsURI
	contents, err := f.srv.handleDatasetsResource(ctx, req)
	require.NoError(t, err)
	require.Len(t, contents, 1)
	text := contents[0].(mcp.TextResourceContents)
	assert.Equal(t, "application/json", text.MIMEType)
	assert.Contains(t, text.Text, `"record_count": 3`)
	assert.NotContains(t, text.Text, "Ada")

	req.Params.URI = datasetURIPrefix + "1/schema"
	contents, err = f.srv.handleSchemaResource(ctx, req)
	require.NoError(t, err)
	text = contents[0].(mcp.TextResourceContents)
	assert.Contains(t, text.Text, `"city": "string"`)

	for _, uri := range []string{datasetURIPrefix + "abc/schema", "datatap://other"} {
		req.Params.URI = uri
		_, err = f.srv.handleSchemaResource(ctx, req)
		assert.Error(t, err, uri)
	}

	req.Params.URI = datasetURIPrefix + "99/schema"
	_, err = f.srv.handleSchemaResource(ctx, req)
	assert.ErrorIs(t, err, config.ErrNotFound)
}

func TestProjectSchema(t *testing.T) {
	schema := map[string]string{"a": "string", "b": "number", "c": "boolean"}

	assert.Equal(t, schema, projectSchema(schema, model.ResponseConfig{}))
	assert.Equal(t, map[string]string{"a": "string"},
		projectSchema(schema, model.ResponseConfig{IncludeFields: []string{"a", "zz"}, ExcludeFields: []string{"a"}}))
	assert.Equal(t, map[string]string{"a": "string", "c": "boolean"},
		projectSchema(schema, model.ResponseConfig{ExcludeFields: []string{"b"}}))
}

func TestReadOnlyAnnotation(t *testing.T) {
	ann := readOnlyAnnotation()
	require.NotNil(t, ann.ReadOnlyHint)
	assert.True(t, *ann.ReadOnlyHint)
	require.NotNil(t, ann.IdempotentHint)
	assert.True(t, *ann.IdempotentHint)
}
