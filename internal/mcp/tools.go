package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/datatap/datatap/internal/config"
	"github.com/datatap/datatap/internal/gateway"
	"github.com/datatap/datatap/internal/model"
)

// registerTools registers the datatap tools on srv.
func (s *MCPServer) registerTools(srv *server.MCPServer) {
	srv.AddTool(
		mcp.NewTool("list_endpoints",
			mcp.WithDescription(
				"List the active dataset endpoints published by this gateway. Returns each "+
					"endpoint's id, name, method, path and paging settings. Use this first to "+
					"discover what data is available.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),
		s.handleListEndpoints,
	)

	srv.AddTool(
		mcp.NewTool("describe_endpoint",
			mcp.WithDescription(
				"Describe one endpoint: the fields its rows contain after projection, their "+
					"types, and the query parameters it accepts.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithNumber("id", mcp.Description("Endpoint id (from list_endpoints)")),
			mcp.WithString("path", mcp.Description("Endpoint path, used when id is omitted")),
			mcp.WithString("method", mcp.Description("HTTP method when looking up by path (default GET)")),
		),
		s.handleDescribeEndpoint,
	)

	srv.AddTool(
		mcp.NewTool("query_endpoint",
			mcp.WithDescription(
				"Call an endpoint through the gateway and return its JSON response. Every "+
					"filter is a case-insensitive substring match on one field; filters are "+
					"ANDed. Requires an API key, either configured on the server or passed here.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("path",
				mcp.Required(),
				mcp.Description("Endpoint path, e.g. /api/v1/people"),
			),
			mcp.WithString("method", mcp.Description("HTTP method the endpoint is registered under (default GET)")),
			mcp.WithObject("filters", mcp.Description("Field filters, e.g. {\"name\": \"ada\"}")),
			mcp.WithString("sort", mcp.Description("Field to sort by")),
			mcp.WithString("order", mcp.Description("asc or desc"), mcp.Enum("asc", "desc")),
			mcp.WithNumber("page", mcp.Description("Page number, starting at 1")),
			mcp.WithNumber("limit", mcp.Description(fmt.Sprintf("Rows per page, at most %d", model.MaxPageSize))),
			mcp.WithString("api_key", mcp.Description("API key to use instead of the server default")),
		),
		s.handleQueryEndpoint,
	)
}

type endpointSummary struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Method      string `json:"method"`
	Path        string `json:"path"`
	DatasetID   int64  `json:"dataset_id"`
	Paginated   bool   `json:"paginated"`
	PageSize    int    `json:"page_size,omitempty"`
	Description string `json:"description,omitempty"`
}

func summarize(ep model.Endpoint) endpointSummary {
	sum := endpointSummary{
		ID:          ep.ID,
		Name:        ep.Name,
		Method:      ep.Method,
		Path:        ep.Path,
		DatasetID:   ep.DatasetID,
		Paginated:   ep.Response.Pagination,
		Description: ep.Description,
	}
	if ep.Response.Pagination {
		sum.PageSize = ep.Response.EffectivePageSize()
	}
	return sum
}

func (s *MCPServer) handleListEndpoints(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	endpoints, err := s.catalog.ListEndpoints(ctx, true)
	if err != nil {
		return toolError("failed to list endpoints: %v", err)
	}
	out := make([]endpointSummary, len(endpoints))
	for i, ep := range endpoints {
		out[i] = summarize(ep)
	}
	return successJSON(map[string]interface{}{
		"prefix":    s.gw.Prefix(),
		"endpoints": out,
	})
}

func (s *MCPServer) handleDescribeEndpoint(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ep, err := s.findEndpoint(ctx, request)
	if err != nil {
		return toolError("%v", err)
	}

	fields := map[string]string{}
	if ds, err := s.catalog.GetDatasetMeta(ctx, ep.DatasetID); err == nil {
		fields = projectSchema(ds.Schema, ep.Response)
	} else if !errors.Is(err, config.ErrNotFound) {
		return toolError("failed to load dataset: %v", err)
	}

	params := []string{"sort", "order"}
	if ep.Response.Pagination {
		params = append(params, "page", "limit")
	}
	return successJSON(map[string]interface{}{
		"endpoint":       summarize(*ep),
		"fields":         fields,
		"include_fields": ep.Response.IncludeFields,
		"exclude_fields": ep.Response.ExcludeFields,
		"parameters":     params,
		"auth_header":    gateway.HeaderAPIKey,
	})
}

// findEndpoint looks an active endpoint up by id, or by path and method.
func (s *MCPServer) findEndpoint(ctx context.Context, request mcp.CallToolRequest) (*model.Endpoint, error) {
	if id := request.GetInt("id", 0); id > 0 {
		ep, err := s.catalog.GetEndpoint(ctx, int64(id))
		if err != nil || !ep.IsActive {
			return nil, fmt.Errorf("endpoint %d not found", id)
		}
		return ep, nil
	}

	path := request.GetString("path", "")
	if path == "" {
		return nil, errors.New("pass either id or path")
	}
	norm, err := gateway.NormalizePath(s.gw.Prefix(), path)
	if err != nil {
		return nil, err
	}
	method := strings.ToUpper(request.GetString("method", "GET"))

	endpoints, err := s.catalog.ListEndpoints(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list endpoints: %w", err)
	}
	for i := range endpoints {
		if endpoints[i].Path == norm && endpoints[i].Method == method {
			return &endpoints[i], nil
		}
	}
	return nil, fmt.Errorf("no active endpoint for %s %s", method, norm)
}

func (s *MCPServer) handleQueryEndpoint(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return toolError("missing required parameter %q", "path")
	}
	norm, err := gateway.NormalizePath(s.gw.Prefix(), path)
	if err != nil {
		return toolError("%v", err)
	}

	key := request.GetString("api_key", s.apiKey)
	if key == "" {
		return toolError("no API key: pass api_key or start the server with one")
	}

	q := url.Values{}
	for field, v := range getObjectArg(request, "filters") {
		if gateway.IsReservedParam(field) {
			return toolError("%q is a reserved parameter and cannot be used as a filter", field)
		}
		q.Set(field, fmt.Sprint(v))
	}
	for _, name := range []string{"sort", "order"} {
		if v := request.GetString(name, ""); v != "" {
			q.Set(name, v)
		}
	}
	for _, name := range []string{"page", "limit"} {
		if v := request.GetInt(name, 0); v > 0 {
			q.Set(name, strconv.Itoa(v))
		}
	}

	resp := s.gw.Serve(ctx, gateway.Request{
		Method:     strings.ToUpper(request.GetString("method", "GET")),
		Path:       norm,
		Credential: key,
		Query:      q,
		IP:         "mcp",
		UserAgent:  "datatap-mcp",
	})
	if resp.Status != http.StatusOK {
		return toolError("gateway returned %d: %s", resp.Status, resp.Body.Error)
	}
	return successJSON(resp.Body)
}

// projectSchema applies an endpoint's include/exclude lists to a schema.
func projectSchema(schema map[string]string, cfg model.ResponseConfig) map[string]string {
	out := map[string]string{}
	switch {
	case len(cfg.IncludeFields) > 0:
		for _, f := range cfg.IncludeFields {
			if t, ok := schema[f]; ok {
				out[f] = t
			}
		}
	case len(cfg.ExcludeFields) > 0:
		drop := map[string]bool{}
		for _, f := range cfg.ExcludeFields {
			drop[f] = true
		}
		for f, t := range schema {
			if !drop[f] {
				out[f] = t
			}
		}
	default:
		for f, t := range schema {
			out[f] = t
		}
	}
	return out
}

// getObjectArg extracts a map argument from the tool request. Returns nil if
// the key is not present or not a map.
func getObjectArg(request mcp.CallToolRequest, key string) map[string]interface{} {
	args := request.GetArguments()
	if args == nil {
		return nil
	}
	m, _ := args[key].(map[string]interface{})
	return m
}

// successJSON marshals data to JSON and returns it as a tool result.
func successJSON(data interface{}) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}

// toolError returns a tool-level error result. The client sees the message
// and can correct itself; the session stays open.
func toolError(format string, args ...interface{}) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(fmt.Sprintf(format, args...)), nil
}
