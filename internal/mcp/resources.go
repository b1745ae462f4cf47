package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	datasetsURI      = "datatap://datasets"
	datasetURIPrefix = "datatap://datasets/"
)

// registerResources adds the dataset resources to srv.
func (s *MCPServer) registerResources(srv *server.MCPServer) {
	srv.AddResource(
		mcp.NewResource(
			datasetsURI,
			"Datasets",
			mcp.WithResourceDescription("Every dataset with its record count, origin and inferred schema."),
			mcp.WithMIMEType("application/json"),
		),
		s.handleDatasetsResource,
	)

	srv.AddResourceTemplate(
		mcp.NewResourceTemplate(
			datasetURIPrefix+"{id}/schema",
			"Dataset Schema",
			mcp.WithTemplateDescription("Field names and primitive types of one dataset, inferred from its first record."),
			mcp.WithTemplateMIMEType("application/json"),
		),
		s.handleSchemaResource,
	)
}

func (s *MCPServer) handleDatasetsResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	datasets, err := s.catalog.ListDatasets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}

	type datasetInfo struct {
		ID          int64             `json:"id"`
		Name        string            `json:"name"`
		Description string            `json:"description,omitempty"`
		RecordCount int               `json:"record_count"`
		Source      string            `json:"source"`
		IsActive    bool              `json:"is_active"`
		Schema      map[string]string `json:"schema"`
	}
	items := make([]datasetInfo, len(datasets))
	for i, ds := range datasets {
		items[i] = datasetInfo{
			ID:          ds.ID,
			Name:        ds.Name,
			Description: ds.Description,
			RecordCount: ds.RecordCount,
			Source:      ds.Source,
			IsActive:    ds.IsActive,
			Schema:      ds.Schema,
		}
	}
	return jsonContents(datasetsURI, items)
}

func (s *MCPServer) handleSchemaResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := request.Params.URI
	raw := strings.TrimSuffix(strings.TrimPrefix(uri, datasetURIPrefix), "/schema")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || raw == uri {
		return nil, fmt.Errorf("invalid schema URI %q: expected %s{id}/schema", uri, datasetURIPrefix)
	}

	ds, err := s.catalog.GetDatasetMeta(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("dataset %d: %w", id, err)
	}
	return jsonContents(uri, map[string]interface{}{
		"id":     ds.ID,
		"name":   ds.Name,
		"schema": ds.Schema,
	})
}

func jsonContents(uri string, v interface{}) ([]mcp.ResourceContents, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}
