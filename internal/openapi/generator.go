// Package openapi describes the gateway's generated endpoints as an OpenAPI
// 3.1 document.
package openapi

import (
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/datatap/datatap/internal/gateway"
	"github.com/datatap/datatap/internal/model"
)

// GenerateGatewaySpec builds a document covering every active endpoint.
// Endpoints whose dataset is missing from datasets are documented with an
// untyped record schema.
func GenerateGatewaySpec(endpoints []model.Endpoint, datasets []model.Dataset, prefix string) *openapi3.T {
	if prefix == "" {
		prefix = gateway.DefaultPrefix
	}
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "datatap gateway",
			Description: fmt.Sprintf("Read-only dataset endpoints served under %s. Every request needs an API key in the %s header.", prefix, gateway.HeaderAPIKey),
			Version:     "1.0.0",
		},
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = openapi3.SecuritySchemes{}
	doc.Components = &components

	doc.Components.SecuritySchemes["apiKey"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type: "apiKey",
			In:   "header",
			Name: gateway.HeaderAPIKey,
		},
	}
	doc.Security = openapi3.SecurityRequirements{{"apiKey": {}}}

	doc.Components.Schemas["ErrorResponse"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type:     &openapi3.Types{"object"},
			Required: []string{"success", "error"},
			Properties: openapi3.Schemas{
				"success": &openapi3.SchemaRef{Value: openapi3.NewBoolSchema()},
				"error":   &openapi3.SchemaRef{Value: openapi3.NewStringSchema()},
			},
		},
	}
	doc.Components.Schemas["Pagination"] = paginationSchema()
	doc.Components.Schemas["Meta"] = metaSchema()

	byID := make(map[int64]*model.Dataset, len(datasets))
	for i := range datasets {
		byID[datasets[i].ID] = &datasets[i]
	}

	// Stable output regardless of store ordering.
	sorted := make([]model.Endpoint, 0, len(endpoints))
	for _, ep := range endpoints {
		if ep.IsActive {
			sorted = append(sorted, ep)
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Path != sorted[j].Path {
			return sorted[i].Path < sorted[j].Path
		}
		return sorted[i].Method < sorted[j].Method
	})

	doc.Paths = openapi3.NewPaths()
	used := map[string]int{}
	for _, ep := range sorted {
		addEndpoint(doc, ep, byID[ep.DatasetID], used)
	}
	return doc
}

// addEndpoint registers one endpoint's operation and record schema.
func addEndpoint(doc *openapi3.T, ep model.Endpoint, ds *model.Dataset, used map[string]int) {
	name := schemaName(ep.Name)
	if n := used[name]; n > 0 {
		name = fmt.Sprintf("%s%d", name, n+1)
	}
	used[schemaName(ep.Name)]++

	var fields map[string]string
	if ds != nil {
		fields = projectFields(ds.Schema, ep.Response.IncludeFields, ep.Response.ExcludeFields)
	}
	doc.Components.Schemas[name] = recordSchema(fields)

	item := doc.Paths.Value(ep.Path)
	if item == nil {
		item = &openapi3.PathItem{}
		doc.Paths.Set(ep.Path, item)
	}
	item.SetOperation(ep.Method, endpointOperation(ep, name, ds))
}

func recordSchema(fields map[string]string) *openapi3.SchemaRef {
	s := openapi3.NewObjectSchema()
	s.Properties = openapi3.Schemas{}
	for f, t := range fields {
		s.Properties[f] = fieldSchema(t)
	}
	return &openapi3.SchemaRef{Value: s}
}

func endpointOperation(ep model.Endpoint, component string, ds *model.Dataset) *openapi3.Operation {
	params := reservedParameters(ep.Response)
	if ds != nil {
		fields := make([]string, 0, len(ds.Schema))
		for f := range ds.Schema {
			if !gateway.IsReservedParam(f) {
				fields = append(fields, f)
			}
		}
		sort.Strings(fields)
		for _, f := range fields {
			params = append(params, &openapi3.ParameterRef{
				Value: openapi3.NewQueryParameter(f).
					WithDescription(fmt.Sprintf("Keep rows whose %s contains this value (case-insensitive).", f)).
					WithSchema(openapi3.NewStringSchema()),
			})
		}
	}

	body := openapi3.NewObjectSchema()
	body.Required = []string{"success", "data", "meta"}
	body.Properties = openapi3.Schemas{
		"success": &openapi3.SchemaRef{Value: openapi3.NewBoolSchema()},
		"data": &openapi3.SchemaRef{Value: &openapi3.Schema{
			Type:  &openapi3.Types{"array"},
			Items: openapi3.NewSchemaRef("#/components/schemas/"+component, nil),
		}},
		"meta": openapi3.NewSchemaRef("#/components/schemas/Meta", nil),
	}
	if ep.Response.Pagination {
		body.Properties["pagination"] = openapi3.NewSchemaRef("#/components/schemas/Pagination", nil)
	}

	desc := ep.Description
	if desc == "" {
		desc = fmt.Sprintf("Rows of the %s endpoint.", ep.Name)
	}
	return &openapi3.Operation{
		Tags:        []string{ep.Name},
		Summary:     ep.Name,
		Description: desc,
		OperationID: fmt.Sprintf("%s_%s", strings.ToLower(ep.Method), component),
		Parameters:  params,
		Responses:   newResponses("Matching rows", &openapi3.SchemaRef{Value: body}),
	}
}

func reservedParameters(cfg model.ResponseConfig) openapi3.Parameters {
	params := openapi3.Parameters{
		&openapi3.ParameterRef{
			Value: openapi3.NewQueryParameter("sort").
				WithDescription("Field to sort by.").
				WithSchema(openapi3.NewStringSchema()),
		},
		&openapi3.ParameterRef{
			Value: openapi3.NewQueryParameter("order").
				WithDescription("Sort direction.").
				WithSchema(openapi3.NewStringSchema().WithEnum("asc", "desc")),
		},
	}
	if !cfg.Pagination {
		return params
	}
	return append(params,
		&openapi3.ParameterRef{
			Value: openapi3.NewQueryParameter("page").
				WithDescription("Page number, starting at 1.").
				WithSchema(openapi3.NewIntegerSchema().WithMin(1).WithDefault(1)),
		},
		&openapi3.ParameterRef{
			Value: openapi3.NewQueryParameter("limit").
				WithDescription(fmt.Sprintf("Rows per page, at most %d.", model.MaxPageSize)).
				WithSchema(openapi3.NewIntegerSchema().WithMin(1).WithMax(model.MaxPageSize).WithDefault(cfg.EffectivePageSize())),
		},
	)
}

func paginationSchema() *openapi3.SchemaRef {
	s := openapi3.NewObjectSchema()
	s.Properties = openapi3.Schemas{
		"page":    &openapi3.SchemaRef{Value: openapi3.NewIntegerSchema()},
		"limit":   &openapi3.SchemaRef{Value: openapi3.NewIntegerSchema()},
		"total":   &openapi3.SchemaRef{Value: openapi3.NewIntegerSchema()},
		"pages":   &openapi3.SchemaRef{Value: openapi3.NewIntegerSchema()},
		"hasNext": &openapi3.SchemaRef{Value: openapi3.NewBoolSchema()},
		"hasPrev": &openapi3.SchemaRef{Value: openapi3.NewBoolSchema()},
	}
	return &openapi3.SchemaRef{Value: s}
}

func metaSchema() *openapi3.SchemaRef {
	s := openapi3.NewObjectSchema()
	s.Properties = openapi3.Schemas{
		"endpoint":  &openapi3.SchemaRef{Value: openapi3.NewStringSchema()},
		"method":    &openapi3.SchemaRef{Value: openapi3.NewStringSchema()},
		"timestamp": &openapi3.SchemaRef{Value: openapi3.NewDateTimeSchema()},
	}
	return &openapi3.SchemaRef{Value: s}
}

// newResponses builds the success response plus the gateway's error set.
func newResponses(description string, schema *openapi3.SchemaRef) *openapi3.Responses {
	responses := openapi3.NewResponses()

	successDesc := description
	responses.Set("200", &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &successDesc,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	})

	errorRef := openapi3.NewSchemaRef("#/components/schemas/ErrorResponse", nil)
	for _, e := range []struct{ code, desc string }{
		{"401", "Missing or unknown API key"},
		{"403", "Key revoked, expired or not scoped to this endpoint"},
		{"404", "No active endpoint at this route"},
		{"500", "Internal server error"},
	} {
		desc := e.desc
		responses.Set(e.code, &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: &desc,
				Content:     openapi3.NewContentWithJSONSchemaRef(errorRef),
			},
		})
	}
	return responses
}
