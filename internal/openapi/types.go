package openapi

import (
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/datatap/datatap/internal/dataset"
)

// fieldSchema maps an inferred dataset field type to an OpenAPI schema.
// Datasets are schemaless past their first record, so every field is
// nullable and unknown types fall back to an unconstrained schema.
func fieldSchema(typ string) *openapi3.SchemaRef {
	var s *openapi3.Schema
	switch typ {
	case dataset.TypeString:
		s = openapi3.NewStringSchema()
	case dataset.TypeNumber:
		s = openapi3.NewFloat64Schema()
	case dataset.TypeBoolean:
		s = openapi3.NewBoolSchema()
	case dataset.TypeObject:
		s = openapi3.NewObjectSchema()
	case dataset.TypeArray:
		s = openapi3.NewArraySchema()
		s.Items = &openapi3.SchemaRef{Value: &openapi3.Schema{}}
	default:
		s = &openapi3.Schema{}
	}
	s.Nullable = true
	return &openapi3.SchemaRef{Value: s}
}

// projectFields applies an endpoint's include/exclude lists to a dataset
// schema. Include wins when both are set.
func projectFields(schema map[string]string, include, exclude []string) map[string]string {
	out := make(map[string]string, len(schema))
	switch {
	case len(include) > 0:
		for _, f := range include {
			if t, ok := schema[f]; ok {
				out[f] = t
			}
		}
	case len(exclude) > 0:
		drop := make(map[string]bool, len(exclude))
		for _, f := range exclude {
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

// schemaName turns an endpoint name into a component schema name.
func schemaName(name string) string {
	var b strings.Builder
	upper := true
	for _, r := range name {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			if upper {
				b.WriteString(strings.ToUpper(string(r)))
				upper = false
			} else {
				b.WriteRune(r)
			}
		default:
			upper = true
		}
	}
	if b.Len() == 0 {
		return "Endpoint"
	}
	return b.String()
}
