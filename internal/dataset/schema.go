package dataset

import (
	"encoding/json"

	"github.com/datatap/datatap/internal/model"
)

// Primitive type names reported in dataset schemas.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeObject  = "object"
	TypeArray   = "array"
	TypeNull    = "null"
)

// InferSchema maps each field of the first record to its primitive type.
// Later records are not inspected, so heterogeneous datasets report only the
// shape of their first row.
func InferSchema(records []model.Record) map[string]string {
	schema := map[string]string{}
	if len(records) == 0 {
		return schema
	}
	for field, v := range records[0] {
		schema[field] = TypeOf(v)
	}
	return schema
}

// TypeOf returns the primitive type name of a decoded JSON value.
func TypeOf(v interface{}) string {
	switch v.(type) {
	case nil:
		return TypeNull
	case bool:
		return TypeBoolean
	case float64, float32, int, int32, int64, uint, uint32, uint64, json.Number:
		return TypeNumber
	case map[string]interface{}:
		return TypeObject
	case []interface{}:
		return TypeArray
	default:
		return TypeString
	}
}
