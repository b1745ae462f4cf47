package dataset

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datatap/datatap/internal/model"
)

func TestParseJSON_Array(t *testing.T) {
	records, err := ParseJSON([]byte(`[{"id":1,"name":"a"},{"id":2,"name":"b"}]`))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, float64(2), records[1]["id"])
	assert.Equal(t, "b", records[1]["name"])
}

func TestParseJSON_SingleObject(t *testing.T) {
	records, err := ParseJSON([]byte(`  {"id": 1, "tags": ["x"]}`))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, []interface{}{"x"}, records[0]["tags"])
}

func TestParseJSON_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", "   "},
		{"scalar", `42`},
		{"array of scalars", `[1, 2]`},
		{"array with null", `[{"a":1}, null]`},
		{"malformed", `[{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseJSON([]byte(tt.input))
			assert.Error(t, err)
		})
	}
}

func TestParseJSON_EmptyArray(t *testing.T) {
	records, err := ParseJSON([]byte(`[]`))
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestParseCSV_CoercesNumbers(t *testing.T) {
	input := "\ufeffid, name ,score,zip\n1,alice,9.5,007\n2,bob,-3,1e3\n3,\"carol, jr\",n/a,12a\n"
	records, err := ParseCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, float64(1), records[0]["id"])
	assert.Equal(t, "alice", records[0]["name"])
	assert.Equal(t, 9.5, records[0]["score"])
	assert.Equal(t, float64(7), records[0]["zip"])
	assert.Equal(t, float64(-3), records[1]["score"])
	assert.Equal(t, float64(1000), records[1]["zip"])
	assert.Equal(t, "carol, jr", records[2]["name"])
	assert.Equal(t, "n/a", records[2]["score"])
	assert.Equal(t, "12a", records[2]["zip"])
}

func TestParseCSV_Errors(t *testing.T) {
	_, err := ParseCSV(strings.NewReader(""))
	assert.Error(t, err)

	_, err = ParseCSV(strings.NewReader("a,,c\n1,2,3\n"))
	assert.Error(t, err, "empty header column")

	_, err = ParseCSV(strings.NewReader("a,b\n1,2,3\n"))
	assert.Error(t, err, "ragged row")
}

func TestParseCSV_HeaderOnly(t *testing.T) {
	records, err := ParseCSV(strings.NewReader("a,b\n"))
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestParse_ByExtension(t *testing.T) {
	records, source, err := Parse("people.JSON", []byte(`[{"a":1}]`))
	require.NoError(t, err)
	assert.Equal(t, model.SourceJSONUpload, source)
	assert.Len(t, records, 1)

	records, source, err = Parse("people.csv", []byte("a\n1\n"))
	require.NoError(t, err)
	assert.Equal(t, model.SourceCSVUpload, source)
	assert.Len(t, records, 1)

	_, _, err = Parse("people.xml", []byte("<a/>"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestInferSchema_FirstRecordOnly(t *testing.T) {
	records := []model.Record{
		{"id": float64(1), "name": "a", "ok": true, "meta": map[string]interface{}{}, "tags": []interface{}{}, "x": nil},
		{"id": "not a number", "extra": "ignored"},
	}
	schema := InferSchema(records)
	assert.Equal(t, map[string]string{
		"id":   TypeNumber,
		"name": TypeString,
		"ok":   TypeBoolean,
		"meta": TypeObject,
		"tags": TypeArray,
		"x":    TypeNull,
	}, schema)

	assert.Empty(t, InferSchema(nil))
}
