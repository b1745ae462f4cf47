package gateway

import (
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datatap/datatap/internal/model"
)

func abcRows() []model.Record {
	return []model.Record{
		{"id": float64(1), "name": "a"},
		{"id": float64(2), "name": "b"},
		{"id": float64(3), "name": "c"},
	}
}

func paged(size int) model.ResponseConfig {
	return model.ResponseConfig{Pagination: true, PageSize: size}
}

func ids(rows []model.Record) []interface{} {
	out := make([]interface{}, len(rows))
	for i, r := range rows {
		out[i] = r["id"]
	}
	return out
}

func TestRun_SecondPage(t *testing.T) {
	res := Run(abcRows(), paged(2), url.Values{"page": {"2"}, "limit": {"2"}})

	assert.Equal(t, []model.Record{{"id": float64(3), "name": "c"}}, res.Rows)
	require.NotNil(t, res.Pagination)
	assert.Equal(t, model.Pagination{Page: 2, Limit: 2, Total: 3, Pages: 2, HasNext: false, HasPrev: true}, *res.Pagination)
}

func TestRun_FilterSubstringCaseInsensitive(t *testing.T) {
	res := Run(abcRows(), paged(10), url.Values{"name": {"A"}})
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, []interface{}{float64(1)}, ids(res.Rows))
}

func TestRun_FilterDropsRowsMissingField(t *testing.T) {
	rows := []model.Record{
		{"id": float64(1), "city": "Berlin"},
		{"id": float64(2)},
		{"id": float64(3), "city": "Bern"},
	}
	res := Run(rows, paged(10), url.Values{"city": {"ber"}})
	assert.Equal(t, []interface{}{float64(1), float64(3)}, ids(res.Rows))

	// Filters AND together.
	res = Run(rows, paged(10), url.Values{"city": {"ber"}, "id": {"3"}})
	assert.Equal(t, []interface{}{float64(3)}, ids(res.Rows))
}

func TestRun_FilterOnNonStringValues(t *testing.T) {
	rows := []model.Record{
		{"id": float64(10), "ok": true, "tags": []interface{}{"red"}},
		{"id": float64(2.5), "ok": false, "tags": []interface{}{"blue"}},
	}
	assert.Equal(t, 1, Run(rows, paged(10), url.Values{"id": {"10"}}).Total)
	assert.Equal(t, 1, Run(rows, paged(10), url.Values{"id": {"2.5"}}).Total)
	assert.Equal(t, 1, Run(rows, paged(10), url.Values{"ok": {"true"}}).Total)
	assert.Equal(t, 1, Run(rows, paged(10), url.Values{"tags": {"blu"}}).Total)
}

func TestRun_SortNumericNotLexical(t *testing.T) {
	rows := []model.Record{
		{"id": float64(10)}, {"id": float64(9)}, {"id": float64(100)},
	}
	res := Run(rows, paged(10), url.Values{"sort": {"id"}})
	assert.Equal(t, []interface{}{float64(9), float64(10), float64(100)}, ids(res.Rows))

	res = Run(rows, paged(10), url.Values{"sort": {"id"}, "order": {"desc"}})
	assert.Equal(t, []interface{}{float64(100), float64(10), float64(9)}, ids(res.Rows))
}

func TestRun_SortMissingFieldLastAndStable(t *testing.T) {
	rows := []model.Record{
		{"id": float64(1)},
		{"id": float64(2), "rank": "b"},
		{"id": float64(3), "rank": "a"},
		{"id": float64(4)},
		{"id": float64(5), "rank": "a"},
	}
	res := Run(rows, paged(10), url.Values{"sort": {"rank"}})
	assert.Equal(t, []interface{}{float64(3), float64(5), float64(2), float64(1), float64(4)}, ids(res.Rows))

	res = Run(rows, paged(10), url.Values{"sort": {"rank"}, "order": {"desc"}})
	assert.Equal(t, []interface{}{float64(2), float64(3), float64(5), float64(1), float64(4)}, ids(res.Rows))
}

func TestRun_SortBooleans(t *testing.T) {
	rows := []model.Record{
		{"id": float64(1), "ok": true}, {"id": float64(2), "ok": false},
	}
	res := Run(rows, paged(10), url.Values{"sort": {"ok"}})
	assert.Equal(t, []interface{}{float64(2), float64(1)}, ids(res.Rows))
}

func TestRun_PageAndLimitDefaults(t *testing.T) {
	rows := make([]model.Record, 250)
	for i := range rows {
		rows[i] = model.Record{"id": float64(i)}
	}

	tests := []struct {
		name      string
		query     url.Values
		wantPage  int
		wantLimit int
	}{
		{"defaults", url.Values{}, 1, 10},
		{"invalid page", url.Values{"page": {"abc"}}, 1, 10},
		{"zero page", url.Values{"page": {"0"}}, 1, 10},
		{"negative limit", url.Values{"limit": {"-5"}}, 1, 10},
		{"clamped limit", url.Values{"limit": {"1000"}}, 1, model.MaxPageSize},
		{"explicit", url.Values{"page": {"3"}, "limit": {"20"}}, 3, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Run(rows, model.ResponseConfig{Pagination: true}, tt.query)
			require.NotNil(t, res.Pagination)
			assert.Equal(t, tt.wantPage, res.Pagination.Page)
			assert.Equal(t, tt.wantLimit, res.Pagination.Limit)
			assert.Len(t, res.Rows, tt.wantLimit)
			assert.Equal(t, 250, res.Pagination.Total)
		})
	}
}

func TestRun_PaginationInvariants(t *testing.T) {
	for total := 0; total <= 7; total++ {
		rows := make([]model.Record, total)
		for i := range rows {
			rows[i] = model.Record{"id": float64(i)}
		}
		for page := 1; page <= 4; page++ {
			q := url.Values{"page": {strconv.Itoa(page)}, "limit": {"3"}}
			p := Run(rows, paged(3), q).Pagination
			require.NotNil(t, p)
			offset := (page - 1) * 3
			assert.Equal(t, (total+2)/3, p.Pages, "pages total=%d", total)
			assert.Equal(t, offset+3 < total, p.HasNext, "hasNext total=%d page=%d", total, page)
			assert.Equal(t, page > 1, p.HasPrev)
		}
	}
}

func TestRun_PageBeyondEndIsEmpty(t *testing.T) {
	res := Run(abcRows(), paged(2), url.Values{"page": {"9"}})
	assert.NotNil(t, res.Rows)
	assert.Empty(t, res.Rows)
	assert.Equal(t, 3, res.Total)
}

func TestRun_HugePageIsEmpty(t *testing.T) {
	for _, page := range []string{"92233720368547760", "9223372036854775807"} {
		res := Run(abcRows(), paged(2), url.Values{"page": {page}, "limit": {"100"}})
		assert.Empty(t, res.Rows, "page=%s", page)
		require.NotNil(t, res.Pagination)
		assert.Equal(t, 3, res.Pagination.Total)
		assert.Equal(t, 1, res.Pagination.Pages)
		assert.False(t, res.Pagination.HasNext)
		assert.True(t, res.Pagination.HasPrev)
	}
}

func TestRun_RepeatedFilterANDsValues(t *testing.T) {
	rows := []model.Record{
		{"id": float64(1), "name": "alpha"},
		{"id": float64(2), "name": "beta"},
		{"id": float64(3), "name": "alphabet"},
	}
	res := Run(rows, paged(10), url.Values{"name": {"alp", "bet"}})
	assert.Equal(t, []interface{}{float64(3)}, ids(res.Rows))
	assert.Equal(t, 1, res.Total)

	res = Run(rows, paged(10), url.Values{"name": {"a", "zzz"}})
	assert.Empty(t, res.Rows)
}

func TestRun_PaginationOff(t *testing.T) {
	res := Run(abcRows(), model.ResponseConfig{Pagination: false, PageSize: 1}, url.Values{"page": {"2"}})
	assert.Nil(t, res.Pagination)
	assert.Len(t, res.Rows, 3)
}

func TestRun_Projection(t *testing.T) {
	rows := []model.Record{{"id": float64(1), "name": "a", "secret": "x"}}

	res := Run(rows, model.ResponseConfig{IncludeFields: []string{"id", "missing"}, ExcludeFields: []string{"id"}}, nil)
	assert.Equal(t, []model.Record{{"id": float64(1)}}, res.Rows)

	res = Run(rows, model.ResponseConfig{ExcludeFields: []string{"secret"}}, nil)
	assert.Equal(t, []model.Record{{"id": float64(1), "name": "a"}}, res.Rows)

	res = Run(rows, model.ResponseConfig{}, nil)
	assert.Equal(t, rows, res.Rows)
}

func TestRun_DoesNotMutateInput(t *testing.T) {
	rows := []model.Record{
		{"id": float64(2), "secret": "x"},
		{"id": float64(1), "secret": "y"},
	}
	Run(rows, model.ResponseConfig{ExcludeFields: []string{"secret"}}, url.Values{"sort": {"id"}})

	assert.Equal(t, float64(2), rows[0]["id"])
	assert.Equal(t, "x", rows[0]["secret"])
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "3", Stringify(float64(3)))
	assert.Equal(t, "2.5", Stringify(2.5))
	assert.Equal(t, "false", Stringify(false))
	assert.Equal(t, "null", Stringify(nil))
	assert.Equal(t, `{"a":1}`, Stringify(map[string]interface{}{"a": float64(1)}))
	assert.Equal(t, `["x"]`, Stringify([]interface{}{"x"}))
}
