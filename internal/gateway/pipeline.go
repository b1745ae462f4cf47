package gateway

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/datatap/datatap/internal/model"
)

// Reserved query parameters. Every other parameter is a field filter.
const (
	ParamPage  = "page"
	ParamLimit = "limit"
	ParamSort  = "sort"
	ParamOrder = "order"
)

// IsReservedParam reports whether name controls paging or ordering rather
// than filtering.
func IsReservedParam(name string) bool {
	switch name {
	case ParamPage, ParamLimit, ParamSort, ParamOrder:
		return true
	}
	return false
}

// PipelineResult is the shaped output of the row pipeline. Pagination is nil
// when the endpoint has pagination switched off.
type PipelineResult struct {
	Rows       []model.Record
	Total      int
	Pagination *model.Pagination
}

// Run filters, sorts, counts, paginates and projects rows, in that order.
// Input rows and their maps are never modified.
func Run(rows []model.Record, cfg model.ResponseConfig, query url.Values) PipelineResult {
	out := filterRows(rows, query)
	sortRows(out, query.Get(ParamSort), strings.EqualFold(query.Get(ParamOrder), "desc"))

	res := PipelineResult{Total: len(out)}
	if cfg.Pagination {
		page := positiveInt(query.Get(ParamPage), 1)
		limit := positiveInt(query.Get(ParamLimit), cfg.EffectivePageSize())
		if limit > model.MaxPageSize {
			limit = model.MaxPageSize
		}

		// Pages past the end collapse to offset len(out) so huge page
		// numbers cannot overflow the multiplication.
		offset := len(out)
		if page-1 <= len(out)/limit {
			offset = (page - 1) * limit
		}
		end := offset + limit
		switch {
		case offset >= len(out):
			out = out[:0]
		case end < len(out):
			out = out[offset:end]
		default:
			out = out[offset:]
		}

		res.Pagination = &model.Pagination{
			Page:    page,
			Limit:   limit,
			Total:   res.Total,
			Pages:   int(math.Ceil(float64(res.Total) / float64(limit))),
			HasNext: offset+limit < res.Total,
			HasPrev: page > 1,
		}
	}

	res.Rows = project(out, cfg)
	return res
}

// positiveInt parses s, returning def when s is empty, malformed or < 1.
func positiveInt(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 {
		return def
	}
	return n
}

// filterRows keeps rows where every non-reserved parameter names a present
// field whose string form contains the value, case-insensitively. A repeated
// parameter (?name=a&name=b) ANDs its values. The returned slice is always a
// fresh copy.
func filterRows(rows []model.Record, query url.Values) []model.Record {
	type filter struct{ field, needle string }
	var filters []filter
	for field, values := range query {
		if IsReservedParam(field) {
			continue
		}
		for _, v := range values {
			filters = append(filters, filter{field, strings.ToLower(v)})
		}
	}

	out := make([]model.Record, 0, len(rows))
rowLoop:
	for _, row := range rows {
		for _, f := range filters {
			v, ok := row[f.field]
			if !ok || !strings.Contains(strings.ToLower(Stringify(v)), f.needle) {
				continue rowLoop
			}
		}
		out = append(out, row)
	}
	return out
}

// sortRows orders rows in place by field. Rows missing the field always sort
// after rows that have it, whichever direction is requested.
func sortRows(rows []model.Record, field string, desc bool) {
	if field == "" {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		a, aok := rows[i][field]
		b, bok := rows[j][field]
		if !aok || !bok {
			return aok && !bok
		}
		c := compareValues(a, b)
		if desc {
			return c > 0
		}
		return c < 0
	})
}

// compareValues compares numbers numerically and booleans false < true.
// Mixed or other types compare by their string form.
func compareValues(a, b interface{}) int {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ba == bb:
				return 0
			case !ba:
				return -1
			}
			return 1
		}
	}
	return strings.Compare(Stringify(a), Stringify(b))
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// Stringify renders a record value the way filters and string sorting see it.
// Whole numbers print without a decimal point; objects and arrays print as
// compact JSON.
func Stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}

// project applies the endpoint's field selection. A non-empty include list
// wins over the exclude list; fields named but absent are skipped silently.
func project(rows []model.Record, cfg model.ResponseConfig) []model.Record {
	out := make([]model.Record, len(rows))
	switch {
	case len(cfg.IncludeFields) > 0:
		for i, row := range rows {
			rec := make(model.Record, len(cfg.IncludeFields))
			for _, f := range cfg.IncludeFields {
				if v, ok := row[f]; ok {
					rec[f] = v
				}
			}
			out[i] = rec
		}
	case len(cfg.ExcludeFields) > 0:
		excluded := make(map[string]struct{}, len(cfg.ExcludeFields))
		for _, f := range cfg.ExcludeFields {
			excluded[f] = struct{}{}
		}
		for i, row := range rows {
			rec := make(model.Record, len(row))
			for k, v := range row {
				if _, skip := excluded[k]; !skip {
					rec[k] = v
				}
			}
			out[i] = rec
		}
	default:
		copy(out, rows)
	}
	return out
}
