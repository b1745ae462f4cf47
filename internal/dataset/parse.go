// Package dataset turns uploaded files into dataset records and infers the
// schema the rest of datatap reports for them.
package dataset

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/datatap/datatap/internal/model"
)

// ErrUnsupportedFormat is returned for uploads that are neither JSON nor CSV.
var ErrUnsupportedFormat = errors.New("unsupported file format: use .json or .csv")

var numericCell = regexp.MustCompile(`^-?\d+(\.\d+)?([eE][-+]?\d+)?$`)

// Parse decodes an uploaded file by extension and reports the dataset source
// that matches it.
func Parse(filename string, data []byte) ([]model.Record, string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json":
		records, err := ParseJSON(data)
		return records, model.SourceJSONUpload, err
	case ".csv":
		records, err := ParseCSV(bytes.NewReader(data))
		return records, model.SourceCSVUpload, err
	default:
		return nil, "", ErrUnsupportedFormat
	}
}

// ParseJSON accepts either an array of objects or a single object, which is
// treated as a one-record dataset.
func ParseJSON(data []byte) ([]model.Record, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("empty JSON document")
	}

	if trimmed[0] == '{' {
		var rec model.Record
		if err := json.Unmarshal(trimmed, &rec); err != nil {
			return nil, fmt.Errorf("invalid JSON object: %w", err)
		}
		return []model.Record{rec}, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, fmt.Errorf("JSON must be an array of objects or a single object: %w", err)
	}

	records := make([]model.Record, 0, len(items))
	for i, raw := range items {
		var rec model.Record
		if err := json.Unmarshal(raw, &rec); err != nil || rec == nil {
			return nil, fmt.Errorf("element %d is not an object", i)
		}
		records = append(records, rec)
	}
	return records, nil
}

// ParseCSV reads comma-separated values with a header row. Cells that look
// like numbers are stored as numbers; everything else stays a string.
func ParseCSV(r io.Reader) ([]model.Record, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, errors.New("CSV file is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read CSV header: %w", err)
	}
	for i, h := range header {
		h = strings.TrimSpace(h)
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		if h == "" {
			return nil, fmt.Errorf("CSV header column %d is empty", i+1)
		}
		header[i] = h
	}

	records := []model.Record{}
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read CSV: %w", err)
		}

		rec := make(model.Record, len(header))
		for i, col := range header {
			rec[col] = coerceCell(row[i])
		}
		records = append(records, rec)
	}
	return records, nil
}

func coerceCell(s string) interface{} {
	if numericCell.MatchString(s) {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return s
}
