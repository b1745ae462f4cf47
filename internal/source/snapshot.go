package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/datatap/datatap/internal/model"
	"github.com/datatap/datatap/internal/query"
)

// DefaultMaxRows caps an import when the caller gives no limit.
const DefaultMaxRows = 10000

// TableStatement builds SELECT * for a validated, optionally
// schema-qualified table name.
func TableStatement(conn Connector, table string) (string, error) {
	parts, err := query.SplitTableName(table)
	if err != nil {
		return "", err
	}
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = conn.QuoteIdentifier(p)
	}
	return "SELECT * FROM " + strings.Join(quoted, "."), nil
}

// Snapshot runs a read-only statement and returns at most maxRows records.
// Column values are normalized for JSON: byte slices become strings and
// times become RFC 3339 strings.
func Snapshot(ctx context.Context, conn Connector, stmt string, maxRows int) ([]model.Record, error) {
	stmt, err := query.ValidateReadQuery(stmt)
	if err != nil {
		return nil, err
	}
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}

	rows, err := conn.DB().QueryxContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("run import query: %w", err)
	}
	defer rows.Close()

	records := make([]model.Record, 0)
	for rows.Next() {
		if len(records) >= maxRows {
			break
		}
		row := make(map[string]interface{})
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("scan import row: %w", err)
		}
		for k, v := range row {
			row[k] = normalizeValue(v)
		}
		records = append(records, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read import rows: %w", err)
	}
	return records, nil
}

func normalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	default:
		return val
	}
}
