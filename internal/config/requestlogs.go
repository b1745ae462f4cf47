package config

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	sqrl "github.com/Masterminds/squirrel"

	"github.com/datatap/datatap/internal/model"
)

// ---------------------------------------------------------------------------
// Request logs
// ---------------------------------------------------------------------------

const tableRequestLogs = "request_logs"

// requestLogRow is the flat database representation of a model.RequestLog.
type requestLogRow struct {
	ID         int64     `db:"id"`
	APIKeyID   *int64    `db:"api_key_id"`
	EndpointID *int64    `db:"endpoint_id"`
	UserID     *int64    `db:"user_id"`
	Method     string    `db:"method"`
	Path       string    `db:"path"`
	QueryJSON  string    `db:"query_json"`
	StatusCode int       `db:"status_code"`
	LatencyMs  int64     `db:"latency_ms"`
	IP         string    `db:"ip"`
	UserAgent  string    `db:"user_agent"`
	Error      string    `db:"error"`
	CreatedAt  time.Time `db:"created_at"`
}

func (r requestLogRow) toModel() model.RequestLog {
	l := model.RequestLog{
		ID:         r.ID,
		APIKeyID:   r.APIKeyID,
		EndpointID: r.EndpointID,
		UserID:     r.UserID,
		Method:     r.Method,
		Path:       r.Path,
		StatusCode: r.StatusCode,
		LatencyMs:  r.LatencyMs,
		IP:         r.IP,
		UserAgent:  r.UserAgent,
		Error:      r.Error,
		CreatedAt:  r.CreatedAt,
	}
	// A malformed query column only loses the query echo, not the entry.
	var q url.Values
	if err := json.Unmarshal([]byte(r.QueryJSON), &q); err == nil && len(q) > 0 {
		l.Query = q
	}
	return l
}

// InsertRequestLog appends one request log entry.
func (s *Store) InsertRequestLog(ctx context.Context, l *model.RequestLog) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	queryJSON, err := marshalJSON(l.Query, "{}")
	if err != nil {
		return fmt.Errorf("marshal query: %w", err)
	}

	row := requestLogRow{
		APIKeyID:   l.APIKeyID,
		EndpointID: l.EndpointID,
		UserID:     l.UserID,
		Method:     l.Method,
		Path:       l.Path,
		QueryJSON:  queryJSON,
		StatusCode: l.StatusCode,
		LatencyMs:  l.LatencyMs,
		IP:         l.IP,
		UserAgent:  l.UserAgent,
		Error:      l.Error,
		CreatedAt:  l.CreatedAt.UTC(),
	}

	const q = `INSERT INTO request_logs
		(api_key_id, endpoint_id, user_id, method, path, query_json, status_code, latency_ms,
		 ip, user_agent, error, created_at)
		VALUES
		(:api_key_id, :endpoint_id, :user_id, :method, :path, :query_json, :status_code, :latency_ms,
		 :ip, :user_agent, :error, :created_at)`

	result, err := s.db.NamedExecContext(ctx, q, row)
	if err != nil {
		return fmt.Errorf("insert request log: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get request log id: %w", err)
	}
	l.ID = id
	return nil
}

// requestLogConditions translates a filter into a WHERE clause.
func requestLogConditions(f model.RequestLogFilter) sqrl.And {
	cond := sqrl.And{}
	if f.APIKeyID > 0 {
		cond = append(cond, sqrl.Eq{"api_key_id": f.APIKeyID})
	}
	if f.EndpointID > 0 {
		cond = append(cond, sqrl.Eq{"endpoint_id": f.EndpointID})
	}
	if f.StatusCode > 0 {
		cond = append(cond, sqrl.Eq{"status_code": f.StatusCode})
	}
	if f.Method != "" {
		cond = append(cond, sqrl.Eq{"method": f.Method})
	}
	if f.Since != nil {
		cond = append(cond, sqrl.GtOrEq{"created_at": f.Since.UTC()})
	}
	if f.Until != nil {
		cond = append(cond, sqrl.Lt{"created_at": f.Until.UTC()})
	}
	return cond
}

// ListRequestLogs returns log entries matching the filter, newest first.
func (s *Store) ListRequestLogs(ctx context.Context, f model.RequestLogFilter) ([]model.RequestLog, error) {
	builder := sqrl.Select("*").From(tableRequestLogs).
		OrderBy("created_at DESC", "id DESC")
	if cond := requestLogConditions(f); len(cond) > 0 {
		builder = builder.Where(cond)
	}
	if f.Limit > 0 {
		builder = builder.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		builder = builder.Offset(uint64(f.Offset))
	}

	q, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build request log query: %w", err)
	}

	var rows []requestLogRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("list request logs: %w", err)
	}
	out := make([]model.RequestLog, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// CountRequestLogs returns the number of log entries matching the filter.
// Limit and Offset are ignored.
func (s *Store) CountRequestLogs(ctx context.Context, f model.RequestLogFilter) (int64, error) {
	builder := sqrl.Select("COUNT(*)").From(tableRequestLogs)
	if cond := requestLogConditions(f); len(cond) > 0 {
		builder = builder.Where(cond)
	}

	q, args, err := builder.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build request log count: %w", err)
	}

	var count int64
	if err := s.db.GetContext(ctx, &count, q, args...); err != nil {
		return 0, fmt.Errorf("count request logs: %w", err)
	}
	return count, nil
}

// ClearRequestLogs deletes every log entry and returns how many were removed.
func (s *Store) ClearRequestLogs(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM request_logs")
	if err != nil {
		return 0, fmt.Errorf("clear request logs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear request logs rows affected: %w", err)
	}
	return n, nil
}
