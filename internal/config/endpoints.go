package config

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/datatap/datatap/internal/model"
)

// ---------------------------------------------------------------------------
// Endpoints
// ---------------------------------------------------------------------------

// endpointRow is the flat database representation of a model.Endpoint.
type endpointRow struct {
	ID           int64      `db:"id"`
	Name         string     `db:"name"`
	Description  string     `db:"description"`
	Method       string     `db:"method"`
	Path         string     `db:"path"`
	DatasetID    int64      `db:"dataset_id"`
	ResponseJSON string     `db:"response_json"`
	RateLimit    int        `db:"rate_limit"`
	IsActive     bool       `db:"is_active"`
	RequestCount int64      `db:"request_count"`
	LastAccessed *time.Time `db:"last_accessed"`
	CreatedBy    *int64     `db:"created_by"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

func endpointRowFromModel(ep *model.Endpoint) (endpointRow, error) {
	responseJSON, err := json.Marshal(ep.Response)
	if err != nil {
		return endpointRow{}, fmt.Errorf("marshal response config: %w", err)
	}
	return endpointRow{
		ID:           ep.ID,
		Name:         ep.Name,
		Description:  ep.Description,
		Method:       ep.Method,
		Path:         ep.Path,
		DatasetID:    ep.DatasetID,
		ResponseJSON: string(responseJSON),
		RateLimit:    ep.RateLimit,
		IsActive:     ep.IsActive,
		RequestCount: ep.RequestCount,
		LastAccessed: ep.LastAccessed,
		CreatedBy:    ep.CreatedBy,
		CreatedAt:    ep.CreatedAt,
		UpdatedAt:    ep.UpdatedAt,
	}, nil
}

func (r endpointRow) toModel() (model.Endpoint, error) {
	ep := model.Endpoint{
		ID:           r.ID,
		Name:         r.Name,
		Description:  r.Description,
		Method:       r.Method,
		Path:         r.Path,
		DatasetID:    r.DatasetID,
		Response:     model.DefaultResponseConfig(),
		RateLimit:    r.RateLimit,
		IsActive:     r.IsActive,
		RequestCount: r.RequestCount,
		LastAccessed: r.LastAccessed,
		CreatedBy:    r.CreatedBy,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.ResponseJSON != "" {
		if err := json.Unmarshal([]byte(r.ResponseJSON), &ep.Response); err != nil {
			return ep, fmt.Errorf("unmarshal response config for endpoint %d: %w", r.ID, err)
		}
	}
	return ep, nil
}

// CreateEndpoint inserts an endpoint. It returns ErrNotFound when the dataset
// does not exist and ErrConflict when the (path, method) route is taken.
func (s *Store) CreateEndpoint(ctx context.Context, ep *model.Endpoint) error {
	var exists int
	if err := s.db.GetContext(ctx, &exists, "SELECT COUNT(*) FROM datasets WHERE id = ?", ep.DatasetID); err != nil {
		return fmt.Errorf("check dataset: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}

	now := time.Now().UTC()
	ep.CreatedAt = now
	ep.UpdatedAt = now

	row, err := endpointRowFromModel(ep)
	if err != nil {
		return err
	}

	const q = `INSERT INTO endpoints
		(name, description, method, path, dataset_id, response_json, rate_limit, is_active,
		 created_by, created_at, updated_at)
		VALUES
		(:name, :description, :method, :path, :dataset_id, :response_json, :rate_limit, :is_active,
		 :created_by, :created_at, :updated_at)`

	result, err := s.db.NamedExecContext(ctx, q, row)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert endpoint: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get endpoint id: %w", err)
	}
	ep.ID = id
	return nil
}

// GetEndpoint returns an endpoint by ID, active or not.
func (s *Store) GetEndpoint(ctx context.Context, id int64) (*model.Endpoint, error) {
	return s.getEndpoint(ctx, "SELECT * FROM endpoints WHERE id = ?", id)
}

// GetActiveEndpointByRoute returns the active endpoint registered under an
// exact (method, path) pair. Absent and inactive endpoints both yield
// ErrNotFound.
func (s *Store) GetActiveEndpointByRoute(ctx context.Context, method, path string) (*model.Endpoint, error) {
	return s.getEndpoint(ctx,
		"SELECT * FROM endpoints WHERE method = ? AND path = ? AND is_active = 1", method, path)
}

func (s *Store) getEndpoint(ctx context.Context, q string, args ...interface{}) (*model.Endpoint, error) {
	var row endpointRow
	if err := s.db.GetContext(ctx, &row, q, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get endpoint: %w", err)
	}
	ep, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &ep, nil
}

// ListEndpoints returns endpoints ordered by path and method. With activeOnly
// set, inactive endpoints are skipped.
func (s *Store) ListEndpoints(ctx context.Context, activeOnly bool) ([]model.Endpoint, error) {
	q := "SELECT * FROM endpoints"
	if activeOnly {
		q += " WHERE is_active = 1"
	}
	q += " ORDER BY path, method"

	var rows []endpointRow
	if err := s.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}

	out := make([]model.Endpoint, 0, len(rows))
	for _, r := range rows {
		ep, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, nil
}

// UpdateEndpoint replaces an endpoint's definition in place.
func (s *Store) UpdateEndpoint(ctx context.Context, ep *model.Endpoint) error {
	var exists int
	if err := s.db.GetContext(ctx, &exists, "SELECT COUNT(*) FROM datasets WHERE id = ?", ep.DatasetID); err != nil {
		return fmt.Errorf("check dataset: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}

	ep.UpdatedAt = time.Now().UTC()
	row, err := endpointRowFromModel(ep)
	if err != nil {
		return err
	}

	const q = `UPDATE endpoints SET
		name = :name, description = :description, method = :method, path = :path,
		dataset_id = :dataset_id, response_json = :response_json, rate_limit = :rate_limit,
		is_active = :is_active, updated_at = :updated_at
		WHERE id = :id`

	result, err := s.db.NamedExecContext(ctx, q, row)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("update endpoint: %w", err)
	}
	return rowsAffected(result, "update endpoint")
}

// SetEndpointActive enables or disables an endpoint.
func (s *Store) SetEndpointActive(ctx context.Context, id int64, active bool) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE endpoints SET is_active = ?, updated_at = ? WHERE id = ?", active, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set endpoint active: %w", err)
	}
	return rowsAffected(result, "set endpoint active")
}

// DeleteEndpoint removes an endpoint and strips it from every key's
// allow-list in the same transaction.
func (s *Store) DeleteEndpoint(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM api_key_endpoints WHERE endpoint_id = ?", id); err != nil {
		return fmt.Errorf("remove endpoint from keys: %w", err)
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM endpoints WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete endpoint: %w", err)
	}
	if err := rowsAffected(result, "delete endpoint"); err != nil {
		return err
	}
	return tx.Commit()
}

// RecordEndpointHit increments an endpoint's request counter and stamps
// last_accessed. The increment happens in SQL so concurrent hits are not lost.
func (s *Store) RecordEndpointHit(ctx context.Context, id int64, at time.Time) error {
	const q = `UPDATE endpoints SET request_count = request_count + 1, last_accessed = ? WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, q, at.UTC(), id); err != nil {
		return fmt.Errorf("record endpoint hit: %w", err)
	}
	return nil
}
