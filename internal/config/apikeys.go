package config

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/datatap/datatap/internal/model"
)

// ---------------------------------------------------------------------------
// API Key management
// ---------------------------------------------------------------------------

// CreateAPIKey inserts a new API key record and its endpoint allow-list. The
// key_hash must already be set (use HashAPIKey). The ID and timestamps are
// populated after insert.
func (s *Store) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	now := time.Now().UTC()
	key.CreatedAt = now
	key.UpdatedAt = now
	if key.Status == "" {
		key.Status = model.KeyStatusActive
	}
	if key.Scope == "" {
		key.Scope = model.ScopeAll
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	const q = `INSERT INTO api_keys
		(name, key_hash, key_prefix, secret, status, scope, user_id, rate_limit, expires_at,
		 created_by, created_at, updated_at)
		VALUES
		(:name, :key_hash, :key_prefix, :secret, :status, :scope, :user_id, :rate_limit, :expires_at,
		 :created_by, :created_at, :updated_at)`

	result, err := tx.NamedExecContext(ctx, q, key)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("insert api key: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get api key id: %w", err)
	}
	if err := setKeyEndpoints(ctx, tx, id, key.EndpointIDs); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit api key: %w", err)
	}
	key.ID = id
	return nil
}

// setKeyEndpoints replaces the allow-list of a key.
func setKeyEndpoints(ctx context.Context, tx *sqlx.Tx, keyID int64, endpointIDs []int64) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM api_key_endpoints WHERE key_id = ?", keyID); err != nil {
		return fmt.Errorf("clear key endpoints: %w", err)
	}
	for _, epID := range endpointIDs {
		_, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO api_key_endpoints (key_id, endpoint_id) VALUES (?, ?)", keyID, epID)
		if err != nil {
			if isForeignKeyViolation(err) {
				return ErrNotFound
			}
			return fmt.Errorf("insert key endpoint: %w", err)
		}
	}
	return nil
}

// loadKeyEndpoints fills EndpointIDs for each key with one query.
func (s *Store) loadKeyEndpoints(ctx context.Context, keys []model.APIKey) error {
	if len(keys) == 0 {
		return nil
	}
	ids := make([]int64, len(keys))
	index := make(map[int64]int, len(keys))
	for i := range keys {
		ids[i] = keys[i].ID
		index[keys[i].ID] = i
		keys[i].EndpointIDs = []int64{}
	}

	q, args, err := sqlx.In(
		"SELECT key_id, endpoint_id FROM api_key_endpoints WHERE key_id IN (?) ORDER BY endpoint_id", ids)
	if err != nil {
		return fmt.Errorf("build key endpoints query: %w", err)
	}

	var links []struct {
		KeyID      int64 `db:"key_id"`
		EndpointID int64 `db:"endpoint_id"`
	}
	if err := s.db.SelectContext(ctx, &links, s.db.Rebind(q), args...); err != nil {
		return fmt.Errorf("load key endpoints: %w", err)
	}
	for _, l := range links {
		i := index[l.KeyID]
		keys[i].EndpointIDs = append(keys[i].EndpointIDs, l.EndpointID)
	}
	return nil
}

// GetAPIKey returns an API key by ID with its allow-list loaded.
func (s *Store) GetAPIKey(ctx context.Context, id int64) (*model.APIKey, error) {
	return s.getAPIKey(ctx, "SELECT * FROM api_keys WHERE id = ?", id)
}

// GetAPIKeyByHash looks up an API key by its SHA-256 hash.
func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (*model.APIKey, error) {
	return s.getAPIKey(ctx, "SELECT * FROM api_keys WHERE key_hash = ?", hash)
}

func (s *Store) getAPIKey(ctx context.Context, q string, args ...interface{}) (*model.APIKey, error) {
	var key model.APIKey
	if err := s.db.GetContext(ctx, &key, q, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	keys := []model.APIKey{key}
	if err := s.loadKeyEndpoints(ctx, keys); err != nil {
		return nil, err
	}
	return &keys[0], nil
}

// ListAPIKeys returns API keys, newest first. When visibleTo is set only
// keys owned by that user or shared (no owner) are returned.
func (s *Store) ListAPIKeys(ctx context.Context, visibleTo *int64) ([]model.APIKey, error) {
	var keys []model.APIKey
	var err error
	if visibleTo == nil {
		err = s.db.SelectContext(ctx, &keys, "SELECT * FROM api_keys ORDER BY created_at DESC, id DESC")
	} else {
		err = s.db.SelectContext(ctx, &keys,
			"SELECT * FROM api_keys WHERE user_id = ? OR user_id IS NULL ORDER BY created_at DESC, id DESC", *visibleTo)
	}
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	if err := s.loadKeyEndpoints(ctx, keys); err != nil {
		return nil, err
	}
	return keys, nil
}

// UpdateAPIKey replaces a key's name, scope, allow-list, owner, rate limit and
// expiry. Credentials, status and usage are not touched.
func (s *Store) UpdateAPIKey(ctx context.Context, key *model.APIKey) error {
	key.UpdatedAt = time.Now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	const q = `UPDATE api_keys SET
		name = :name, scope = :scope, user_id = :user_id, rate_limit = :rate_limit,
		expires_at = :expires_at, updated_at = :updated_at
		WHERE id = :id`
	result, err := tx.NamedExecContext(ctx, q, key)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("update api key: %w", err)
	}
	if err := rowsAffected(result, "update api key"); err != nil {
		return err
	}
	if err := setKeyEndpoints(ctx, tx, key.ID, key.EndpointIDs); err != nil {
		return err
	}
	return tx.Commit()
}

// SetAPIKeyStatus sets a key's lifecycle status.
func (s *Store) SetAPIKeyStatus(ctx context.Context, id int64, status string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE api_keys SET status = ?, updated_at = ? WHERE id = ?", status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set api key status: %w", err)
	}
	return rowsAffected(result, "set api key status")
}

// RotateAPIKeySecret replaces a key's credential material. The usage counter
// is reset and the key is forced back to active; the old secret stops
// resolving as soon as this commits.
func (s *Store) RotateAPIKeySecret(ctx context.Context, id int64, hash, prefix, secret string) error {
	const q = `UPDATE api_keys SET key_hash = ?, key_prefix = ?, secret = ?, usage_count = 0,
		status = 'active', updated_at = ? WHERE id = ?`
	result, err := s.db.ExecContext(ctx, q, hash, prefix, secret, time.Now().UTC(), id)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("rotate api key: %w", err)
	}
	return rowsAffected(result, "rotate api key")
}

// DeleteAPIKey permanently removes a key. Its allow-list rows cascade.
func (s *Store) DeleteAPIKey(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM api_keys WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	return rowsAffected(result, "delete api key")
}

// RecordAPIKeyUsage increments a key's usage counter and stamps last_used.
func (s *Store) RecordAPIKeyUsage(ctx context.Context, id int64, at time.Time) error {
	const q = `UPDATE api_keys SET usage_count = usage_count + 1, last_used = ? WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, q, at.UTC(), id); err != nil {
		return fmt.Errorf("record api key usage: %w", err)
	}
	return nil
}

// ExpireAPIKeys marks every active key whose expiry has passed as expired
// and returns how many were changed.
func (s *Store) ExpireAPIKeys(ctx context.Context, now time.Time) (int64, error) {
	const q = `UPDATE api_keys SET status = 'expired', updated_at = ?
		WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at < ?`
	result, err := s.db.ExecContext(ctx, q, now.UTC(), now.UTC())
	if err != nil {
		return 0, fmt.Errorf("expire api keys: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire api keys rows affected: %w", err)
	}
	return n, nil
}
