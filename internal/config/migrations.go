package config

import (
	"fmt"
	"strings"
)

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL DEFAULT '',
			email TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL DEFAULT '',
			external_subject TEXT NOT NULL DEFAULT '',
			provider TEXT NOT NULL DEFAULT 'local',
			role TEXT NOT NULL DEFAULT 'user',
			avatar_url TEXT NOT NULL DEFAULT '',
			is_active INTEGER NOT NULL DEFAULT 1,
			last_login_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS datasets (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			records_json TEXT NOT NULL DEFAULT '[]',
			schema_json TEXT NOT NULL DEFAULT '{}',
			record_count INTEGER NOT NULL DEFAULT 0,
			source TEXT NOT NULL DEFAULT 'manual',
			schema_lock TEXT NOT NULL DEFAULT 'none',
			is_active INTEGER NOT NULL DEFAULT 1,
			created_by INTEGER REFERENCES users(id) ON DELETE SET NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS endpoints (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			method TEXT NOT NULL,
			path TEXT NOT NULL,
			dataset_id INTEGER NOT NULL REFERENCES datasets(id),
			response_json TEXT NOT NULL DEFAULT '{}',
			rate_limit INTEGER NOT NULL DEFAULT 0,
			is_active INTEGER NOT NULL DEFAULT 1,
			request_count INTEGER NOT NULL DEFAULT 0,
			last_accessed DATETIME,
			created_by INTEGER REFERENCES users(id) ON DELETE SET NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(path, method)
		)`,

		`CREATE TABLE IF NOT EXISTS api_keys (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			key_hash TEXT UNIQUE NOT NULL,
			key_prefix TEXT NOT NULL,
			secret TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'active',
			scope TEXT NOT NULL DEFAULT 'all',
			user_id INTEGER REFERENCES users(id) ON DELETE SET NULL,
			rate_limit INTEGER NOT NULL DEFAULT 0,
			usage_count INTEGER NOT NULL DEFAULT 0,
			last_used DATETIME,
			expires_at DATETIME,
			created_by INTEGER REFERENCES users(id) ON DELETE SET NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS api_key_endpoints (
			key_id INTEGER NOT NULL REFERENCES api_keys(id) ON DELETE CASCADE,
			endpoint_id INTEGER NOT NULL REFERENCES endpoints(id) ON DELETE CASCADE,
			PRIMARY KEY (key_id, endpoint_id)
		)`,

		`CREATE TABLE IF NOT EXISTS request_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			api_key_id INTEGER,
			endpoint_id INTEGER,
			user_id INTEGER,
			method TEXT NOT NULL,
			path TEXT NOT NULL,
			query_json TEXT NOT NULL DEFAULT '{}',
			status_code INTEGER NOT NULL,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			ip TEXT NOT NULL DEFAULT '',
			user_agent TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_api_keys_hash ON api_keys(key_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_api_key_endpoints_endpoint ON api_key_endpoints(endpoint_id)`,
		`CREATE INDEX IF NOT EXISTS idx_endpoints_dataset ON endpoints(dataset_id)`,
		`CREATE INDEX IF NOT EXISTS idx_request_logs_created ON request_logs(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_request_logs_key ON request_logs(api_key_id)`,

		// Key-value settings; also holds the first_admin sentinel row.
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL DEFAULT ''
		)`,

		// v2: SQL sources that datasets can be imported from.
		`CREATE TABLE IF NOT EXISTS sources (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL,
			driver TEXT NOT NULL,
			dsn TEXT NOT NULL,
			private_key_path TEXT NOT NULL DEFAULT '',
			is_active INTEGER NOT NULL DEFAULT 1,
			max_open_conns INTEGER NOT NULL DEFAULT 4,
			max_idle_conns INTEGER NOT NULL DEFAULT 1,
			conn_max_lifetime_ms INTEGER NOT NULL DEFAULT 300000,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`ALTER TABLE datasets ADD COLUMN source_id INTEGER REFERENCES sources(id) ON DELETE SET NULL`,
		`ALTER TABLE datasets ADD COLUMN source_query TEXT NOT NULL DEFAULT ''`,

		// v3: Archived uploads.
		`ALTER TABLE datasets ADD COLUMN archive_path TEXT NOT NULL DEFAULT ''`,
		`ALTER TABLE datasets ADD COLUMN archive_checksum TEXT NOT NULL DEFAULT ''`,

		// v4: Schema history, one row per accepted payload write.
		`CREATE TABLE IF NOT EXISTS dataset_schema_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			dataset_id INTEGER NOT NULL REFERENCES datasets(id) ON DELETE CASCADE,
			schema_json TEXT NOT NULL,
			record_count INTEGER NOT NULL DEFAULT 0,
			additive_count INTEGER NOT NULL DEFAULT 0,
			breaking_count INTEGER NOT NULL DEFAULT 0,
			captured_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_schema_snapshots_dataset ON dataset_schema_snapshots(dataset_id)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			// SQLite ALTER TABLE ADD COLUMN fails if column already exists;
			// treat "duplicate column" as a no-op for idempotent migrations.
			if strings.Contains(err.Error(), "duplicate column") {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}
