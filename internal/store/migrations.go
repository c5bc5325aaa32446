package store

import (
	"fmt"
	"strings"
)

// migrate applies the ordered DDL below. Statements use the lowest common
// denominator across sqlite, postgres, and mysql: VARCHAR key columns (mysql
// cannot index bare TEXT), timestamps written from Go rather than column
// defaults, and no dialect-specific types.
func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS api_keys (
			id VARCHAR(36) PRIMARY KEY,
			owner_id VARCHAR(64) NOT NULL,
			key_hash VARCHAR(64) UNIQUE NOT NULL,
			key_prefix VARCHAR(16) NOT NULL,
			name VARCHAR(255) NOT NULL DEFAULT '',
			plan VARCHAR(32) NOT NULL,
			daily_quota INTEGER NOT NULL,
			is_active BOOLEAN NOT NULL,
			created_at TIMESTAMP NOT NULL,
			last_used_at TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS usage_events (
			id VARCHAR(36) PRIMARY KEY,
			api_key_id VARCHAR(36) NOT NULL,
			endpoint VARCHAR(128) NOT NULL DEFAULT '',
			tokens_in INTEGER NOT NULL DEFAULT 0,
			tokens_out INTEGER NOT NULL DEFAULT 0,
			latency_ms BIGINT NOT NULL DEFAULT 0,
			status_code INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS quota_counters (
			api_key_id VARCHAR(36) NOT NULL,
			day VARCHAR(10) NOT NULL,
			calls INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (api_key_id, day)
		)`,

		`CREATE TABLE IF NOT EXISTS admins (
			id VARCHAR(36) PRIMARY KEY,
			email VARCHAR(255) UNIQUE NOT NULL,
			password_hash VARCHAR(64) NOT NULL,
			name VARCHAR(255) NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL,
			last_login_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS settings (
			setting_key VARCHAR(64) PRIMARY KEY,
			setting_value VARCHAR(255) NOT NULL DEFAULT ''
		)`,

		`CREATE INDEX idx_api_keys_owner ON api_keys(owner_id)`,
		`CREATE INDEX idx_usage_events_key_time ON usage_events(api_key_id, created_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			// mysql has no CREATE INDEX IF NOT EXISTS; treat re-creating an
			// existing index as a no-op so migrations stay idempotent.
			msg := strings.ToLower(err.Error())
			if strings.Contains(msg, "already exists") || strings.Contains(msg, "duplicate key name") {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}
