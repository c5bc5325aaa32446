package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/keymeterhq/keymeter/internal/model"
)

// InsertUsageEvent appends one usage event. Events are immutable once
// written; there is no update or delete path.
func (s *Store) InsertUsageEvent(ctx context.Context, ev *model.UsageEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	} else {
		ev.CreatedAt = ev.CreatedAt.UTC()
	}

	const q = `INSERT INTO usage_events
		(id, api_key_id, endpoint, tokens_in, tokens_out, latency_ms, status_code, created_at)
		VALUES
		(:id, :api_key_id, :endpoint, :tokens_in, :tokens_out, :latency_ms, :status_code, :created_at)`

	if _, err := s.db.NamedExecContext(ctx, q, ev); err != nil {
		return fmt.Errorf("insert usage event: %w", err)
	}
	return nil
}

// CountUsageSince counts a key's usage events created at or after the given
// instant. The count is read fresh on every call; there is no caching.
func (s *Store) CountUsageSince(ctx context.Context, keyID string, since time.Time) (int, error) {
	var n int
	q := s.db.Rebind("SELECT COUNT(*) FROM usage_events WHERE api_key_id = ? AND created_at >= ?")
	if err := s.db.GetContext(ctx, &n, q, keyID, since.UTC()); err != nil {
		return 0, fmt.Errorf("count usage events: %w", err)
	}
	return n, nil
}

// ListUsageEvents returns up to limit of a key's most recent events created
// at or after the given instant, newest first.
func (s *Store) ListUsageEvents(ctx context.Context, keyID string, since time.Time, limit int) ([]model.UsageEvent, error) {
	var events []model.UsageEvent
	q := s.db.Rebind(`SELECT * FROM usage_events
		WHERE api_key_id = ? AND created_at >= ?
		ORDER BY created_at DESC
		LIMIT ?`)
	if err := s.db.SelectContext(ctx, &events, q, keyID, since.UTC(), limit); err != nil {
		return nil, fmt.Errorf("list usage events: %w", err)
	}
	return events, nil
}

// IncrementQuotaCounter atomically bumps the fixed-window admission counter
// for (keyID, day) and returns the post-increment value. The upsert makes
// concurrent check-then-act races impossible: every caller observes a
// distinct counter value.
func (s *Store) IncrementQuotaCounter(ctx context.Context, keyID, day string) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin quota tx: %w", err)
	}
	defer tx.Rollback()

	var upsert string
	switch s.driver {
	case "mysql":
		upsert = `INSERT INTO quota_counters (api_key_id, day, calls) VALUES (?, ?, 1)
			ON DUPLICATE KEY UPDATE calls = calls + 1`
	default: // sqlite and postgres share ON CONFLICT syntax
		upsert = `INSERT INTO quota_counters (api_key_id, day, calls) VALUES (?, ?, 1)
			ON CONFLICT (api_key_id, day) DO UPDATE SET calls = quota_counters.calls + 1`
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(upsert), keyID, day); err != nil {
		return 0, fmt.Errorf("increment quota counter: %w", err)
	}

	var calls int
	q := tx.Rebind("SELECT calls FROM quota_counters WHERE api_key_id = ? AND day = ?")
	if err := tx.GetContext(ctx, &calls, q, keyID, day); err != nil {
		return 0, fmt.Errorf("read quota counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit quota tx: %w", err)
	}
	return calls, nil
}

// GetQuotaCounter reads the current counter for (keyID, day) without
// consuming quota. Returns 0 for a day with no admitted calls.
func (s *Store) GetQuotaCounter(ctx context.Context, keyID, day string) (int, error) {
	var calls int
	q := s.db.Rebind("SELECT COALESCE(SUM(calls), 0) FROM quota_counters WHERE api_key_id = ? AND day = ?")
	if err := s.db.GetContext(ctx, &calls, q, keyID, day); err != nil {
		return 0, fmt.Errorf("get quota counter: %w", err)
	}
	return calls, nil
}
